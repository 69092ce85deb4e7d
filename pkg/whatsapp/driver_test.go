package whatsapp

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePage is a test double for the driven browser page.
type fakePage struct {
	mu          sync.Mutex
	gotoURLs    []string
	gotoErr     error
	waitErr     map[string]error // per-selector WaitForSelector outcome
	fills       []string
	fillErr     error
	presses     []string
	pressErr    error
	evalResult  interface{}
	evalErr     error
	exposed     map[string]playwright.ExposedFunction
	image       []byte
	imageErr    error
	closed      bool
	evalScripts []string
}

func newFakePage() *fakePage {
	return &fakePage{
		waitErr:    map[string]error{},
		exposed:    map[string]playwright.ExposedFunction{},
		evalResult: true, // observer attach succeeds by default
	}
}

func (p *fakePage) Goto(url string, options ...playwright.PageGotoOptions) (playwright.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gotoURLs = append(p.gotoURLs, url)
	return nil, p.gotoErr
}

func (p *fakePage) WaitForSelector(selector string, options ...playwright.PageWaitForSelectorOptions) (playwright.ElementHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.waitErr[selector]; ok {
		return nil, err
	}
	return nil, nil
}

func (p *fakePage) Evaluate(expression string, arg ...interface{}) (interface{}, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evalScripts = append(p.evalScripts, expression)
	return p.evalResult, p.evalErr
}

func (p *fakePage) ExposeFunction(name string, binding playwright.ExposedFunction) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exposed[name] = binding
	return nil
}

func (p *fakePage) Fill(selector string, value string, options ...playwright.PageFillOptions) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fills = append(p.fills, value)
	return p.fillErr
}

func (p *fakePage) Press(selector string, key string, options ...playwright.PagePressOptions) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.presses = append(p.presses, key)
	return p.pressErr
}

func (p *fakePage) Screenshot(options ...playwright.PageScreenshotOptions) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.image, p.imageErr
}

func (p *fakePage) URL() string { return "about:blank" }

func (p *fakePage) Close(options ...playwright.PageCloseOptions) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// newTestDriver builds a driver whose launcher returns the given page, or an
// error when page is nil.
func newTestDriver(t *testing.T, page *fakePage) *Driver {
	t.Helper()

	d := New(Config{
		SessionDir:    t.TempDir(),
		DemoSeedDelay: 20 * time.Millisecond,
		DemoSendDelay: 5 * time.Millisecond,
	})
	d.typeSettle = time.Millisecond
	d.sendSettle = time.Millisecond
	d.launch = func(cfg Config) (*browserSession, error) {
		if page == nil {
			return nil, fmt.Errorf("chromium executable not found")
		}
		return &browserSession{page: page}, nil
	}
	t.Cleanup(d.Shutdown)
	return d
}

// liveDriver initializes a driver against a fake page with no QR challenge.
func liveDriver(t *testing.T, page *fakePage) *Driver {
	t.Helper()

	page.waitErr[qrSelector] = fmt.Errorf("timeout waiting for selector")
	d := newTestDriver(t, page)
	result := d.Initialize(context.Background())
	require.Equal(t, ModeLive, result.Mode)
	require.True(t, result.Ready)
	return d
}

func TestInitializeLive(t *testing.T) {
	page := newFakePage()
	d := liveDriver(t, page)

	assert.Equal(t, StateReady, d.State())
	assert.True(t, d.IsInitialized())
	assert.False(t, d.DemoMode())

	// Navigated to the entry URL and attached the observer bridge
	assert.Equal(t, []string{entryURL}, page.gotoURLs)
	assert.Contains(t, page.exposed, bridgeFunctionName)
}

func TestInitializeAuthTimeoutIsNonFatal(t *testing.T) {
	page := newFakePage()
	// QR challenge appears, authenticated view never does
	page.waitErr[readySelector] = fmt.Errorf("timeout waiting for selector")

	d := newTestDriver(t, page)
	result := d.Initialize(context.Background())

	assert.Equal(t, ModeLive, result.Mode)
	assert.True(t, result.Ready)
	assert.Equal(t, StateReady, d.State())
}

func TestInitializeFallsBackToDemoMode(t *testing.T) {
	d := newTestDriver(t, nil)
	result := d.Initialize(context.Background())

	assert.Equal(t, ModeDemo, result.Mode)
	assert.True(t, result.Ready)
	assert.True(t, d.IsInitialized())
	assert.True(t, d.DemoMode())
	assert.Equal(t, StateDemo, d.State())
}

func TestInitializeNavigationFailureFallsBackToDemoMode(t *testing.T) {
	page := newFakePage()
	page.gotoErr = fmt.Errorf("net::ERR_NAME_NOT_RESOLVED")

	d := newTestDriver(t, page)
	result := d.Initialize(context.Background())

	assert.Equal(t, ModeDemo, result.Mode)
	assert.True(t, result.Ready)
	assert.True(t, page.closed)
}

func TestDemoModeSeedsSingleIncomingMessage(t *testing.T) {
	d := newTestDriver(t, nil)

	received := make(chan IncomingMessage, 2)
	d.OnIncomingMessage(func(msg IncomingMessage) { received <- msg })

	d.Initialize(context.Background())

	select {
	case msg := <-received:
		assert.Equal(t, demoSeedSender, msg.From)
		assert.Contains(t, msg.Body, "simulated incoming message")
	case <-time.After(time.Second):
		t.Fatal("demo seed message never arrived")
	}

	// Exactly one: no further synthetic messages are scheduled
	select {
	case <-received:
		t.Fatal("unexpected second synthetic message")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestInitializeTwiceKeepsSession(t *testing.T) {
	page := newFakePage()
	d := liveDriver(t, page)

	result := d.Initialize(context.Background())
	assert.Equal(t, ModeLive, result.Mode)
	assert.True(t, result.Ready)
	// No second navigation happened
	assert.Equal(t, []string{entryURL}, page.gotoURLs)
}

func TestSendMessageDemoSimulatesSuccess(t *testing.T) {
	d := newTestDriver(t, nil)
	d.Initialize(context.Background())

	start := time.Now()
	err := d.SendMessage(context.Background(), "60123456789", "Hello")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
}

func TestSendMessageLive(t *testing.T) {
	page := newFakePage()
	d := liveDriver(t, page)

	err := d.SendMessage(context.Background(), "60123456789", "Hello there")
	require.NoError(t, err)

	require.Len(t, page.gotoURLs, 2)
	assert.Contains(t, page.gotoURLs[1], "phone=60123456789")
	assert.Contains(t, page.gotoURLs[1], "text=Hello+there")
	assert.Equal(t, []string{"Hello there"}, page.fills)
	assert.Equal(t, []string{"Enter"}, page.presses)
}

func TestSendMessageComposerTimeoutIsFatal(t *testing.T) {
	page := newFakePage()
	d := liveDriver(t, page)
	page.waitErr[composerSelector] = fmt.Errorf("timeout waiting for selector")

	err := d.SendMessage(context.Background(), "123", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "composer")
	assert.Empty(t, page.fills)
}

func TestSendMessageNotInitialized(t *testing.T) {
	d := newTestDriver(t, newFakePage())

	err := d.SendMessage(context.Background(), "123", "hi")
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestScreenshotDemoReturnsPlaceholder(t *testing.T) {
	d := newTestDriver(t, nil)
	d.Initialize(context.Background())

	img, err := d.Screenshot(context.Background())
	require.NoError(t, err)

	want, err := base64.StdEncoding.DecodeString(demoPlaceholderPNG)
	require.NoError(t, err)
	assert.Equal(t, want, img)
}

func TestScreenshotLive(t *testing.T) {
	page := newFakePage()
	page.image = []byte("png bytes")
	d := liveDriver(t, page)

	img, err := d.Screenshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("png bytes"), img)
}

func TestScreenshotLiveFailure(t *testing.T) {
	page := newFakePage()
	page.imageErr = fmt.Errorf("target closed")
	d := liveDriver(t, page)

	_, err := d.Screenshot(context.Background())
	assert.Error(t, err)
}

func TestListChatsLive(t *testing.T) {
	page := newFakePage()
	d := liveDriver(t, page)

	page.mu.Lock()
	page.evalResult = []interface{}{
		map[string]interface{}{"name": "Alice", "lastMessage": "see you"},
		map[string]interface{}{"name": "Bob", "lastMessage": "ok"},
	}
	page.mu.Unlock()

	chats, err := d.ListChats(context.Background())
	require.NoError(t, err)
	require.Len(t, chats, 2)
	assert.Equal(t, ChatSummary{Name: "Alice", LastMessage: "see you"}, chats[0])
}

func TestListChatsScrapeFailureDegradesToEmpty(t *testing.T) {
	page := newFakePage()
	d := liveDriver(t, page)

	page.mu.Lock()
	page.evalErr = fmt.Errorf("execution context destroyed")
	page.mu.Unlock()

	chats, err := d.ListChats(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, chats)
	assert.Empty(t, chats)
}

func TestListChatsDemoIsEmpty(t *testing.T) {
	d := newTestDriver(t, nil)
	d.Initialize(context.Background())

	chats, err := d.ListChats(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, chats)
	assert.Empty(t, chats)
}

func TestCheckConnected(t *testing.T) {
	page := newFakePage()
	d := liveDriver(t, page)

	assert.True(t, d.CheckConnected(context.Background()))

	page.mu.Lock()
	page.waitErr[connectedSelector] = fmt.Errorf("timeout waiting for selector")
	page.mu.Unlock()

	// Failure reads as false, never an error
	assert.False(t, d.CheckConnected(context.Background()))
}

func TestCheckConnectedDemo(t *testing.T) {
	d := newTestDriver(t, nil)
	d.Initialize(context.Background())
	assert.False(t, d.CheckConnected(context.Background()))
}

func TestShutdownIsIdempotent(t *testing.T) {
	page := newFakePage()
	d := liveDriver(t, page)

	d.Shutdown()
	d.Shutdown()

	assert.True(t, page.closed)
	assert.Equal(t, StateClosed, d.State())

	err := d.SendMessage(context.Background(), "123", "hi")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestShutdownStopsDemoSeed(t *testing.T) {
	d := newTestDriver(t, nil)

	received := make(chan IncomingMessage, 1)
	d.OnIncomingMessage(func(msg IncomingMessage) { received <- msg })

	d.Initialize(context.Background())
	d.Shutdown()

	select {
	case <-received:
		t.Fatal("seed message delivered after shutdown")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestOnIncomingMessageLastRegistrationWins(t *testing.T) {
	page := newFakePage()
	d := liveDriver(t, page)

	var first, second []IncomingMessage
	d.OnIncomingMessage(func(msg IncomingMessage) { first = append(first, msg) })
	d.OnIncomingMessage(func(msg IncomingMessage) { second = append(second, msg) })

	bridge := page.exposed[bridgeFunctionName]
	require.NotNil(t, bridge)
	bridge(map[string]interface{}{"from": "+60111", "body": "hello"})

	assert.Empty(t, first)
	require.Len(t, second, 1)
	assert.Equal(t, IncomingMessage{From: "+60111", Body: "hello"}, second[0])
}

func TestBridgeDropsMalformedPayloads(t *testing.T) {
	page := newFakePage()
	d := liveDriver(t, page)

	var got []IncomingMessage
	d.OnIncomingMessage(func(msg IncomingMessage) { got = append(got, msg) })

	bridge := page.exposed[bridgeFunctionName]
	require.NotNil(t, bridge)

	bridge()                                        // no args
	bridge("not a map")                             // wrong type
	bridge(map[string]interface{}{"from": "x"})     // missing body
	bridge(map[string]interface{}{"body": "valid"}) // missing from defaults

	require.Len(t, got, 1)
	assert.Equal(t, "Unknown", got[0].From)
	assert.Equal(t, "valid", got[0].Body)
}

func TestSendURLEncoding(t *testing.T) {
	page := newFakePage()
	d := liveDriver(t, page)

	err := d.SendMessage(context.Background(), "+601 234", "50% off & more?")
	require.NoError(t, err)

	url := page.gotoURLs[1]
	assert.True(t, strings.HasPrefix(url, "https://web.whatsapp.com/send?phone="))
	assert.NotContains(t, url, "50% off")
	assert.Contains(t, url, "app_absent=0")
}
