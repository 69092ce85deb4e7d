// Package whatsapp drives a single WhatsApp Web session through an automated
// browser. When the automation environment is unavailable the driver falls
// back to a fully simulated demo session instead of failing, so the rest of
// the system always has a working session to talk to.
package whatsapp

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/wabridge/pkg/logging"
)

// Sentinel errors surfaced to callers.
var (
	// ErrNotInitialized means a command was issued before Initialize.
	ErrNotInitialized = fmt.Errorf("whatsapp bot not initialized")

	// ErrNoPage means the live session has no active page.
	ErrNoPage = fmt.Errorf("session has no active page")

	// ErrClosed means the driver has been shut down.
	ErrClosed = fmt.Errorf("session closed")
)

// Driver owns exactly one logical WhatsApp Web session, live or demo.
// All methods are safe for concurrent use, but live browser operations share
// one page; callers are expected to serialize commands (the relay does this
// through its dispatch queue).
type Driver struct {
	log    *logging.Logger
	cfg    Config
	launch launchFunc

	typeSettle time.Duration
	sendSettle time.Duration

	mu        sync.Mutex
	state     State
	mode      Mode
	session   *browserSession
	incoming  func(IncomingMessage)
	demoTimer *time.Timer
}

// New creates a driver. Initialize must be called before issuing commands.
func New(cfg Config) *Driver {
	log, _ := logging.NewLogger("whatsapp")
	return &Driver{
		log:        log,
		cfg:        cfg.withDefaults(),
		launch:     launchBrowser,
		state:      StateUninitialized,
		typeSettle: typeSettleDelay,
		sendSettle: sendSettleDelay,
	}
}

// Initialize launches the browser session and walks it to a usable state.
// It never returns an error for environment failures: if the browser cannot
// launch or navigate at all, the driver enters demo mode and reports ready.
func (d *Driver) Initialize(ctx context.Context) InitResult {
	d.mu.Lock()
	switch d.state {
	case StateUninitialized:
		d.state = StateInitializing
	case StateClosed:
		d.mu.Unlock()
		d.log.Warnf("initialize called on closed driver")
		return InitResult{Mode: ModeDemo, Ready: false}
	default:
		mode := d.mode
		d.mu.Unlock()
		d.log.Warnf("initialize called twice, keeping existing %s session", mode)
		return InitResult{Mode: mode, Ready: true}
	}
	d.mu.Unlock()

	d.log.Infof("initializing WhatsApp session (dir=%s headless=%v)", d.cfg.SessionDir, d.cfg.Headless)

	session, err := d.launch(d.cfg)
	if err != nil {
		d.log.Errorf("browser launch failed: %v", err)
		return d.enterDemoMode()
	}

	if _, err := session.page.Goto(entryURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
		Timeout:   playwright.Float(navigateTimeout),
	}); err != nil {
		d.log.Errorf("navigation to WhatsApp Web failed: %v", err)
		session.close()
		return d.enterDemoMode()
	}

	d.waitForAuth(session.page)

	d.mu.Lock()
	if d.state == StateClosed {
		d.mu.Unlock()
		session.close()
		return InitResult{Mode: ModeLive, Ready: false}
	}
	d.session = session
	d.state = StateReady
	d.mode = ModeLive
	d.mu.Unlock()

	if err := d.installObserver(session.page); err != nil {
		d.log.Warnf("could not attach incoming observer: %v", err)
	}

	d.log.Infof("WhatsApp session ready (live mode)")
	return InitResult{Mode: ModeLive, Ready: true}
}

// waitForAuth handles the QR challenge if one is on screen. An auth timeout
// is non-fatal: the driver proceeds optimistically.
func (d *Driver) waitForAuth(page sessionPage) {
	_, err := page.WaitForSelector(qrSelector, playwright.PageWaitForSelectorOptions{
		Timeout: playwright.Float(qrProbeTimeout),
	})
	if err != nil {
		d.log.Infof("no QR challenge detected, assuming already authenticated")
		return
	}

	d.setState(StateAuthPending)
	d.log.Infof("QR challenge detected, waiting up to %.0fs for scan", authWaitTimeout/1000)

	if _, err := page.WaitForSelector(readySelector, playwright.PageWaitForSelectorOptions{
		Timeout: playwright.Float(authWaitTimeout),
	}); err != nil {
		d.log.Warnf("auth wait timed out, continuing anyway: %v", err)
	} else {
		d.log.Infof("authentication completed")
	}
}

// enterDemoMode absorbs an initialization failure: the driver marks itself
// permanently initialized and arms a one-shot timer that synthesizes exactly
// one inbound message to seed visible activity.
func (d *Driver) enterDemoMode() InitResult {
	d.mu.Lock()
	if d.state == StateClosed {
		d.mu.Unlock()
		return InitResult{Mode: ModeDemo, Ready: false}
	}
	d.state = StateDemo
	d.mode = ModeDemo
	d.demoTimer = time.AfterFunc(d.cfg.DemoSeedDelay, d.deliverDemoSeed)
	d.mu.Unlock()

	d.log.Warnf("falling back to demo mode, WhatsApp features will be simulated")
	return InitResult{Mode: ModeDemo, Ready: true}
}

func (d *Driver) deliverDemoSeed() {
	d.mu.Lock()
	handler := d.incoming
	live := d.state == StateDemo
	d.mu.Unlock()

	if !live || handler == nil {
		return
	}
	handler(IncomingMessage{From: demoSeedSender, Body: demoSeedBody})
}

// SendMessage sends a message to the given phone number. Unlike the read
// operations, failures here propagate: callers must treat an error as
// "message not confirmed sent".
func (d *Driver) SendMessage(ctx context.Context, number, message string) error {
	mode, page, err := d.snapshot()
	if err != nil {
		return err
	}

	if mode == ModeDemo {
		d.log.Infof("[demo] would send to %s: %s", number, message)
		return sleepCtx(ctx, d.cfg.DemoSendDelay)
	}

	if page == nil {
		return ErrNoPage
	}

	d.log.Infof("sending message to %s", number)

	sendURL := fmt.Sprintf(sendURLFormat, url.QueryEscape(number), url.QueryEscape(message))
	if _, err := page.Goto(sendURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
		Timeout:   playwright.Float(sendNavTimeout),
	}); err != nil {
		return fmt.Errorf("failed to open conversation: %w", err)
	}

	if _, err := page.WaitForSelector(composerSelector, playwright.PageWaitForSelectorOptions{
		Timeout: playwright.Float(composerTimeout),
	}); err != nil {
		return fmt.Errorf("message composer did not appear: %w", err)
	}

	if err := page.Fill(composerSelector, message); err != nil {
		return fmt.Errorf("failed to type message: %w", err)
	}

	if err := sleepCtx(ctx, d.typeSettle); err != nil {
		return err
	}

	if err := page.Press(composerSelector, "Enter"); err != nil {
		return fmt.Errorf("failed to submit message: %w", err)
	}

	if err := sleepCtx(ctx, d.sendSettle); err != nil {
		return err
	}

	d.log.Infof("message to %s sent", number)
	return nil
}

// Screenshot captures the current page as a PNG. In demo mode it returns a
// fixed placeholder image.
func (d *Driver) Screenshot(ctx context.Context) ([]byte, error) {
	mode, page, err := d.snapshot()
	if err != nil {
		return nil, err
	}

	if mode == ModeDemo {
		return base64.StdEncoding.DecodeString(demoPlaceholderPNG)
	}

	if page == nil {
		return nil, ErrNoPage
	}

	img, err := page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(false),
		Type:     playwright.ScreenshotTypePng,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return img, nil
}

// ListChats returns up to 10 active chats scraped from the chat list.
// It is best-effort: scrape failures and demo mode yield an empty list,
// never an error, because the result feeds a live status dashboard.
func (d *Driver) ListChats(ctx context.Context) ([]ChatSummary, error) {
	mode, page, err := d.snapshot()
	if err != nil {
		return nil, err
	}

	if mode == ModeDemo || page == nil {
		return []ChatSummary{}, nil
	}

	result, err := page.Evaluate(chatListScript)
	if err != nil {
		d.log.Errorf("failed to scrape chat list: %v", err)
		return []ChatSummary{}, nil
	}

	return decodeChats(result), nil
}

// CheckConnected reports whether the live session shows the authenticated
// view. Any failure, including a timeout, reads as false; it never errors.
func (d *Driver) CheckConnected(ctx context.Context) bool {
	mode, page, err := d.snapshot()
	if err != nil || mode == ModeDemo || page == nil {
		return false
	}

	_, err = page.WaitForSelector(connectedSelector, playwright.PageWaitForSelectorOptions{
		Timeout: playwright.Float(connectedTimeout),
	})
	return err == nil
}

// OnIncomingMessage registers the handler invoked for each message observed
// arriving in the session. Only one handler exists; the last registration wins.
func (d *Driver) OnIncomingMessage(handler func(IncomingMessage)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.incoming = handler
}

// Shutdown closes the browser session and stops the demo timer. Idempotent.
func (d *Driver) Shutdown() {
	d.mu.Lock()
	if d.state == StateClosed {
		d.mu.Unlock()
		return
	}
	d.state = StateClosed
	session := d.session
	d.session = nil
	timer := d.demoTimer
	d.demoTimer = nil
	d.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	session.close()
	d.log.Infof("WhatsApp session closed")
}

// IsInitialized reports whether the session accepts commands.
// Demo sessions are always initialized.
func (d *Driver) IsInitialized() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state == StateReady || d.state == StateDemo
}

// DemoMode reports whether the session is simulated.
func (d *Driver) DemoMode() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mode == ModeDemo
}

// State returns the current lifecycle state.
func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// snapshot returns the mode and page for a command, or the reason the
// command cannot run.
func (d *Driver) snapshot() (Mode, sessionPage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.state {
	case StateClosed:
		return "", nil, ErrClosed
	case StateReady, StateDemo:
	default:
		return "", nil, ErrNotInitialized
	}

	var page sessionPage
	if d.session != nil {
		page = d.session.page
	}
	return d.mode, page, nil
}

func (d *Driver) setState(s State) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateClosed {
		d.state = s
	}
}

func sleepCtx(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
