package whatsapp

import "time"

// State describes where the driver is in its lifecycle.
type State string

const (
	// StateUninitialized is the state before Initialize has been called.
	StateUninitialized State = "uninitialized"

	// StateInitializing means the browser is launching and navigating.
	StateInitializing State = "initializing"

	// StateAuthPending means the authentication challenge is on screen and the
	// driver is waiting for it to clear.
	StateAuthPending State = "auth_pending"

	// StateReady means the live session is usable.
	StateReady State = "ready"

	// StateDemo means the automation environment was unavailable and the
	// driver is simulating all session behavior.
	StateDemo State = "demo"

	// StateClosed is the terminal state after Shutdown.
	StateClosed State = "closed"
)

// Mode selects between a real driven browser session and a simulated one.
type Mode string

const (
	// ModeLive drives a real browser session.
	ModeLive Mode = "live"

	// ModeDemo simulates all session behavior.
	ModeDemo Mode = "demo"
)

// Config configures the session driver.
type Config struct {
	// SessionDir is the persistent browser profile directory. Reusing it
	// across runs lets WhatsApp Web skip the QR challenge.
	SessionDir string

	// Headless controls whether the browser runs without a visible window.
	Headless bool

	// DemoSeedDelay is how long a fresh demo session waits before
	// synthesizing its single seed message. Zero means the default.
	DemoSeedDelay time.Duration

	// DemoSendDelay is the artificial latency of a simulated send.
	// Zero means the default.
	DemoSendDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.SessionDir == "" {
		c.SessionDir = "./session_data"
	}
	if c.DemoSeedDelay == 0 {
		c.DemoSeedDelay = 8 * time.Second
	}
	if c.DemoSendDelay == 0 {
		c.DemoSendDelay = 1500 * time.Millisecond
	}
	return c
}

// InitResult is the handle returned by Initialize.
type InitResult struct {
	// Mode is the mode the session settled into.
	Mode Mode

	// Ready reports whether the session accepts commands. Always true:
	// initialization failures are absorbed into demo mode.
	Ready bool
}

// ChatSummary is an ephemeral name/preview pair describing a conversation.
// It is recomputed per request and never persisted.
type ChatSummary struct {
	Name        string `json:"name"`
	LastMessage string `json:"lastMessage"`
}

// IncomingMessage is a message observed arriving in the driven session.
type IncomingMessage struct {
	From string `json:"from"`
	Body string `json:"body"`
}

// WhatsApp Web entry points.
const (
	entryURL      = "https://web.whatsapp.com"
	sendURLFormat = "https://web.whatsapp.com/send?phone=%s&text=%s&app_absent=0"
)

// Page selectors. WhatsApp Web markup drifts; each selector lists the
// alternatives observed to work.
const (
	qrSelector        = `canvas[aria-label="Scan me!"]`
	readySelector     = `[data-testid="chat-list"], [role="region"]`
	connectedSelector = `[data-testid="chat-list"], #side`
	composerSelector  = `div[contenteditable="true"][data-tab="10"]`
)

// Operation timeouts, in milliseconds (the unit the browser protocol uses).
const (
	navigateTimeout  = 30000.0
	sendNavTimeout   = 15000.0
	qrProbeTimeout   = 15000.0
	authWaitTimeout  = 60000.0
	composerTimeout  = 10000.0
	connectedTimeout = 3000.0
)

// Settle delays between composer interactions during a live send.
const (
	typeSettleDelay = 1 * time.Second
	sendSettleDelay = 2 * time.Second
)

// maxChats caps the chat list returned by ListChats.
const maxChats = 10

// Demo mode fixtures.
const (
	demoSeedSender = "+1234567890"
	demoSeedBody   = "Demo: This is a simulated incoming message. In real mode, you would see actual WhatsApp messages here."

	// demoPlaceholderPNG is a 1x1 transparent PNG returned by Screenshot in
	// demo mode.
	demoPlaceholderPNG = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPhfDwAChwGA60e6kgAAAABJRU5ErkJggg=="
)

// browserUserAgent is sent instead of the automation default to avoid
// trivial bot detection.
const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
