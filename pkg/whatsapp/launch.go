package whatsapp

import (
	"fmt"
	"io"
	"os"

	"github.com/playwright-community/playwright-go"
)

// sessionPage is the slice of the browser page surface the driver uses.
// playwright.Page satisfies it; tests substitute a double.
type sessionPage interface {
	Goto(url string, options ...playwright.PageGotoOptions) (playwright.Response, error)
	WaitForSelector(selector string, options ...playwright.PageWaitForSelectorOptions) (playwright.ElementHandle, error)
	Evaluate(expression string, arg ...interface{}) (interface{}, error)
	ExposeFunction(name string, binding playwright.ExposedFunction) error
	Fill(selector string, value string, options ...playwright.PageFillOptions) error
	Press(selector string, key string, options ...playwright.PagePressOptions) error
	Screenshot(options ...playwright.PageScreenshotOptions) ([]byte, error)
	URL() string
	Close(options ...playwright.PageCloseOptions) error
}

// browserSession bundles the launched browser resources so they can be torn
// down together.
type browserSession struct {
	pw      *playwright.Playwright
	browser playwright.BrowserContext
	page    sessionPage
}

// close releases all session resources, continuing past individual failures.
func (s *browserSession) close() {
	if s == nil {
		return
	}
	if s.page != nil {
		_ = s.page.Close()
	}
	if s.browser != nil {
		_ = s.browser.Close()
	}
	if s.pw != nil {
		_ = s.pw.Stop()
	}
}

// launchFunc starts a browser session. It is a Driver field so tests can
// substitute a fake environment, including one that fails to launch.
type launchFunc func(cfg Config) (*browserSession, error)

// launchBrowser is the production launcher: it installs and starts Playwright,
// then opens a persistent Chromium context rooted at the session directory so
// repeated runs can reuse prior authentication.
func launchBrowser(cfg Config) (*browserSession, error) {
	if err := os.MkdirAll(cfg.SessionDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	// Discard driver output so it does not interleave with our own logs
	opts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}

	if err := playwright.Install(opts); err != nil {
		return nil, fmt.Errorf("failed to install playwright: %w", err)
	}

	pw, err := playwright.Run(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	browser, err := pw.Chromium.LaunchPersistentContext(cfg.SessionDir, playwright.BrowserTypeLaunchPersistentContextOptions{
		Headless:  playwright.Bool(cfg.Headless),
		Viewport:  &playwright.Size{Width: 1200, Height: 800},
		UserAgent: playwright.String(browserUserAgent),
		Args: []string{
			"--no-sandbox",
			"--disable-setuid-sandbox",
			"--disable-dev-shm-usage",
			"--disable-gpu",
		},
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	var page playwright.Page
	if pages := browser.Pages(); len(pages) > 0 {
		page = pages[0]
	} else {
		page, err = browser.NewPage()
		if err != nil {
			_ = browser.Close()
			_ = pw.Stop()
			return nil, fmt.Errorf("failed to create page: %w", err)
		}
	}

	return &browserSession{pw: pw, browser: browser, page: page}, nil
}
