package browser

import (
	"fmt"
	"io"
	"time"

	"github.com/playwright-community/playwright-go"
)

// chromiumArgs mirrors the flags the original service always launched
// Chrome with.
var chromiumArgs = []string{
	"--disable-blink-features=AutomationControlled",
	"--disable-dev-shm-usage",
	"--no-sandbox",
	"--disable-setuid-sandbox",
}

const (
	viewportWidth  = 1920
	viewportHeight = 1080
	userAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	contextLocale  = "en-US"
	contextTZ      = "America/New_York"
)

// Chromium launches Playwright-driven Chromium processes. Its Launch method
// is handed to the Supervisor as its LaunchFunc.
type Chromium struct {
	headless bool
	pw       *playwright.Playwright
}

// NewChromium installs the Playwright driver if needed (a no-op when already
// present) and starts it.
func NewChromium(headless bool) (*Chromium, error) {
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

	return &Chromium{headless: headless, pw: pw}, nil
}

// Launch starts one Chromium process.
func (c *Chromium) Launch() (Instance, error) {
	b, err := c.pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(c.headless),
		Args:     chromiumArgs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	return &pwInstance{browser: b}, nil
}

// Stop stops the Playwright driver. Call after the supervisor has shut down.
func (c *Chromium) Stop() error {
	return c.pw.Stop()
}

type pwInstance struct {
	browser playwright.Browser
}

func (i *pwInstance) NewContext() (Context, error) {
	cctx, err := i.browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport:   &playwright.Size{Width: viewportWidth, Height: viewportHeight},
		UserAgent:  playwright.String(userAgent),
		Locale:     playwright.String(contextLocale),
		TimezoneId: playwright.String(contextTZ),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create context: %w", err)
	}
	return &pwContext{ctx: cctx}, nil
}

func (i *pwInstance) Connected() bool {
	return i.browser.IsConnected()
}

func (i *pwInstance) Close() error {
	return i.browser.Close()
}

type pwContext struct {
	ctx playwright.BrowserContext
}

func (c *pwContext) NewPage() (Page, error) {
	p, err := c.ctx.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	return &pwPage{page: p}, nil
}

func (c *pwContext) Close() error {
	return c.ctx.Close()
}

type pwPage struct {
	page playwright.Page
}

func (p *pwPage) Goto(url string, timeout time.Duration) error {
	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
	})
	return err
}

func (p *pwPage) Evaluate(script string, args ...interface{}) (interface{}, error) {
	return p.page.Evaluate(script, args...)
}

func (p *pwPage) Close() error {
	return p.page.Close()
}
