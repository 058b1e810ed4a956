package scraper

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/phuslu/log"
	"github.com/playwright-community/playwright-go"
)

const (
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	defaultNavTimeout = 60 * time.Second
)

// Masks the usual automation fingerprints before any page script runs.
const stealthScript = `
Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3, 4, 5] });
Object.defineProperty(navigator, 'languages', { get: () => ['en-US', 'en'] });
window.chrome = { runtime: {} };
const originalQuery = window.navigator.permissions.query;
window.navigator.permissions.query = (parameters) => (
  parameters.name === 'notifications'
    ? Promise.resolve({ state: Notification.permission })
    : originalQuery(parameters)
);
`

type BrowserConfig struct {
	Headless   bool
	ProxyURL   string
	NavTimeout time.Duration
	UserAgent  string
}

// PlaywrightRenderer drives a single Chromium context shared by every page it opens.
type PlaywrightRenderer struct {
	cfg         BrowserConfig
	pw          *playwright.Playwright
	browser     playwright.Browser
	context     playwright.BrowserContext
	mu          sync.Mutex
	initialized bool
}

func NewPlaywrightRenderer(cfg BrowserConfig) *PlaywrightRenderer {
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = defaultNavTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	return &PlaywrightRenderer{cfg: cfg}
}

func (r *PlaywrightRenderer) Open(ctx context.Context, url string) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := r.ensureBrowser(); err != nil {
		return nil, err
	}

	page, err := r.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	log.Info().Str("url", url).Msg("Navigating")
	resp, err := page.Goto(url, playwright.PageGotoOptions{
		Timeout:   playwright.Float(float64(r.cfg.NavTimeout.Milliseconds())),
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	if err != nil {
		page.Close()
		return nil, fmt.Errorf("navigate %s: %w", url, err)
	}
	if resp != nil && resp.Status() >= 400 {
		page.Close()
		return nil, fmt.Errorf("navigate %s: http status %d", url, resp.Status())
	}

	humanDelay(2000, 4000)
	simulateHumanBehavior(page)
	handleConsent(page)

	return &browserPage{page: page}, nil
}

func (r *PlaywrightRenderer) ensureBrowser() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.initialized {
		return nil
	}

	var err error
	r.pw, err = playwright.Run()
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	launch := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(r.cfg.Headless),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	}
	if r.cfg.ProxyURL != "" {
		launch.Proxy = &playwright.Proxy{Server: r.cfg.ProxyURL}
	}

	r.browser, err = r.pw.Chromium.Launch(launch)
	if err != nil {
		r.pw.Stop()
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	r.context, err = r.browser.NewContext(playwright.BrowserNewContextOptions{
		UserAgent:  playwright.String(r.cfg.UserAgent),
		Viewport:   &playwright.Size{Width: 1920, Height: 1080},
		Locale:     playwright.String("en-US"),
		TimezoneId: playwright.String("America/Los_Angeles"),
	})
	if err != nil {
		r.browser.Close()
		r.pw.Stop()
		return fmt.Errorf("failed to create browser context: %w", err)
	}

	if err := r.context.AddInitScript(playwright.Script{Content: playwright.String(stealthScript)}); err != nil {
		log.Warn().Err(err).Msg("Could not install stealth script")
	}

	r.initialized = true
	return nil
}

func (r *PlaywrightRenderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.initialized {
		return nil
	}
	if r.context != nil {
		r.context.Close()
	}
	if r.browser != nil {
		r.browser.Close()
	}
	r.initialized = false
	return r.pw.Stop()
}

type browserPage struct {
	page playwright.Page
}

func (p *browserPage) URL() string {
	return p.page.URL()
}

func (p *browserPage) Lookup(path string) (any, error) {
	accessor, err := windowAccessor(path)
	if err != nil {
		return nil, err
	}
	return p.page.Evaluate("() => " + accessor)
}

func (p *browserPage) WaitFor(path string, timeout time.Duration) error {
	accessor, err := windowAccessor(path)
	if err != nil {
		return err
	}
	expr := fmt.Sprintf("() => { const v = %s; return v !== undefined && v !== null; }", accessor)
	_, err = p.page.WaitForFunction(expr, nil, playwright.PageWaitForFunctionOptions{
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	return err
}

func (p *browserPage) HTML() (string, error) {
	return p.page.Content()
}

func (p *browserPage) Close() error {
	return p.page.Close()
}

// windowAccessor turns "a.b.c" into an optional-chained window lookup with every
// segment quoted, so paths never reach the page as raw script.
func windowAccessor(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty state path")
	}
	var b strings.Builder
	b.WriteString("window")
	for _, seg := range strings.Split(path, ".") {
		if seg == "" {
			return "", fmt.Errorf("invalid state path %q", path)
		}
		b.WriteString("?.[")
		b.WriteString(strconv.Quote(seg))
		b.WriteString("]")
	}
	return b.String(), nil
}

func simulateHumanBehavior(page playwright.Page) {
	page.Mouse().Move(float64(300+rand.Intn(400)), float64(200+rand.Intn(300)))
	page.WaitForTimeout(float64(200 + rand.Intn(300)))
	page.Mouse().Move(float64(400+rand.Intn(300)), float64(300+rand.Intn(200)))
	page.WaitForTimeout(float64(200 + rand.Intn(300)))

	scrollAmount := 100 + rand.Intn(300)
	page.Evaluate(fmt.Sprintf(`window.scrollBy(0, %d)`, scrollAmount))
}

func humanDelay(minMs, maxMs int) {
	delay := minMs + rand.Intn(maxMs-minMs)
	time.Sleep(time.Duration(delay) * time.Millisecond)
}

func handleConsent(page playwright.Page) {
	consentSelectors := []string{
		"#onetrust-accept-btn-handler",
		"button[id*='accept']",
		"button[class*='accept']",
		"button[class*='consent']",
		"button:has-text('Accept All')",
		"button:has-text('Accept')",
		"button:has-text('I Agree')",
		"button:has-text('Got it')",
	}

	for _, selector := range consentSelectors {
		btn := page.Locator(selector).First()
		if visible, _ := btn.IsVisible(); visible {
			log.Debug().Str("selector", selector).Msg("Clicking consent button")
			btn.Click()
			page.WaitForTimeout(1000)
			break
		}
	}
}
