package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/playwright-community/playwright-go"
)

// Browser owns the playwright driver, one Chromium instance and the single
// context every catalog page is opened in.
type Browser struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	opts    *Options
	logger  *slog.Logger
}

type Options struct {
	Headless       bool
	Timeout        time.Duration
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
	ProxyServer    string
	ExtraHeaders   map[string]string

	// NavigateAttempts bounds loading the start page; the backoff grows
	// linearly by NavigateBackoff per attempt.
	NavigateAttempts int
	NavigateBackoff  time.Duration

	// ScrollStep is how far Settle scrolls to trigger lazy cards.
	ScrollStep int
	// SettleDelay and ClickWait are fixed pauses after a scroll and after
	// clicking "next"; both are followed by a network idle wait when
	// WaitNetworkIdle is set.
	SettleDelay     time.Duration
	WaitNetworkIdle bool
	NextSelector    string
	ClickWait       time.Duration
}

func DefaultOptions() *Options {
	return &Options{
		Headless:       true,
		Timeout:        30 * time.Second,
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		AcceptLanguage: "id-ID,id;q=0.9,en;q=0.8",
		TimezoneID:     "Asia/Jakarta",
		Locale:         "id-ID",
		ExtraHeaders: map[string]string{
			"Accept": "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
			"DNT":    "1",
		},
		NavigateAttempts: 3,
		NavigateBackoff:  time.Second,
		ScrollStep:       1000,
		SettleDelay:      2 * time.Second,
		WaitNetworkIdle:  true,
		NextSelector:     "li.ant-pagination-next",
		ClickWait:        3 * time.Second,
	}
}

func (o *Options) timeoutMillis() *float64 {
	return playwright.Float(float64(o.Timeout.Milliseconds()))
}

func (o *Options) launchOptions() playwright.BrowserTypeLaunchOptions {
	launch := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(o.Headless),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
			"--disable-setuid-sandbox",
		},
	}
	if o.ProxyServer != "" {
		launch.Proxy = &playwright.Proxy{Server: o.ProxyServer}
	}
	return launch
}

// contextOptions pins locale, timezone and Accept-Language to the values
// the catalog renders Indonesian number formats for.
func (o *Options) contextOptions() playwright.BrowserNewContextOptions {
	headers := make(map[string]string, len(o.ExtraHeaders)+1)
	for k, v := range o.ExtraHeaders {
		headers[k] = v
	}
	if o.AcceptLanguage != "" {
		headers["Accept-Language"] = o.AcceptLanguage
	}

	return playwright.BrowserNewContextOptions{
		UserAgent:         playwright.String(o.UserAgent),
		AcceptDownloads:   playwright.Bool(false),
		JavaScriptEnabled: playwright.Bool(true),
		Locale:            playwright.String(o.Locale),
		TimezoneId:        playwright.String(o.TimezoneID),
		Viewport: &playwright.Size{
			Width:  o.ViewportWidth,
			Height: o.ViewportHeight,
		},
		ExtraHttpHeaders: headers,
	}
}

func New(opts *Options) (*Browser, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	chromium, err := pw.Chromium.Launch(opts.launchOptions())
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	bctx, err := chromium.NewContext(opts.contextOptions())
	if err != nil {
		chromium.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	return &Browser{
		pw:      pw,
		browser: chromium,
		context: bctx,
		opts:    opts,
		logger:  slog.Default().With("component", "browser"),
	}, nil
}

func (b *Browser) NewPage() (playwright.Page, error) {
	page, err := b.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}

	page.SetDefaultTimeout(float64(b.opts.Timeout.Milliseconds()))

	return page, nil
}

// Close tears down context, browser and driver, reporting every failure.
func (b *Browser) Close() error {
	var errs []error

	if b.context != nil {
		if err := b.context.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close context: %w", err))
		}
	}
	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
	}
	if b.pw != nil {
		if err := b.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
	}

	return errors.Join(errs...)
}

// navigator and loadWaiter are the parts of playwright.Page the catalog
// waits depend on.
type navigator interface {
	Goto(url string, options ...playwright.PageGotoOptions) (playwright.Response, error)
}

type loadWaiter interface {
	WaitForLoadState(options ...playwright.PageWaitForLoadStateOptions) error
}

// navigate loads the catalog start page. A failed attempt is retried after
// attempt*NavigateBackoff; cancellation ends the backoff early.
func navigate(ctx context.Context, page navigator, url string, opts *Options, logger *slog.Logger) error {
	attempts := opts.NavigateAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			logger.Info("retrying navigation", "attempt", i+1, "url", url)
			if err := wait(ctx, time.Duration(i)*opts.NavigateBackoff); err != nil {
				return err
			}
		}

		_, err := page.Goto(url, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateDomcontentloaded,
			Timeout:   opts.timeoutMillis(),
		})
		if err == nil {
			return nil
		}

		lastErr = err
		logger.Warn("navigation failed", "error", err, "attempt", i+1, "url", url)
	}

	return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}

// waitSettled pauses for delay and then, when enabled, until the page has
// no network activity, so the next listing read sees the rendered cards.
func waitSettled(ctx context.Context, page loadWaiter, delay time.Duration, opts *Options) error {
	if err := wait(ctx, delay); err != nil {
		return err
	}
	if !opts.WaitNetworkIdle {
		return nil
	}

	err := page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateNetworkidle,
		Timeout: opts.timeoutMillis(),
	})
	if err != nil {
		return fmt.Errorf("wait for network idle: %w", err)
	}
	return nil
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
