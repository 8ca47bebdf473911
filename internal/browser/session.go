package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/maltedev/catalog-scraper/internal/models"
	"github.com/maltedev/catalog-scraper/internal/parser"
	"github.com/maltedev/catalog-scraper/internal/scraper"
	"github.com/playwright-community/playwright-go"
)

// extractScript collects every anchor whose visible text carries a rupiah
// price, in document order.
const extractScript = `() => Array.from(document.querySelectorAll('a[href]'))
	.filter(el => (el.innerText || '').includes('Rp'))
	.map(el => ({ text: el.innerText, link: el.href }))`

// Session is one browser, context and page serving a single crawl run.
type Session struct {
	browser *Browser
	page    playwright.Page
	opts    *Options
	logger  *slog.Logger
}

// NewSessionFactory returns a factory that launches a dedicated browser for
// every crawl run.
func NewSessionFactory(opts *Options, logger *slog.Logger) scraper.SessionFactory {
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context) (scraper.Driver, error) {
		return OpenSession(ctx, opts, logger)
	}
}

func OpenSession(ctx context.Context, opts *Options, logger *slog.Logger) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b, err := New(opts)
	if err != nil {
		return nil, err
	}

	page, err := b.NewPage()
	if err != nil {
		b.Close()
		return nil, err
	}

	return &Session{
		browser: b,
		page:    page,
		opts:    b.opts,
		logger:  logger.With("component", "browser_session"),
	}, nil
}

func (s *Session) Navigate(ctx context.Context, startURL string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := navigate(ctx, s.page, startURL, s.opts, s.logger); err != nil {
		return s.classify(err)
	}
	return nil
}

// Settle scrolls the catalog to trigger lazy rendering and waits for the
// page to go quiet.
func (s *Session) Settle(ctx context.Context) error {
	if err := s.alive(); err != nil {
		return err
	}

	if _, err := s.page.Evaluate(fmt.Sprintf("window.scrollBy(0, %d)", s.opts.ScrollStep)); err != nil {
		return fmt.Errorf("scroll page: %w", s.classify(err))
	}

	if err := waitSettled(ctx, s.page, s.opts.SettleDelay, s.opts); err != nil {
		return s.classify(err)
	}
	return nil
}

// ExtractCurrentPage reads listing anchors from the live DOM, falling back to
// parsing the rendered HTML when script evaluation fails.
func (s *Session) ExtractCurrentPage(ctx context.Context) ([]models.RawListing, error) {
	if err := s.alive(); err != nil {
		return nil, err
	}

	result, err := s.page.Evaluate(extractScript)
	if err == nil {
		records, convErr := toRawListings(result)
		if convErr == nil {
			return records, nil
		}
		err = convErr
	}
	if err := s.alive(); err != nil {
		return nil, err
	}

	s.logger.Warn("script extraction failed, parsing rendered html", "error", err)

	html, contentErr := s.page.Content()
	if contentErr != nil {
		return nil, errors.Join(scraper.ErrExtraction, err, contentErr)
	}

	base, _ := url.Parse(s.page.URL())
	records, parseErr := parser.ExtractListingsFromHTML(html, base)
	if parseErr != nil {
		return nil, errors.Join(scraper.ErrExtraction, parseErr)
	}
	return records, nil
}

func (s *Session) NextVisible(ctx context.Context) (bool, error) {
	next := s.nextControl()
	count, err := next.Count()
	if err != nil {
		return false, s.classify(err)
	}
	if count == 0 {
		return false, nil
	}
	return next.IsVisible()
}

func (s *Session) NextDisabled(ctx context.Context) (bool, error) {
	next := s.nextControl()

	class, err := next.GetAttribute("class")
	if err != nil {
		return false, s.classify(err)
	}
	aria, _ := next.GetAttribute("aria-disabled")
	if controlDisabled(class, aria) {
		return true, nil
	}

	// the control itself is an <li>; the button inside carries the disabled attribute
	button := next.Locator("button").First()
	if count, err := button.Count(); err == nil && count > 0 {
		return button.IsDisabled()
	}
	return false, nil
}

func (s *Session) ActivateNext(ctx context.Context) error {
	if err := s.nextControl().Click(playwright.LocatorClickOptions{
		Timeout: s.opts.timeoutMillis(),
	}); err != nil {
		return s.classify(err)
	}
	// the click only schedules the next page; wait for it to render like Settle does
	if err := waitSettled(ctx, s.page, s.opts.ClickWait, s.opts); err != nil {
		return s.classify(err)
	}
	return nil
}

func (s *Session) Close() error {
	if s.page != nil && !s.page.IsClosed() {
		if err := s.page.Close(); err != nil {
			s.logger.Warn("failed to close page", "error", err)
		}
	}
	return s.browser.Close()
}

func (s *Session) nextControl() playwright.Locator {
	return s.page.Locator(s.opts.NextSelector).Last()
}

func (s *Session) alive() error {
	if s.page == nil || s.page.IsClosed() {
		return fmt.Errorf("%w: page is closed", scraper.ErrDriver)
	}
	return nil
}

// classify marks errors raised after the page went away as driver failures.
func (s *Session) classify(err error) error {
	if s.page == nil || s.page.IsClosed() || errors.Is(err, playwright.ErrTargetClosed) {
		return errors.Join(scraper.ErrDriver, err)
	}
	return err
}

func controlDisabled(class, aria string) bool {
	if strings.EqualFold(strings.TrimSpace(aria), "true") {
		return true
	}
	for _, c := range strings.Fields(class) {
		if c == "ant-pagination-disabled" {
			return true
		}
	}
	return false
}

func toRawListings(result interface{}) ([]models.RawListing, error) {
	if result == nil {
		return nil, nil
	}
	items, ok := result.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: unexpected evaluate result %T", scraper.ErrExtraction, result)
	}

	records := make([]models.RawListing, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		text, _ := m["text"].(string)
		link, _ := m["link"].(string)
		records = append(records, models.RawListing{
			DisplayText: strings.TrimSpace(text),
			Link:        strings.TrimSpace(link),
		})
	}
	return records, nil
}
