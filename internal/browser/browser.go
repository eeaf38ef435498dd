// Package browser provides headless page rendering for organiser sites
// whose result tables only exist after JavaScript runs.
//
// A single Chromium instance is shared by the whole process; concurrent
// page use is bounded by a semaphore so a burst of scrape jobs cannot
// exhaust memory.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

var (
	// ErrDisabled is returned when headless rendering is switched off.
	ErrDisabled = errors.New("browser rendering is disabled")
	// ErrClosed is returned when the browser has been shut down.
	ErrClosed = errors.New("browser is closed")
)

// userAgents is a small rotation pool; a stable single agent looks more
// bot-like to some table widgets than a natural mix.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
}

// viewports to rotate through alongside user agents.
var viewports = []struct{ Width, Height int }{
	{1920, 1080},
	{1536, 864},
	{1440, 900},
}

// Config holds browser settings.
type Config struct {
	Enabled    bool
	MaxPages   int
	ChromePath string
	// BlockResources skips images, stylesheets, fonts and media to speed
	// up table rendering.
	BlockResources bool
	Logger         *slog.Logger
}

// Browser wraps a lazily-started rod browser with a page semaphore.
type Browser struct {
	mu      sync.Mutex
	cfg     Config
	logger  *slog.Logger
	browser *rod.Browser
	// slots bounds concurrent pages.
	slots  chan struct{}
	closed bool
}

// New creates a browser handle. Chromium is not launched until the first
// AcquirePage call.
func New(cfg Config) *Browser {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Browser{
		cfg:    cfg,
		logger: cfg.Logger,
		slots:  make(chan struct{}, cfg.MaxPages),
	}
}

// start launches Chromium. Caller must hold b.mu.
func (b *Browser) start() error {
	if b.browser != nil {
		return nil
	}

	l := launcher.New().
		Headless(true).
		Set("disable-blink-features", "AutomationControlled").
		Set("disable-dev-shm-usage").
		Set("disable-gpu").
		Set("no-sandbox").
		Set("disable-extensions").
		Set("disable-background-networking").
		Set("lang", "en-US,en")

	if b.cfg.ChromePath != "" {
		l = l.Bin(b.cfg.ChromePath)
	}

	u, err := l.Launch()
	if err != nil {
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("failed to connect to browser: %w", err)
	}

	b.browser = browser
	b.logger.Info("browser started", "max_pages", b.cfg.MaxPages)
	return nil
}

// AcquirePage returns a fresh page with a rotated user agent and viewport.
// Blocks while MaxPages pages are already in flight. The returned page must
// be released with Release.
func (b *Browser) AcquirePage(ctx context.Context) (*Page, error) {
	if !b.cfg.Enabled {
		return nil, ErrDisabled
	}

	select {
	case b.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		<-b.slots
		return nil, ErrClosed
	}
	if err := b.start(); err != nil {
		b.mu.Unlock()
		<-b.slots
		return nil, err
	}
	browser := b.browser
	b.mu.Unlock()

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		<-b.slots
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	idx := rand.Intn(len(userAgents))
	vp := viewports[idx%len(viewports)]
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: userAgents[idx]}); err != nil {
		b.logger.Warn("failed to set user agent", "error", err)
	}
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width: vp.Width, Height: vp.Height, DeviceScaleFactor: 1,
	}); err != nil {
		b.logger.Warn("failed to set viewport", "error", err)
	}

	p := &Page{page: page, browser: b, logger: b.logger}
	if b.cfg.BlockResources {
		p.blockResources()
	}
	return p, nil
}

// Shutdown closes the browser. Safe to call more than once and before any
// page was ever acquired.
func (b *Browser) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			b.logger.Warn("error closing browser", "error", err)
		}
		b.browser = nil
		b.logger.Info("browser closed")
	}
}

// Page is a rod page guarded by the browser's page semaphore.
type Page struct {
	page    *rod.Page
	browser *Browser
	logger  *slog.Logger
	router  *rod.HijackRouter

	releaseOnce sync.Once
}

// Release closes the page and frees its semaphore slot.
func (p *Page) Release() {
	p.releaseOnce.Do(func() {
		if p.router != nil {
			_ = p.router.Stop()
		}
		if err := p.page.Close(); err != nil {
			p.logger.Warn("error closing page", "error", err)
		}
		<-p.browser.slots
	})
}

// blockResources installs a hijack router that aborts requests for images,
// stylesheets, fonts and media.
func (p *Page) blockResources() {
	router := p.page.HijackRequests()
	router.MustAdd("*", func(ctx *rod.Hijack) {
		switch ctx.Request.Type() {
		case proto.NetworkResourceTypeImage,
			proto.NetworkResourceTypeStylesheet,
			proto.NetworkResourceTypeFont,
			proto.NetworkResourceTypeMedia:
			ctx.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
		default:
			ctx.ContinueRequest(&proto.FetchContinueRequest{})
		}
	})
	go router.Run()
	p.router = router
}

// Navigate loads the URL and waits for the selector to appear, or for the
// load event when no selector is given. Bounded at 60 seconds.
func (p *Page) Navigate(url, waitSelector string) error {
	page := p.page.Timeout(60 * time.Second)

	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("failed waiting for load of %s: %w", url, err)
	}
	if waitSelector != "" {
		if _, err := page.Element(waitSelector); err != nil {
			return fmt.Errorf("selector %q never appeared on %s: %w", waitSelector, url, err)
		}
	}
	return nil
}

// HTML returns the current serialized DOM.
func (p *Page) HTML() (string, error) {
	html, err := p.page.HTML()
	if err != nil {
		return "", fmt.Errorf("failed to read page HTML: %w", err)
	}
	return html, nil
}

// paginationSelectors are tried in order when looking for a pager widget.
var paginationSelectors = []string{
	".pagination", ".pager", "nav[aria-label*='pag' i]",
	"ul.page-numbers", ".page-links",
}

var pageNumRe = regexp.MustCompile(`(?:[?&]page=|^\s*)(\d+)\s*$`)

// Pagination describes a discovered pager.
type Pagination struct {
	TotalPages   int
	NextSelector string
}

// DetectPagination scans known pager widgets for the highest page number.
// Returns TotalPages=1 when no pager is found.
func (p *Page) DetectPagination() (*Pagination, error) {
	result := &Pagination{TotalPages: 1}

	for _, selector := range paginationSelectors {
		elements, err := p.page.Elements(selector + " a")
		if err != nil || len(elements) == 0 {
			continue
		}

		max := 1
		for _, el := range elements {
			text, err := el.Text()
			if err != nil {
				continue
			}
			href, _ := el.Attribute("href")
			candidates := []string{strings.TrimSpace(text)}
			if href != nil {
				candidates = append(candidates, *href)
			}
			for _, cand := range candidates {
				if m := pageNumRe.FindStringSubmatch(cand); m != nil {
					if n, err := strconv.Atoi(m[1]); err == nil && n > max {
						max = n
					}
				}
			}
		}

		if max > 1 {
			result.TotalPages = max
			result.NextSelector = selector + " a[rel='next'], " + selector + " a.next"
			return result, nil
		}
	}

	return result, nil
}

// TableHeaders returns the text of the first table's header cells,
// lowercased and trimmed.
func (p *Page) TableHeaders() ([]string, error) {
	cells, err := p.page.Elements("table th")
	if err != nil {
		return nil, fmt.Errorf("failed to find table headers: %w", err)
	}

	var headers []string
	for _, cell := range cells {
		text, err := cell.Text()
		if err != nil {
			continue
		}
		headers = append(headers, strings.ToLower(strings.TrimSpace(text)))
	}
	return headers, nil
}

// TableRows returns the cell text of each body row of the first table.
func (p *Page) TableRows() ([][]string, error) {
	rows, err := p.page.Elements("table tbody tr")
	if err != nil {
		return nil, fmt.Errorf("failed to find table rows: %w", err)
	}

	var out [][]string
	for _, row := range rows {
		cells, err := row.Elements("td")
		if err != nil {
			continue
		}
		var values []string
		for _, cell := range cells {
			text, err := cell.Text()
			if err != nil {
				text = ""
			}
			values = append(values, strings.TrimSpace(text))
		}
		if len(values) > 0 {
			out = append(out, values)
		}
	}
	return out, nil
}

// ScrollToLoad scrolls to the bottom repeatedly to trigger lazy-loaded rows,
// stopping early once the row count stops growing.
func (p *Page) ScrollToLoad(maxIterations int) error {
	if maxIterations <= 0 {
		maxIterations = 10
	}

	lastCount := -1
	for i := 0; i < maxIterations; i++ {
		if _, err := p.page.Eval(`() => window.scrollTo(0, document.body.scrollHeight)`); err != nil {
			return fmt.Errorf("failed to scroll: %w", err)
		}
		time.Sleep(500 * time.Millisecond)

		rows, err := p.page.Elements("table tbody tr")
		if err != nil {
			continue
		}
		if len(rows) == lastCount {
			return nil
		}
		lastCount = len(rows)
	}
	return nil
}

// Click clicks the first element matching the selector.
func (p *Page) Click(selector string) error {
	el, err := p.page.Element(selector)
	if err != nil {
		return fmt.Errorf("failed to find %q: %w", selector, err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("failed to click %q: %w", selector, err)
	}
	return nil
}
