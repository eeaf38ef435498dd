// Package fetcher provides polite HTTP fetching for organiser sites.
//
// A Fetcher wraps a Colly collector configured with a per-domain politeness
// delay and a stable User-Agent. It never retries; callers decide whether an
// error is retryable from its type.
package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
)

// StatusError is returned when the server responds with HTTP 4xx or 5xx.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d fetching %s", e.Code, e.URL)
}

// Retryable reports whether the failure is transient. Client errors other
// than 408 and 429 are permanent; server errors are worth retrying.
func (e *StatusError) Retryable() bool {
	return e.Code >= 500 || e.Code == http.StatusRequestTimeout || e.Code == http.StatusTooManyRequests
}

// TransportError is returned for network-level failures: DNS, TLS,
// connection refused, timeout. Always retryable.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Response is the outcome of a successful fetch.
type Response struct {
	URL         string
	StatusCode  int
	Body        []byte
	ContentType string
	FetchedAt   time.Time
}

// Config holds fetcher settings.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// Delay is the minimum gap between requests to the same domain.
	Delay  time.Duration
	Logger *slog.Logger
}

// Fetcher performs HTTP GETs with per-domain rate limiting.
type Fetcher struct {
	collector *colly.Collector
	cfg       Config
	logger    *slog.Logger
	mu        sync.Mutex
}

// New creates a fetcher. Zero-value config fields get defaults:
// 60s timeout, 500ms politeness delay.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Delay <= 0 {
		cfg.Delay = 500 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	c := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
		colly.Async(false),
	)
	c.SetRequestTimeout(cfg.Timeout)
	c.Limit(&colly.LimitRule{
		DomainGlob: "*",
		Delay:      cfg.Delay,
	})

	return &Fetcher{
		collector: c,
		cfg:       cfg,
		logger:    cfg.Logger,
	}
}

// Get fetches the URL and returns the response body for statuses below 400.
// A 4xx/5xx status yields a *StatusError; network failures yield a
// *TransportError. The context cancels the request via its deadline.
func (f *Fetcher) Get(ctx context.Context, url string) (*Response, error) {
	return f.get(ctx, url, nil)
}

// GetWithHeaders fetches the URL with extra request headers, used for JSON
// API endpoints that expect an Accept header.
func (f *Fetcher) GetWithHeaders(ctx context.Context, url string, headers map[string]string) (*Response, error) {
	return f.get(ctx, url, headers)
}

func (f *Fetcher) get(ctx context.Context, url string, headers map[string]string) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, &TransportError{URL: url, Err: err}
	}

	// Colly collectors share handler state; serialize so concurrent
	// callers never see each other's responses.
	f.mu.Lock()
	defer f.mu.Unlock()

	var resp *Response
	var statusErr *StatusError
	var transportErr *TransportError

	c := f.collector.Clone()
	c.SetRequestTimeout(f.cfg.Timeout)
	c.Limit(&colly.LimitRule{
		DomainGlob: "*",
		Delay:      f.cfg.Delay,
	})

	c.OnRequest(func(r *colly.Request) {
		r.Ctx.Put("start", time.Now())
		for k, v := range headers {
			r.Headers.Set(k, v)
		}
	})

	c.OnResponse(func(r *colly.Response) {
		resp = &Response{
			URL:         r.Request.URL.String(),
			StatusCode:  r.StatusCode,
			Body:        r.Body,
			ContentType: r.Headers.Get("Content-Type"),
			FetchedAt:   time.Now(),
		}
	})

	c.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode >= 400 {
			statusErr = &StatusError{Code: r.StatusCode, URL: url}
			return
		}
		transportErr = &TransportError{URL: url, Err: err}
	})

	if err := c.Visit(url); err != nil && statusErr == nil && transportErr == nil {
		transportErr = &TransportError{URL: url, Err: err}
	}
	c.Wait()

	switch {
	case statusErr != nil:
		f.logger.Debug("fetch failed", "url", url, "status", statusErr.Code)
		return nil, statusErr
	case transportErr != nil:
		f.logger.Debug("fetch failed", "url", url, "error", transportErr.Err)
		return nil, transportErr
	case resp == nil:
		return nil, &TransportError{URL: url, Err: fmt.Errorf("no response received")}
	}

	f.logger.Debug("fetched", "url", url, "status", resp.StatusCode, "bytes", len(resp.Body))
	return resp, nil
}
