package crawler

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/antchfx/htmlquery"
	"github.com/dustin/go-humanize"
	"github.com/gocolly/colly/v2"
	"golang.org/x/net/html"
	"golang.org/x/time/rate"

	"github.com/emilyzhang/scrapr/config"
	"github.com/emilyzhang/scrapr/logger"
)

// Page is a fetched and parsed HTML document.
type Page struct {
	// URL is the address the document was served from, after redirects.
	URL        *url.URL
	Doc        *html.Node
	StatusCode int
	FetchedAt  time.Time
}

// Fetcher retrieves and parses a page. Implementations must honour ctx.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Page, error)
}

// FetchError is returned when a page could not be retrieved or parsed.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// CollyFetcher fetches pages with colly. Requests from every walk share one
// rate limiter.
type CollyFetcher struct {
	userAgent   string
	timeout     time.Duration
	maxBodySize int
	limiter     *rate.Limiter
	log         logger.Interface
}

// NewCollyFetcher creates a fetcher from cfg.
func NewCollyFetcher(cfg config.Fetch, log logger.Interface) (*CollyFetcher, error) {
	if log == nil {
		log = logger.NewNop()
	}
	f := &CollyFetcher{
		userAgent: cfg.UserAgent,
		timeout:   cfg.Timeout,
		log:       log,
	}
	if cfg.MaxBodySize != "" {
		size, err := humanize.ParseBytes(cfg.MaxBodySize)
		if err != nil {
			return nil, fmt.Errorf("invalid max body size %q: %w", cfg.MaxBodySize, err)
		}
		f.maxBodySize = int(size)
	}
	if cfg.Rate > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		f.limiter = rate.NewLimiter(rate.Limit(cfg.Rate), burst)
	}
	return f, nil
}

// Fetch implements Fetcher. Non-2xx responses are failures.
func (f *CollyFetcher) Fetch(ctx context.Context, target string) (*Page, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, &FetchError{URL: target, Err: err}
		}
	}

	opts := []colly.CollectorOption{
		colly.StdlibContext(ctx),
		colly.AllowURLRevisit(),
		colly.MaxBodySize(f.maxBodySize),
	}
	if f.userAgent != "" {
		opts = append(opts, colly.UserAgent(f.userAgent))
	}
	c := colly.NewCollector(opts...)
	if f.timeout > 0 {
		c.SetRequestTimeout(f.timeout)
	}

	var (
		page     *Page
		fetchErr error
	)
	c.OnResponse(func(r *colly.Response) {
		doc, err := htmlquery.Parse(bytes.NewReader(r.Body))
		if err != nil {
			fetchErr = &FetchError{URL: target, StatusCode: r.StatusCode, Err: err}
			return
		}
		page = &Page{
			URL:        r.Request.URL,
			Doc:        doc,
			StatusCode: r.StatusCode,
			FetchedAt:  time.Now(),
		}
		f.log.Debug("Fetched page", "url", target, "status", r.StatusCode, "bytes", len(r.Body))
	})
	c.OnError(func(r *colly.Response, err error) {
		status := 0
		if r != nil {
			status = r.StatusCode
		}
		fetchErr = &FetchError{URL: target, StatusCode: status, Err: err}
	})

	if err := c.Visit(target); err != nil && fetchErr == nil {
		fetchErr = &FetchError{URL: target, Err: err}
	}
	if fetchErr != nil {
		return nil, fetchErr
	}
	if page == nil {
		return nil, &FetchError{URL: target, Err: fmt.Errorf("no response")}
	}
	return page, nil
}
