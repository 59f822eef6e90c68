package crawler

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/antchfx/htmlquery"
)

// FileFetcher reads pages from file:// URLs. Links found in a local page
// resolve to file:// URLs too and are never followed, so a file resource is
// always a single page.
type FileFetcher struct{}

// Fetch implements Fetcher.
func (FileFetcher) Fetch(ctx context.Context, target string) (*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, &FetchError{URL: target, Err: err}
	}
	u, err := url.Parse(target)
	if err != nil {
		return nil, &FetchError{URL: target, Err: err}
	}
	if u.Scheme != "file" {
		return nil, &FetchError{URL: target, Err: fmt.Errorf("not a file url")}
	}

	f, err := os.Open(filepath.FromSlash(u.Path))
	if err != nil {
		return nil, &FetchError{URL: target, Err: err}
	}
	defer f.Close()

	doc, err := htmlquery.Parse(f)
	if err != nil {
		return nil, &FetchError{URL: target, Err: fmt.Errorf("unable to parse document: %w", err)}
	}
	return &Page{URL: u, Doc: doc, FetchedAt: time.Now()}, nil
}

// Schemes picks a fetcher by the scheme of the requested URL.
type Schemes map[string]Fetcher

// NewSchemes serves http and https through web and file URLs from disk.
func NewSchemes(web Fetcher) Schemes {
	return Schemes{"http": web, "https": web, "file": FileFetcher{}}
}

// Fetch implements Fetcher.
func (s Schemes) Fetch(ctx context.Context, target string) (*Page, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, &FetchError{URL: target, Err: err}
	}
	f, ok := s[u.Scheme]
	if !ok {
		return nil, &FetchError{URL: target, Err: fmt.Errorf("no fetcher for scheme %q", u.Scheme)}
	}
	return f.Fetch(ctx, target)
}
