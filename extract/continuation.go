package extract

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// Continuation locates the address of the next page.
type Continuation struct {
	Ref *Path
}

// Resolve evaluates the continuation against the page and returns the next
// page's absolute address. The first match in document order is used; a page
// with no match, an empty value or a non-http(s) link has no next page.
func (c *Continuation) Resolve(context *html.Node, base *url.URL) (*url.URL, bool, error) {
	if c == nil || c.Ref == nil {
		return nil, false, nil
	}

	matches, err := c.Ref.Select(context)
	if err != nil {
		return nil, false, err
	}
	if len(matches) == 0 {
		return nil, false, nil
	}

	ref := strings.TrimSpace(htmlquery.InnerText(matches[0]))
	if ref == "" {
		return nil, false, nil
	}

	next, err := resolveReference(base, ref)
	if err != nil {
		return nil, false, err
	}
	if next.Scheme != "http" && next.Scheme != "https" {
		return nil, false, nil
	}
	return next, true, nil
}

// resolveReference resolves ref against base and strips the fragment.
func resolveReference(base *url.URL, ref string) (*url.URL, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("unable to parse continuation %q: %w", ref, err)
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u, nil
}

// Resolve resolves c against the page like Continuation.Resolve. A path that
// fails to evaluate is reported once per expression and ends pagination.
func (e *Evaluator) Resolve(c *Continuation, context *html.Node, base *url.URL) (*url.URL, bool, error) {
	next, ok, err := c.Resolve(context, base)
	var pe *PathError
	if errors.As(err, &pe) {
		e.report("continuation", err)
		return nil, false, nil
	}
	return next, ok, err
}
