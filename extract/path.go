// Package extract turns HTML documents into extracted records using trees of
// XPath targets, and resolves pagination links.
package extract

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/antchfx/htmlquery"
	"github.com/antchfx/xpath"
	"golang.org/x/net/html"
)

// PathError is returned when an XPath expression fails while being evaluated.
type PathError struct {
	Expr string
	Err  error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("evaluating xpath %q: %v", e.Expr, e.Err)
}

func (e *PathError) Unwrap() error { return e.Err }

// Path is a compiled XPath expression. It is safe for concurrent use.
type Path struct {
	raw  string
	expr *xpath.Expr

	// mu guards expr: evaluating it mutates the compiled query's state.
	// Node-set results iterate over a clone and need no lock.
	mu sync.Mutex
}

// CompilePath compiles an XPath expression.
func CompilePath(expr string) (*Path, error) {
	if expr == "" {
		return nil, fmt.Errorf("empty xpath expression")
	}
	compiled, err := xpath.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse xpath %q: %w", expr, err)
	}
	return &Path{raw: expr, expr: compiled}, nil
}

// MustCompilePath is like CompilePath but panics on error.
func MustCompilePath(expr string) *Path {
	p, err := CompilePath(expr)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the source expression.
func (p *Path) String() string { return p.raw }

// UnmarshalText compiles the expression from its text form.
func (p *Path) UnmarshalText(text []byte) error {
	compiled, err := CompilePath(string(text))
	if err != nil {
		return err
	}
	p.raw, p.expr = compiled.raw, compiled.expr
	return nil
}

// MarshalText returns the source expression.
func (p *Path) MarshalText() ([]byte, error) {
	return []byte(p.raw), nil
}

// Select evaluates the path against context and returns the matched nodes in
// document order. Attribute matches come back as element nodes named after
// the attribute whose only child is a text node holding its value, the same
// shape htmlquery.QueryAll produces. Scalar results (string, number, boolean)
// come back as a single text node; an empty string result matches nothing.
func (p *Path) Select(context *html.Node) (nodes []*html.Node, err error) {
	defer func() {
		if r := recover(); r != nil {
			nodes = nil
			err = &PathError{Expr: p.raw, Err: fmt.Errorf("%v", r)}
		}
	}()

	switch v := p.evaluate(context).(type) {
	case *xpath.NodeIterator:
		for v.MoveNext() {
			nav, ok := v.Current().(*htmlquery.NodeNavigator)
			if !ok {
				return nil, &PathError{Expr: p.raw, Err: fmt.Errorf("unexpected navigator %T", v.Current())}
			}
			nodes = append(nodes, currentNode(nav))
		}
		return nodes, nil
	case string:
		if v == "" {
			return nil, nil
		}
		return []*html.Node{textNode(v)}, nil
	case float64:
		return []*html.Node{textNode(strconv.FormatFloat(v, 'f', -1, 64))}, nil
	case bool:
		return []*html.Node{textNode(strconv.FormatBool(v))}, nil
	default:
		return nil, &PathError{Expr: p.raw, Err: fmt.Errorf("unsupported result type %T", v)}
	}
}

func (p *Path) evaluate(context *html.Node) any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.expr.Evaluate(htmlquery.CreateXPathNavigator(context))
}

func currentNode(nav *htmlquery.NodeNavigator) *html.Node {
	if nav.NodeType() == xpath.AttributeNode {
		text := textNode(nav.Value())
		return &html.Node{
			Type:       html.ElementNode,
			Data:       nav.LocalName(),
			FirstChild: text,
			LastChild:  text,
		}
	}
	return nav.Current()
}

func textNode(s string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: s}
}
