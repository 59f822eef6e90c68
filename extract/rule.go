package extract

import (
	"fmt"
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// Rule turns a matched node into a scalar value. The set of rules is closed:
// new variants are added in this file and the tree evaluator stays unchanged.
type Rule interface {
	Apply(n *html.Node) string
	String() string
	isRule()
}

// Text extracts the string value of the node: the concatenated text of its
// descendants, or the value of a matched attribute.
type Text struct{}

// Apply implements Rule.
func (Text) Apply(n *html.Node) string { return htmlquery.InnerText(n) }

func (Text) String() string { return "text" }
func (Text) isRule()        {}

// Attr extracts the value of the named attribute of a matched element. A
// missing attribute yields the empty string.
type Attr struct {
	Name string
}

// Apply implements Rule.
func (a Attr) Apply(n *html.Node) string { return htmlquery.SelectAttr(n, a.Name) }

func (a Attr) String() string { return "attr(" + a.Name + ")" }
func (Attr) isRule()          {}

// HTML extracts the outer HTML of the matched node.
type HTML struct{}

// Apply implements Rule.
func (HTML) Apply(n *html.Node) string { return htmlquery.OutputHTML(n, true) }

func (HTML) String() string { return "html" }
func (HTML) isRule()        {}

// ParseRule builds a rule from its configuration form: the name "text" or
// "html" (any case), or a single-entry map {"attr": "<name>"}.
func ParseRule(v any) (Rule, error) {
	switch raw := v.(type) {
	case nil:
		return nil, nil
	case Rule:
		return raw, nil
	case string:
		switch strings.ToLower(raw) {
		case "text":
			return Text{}, nil
		case "html":
			return HTML{}, nil
		}
		return nil, fmt.Errorf("unknown extraction rule %q", raw)
	case map[string]any:
		if len(raw) != 1 {
			return nil, fmt.Errorf("extraction rule must have exactly one variant, got %d", len(raw))
		}
		for k, arg := range raw {
			if strings.ToLower(k) != "attr" {
				return nil, fmt.Errorf("unknown extraction rule %q", k)
			}
			name, ok := arg.(string)
			if !ok || name == "" {
				return nil, fmt.Errorf("attr rule needs an attribute name")
			}
			return Attr{Name: name}, nil
		}
	}
	return nil, fmt.Errorf("unsupported extraction rule %v (%T)", v, v)
}
