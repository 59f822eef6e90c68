package extract

import (
	"errors"
	"sort"
	"sync"

	"golang.org/x/net/html"

	"github.com/emilyzhang/scrapr/logger"
)

// TargetNode is one node of a target tree. Path is evaluated relative to the
// context node; for every match Extract is applied (when set) and Then is
// evaluated with the match as the new context (when set).
type TargetNode struct {
	Name    string
	Path    *Path
	Extract Rule
	Then    Targets
}

// Targets maps names to sibling target nodes.
type Targets map[string]*TargetNode

// names returns the target names in a stable order.
func (t Targets) names() []string {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Evaluator evaluates target trees against documents. It only remembers
// which failing expressions it has already reported. It is safe for
// concurrent use, as are the paths it evaluates.
type Evaluator struct {
	log      logger.Interface
	reported sync.Map
}

// NewEvaluator creates an Evaluator that reports path errors to log.
func NewEvaluator(log logger.Interface) *Evaluator {
	if log == nil {
		log = logger.NewNop()
	}
	return &Evaluator{log: log}
}

// Evaluate evaluates every target against root and returns the record. A
// target that matches nothing is bound to an empty sequence.
func (e *Evaluator) Evaluate(targets Targets, root *html.Node) Record {
	rec := make(Record, len(targets))
	for _, name := range targets.names() {
		rec[name] = e.EvaluateNode(targets[name], root)
	}
	return rec
}

// EvaluateNode evaluates a single target against context and returns one
// item per matched node, in document order.
func (e *Evaluator) EvaluateNode(node *TargetNode, context *html.Node) []Item {
	items := []Item{}
	if node == nil || node.Path == nil {
		return items
	}

	matches, err := node.Path.Select(context)
	if err != nil {
		e.report(node.Name, err)
		return items
	}

	for _, m := range matches {
		var it Item
		if node.Extract != nil {
			it.Value = node.Extract.Apply(m)
			it.HasValue = true
		}
		if node.Then != nil {
			it.Fields = e.Evaluate(node.Then, m)
		}
		items = append(items, it)
	}
	return items
}

// report logs a path error the first time its expression fails.
func (e *Evaluator) report(target string, err error) {
	key := err.Error()
	var pe *PathError
	if errors.As(err, &pe) {
		key = pe.Expr
	}
	if _, seen := e.reported.LoadOrStore(key, struct{}{}); seen {
		return
	}
	e.log.Error("Target path failed to evaluate", "target", target, "error", err)
}
