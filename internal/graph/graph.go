// Package graph defines TaskGraphTemplate, the immutable description of a
// behavior tree that many agents share.
//
// A Template is a flat, ordered list of nodes addressed by index. Children
// are index lists, the node kind is a closed enum, and leaf parameters are
// bindings that are either literal values or references to blackboard
// variables. Templates are built once (by Builder, ParseYAML, or an
// external loader) and never mutated afterwards.
package graph

import (
	"fmt"
	"strings"
	"time"

	"github.com/joeycumines/taskgraph/internal/blackboard"
)

// Kind is the closed set of node kinds.
type Kind uint8

const (
	KindInvalid Kind = iota

	// composites
	KindSequence
	KindSelector
	KindParallel

	// decorators
	KindInverter
	KindRepeater
	KindUntilSuccess
	KindUntilFailure
	KindCooldown

	// leaves
	KindAction
	KindCondition
)

var kindNames = [...]string{
	KindInvalid:      "invalid",
	KindSequence:     "sequence",
	KindSelector:     "selector",
	KindParallel:     "parallel",
	KindInverter:     "inverter",
	KindRepeater:     "repeater",
	KindUntilSuccess: "until_success",
	KindUntilFailure: "until_failure",
	KindCooldown:     "cooldown",
	KindAction:       "action",
	KindCondition:    "condition",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// ParseKind parses the names produced by Kind.String. "fallback" is accepted
// as an alias for selector.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "fallback" {
		return KindSelector, nil
	}
	for k, name := range kindNames {
		if k != int(KindInvalid) && name == s {
			return Kind(k), nil
		}
	}
	return KindInvalid, fmt.Errorf("unknown node kind %q", s)
}

// IsComposite reports whether k is Sequence, Selector or Parallel.
func (k Kind) IsComposite() bool {
	return k == KindSequence || k == KindSelector || k == KindParallel
}

// IsDecorator reports whether k wraps exactly one child.
func (k Kind) IsDecorator() bool {
	return k >= KindInverter && k <= KindCooldown
}

// IsLeaf reports whether k dispatches to an atomic task.
func (k Kind) IsLeaf() bool {
	return k == KindAction || k == KindCondition
}

// BindingSource says where a parameter value comes from.
type BindingSource uint8

const (
	// SourceLiteral values are embedded at authoring time.
	SourceLiteral BindingSource = iota
	// SourceLocalVariable values are read from the agent blackboard at
	// dispatch time.
	SourceLocalVariable
)

// Binding is one named leaf parameter.
type Binding struct {
	Name     string
	Source   BindingSource
	Literal  blackboard.Value
	Variable string
}

// Lit binds name to a literal value.
func Lit(name string, v blackboard.Value) Binding {
	return Binding{Name: name, Source: SourceLiteral, Literal: v}
}

// Var binds name to the blackboard variable variable.
func Var(name, variable string) Binding {
	return Binding{Name: name, Source: SourceLocalVariable, Variable: variable}
}

// Node is one entry of a Template. Which fields matter depends on Kind.
type Node struct {
	ID       string
	Name     string
	Kind     Kind
	Children []int

	// leaves
	TaskID string
	Params []Binding

	// Repeater: iterations, <= 0 means forever.
	Count int
	// Cooldown: gate length.
	Duration time.Duration
	// Parallel: successes required, 0 means engine policy.
	Threshold int
	// Sequence/Selector: re-evaluate from the first child every tick.
	Reactive bool
}

// DisplayName returns Name, falling back to ID.
func (n *Node) DisplayName() string {
	if n.Name != "" {
		return n.Name
	}
	return n.ID
}

// Template is an immutable behavior tree description.
type Template struct {
	id     string
	root   int
	nodes  []Node
	byID   map[string]int
	schema *blackboard.Schema
}

// ID returns the template identifier.
func (t *Template) ID() string { return t.id }

// Root returns the root node index.
func (t *Template) Root() int { return t.root }

// Len returns the number of nodes.
func (t *Template) Len() int { return len(t.nodes) }

// Schema returns the blackboard variable schema (never nil for built
// templates).
func (t *Template) Schema() *blackboard.Schema { return t.schema }

// Node returns a pointer to node i, or nil when i is out of range. Callers
// must treat the node as read-only.
func (t *Template) Node(i int) *Node {
	if t == nil || i < 0 || i >= len(t.nodes) {
		return nil
	}
	return &t.nodes[i]
}

// Index returns the index of the node with the given ID.
func (t *Template) Index(id string) (int, bool) {
	i, ok := t.byID[id]
	return i, ok
}

// TaskIDs returns the distinct task ids referenced by leaves, in node order.
func (t *Template) TaskIDs() []string {
	seen := make(map[string]struct{})
	var out []string
	for i := range t.nodes {
		n := &t.nodes[i]
		if !n.Kind.IsLeaf() || n.TaskID == "" {
			continue
		}
		if _, ok := seen[n.TaskID]; ok {
			continue
		}
		seen[n.TaskID] = struct{}{}
		out = append(out, n.TaskID)
	}
	return out
}

// New builds a Template from nodes, validating structure. The node slice is
// copied so the caller cannot mutate the result.
func New(id string, root int, nodes []Node, schema *blackboard.Schema) (*Template, error) {
	t, err := newUnchecked(id, root, nodes, schema)
	if err != nil {
		return nil, err
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// NewUnchecked builds a Template without structural validation. It exists
// for loaders that validate elsewhere and for exercising the engine's own
// defensive checks; duplicate IDs are still rejected.
func NewUnchecked(id string, root int, nodes []Node, schema *blackboard.Schema) (*Template, error) {
	return newUnchecked(id, root, nodes, schema)
}

func newUnchecked(id string, root int, nodes []Node, schema *blackboard.Schema) (*Template, error) {
	if schema == nil {
		schema, _ = blackboard.NewSchema()
	}
	t := &Template{
		id:     id,
		root:   root,
		nodes:  make([]Node, len(nodes)),
		byID:   make(map[string]int, len(nodes)),
		schema: schema,
	}
	for i, n := range nodes {
		n.Children = append([]int(nil), n.Children...)
		n.Params = append([]Binding(nil), n.Params...)
		if n.ID == "" {
			n.ID = fmt.Sprintf("n%d", i)
		}
		if _, dup := t.byID[n.ID]; dup {
			return nil, invalidf("duplicate node id %q", n.ID)
		}
		t.byID[n.ID] = i
		t.nodes[i] = n
	}
	return t, nil
}
