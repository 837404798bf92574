package graph

import (
	"fmt"
	"time"

	"github.com/joeycumines/taskgraph/internal/blackboard"
)

// Builder assembles a Template in code. Each method appends a node and
// returns its index, so trees read bottom-up:
//
//	b := graph.NewBuilder("guard")
//	root := b.Sequence("root",
//		b.Condition("see-enemy", "compare", graph.Var("value", "enemyVisible")),
//		b.Action("attack", "attack"),
//	)
//	tpl, err := b.Build(root)
type Builder struct {
	id    string
	nodes []Node
	vars  []blackboard.VarDef
}

// NewBuilder starts a template with the given id.
func NewBuilder(id string) *Builder {
	return &Builder{id: id}
}

// Var declares a blackboard variable.
func (b *Builder) Var(name string, def blackboard.Value) *Builder {
	b.vars = append(b.vars, blackboard.VarDef{Name: name, Type: def.Type(), Default: def})
	return b
}

// Add appends a fully specified node.
func (b *Builder) Add(n Node) int {
	if n.ID == "" {
		n.ID = fmt.Sprintf("n%d", len(b.nodes))
	}
	b.nodes = append(b.nodes, n)
	return len(b.nodes) - 1
}

func (b *Builder) Sequence(id string, children ...int) int {
	return b.Add(Node{ID: id, Kind: KindSequence, Children: children})
}

// ReactiveSequence re-checks earlier children every tick.
func (b *Builder) ReactiveSequence(id string, children ...int) int {
	return b.Add(Node{ID: id, Kind: KindSequence, Children: children, Reactive: true})
}

func (b *Builder) Selector(id string, children ...int) int {
	return b.Add(Node{ID: id, Kind: KindSelector, Children: children})
}

// ReactiveSelector re-checks higher-priority children every tick.
func (b *Builder) ReactiveSelector(id string, children ...int) int {
	return b.Add(Node{ID: id, Kind: KindSelector, Children: children, Reactive: true})
}

// Parallel needs threshold successes; 0 defers to the engine policy.
func (b *Builder) Parallel(id string, threshold int, children ...int) int {
	return b.Add(Node{ID: id, Kind: KindParallel, Children: children, Threshold: threshold})
}

func (b *Builder) Inverter(id string, child int) int {
	return b.Add(Node{ID: id, Kind: KindInverter, Children: []int{child}})
}

// Repeater repeats child count times; count <= 0 repeats forever.
func (b *Builder) Repeater(id string, count int, child int) int {
	return b.Add(Node{ID: id, Kind: KindRepeater, Children: []int{child}, Count: count})
}

func (b *Builder) UntilSuccess(id string, child int) int {
	return b.Add(Node{ID: id, Kind: KindUntilSuccess, Children: []int{child}})
}

func (b *Builder) UntilFailure(id string, child int) int {
	return b.Add(Node{ID: id, Kind: KindUntilFailure, Children: []int{child}})
}

func (b *Builder) Cooldown(id string, d time.Duration, child int) int {
	return b.Add(Node{ID: id, Kind: KindCooldown, Children: []int{child}, Duration: d})
}

func (b *Builder) Action(id, taskID string, params ...Binding) int {
	return b.Add(Node{ID: id, Kind: KindAction, TaskID: taskID, Params: params})
}

func (b *Builder) Condition(id, taskID string, params ...Binding) int {
	return b.Add(Node{ID: id, Kind: KindCondition, TaskID: taskID, Params: params})
}

// Build validates and returns the template.
func (b *Builder) Build(root int) (*Template, error) {
	schema, err := blackboard.NewSchema(b.vars...)
	if err != nil {
		return nil, fmt.Errorf("template %q: %w", b.id, err)
	}
	return New(b.id, root, b.nodes, schema)
}

// MustBuild is Build that panics, for tests and static trees.
func (b *Builder) MustBuild(root int) *Template {
	t, err := b.Build(root)
	if err != nil {
		panic(err)
	}
	return t
}
