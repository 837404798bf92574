package engine

import (
	bt "github.com/joeycumines/go-behaviortree"

	"github.com/joeycumines/taskgraph/internal/blackboard"
	"github.com/joeycumines/taskgraph/internal/graph"
	"github.com/joeycumines/taskgraph/internal/task"
)

// ToBT maps a Status to its go-behaviortree equivalent. Aborted and
// Invalid map to bt.Failure.
func ToBT(s task.Status) bt.Status {
	switch s {
	case task.Running:
		return bt.Running
	case task.Success:
		return bt.Success
	default:
		return bt.Failure
	}
}

// FromBT maps a go-behaviortree status back to a Status.
func FromBT(s bt.Status) task.Status {
	switch s {
	case bt.Running:
		return task.Running
	case bt.Success:
		return task.Success
	default:
		return task.Failure
	}
}

// AsNode adapts one agent into a bt.Node: every tick of the node ticks the
// runner once, with dt read from the supplied clock. The node can be driven
// by bt.NewTicker or composed under other go-behaviortree nodes.
func (e *Engine) AsNode(entity blackboard.EntityID, r *Runner, tpl func() *graph.Template, dt func() float64) bt.Node {
	return bt.New(func([]bt.Node) (bt.Status, error) {
		return ToBT(e.Tick(entity, r, tpl(), dt())), nil
	})
}
