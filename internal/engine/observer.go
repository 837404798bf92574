package engine

import (
	"github.com/joeycumines/taskgraph/internal/blackboard"
	"github.com/joeycumines/taskgraph/internal/graph"
	"github.com/joeycumines/taskgraph/internal/task"
)

// NodeEvent describes one node evaluation. It is a copy; observers cannot
// reach engine or runner state through it.
type NodeEvent struct {
	Entity     blackboard.EntityID
	TemplateID string
	Index      int
	NodeID     string
	Name       string
	Kind       graph.Kind
	Status     task.Status
}

// Observer receives every node evaluation, in visitation order, on the
// tick goroutine. Implementations must not block.
type Observer interface {
	OnNode(ev NodeEvent)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ev NodeEvent)

func (f ObserverFunc) OnNode(ev NodeEvent) { f(ev) }

// Recorder is an Observer that keeps every event. Not safe for concurrent
// use.
type Recorder struct {
	Events []NodeEvent
}

func (r *Recorder) OnNode(ev NodeEvent) { r.Events = append(r.Events, ev) }

// Visited returns the node ids seen, in order.
func (r *Recorder) Visited() []string {
	out := make([]string, len(r.Events))
	for i, ev := range r.Events {
		out[i] = ev.NodeID
	}
	return out
}

// Reset drops recorded events.
func (r *Recorder) Reset() { r.Events = r.Events[:0] }
