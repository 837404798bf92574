// Package task defines the AtomicTask capability interface implemented by
// leaf logic, the execution Context handed to it, and the resolved
// parameter set.
//
// Tasks are instantiated per activation by a registry factory. A task that
// returns Running keeps its instance: the engine re-ticks the same value
// next frame, so internal counters, timers and async request ids survive
// between ticks. A task that returns Success or Failure must leave itself
// ready for re-entry (first-call sentinels reset), and Abort must be
// idempotent and release anything the task owns.
package task

import (
	"log/slog"

	"github.com/joeycumines/taskgraph/internal/asyncreq"
	"github.com/joeycumines/taskgraph/internal/blackboard"
	"github.com/joeycumines/taskgraph/internal/world"
)

// Status is the result of evaluating a node.
type Status uint8

const (
	// Invalid is the zero Status; the engine treats it as Failure.
	Invalid Status = iota
	Running
	Success
	Failure
	// Aborted is only ever reported for a runner that was cancelled
	// externally. Tasks never return it.
	Aborted
)

func (s Status) String() string {
	switch s {
	case Running:
		return "running"
	case Success:
		return "success"
	case Failure:
		return "failure"
	case Aborted:
		return "aborted"
	default:
		return "invalid"
	}
}

// IsTerminal reports whether s is Success or Failure.
func (s Status) IsTerminal() bool {
	return s == Success || s == Failure
}

// Context carries everything a context-aware task may need for one call.
// It is only valid for the duration of that call.
type Context struct {
	Entity     blackboard.EntityID
	Blackboard *blackboard.Blackboard
	// StateTimer is the number of seconds the current leaf has been
	// Running, including this tick's DeltaTime.
	StateTimer float64
	DeltaTime  float64
	// World is nil in headless mode; tasks then read and write the
	// blackboard instead of components.
	World  world.Facade
	Async  asyncreq.Requester
	Logger *slog.Logger
}

// Headless reports whether no world facade is attached.
func (c *Context) Headless() bool {
	return c == nil || c.World == nil
}

// AtomicTask is the leaf capability interface.
type AtomicTask interface {
	// Execute runs context-free logic.
	Execute(params Params) Status
	// ExecuteWithContext runs logic that needs the blackboard, timers,
	// the world or the async manager. The engine always calls this entry
	// point.
	ExecuteWithContext(ctx *Context, params Params) Status
	// Abort is called by the engine (never by the task itself) when the
	// tree moves away from this task while it is Running. It must be
	// idempotent.
	Abort()
}

// Factory produces a fresh task instance.
type Factory func() AtomicTask

// Func adapts a context-free function into an AtomicTask.
type Func func(params Params) Status

var _ AtomicTask = Func(nil)

func (f Func) Execute(params Params) Status {
	if f == nil {
		return Failure
	}
	return f(params)
}

func (f Func) ExecuteWithContext(_ *Context, params Params) Status {
	return f.Execute(params)
}

func (f Func) Abort() {}

// ContextFunc adapts a context-aware function into an AtomicTask. Execute
// (without a context) fails.
type ContextFunc func(ctx *Context, params Params) Status

var _ AtomicTask = ContextFunc(nil)

func (f ContextFunc) Execute(Params) Status {
	return Failure
}

func (f ContextFunc) ExecuteWithContext(ctx *Context, params Params) Status {
	if f == nil {
		return Failure
	}
	return f(ctx, params)
}

func (f ContextFunc) Abort() {}
