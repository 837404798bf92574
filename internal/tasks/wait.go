package tasks

import (
	"github.com/joeycumines/taskgraph/internal/task"
)

// Wait stays Running until `duration` seconds of tick time have passed,
// counting the dt of the activating tick. It owns its timer, so re-entry
// after a terminal status starts over.
type Wait struct {
	started bool
	elapsed float64
}

func (w *Wait) Execute(task.Params) task.Status {
	// No clock without a context.
	return task.Failure
}

func (w *Wait) ExecuteWithContext(ctx *task.Context, params task.Params) task.Status {
	if ctx == nil {
		return task.Failure
	}
	duration := params.Float("duration", 0)
	if !w.started {
		w.started = true
		w.elapsed = 0
	}
	w.elapsed += ctx.DeltaTime
	if w.elapsed >= duration {
		w.reset()
		return task.Success
	}
	return task.Running
}

// Elapsed returns the accumulated wait time.
func (w *Wait) Elapsed() float64 { return w.elapsed }

func (w *Wait) Abort() { w.reset() }

func (w *Wait) reset() {
	w.started = false
	w.elapsed = 0
}
