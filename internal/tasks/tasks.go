// Package tasks provides the built-in atomic tasks and registers them with
// a registry.
//
// Every factory returns a fresh instance per activation, so multi-frame
// state (timers, async request ids, script runtimes) is never shared
// between runners.
package tasks

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/joeycumines/taskgraph/internal/registry"
	"github.com/joeycumines/taskgraph/internal/task"
)

// Built-in task ids.
const (
	IDWait     = "wait"
	IDSetValue = "set_value"
	IDLog      = "log"
	IDCompare  = "compare"
	IDExpr     = "expr"
	IDMoveTo   = "move_to"
	IDFindPath = "find_path"
	IDScript   = "script"
)

// Descriptions is a one-line summary of each built-in task, keyed by id.
var Descriptions = map[string]string{
	IDWait:     "action: run for `duration` seconds",
	IDSetValue: "action: write `value` to blackboard `key`",
	IDLog:      "action: log `message` at `level`",
	IDCompare:  "condition: blackboard `key` `op` `value`",
	IDExpr:     "condition: boolean `expr` over the blackboard",
	IDMoveTo:   "action: move towards `target` at `speed` within `tolerance`",
	IDFindPath: "action (async): plan a grid path to `target`, write `waypoint` and `path_length`",
	IDScript:   "action: JavaScript `source` defining tick(ctx)",
}

// Blackboard keys used by the movement tasks in headless mode and by
// find_path for its outputs.
const (
	KeyPosition   = "position"
	KeyWaypoint   = "waypoint"
	KeyPathLength = "path_length"
)

const (
	DefaultExprCacheSize   = 256
	DefaultScriptCacheSize = 64
	DefaultScriptBudget    = 50 * time.Millisecond
)

// Options configures the shared state behind the built-in factories.
type Options struct {
	Logger          *slog.Logger
	ExprCacheSize   int
	ScriptCacheSize int
	// ScriptBudget bounds a single script tick; the runtime is interrupted
	// when exceeded.
	ScriptBudget time.Duration
	// PathDelay is passed to the async manager for every find_path request.
	PathDelay time.Duration
}

func (o *Options) withDefaults() {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.ExprCacheSize <= 0 {
		o.ExprCacheSize = DefaultExprCacheSize
	}
	if o.ScriptCacheSize <= 0 {
		o.ScriptCacheSize = DefaultScriptCacheSize
	}
	if o.ScriptBudget <= 0 {
		o.ScriptBudget = DefaultScriptBudget
	}
}

// RegisterBuiltins registers every built-in task on reg.
func RegisterBuiltins(reg *registry.Registry, opts Options) error {
	opts.withDefaults()

	exprs, err := NewExprCache(opts.ExprCacheSize)
	if err != nil {
		return fmt.Errorf("expr cache: %w", err)
	}
	scripts, err := NewScriptCache(opts.ScriptCacheSize)
	if err != nil {
		return fmt.Errorf("script cache: %w", err)
	}

	factories := map[string]task.Factory{
		IDWait:     func() task.AtomicTask { return &Wait{} },
		IDSetValue: func() task.AtomicTask { return &SetValue{} },
		IDLog:      func() task.AtomicTask { return &Log{logger: opts.Logger} },
		IDCompare:  func() task.AtomicTask { return &Compare{logger: opts.Logger} },
		IDExpr:     func() task.AtomicTask { return &ExprCondition{cache: exprs, logger: opts.Logger} },
		IDMoveTo:   func() task.AtomicTask { return &MoveTo{} },
		IDFindPath: func() task.AtomicTask { return &FindPath{delay: opts.PathDelay} },
		IDScript: func() task.AtomicTask {
			return &Script{cache: scripts, budget: opts.ScriptBudget, logger: opts.Logger}
		},
	}
	for id, f := range factories {
		if err := reg.Register(id, f); err != nil {
			return err
		}
	}
	return nil
}

func loggerOf(ctx *task.Context, fallback *slog.Logger) *slog.Logger {
	if ctx != nil && ctx.Logger != nil {
		return ctx.Logger
	}
	if fallback != nil {
		return fallback
	}
	return slog.Default()
}
