package tasks

import (
	"fmt"
	"log/slog"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/joeycumines/taskgraph/internal/task"
)

// ExprCache holds compiled expr-lang programs keyed by source. It is safe
// for concurrent use, so one cache serves every runner.
//
// The cache also remembers which failures have been logged. Conditions get
// a fresh instance on every activation, so a broken expression would
// otherwise log once per tick.
type ExprCache struct {
	programs *lru.Cache[string, *vm.Program]
	reported *reportSet
}

// NewExprCache creates a cache holding up to size programs.
func NewExprCache(size int) (*ExprCache, error) {
	c, err := lru.New[string, *vm.Program](size)
	if err != nil {
		return nil, err
	}
	reported, err := newReportSet(size)
	if err != nil {
		return nil, err
	}
	return &ExprCache{programs: c, reported: reported}, nil
}

// Compile returns the cached program for source, compiling it on a miss.
// Undefined variables evaluate to nil rather than failing compilation, so
// an expression may reference blackboard keys that are not yet written.
func (c *ExprCache) Compile(source string) (*vm.Program, error) {
	if p, ok := c.programs.Get(source); ok {
		return p, nil
	}
	p, err := expr.Compile(source, expr.AsBool(), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, err
	}
	c.programs.Add(source, p)
	return p, nil
}

// Len returns the number of cached programs.
func (c *ExprCache) Len() int { return c.programs.Len() }

func (c *ExprCache) firstReport(source string, err error) bool {
	if c == nil {
		return true
	}
	return c.reported.first(source, err)
}

// ExprCondition evaluates the boolean expression in `expr` against the
// blackboard. The environment holds every blackboard variable (vectors as
// {x, y, z} maps) plus `entity`, `dt` and `timer`.
//
//	health < 30 && target != 0
//	position.x > 10
type ExprCondition struct {
	cache  *ExprCache
	logger *slog.Logger
}

func (c *ExprCondition) Execute(params task.Params) task.Status {
	return c.eval(nil, params, map[string]any{})
}

func (c *ExprCondition) ExecuteWithContext(ctx *task.Context, params task.Params) task.Status {
	env := map[string]any{}
	if ctx != nil {
		if ctx.Blackboard != nil {
			env = ctx.Blackboard.Snapshot()
		}
		env["entity"] = uint64(ctx.Entity)
		env["dt"] = ctx.DeltaTime
		env["timer"] = ctx.StateTimer
	}
	return c.eval(ctx, params, env)
}

func (c *ExprCondition) eval(ctx *task.Context, params task.Params, env map[string]any) task.Status {
	source := params.String("expr", "")
	if source == "" {
		c.report(ctx, source, fmt.Errorf("missing expr parameter"))
		return task.Failure
	}
	program, err := c.cache.Compile(source)
	if err != nil {
		c.report(ctx, source, fmt.Errorf("expression compilation failed: %w", err))
		return task.Failure
	}
	out, err := expr.Run(program, env)
	if err != nil {
		c.report(ctx, source, fmt.Errorf("expression evaluation failed: %w", err))
		return task.Failure
	}
	if b, ok := out.(bool); ok && b {
		return task.Success
	}
	return task.Failure
}

func (c *ExprCondition) report(ctx *task.Context, source string, err error) {
	if !c.cache.firstReport(source, err) {
		return
	}
	loggerOf(ctx, c.logger).Error("[Task] expr condition error", "expression", source, "error", err)
}

func (c *ExprCondition) Abort() {}
