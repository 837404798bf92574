package tasks

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dop251/goja"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/joeycumines/taskgraph/internal/task"
)

// ScriptCache holds compiled JavaScript programs keyed by source. Compiled
// programs are runtime independent, so one cache serves every instance.
// It also remembers which script failures have been logged, across
// instances.
type ScriptCache struct {
	programs *lru.Cache[string, *goja.Program]
	reported *reportSet
}

// NewScriptCache creates a cache holding up to size programs.
func NewScriptCache(size int) (*ScriptCache, error) {
	c, err := lru.New[string, *goja.Program](size)
	if err != nil {
		return nil, err
	}
	reported, err := newReportSet(size)
	if err != nil {
		return nil, err
	}
	return &ScriptCache{programs: c, reported: reported}, nil
}

// Compile returns the cached program for source, compiling it on a miss.
func (c *ScriptCache) Compile(source string) (*goja.Program, error) {
	if p, ok := c.programs.Get(source); ok {
		return p, nil
	}
	p, err := goja.Compile("script", source, false)
	if err != nil {
		return nil, err
	}
	c.programs.Add(source, p)
	return p, nil
}

// Len returns the number of cached programs.
func (c *ScriptCache) Len() int { return c.programs.Len() }

func (c *ScriptCache) firstReport(source string, err error) bool {
	if c == nil {
		return true
	}
	return c.reported.first(source, err)
}

var errNoTick = errors.New("script does not define tick(ctx)")

// Script runs the JavaScript in `source`, which must define a function
// tick(ctx). The ctx object exposes entity, dt, timer, headless, params
// and blackboard (get/set/has/keys). tick returns "running", "success" or
// "failure", or a boolean. An optional abort() is called when the engine
// interrupts a Running script.
//
//	var n = 0;
//	function tick(ctx) {
//	    n++;
//	    ctx.blackboard.set("count", n);
//	    return n < 3 ? "running" : "success";
//	}
//
// Each instance owns its runtime, so top-level script state lives exactly
// as long as one activation.
type Script struct {
	cache  *ScriptCache
	budget time.Duration
	logger *slog.Logger

	vm      *goja.Runtime
	source  string
	tick    goja.Callable
	abort   goja.Callable
	running bool
}

func (s *Script) Execute(params task.Params) task.Status {
	return s.ExecuteWithContext(nil, params)
}

func (s *Script) ExecuteWithContext(ctx *task.Context, params task.Params) task.Status {
	source := params.String("source", "")
	if err := s.load(source); err != nil {
		s.report(ctx, source, err)
		return task.Failure
	}

	arg := s.vm.NewObject()
	p := make(map[string]any, len(params))
	for _, name := range params.Names() {
		if name != "source" {
			p[name] = params.Get(name).Interface()
		}
	}
	_ = arg.Set("params", p)
	if ctx != nil {
		_ = arg.Set("entity", uint64(ctx.Entity))
		_ = arg.Set("dt", ctx.DeltaTime)
		_ = arg.Set("timer", ctx.StateTimer)
		_ = arg.Set("headless", ctx.Headless())
		if ctx.Blackboard != nil {
			_ = arg.Set("blackboard", ctx.Blackboard.ExposeToJS(s.vm))
		}
	}

	out, err := s.call(s.tick, arg)
	if err != nil {
		s.running = false
		s.report(ctx, source, err)
		return task.Failure
	}
	status := scriptStatus(out)
	s.running = status == task.Running
	return status
}

// Abort invokes the script's abort() if it was Running.
func (s *Script) Abort() {
	if !s.running {
		return
	}
	s.running = false
	if s.abort != nil {
		if _, err := s.call(s.abort); err != nil {
			s.report(nil, s.source, fmt.Errorf("abort: %w", err))
		}
	}
}

func (s *Script) load(source string) error {
	if source == "" {
		return errors.New("missing source parameter")
	}
	if s.vm != nil && s.source == source {
		return nil
	}
	program, err := s.cache.Compile(source)
	if err != nil {
		return fmt.Errorf("compile: %w", err)
	}
	vm := goja.New()
	s.vm = vm
	s.source = source
	s.tick, s.abort = nil, nil
	if _, err := s.call(func(goja.Value, ...goja.Value) (goja.Value, error) {
		return vm.RunProgram(program)
	}); err != nil {
		s.vm = nil
		return fmt.Errorf("run: %w", err)
	}
	tick, ok := goja.AssertFunction(vm.Get("tick"))
	if !ok {
		s.vm = nil
		return errNoTick
	}
	s.tick = tick
	if abort, ok := goja.AssertFunction(vm.Get("abort")); ok {
		s.abort = abort
	}
	return nil
}

// call runs fn under the tick budget, interrupting the runtime if it is
// exceeded.
func (s *Script) call(fn goja.Callable, args ...goja.Value) (goja.Value, error) {
	if s.budget > 0 {
		vm := s.vm
		timer := time.AfterFunc(s.budget, func() { vm.Interrupt("script exceeded tick budget") })
		defer func() {
			timer.Stop()
			vm.ClearInterrupt()
		}()
	}
	return fn(goja.Undefined(), args...)
}

func (s *Script) report(ctx *task.Context, source string, err error) {
	if !s.cache.firstReport(source, err) {
		return
	}
	args := []any{"error", err}
	if ctx != nil {
		args = append(args, "entity", uint64(ctx.Entity))
	}
	loggerOf(ctx, s.logger).Error("[Task] script error", args...)
}

func scriptStatus(v goja.Value) task.Status {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return task.Failure
	}
	switch x := v.Export().(type) {
	case bool:
		if x {
			return task.Success
		}
		return task.Failure
	case string:
		switch strings.ToLower(x) {
		case "running":
			return task.Running
		case "success":
			return task.Success
		}
	}
	return task.Failure
}
