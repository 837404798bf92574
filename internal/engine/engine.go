// Package engine ticks behavior trees.
//
// Engine.Tick walks a shared graph.Template for one agent, depth first and
// left to right, applying composite and decorator semantics and
// dispatching leaves to atomic tasks created from a registry. All per-agent
// state lives in the Runner; the Engine itself is immutable after New
// (apart from its log-once bookkeeping) and may serve many runners on many
// goroutines, as long as each runner stays on one.
//
// Nothing escapes Tick: structural defects, unknown task ids and task
// panics resolve the affected node to Failure and are logged once.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"runtime/debug"
	"sync"

	"github.com/joeycumines/taskgraph/internal/asyncreq"
	"github.com/joeycumines/taskgraph/internal/blackboard"
	"github.com/joeycumines/taskgraph/internal/goroutineid"
	"github.com/joeycumines/taskgraph/internal/graph"
	"github.com/joeycumines/taskgraph/internal/registry"
	"github.com/joeycumines/taskgraph/internal/task"
	"github.com/joeycumines/taskgraph/internal/world"
)

// Engine evaluates templates against runners.
type Engine struct {
	reg            *registry.Registry
	logger         *slog.Logger
	world          world.Facade
	async          asyncreq.Requester
	observers      []Observer
	policy         ParallelPolicy
	checkGoroutine bool

	mu     sync.Mutex
	logged map[defectKey]struct{}
}

type defectKey struct {
	template string
	node     int
	kind     string
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithWorld attaches the component facade handed to tasks. Without it the
// engine runs headless.
func WithWorld(w world.Facade) Option {
	return func(e *Engine) { e.world = w }
}

// WithAsync sets the request manager handed to tasks.
func WithAsync(a asyncreq.Requester) Option {
	return func(e *Engine) { e.async = a }
}

// WithObserver adds a read-only execution observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observers = append(e.observers, o)
		}
	}
}

// WithParallelPolicy sets the threshold used by Parallel nodes that do not
// declare one. The default is PolicyAll.
func WithParallelPolicy(p ParallelPolicy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithGoroutineCheck toggles the warning for runners ticked from more than
// one goroutine. It is on by default.
func WithGoroutineCheck(enabled bool) Option {
	return func(e *Engine) { e.checkGoroutine = enabled }
}

// New creates an Engine resolving task ids through reg.
func New(reg *registry.Registry, opts ...Option) *Engine {
	e := &Engine{
		reg:            reg,
		logger:         slog.Default(),
		checkGoroutine: true,
		logged:         make(map[defectKey]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the task registry.
func (e *Engine) Registry() *registry.Registry { return e.reg }

// Policy returns the default Parallel policy.
func (e *Engine) Policy() ParallelPolicy { return e.policy }

// Tick evaluates tpl once for entity, advancing r by dt seconds. A runner
// bound to a different template is aborted and rebound first.
func (e *Engine) Tick(entity blackboard.EntityID, r *Runner, tpl *graph.Template, dt float64) task.Status {
	if r == nil {
		e.defect("", NoNode, "nil runner", "[Engine] tick on nil runner")
		return task.Failure
	}
	e.checkOwner(r)
	if tpl == nil || tpl.Len() == 0 {
		e.defect("", NoNode, "nil template", "[Engine] tick with nil or empty template",
			"entity", uint64(entity))
		r.lastStatus = task.Failure
		return task.Failure
	}
	if r.template != nil && r.template != tpl {
		e.logger.Info("[Engine] template swapped, aborting runner",
			"entity", uint64(entity), "from", r.templateID, "to", tpl.ID())
		e.Abort(r)
	}
	r.template = tpl
	r.templateID = tpl.ID()

	if dt < 0 || math.IsNaN(dt) || math.IsInf(dt, 0) {
		dt = 0
	}
	r.clock += dt

	t := &tick{
		e:            e,
		r:            r,
		tpl:          tpl,
		entity:       entity,
		dt:           dt,
		kept:         make(map[int]bool),
		path:         make(map[int]bool),
		firstRunning: NoNode,
	}
	status := t.eval(tpl.Root())

	// Anything Running last tick that was not re-entered has been left
	// behind by the tree.
	for _, idx := range r.ActiveNodes() {
		if !t.kept[idx] {
			t.abortSlot(idx)
		}
	}

	r.lastStatus = status
	r.current = NoNode
	r.stateTimer = 0
	if status == task.Running {
		cur := t.firstRunning
		if _, ok := r.active[cur]; !ok {
			if nodes := r.ActiveNodes(); len(nodes) > 0 {
				cur = nodes[0]
			}
		}
		if s, ok := r.active[cur]; ok {
			r.current = cur
			r.stateTimer = s.timer
		}
	}
	return status
}

// Abort cancels r: every Running task is aborted exactly once and all
// runner-local node state is dropped. Aborting an idle runner is a no-op
// apart from clearing node state.
func (e *Engine) Abort(r *Runner) {
	if r == nil {
		return
	}
	interrupted := len(r.active) > 0
	for _, idx := range r.ActiveNodes() {
		s := r.active[idx]
		delete(r.active, idx)
		e.abortTask(r.templateID, idx, s.task)
	}
	r.nodes = make(map[int]*nodeState)
	r.current = NoNode
	r.stateTimer = 0
	if interrupted {
		r.lastStatus = task.Aborted
	}
}

func (e *Engine) checkOwner(r *Runner) {
	if !e.checkGoroutine {
		return
	}
	id := goroutineid.Get()
	if r.owner == 0 {
		r.owner = id
		return
	}
	if id != r.owner && !r.ownerWarned {
		r.ownerWarned = true
		e.logger.Warn("[Engine] runner ticked from a different goroutine",
			"template", r.templateID, "owner", r.owner, "goroutine", id)
	}
}

// defect logs msg once per distinct (template, node, kind).
func (e *Engine) defect(template string, node int, kind, msg string, args ...any) {
	e.logOnce(slog.LevelError, template, node, kind, msg, args...)
}

func (e *Engine) logOnce(level slog.Level, template string, node int, kind, msg string, args ...any) {
	key := defectKey{template: template, node: node, kind: kind}
	e.mu.Lock()
	_, seen := e.logged[key]
	if !seen {
		e.logged[key] = struct{}{}
	}
	e.mu.Unlock()
	if seen {
		return
	}
	e.logger.Log(context.Background(), level, msg, args...)
}

// abortTask calls Abort, containing panics.
func (e *Engine) abortTask(template string, idx int, t task.AtomicTask) {
	defer func() {
		if rec := recover(); rec != nil {
			e.defect(template, idx, "abort panic", "[Engine] task panicked during abort",
				"template", template, "node", idx, "panic", fmt.Sprint(rec))
		}
	}()
	t.Abort()
}

// tick is the state of one Tick call.
type tick struct {
	e      *Engine
	r      *Runner
	tpl    *graph.Template
	entity blackboard.EntityID
	dt     float64

	// kept holds leaves that returned Running this tick.
	kept map[int]bool
	// path guards against cycles in unvalidated templates.
	path         map[int]bool
	firstRunning int
}

func (t *tick) defect(idx int, kind string, args ...any) {
	n := t.tpl.Node(idx)
	attrs := []any{"template", t.tpl.ID(), "entity", uint64(t.entity), "node", idx}
	if n != nil {
		attrs = append(attrs, "id", n.ID)
	}
	t.e.defect(t.tpl.ID(), idx, kind, "[Engine] structural defect: "+kind, append(attrs, args...)...)
}

func (t *tick) eval(idx int) task.Status {
	n := t.tpl.Node(idx)
	if n == nil {
		t.defect(idx, "node index out of range")
		return task.Failure
	}
	if t.path[idx] {
		t.defect(idx, "cycle")
		return task.Failure
	}
	t.path[idx] = true
	defer delete(t.path, idx)

	var status task.Status
	switch n.Kind {
	case graph.KindSequence, graph.KindSelector:
		status = t.sequential(idx, n)
	case graph.KindParallel:
		status = t.parallel(idx, n)
	case graph.KindInverter, graph.KindRepeater, graph.KindUntilSuccess, graph.KindUntilFailure, graph.KindCooldown:
		status = t.decorator(idx, n)
	case graph.KindAction, graph.KindCondition:
		status = t.leaf(idx, n)
	default:
		t.defect(idx, "unknown node kind", "kind", n.Kind.String())
		status = task.Failure
	}
	t.notify(idx, n, status)
	return status
}

func (t *tick) sequential(idx int, n *graph.Node) task.Status {
	if len(n.Children) == 0 {
		t.defect(idx, "composite without children")
		return task.Failure
	}
	ns := t.r.state(idx)
	start := ns.cursor
	if n.Reactive || start >= len(n.Children) {
		start = 0
	}
	for i := start; i < len(n.Children); i++ {
		status, stop := shortCircuit(n.Kind, t.eval(n.Children[i]))
		if !stop {
			continue
		}
		t.preempt(n, i, ns)
		if status == task.Running {
			ns.cursor = i
			return task.Running
		}
		ns.cursor = 0
		return status
	}
	ns.cursor = 0
	return exhausted(n.Kind)
}

// preempt halts the child a reactive composite was Running last tick when
// the composite settled on an earlier child this tick.
func (t *tick) preempt(n *graph.Node, i int, ns *nodeState) {
	if ns.cursor > i && ns.cursor < len(n.Children) {
		t.halt(n.Children[ns.cursor])
	}
}

func (t *tick) parallel(idx int, n *graph.Node) task.Status {
	m := len(n.Children)
	if m == 0 {
		t.defect(idx, "composite without children")
		return task.Failure
	}
	need := parallelThreshold(n.Threshold, m, t.e.policy)
	results := make([]task.Status, m)
	var successes, failures int
	for i, child := range n.Children {
		results[i] = t.eval(child)
		switch results[i] {
		case task.Success:
			successes++
		case task.Running:
		default:
			failures++
		}
	}
	status := parallelOutcome(successes, failures, m, need)
	if status != task.Running {
		for i, child := range n.Children {
			if results[i] == task.Running {
				t.halt(child)
			}
		}
	}
	return status
}

func (t *tick) decorator(idx int, n *graph.Node) task.Status {
	if len(n.Children) != 1 {
		t.defect(idx, "decorator must have exactly one child", "children", len(n.Children))
		return task.Failure
	}
	child := n.Children[0]
	switch n.Kind {
	case graph.KindInverter:
		return invert(t.eval(child))

	case graph.KindRepeater:
		ns := t.r.state(idx)
		var status task.Status
		ns.iterations, status = repeatStep(n.Count, ns.iterations, t.eval(child))
		return status

	case graph.KindUntilSuccess, graph.KindUntilFailure:
		return until(n.Kind, t.eval(child))

	case graph.KindCooldown:
		ns := t.r.state(idx)
		if !ns.inProgress && ns.hasDone && t.r.clock-ns.lastDone < n.Duration.Seconds() {
			return task.Failure
		}
		status := t.eval(child)
		if status == task.Running {
			ns.inProgress = true
			return task.Running
		}
		ns.inProgress = false
		ns.hasDone = true
		ns.lastDone = t.r.clock
		if !status.IsTerminal() {
			status = task.Failure
		}
		return status
	}
	return task.Failure
}

func (t *tick) leaf(idx int, n *graph.Node) task.Status {
	if len(n.Children) != 0 {
		t.defect(idx, "leaf with children")
		return task.Failure
	}
	s, resumed := t.r.active[idx]
	if !resumed {
		if t.e.reg == nil {
			t.defect(idx, "no registry")
			return task.Failure
		}
		inst, err := t.e.reg.Create(n.TaskID)
		if err != nil {
			t.defect(idx, "unknown task", "task", n.TaskID, "error", err)
			return task.Failure
		}
		s = &slot{task: inst}
	}
	s.timer += t.dt

	ctx := &task.Context{
		Entity:     t.entity,
		Blackboard: t.r.bb,
		StateTimer: s.timer,
		DeltaTime:  t.dt,
		World:      t.e.world,
		Async:      t.e.async,
		Logger:     t.e.logger,
	}
	status, panicked := t.execute(idx, n, s.task, ctx)
	if panicked {
		delete(t.r.active, idx)
		t.e.abortTask(t.tpl.ID(), idx, s.task)
		return task.Failure
	}

	switch status {
	case task.Running:
		if n.Kind == graph.KindCondition {
			t.e.logOnce(slog.LevelWarn, t.tpl.ID(), idx, "condition returned running",
				"[Engine] condition returned running, treating as failure",
				"template", t.tpl.ID(), "entity", uint64(t.entity), "node", idx, "id", n.ID, "task", n.TaskID)
			delete(t.r.active, idx)
			t.e.abortTask(t.tpl.ID(), idx, s.task)
			return task.Failure
		}
		t.r.active[idx] = s
		t.kept[idx] = true
		if t.firstRunning == NoNode {
			t.firstRunning = idx
		}
		return task.Running
	case task.Success, task.Failure:
		// Completed on its own: discard without Abort.
		delete(t.r.active, idx)
		return status
	default:
		t.defect(idx, "task returned invalid status", "task", n.TaskID, "status", status.String())
		delete(t.r.active, idx)
		return task.Failure
	}
}

func (t *tick) execute(idx int, n *graph.Node, inst task.AtomicTask, ctx *task.Context) (status task.Status, panicked bool) {
	defer func() {
		if rec := recover(); rec != nil {
			t.defect(idx, "task panic", "task", n.TaskID, "panic", fmt.Sprint(rec), "stack", string(debug.Stack()))
			status, panicked = task.Failure, true
		}
	}()
	return inst.ExecuteWithContext(ctx, t.params(n)), false
}

// params resolves bindings: literals verbatim, variables read from the
// blackboard now.
func (t *tick) params(n *graph.Node) task.Params {
	p := make(task.Params, len(n.Params))
	for _, b := range n.Params {
		switch b.Source {
		case graph.SourceLocalVariable:
			if t.r.bb != nil {
				p[b.Name] = t.r.bb.Get(b.Variable)
			} else {
				p[b.Name] = blackboard.Value{}
			}
		default:
			p[b.Name] = b.Literal
		}
	}
	return p
}

// halt aborts every Running task under idx and clears the subtree's node
// state. Cooldown timestamps survive.
func (t *tick) halt(idx int) {
	seen := make(map[int]bool)
	var walk func(i int)
	walk = func(i int) {
		n := t.tpl.Node(i)
		if n == nil || seen[i] {
			return
		}
		seen[i] = true
		if ns, ok := t.r.nodes[i]; ok {
			ns.halt()
		}
		if _, ok := t.r.active[i]; ok {
			t.abortSlot(i)
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(idx)
}

func (t *tick) abortSlot(idx int) {
	s, ok := t.r.active[idx]
	if !ok {
		return
	}
	delete(t.r.active, idx)
	delete(t.kept, idx)
	if t.firstRunning == idx {
		t.firstRunning = NoNode
	}
	t.e.abortTask(t.tpl.ID(), idx, s.task)
}

func (t *tick) notify(idx int, n *graph.Node, status task.Status) {
	if len(t.e.observers) == 0 {
		return
	}
	ev := NodeEvent{
		Entity:     t.entity,
		TemplateID: t.tpl.ID(),
		Index:      idx,
		NodeID:     n.ID,
		Name:       n.DisplayName(),
		Kind:       n.Kind,
		Status:     status,
	}
	for _, o := range t.e.observers {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					t.e.defect(t.tpl.ID(), NoNode, "observer panic", "[Engine] observer panicked", "panic", fmt.Sprint(rec))
				}
			}()
			o.OnNode(ev)
		}()
	}
}
