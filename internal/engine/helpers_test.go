package engine

import (
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/taskgraph/internal/blackboard"
	"github.com/joeycumines/taskgraph/internal/graph"
	"github.com/joeycumines/taskgraph/internal/logging"
	"github.com/joeycumines/taskgraph/internal/registry"
	"github.com/joeycumines/taskgraph/internal/task"
)

// stub is a scripted task that records how the engine drives it.
type stub struct {
	id     string
	status func(call int, ctx *task.Context, params task.Params) task.Status
	calls  int
	aborts int
	params []task.Params
	timers []float64
}

func (p *stub) Execute(task.Params) task.Status { return task.Failure }

func (p *stub) ExecuteWithContext(ctx *task.Context, params task.Params) task.Status {
	p.calls++
	p.params = append(p.params, params)
	p.timers = append(p.timers, ctx.StateTimer)
	return p.status(p.calls, ctx, params)
}

func (p *stub) Abort() { p.aborts++ }

func always(s task.Status) func(int, *task.Context, task.Params) task.Status {
	return func(int, *task.Context, task.Params) task.Status { return s }
}

// runningFor returns Running for n-1 calls, then Success.
func runningFor(n int) func(int, *task.Context, task.Params) task.Status {
	return func(call int, _ *task.Context, _ task.Params) task.Status {
		if call < n {
			return task.Running
		}
		return task.Success
	}
}

type harness struct {
	t     *testing.T
	reg   *registry.Registry
	stubs map[string][]*stub
	rec   *Recorder
	logs  *logging.MemoryHandler
	eng   *Engine
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		t:     t,
		reg:   registry.New(),
		stubs: make(map[string][]*stub),
		rec:   &Recorder{},
		logs:  logging.NewMemoryHandler(0, slog.LevelDebug),
	}
	logger := slog.New(h.logs)
	opts = append([]Option{WithLogger(logger), WithObserver(h.rec)}, opts...)
	h.eng = New(h.reg, opts...)
	return h
}

// stub registers taskID; every activation creates a new stub.
func (h *harness) stub(taskID string, status func(int, *task.Context, task.Params) task.Status) {
	h.reg.MustRegister(taskID, func() task.AtomicTask {
		p := &stub{id: taskID, status: status}
		h.stubs[taskID] = append(h.stubs[taskID], p)
		return p
	})
}

func (h *harness) instances(taskID string) []*stub { return h.stubs[taskID] }

func (h *harness) only(taskID string) *stub {
	h.t.Helper()
	ps := h.stubs[taskID]
	require.Len(h.t, ps, 1, "instances of %s", taskID)
	return ps[0]
}

func (h *harness) runner(tpl *graph.Template) *Runner {
	return NewRunner(blackboard.New(tpl.Schema(), slog.New(h.logs)))
}

func (h *harness) tick(r *Runner, tpl *graph.Template) task.Status {
	return h.eng.Tick(1, r, tpl, 0.1)
}

// logCount counts captured records whose message contains substr.
func (h *harness) logCount(substr string) int {
	n := 0
	for _, e := range h.logs.Entries() {
		if strings.Contains(e.Message, substr) {
			n++
		}
	}
	return n
}
