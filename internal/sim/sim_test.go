package sim

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/taskgraph/internal/blackboard"
	"github.com/joeycumines/taskgraph/internal/engine"
	"github.com/joeycumines/taskgraph/internal/graph"
	"github.com/joeycumines/taskgraph/internal/logging"
	"github.com/joeycumines/taskgraph/internal/registry"
	"github.com/joeycumines/taskgraph/internal/task"
	"github.com/joeycumines/taskgraph/internal/tasks"
	"github.com/joeycumines/taskgraph/internal/testutil"
)

type fixture struct {
	sim     *Simulation
	logs    *logging.MemoryHandler
	metrics *Metrics
	aborts  *int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logs := logging.NewMemoryHandler(0, slog.LevelDebug)
	logger := slog.New(logs)

	reg := registry.New()
	require.NoError(t, tasks.RegisterBuiltins(reg, tasks.Options{Logger: logger}))
	aborts := new(int)
	reg.MustRegister("forever", func() task.AtomicTask {
		return &spin{aborts: aborts}
	})

	metrics := MustNewMetrics(prometheus.NewRegistry())
	eng := engine.New(reg, engine.WithLogger(logger), engine.WithGoroutineCheck(false))
	return &fixture{
		sim:     New(eng, WithLogger(logger), WithMetrics(metrics)),
		logs:    logs,
		metrics: metrics,
		aborts:  aborts,
	}
}

type spin struct{ aborts *int }

func (s *spin) Execute(task.Params) task.Status { return task.Running }

func (s *spin) ExecuteWithContext(*task.Context, task.Params) task.Status {
	return task.Running
}

func (s *spin) Abort() { *s.aborts++ }

// waitTemplate waits, then sets mood to "rested".
func waitTemplate(id string, seconds float64) *graph.Template {
	b := graph.NewBuilder(id).Var("count", blackboard.IntValue(0)).Var("mood", blackboard.StringValue(""))
	root := b.Sequence("root",
		b.Action("pause", tasks.IDWait, graph.Lit("duration", blackboard.FloatValue(seconds))),
		b.Action("done", tasks.IDSetValue,
			graph.Lit("key", blackboard.StringValue("mood")),
			graph.Lit("value", blackboard.StringValue("rested"))),
	)
	return b.MustBuild(root)
}

func spinTemplate() *graph.Template {
	b := graph.NewBuilder("spin").Var("mood", blackboard.IntValue(0))
	return b.MustBuild(b.Action("spin", "forever"))
}

func TestStep_TicksAgentsInAscendingOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	tpl := waitTemplate("rest", 0.25)
	for _, id := range []blackboard.EntityID{9, 2, 5} {
		require.NoError(t, f.sim.Spawn(id, tpl))
	}
	require.Equal(t, []blackboard.EntityID{2, 5, 9}, f.sim.Entities())
	require.Equal(t, 3.0, promtest.ToFloat64(f.metrics.agents))

	results := f.sim.Step(0.1)
	require.Equal(t, []Result{
		{Entity: 2, Status: task.Running},
		{Entity: 5, Status: task.Running},
		{Entity: 9, Status: task.Running},
	}, results)

	f.sim.Step(0.1)
	results = f.sim.Step(0.1)
	for _, r := range results {
		require.Equal(t, task.Success, r.Status, "entity %d", r.Entity)
	}

	a, ok := f.sim.Agent(5)
	require.True(t, ok)
	require.True(t, a.Runner.Blackboard().Get("mood").Equal(blackboard.StringValue("rested")))

	require.Equal(t, uint64(3), f.sim.Frames())
	require.InDelta(t, 0.3, f.sim.Clock(), 1e-9)
	require.Equal(t, 3.0, promtest.ToFloat64(f.metrics.framesTotal))
	require.Equal(t, 6.0, promtest.ToFloat64(f.metrics.ticksTotal.WithLabelValues("running")))
	require.Equal(t, 3.0, promtest.ToFloat64(f.metrics.ticksTotal.WithLabelValues("success")))
}

func TestSpawn_Errors(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	tpl := waitTemplate("rest", 1)
	require.NoError(t, f.sim.Spawn(1, tpl))
	require.ErrorIs(t, f.sim.Spawn(1, tpl), ErrAgentExists)
	require.ErrorIs(t, f.sim.Spawn(2, nil), ErrNilTemplate)

	b := graph.NewBuilder("ghost")
	ghost := b.MustBuild(b.Action("x", "teleport"))
	require.ErrorContains(t, f.sim.Spawn(3, ghost), "teleport")

	require.ErrorIs(t, f.sim.Despawn(42), ErrUnknownAgent)
	require.ErrorIs(t, f.sim.HotSwap(42, tpl), ErrUnknownAgent)
}

func TestDespawn_AbortsRunningTask(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, f.sim.Spawn(1, spinTemplate()))
	f.sim.Step(0.1)

	require.NoError(t, f.sim.Despawn(1))
	require.Equal(t, 1, *f.aborts)
	require.Empty(t, f.sim.Entities())
	require.Equal(t, 0.0, promtest.ToFloat64(f.metrics.agents))
	require.Empty(t, f.sim.Step(0.1))
}

func TestHotSwap_AbortsAndCarriesMatchingValues(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, f.sim.Spawn(1, waitTemplate("rest", 0.05)))
	f.sim.Step(0.1)

	before, _ := f.sim.Agent(1)
	require.True(t, before.Runner.Blackboard().Set("count", blackboard.IntValue(4)))

	// mood changes type in the new schema, so it is not carried.
	require.NoError(t, f.sim.HotSwap(1, spinTemplate()))
	after, _ := f.sim.Agent(1)
	require.NotSame(t, before.Runner, after.Runner)
	require.Equal(t, "spin", after.Template.ID())
	require.True(t, after.Runner.Blackboard().Get("mood").Equal(blackboard.IntValue(0)))
	require.False(t, after.Runner.Blackboard().Has("count"))

	require.Equal(t, task.Running, f.sim.Step(0.1)[0].Status)

	// Swapping away from a Running agent aborts it exactly once.
	require.NoError(t, f.sim.HotSwap(1, waitTemplate("rest", 0.05)))
	require.Equal(t, 1, *f.aborts)
	require.Equal(t, 2, f.logs.Count("[Sim] template hot-swapped"))
}

func TestNode_ComposesWithBehaviorTree(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, f.sim.Spawn(1, spinTemplate()))

	node := f.sim.Node(0.5, 2)
	status, err := node.Tick()
	require.NoError(t, err)
	require.Equal(t, task.Running, engine.FromBT(status))

	status, err = node.Tick()
	require.NoError(t, err)
	require.Equal(t, task.Failure, engine.FromBT(status), "frame limit reached")
	require.Equal(t, 1.0, f.sim.Clock())
}

func TestStep_AgentNodeFollowsRunnerAndFrameDT(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, f.sim.Spawn(1, waitTemplate("rest", 1)))
	a, ok := f.sim.Agent(1)
	require.True(t, ok)
	require.NotNil(t, a.node)

	require.Equal(t, task.Running, f.sim.Step(0.4)[0].Status)
	require.Equal(t, task.Running, f.sim.Step(0.4)[0].Status)
	require.Equal(t, task.Success, f.sim.Step(0.4)[0].Status)
	require.InDelta(t, 1.2, a.Runner.Clock(), 1e-9, "each frame's dt reaches the runner")

	// The swapped-in runner gets its own node; the old one is no longer ticked.
	require.NoError(t, f.sim.HotSwap(1, spinTemplate()))
	b, _ := f.sim.Agent(1)
	require.NotSame(t, a.Runner, b.Runner)
	require.Equal(t, task.Running, f.sim.Step(0.5)[0].Status)
	require.InDelta(t, 1.2, a.Runner.Clock(), 1e-9)
	require.InDelta(t, 0.5, b.Runner.Clock(), 1e-9)
	require.Equal(t, "spin", b.Runner.TemplateID())
}

func TestStart_RunsUntilLimit(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, f.sim.Spawn(1, spinTemplate()))
	require.Error(t, f.sim.Start(context.Background(), 0, 0.1, 1))

	require.NoError(t, f.sim.Start(context.Background(), time.Millisecond, 0.1, 5))
	_, err := testutil.WaitForState(context.Background(), f.sim.Frames,
		func(n uint64) bool { return n >= 5 },
		testutil.AsyncTimeout, testutil.PollInterval)
	require.NoError(t, err)

	f.sim.Stop()
	require.Equal(t, uint64(5), f.sim.Frames())
	require.NoError(t, f.sim.Err())
	require.Equal(t, 1, *f.aborts, "stop aborts running agents")
}

func TestStart_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, f.sim.Spawn(1, spinTemplate()))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, f.sim.Start(ctx, time.Millisecond, 0.1, 0))
	cancel()

	select {
	case <-f.sim.Done():
	case <-time.After(testutil.AsyncTimeout):
		t.Fatal("simulation did not stop")
	}
	f.sim.Stop()
}
