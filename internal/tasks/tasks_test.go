package tasks

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/taskgraph/internal/blackboard"
	"github.com/joeycumines/taskgraph/internal/engine"
	"github.com/joeycumines/taskgraph/internal/graph"
	"github.com/joeycumines/taskgraph/internal/logging"
	"github.com/joeycumines/taskgraph/internal/registry"
	"github.com/joeycumines/taskgraph/internal/task"
	"github.com/joeycumines/taskgraph/internal/world"
)

func TestRegisterBuiltins(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	require.NoError(t, RegisterBuiltins(reg, Options{}))
	require.Equal(t, []string{
		IDCompare, IDExpr, IDFindPath, IDLog, IDMoveTo, IDScript, IDSetValue, IDWait,
	}, reg.IDs())
	for _, id := range reg.IDs() {
		require.NotEmpty(t, Descriptions[id], id)
	}

	a, err := reg.Create(IDWait)
	require.NoError(t, err)
	b, err := reg.Create(IDWait)
	require.NoError(t, err)
	require.NotSame(t, a, b)
}

func TestBrokenSourcesLogOnceAcrossActivations(t *testing.T) {
	t.Parallel()

	logs := logging.NewMemoryHandler(0, slog.LevelDebug)
	logger := slog.New(logs)
	reg := registry.New()
	require.NoError(t, RegisterBuiltins(reg, Options{Logger: logger}))
	eng := engine.New(reg, engine.WithLogger(logger))

	b := graph.NewBuilder("broken")
	root := b.Selector("root",
		b.Condition("bad-expr", IDExpr, graph.Lit("expr", blackboard.StringValue("1 +"))),
		b.Action("bad-script", IDScript, graph.Lit("source", blackboard.StringValue("function tick( {"))),
		b.Action("no-tick", IDScript, graph.Lit("source", blackboard.StringValue("var x = 1;"))),
	)
	tpl := b.MustBuild(root)
	r := engine.NewRunner(blackboard.New(tpl.Schema(), logger))

	for i := 0; i < 5; i++ {
		require.Equal(t, task.Failure, eng.Tick(1, r, tpl, 0.1))
	}
	require.Equal(t, 1, logs.Count("[Task] expr condition error"))
	require.Equal(t, 2, logs.Count("[Task] script error"), "one per distinct broken script")

	// A second runner sharing the registry does not log the same failures again.
	other := engine.NewRunner(blackboard.New(tpl.Schema(), logger))
	require.Equal(t, task.Failure, eng.Tick(2, other, tpl, 0.1))
	require.Equal(t, 1, logs.Count("[Task] expr condition error"))
	require.Equal(t, 2, logs.Count("[Task] script error"))
}

func TestReportSet(t *testing.T) {
	t.Parallel()

	r, err := newReportSet(2)
	require.NoError(t, err)
	boom := errors.New("boom")
	require.True(t, r.first("a", boom))
	require.False(t, r.first("a", boom))
	require.True(t, r.first("a", errors.New("other")), "a different error is reported")
	require.True(t, r.first("b", boom))
	require.True(t, r.first("a", boom), "evicted entries report again")

	var nilSet *reportSet
	require.True(t, nilSet.first("a", boom))
	require.True(t, nilSet.first("a", boom))
}

func TestWait(t *testing.T) {
	t.Parallel()

	w := &Wait{}
	ctx := newContext(nil, 0.5)
	params := task.Params{"duration": blackboard.FloatValue(1.5)}

	require.Equal(t, task.Running, w.ExecuteWithContext(ctx, params))
	require.Equal(t, task.Running, w.ExecuteWithContext(ctx, params))
	require.Equal(t, task.Success, w.ExecuteWithContext(ctx, params))
	require.Zero(t, w.Elapsed(), "reset before returning terminal")

	// re-entry starts a fresh wait
	require.Equal(t, task.Running, w.ExecuteWithContext(ctx, params))
	w.Abort()
	w.Abort()
	require.Zero(t, w.Elapsed())

	require.Equal(t, task.Success, w.ExecuteWithContext(ctx, task.Params{}), "zero duration completes at once")
	require.Equal(t, task.Failure, w.Execute(params))
}

func TestSetValue(t *testing.T) {
	t.Parallel()

	bb := newBlackboard(t, blackboard.VarDef{Name: "ammo", Type: blackboard.TypeInt})
	ctx := newContext(bb, 0)
	var s SetValue

	require.Equal(t, task.Success, s.ExecuteWithContext(ctx, task.Params{
		"key": blackboard.StringValue("ammo"), "value": blackboard.IntValue(12),
	}))
	require.Equal(t, blackboard.IntValue(12), bb.Get("ammo"))

	require.Equal(t, task.Failure, s.ExecuteWithContext(ctx, task.Params{
		"key": blackboard.StringValue("ammo"), "value": blackboard.StringValue("lots"),
	}), "type mismatch is rejected")
	require.Equal(t, blackboard.IntValue(12), bb.Get("ammo"))

	require.Equal(t, task.Failure, s.ExecuteWithContext(ctx, task.Params{}))
}

func TestLog(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	ctx := newContext(nil, 0)
	ctx.Logger = slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	l := &Log{}
	require.Equal(t, task.Success, l.ExecuteWithContext(ctx, task.Params{
		"message": blackboard.StringValue("hello"),
		"level":   blackboard.StringValue("warn"),
		"extra":   blackboard.IntValue(3),
	}))
	out := buf.String()
	require.Contains(t, out, "level=WARN")
	require.Contains(t, out, "msg=hello")
	require.Contains(t, out, "entity=7")
	require.Contains(t, out, "extra=3")
}

func TestCompareValues(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name    string
		a       blackboard.Value
		op      string
		b       blackboard.Value
		want    bool
		wantErr bool
	}{
		{"int lt float", blackboard.IntValue(2), "<", blackboard.FloatValue(2.5), true, false},
		{"int eq", blackboard.IntValue(3), "==", blackboard.IntValue(3), true, false},
		{"ge false", blackboard.FloatValue(1), ">=", blackboard.IntValue(2), false, false},
		{"string order", blackboard.StringValue("a"), "<", blackboard.StringValue("b"), true, false},
		{"bool eq", blackboard.BoolValue(true), "==", blackboard.BoolValue(true), true, false},
		{"bool ne", blackboard.BoolValue(true), "!=", blackboard.BoolValue(false), true, false},
		{"vector eq", blackboard.VectorValue(blackboard.Vector{X: 1}), "==", blackboard.VectorValue(blackboard.Vector{X: 1}), true, false},
		{"bool ordered", blackboard.BoolValue(true), "<", blackboard.BoolValue(false), false, true},
		{"unknown op", blackboard.IntValue(1), "~", blackboard.IntValue(1), false, true},
		{"missing", blackboard.Value{}, "==", blackboard.IntValue(1), false, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := CompareValues(tc.a, tc.op, tc.b)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestCompare_Task(t *testing.T) {
	t.Parallel()

	bb := newBlackboard(t, blackboard.VarDef{Name: "health", Type: blackboard.TypeInt, Default: blackboard.IntValue(20)})
	ctx := newContext(bb, 0)
	c := &Compare{}

	require.Equal(t, task.Success, c.ExecuteWithContext(ctx, task.Params{
		"key": blackboard.StringValue("health"), "op": blackboard.StringValue("<"), "value": blackboard.IntValue(30),
	}))
	require.Equal(t, task.Failure, c.ExecuteWithContext(ctx, task.Params{
		"key": blackboard.StringValue("health"), "op": blackboard.StringValue(">"), "value": blackboard.IntValue(30),
	}))
	require.Equal(t, task.Failure, c.ExecuteWithContext(ctx, task.Params{
		"key": blackboard.StringValue("health"), "op": blackboard.StringValue("??"), "value": blackboard.IntValue(30),
	}))
}

func TestMoveTo_Headless(t *testing.T) {
	t.Parallel()

	bb := newBlackboard(t, blackboard.VarDef{Name: KeyPosition, Type: blackboard.TypeVector})
	ctx := newContext(bb, 1)
	params := task.Params{
		"target": blackboard.VectorValue(blackboard.Vector{X: 3}),
		"speed":  blackboard.FloatValue(2),
	}
	m := &MoveTo{}

	require.Equal(t, task.Running, m.ExecuteWithContext(ctx, params))
	pos, _ := bb.Get(KeyPosition).AsVector()
	require.Equal(t, blackboard.Vector{X: 2}, pos)

	require.Equal(t, task.Success, m.ExecuteWithContext(ctx, params))
	pos, _ = bb.Get(KeyPosition).AsVector()
	require.Equal(t, blackboard.Vector{X: 3}, pos)

	require.Equal(t, task.Failure, m.ExecuteWithContext(ctx, task.Params{}), "target required")
}

func TestMoveTo_World(t *testing.T) {
	t.Parallel()

	w := world.NewMemory(10, 10)
	w.Spawn(7, blackboard.Vector{}, 1)
	ctx := newContext(nil, 1)
	ctx.World = w
	params := task.Params{"target": blackboard.VectorValue(blackboard.Vector{Y: 5})}
	m := &MoveTo{}

	require.Equal(t, task.Running, m.ExecuteWithContext(ctx, params))
	pos, _ := w.Position(7)
	require.Equal(t, 1.0, pos.Y, "speed defaults to MaxSpeed")
	mv, _ := w.Movement(7)
	require.Equal(t, blackboard.Vector{Y: 1}, mv.Velocity)

	m.Abort()
	require.Equal(t, blackboard.Vector{}, mv.Velocity, "abort stops the entity")
	m.Abort()

	// MissingComponent: no Movement attached.
	w.Spawn(8, blackboard.Vector{}, 0)
	ctx.Entity = 8
	require.Equal(t, task.Failure, m.ExecuteWithContext(ctx, params))
	ctx.Entity = 99
	require.Equal(t, task.Failure, m.ExecuteWithContext(ctx, params))
}
