package blackboard

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/require"
)

func testSchema(t *testing.T) *Schema {
	t.Helper()
	s, err := NewSchema(
		VarDef{Name: "alive", Type: TypeBool, Default: BoolValue(true)},
		VarDef{Name: "ammo", Type: TypeInt, Default: IntValue(6)},
		VarDef{Name: "speed", Type: TypeFloat},
		VarDef{Name: "goal", Type: TypeVector, Default: VectorValue(Vector{X: 3, Y: 4})},
		VarDef{Name: "target", Type: TypeEntityID},
		VarDef{Name: "mood", Type: TypeString, Default: StringValue("calm")},
	)
	require.NoError(t, err)
	return s
}

func TestBlackboard_GetReturnsDefaults(t *testing.T) {
	t.Parallel()

	bb := New(testSchema(t), nil)

	require.True(t, bb.Get("alive").Equal(BoolValue(true)))
	require.True(t, bb.Get("ammo").Equal(IntValue(6)))
	require.True(t, bb.Get("speed").Equal(FloatValue(0)))
	require.True(t, bb.Get("mood").Equal(StringValue("calm")))

	// Missing keys never fail, they return the invalid zero value.
	require.False(t, bb.Get("nonexistent").IsValid())
}

func TestBlackboard_SetTypeChecked(t *testing.T) {
	t.Parallel()

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	bb := New(testSchema(t), logger)

	require.True(t, bb.Set("ammo", IntValue(2)))
	require.True(t, bb.Get("ammo").Equal(IntValue(2)))

	// Mismatch is a no-op.
	require.False(t, bb.Set("ammo", StringValue("lots")))
	require.True(t, bb.Get("ammo").Equal(IntValue(2)))

	// Logged once, not per attempt.
	require.False(t, bb.Set("ammo", StringValue("lots")))
	require.Equal(t, 1, strings.Count(logs.String(), "type mismatch"))

	// Undeclared names are refused when a schema is present.
	require.False(t, bb.Set("unknown", IntValue(1)))
	require.False(t, bb.Has("unknown"))
}

func TestBlackboard_FreeForm(t *testing.T) {
	t.Parallel()

	bb := New(nil, nil)
	require.True(t, bb.Set("x", FloatValue(1.5)))
	require.True(t, bb.Set("x", FloatValue(2.5)))
	require.False(t, bb.Set("x", IntValue(3)), "first write fixes the type")
	require.Equal(t, []string{"x"}, bb.Keys())
}

func TestBlackboard_KeysSnapshotReset(t *testing.T) {
	t.Parallel()

	bb := New(testSchema(t), nil)
	require.Equal(t, []string{"alive", "ammo", "goal", "mood", "speed", "target"}, bb.Keys())

	_, stored := bb.Stored("target")
	require.False(t, stored, "defaults are not stored values")
	bb.Set("target", EntityValue(9))
	v, stored := bb.Stored("target")
	require.True(t, stored)
	require.True(t, v.Equal(EntityValue(9)))

	snap := bb.Snapshot()
	require.Equal(t, uint64(9), snap["target"])
	require.Equal(t, map[string]any{"x": 3.0, "y": 4.0, "z": 0.0}, snap["goal"])

	snap["mood"] = "angry"
	require.True(t, bb.Get("mood").Equal(StringValue("calm")), "snapshot is a copy")

	bb.Reset()
	require.True(t, bb.Get("target").Equal(EntityValue(0)))
}

func TestNewSchema_Rejects(t *testing.T) {
	t.Parallel()

	_, err := NewSchema(VarDef{Name: "a", Type: TypeInt}, VarDef{Name: "a", Type: TypeInt})
	require.ErrorContains(t, err, "duplicate")

	_, err = NewSchema(VarDef{Name: "a", Type: TypeInt, Default: StringValue("x")})
	require.ErrorContains(t, err, "default is string")

	_, err = NewSchema(VarDef{Name: "", Type: TypeInt})
	require.Error(t, err)

	_, err = NewSchema(VarDef{Name: "a"})
	require.Error(t, err)
}

func TestCoerce(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      any
		typ     Type
		want    Value
		wantErr bool
	}{
		{"int to float", int64(3), TypeFloat, FloatValue(3), false},
		{"integral float to int", 4.0, TypeInt, IntValue(4), false},
		{"fractional float to int", 4.5, TypeInt, Value{}, true},
		{"slice to vector", []any{1.0, 2.0}, TypeVector, VectorValue(Vector{X: 1, Y: 2}), false},
		{"map to vector", map[string]any{"x": 1, "y": 2, "z": 3}, TypeVector, VectorValue(Vector{1, 2, 3}), false},
		{"number to entity", int64(7), TypeEntityID, EntityValue(7), false},
		{"string to bool", "true", TypeBool, BoolValue(true), false},
		{"string to int", "seven", TypeInt, Value{}, true},
		{"nil", nil, TypeInt, Value{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Coerce(tt.in, tt.typ)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.True(t, got.Equal(tt.want), "got %v want %v", got, tt.want)
		})
	}
}

func TestParseType(t *testing.T) {
	t.Parallel()

	for _, typ := range []Type{TypeBool, TypeInt, TypeFloat, TypeVector, TypeEntityID, TypeString} {
		got, err := ParseType(typ.String())
		require.NoError(t, err)
		require.Equal(t, typ, got)
	}
	_, err := ParseType("quaternion")
	require.Error(t, err)
}

func TestBlackboard_ExposeToJS(t *testing.T) {
	t.Parallel()

	bb := New(testSchema(t), nil)
	vm := goja.New()
	require.NoError(t, vm.Set("blackboard", bb.ExposeToJS(vm)))

	v, err := vm.RunString(`
		blackboard.set("ammo", blackboard.get("ammo") - 1);
		blackboard.set("speed", 2.5);
		blackboard.set("mood", 42); // wrong type, ignored
		blackboard.get("ammo");
	`)
	require.NoError(t, err)
	require.EqualValues(t, 5, v.Export())
	require.True(t, bb.Get("ammo").Equal(IntValue(5)))
	require.True(t, bb.Get("speed").Equal(FloatValue(2.5)))
	require.True(t, bb.Get("mood").Equal(StringValue("calm")))

	v, err = vm.RunString(`blackboard.get("missing") === undefined`)
	require.NoError(t, err)
	require.True(t, v.ToBoolean())
}
