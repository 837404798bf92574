package blackboard

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Type is the declared type of a blackboard variable.
type Type uint8

const (
	// TypeInvalid is the type of the zero Value.
	TypeInvalid Type = iota
	TypeBool
	TypeInt
	TypeFloat
	TypeVector
	TypeEntityID
	TypeString
)

// String returns the lower-case name used in authoring formats.
func (t Type) String() string {
	switch t {
	case TypeBool:
		return "bool"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeVector:
		return "vector"
	case TypeEntityID:
		return "entity"
	case TypeString:
		return "string"
	default:
		return "invalid"
	}
}

// ParseType parses the name produced by Type.String. Matching is
// case-insensitive and accepts a few common aliases.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bool", "boolean":
		return TypeBool, nil
	case "int", "integer":
		return TypeInt, nil
	case "float", "number":
		return TypeFloat, nil
	case "vector", "vec", "vec3":
		return TypeVector, nil
	case "entity", "entityid", "entity_id":
		return TypeEntityID, nil
	case "string":
		return TypeString, nil
	default:
		return TypeInvalid, fmt.Errorf("unknown value type %q", s)
	}
}

// EntityID identifies an agent or world object.
type EntityID uint64

// Vector is a 3D vector. Grid-based code only uses X and Y.
type Vector struct {
	X, Y, Z float64
}

// Add returns v+o.
func (v Vector) Add(o Vector) Vector { return Vector{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }

// Sub returns v-o.
func (v Vector) Sub(o Vector) Vector { return Vector{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }

// Scale returns v*s.
func (v Vector) Scale(s float64) Vector { return Vector{v.X * s, v.Y * s, v.Z * s} }

// Len returns the euclidean length.
func (v Vector) Len() float64 { return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z) }

// Dist returns the euclidean distance between v and o.
func (v Vector) Dist(o Vector) float64 { return v.Sub(o).Len() }

func (v Vector) String() string {
	return fmt.Sprintf("(%g, %g, %g)", v.X, v.Y, v.Z)
}

// Value is a tagged union of the supported blackboard types. The zero Value
// is invalid and is what Get returns for names nobody declared.
type Value struct {
	typ Type
	b   bool
	i   int64
	f   float64
	v   Vector
	e   EntityID
	s   string
}

func BoolValue(b bool) Value               { return Value{typ: TypeBool, b: b} }
func IntValue(i int64) Value               { return Value{typ: TypeInt, i: i} }
func FloatValue(f float64) Value           { return Value{typ: TypeFloat, f: f} }
func VectorValue(v Vector) Value           { return Value{typ: TypeVector, v: v} }
func EntityValue(id EntityID) Value        { return Value{typ: TypeEntityID, e: id} }
func StringValue(s string) Value           { return Value{typ: TypeString, s: s} }
func (v Value) Type() Type                 { return v.typ }
func (v Value) IsValid() bool              { return v.typ != TypeInvalid }
func (v Value) AsBool() (bool, bool)       { return v.b, v.typ == TypeBool }
func (v Value) AsInt() (int64, bool)       { return v.i, v.typ == TypeInt }
func (v Value) AsVector() (Vector, bool)   { return v.v, v.typ == TypeVector }
func (v Value) AsEntity() (EntityID, bool) { return v.e, v.typ == TypeEntityID }
func (v Value) AsString() (string, bool)   { return v.s, v.typ == TypeString }

// AsFloat returns the value as a float64. Int values are widened.
func (v Value) AsFloat() (float64, bool) {
	switch v.typ {
	case TypeFloat:
		return v.f, true
	case TypeInt:
		return float64(v.i), true
	default:
		return 0, false
	}
}

// Zero returns the zero value of type t.
func Zero(t Type) Value {
	return Value{typ: t}
}

// Equal reports whether v and o have the same type and payload.
func (v Value) Equal(o Value) bool {
	if v.typ != o.typ {
		return false
	}
	switch v.typ {
	case TypeBool:
		return v.b == o.b
	case TypeInt:
		return v.i == o.i
	case TypeFloat:
		return v.f == o.f
	case TypeVector:
		return v.v == o.v
	case TypeEntityID:
		return v.e == o.e
	case TypeString:
		return v.s == o.s
	default:
		return true
	}
}

// Interface returns the payload as a plain Go value, used for expression and
// script environments. Vectors become map[string]any{"x","y","z"}.
func (v Value) Interface() any {
	switch v.typ {
	case TypeBool:
		return v.b
	case TypeInt:
		return v.i
	case TypeFloat:
		return v.f
	case TypeVector:
		return map[string]any{"x": v.v.X, "y": v.v.Y, "z": v.v.Z}
	case TypeEntityID:
		return uint64(v.e)
	case TypeString:
		return v.s
	default:
		return nil
	}
}

func (v Value) String() string {
	switch v.typ {
	case TypeBool:
		return strconv.FormatBool(v.b)
	case TypeInt:
		return strconv.FormatInt(v.i, 10)
	case TypeFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case TypeVector:
		return v.v.String()
	case TypeEntityID:
		return "entity:" + strconv.FormatUint(uint64(v.e), 10)
	case TypeString:
		return v.s
	default:
		return "<invalid>"
	}
}

// FromAny infers a Value from a plain Go value, as produced by YAML or JS
// decoding.
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case Value:
		return t, nil
	case bool:
		return BoolValue(t), nil
	case int:
		return IntValue(int64(t)), nil
	case int32:
		return IntValue(int64(t)), nil
	case int64:
		return IntValue(t), nil
	case uint64:
		return IntValue(int64(t)), nil
	case float32:
		return FloatValue(float64(t)), nil
	case float64:
		return FloatValue(t), nil
	case string:
		return StringValue(t), nil
	case EntityID:
		return EntityValue(t), nil
	case Vector:
		return VectorValue(t), nil
	case []any:
		vec, err := vectorFromSlice(t)
		if err != nil {
			return Value{}, err
		}
		return VectorValue(vec), nil
	case map[string]any:
		vec, err := vectorFromMap(t)
		if err != nil {
			return Value{}, err
		}
		return VectorValue(vec), nil
	case nil:
		return Value{}, fmt.Errorf("cannot infer value type from nil")
	default:
		return Value{}, fmt.Errorf("unsupported value %T", x)
	}
}

// Coerce converts x into a Value of type t. Numeric conversions are allowed
// where lossless (an integral float becomes an Int, any number a Float).
func Coerce(x any, t Type) (Value, error) {
	v, err := FromAny(x)
	if err != nil {
		return Value{}, err
	}
	if v.typ == t {
		return v, nil
	}
	switch t {
	case TypeFloat:
		if f, ok := v.AsFloat(); ok {
			return FloatValue(f), nil
		}
	case TypeInt:
		if f, ok := v.AsFloat(); ok && f == math.Trunc(f) {
			return IntValue(int64(f)), nil
		}
	case TypeEntityID:
		if f, ok := v.AsFloat(); ok && f >= 0 && f == math.Trunc(f) {
			return EntityValue(EntityID(f)), nil
		}
	case TypeBool:
		if s, ok := v.AsString(); ok {
			if b, err := strconv.ParseBool(s); err == nil {
				return BoolValue(b), nil
			}
		}
	}
	return Value{}, fmt.Errorf("cannot use %s value %s as %s", v.typ, v, t)
}

func vectorFromSlice(s []any) (Vector, error) {
	if len(s) < 2 || len(s) > 3 {
		return Vector{}, fmt.Errorf("vector needs 2 or 3 components, got %d", len(s))
	}
	var out [3]float64
	for i, c := range s {
		f, ok := toFloat(c)
		if !ok {
			return Vector{}, fmt.Errorf("vector component %d is %T, not a number", i, c)
		}
		out[i] = f
	}
	return Vector{out[0], out[1], out[2]}, nil
}

func vectorFromMap(m map[string]any) (Vector, error) {
	var out Vector
	for k, c := range m {
		f, ok := toFloat(c)
		if !ok {
			return Vector{}, fmt.Errorf("vector component %q is %T, not a number", k, c)
		}
		switch strings.ToLower(k) {
		case "x":
			out.X = f
		case "y":
			out.Y = f
		case "z":
			out.Z = f
		default:
			return Vector{}, fmt.Errorf("unknown vector component %q", k)
		}
	}
	return out, nil
}

func toFloat(x any) (float64, bool) {
	switch n := x.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}
