package task

import (
	"sort"
	"time"

	"github.com/joeycumines/taskgraph/internal/blackboard"
)

// Params is a leaf's parameter set after binding resolution: literal
// bindings verbatim, variable bindings read from the blackboard at dispatch
// time.
type Params map[string]blackboard.Value

// Get returns the named value; the zero Value if absent.
func (p Params) Get(name string) blackboard.Value {
	return p[name]
}

// Has reports whether name is present with a valid value.
func (p Params) Has(name string) bool {
	return p[name].IsValid()
}

// Bool returns the named bool, or def.
func (p Params) Bool(name string, def bool) bool {
	if v, ok := p[name].AsBool(); ok {
		return v
	}
	return def
}

// Int returns the named int, or def.
func (p Params) Int(name string, def int64) int64 {
	if v, ok := p[name].AsInt(); ok {
		return v
	}
	return def
}

// Float returns the named number (ints widen), or def.
func (p Params) Float(name string, def float64) float64 {
	if v, ok := p[name].AsFloat(); ok {
		return v
	}
	return def
}

// Seconds reads a number of seconds as a Duration.
func (p Params) Seconds(name string, def time.Duration) time.Duration {
	if v, ok := p[name].AsFloat(); ok {
		return time.Duration(v * float64(time.Second))
	}
	return def
}

// String returns the named string, or def.
func (p Params) String(name string, def string) string {
	if v, ok := p[name].AsString(); ok {
		return v
	}
	return def
}

// Vector returns the named vector and whether it was present.
func (p Params) Vector(name string) (blackboard.Vector, bool) {
	return p[name].AsVector()
}

// Entity returns the named entity id and whether it was present.
func (p Params) Entity(name string) (blackboard.EntityID, bool) {
	return p[name].AsEntity()
}

// Names returns the parameter names, sorted.
func (p Params) Names() []string {
	out := make([]string, 0, len(p))
	for k := range p {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
