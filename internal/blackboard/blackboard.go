// Package blackboard provides the per-agent typed key/value store that tree
// nodes use to pass data to each other across ticks.
//
// A Blackboard is created from a Schema (the template's variable
// declarations). Reads of unset variables return the declared default, and
// writes must match the declared type: a mismatched write is logged and
// ignored rather than treated as an error, so one badly authored node cannot
// take the agent down.
//
// A Blackboard is NOT safe for concurrent use. It belongs to exactly one
// agent and is only touched from that agent's tick goroutine. Background
// work (see package asyncreq) never writes to it directly.
package blackboard

import (
	"fmt"
	"log/slog"
	"sort"
)

// VarDef declares one blackboard variable.
type VarDef struct {
	Name    string
	Type    Type
	Default Value
}

// Schema is an immutable, ordered set of variable declarations. It is shared
// by every Blackboard created from the same template.
type Schema struct {
	defs  []VarDef
	index map[string]int
}

// NewSchema validates defs and builds a Schema. A def with an invalid
// Default gets the zero value of its declared type.
func NewSchema(defs ...VarDef) (*Schema, error) {
	s := &Schema{
		defs:  make([]VarDef, 0, len(defs)),
		index: make(map[string]int, len(defs)),
	}
	for _, d := range defs {
		if d.Name == "" {
			return nil, fmt.Errorf("blackboard: variable with empty name")
		}
		if d.Type == TypeInvalid {
			return nil, fmt.Errorf("blackboard: variable %q has no type", d.Name)
		}
		if _, dup := s.index[d.Name]; dup {
			return nil, fmt.Errorf("blackboard: duplicate variable %q", d.Name)
		}
		if !d.Default.IsValid() {
			d.Default = Zero(d.Type)
		} else if d.Default.Type() != d.Type {
			return nil, fmt.Errorf("blackboard: variable %q declared %s but default is %s",
				d.Name, d.Type, d.Default.Type())
		}
		s.index[d.Name] = len(s.defs)
		s.defs = append(s.defs, d)
	}
	return s, nil
}

// Lookup returns the declaration for name.
func (s *Schema) Lookup(name string) (VarDef, bool) {
	if s == nil {
		return VarDef{}, false
	}
	i, ok := s.index[name]
	if !ok {
		return VarDef{}, false
	}
	return s.defs[i], true
}

// Vars returns the declarations in declaration order.
func (s *Schema) Vars() []VarDef {
	if s == nil {
		return nil
	}
	out := make([]VarDef, len(s.defs))
	copy(out, s.defs)
	return out
}

// Len returns the number of declared variables.
func (s *Schema) Len() int {
	if s == nil {
		return 0
	}
	return len(s.defs)
}

// Blackboard is the per-agent store.
//
// With a nil schema the blackboard is free-form: any name may be written,
// and the first write fixes that name's type.
type Blackboard struct {
	schema *Schema
	values map[string]Value
	logger *slog.Logger
	// warned records name/type pairs already reported, so a node writing the
	// wrong type every tick logs once.
	warned map[string]struct{}
}

// New creates a Blackboard for schema. A nil logger uses slog.Default().
func New(schema *Schema, logger *slog.Logger) *Blackboard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Blackboard{
		schema: schema,
		values: make(map[string]Value, schema.Len()),
		logger: logger,
	}
}

// Schema returns the schema this blackboard was created from (may be nil).
func (b *Blackboard) Schema() *Schema {
	return b.schema
}

// Get returns the stored value, else the schema default, else the zero
// (invalid) Value. It never fails.
func (b *Blackboard) Get(name string) Value {
	if v, ok := b.values[name]; ok {
		return v
	}
	if d, ok := b.schema.Lookup(name); ok {
		return d.Default
	}
	return Value{}
}

// Set stores v under name and reports whether the write happened. Writing a
// type that does not match the declaration (or an undeclared name, when a
// schema is present) is a logged no-op.
func (b *Blackboard) Set(name string, v Value) bool {
	if !v.IsValid() {
		b.warnOnce(name, v.Type(), "[Blackboard] refusing to store invalid value", "name", name)
		return false
	}
	want, declared := b.expectedType(name)
	if !declared {
		b.warnOnce(name, v.Type(), "[Blackboard] write to undeclared variable ignored",
			"name", name, "type", v.Type().String())
		return false
	}
	if want != TypeInvalid && want != v.Type() {
		b.warnOnce(name, v.Type(), "[Blackboard] type mismatch, write ignored",
			"name", name, "declared", want.String(), "got", v.Type().String())
		return false
	}
	b.values[name] = v
	return true
}

// expectedType returns the declared type of name. For free-form
// blackboards it returns the type of the existing value (or TypeInvalid if
// there is none, meaning any type is accepted).
func (b *Blackboard) expectedType(name string) (Type, bool) {
	if b.schema != nil {
		d, ok := b.schema.Lookup(name)
		return d.Type, ok
	}
	if cur, ok := b.values[name]; ok {
		return cur.Type(), true
	}
	return TypeInvalid, true
}

func (b *Blackboard) warnOnce(name string, t Type, msg string, args ...any) {
	key := name + "\x00" + t.String()
	if _, seen := b.warned[key]; seen {
		return
	}
	if b.warned == nil {
		b.warned = make(map[string]struct{})
	}
	b.warned[key] = struct{}{}
	b.logger.Warn(msg, args...)
}

// Stored returns the value written under name, ignoring schema defaults.
func (b *Blackboard) Stored(name string) (Value, bool) {
	v, ok := b.values[name]
	return v, ok
}

// Has reports whether name is declared or has been written.
func (b *Blackboard) Has(name string) bool {
	if _, ok := b.values[name]; ok {
		return true
	}
	_, ok := b.schema.Lookup(name)
	return ok
}

// Keys returns every declared or written name, sorted.
func (b *Blackboard) Keys() []string {
	seen := make(map[string]struct{}, len(b.values)+b.schema.Len())
	for k := range b.values {
		seen[k] = struct{}{}
	}
	for _, d := range b.schema.Vars() {
		seen[d.Name] = struct{}{}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot returns every visible variable converted with Value.Interface.
// The map is a copy; mutating it does not affect the blackboard.
func (b *Blackboard) Snapshot() map[string]any {
	keys := b.Keys()
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		out[k] = b.Get(k).Interface()
	}
	return out
}

// Reset drops every written value, so reads fall back to schema defaults.
func (b *Blackboard) Reset() {
	b.values = make(map[string]Value, b.schema.Len())
}
