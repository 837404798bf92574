package blackboard

import (
	"github.com/dop251/goja"
)

// ExposeToJS creates a JavaScript object with accessor methods for this
// blackboard:
//
//	blackboard.get("key")          // plain JS value, or undefined
//	blackboard.set("key", value)   // true if stored
//	blackboard.has("key")
//	blackboard.keys()
//
// Values written from JS are coerced to the declared type, so a JS number
// can be stored into an int variable when it is integral.
//
// The returned object must only be used on the goroutine that ticks the
// owning agent.
func (b *Blackboard) ExposeToJS(vm *goja.Runtime) goja.Value {
	obj := vm.NewObject()
	// Set cannot fail for plain identifier keys on a fresh object.
	_ = obj.Set("get", func(name string) goja.Value {
		v := b.Get(name)
		if !v.IsValid() {
			return goja.Undefined()
		}
		return vm.ToValue(v.Interface())
	})
	_ = obj.Set("set", func(name string, raw goja.Value) bool {
		if raw == nil || goja.IsUndefined(raw) || goja.IsNull(raw) {
			return false
		}
		want, declared := b.expectedType(name)
		if !declared {
			b.warnOnce(name, TypeInvalid, "[Blackboard] script write to undeclared variable ignored", "name", name)
			return false
		}
		var (
			v   Value
			err error
		)
		if want == TypeInvalid {
			v, err = FromAny(raw.Export())
		} else {
			v, err = Coerce(raw.Export(), want)
		}
		if err != nil {
			b.warnOnce(name, want, "[Blackboard] script write ignored", "name", name, "error", err)
			return false
		}
		return b.Set(name, v)
	})
	_ = obj.Set("has", b.Has)
	_ = obj.Set("keys", b.Keys)
	return obj
}
