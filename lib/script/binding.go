package script

import (
	"io"

	"github.com/ValentinKolb/sKV/lib/store"
	"github.com/ValentinKolb/sKV/lib/value"
	"github.com/dop251/goja"
)

// binding translates calls of one runtime into store accesses.
type binding struct {
	vm    *goja.Runtime
	store store.IStore
	out   io.Writer
}

// object builds the flat API object.
func (b *binding) object() *goja.Object {
	obj := b.vm.NewObject()
	for _, sc := range []struct {
		suffix string
		scope  store.Scope
	}{
		{"", store.ScopeSave},
		{"G", store.ScopeGlobal},
	} {
		_ = obj.Set("Set"+sc.suffix, b.set(sc.scope))
		_ = obj.Set("Get"+sc.suffix, b.get(sc.scope))
		_ = obj.Set("Del"+sc.suffix, b.keyed(sc.scope, store.ActionDel))
		_ = obj.Set("Exi"+sc.suffix, b.keyed(sc.scope, store.ActionExists))
		_ = obj.Set("All"+sc.suffix, b.all(sc.scope))
	}
	_ = obj.Set("Dump", b.dump)
	return obj
}

func (b *binding) set(scope store.Scope) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) != 2 {
			return b.vm.ToValue(false)
		}
		key, ok := keyArg(call.Argument(0))
		if !ok {
			return b.vm.ToValue(false)
		}
		v, ok := valueArg(call.Argument(1))
		if !ok {
			return b.vm.ToValue(false)
		}
		_, err := b.store.Access(scope, store.ActionSet, key, &v)
		return b.vm.ToValue(b.ok(store.ActionSet, scope, key, err))
	}
}

func (b *binding) get(scope store.Scope) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) != 1 {
			return b.vm.ToValue(false)
		}
		key, ok := keyArg(call.Argument(0))
		if !ok {
			return b.vm.ToValue(false)
		}
		res, err := b.store.Access(scope, store.ActionGet, key, nil)
		if !b.ok(store.ActionGet, scope, key, err) {
			return b.vm.ToValue(false)
		}
		if !res.OK {
			return goja.Undefined()
		}
		return b.vm.ToValue(res.Value.Any())
	}
}

// keyed handles the actions that take a key and return a boolean.
func (b *binding) keyed(scope store.Scope, action store.Action) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) != 1 {
			return b.vm.ToValue(false)
		}
		key, ok := keyArg(call.Argument(0))
		if !ok {
			return b.vm.ToValue(false)
		}
		res, err := b.store.Access(scope, action, key, nil)
		return b.vm.ToValue(b.ok(action, scope, key, err) && res.OK)
	}
}

func (b *binding) all(scope store.Scope) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		obj := b.vm.NewObject()
		res, err := b.store.Access(scope, store.ActionAll, "", nil)
		if !b.ok(store.ActionAll, scope, "", err) {
			return obj
		}
		for _, e := range res.Entries {
			_ = obj.Set(e.Key, e.Value.Any())
		}
		return obj
	}
}

func (b *binding) dump(goja.FunctionCall) goja.Value {
	if err := b.store.Dump(b.out, store.DumpText); err != nil {
		log.Warningf("dump failed: %v", err)
		return b.vm.ToValue(false)
	}
	return b.vm.ToValue(true)
}

// ok logs a failed access and reports whether it succeeded.
func (b *binding) ok(action store.Action, scope store.Scope, key string, err error) bool {
	if err == nil {
		return true
	}
	log.Debugf("%s %s %q rejected: %v", scope, action, key, err)
	return false
}

// --------------------------------------------------------------------------
// Conversion
// --------------------------------------------------------------------------

func keyArg(v goja.Value) (string, bool) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return "", false
	}
	s, ok := v.Export().(string)
	return s, ok
}

// valueArg accepts booleans, numbers and strings. goja exports integral
// numbers as int64.
func valueArg(v goja.Value) (value.Value, bool) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return value.Value{}, false
	}
	switch x := v.Export().(type) {
	case bool, string, float64, int64:
		out, err := value.FromAny(x)
		return out, err == nil
	default:
		return value.Value{}, false
	}
}
