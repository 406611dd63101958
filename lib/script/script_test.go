package script

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/ValentinKolb/sKV/lib/db"
	"github.com/ValentinKolb/sKV/lib/db/engines/memory"
	"github.com/ValentinKolb/sKV/lib/store"
	"github.com/ValentinKolb/sKV/lib/value"
	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHost(t *testing.T) (*Host, *store.Store, *bytes.Buffer) {
	t.Helper()
	s, err := store.New(context.Background(), func(context.Context) (db.BackingStore, error) {
		return memory.NewMemoryStore(nil), nil
	}, store.DefaultOptions())
	require.NoError(t, err)
	out := &bytes.Buffer{}
	return NewHost(s, Options{Output: out}), s, out
}

func run(t *testing.T, rt *Runtime, src string) any {
	t.Helper()
	res, err := rt.RunString(context.Background(), src)
	require.NoError(t, err)
	return res
}

func TestFlatGlobalAPI(t *testing.T) {
	h, s, _ := newTestHost(t)
	rt, err := h.Runtime("main")
	require.NoError(t, err)

	assert.Equal(t, true, run(t, rt, `LuaDB.SetG("b", true)`))
	assert.Equal(t, true, run(t, rt, `LuaDB.SetG("n", 1.5)`))
	assert.Equal(t, true, run(t, rt, `LuaDB.SetG("i", 7)`))
	assert.Equal(t, true, run(t, rt, `LuaDB.SetG("s", "text")`))

	assert.Equal(t, 1.5, run(t, rt, `LuaDB.GetG("n")`))
	assert.Equal(t, "text", run(t, rt, `LuaDB.GetG("s")`))
	assert.Equal(t, true, run(t, rt, `LuaDB.GetG("missing") === undefined`))
	assert.Equal(t, true, run(t, rt, `LuaDB.ExiG("b")`))
	assert.Equal(t, true, run(t, rt, `LuaDB.DelG("b")`))
	assert.Equal(t, false, run(t, rt, `LuaDB.DelG("b")`))
	assert.Equal(t, "n,i,s", run(t, rt, `Object.keys(LuaDB.AllG()).join(",")`))

	v, ok, err := s.Get(store.ScopeGlobal, "i")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, v.Equal(value.Number(7)))
}

func TestCallerErrorsReturnFalse(t *testing.T) {
	h, _, _ := newTestHost(t)
	rt, err := h.Runtime("main")
	require.NoError(t, err)

	for _, src := range []string{
		`LuaDB.SetG("k")`,
		`LuaDB.SetG("k", 1, 2)`,
		`LuaDB.SetG(1, 1)`,
		`LuaDB.SetG("k", {a: 1})`,
		`LuaDB.SetG("k", null)`,
		`LuaDB.SetG("k", undefined)`,
		`LuaDB.GetG()`,
		`LuaDB.DelG()`,
		`LuaDB.ExiG(5)`,
		// no active save-slot
		`LuaDB.Set("k", 1)`,
		`LuaDB.Get("k")`,
		`LuaDB.Del("k")`,
		`LuaDB.Exi("k")`,
	} {
		assert.Equal(t, false, run(t, rt, src), src)
	}
	assert.Equal(t, 0.0, toFloat(run(t, rt, `Object.keys(LuaDB.All()).length`)))
}

func TestSaveScope(t *testing.T) {
	h, s, _ := newTestHost(t)
	ctx := context.Background()
	require.NoError(t, s.OnLoad(ctx, "A"))

	rt, err := h.Runtime("main")
	require.NoError(t, err)
	assert.Equal(t, true, run(t, rt, `LuaDB.Set("k", "v")`))
	assert.Equal(t, "v", run(t, rt, `LuaDB.Get("k")`))
	assert.Equal(t, false, run(t, rt, `LuaDB.ExiG("k")`))
}

func TestJSONWrapper(t *testing.T) {
	h, s, _ := newTestHost(t)
	require.NoError(t, s.OnLoad(context.Background(), "A"))
	rt, err := h.Runtime("main")
	require.NoError(t, err)

	run(t, rt, `DB.L.quest = {stage: 3, done: false}`)
	assert.Equal(t, 3.0, toFloat(run(t, rt, `DB.L.quest.stage`)))

	run(t, rt, `DB.G.runs = (DB.G.runs || 0) + 1; DB.G.runs = DB.G.runs + 1`)
	assert.Equal(t, 2.0, toFloat(run(t, rt, `DB.G.runs`)))

	// raw row holds the JSON text
	v, ok, err := s.Get(store.ScopeSave, "quest")
	require.NoError(t, err)
	require.True(t, ok)
	raw, _ := v.AsString()
	assert.JSONEq(t, `{"stage":3,"done":false}`, raw)

	run(t, rt, `DB.L.quest = null`)
	_, ok, err = s.Get(store.ScopeSave, "quest")
	require.NoError(t, err)
	assert.False(t, ok)

	// flat values written without the wrapper are read back as-is
	run(t, rt, `LuaDB.SetG("plain", "not json")`)
	assert.Equal(t, "not json", run(t, rt, `DB.GetG("plain")`))
}

func TestNamespaces(t *testing.T) {
	h, s, _ := newTestHost(t)
	rt, err := h.Runtime("main")
	require.NoError(t, err)

	run(t, rt, `var m = DB.Create("mod"); m.SetG("seen", true); DB.SetG("other", 1)`)
	assert.Equal(t, true, run(t, rt, `m.GetG("seen")`))
	assert.Equal(t, "seen", run(t, rt, `Object.keys(m.AllG()).join(",")`))

	ok, err := s.Exists(store.ScopeGlobal, "mod:seen")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = rt.RunString(context.Background(), `DB.Create("a:b")`)
	assert.Error(t, err)
}

func TestDump(t *testing.T) {
	h, _, out := newTestHost(t)
	rt, err := h.Runtime("main")
	require.NoError(t, err)

	run(t, rt, `LuaDB.SetG("flag", true)`)
	assert.Equal(t, true, run(t, rt, `LuaDB.Dump()`))
	assert.Contains(t, out.String(), "[Global Data]")
	assert.Contains(t, out.String(), "flag  Boolean  true")
}

func TestHostRuntimes(t *testing.T) {
	h, _, _ := newTestHost(t)

	a, err := h.Runtime("a")
	require.NoError(t, err)
	again, err := h.Runtime("a")
	require.NoError(t, err)
	assert.Same(t, a, again)

	_, err = h.Runtime("b")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, h.Names())

	// runtimes share the store, not their script state
	run(t, a, `var local = 1; LuaDB.SetG("shared", 2)`)
	b, _ := h.Runtime("b")
	assert.Equal(t, "undefined", run(t, b, `typeof local`))
	assert.Equal(t, 2.0, toFloat(run(t, b, `LuaDB.GetG("shared")`)))

	h.Remove("a")
	assert.Equal(t, []string{"b"}, h.Names())
}

func TestCustomGlobalName(t *testing.T) {
	_, s, _ := newTestHost(t)
	h := NewHost(s, Options{GlobalName: "KV"})
	rt, err := h.Runtime("main")
	require.NoError(t, err)
	assert.Equal(t, true, run(t, rt, `KV.SetG("k", 1)`))
	assert.Equal(t, "undefined", run(t, rt, `typeof LuaDB`))
}

func TestInterruptOnCancel(t *testing.T) {
	h, _, _ := newTestHost(t)
	rt, err := h.Runtime("main")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = rt.RunString(ctx, `for (;;) {}`)
	var interrupted *goja.InterruptedError
	assert.ErrorAs(t, err, &interrupted)

	// the runtime stays usable
	assert.Equal(t, true, run(t, rt, `LuaDB.SetG("after", 1)`))
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case float64:
		return n
	default:
		return -1
	}
}
