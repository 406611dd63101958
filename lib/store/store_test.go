package store

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/sKV/lib/db"
	"github.com/ValentinKolb/sKV/lib/db/engines/memory"
	dbtesting "github.com/ValentinKolb/sKV/lib/db/testing"
	"github.com/ValentinKolb/sKV/lib/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// --------------------------------------------------------------------------
// Test Helpers
// --------------------------------------------------------------------------

var errInjected = errors.New("injected failure")

// faultyStore wraps a BackingStore and fails selected operations on demand.
type faultyStore struct {
	db.BackingStore
	mu         sync.Mutex
	failLoad   bool
	failUpsert bool
	failCopy   bool
	closed     int
}

func (f *faultyStore) set(fn func(f *faultyStore)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *faultyStore) LoadPartition(ctx context.Context, savefile string) ([]db.Row, error) {
	f.mu.Lock()
	fail := f.failLoad
	f.mu.Unlock()
	if fail {
		return nil, errInjected
	}
	return f.BackingStore.LoadPartition(ctx, savefile)
}

func (f *faultyStore) UpsertBatch(ctx context.Context, savefile string, entries []value.Entry) (db.UpsertResult, error) {
	f.mu.Lock()
	fail := f.failUpsert
	f.mu.Unlock()
	if fail {
		return db.UpsertResult{}, errInjected
	}
	return f.BackingStore.UpsertBatch(ctx, savefile, entries)
}

func (f *faultyStore) CopyPartition(ctx context.Context, from, to string, overwrite bool) (int, error) {
	f.mu.Lock()
	fail := f.failCopy
	f.mu.Unlock()
	if fail {
		return 0, errInjected
	}
	return f.BackingStore.CopyPartition(ctx, from, to, overwrite)
}

func (f *faultyStore) Close() error {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
	return nil // keep the wrapped store readable for assertions
}

type fixture struct {
	backing *faultyStore
	clock   *dbtesting.Clock
	store   *Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := dbtesting.NewClock(1_700_000_000)
	backing := &faultyStore{BackingStore: memory.NewMemoryStore(&db.Options{BatchSize: 2, Now: clock.Now})}
	f := &fixture{backing: backing, clock: clock}
	f.store = f.reopen(t)
	return f
}

// reopen creates a new Store on the same backing data.
func (f *fixture) reopen(t *testing.T) *Store {
	t.Helper()
	s, err := New(context.Background(), func(context.Context) (db.BackingStore, error) {
		return f.backing, nil
	}, Options{FlushInterval: time.Second, Now: f.clock.Now})
	require.NoError(t, err)
	return s
}

func (f *fixture) rows(t *testing.T, savefile string) map[string]db.Row {
	t.Helper()
	rows, err := f.backing.BackingStore.LoadPartition(context.Background(), savefile)
	require.NoError(t, err)
	out := make(map[string]db.Row, len(rows))
	for _, r := range rows {
		out[r.Key] = r
	}
	return out
}

func (f *fixture) values(t *testing.T, savefile string) map[string]value.Value {
	t.Helper()
	out := map[string]value.Value{}
	for k, r := range f.rows(t, savefile) {
		v, err := r.Decode()
		require.NoError(t, err)
		out[k] = v
	}
	return out
}

func mustSet(t *testing.T, s *Store, scope Scope, key string, v value.Value) {
	t.Helper()
	require.NoError(t, s.Set(scope, key, v))
}

// --------------------------------------------------------------------------
// Access
// --------------------------------------------------------------------------

func TestAccessGlobal(t *testing.T) {
	f := newFixture(t)
	s := f.store

	mustSet(t, s, ScopeGlobal, "b", value.Bool(true))
	mustSet(t, s, ScopeGlobal, "n", value.Number(3.5))
	mustSet(t, s, ScopeGlobal, "s", value.String("hi"))

	v, ok, err := s.Get(ScopeGlobal, "n")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, v.Equal(value.Number(3.5)))

	_, ok, err = s.Get(ScopeGlobal, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	exists, err := s.Exists(ScopeGlobal, "s")
	require.NoError(t, err)
	assert.True(t, exists)

	removed, err := s.Delete(ScopeGlobal, "s")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = s.Delete(ScopeGlobal, "s")
	require.NoError(t, err)
	assert.False(t, removed)

	all, err := s.All(ScopeGlobal)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "b", all[0].Key)
	assert.Equal(t, "n", all[1].Key)
}

func TestAccessInvalidArguments(t *testing.T) {
	s := newFixture(t).store

	_, err := s.Access(ScopeGlobal, ActionGet, "", nil)
	assert.True(t, IsCode(err, RetCInvalidArgument))

	_, err = s.Access(ScopeGlobal, ActionSet, "k", nil)
	assert.True(t, IsCode(err, RetCInvalidArgument))

	invalid := value.Value{}
	_, err = s.Access(ScopeGlobal, ActionSet, "k", &invalid)
	assert.True(t, IsCode(err, RetCInvalidArgument))

	_, err = s.Access(Scope(42), ActionGet, "k", nil)
	assert.True(t, IsCode(err, RetCInvalidOperation))
}

func TestNoActiveSlotGuard(t *testing.T) {
	f := newFixture(t)
	s := f.store

	for _, action := range []Action{ActionSet, ActionGet, ActionDel, ActionExists, ActionAll} {
		v := value.Number(1)
		_, err := s.Access(ScopeSave, action, "k", &v)
		assert.True(t, IsCode(err, RetCNoActiveSlot), "action %s", action)
	}

	// nothing was written anywhere
	assert.Equal(t, 0, s.Stats().SaveEntries)
	assert.False(t, s.Stats().SaveDirty)
	require.NoError(t, s.Flush(context.Background()))
	names, err := f.backing.Partitions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, names)
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

func TestPartitionIsolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.store

	require.NoError(t, s.OnLoad(ctx, "A"))
	mustSet(t, s, ScopeSave, "k", value.Number(1))
	mustSet(t, s, ScopeGlobal, "k", value.Number(2))
	require.NoError(t, s.OnSave(ctx, "A"))
	require.NoError(t, s.Flush(ctx))

	require.NoError(t, s.OnLoad(ctx, "B"))
	_, ok, err := s.Get(ScopeSave, "k")
	require.NoError(t, err)
	assert.False(t, ok, "slot B must not see keys of slot A")

	v, ok, err := s.Get(ScopeGlobal, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, v.Equal(value.Number(2)))

	assert.Len(t, f.values(t, "A"), 1)
	assert.Empty(t, f.values(t, "B"))
}

func TestRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.store

	require.NoError(t, s.OnLoad(ctx, "slot1"))
	mustSet(t, s, ScopeSave, "flag", value.Bool(true))
	mustSet(t, s, ScopeSave, "gold", value.Number(12.25))
	mustSet(t, s, ScopeSave, "name", value.String("Henry"))
	mustSet(t, s, ScopeGlobal, "runs", value.Number(3))
	require.NoError(t, s.OnSave(ctx, "slot1"))
	require.NoError(t, s.Close(ctx))

	s2 := f.reopen(t)
	require.NoError(t, s2.OnLoad(ctx, "slot1"))

	want := map[string]value.Value{
		"flag": value.Bool(true),
		"gold": value.Number(12.25),
		"name": value.String("Henry"),
	}
	for k, w := range want {
		v, ok, err := s2.Get(ScopeSave, k)
		require.NoError(t, err)
		require.True(t, ok, k)
		assert.True(t, v.Equal(w), "%s: got %s want %s", k, v, w)
		assert.Equal(t, w.Type(), v.Type())
	}

	v, ok, err := s2.Get(ScopeGlobal, "runs")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, v.Equal(value.Number(3)))
}

func TestDeletionReconciliation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.store

	mustSet(t, s, ScopeGlobal, "a", value.Number(1))
	mustSet(t, s, ScopeGlobal, "b", value.Number(2))
	require.NoError(t, s.Flush(ctx))
	require.Len(t, f.values(t, db.GlobalPartition), 2)

	_, err := s.Delete(ScopeGlobal, "a")
	require.NoError(t, err)
	assert.Len(t, f.values(t, db.GlobalPartition), 2, "delete must not touch the backing store")

	require.NoError(t, s.Flush(ctx))
	got := f.values(t, db.GlobalPartition)
	assert.NotContains(t, got, "a")
	assert.Contains(t, got, "b")

	// same for the save partition
	require.NoError(t, s.OnLoad(ctx, "A"))
	mustSet(t, s, ScopeSave, "x", value.Number(1))
	mustSet(t, s, ScopeSave, "y", value.Number(2))
	require.NoError(t, s.OnSave(ctx, "A"))
	_, err = s.Delete(ScopeSave, "x")
	require.NoError(t, err)
	require.NoError(t, s.OnSave(ctx, "A"))
	got = f.values(t, "A")
	assert.NotContains(t, got, "x")
	assert.Contains(t, got, "y")
}

func TestSaveAsCopiesPersistedRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.store

	require.NoError(t, s.OnLoad(ctx, "A"))
	mustSet(t, s, ScopeSave, "x", value.Number(1))
	mustSet(t, s, ScopeSave, "y", value.Number(2))
	require.NoError(t, s.OnSave(ctx, "A"))

	// x now only exists in the persisted rows of A
	removed, err := s.Delete(ScopeSave, "x")
	require.NoError(t, err)
	require.True(t, removed)
	mustSet(t, s, ScopeSave, "z", value.Number(3))

	want := map[string]float64{"x": 1, "y": 2, "z": 3}
	assertSlot := func(msg string) {
		t.Helper()
		b := f.values(t, "B")
		assert.Len(t, b, len(want), msg)
		for k, n := range want {
			require.Contains(t, b, k, msg)
			assert.True(t, b[k].Equal(value.Number(n)), msg)
		}
	}

	require.NoError(t, s.OnSave(ctx, "B"))
	assert.Equal(t, "B", s.ActiveSlot())
	assertSlot("after save-as")

	all, err := s.All(ScopeSave)
	require.NoError(t, err)
	keys := make([]string, 0, len(all))
	for _, e := range all {
		keys = append(keys, e.Key)
	}
	assert.ElementsMatch(t, []string{"x", "y", "z"}, keys, "carried keys are visible in memory")
	assert.False(t, s.Stats().SaveDirty)

	require.NoError(t, s.OnSave(ctx, "B"))
	assertSlot("after saving into the active slot")

	mustSet(t, s, ScopeSave, "y", value.Number(2))
	require.NoError(t, s.Flush(ctx))
	assertSlot("after flush")

	require.NoError(t, s.Close(ctx))
	assertSlot("after close")

	a := f.values(t, "A")
	assert.Len(t, a, 2, "the source slot is unchanged")
	assert.Contains(t, a, "x")
	assert.NotContains(t, a, "z")
}

func TestSaveAsOntoExistingSlotReconciles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.store

	require.NoError(t, s.OnLoad(ctx, "B"))
	mustSet(t, s, ScopeSave, "old", value.String("stale"))
	require.NoError(t, s.OnSave(ctx, "B"))

	require.NoError(t, s.OnLoad(ctx, "A"))
	mustSet(t, s, ScopeSave, "x", value.Number(1))
	require.NoError(t, s.OnSave(ctx, "B"))

	b := f.values(t, "B")
	assert.NotContains(t, b, "old")
	assert.Contains(t, b, "x")
}

func TestSaveWithoutActiveSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.store

	require.NoError(t, s.OnSave(ctx, "fresh"))
	assert.Equal(t, "fresh", s.ActiveSlot())

	mustSet(t, s, ScopeSave, "k", value.Bool(false))
	require.NoError(t, s.OnSave(ctx, "fresh"))
	assert.Contains(t, f.values(t, "fresh"), "k")
}

func TestIdempotentFlush(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.store

	mustSet(t, s, ScopeGlobal, "k", value.Number(1))
	require.NoError(t, s.Flush(ctx))
	before := f.rows(t, db.GlobalPartition)["k"]

	f.clock.Advance(10 * time.Second)
	require.NoError(t, s.Flush(ctx))
	flushed, err := s.Tick(ctx, f.clock.Now())
	require.NoError(t, err)
	assert.False(t, flushed)

	after := f.rows(t, db.GlobalPartition)["k"]
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt, "a clean partition must not be rewritten")
}

func TestTickRateLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.store
	t0 := time.Unix(1_000, 0)

	flushed, err := s.Tick(ctx, t0)
	require.NoError(t, err)
	assert.False(t, flushed, "clean partition")

	mustSet(t, s, ScopeGlobal, "k", value.Number(1))
	flushed, err = s.Tick(ctx, t0)
	require.NoError(t, err)
	assert.True(t, flushed, "first dirty tick flushes")

	mustSet(t, s, ScopeGlobal, "k", value.Number(2))
	for _, d := range []time.Duration{100 * time.Millisecond, 500 * time.Millisecond, 999 * time.Millisecond} {
		flushed, err = s.Tick(ctx, t0.Add(d))
		require.NoError(t, err)
		assert.False(t, flushed, "tick at +%s", d)
	}
	assert.True(t, f.values(t, db.GlobalPartition)["k"].Equal(value.Number(1)))

	flushed, err = s.Tick(ctx, t0.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, flushed)
	assert.True(t, f.values(t, db.GlobalPartition)["k"].Equal(value.Number(2)))
}

func TestTickIgnoresSavePartition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.store

	require.NoError(t, s.OnLoad(ctx, "A"))
	mustSet(t, s, ScopeSave, "k", value.Number(1))
	flushed, err := s.Tick(ctx, time.Unix(5, 0))
	require.NoError(t, err)
	assert.False(t, flushed)
	assert.Empty(t, f.values(t, "A"))
}

func TestLoadKeepsDirtyGlobal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.store

	mustSet(t, s, ScopeGlobal, "unflushed", value.Bool(true))
	require.NoError(t, s.OnLoad(ctx, "A"))

	_, ok, err := s.Get(ScopeGlobal, "unflushed")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, s.Stats().GlobalDirty)
}

func TestLoadReplacesSavePartition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.store

	require.NoError(t, s.OnLoad(ctx, "A"))
	mustSet(t, s, ScopeSave, "persisted", value.Number(1))
	require.NoError(t, s.OnSave(ctx, "A"))
	mustSet(t, s, ScopeSave, "unsaved", value.Number(2))

	require.NoError(t, s.OnLoad(ctx, "A"))
	_, ok, err := s.Get(ScopeSave, "unsaved")
	require.NoError(t, err)
	assert.False(t, ok, "reloading discards unsaved changes")
	assert.False(t, s.Stats().SaveDirty)
}

// --------------------------------------------------------------------------
// Failures
// --------------------------------------------------------------------------

func TestLoadFailureClearsActiveSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.store

	require.NoError(t, s.OnLoad(ctx, "A"))
	mustSet(t, s, ScopeSave, "k", value.Number(1))

	f.backing.set(func(f *faultyStore) { f.failLoad = true })
	err := s.OnLoad(ctx, "B")
	require.Error(t, err)
	assert.True(t, IsCode(err, RetCStorageError))
	assert.ErrorIs(t, err, errInjected)

	assert.Equal(t, "", s.ActiveSlot())
	assert.Equal(t, 0, s.Stats().SaveEntries)
	_, _, err = s.Get(ScopeSave, "k")
	assert.True(t, IsCode(err, RetCNoActiveSlot))
}

func TestSaveFailureKeepsState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.store

	require.NoError(t, s.OnLoad(ctx, "A"))
	mustSet(t, s, ScopeSave, "k", value.Number(1))

	f.backing.set(func(f *faultyStore) { f.failUpsert = true })
	err := s.OnSave(ctx, "A")
	require.Error(t, err)
	assert.True(t, IsCode(err, RetCStorageError))
	assert.True(t, s.Stats().SaveDirty)
	assert.Empty(t, f.values(t, "A"), "the failed transaction is rolled back")

	f.backing.set(func(f *faultyStore) { f.failUpsert = false })
	require.NoError(t, s.OnSave(ctx, "A"))
	assert.False(t, s.Stats().SaveDirty)
	assert.Contains(t, f.values(t, "A"), "k")
}

func TestSaveAsCopyFailureKeepsActiveSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.store

	require.NoError(t, s.OnLoad(ctx, "A"))
	mustSet(t, s, ScopeSave, "k", value.Number(1))
	require.NoError(t, s.OnSave(ctx, "A"))

	f.backing.set(func(f *faultyStore) { f.failCopy = true })
	err := s.OnSave(ctx, "B")
	require.Error(t, err)
	assert.Equal(t, "A", s.ActiveSlot())
	assert.Empty(t, f.values(t, "B"))
}

func TestTickFailureRetries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.store
	t0 := time.Unix(1_000, 0)

	mustSet(t, s, ScopeGlobal, "k", value.Number(1))
	f.backing.set(func(f *faultyStore) { f.failUpsert = true })
	flushed, err := s.Tick(ctx, t0)
	assert.True(t, flushed)
	require.Error(t, err)
	assert.True(t, s.Stats().GlobalDirty)

	f.backing.set(func(f *faultyStore) { f.failUpsert = false })
	flushed, err = s.Tick(ctx, t0.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, flushed)
	assert.False(t, s.Stats().GlobalDirty)
}

// --------------------------------------------------------------------------
// Close
// --------------------------------------------------------------------------

func TestCloseFlushesAndRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.store

	require.NoError(t, s.OnLoad(ctx, "A"))
	mustSet(t, s, ScopeSave, "s", value.Number(1))
	mustSet(t, s, ScopeGlobal, "g", value.Number(2))
	require.NoError(t, s.Close(ctx))
	require.NoError(t, s.Close(ctx), "close is idempotent")
	assert.Equal(t, 1, f.backing.closed)

	assert.Contains(t, f.values(t, "A"), "s")
	assert.Contains(t, f.values(t, db.GlobalPartition), "g")

	_, _, err := s.Get(ScopeGlobal, "g")
	assert.True(t, IsCode(err, RetCClosed))
	_, err = s.Tick(ctx, time.Now())
	assert.True(t, IsCode(err, RetCClosed))
	assert.True(t, IsCode(s.OnLoad(ctx, "A"), RetCClosed))
	assert.True(t, IsCode(s.OnSave(ctx, "A"), RetCClosed))
}

// --------------------------------------------------------------------------
// Slots and Dump
// --------------------------------------------------------------------------

func TestSlotsAndCopy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.store

	require.NoError(t, s.OnLoad(ctx, "A"))
	mustSet(t, s, ScopeSave, "k", value.Number(1))
	require.NoError(t, s.OnSave(ctx, "A"))

	n, err := s.CopySlot(ctx, "A", "C", false)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.CopySlot(ctx, "C", "A", true)
	assert.True(t, IsCode(err, RetCInvalidOperation), "copy into the active slot")
	_, err = s.CopySlot(ctx, "A", "A", true)
	assert.True(t, IsCode(err, RetCInvalidArgument))

	names, err := s.Slots(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "C"}, names)
}

func TestDump(t *testing.T) {
	f := newFixture(t)
	s := f.store
	mustSet(t, s, ScopeGlobal, "flag", value.Bool(true))

	var buf bytes.Buffer
	require.NoError(t, s.Dump(&buf, DumpText))
	out := buf.String()
	assert.Contains(t, out, "[Global Data]")
	assert.Contains(t, out, "flag  Boolean  true")
	assert.Contains(t, out, "[Save Data For : No active save file]")

	buf.Reset()
	require.NoError(t, s.Dump(&buf, DumpYAML))
	var doc dumpDoc
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &doc))
	require.Len(t, doc.Global.Entries, 1)
	assert.Equal(t, "flag", doc.Global.Entries[0].Key)
	assert.Equal(t, "Boolean", doc.Global.Entries[0].Type)
	assert.Equal(t, true, doc.Global.Entries[0].Value)

	assert.True(t, IsCode(s.Dump(&buf, "xml"), RetCInvalidArgument))
}

func TestConcurrentAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.store
	require.NoError(t, s.OnLoad(ctx, "A"))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = s.Set(ScopeGlobal, "g", value.Number(float64(j)))
				_ = s.Set(ScopeSave, "s", value.Number(float64(i)))
				_, _ = s.Tick(ctx, time.Unix(int64(j), 0))
			}
		}(i)
	}
	wg.Wait()
	require.NoError(t, s.Flush(ctx))
	assert.False(t, s.Stats().GlobalDirty)
}
