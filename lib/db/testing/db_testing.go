package testing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/sKV/lib/db"
	"github.com/ValentinKolb/sKV/lib/value"
)

// StoreFactory creates a new, empty BackingStore using the given options.
type StoreFactory func(opts *db.Options) db.BackingStore

// Clock is a manually advanced clock for created_at / updated_at checks.
type Clock struct {
	sec atomic.Int64
}

// NewClock creates a clock starting at the given unix second.
func NewClock(start int64) *Clock {
	c := &Clock{}
	c.sec.Store(start)
	return c
}

// Now returns the current clock time.
func (c *Clock) Now() time.Time { return time.Unix(c.sec.Load(), 0) }

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) { c.sec.Add(int64(d / time.Second)) }

// RunBackingStoreTests runs the conformance suite for a BackingStore implementation.
func RunBackingStoreTests(t *testing.T, name string, factory StoreFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("EnsureSchema", func(t *testing.T) {
			testEnsureSchema(t, factory)
		})

		t.Run("UpsertLoad", func(t *testing.T) {
			testUpsertLoad(t, factory)
		})

		t.Run("Timestamps", func(t *testing.T) {
			testTimestamps(t, factory)
		})

		t.Run("PartitionIsolation", func(t *testing.T) {
			testPartitionIsolation(t, factory)
		})

		t.Run("DeleteMissing", func(t *testing.T) {
			testDeleteMissing(t, factory)
		})

		t.Run("CopyPartition", func(t *testing.T) {
			testCopyPartition(t, factory)
		})

		t.Run("Chunking", func(t *testing.T) {
			testChunking(t, factory)
		})

		t.Run("InvalidValue", func(t *testing.T) {
			testInvalidValue(t, factory)
		})

		t.Run("Transactions", func(t *testing.T) {
			testTransactions(t, factory)
		})

		t.Run("NestedTransactions", func(t *testing.T) {
			testNestedTransactions(t, factory)
		})

		t.Run("Partitions", func(t *testing.T) {
			testPartitions(t, factory)
		})

		t.Run("Vacuum", func(t *testing.T) {
			testVacuum(t, factory)
		})

		t.Run("Closed", func(t *testing.T) {
			testClosed(t, factory)
		})

		t.Run("Concurrent", func(t *testing.T) {
			testConcurrent(t, factory)
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

func entries(kv ...any) []value.Entry {
	out := make([]value.Entry, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		v, err := value.FromAny(kv[i+1])
		if err != nil {
			panic(err)
		}
		out = append(out, value.Entry{Key: kv[i].(string), Value: v})
	}
	return out
}

// loadMap loads a partition and decodes it into a key -> value map
func loadMap(t testing.TB, store db.BackingStore, savefile string) map[string]value.Value {
	t.Helper()
	rows, err := store.LoadPartition(context.Background(), savefile)
	if err != nil {
		t.Fatalf("LoadPartition(%q) failed: %v", savefile, err)
	}
	out := make(map[string]value.Value, len(rows))
	for _, r := range rows {
		v, err := r.Decode()
		if err != nil {
			t.Fatalf("decode row %q: %v", r.Key, err)
		}
		out[r.Key] = v
	}
	return out
}

func expectValue(t testing.TB, got map[string]value.Value, key string, want value.Value) {
	t.Helper()
	v, ok := got[key]
	if !ok {
		t.Errorf("expected key %q to exist", key)
		return
	}
	if !v.Equal(want) {
		t.Errorf("key %q: expected %s, got %s", key, want, v)
	}
}

func mustUpsert(t testing.TB, store db.BackingStore, savefile string, e []value.Entry) {
	t.Helper()
	res, err := store.UpsertBatch(context.Background(), savefile, e)
	if err != nil {
		t.Fatalf("UpsertBatch(%q) failed: %v", savefile, err)
	}
	if res.Failed != 0 {
		t.Fatalf("UpsertBatch(%q): %d rows failed", savefile, res.Failed)
	}
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testEnsureSchema(t *testing.T, factory StoreFactory) {
	store := factory(nil)
	defer store.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := store.EnsureSchema(ctx); err != nil {
			t.Fatalf("EnsureSchema call %d failed: %v", i+1, err)
		}
	}

	mustUpsert(t, store, "", entries("k", "v"))
	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema on populated store failed: %v", err)
	}
	if got := loadMap(t, store, ""); len(got) != 1 {
		t.Errorf("EnsureSchema must not touch existing rows, got %d rows", len(got))
	}
}

func testUpsertLoad(t *testing.T, factory StoreFactory) {
	store := factory(nil)
	defer store.Close()

	mustUpsert(t, store, "slot", entries(
		"bool", true,
		"number", 42.5,
		"string", "hello",
		"empty", "",
	))

	rows, err := store.LoadPartition(context.Background(), "slot")
	if err != nil {
		t.Fatalf("LoadPartition failed: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("expected 4 rows, got %d", len(rows))
	}

	// row id order equals insertion order
	wantOrder := []string{"bool", "number", "string", "empty"}
	for i, r := range rows {
		if r.Key != wantOrder[i] {
			t.Errorf("row %d: expected key %q, got %q", i, wantOrder[i], r.Key)
		}
		if r.Savefile != "slot" {
			t.Errorf("row %d: expected savefile slot, got %q", i, r.Savefile)
		}
		if i > 0 && rows[i-1].RowID >= r.RowID {
			t.Errorf("row ids not increasing: %d then %d", rows[i-1].RowID, r.RowID)
		}
	}
	if rows[0].Type != value.TypeBool || rows[0].Value != "1" {
		t.Errorf("expected bool row (2, \"1\"), got (%d, %q)", rows[0].Type, rows[0].Value)
	}
	if rows[1].Type != value.TypeNumber || rows[1].Value != "42.5" {
		t.Errorf("expected number row (4, \"42.5\"), got (%d, %q)", rows[1].Type, rows[1].Value)
	}

	// overwrite keeps the row position
	mustUpsert(t, store, "slot", entries("bool", false))
	rows, _ = store.LoadPartition(context.Background(), "slot")
	if rows[0].Key != "bool" || rows[0].Value != "0" {
		t.Errorf("expected overwritten bool row first, got %q=%q", rows[0].Key, rows[0].Value)
	}

	if rows, _ := store.LoadPartition(context.Background(), "unknown"); len(rows) != 0 {
		t.Errorf("expected empty partition, got %d rows", len(rows))
	}
}

func testTimestamps(t *testing.T, factory StoreFactory) {
	clock := NewClock(1_700_000_000)
	store := factory(&db.Options{Now: clock.Now})
	defer store.Close()

	mustUpsert(t, store, "", entries("k", 1))
	clock.Advance(10 * time.Second)
	mustUpsert(t, store, "", entries("k", 2))

	rows, err := store.LoadPartition(context.Background(), "")
	if err != nil || len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d (%v)", len(rows), err)
	}
	if rows[0].CreatedAt != 1_700_000_000 {
		t.Errorf("created_at must be preserved, got %d", rows[0].CreatedAt)
	}
	if rows[0].UpdatedAt != 1_700_000_010 {
		t.Errorf("updated_at must follow the last write, got %d", rows[0].UpdatedAt)
	}
}

func testPartitionIsolation(t *testing.T, factory StoreFactory) {
	store := factory(nil)
	defer store.Close()

	mustUpsert(t, store, "", entries("k", "global"))
	mustUpsert(t, store, "A", entries("k", "slot A"))
	mustUpsert(t, store, "B", entries("k", "slot B"))

	expectValue(t, loadMap(t, store, ""), "k", value.String("global"))
	expectValue(t, loadMap(t, store, "A"), "k", value.String("slot A"))
	expectValue(t, loadMap(t, store, "B"), "k", value.String("slot B"))
}

func testDeleteMissing(t *testing.T, factory StoreFactory) {
	store := factory(nil)
	defer store.Close()
	ctx := context.Background()

	mustUpsert(t, store, "", entries("a", 1, "b", 2, "c", 3))
	mustUpsert(t, store, "slot", entries("a", 1, "b", 2))

	deleted, err := store.DeleteMissing(ctx, "", []string{"b", "not-persisted"})
	if err != nil {
		t.Fatalf("DeleteMissing failed: %v", err)
	}
	if deleted != 2 {
		t.Errorf("expected 2 deleted rows, got %d", deleted)
	}
	got := loadMap(t, store, "")
	if len(got) != 1 {
		t.Errorf("expected 1 remaining row, got %d", len(got))
	}
	expectValue(t, got, "b", value.Number(2))

	// other partitions are untouched
	if got := loadMap(t, store, "slot"); len(got) != 2 {
		t.Errorf("DeleteMissing leaked into other partition: %d rows left", len(got))
	}

	// no keys present -> partition emptied
	deleted, err = store.DeleteMissing(ctx, "slot", nil)
	if err != nil {
		t.Fatalf("DeleteMissing(nil) failed: %v", err)
	}
	if deleted != 2 {
		t.Errorf("expected 2 deleted rows, got %d", deleted)
	}
	if ok, _ := store.HasPartition(ctx, "slot"); ok {
		t.Errorf("expected partition slot to be empty")
	}
}

func testCopyPartition(t *testing.T, factory StoreFactory) {
	clock := NewClock(1_000)
	store := factory(&db.Options{Now: clock.Now})
	defer store.Close()
	ctx := context.Background()

	mustUpsert(t, store, "A", entries("x", 1, "y", 2))
	mustUpsert(t, store, "B", entries("y", "kept"))
	clock.Advance(5 * time.Second)

	copied, err := store.CopyPartition(ctx, "A", "B", false)
	if err != nil {
		t.Fatalf("CopyPartition failed: %v", err)
	}
	if copied != 1 {
		t.Errorf("expected 1 copied row, got %d", copied)
	}
	got := loadMap(t, store, "B")
	expectValue(t, got, "x", value.Number(1))
	expectValue(t, got, "y", value.String("kept"))

	// copied rows get fresh timestamps
	rows, _ := store.LoadPartition(ctx, "B")
	for _, r := range rows {
		if r.Key == "x" && r.CreatedAt != 1_005 {
			t.Errorf("copied row must get a fresh created_at, got %d", r.CreatedAt)
		}
	}

	// idempotent
	copied, err = store.CopyPartition(ctx, "A", "B", false)
	if err != nil || copied != 0 {
		t.Errorf("second copy must be a no-op, copied=%d err=%v", copied, err)
	}

	// source untouched
	if got := loadMap(t, store, "A"); len(got) != 2 {
		t.Errorf("source partition changed: %d rows", len(got))
	}

	// overwrite replaces existing keys
	copied, err = store.CopyPartition(ctx, "A", "B", true)
	if err != nil {
		t.Fatalf("CopyPartition(overwrite) failed: %v", err)
	}
	if copied != 2 {
		t.Errorf("expected 2 copied rows with overwrite, got %d", copied)
	}
	expectValue(t, loadMap(t, store, "B"), "y", value.Number(2))

	// copy onto itself and from an empty partition
	if n, err := store.CopyPartition(ctx, "A", "A", true); err != nil || n != 0 {
		t.Errorf("self copy must be a no-op, copied=%d err=%v", n, err)
	}
	if n, err := store.CopyPartition(ctx, "empty", "C", false); err != nil || n != 0 {
		t.Errorf("copy of empty partition must be a no-op, copied=%d err=%v", n, err)
	}
}

func testChunking(t *testing.T, factory StoreFactory) {
	store := factory(&db.Options{BatchSize: 3})
	defer store.Close()
	ctx := context.Background()

	for _, n := range []int{0, 1, 3, 9, 10} {
		var e []value.Entry
		for i := 0; i < n; i++ {
			e = append(e, value.Entry{Key: fmt.Sprintf("key-%02d", i), Value: value.Number(float64(i))})
		}
		src := fmt.Sprintf("src-%d", n)
		dst := fmt.Sprintf("dst-%d", n)

		res, err := store.UpsertBatch(ctx, src, e)
		if err != nil {
			t.Fatalf("UpsertBatch(%d entries) failed: %v", n, err)
		}
		if res.Written != n {
			t.Errorf("expected %d written rows, got %d", n, res.Written)
		}

		copied, err := store.CopyPartition(ctx, src, dst, false)
		if err != nil {
			t.Fatalf("CopyPartition(%d rows) failed: %v", n, err)
		}
		if copied != n {
			t.Errorf("expected %d copied rows, got %d", n, copied)
		}
		rows, _ := store.LoadPartition(ctx, dst)
		for i, r := range rows {
			if want := fmt.Sprintf("key-%02d", i); r.Key != want {
				t.Errorf("copy must keep source order: row %d is %q, want %q", i, r.Key, want)
			}
		}
	}
}

func testInvalidValue(t *testing.T, factory StoreFactory) {
	store := factory(nil)
	defer store.Close()

	res, err := store.UpsertBatch(context.Background(), "", []value.Entry{
		{Key: "good", Value: value.Bool(true)},
		{Key: "bad", Value: value.Value{}},
		{Key: "also-good", Value: value.String("ok")},
	})
	if err != nil {
		t.Fatalf("a single bad row must not fail the batch: %v", err)
	}
	if res.Written != 2 || res.Failed != 1 {
		t.Errorf("expected 2 written / 1 failed, got %d / %d", res.Written, res.Failed)
	}
	got := loadMap(t, store, "")
	if _, ok := got["bad"]; ok {
		t.Errorf("invalid value must not be stored")
	}
	if len(got) != 2 {
		t.Errorf("expected 2 rows, got %d", len(got))
	}
}

func testTransactions(t *testing.T, factory StoreFactory) {
	store := factory(nil)
	defer store.Close()
	ctx := context.Background()

	mustUpsert(t, store, "", entries("keep", 1, "drop", 2))

	// commit: delete + upsert atomically
	err := store.Tx(ctx, func(ctx context.Context) error {
		if _, err := store.DeleteMissing(ctx, "", []string{"keep", "new"}); err != nil {
			return err
		}
		_, err := store.UpsertBatch(ctx, "", entries("keep", 10, "new", 3))
		return err
	})
	if err != nil {
		t.Fatalf("Tx failed: %v", err)
	}
	got := loadMap(t, store, "")
	if len(got) != 2 {
		t.Errorf("expected 2 rows after commit, got %d", len(got))
	}
	expectValue(t, got, "keep", value.Number(10))
	expectValue(t, got, "new", value.Number(3))

	// rollback
	errAbort := errors.New("abort")
	err = store.Tx(ctx, func(ctx context.Context) error {
		if _, err := store.DeleteMissing(ctx, "", nil); err != nil {
			return err
		}
		if _, err := store.UpsertBatch(ctx, "", entries("ghost", true)); err != nil {
			return err
		}
		// writes are visible inside the transaction
		rows, err := store.LoadPartition(ctx, "")
		if err != nil {
			return err
		}
		if len(rows) != 1 || rows[0].Key != "ghost" {
			t.Errorf("expected uncommitted state inside tx, got %d rows", len(rows))
		}
		return errAbort
	})
	if !errors.Is(err, errAbort) {
		t.Fatalf("expected abort error, got %v", err)
	}
	got = loadMap(t, store, "")
	if _, ok := got["ghost"]; ok {
		t.Errorf("rolled back row must not exist")
	}
	if len(got) != 2 {
		t.Errorf("rollback must restore deleted rows, got %d rows", len(got))
	}
}

func testNestedTransactions(t *testing.T, factory StoreFactory) {
	store := factory(&db.Options{BatchSize: 2})
	defer store.Close()
	ctx := context.Background()

	errAbort := errors.New("abort")
	err := store.Tx(ctx, func(outer context.Context) error {
		inner := store.Tx(outer, func(ctx context.Context) error {
			// chunked writes join the outer transaction as well
			_, err := store.UpsertBatch(ctx, "", entries("a", 1, "b", 2, "c", 3, "d", 4, "e", 5))
			return err
		})
		if inner != nil {
			return inner
		}
		if _, err := store.CopyPartition(outer, "", "copy", false); err != nil {
			return err
		}
		return errAbort
	})
	if !errors.Is(err, errAbort) {
		t.Fatalf("expected abort error, got %v", err)
	}
	if got := loadMap(t, store, ""); len(got) != 0 {
		t.Errorf("nested writes must roll back with the outer transaction, got %d rows", len(got))
	}
	if got := loadMap(t, store, "copy"); len(got) != 0 {
		t.Errorf("copy must roll back with the outer transaction, got %d rows", len(got))
	}
}

func testPartitions(t *testing.T, factory StoreFactory) {
	store := factory(nil)
	defer store.Close()
	ctx := context.Background()

	names, err := store.Partitions(ctx)
	if err != nil {
		t.Fatalf("Partitions failed: %v", err)
	}
	if len(names) != 0 {
		t.Errorf("expected no partitions, got %v", names)
	}

	mustUpsert(t, store, "", entries("g", 1))
	mustUpsert(t, store, "save-b", entries("k", 1))
	mustUpsert(t, store, "save-a", entries("k", 1, "l", 2))

	names, _ = store.Partitions(ctx)
	if len(names) != 2 || names[0] != "save-a" || names[1] != "save-b" {
		t.Errorf("expected [save-a save-b], got %v", names)
	}

	if ok, _ := store.HasPartition(ctx, "save-a"); !ok {
		t.Errorf("expected save-a to exist")
	}
	if ok, _ := store.HasPartition(ctx, ""); !ok {
		t.Errorf("expected global partition to exist")
	}
	if ok, _ := store.HasPartition(ctx, "save-c"); ok {
		t.Errorf("expected save-c to be absent")
	}

	info, err := store.GetInfo(ctx)
	if err != nil {
		t.Fatalf("GetInfo failed: %v", err)
	}
	if info.Rows != 4 || info.Partitions != 2 {
		t.Errorf("expected 4 rows in 2 partitions, got %d in %d", info.Rows, info.Partitions)
	}
}

func testVacuum(t *testing.T, factory StoreFactory) {
	store := factory(nil)
	defer store.Close()
	ctx := context.Background()

	mustUpsert(t, store, "", entries("k", 1))
	if err := store.Vacuum(ctx); err != nil {
		t.Errorf("Vacuum failed: %v", err)
	}
	err := store.Tx(ctx, func(ctx context.Context) error {
		return store.Vacuum(ctx)
	})
	if err == nil {
		t.Errorf("Vacuum inside a transaction must fail")
	}
	expectValue(t, loadMap(t, store, ""), "k", value.Number(1))
}

func testClosed(t *testing.T, factory StoreFactory) {
	store := factory(nil)
	ctx := context.Background()

	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("second Close must be a no-op, got %v", err)
	}

	if _, err := store.LoadPartition(ctx, ""); !errors.Is(err, db.ErrClosed) {
		t.Errorf("LoadPartition: expected ErrClosed, got %v", err)
	}
	if _, err := store.UpsertBatch(ctx, "", entries("k", 1)); !errors.Is(err, db.ErrClosed) {
		t.Errorf("UpsertBatch: expected ErrClosed, got %v", err)
	}
	if _, err := store.DeleteMissing(ctx, "", nil); !errors.Is(err, db.ErrClosed) {
		t.Errorf("DeleteMissing: expected ErrClosed, got %v", err)
	}
	if err := store.Tx(ctx, func(context.Context) error { return nil }); !errors.Is(err, db.ErrClosed) {
		t.Errorf("Tx: expected ErrClosed, got %v", err)
	}
}

func testConcurrent(t *testing.T, factory StoreFactory) {
	store := factory(&db.Options{BatchSize: 5})
	defer store.Close()
	ctx := context.Background()

	const workers = 8
	const perWorker = 20

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			var e []value.Entry
			for i := 0; i < perWorker; i++ {
				e = append(e, value.Entry{Key: fmt.Sprintf("w%d-k%d", w, i), Value: value.Number(float64(i))})
			}
			err := store.Tx(ctx, func(ctx context.Context) error {
				_, err := store.UpsertBatch(ctx, "", e)
				return err
			})
			if err != nil {
				errs <- err
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent upsert failed: %v", err)
	}

	if got := loadMap(t, store, ""); len(got) != workers*perWorker {
		t.Errorf("expected %d rows, got %d", workers*perWorker, len(got))
	}
}
