package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ValentinKolb/sKV/lib/db"
	dbtesting "github.com/ValentinKolb/sKV/lib/db/testing"
)

func Test(t *testing.T) {
	dbtesting.RunBackingStoreTests(t, "SQLite", func(opts *db.Options) db.BackingStore {
		store, err := Open(context.Background(), filepath.Join(t.TempDir(), "skv.db"), opts)
		if err != nil {
			t.Fatalf("open sqlite store: %v", err)
		}
		return store
	})
}

func Benchmark(b *testing.B) {
	dbtesting.RunBackingStoreBenchmarks(b, "SQLite", func(opts *db.Options) db.BackingStore {
		store, err := Open(context.Background(), filepath.Join(b.TempDir(), "skv.db"), opts)
		if err != nil {
			b.Fatalf("open sqlite store: %v", err)
		}
		return store
	})
}
