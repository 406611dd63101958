package memory

import (
	"testing"

	"github.com/ValentinKolb/sKV/lib/db"
	dbtesting "github.com/ValentinKolb/sKV/lib/db/testing"
)

func Test(t *testing.T) {
	dbtesting.RunBackingStoreTests(t, "Memory", func(opts *db.Options) db.BackingStore {
		return NewMemoryStore(opts)
	})
}

func Benchmark(b *testing.B) {
	dbtesting.RunBackingStoreBenchmarks(b, "Memory", func(opts *db.Options) db.BackingStore {
		return NewMemoryStore(opts)
	})
}
