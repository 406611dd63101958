package testing

import (
	"context"
	"fmt"
	"testing"

	"github.com/ValentinKolb/sKV/lib/value"
)

// RunBackingStoreBenchmarks runs the flush and load benchmarks for a BackingStore implementation.
func RunBackingStoreBenchmarks(b *testing.B, name string, factory StoreFactory) {
	b.Run(name, func(b *testing.B) {
		for _, size := range []int{10, 100, 1000} {
			b.Run(fmt.Sprintf("Upsert/%d", size), func(b *testing.B) {
				benchmarkUpsert(b, factory, size)
			})
			b.Run(fmt.Sprintf("Flush/%d", size), func(b *testing.B) {
				benchmarkFlush(b, factory, size)
			})
			b.Run(fmt.Sprintf("Load/%d", size), func(b *testing.B) {
				benchmarkLoad(b, factory, size)
			})
			b.Run(fmt.Sprintf("Copy/%d", size), func(b *testing.B) {
				benchmarkCopy(b, factory, size)
			})
		}
	})
}

func benchEntries(n int) []value.Entry {
	out := make([]value.Entry, n)
	for i := range out {
		var v value.Value
		switch i % 3 {
		case 0:
			v = value.Bool(i%2 == 0)
		case 1:
			v = value.Number(float64(i) * 1.5)
		default:
			v = value.String(fmt.Sprintf("value-%d", i))
		}
		out[i] = value.Entry{Key: fmt.Sprintf("key-%d", i), Value: v}
	}
	return out
}

func benchmarkUpsert(b *testing.B, factory StoreFactory, size int) {
	store := factory(nil)
	defer store.Close()
	ctx := context.Background()
	e := benchEntries(size)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := store.UpsertBatch(ctx, "", e); err != nil {
			b.Fatal(err)
		}
	}
}

// benchmarkFlush measures a full global flush (reconcile + upsert in one transaction)
func benchmarkFlush(b *testing.B, factory StoreFactory, size int) {
	store := factory(nil)
	defer store.Close()
	ctx := context.Background()
	e := benchEntries(size)
	keys := make([]string, len(e))
	for i := range e {
		keys[i] = e[i].Key
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		err := store.Tx(ctx, func(ctx context.Context) error {
			if _, err := store.DeleteMissing(ctx, "", keys); err != nil {
				return err
			}
			_, err := store.UpsertBatch(ctx, "", e)
			return err
		})
		if err != nil {
			b.Fatal(err)
		}
	}
}

func benchmarkLoad(b *testing.B, factory StoreFactory, size int) {
	store := factory(nil)
	defer store.Close()
	ctx := context.Background()
	if _, err := store.UpsertBatch(ctx, "slot", benchEntries(size)); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := store.LoadPartition(ctx, "slot"); err != nil {
			b.Fatal(err)
		}
	}
}

func benchmarkCopy(b *testing.B, factory StoreFactory, size int) {
	store := factory(nil)
	defer store.Close()
	ctx := context.Background()
	if _, err := store.UpsertBatch(ctx, "src", benchEntries(size)); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := store.CopyPartition(ctx, "src", fmt.Sprintf("dst-%d", i), false); err != nil {
			b.Fatal(err)
		}
	}
}
