// Package testing provides standardised tests and benchmarks for
// backing stores that satisfy the db.BackingStore interface.
//
// The package contains:
//   - testing: A conformance suite for the BackingStore contract (ordering,
//     timestamps, deletion by absence, save-as copies, transactions)
//   - benchmark: Performance tests for the flush and load paths
//
// Example usage:
//
//	// Creating a factory function for your implementation
//	factory := func(opts *db.Options) db.BackingStore {
//		return NewMyStore(opts)
//	}
//
//	// Running the standard test suite
//	dbtesting.RunBackingStoreTests(t, "MyStore", factory)
//
//	// Running performance benchmarks
//	dbtesting.RunBackingStoreBenchmarks(b, "MyStore", factory)
package testing
