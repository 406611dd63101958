// Package db defines the persistence layer of sKV: the BackingStore
// interface, the persisted Row type and the options shared by all
// implementations.
//
// The package focuses on:
//   - A single Store table keyed by (key, savefile), where savefile ""
//     is the global partition and every other value names a save-slot
//   - Partition scoped batch reads and writes
//   - Deletion by absence: DeleteMissing removes the rows whose keys are no
//     longer present in memory, the cache never deletes single rows
//   - Transactions carried in the context so nested calls reuse the outer one
//
// Key Components:
//
//   - BackingStore Interface: The contract every engine satisfies. Methods
//     that write take a context which may carry a transaction started by Tx.
//
//   - Row: A persisted entry including its serialized value and the
//     created_at / updated_at unix timestamps.
//
//   - Options: Chunk size and clock used by the engines.
//
// Related Packages:
//
// The engines/sqlite package (github.com/ValentinKolb/sKV/lib/db/engines/sqlite)
// implements the BackingStore on an embedded SQLite database file using the
// pure Go modernc.org/sqlite driver. Its file format is compatible with
// databases written by earlier builds.
//
// The engines/memory package (github.com/ValentinKolb/sKV/lib/db/engines/memory)
// keeps all rows in memory. It is used for tests and for ephemeral stores.
//
// The testing package (github.com/ValentinKolb/sKV/lib/db/testing) provides
// a conformance suite and benchmarks for BackingStore implementations:
//   - RunBackingStoreTests: Runs the standardized test suite
//   - RunBackingStoreBenchmarks: Provides performance benchmarks
package db
