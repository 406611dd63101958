// Package memory implements db.BackingStore entirely in memory.
//
// It follows the same contract as the SQLite engine (row id ordering,
// created_at preservation, chunked writes, context transactions) and is used
// for tests and for stores that should not touch the disk.
//
// Implementation Details:
//
//   - Transactions: A transaction holds the store mutex and works on a clone
//     of the committed table. The clone replaces the committed table when the
//     transaction function returns nil and is dropped otherwise.
//
//   - Reads outside a transaction lock the mutex and read the committed table
//     directly, reads inside a transaction see its uncommitted writes.
//
// Data is never persisted; Close only marks the store as closed.
package memory
