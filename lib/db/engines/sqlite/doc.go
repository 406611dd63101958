// Package sqlite implements db.BackingStore on an embedded SQLite database
// using the pure Go modernc.org/sqlite driver (no cgo).
//
// Schema:
//
//	Store(key TEXT NOT NULL, savefile TEXT, type INTEGER, value TEXT,
//	      created_at INTEGER, updated_at INTEGER, UNIQUE (key, savefile))
//	idx_store_savefile ON Store(savefile)
//
// The table layout is identical to the one written by earlier builds, so
// existing database files can be opened directly. Rows from those builds may
// hold CURRENT_TIMESTAMP text in the timestamp columns; they are converted to
// unix seconds when read.
//
// Implementation Details:
//
//   - Single Connection: The pool is limited to one connection. SQLite
//     serializes writers anyway and in-memory databases only exist per
//     connection.
//
//   - Context Transactions: Tx stores the *sql.Tx in the context. Every method
//     resolves its querier from the context, so calls made inside Tx join the
//     outer transaction and a nested Tx never opens a second one.
//
//   - Deletion by Absence: DeleteMissing passes the present keys as one JSON
//     array and deletes with a single statement over json_each.
//
//   - Chunking: UpsertBatch and CopyPartition work in chunks of
//     db.Options.BatchSize. Outside a transaction each chunk commits on its
//     own, so a large flush never holds one unbounded transaction.
//
// Usage Example:
//
//	store, err := sqlite.Open(ctx, "./skv.db", db.DefaultOptions())
//	if err != nil {
//		return err
//	}
//	defer store.Close()
//
//	err = store.Tx(ctx, func(ctx context.Context) error {
//		if _, err := store.DeleteMissing(ctx, db.GlobalPartition, keys); err != nil {
//			return err
//		}
//		_, err := store.UpsertBatch(ctx, db.GlobalPartition, entries)
//		return err
//	})
package sqlite
