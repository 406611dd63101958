// Package store is the orchestrator of sKV. It keeps two in-memory partitions
// (the global partition and the partition of the active save-slot), serves all
// reads and writes from them and synchronises them with a db.BackingStore at
// the lifecycle events of the host.
//
// Key Components:
//
//   - IStore Interface: The surface used by the adapters (scripting runtime,
//     lifecycle driver, CLI). Every method returns a custom *Error carrying a
//     RetCode, so callers can branch on IsCode(err, RetCNoActiveSlot) etc.
//
//   - Store: The single implementation. One mutex guards both partitions, the
//     active save-slot and the flush bookkeeping.
//
//   - DBFactory: A function type that abstracts the creation of the underlying
//     db.BackingStore (sqlite or memory engine).
//
// Lifecycle:
//
//	New    -> ensure schema, optional vacuum, load global partition
//	OnLoad -> replace save partition with the rows of the slot
//	OnSave -> write save partition to the slot (copy-on-save-as, reconcile otherwise)
//	Tick   -> rate-limited flush of the dirty global partition
//	Close  -> flush both partitions, release the backing store
//
// Accesses never touch the backing store. Deleting a key only removes it from
// memory; the row disappears at the next flush of its partition, when every
// row whose key is no longer in memory is deleted.
package store
