package db

import (
	"context"
	"errors"
	"time"

	"github.com/ValentinKolb/sKV/lib/value"
)

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

type Implementation string

const (
	ImplSQLite Implementation = "sqlite"
	ImplMemory Implementation = "memory"
)

const (
	// GlobalPartition is the savefile value of the partition shared by all save-slots.
	GlobalPartition = ""

	// DefaultBatchSize bounds the number of rows written per statement batch / chunk transaction.
	DefaultBatchSize = 100
)

var (
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("backing store is closed")
)

// Row is one persisted entry of the Store table.
type Row struct {
	RowID     int64      `json:"row_id" yaml:"row_id"`
	Key       string     `json:"key" yaml:"key"`
	Savefile  string     `json:"savefile" yaml:"savefile"`
	Type      value.Type `json:"type" yaml:"type"`
	Value     string     `json:"value" yaml:"value"`
	CreatedAt int64      `json:"created_at" yaml:"created_at"`
	UpdatedAt int64      `json:"updated_at" yaml:"updated_at"`
}

// Decode parses the persisted payload of the row.
func (r Row) Decode() (value.Value, error) {
	return value.Parse(r.Type, r.Value)
}

// UpsertResult reports the outcome of an UpsertBatch call.
// Failed rows are logged and skipped by the implementation.
type UpsertResult struct {
	Written int
	Failed  int
}

// Add accumulates another result into r.
func (r *UpsertResult) Add(o UpsertResult) {
	r.Written += o.Written
	r.Failed += o.Failed
}

type DatabaseInfo struct {
	DbType     Implementation `json:"db_type" yaml:"db_type"`
	Path       string         `json:"path" yaml:"path"`
	Rows       int            `json:"rows" yaml:"rows"`
	Partitions int            `json:"partitions" yaml:"partitions"`
	SizeBytes  int64          `json:"size_bytes" yaml:"size_bytes"`
}

// Options configures a BackingStore implementation.
type Options struct {
	// BatchSize is the chunk size of UpsertBatch and CopyPartition (0 = DefaultBatchSize).
	BatchSize int
	// Now is the clock used for created_at / updated_at (nil = time.Now).
	Now func() time.Time
}

// DefaultOptions returns the default options.
func DefaultOptions() *Options {
	return &Options{
		BatchSize: DefaultBatchSize,
		Now:       time.Now,
	}
}

// Normalize fills in defaults for zero fields.
func (o *Options) Normalize() *Options {
	if o == nil {
		return DefaultOptions()
	}
	out := *o
	if out.BatchSize <= 0 {
		out.BatchSize = DefaultBatchSize
	}
	if out.Now == nil {
		out.Now = time.Now
	}
	return &out
}

// --------------------------------------------------------------------------
// BackingStore Interface
// --------------------------------------------------------------------------

// BackingStore is the durable, partition-scoped persistence layer below the cache.
// It owns the single Store table keyed by (key, savefile).
//
// Every multi-statement operation runs in exactly one transaction. The
// transaction travels in the context: Tx starts one (or reuses the one already
// present in ctx) and every method called with the context passed to fn joins
// it instead of opening a nested transaction.
type BackingStore interface {

	// --------------------------------------------------------------------------
	// Schema and Transactions
	// --------------------------------------------------------------------------

	// EnsureSchema creates the Store table and its savefile index if absent.
	// It is idempotent and safe to call on every start.
	EnsureSchema(ctx context.Context) (err error)

	// Tx runs fn inside a transaction. The transaction commits if fn returns nil
	// and rolls back otherwise. If ctx already carries a transaction of this
	// store, fn runs inside it and commit/rollback is left to the outer call.
	Tx(ctx context.Context, fn func(ctx context.Context) error) (err error)

	// --------------------------------------------------------------------------
	// Partition Operations
	// --------------------------------------------------------------------------

	// LoadPartition returns all rows of savefile ordered by row id.
	LoadPartition(ctx context.Context, savefile string) (rows []Row, err error)

	// UpsertBatch inserts or updates the entries in savefile. created_at is kept
	// for existing rows, updated_at is set for every written row.
	// The entries are processed in chunks of the configured batch size; outside
	// a transaction each chunk commits on its own. A row that fails is logged,
	// counted as failed and skipped.
	UpsertBatch(ctx context.Context, savefile string, entries []value.Entry) (res UpsertResult, err error)

	// DeleteMissing deletes every row of savefile whose key is not in presentKeys.
	DeleteMissing(ctx context.Context, savefile string, presentKeys []string) (deleted int, err error)

	// CopyPartition copies the rows of from into to. Rows whose key already
	// exists in to are skipped unless overwrite is set. Copied rows get fresh
	// timestamps. The copy runs in bounded chunks and is idempotent, so an
	// interrupted copy can simply be run again.
	CopyPartition(ctx context.Context, from, to string, overwrite bool) (copied int, err error)

	// HasPartition reports whether savefile has at least one row.
	HasPartition(ctx context.Context, savefile string) (ok bool, err error)

	// Partitions returns the distinct save-slot names (the global partition excluded), sorted.
	Partitions(ctx context.Context) (names []string, err error)

	// --------------------------------------------------------------------------
	// Maintenance
	// --------------------------------------------------------------------------

	// Vacuum compacts the underlying storage. It must not be called inside a transaction.
	Vacuum(ctx context.Context) (err error)

	// GetInfo returns information about the backing store.
	GetInfo(ctx context.Context) (info DatabaseInfo, err error)

	// Close releases the underlying handle.
	Close() (err error)
}
