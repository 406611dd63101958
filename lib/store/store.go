package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ValentinKolb/sKV/lib/cache"
	"github.com/ValentinKolb/sKV/lib/db"
	"github.com/ValentinKolb/sKV/lib/value"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("store")

// DBFactory creates the backing store used by a Store.
type DBFactory func(ctx context.Context) (db.BackingStore, error)

// Options configures a Store.
type Options struct {
	// FlushInterval is the minimum time between two Tick flushes of the global partition.
	FlushInterval time.Duration
	// Vacuum compacts the backing store once on open. A failing vacuum is logged, not fatal.
	Vacuum bool
	// Now is the clock used by Flush and Close to record the last flush (nil = time.Now).
	Now func() time.Time
}

// DefaultOptions returns the default store options.
func DefaultOptions() Options {
	return Options{
		FlushInterval: time.Second,
		Now:           time.Now,
	}
}

// Stats is a point-in-time view of the store state.
type Stats struct {
	ActiveSlot    string    `json:"active_slot" yaml:"active_slot"`
	GlobalEntries int       `json:"global_entries" yaml:"global_entries"`
	SaveEntries   int       `json:"save_entries" yaml:"save_entries"`
	GlobalDirty   bool      `json:"global_dirty" yaml:"global_dirty"`
	SaveDirty     bool      `json:"save_dirty" yaml:"save_dirty"`
	LastFlush     time.Time `json:"last_flush" yaml:"last_flush"`
	Closed        bool      `json:"closed" yaml:"closed"`
}

// Store is the orchestrator between the two in-memory partitions and the
// backing store. All state is guarded by a single mutex, so an access never
// observes a partially applied load or save.
type Store struct {
	mu sync.Mutex

	backing db.BackingStore
	opts    Options

	global *cache.Partition
	save   *cache.Partition

	activeSlot string
	lastFlush  time.Time
	closed     bool
}

// ensure Store implements IStore
var _ IStore = (*Store)(nil)

// New creates a store on top of the backing store returned by factory. The
// schema is created if absent and the global partition is loaded into memory.
// No save-slot is active until OnLoad or OnSave.
func New(ctx context.Context, factory DBFactory, opts Options) (*Store, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.FlushInterval < 0 {
		return nil, NewError(RetCInvalidArgument, "flush interval must not be negative")
	}

	backing, err := factory(ctx)
	if err != nil {
		return nil, wrapError(RetCStorageError, err, "cannot open backing store")
	}

	s := &Store{
		backing: backing,
		opts:    opts,
		global:  cache.New(),
		save:    cache.New(),
	}

	if err := backing.EnsureSchema(ctx); err != nil {
		_ = backing.Close()
		return nil, wrapError(RetCStorageError, err, "cannot create schema")
	}

	if opts.Vacuum {
		if err := backing.Vacuum(ctx); err != nil {
			log.Warningf("vacuum failed: %v", err)
		}
	}

	entries, err := s.loadEntries(ctx, db.GlobalPartition)
	if err != nil {
		_ = backing.Close()
		return nil, wrapError(RetCStorageError, err, "cannot load global partition")
	}
	s.global.ReplaceAll(entries)
	log.Infof("store opened, %d global entries loaded", len(entries))

	return s, nil
}

// --------------------------------------------------------------------------
// Access
// --------------------------------------------------------------------------

// Access runs one action against the partition selected by scope.
// Accesses never touch the backing store.
func (s *Store) Access(scope Scope, action Action, key string, v *value.Value) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Result{}, NewError(RetCClosed, "store is closed")
	}
	if action != ActionAll && key == "" {
		return Result{}, NewError(RetCInvalidArgument, "key must not be empty")
	}
	if action == ActionSet && (v == nil || !v.IsValid()) {
		return Result{}, NewError(RetCInvalidArgument, "set requires a boolean, number or string value")
	}

	var p *cache.Partition
	switch scope {
	case ScopeGlobal:
		p = s.global
	case ScopeSave:
		if s.activeSlot == "" {
			return Result{}, NewError(RetCNoActiveSlot, "no save-slot is active")
		}
		p = s.save
	default:
		return Result{}, NewError(RetCInvalidOperation, "unknown scope")
	}

	accessCounter(scope, action).Inc()

	switch action {
	case ActionSet:
		p.Set(key, *v)
		return Result{OK: true}, nil
	case ActionGet:
		got, ok := p.Get(key)
		return Result{OK: ok, Value: got}, nil
	case ActionDel:
		return Result{OK: p.Delete(key)}, nil
	case ActionExists:
		return Result{OK: p.Contains(key)}, nil
	case ActionAll:
		return Result{OK: true, Entries: p.Snapshot()}, nil
	default:
		return Result{}, NewError(RetCInvalidOperation, "unknown action")
	}
}

// Set stores v under key.
func (s *Store) Set(scope Scope, key string, v value.Value) error {
	_, err := s.Access(scope, ActionSet, key, &v)
	return err
}

// Get returns the value of key and whether it was found.
func (s *Store) Get(scope Scope, key string) (value.Value, bool, error) {
	res, err := s.Access(scope, ActionGet, key, nil)
	return res.Value, res.OK, err
}

// Delete removes key and reports whether it was present.
func (s *Store) Delete(scope Scope, key string) (bool, error) {
	res, err := s.Access(scope, ActionDel, key, nil)
	return res.OK, err
}

// Exists reports whether key is present.
func (s *Store) Exists(scope Scope, key string) (bool, error) {
	res, err := s.Access(scope, ActionExists, key, nil)
	return res.OK, err
}

// All returns a snapshot of the partition in enumeration order.
func (s *Store) All(scope Scope) ([]value.Entry, error) {
	res, err := s.Access(scope, ActionAll, "", nil)
	return res.Entries, err
}

// --------------------------------------------------------------------------
// State
// --------------------------------------------------------------------------

// ActiveSlot returns the name of the active save-slot ("" if none).
func (s *Store) ActiveSlot() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeSlot
}

// Stats returns a snapshot of the store state.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		ActiveSlot:    s.activeSlot,
		GlobalEntries: s.global.Len(),
		SaveEntries:   s.save.Len(),
		GlobalDirty:   s.global.Dirty(),
		SaveDirty:     s.save.Dirty(),
		LastFlush:     s.lastFlush,
		Closed:        s.closed,
	}
}

// Slots returns the names of all persisted save-slots.
func (s *Store) Slots(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, NewError(RetCClosed, "store is closed")
	}
	names, err := s.backing.Partitions(ctx)
	if err != nil {
		return nil, wrapError(RetCStorageError, err, "cannot list save-slots")
	}
	return names, nil
}

// CopySlot copies the persisted rows of from into to. Copying into the
// active save-slot is rejected because its in-memory partition would be stale.
func (s *Store) CopySlot(ctx context.Context, from, to string, overwrite bool) (int, error) {
	if from == "" || to == "" {
		return 0, NewError(RetCInvalidArgument, "slot names must not be empty")
	}
	if from == to {
		return 0, NewError(RetCInvalidArgument, "source and target slot are the same")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, NewError(RetCClosed, "store is closed")
	}
	if to == s.activeSlot {
		return 0, NewError(RetCInvalidOperation, "cannot copy into the active save-slot")
	}

	n, err := s.backing.CopyPartition(ctx, from, to, overwrite)
	rowsCopied.Add(n)
	if err != nil {
		return n, wrapError(RetCStorageError, err, "copy %q -> %q failed", from, to)
	}
	log.Infof("copied %d rows from %q to %q", n, from, to)
	return n, nil
}

// Info returns information about the backing store.
func (s *Store) Info(ctx context.Context) (db.DatabaseInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return db.DatabaseInfo{}, NewError(RetCClosed, "store is closed")
	}
	info, err := s.backing.GetInfo(ctx)
	if err != nil {
		return info, wrapError(RetCStorageError, err, "cannot read backing store info")
	}
	return info, nil
}

// --------------------------------------------------------------------------
// Helper Functions
// --------------------------------------------------------------------------

// loadEntries reads savefile and decodes its rows. Rows that cannot be
// decoded are logged and skipped.
func (s *Store) loadEntries(ctx context.Context, savefile string) ([]value.Entry, error) {
	rows, err := s.backing.LoadPartition(ctx, savefile)
	if err != nil {
		return nil, err
	}
	entries := make([]value.Entry, 0, len(rows))
	for _, row := range rows {
		v, err := row.Decode()
		if err != nil {
			var perr *value.ParseError
			if errors.As(err, &perr) {
				log.Warningf("skipping row %d (key %q, savefile %q): %v", row.RowID, row.Key, row.Savefile, err)
				rowsSkipped.Inc()
				continue
			}
			return nil, err
		}
		entries = append(entries, value.Entry{Key: row.Key, Value: v})
	}
	return entries, nil
}
