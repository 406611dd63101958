package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/sKV/lib/db"
	"github.com/ValentinKolb/sKV/lib/value"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("db")

// --------------------------------------------------------------------------
// Core memory database structure
// --------------------------------------------------------------------------

type rowKey struct {
	key      string
	savefile string
}

// state is one version of the table. Transactions work on a clone and
// replace the committed state on success.
type state struct {
	seq  int64 // last assigned rowid
	rows map[rowKey]db.Row
}

func (s *state) clone() *state {
	rows := make(map[rowKey]db.Row, len(s.rows))
	for k, r := range s.rows {
		rows[k] = r
	}
	return &state{seq: s.seq, rows: rows}
}

type txKey struct{}

type txState struct {
	owner *memoryImpl
	st    *state
}

type memoryImpl struct {
	mu     sync.Mutex // held for the duration of a transaction
	state  *state
	opts   *db.Options
	closed atomic.Bool
}

// NewMemoryStore creates an empty in-memory backing store.
// All data is lost when the process exits.
func NewMemoryStore(opts *db.Options) db.BackingStore {
	return &memoryImpl{
		state: &state{rows: make(map[rowKey]db.Row)},
		opts:  opts.Normalize(),
	}
}

// --------------------------------------------------------------------------
// Transactions
// --------------------------------------------------------------------------

func (m *memoryImpl) txFrom(ctx context.Context) (*state, bool) {
	t, ok := ctx.Value(txKey{}).(*txState)
	if !ok || t.owner != m {
		return nil, false
	}
	return t.st, true
}

func (m *memoryImpl) Tx(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.closed.Load() {
		return db.ErrClosed
	}
	if _, ok := m.txFrom(ctx); ok {
		return fn(ctx)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	working := m.state.clone()
	if err := fn(context.WithValue(ctx, txKey{}, &txState{owner: m, st: working})); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.state = working
	return nil
}

// read runs fn against the transaction state in ctx or the committed state.
func (m *memoryImpl) read(ctx context.Context, fn func(st *state) error) error {
	if m.closed.Load() {
		return db.ErrClosed
	}
	if st, ok := m.txFrom(ctx); ok {
		return fn(st)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m.state)
}

// write runs fn inside a transaction (joining the one in ctx, if any).
func (m *memoryImpl) write(ctx context.Context, fn func(st *state) error) error {
	return m.Tx(ctx, func(ctx context.Context) error {
		st, _ := m.txFrom(ctx)
		return fn(st)
	})
}

// --------------------------------------------------------------------------
// BackingStore Interface Methods (docu see db/db.go)
// --------------------------------------------------------------------------

func (m *memoryImpl) EnsureSchema(_ context.Context) error {
	if m.closed.Load() {
		return db.ErrClosed
	}
	return nil
}

func (m *memoryImpl) LoadPartition(ctx context.Context, savefile string) ([]db.Row, error) {
	var out []db.Row
	err := m.read(ctx, func(st *state) error {
		out = partitionRows(st, savefile)
		return nil
	})
	return out, err
}

func (m *memoryImpl) UpsertBatch(ctx context.Context, savefile string, entries []value.Entry) (db.UpsertResult, error) {
	var total db.UpsertResult
	if m.closed.Load() {
		return total, db.ErrClosed
	}

	for start := 0; start < len(entries); start += m.opts.BatchSize {
		chunk := entries[start:min(start+m.opts.BatchSize, len(entries))]

		var res db.UpsertResult
		err := m.write(ctx, func(st *state) error {
			res = db.UpsertResult{}
			now := m.opts.Now().Unix()
			for _, e := range chunk {
				typ, text, err := value.Serialize(e.Value)
				if err != nil {
					log.Errorf("upsert %q in partition %q skipped: %v", e.Key, savefile, err)
					res.Failed++
					continue
				}
				upsert(st, e.Key, savefile, typ, text, now)
				res.Written++
			}
			return nil
		})
		if err != nil {
			return total, err
		}
		total.Add(res)
	}
	return total, nil
}

func (m *memoryImpl) DeleteMissing(ctx context.Context, savefile string, presentKeys []string) (int, error) {
	present := make(map[string]struct{}, len(presentKeys))
	for _, k := range presentKeys {
		present[k] = struct{}{}
	}

	deleted := 0
	err := m.write(ctx, func(st *state) error {
		deleted = 0
		for k := range st.rows {
			if k.savefile != savefile {
				continue
			}
			if _, ok := present[k.key]; !ok {
				delete(st.rows, k)
				deleted++
			}
		}
		return nil
	})
	return deleted, err
}

func (m *memoryImpl) CopyPartition(ctx context.Context, from, to string, overwrite bool) (int, error) {
	if m.closed.Load() {
		return 0, db.ErrClosed
	}
	if from == to {
		return 0, nil
	}

	var (
		copied int
		cursor int64
	)
	for {
		var n, read int
		err := m.write(ctx, func(st *state) error {
			n, read = 0, 0
			now := m.opts.Now().Unix()
			for _, r := range partitionRows(st, from) {
				if r.RowID <= cursor {
					continue
				}
				if read == m.opts.BatchSize {
					break
				}
				read++
				cursor = r.RowID

				if _, exists := st.rows[rowKey{key: r.Key, savefile: to}]; exists && !overwrite {
					continue
				}
				upsert(st, r.Key, to, r.Type, r.Value, now)
				n++
			}
			return nil
		})
		if err != nil {
			return copied, err
		}
		copied += n
		if read < m.opts.BatchSize {
			return copied, nil
		}
	}
}

func (m *memoryImpl) HasPartition(ctx context.Context, savefile string) (bool, error) {
	found := false
	err := m.read(ctx, func(st *state) error {
		for k := range st.rows {
			if k.savefile == savefile {
				found = true
				break
			}
		}
		return nil
	})
	return found, err
}

func (m *memoryImpl) Partitions(ctx context.Context) ([]string, error) {
	var names []string
	err := m.read(ctx, func(st *state) error {
		seen := make(map[string]struct{})
		for k := range st.rows {
			if k.savefile == db.GlobalPartition {
				continue
			}
			if _, ok := seen[k.savefile]; !ok {
				seen[k.savefile] = struct{}{}
				names = append(names, k.savefile)
			}
		}
		sort.Strings(names)
		return nil
	})
	return names, err
}

func (m *memoryImpl) Vacuum(ctx context.Context) error {
	if m.closed.Load() {
		return db.ErrClosed
	}
	if _, ok := m.txFrom(ctx); ok {
		return errors.New("vacuum: cannot run inside a transaction")
	}
	return nil
}

func (m *memoryImpl) GetInfo(ctx context.Context) (db.DatabaseInfo, error) {
	info := db.DatabaseInfo{DbType: db.ImplMemory}
	names, err := m.Partitions(ctx)
	if err != nil {
		return info, err
	}
	info.Partitions = len(names)
	err = m.read(ctx, func(st *state) error {
		info.Rows = len(st.rows)
		for k, r := range st.rows {
			info.SizeBytes += int64(len(k.key) + len(k.savefile) + len(r.Value))
		}
		return nil
	})
	return info, err
}

func (m *memoryImpl) Close() error {
	m.closed.Store(true)
	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func upsert(st *state, key, savefile string, typ value.Type, text string, now int64) {
	k := rowKey{key: key, savefile: savefile}
	if r, ok := st.rows[k]; ok {
		r.Type = typ
		r.Value = text
		r.UpdatedAt = now
		st.rows[k] = r
		return
	}
	st.seq++
	st.rows[k] = db.Row{
		RowID:     st.seq,
		Key:       key,
		Savefile:  savefile,
		Type:      typ,
		Value:     text,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func partitionRows(st *state, savefile string) []db.Row {
	var out []db.Row
	for k, r := range st.rows {
		if k.savefile == savefile {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RowID < out[j].RowID })
	return out
}
