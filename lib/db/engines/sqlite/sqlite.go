package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"github.com/ValentinKolb/sKV/lib/db"
	"github.com/ValentinKolb/sKV/lib/value"
	"github.com/lni/dragonboat/v4/logger"
	_ "modernc.org/sqlite"
)

var log = logger.GetLogger("db")

// --------------------------------------------------------------------------
// SQL
// --------------------------------------------------------------------------

const (
	driverName = "sqlite"

	// MemoryPath opens a private in-memory database.
	MemoryPath = ":memory:"

	createTableSQL = `
		CREATE TABLE IF NOT EXISTS Store (
			key TEXT NOT NULL,
			savefile TEXT,
			type INTEGER,
			value TEXT,
			created_at INTEGER DEFAULT CURRENT_TIMESTAMP,
			updated_at INTEGER DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (key, savefile)
		)`
	createIndexSQL = `CREATE INDEX IF NOT EXISTS idx_store_savefile ON Store(savefile)`

	// rows written by early builds carry CURRENT_TIMESTAMP text instead of unix seconds
	createdAtExpr = `CASE WHEN typeof(created_at) = 'integer' THEN created_at ELSE COALESCE(CAST(strftime('%s', created_at) AS INTEGER), 0) END`
	updatedAtExpr = `CASE WHEN typeof(updated_at) = 'integer' THEN updated_at ELSE COALESCE(CAST(strftime('%s', updated_at) AS INTEGER), 0) END`

	selectPartitionSQL = `
		SELECT rowid, key, type, value, ` + createdAtExpr + `, ` + updatedAtExpr + `
		FROM Store WHERE savefile = ? ORDER BY rowid`

	upsertSQL = `
		INSERT INTO Store (key, savefile, type, value, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (key, savefile) DO UPDATE SET
			type = excluded.type,
			value = excluded.value,
			updated_at = excluded.updated_at`

	insertIfAbsentSQL = `
		INSERT INTO Store (key, savefile, type, value, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (key, savefile) DO NOTHING`

	deleteMissingSQL = `
		DELETE FROM Store
		WHERE savefile = ? AND key NOT IN (SELECT value FROM json_each(?))`

	selectChunkSQL = `
		SELECT rowid, key, type, value FROM Store
		WHERE savefile = ? AND rowid > ? ORDER BY rowid LIMIT ?`

	hasPartitionSQL = `SELECT EXISTS (SELECT 1 FROM Store WHERE savefile = ?)`
	partitionsSQL   = `SELECT DISTINCT savefile FROM Store WHERE savefile IS NOT NULL AND savefile <> '' ORDER BY savefile`
	countRowsSQL    = `SELECT COUNT(*) FROM Store`
)

// --------------------------------------------------------------------------
// Core structure
// --------------------------------------------------------------------------

// querier is satisfied by *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

type txKey struct{}

// txState is the transaction carried in a context. owner prevents a
// transaction of one store from being joined by another store.
type txState struct {
	owner *sqliteImpl
	tx    *sql.Tx
}

type sqliteImpl struct {
	db     *sql.DB
	path   string
	opts   *db.Options
	closed atomic.Bool
}

// Open opens (or creates) the SQLite database at path and ensures the schema.
// Use MemoryPath for a private in-memory database.
//
// A schema failure is returned as an error and the handle is closed, so a
// store is never used without a guaranteed table shape.
func Open(ctx context.Context, path string, opts *db.Options) (db.BackingStore, error) {
	opts = opts.Normalize()

	conn, err := sql.Open(driverName, dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database %s: %w", path, err)
	}

	// one connection: SQLite serializes writers anyway, temp state and
	// in-memory databases are per connection
	conn.SetMaxOpenConns(1)
	conn.SetConnMaxLifetime(0)

	s := &sqliteImpl{
		db:   conn,
		path: path,
		opts: opts,
	}

	if err := s.EnsureSchema(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func dsn(path string) string {
	if path == MemoryPath || path == "" {
		return "file::memory:?_pragma=busy_timeout(5000)"
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return "file:" + path + sep + "_pragma=busy_timeout(5000)"
}

// --------------------------------------------------------------------------
// Transactions
// --------------------------------------------------------------------------

func (s *sqliteImpl) txFrom(ctx context.Context) (*sql.Tx, bool) {
	state, ok := ctx.Value(txKey{}).(*txState)
	if !ok || state.owner != s {
		return nil, false
	}
	return state.tx, true
}

// querier returns the transaction carried by ctx or the plain connection pool.
func (s *sqliteImpl) querier(ctx context.Context) querier {
	if tx, ok := s.txFrom(ctx); ok {
		return tx
	}
	return s.db
}

func (s *sqliteImpl) Tx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if s.closed.Load() {
		return db.ErrClosed
	}

	// join the outer transaction
	if _, ok := s.txFrom(ctx); ok {
		return fn(ctx)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	done := false
	defer func() {
		if !done {
			_ = tx.Rollback()
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, &txState{owner: s, tx: tx})); err != nil {
		done = true
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			log.Errorf("rollback failed: %v", rbErr)
		}
		return err
	}

	done = true
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// --------------------------------------------------------------------------
// BackingStore Interface Methods (docu see db/db.go)
// --------------------------------------------------------------------------

func (s *sqliteImpl) EnsureSchema(ctx context.Context) error {
	err := s.Tx(ctx, func(ctx context.Context) error {
		q := s.querier(ctx)
		if _, err := q.ExecContext(ctx, createTableSQL); err != nil {
			return fmt.Errorf("create table Store: %w", err)
		}
		if _, err := q.ExecContext(ctx, createIndexSQL); err != nil {
			return fmt.Errorf("create index idx_store_savefile: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *sqliteImpl) LoadPartition(ctx context.Context, savefile string) ([]db.Row, error) {
	if s.closed.Load() {
		return nil, db.ErrClosed
	}

	rows, err := s.querier(ctx).QueryContext(ctx, selectPartitionSQL, savefile)
	if err != nil {
		return nil, fmt.Errorf("load partition %q: %w", savefile, err)
	}
	defer rows.Close()

	var out []db.Row
	for rows.Next() {
		var (
			r     db.Row
			typ   sql.NullInt64
			text  sql.NullString
			ctime sql.NullInt64
			mtime sql.NullInt64
		)
		if err := rows.Scan(&r.RowID, &r.Key, &typ, &text, &ctime, &mtime); err != nil {
			return nil, fmt.Errorf("load partition %q: scan row: %w", savefile, err)
		}
		r.Savefile = savefile
		r.Type = value.Type(typ.Int64)
		r.Value = text.String
		r.CreatedAt = ctime.Int64
		r.UpdatedAt = mtime.Int64
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load partition %q: %w", savefile, err)
	}
	return out, nil
}

func (s *sqliteImpl) UpsertBatch(ctx context.Context, savefile string, entries []value.Entry) (db.UpsertResult, error) {
	var total db.UpsertResult
	if s.closed.Load() {
		return total, db.ErrClosed
	}

	for start := 0; start < len(entries); start += s.opts.BatchSize {
		end := min(start+s.opts.BatchSize, len(entries))
		chunk := entries[start:end]

		var res db.UpsertResult
		err := s.Tx(ctx, func(ctx context.Context) error {
			res = db.UpsertResult{}

			stmt, err := s.querier(ctx).PrepareContext(ctx, upsertSQL)
			if err != nil {
				return fmt.Errorf("prepare upsert: %w", err)
			}
			defer stmt.Close()

			now := s.opts.Now().Unix()
			for _, e := range chunk {
				typ, text, err := value.Serialize(e.Value)
				if err != nil {
					log.Errorf("upsert %q in partition %q skipped: %v", e.Key, savefile, err)
					res.Failed++
					continue
				}
				if _, err := stmt.ExecContext(ctx, e.Key, savefile, int(typ), text, now, now); err != nil {
					log.Errorf("upsert %q in partition %q failed: %v", e.Key, savefile, err)
					res.Failed++
					continue
				}
				res.Written++
			}
			return nil
		})
		if err != nil {
			return total, fmt.Errorf("upsert batch into %q: %w", savefile, err)
		}
		total.Add(res)
	}
	return total, nil
}

func (s *sqliteImpl) DeleteMissing(ctx context.Context, savefile string, presentKeys []string) (int, error) {
	if s.closed.Load() {
		return 0, db.ErrClosed
	}
	if presentKeys == nil {
		presentKeys = []string{}
	}

	keys, err := json.Marshal(presentKeys)
	if err != nil {
		return 0, fmt.Errorf("delete missing from %q: encode keys: %w", savefile, err)
	}

	var deleted int64
	err = s.Tx(ctx, func(ctx context.Context) error {
		res, err := s.querier(ctx).ExecContext(ctx, deleteMissingSQL, savefile, string(keys))
		if err != nil {
			return err
		}
		deleted, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("delete missing from %q: %w", savefile, err)
	}
	return int(deleted), nil
}

func (s *sqliteImpl) CopyPartition(ctx context.Context, from, to string, overwrite bool) (int, error) {
	if s.closed.Load() {
		return 0, db.ErrClosed
	}
	if from == to {
		return 0, nil
	}

	query := insertIfAbsentSQL
	if overwrite {
		query = upsertSQL
	}

	var (
		copied int
		cursor int64 // last copied rowid of the source partition
	)
	for {
		var n, read int
		err := s.Tx(ctx, func(ctx context.Context) error {
			n, read = 0, 0
			q := s.querier(ctx)

			type srcRow struct {
				rowid int64
				key   string
				typ   sql.NullInt64
				text  sql.NullString
			}
			rows, err := q.QueryContext(ctx, selectChunkSQL, from, cursor, s.opts.BatchSize)
			if err != nil {
				return err
			}
			var chunk []srcRow
			for rows.Next() {
				var r srcRow
				if err := rows.Scan(&r.rowid, &r.key, &r.typ, &r.text); err != nil {
					_ = rows.Close()
					return err
				}
				chunk = append(chunk, r)
			}
			if err := rows.Close(); err != nil {
				return err
			}
			if err := rows.Err(); err != nil {
				return err
			}
			read = len(chunk)
			if read == 0 {
				return nil
			}

			stmt, err := q.PrepareContext(ctx, query)
			if err != nil {
				return err
			}
			defer stmt.Close()

			now := s.opts.Now().Unix()
			for _, r := range chunk {
				res, err := stmt.ExecContext(ctx, r.key, to, r.typ.Int64, r.text.String, now, now)
				if err != nil {
					return fmt.Errorf("copy key %q: %w", r.key, err)
				}
				if affected, _ := res.RowsAffected(); affected > 0 {
					n++
				}
			}
			cursor = chunk[len(chunk)-1].rowid
			return nil
		})
		if err != nil {
			return copied, fmt.Errorf("copy partition %q to %q: %w", from, to, err)
		}
		copied += n
		if read < s.opts.BatchSize {
			return copied, nil
		}
	}
}

func (s *sqliteImpl) HasPartition(ctx context.Context, savefile string) (bool, error) {
	if s.closed.Load() {
		return false, db.ErrClosed
	}
	var ok bool
	if err := s.querier(ctx).QueryRowContext(ctx, hasPartitionSQL, savefile).Scan(&ok); err != nil {
		return false, fmt.Errorf("has partition %q: %w", savefile, err)
	}
	return ok, nil
}

func (s *sqliteImpl) Partitions(ctx context.Context) ([]string, error) {
	if s.closed.Load() {
		return nil, db.ErrClosed
	}
	rows, err := s.querier(ctx).QueryContext(ctx, partitionsSQL)
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("list partitions: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *sqliteImpl) Vacuum(ctx context.Context) error {
	if s.closed.Load() {
		return db.ErrClosed
	}
	if _, ok := s.txFrom(ctx); ok {
		return errors.New("vacuum: cannot run inside a transaction")
	}
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	return nil
}

func (s *sqliteImpl) GetInfo(ctx context.Context) (db.DatabaseInfo, error) {
	info := db.DatabaseInfo{
		DbType: db.ImplSQLite,
		Path:   s.path,
	}
	if s.closed.Load() {
		return info, db.ErrClosed
	}

	if err := s.querier(ctx).QueryRowContext(ctx, countRowsSQL).Scan(&info.Rows); err != nil {
		return info, fmt.Errorf("count rows: %w", err)
	}
	names, err := s.Partitions(ctx)
	if err != nil {
		return info, err
	}
	info.Partitions = len(names)

	if s.path != MemoryPath && s.path != "" {
		if stat, err := os.Stat(s.path); err == nil {
			info.SizeBytes = stat.Size()
		}
	}
	return info, nil
}

func (s *sqliteImpl) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}
