package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ValentinKolb/sKV/lib/db"
	"github.com/ValentinKolb/sKV/lib/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReopenKeepsRows(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "skv.db")

	store, err := Open(ctx, path, nil)
	require.NoError(t, err)
	_, err = store.UpsertBatch(ctx, "slot", []value.Entry{
		{Key: "a", Value: value.String("x")},
		{Key: "b", Value: value.Number(2)},
	})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = Open(ctx, path, nil)
	require.NoError(t, err)
	defer store.Close()

	rows, err := store.LoadPartition(ctx, "slot")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "a", rows[0].Key)
	assert.Equal(t, "b", rows[1].Key)

	info, err := store.GetInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, db.ImplSQLite, info.DbType)
	assert.Greater(t, info.SizeBytes, int64(0))
}

func TestLegacyRows(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, MemoryPath, nil)
	require.NoError(t, err)
	defer store.Close()

	impl := store.(*sqliteImpl)

	// rows as written by earlier builds: text timestamps and six decimal floats
	_, err = impl.db.ExecContext(ctx, `
		INSERT INTO Store (key, savefile, type, value) VALUES
			('n', '', 4, '1.500000'),
			('b', '', 2, '1'),
			('broken', '', 4, 'abc'),
			('s', '', 5, 'text')`)
	require.NoError(t, err)

	rows, err := store.LoadPartition(ctx, "")
	require.NoError(t, err)
	require.Len(t, rows, 4)

	for _, r := range rows {
		assert.Greater(t, r.CreatedAt, int64(0), "legacy text timestamp must be converted for %q", r.Key)
	}

	v, err := rows[0].Decode()
	require.NoError(t, err)
	assert.True(t, v.Equal(value.Number(1.5)))

	_, err = rows[2].Decode()
	var perr *value.ParseError
	assert.ErrorAs(t, err, &perr)

	// upserting a legacy row keeps its created_at
	created := rows[1].CreatedAt
	_, err = store.UpsertBatch(ctx, "", []value.Entry{{Key: "b", Value: value.Bool(false)}})
	require.NoError(t, err)
	rows, err = store.LoadPartition(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, created, rows[1].CreatedAt)
	assert.Equal(t, "0", rows[1].Value)
}

func TestOpenFailsOnInvalidPath(t *testing.T) {
	_, err := Open(context.Background(), filepath.Join(t.TempDir(), "missing", "dir", "skv.db"), nil)
	assert.Error(t, err)
}
