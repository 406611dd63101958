package util

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ValentinKolb/sKV/lib/common"
	"github.com/ValentinKolb/sKV/lib/store"
	"github.com/ValentinKolb/sKV/lib/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapString(t *testing.T) {
	text := strings.Repeat("word ", 30)
	for _, line := range strings.Split(WrapString(text), "\n") {
		assert.LessOrEqual(t, len(line), Wrap)
	}
	assert.Equal(t, "short text", WrapString("  short   text "))
}

func TestGetDBFactory(t *testing.T) {
	conf := common.DefaultStoreConfig()
	conf.Engine = "nope"
	_, err := GetDBFactory(&conf)
	assert.Error(t, err)
}

func TestOpenStoreSQLite(t *testing.T) {
	ctx := context.Background()
	conf := common.DefaultStoreConfig()
	conf.DBPath = filepath.Join(t.TempDir(), "skv.db")

	s, err := OpenStore(ctx, &conf, "slot1")
	require.NoError(t, err)
	require.NoError(t, s.Set(store.ScopeSave, "k", value.String("v")))
	require.NoError(t, s.Close(ctx))

	s, err = OpenStore(ctx, &conf, "slot1")
	require.NoError(t, err)
	defer s.Close(ctx)
	v, ok, err := s.Get(store.ScopeSave, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, v.Equal(value.String("v")))
}
