package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/sKV/lib/db"
	"github.com/ValentinKolb/sKV/lib/db/engines/memory"
	"github.com/ValentinKolb/sKV/lib/store"
	"github.com/ValentinKolb/sKV/lib/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	loads []string
	saves []string
	ticks []time.Time
	err   error
}

func (r *recorder) OnLoad(_ context.Context, slot string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loads = append(r.loads, slot)
	return r.err
}

func (r *recorder) OnSave(_ context.Context, slot string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves = append(r.saves, slot)
	return r.err
}

func (r *recorder) Tick(_ context.Context, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ticks = append(r.ticks, now)
	return false, r.err
}

func (r *recorder) tickCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ticks)
}

func TestHostClock(t *testing.T) {
	rec := &recorder{}
	epoch := time.Unix(100, 0)
	d := New(rec, epoch)

	ctx := context.Background()
	_, err := d.NotifyTick(ctx, 250*time.Millisecond)
	require.NoError(t, err)
	_, err = d.NotifyTick(ctx, -time.Second)
	require.NoError(t, err)
	_, err = d.NotifyTick(ctx, 750*time.Millisecond)
	require.NoError(t, err)

	require.Len(t, rec.ticks, 3)
	assert.Equal(t, epoch.Add(250*time.Millisecond), rec.ticks[0])
	assert.Equal(t, epoch.Add(250*time.Millisecond), rec.ticks[1], "negative delta is ignored")
	assert.Equal(t, epoch.Add(time.Second), rec.ticks[2])
	assert.Equal(t, epoch.Add(time.Second), d.Now())
}

func TestForwardsLoadSave(t *testing.T) {
	rec := &recorder{}
	d := New(rec, time.Time{})
	ctx := context.Background()

	require.NoError(t, d.NotifyLoad(ctx, "A"))
	require.NoError(t, d.NotifySave(ctx, "B"))
	assert.Equal(t, []string{"A"}, rec.loads)
	assert.Equal(t, []string{"B"}, rec.saves)

	rec.err = errors.New("boom")
	assert.Error(t, d.NotifyLoad(ctx, "A"))
	assert.Error(t, d.NotifySave(ctx, "A"))
	_, err := d.NotifyTick(ctx, time.Millisecond)
	assert.Error(t, err)
}

func TestRunStopsOnCancel(t *testing.T) {
	rec := &recorder{}
	d := New(rec, time.Time{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, 5*time.Millisecond) }()

	require.Eventually(t, func() bool { return rec.tickCount() >= 3 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestDrivesStoreFlushRate(t *testing.T) {
	ctx := context.Background()
	backing := memory.NewMemoryStore(nil)
	s, err := store.New(ctx, func(context.Context) (db.BackingStore, error) { return backing, nil },
		store.Options{FlushInterval: time.Second})
	require.NoError(t, err)

	d := New(s, time.Unix(0, 0))
	require.NoError(t, s.Set(store.ScopeGlobal, "k", value.Number(1)))

	flushed, err := d.NotifyTick(ctx, 16*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, flushed, "first dirty tick flushes")

	require.NoError(t, s.Set(store.ScopeGlobal, "k", value.Number(2)))
	flushes := 0
	for i := 0; i < 120; i++ { // two seconds of 60 fps host time
		ok, err := d.NotifyTick(ctx, time.Second/60)
		require.NoError(t, err)
		if ok {
			flushes++
		}
	}
	assert.Equal(t, 1, flushes, "only one dirty flush after the partition got clean")

	rows, err := backing.LoadPartition(ctx, db.GlobalPartition)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "2", rows[0].Value)
}
