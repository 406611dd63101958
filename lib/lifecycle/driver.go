package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("lifecycle")

// Target receives the translated lifecycle events. *store.Store implements it.
type Target interface {
	OnLoad(ctx context.Context, slot string) error
	OnSave(ctx context.Context, slot string) error
	Tick(ctx context.Context, now time.Time) (bool, error)
}

// Driver forwards host notifications to a Target.
type Driver struct {
	target Target

	mu      sync.Mutex
	epoch   time.Time
	elapsed time.Duration
}

// New creates a driver whose host clock starts at epoch.
func New(target Target, epoch time.Time) *Driver {
	return &Driver{target: target, epoch: epoch}
}

// Now returns the current host time.
func (d *Driver) Now() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.epoch.Add(d.elapsed)
}

// NotifyLoad is called after the host loaded the save-slot slot.
func (d *Driver) NotifyLoad(ctx context.Context, slot string) error {
	if err := d.target.OnLoad(ctx, slot); err != nil {
		log.Errorf("load of save-slot %q failed: %v", slot, err)
		return err
	}
	return nil
}

// NotifySave is called after the host saved the game into save-slot slot.
func (d *Driver) NotifySave(ctx context.Context, slot string) error {
	if err := d.target.OnSave(ctx, slot); err != nil {
		log.Errorf("save into save-slot %q failed: %v", slot, err)
		return err
	}
	return nil
}

// NotifyTick advances the host clock by delta and lets the target flush.
// Negative deltas are ignored.
func (d *Driver) NotifyTick(ctx context.Context, delta time.Duration) (bool, error) {
	d.mu.Lock()
	if delta > 0 {
		d.elapsed += delta
	}
	now := d.epoch.Add(d.elapsed)
	d.mu.Unlock()

	flushed, err := d.target.Tick(ctx, now)
	if err != nil {
		log.Warningf("flush on tick failed: %v", err)
	}
	return flushed, err
}

// Run calls NotifyTick every interval with the measured wall-clock delta
// until ctx is done. It returns ctx.Err().
func (d *Driver) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := time.Now()
	log.Debugf("tick loop started (interval %s)", interval)
	for {
		select {
		case <-ctx.Done():
			log.Debugf("tick loop stopped")
			return ctx.Err()
		case t := <-ticker.C:
			_, _ = d.NotifyTick(ctx, t.Sub(last))
			last = t
		}
	}
}
