package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/sKV/lib/cache"
	"github.com/ValentinKolb/sKV/lib/db"
)

// --------------------------------------------------------------------------
// Load / Save
// --------------------------------------------------------------------------

// OnLoad makes slot the active save-slot and replaces the save partition with
// its persisted rows. The global partition is reloaded as well unless it holds
// unflushed changes.
//
// If reading fails no save-slot is active afterwards and the save partition
// is empty, so stale data of the previous slot can not be written into slot.
func (s *Store) OnLoad(ctx context.Context, slot string) error {
	if slot == "" {
		return NewError(RetCInvalidArgument, "slot name must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return NewError(RetCClosed, "store is closed")
	}

	loadsTotal.Inc()

	entries, err := s.loadEntries(ctx, slot)
	if err != nil {
		s.failLoad()
		return wrapError(RetCStorageError, err, "cannot load save-slot %q", slot)
	}

	reloadGlobal := !s.global.Dirty()
	if reloadGlobal {
		globalEntries, err := s.loadEntries(ctx, db.GlobalPartition)
		if err != nil {
			s.failLoad()
			return wrapError(RetCStorageError, err, "cannot reload global partition")
		}
		s.global.ReplaceAll(globalEntries)
	} else {
		log.Debugf("global partition has unflushed changes, not reloading it")
	}

	s.save.ReplaceAll(entries)
	s.activeSlot = slot
	log.Infof("loaded %d entries from save-slot %q", len(entries), slot)
	return nil
}

// OnSave persists the save partition under slot and makes slot the active
// save-slot.
//
//   - Saving into the active slot reconciles it: rows of keys no longer in
//     memory are deleted, all others are upserted.
//   - Saving into a different slot that has no rows ("save as") first copies
//     the persisted rows of the active slot into slot and then upserts the
//     in-memory partition on top. Carried keys join the save partition, so
//     later saves into slot keep them.
//   - Saving into a different slot that already has rows reconciles it like
//     the active slot.
//
// On failure the active slot is kept and the save partition stays dirty.
func (s *Store) OnSave(ctx context.Context, slot string) error {
	if slot == "" {
		return NewError(RetCInvalidArgument, "slot name must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return NewError(RetCClosed, "store is closed")
	}

	savesTotal.Inc()
	prev := s.activeSlot

	copyFirst := false
	if prev != "" && prev != slot {
		exists, err := s.backing.HasPartition(ctx, slot)
		if err != nil {
			saveErrorsTotal.Inc()
			return wrapError(RetCStorageError, err, "cannot inspect save-slot %q", slot)
		}
		copyFirst = !exists
	}

	part := s.save
	if copyFirst {
		// rows of prev become part of slot, the partition overlays them
		carried, err := s.loadEntries(ctx, prev)
		if err != nil {
			saveErrorsTotal.Inc()
			return wrapError(RetCStorageError, err, "cannot read save-slot %q", prev)
		}
		part = cache.New()
		part.ReplaceAll(carried)
		for _, e := range s.save.Snapshot() {
			part.Set(e.Key, e.Value)
		}

		n, err := s.backing.CopyPartition(ctx, prev, slot, false)
		rowsCopied.Add(n)
		if err != nil {
			saveErrorsTotal.Inc()
			log.Errorf("copy of save-slot %q into %q failed after %d rows: %v", prev, slot, n, err)
			return wrapError(RetCStorageError, err, "cannot copy save-slot %q into %q", prev, slot)
		}
		log.Debugf("copied %d rows from save-slot %q into %q", n, prev, slot)
	}

	// without an active slot the partition is empty and not authoritative for slot
	reconcile := prev != "" && !copyFirst
	res, err := s.writePartition(ctx, slot, part, reconcile)
	if err != nil {
		saveErrorsTotal.Inc()
		return err
	}

	s.save = part
	s.activeSlot = slot
	if res.Failed > 0 {
		saveErrorsTotal.Inc()
		s.save.MarkDirty()
		return NewError(RetCStorageError, "save incomplete: "+countMsg(res))
	}
	log.Infof("saved %d entries to save-slot %q", res.Written, slot)
	return nil
}

// --------------------------------------------------------------------------
// Flush
// --------------------------------------------------------------------------

// Tick flushes the global partition if it is dirty and at least the flush
// interval has passed since the last flush. The first dirty tick always
// flushes. A failed flush still counts as a flush attempt for the rate limit,
// the partition stays dirty and is retried on a later tick.
func (s *Store) Tick(ctx context.Context, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, NewError(RetCClosed, "store is closed")
	}

	if !s.global.Dirty() {
		return false, nil
	}
	if !s.lastFlush.IsZero() && now.Sub(s.lastFlush) < s.opts.FlushInterval {
		return false, nil
	}

	s.lastFlush = now
	if _, err := s.writePartition(ctx, db.GlobalPartition, s.global, true); err != nil {
		return true, err
	}
	return true, nil
}

// Flush writes every dirty partition immediately, ignoring the flush interval.
// The save partition is written to the active save-slot.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return NewError(RetCClosed, "store is closed")
	}
	return s.flushLocked(ctx, false)
}

// Close flushes both partitions unconditionally and releases the backing
// store. Calling Close more than once is a no-op.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	flushErr := s.flushLocked(ctx, true)
	if err := s.backing.Close(); err != nil {
		return errors.Join(flushErr, wrapError(RetCStorageError, err, "cannot close backing store"))
	}
	log.Infof("store closed")
	return flushErr
}

func (s *Store) flushLocked(ctx context.Context, force bool) error {
	var errs []error
	flushed := false

	if force || s.global.Dirty() {
		if _, err := s.writePartition(ctx, db.GlobalPartition, s.global, true); err != nil {
			errs = append(errs, err)
		}
		flushed = true
	}
	if s.activeSlot != "" && (force || s.save.Dirty()) {
		if _, err := s.writePartition(ctx, s.activeSlot, s.save, true); err != nil {
			errs = append(errs, err)
		}
		flushed = true
	}

	if flushed {
		s.lastFlush = s.opts.Now()
	}
	return errors.Join(errs...)
}

// writePartition writes p to savefile in one transaction. With reconcile set,
// rows of savefile whose key is not in p are deleted first. The dirty flag is
// cleared once the transaction commits, even if single rows were skipped.
func (s *Store) writePartition(ctx context.Context, savefile string, p *cache.Partition, reconcile bool) (db.UpsertResult, error) {
	label := partitionLabel(savefile)
	start := time.Now()
	entries := p.Snapshot()

	var res db.UpsertResult
	deleted := 0
	err := s.backing.Tx(ctx, func(ctx context.Context) error {
		if reconcile {
			n, err := s.backing.DeleteMissing(ctx, savefile, p.Keys())
			if err != nil {
				return err
			}
			deleted = n
		}
		r, err := s.backing.UpsertBatch(ctx, savefile, entries)
		res = r
		return err
	})

	flushCounter(label).Inc()
	flushDuration(label).UpdateDuration(start)

	if err != nil {
		flushErrorCounter(label).Inc()
		log.Errorf("flush of %s partition %q failed: %v", label, savefile, err)
		return res, wrapError(RetCStorageError, err, "cannot write %s partition %q", label, savefile)
	}

	p.MarkClean()
	rowsFailed.Add(res.Failed)
	if res.Failed > 0 {
		log.Errorf("flush of %s partition %q: %s", label, savefile, countMsg(res))
	} else {
		log.Debugf("flushed %s partition %q: %d written, %d deleted", label, savefile, res.Written, deleted)
	}
	return res, nil
}

// failLoad leaves the store without an active save-slot.
func (s *Store) failLoad() {
	loadErrorsTotal.Inc()
	s.activeSlot = ""
	s.save.Clear()
}

func countMsg(res db.UpsertResult) string {
	return fmt.Sprintf("%d/%d entries saved", res.Written, res.Written+res.Failed)
}
