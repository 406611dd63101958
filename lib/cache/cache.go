// Package cache implements the in-memory partition cache of sKV.
//
// A Partition holds the key-value pairs of exactly one partition (the global
// partition or the active save-slot) together with a dirty flag. Enumeration
// follows insertion order, which after a load equals the row order of the
// backing store. A Partition is not safe for concurrent use; the owning store
// guards it with its own mutex.
package cache

import (
	"github.com/ValentinKolb/sKV/lib/value"
)

// Partition is the cache of one partition.
type Partition struct {
	index   map[string]int // key -> position in entries
	entries []value.Entry
	removed []bool // tombstones, parallel to entries
	dead    int
	dirty   bool
}

// New creates an empty, clean partition cache.
func New() *Partition {
	return &Partition{
		index: make(map[string]int),
	}
}

// Get returns the value for key. It has no side effects.
func (p *Partition) Get(key string) (value.Value, bool) {
	i, ok := p.index[key]
	if !ok {
		return value.Value{}, false
	}
	return p.entries[i].Value, true
}

// Set inserts or overwrites key and marks the partition dirty.
// Overwriting keeps the original enumeration position of the key.
func (p *Partition) Set(key string, v value.Value) {
	p.dirty = true
	if i, ok := p.index[key]; ok {
		p.entries[i].Value = v
		return
	}
	p.index[key] = len(p.entries)
	p.entries = append(p.entries, value.Entry{Key: key, Value: v})
	p.removed = append(p.removed, false)
}

// Delete removes key. The partition is marked dirty only if something was removed.
// The slot of the key is tombstoned and reclaimed once half of the slots are dead.
func (p *Partition) Delete(key string) bool {
	i, ok := p.index[key]
	if !ok {
		return false
	}
	delete(p.index, key)
	p.entries[i] = value.Entry{}
	p.removed[i] = true
	p.dead++
	p.dirty = true
	if p.dead*2 >= len(p.entries) {
		p.compact()
	}
	return true
}

// compact drops all tombstones and rebuilds the index.
func (p *Partition) compact() {
	live := p.entries[:0]
	for i, e := range p.entries {
		if p.removed[i] {
			continue
		}
		p.index[e.Key] = len(live)
		live = append(live, e)
	}
	clear(p.entries[len(live):])
	p.entries = live
	p.removed = make([]bool, len(live), cap(live))
	p.dead = 0
}

// Contains reports whether key is present.
func (p *Partition) Contains(key string) bool {
	_, ok := p.index[key]
	return ok
}

// Len returns the number of entries.
func (p *Partition) Len() int {
	return len(p.index)
}

// Snapshot returns a copy of all entries in enumeration order.
// The copy stays valid after later mutations of the partition.
func (p *Partition) Snapshot() []value.Entry {
	out := make([]value.Entry, 0, len(p.index))
	for i, e := range p.entries {
		if !p.removed[i] {
			out = append(out, e)
		}
	}
	return out
}

// Keys returns all keys in enumeration order.
func (p *Partition) Keys() []string {
	keys := make([]string, 0, len(p.index))
	for i, e := range p.entries {
		if !p.removed[i] {
			keys = append(keys, e.Key)
		}
	}
	return keys
}

// ReplaceAll discards the current contents and installs entries.
// Later duplicates of a key overwrite earlier ones. The partition is clean afterwards.
func (p *Partition) ReplaceAll(entries []value.Entry) {
	p.index = make(map[string]int, len(entries))
	p.entries = make([]value.Entry, 0, len(entries))
	for _, e := range entries {
		if i, ok := p.index[e.Key]; ok {
			p.entries[i].Value = e.Value
			continue
		}
		p.index[e.Key] = len(p.entries)
		p.entries = append(p.entries, e)
	}
	p.removed = make([]bool, len(p.entries))
	p.dead = 0
	p.dirty = false
}

// Clear removes all entries and leaves the partition clean.
func (p *Partition) Clear() {
	p.ReplaceAll(nil)
}

// Dirty reports whether the partition diverged from the backing store.
func (p *Partition) Dirty() bool {
	return p.dirty
}

// MarkDirty forces the dirty flag, e.g. after a failed flush.
func (p *Partition) MarkDirty() {
	p.dirty = true
}

// MarkClean clears the dirty flag after a committed flush.
func (p *Partition) MarkClean() {
	p.dirty = false
}
