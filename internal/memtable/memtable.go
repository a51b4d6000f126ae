// Package memtable implements the in-memory authoritative table: a sorted
// byte-key map with tombstones, atomically snapshot-able for iteration.
// Readers latch only long enough to extract a consistent view; writers
// hold an exclusive lock. The data structure is a plain map plus a sorted
// key copy taken per snapshot, not a tree: swap-at-checkpoint makes a
// whole-table replace cheap enough that incremental rebalancing buys
// nothing here.
package memtable

import (
	"sort"
	"sync"
)

// Entry is one MemTable slot: either a live value or a tombstone masking a
// lower (segment) layer.
type Entry struct {
	Value     []byte
	Tombstone bool
}

// MemTable is a sorted map from byte-key to Entry, guarded by a read-write
// lock the way pkg/storage/table.go guarded its Indices map.
type MemTable struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// New returns an empty MemTable.
func New() *MemTable {
	return &MemTable{entries: make(map[string]Entry)}
}

// Upsert writes a live entry for key.
func (m *MemTable) Upsert(key, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	m.entries[string(key)] = Entry{Value: v}
}

// Delete writes a tombstone for key unconditionally, even if the key was
// never present: the tombstone must mask any lower segment entry.
func (m *MemTable) Delete(key []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[string(key)] = Entry{Tombstone: true}
}

// TryGet returns the live value for key, or ok=false if the key is absent
// or tombstoned.
func (m *MemTable) TryGet(key []byte) (value []byte, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, present := m.entries[string(key)]
	if !present || e.Tombstone {
		return nil, false
	}
	return e.Value, true
}

// HasTombstoneExact reports whether key has an exact tombstone entry.
func (m *MemTable) HasTombstoneExact(key []byte) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, present := m.entries[string(key)]
	return present && e.Tombstone
}

// KV pairs a key with its entry, returned by the snapshot iterators.
type KV struct {
	Key   []byte
	Entry Entry
}

// snapshot extracts a consistent copy of keys/entries in range
// [from, to) (empty bound = unbounded on that side), optionally skipping
// keys <= after. The copy is taken under a brief read lock;
// the returned slice can be iterated without holding any lock. The key
// order is rebuilt fresh on every call rather than cached, since a cache
// would need its own write barrier to update safely from concurrent
// readers holding only the shared lock.
func (m *MemTable) snapshot(from, to, after []byte) []KV {
	m.mu.RLock()
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lo := 0
	if len(from) > 0 {
		lo = sort.SearchStrings(keys, string(from))
	}
	hi := len(keys)
	if len(to) > 0 {
		hi = sort.SearchStrings(keys, string(to))
	}
	if len(after) > 0 {
		// SearchStrings gives the first key >= after; skip one further if
		// that key is an exact match, so the range excludes "after" itself.
		afterIdx := sort.SearchStrings(keys, string(after))
		if afterIdx < len(keys) && keys[afterIdx] == string(after) {
			afterIdx++
		}
		if afterIdx > lo {
			lo = afterIdx
		}
	}
	if lo > hi {
		lo = hi
	}
	out := make([]KV, 0, hi-lo)
	for i := lo; i < hi; i++ {
		k := keys[i]
		out = append(out, KV{Key: []byte(k), Entry: m.entries[k]})
	}
	m.mu.RUnlock()
	return out
}

// SnapshotAll returns every entry in lex order, optionally skipping keys
// less-than-or-equal to after.
func (m *MemTable) SnapshotAll(after []byte) []KV {
	return m.snapshot(nil, nil, after)
}

// SnapshotRange returns entries in [from, to) in lex order, optionally
// skipping keys less-than-or-equal to after. Empty from/to means unbounded
// on that side.
func (m *MemTable) SnapshotRange(from, to, after []byte) []KV {
	return m.snapshot(from, to, after)
}

// Len reports the number of entries currently tracked (live + tombstone).
func (m *MemTable) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
