package entrytable

// table.go implements the two-tier weak/soft retention table described by
// the spec's design notes. Every entry the cache knows about is reachable
// weakly (through index, a map of weak.Pointer) the moment it's installed;
// the first time its value becomes valid it is additionally promoted into
// soft (a bounded, strongly-referenced ring, see softring.go), which is what
// keeps recently-loaded tiles alive under ordinary GC pressure without
// pinning the entire cache in memory.
//
// Go has had real GC-integrated weak pointers and object finalization since
// Go 1.24 (package weak, runtime.AddCleanup) — the same toolchain version
// this module already requires — so there is no need to hand-roll the
// reference-counting polyfill the spec anticipates for GC-less languages.
//
// © 2025 volatilecache authors. MIT License.

import (
	"runtime"
	"sync"
	"weak"
)

// Table is the key->entry table. Each Cache owns exactly one Table; nothing
// here is process-wide.
type Table[K comparable, V Value] struct {
	mu    sync.RWMutex
	index map[K]weak.Pointer[CacheEntry[K, V]]

	softMu sync.Mutex
	soft   *softRing[K, V]

	tombstones chan K
}

// defaultTombstoneBuffer bounds how many cleared-reference notifications can
// queue up between FinalizeRemovedCacheEntries calls before new ones are
// dropped (they are also implicitly caught on the next Get, which treats a
// cleared weak pointer as a miss and lazily removes the slot).
const defaultTombstoneBuffer = 4096

// NewTable constructs an empty table whose soft tier can hold up to
// softCapacity valid entries with a strong reference.
func NewTable[K comparable, V Value](softCapacity int) *Table[K, V] {
	return &Table[K, V]{
		index:      make(map[K]weak.Pointer[CacheEntry[K, V]]),
		soft:       newSoftRing[K, V](softCapacity),
		tombstones: make(chan K, defaultTombstoneBuffer),
	}
}

// Get returns the entry for key if it is still reachable, either because
// it's in the soft ring or because its weak pointer hasn't been cleared
// yet.
func (t *Table[K, V]) Get(key K) (*CacheEntry[K, V], bool) {
	t.mu.RLock()
	wp, ok := t.index[key]
	t.mu.RUnlock()
	if !ok {
		return nil, false
	}
	e := wp.Value()
	if e == nil {
		// Cleared weak pointer: drop the stale slot, unless a newer entry
		// has been installed for key in the meantime.
		t.mu.Lock()
		if cur, ok := t.index[key]; ok && cur.Value() == nil {
			delete(t.index, key)
		}
		t.mu.Unlock()
		return nil, false
	}
	return e, true
}

// PutWeak installs a freshly created entry under weak retention. The
// uniqueness invariant (no two entries for the same key) is the caller's
// responsibility — the orchestrator holds its installation lock across the
// check-then-PutWeak sequence.
func (t *Table[K, V]) PutWeak(key K, e *CacheEntry[K, V]) {
	t.mu.Lock()
	t.index[key] = weak.Make(e)
	t.mu.Unlock()

	runtime.AddCleanup(e, func(k K) {
		select {
		case t.tombstones <- k:
		default:
			// Buffer full: the next Get for this key will observe the
			// cleared weak pointer and remove the slot itself.
		}
	}, key)
}

// PromoteSoft installs entry into the bounded soft ring, giving it a strong
// reference until capacity pressure demotes it back to weak-only. Intended
// to be called, still holding the entry's own load lock, the instant its
// value becomes valid (see CacheEntry.LoadIfNotValid's onValid hook) — never
// for an entry whose value is still invalid.
func (t *Table[K, V]) PromoteSoft(key K, e *CacheEntry[K, V]) {
	t.softMu.Lock()
	t.soft.insert(key, e)
	t.softMu.Unlock()
}

// FinalizeRemovedCacheEntries drains the tombstone notifications produced by
// entries the GC has already reclaimed and removes their table slots, but
// only if the slot still points to the now-cleared weak pointer (a newer
// entry for the same key may have been installed since).
func (t *Table[K, V]) FinalizeRemovedCacheEntries() {
	for {
		select {
		case k := <-t.tombstones:
			t.mu.Lock()
			if wp, ok := t.index[k]; ok && wp.Value() == nil {
				delete(t.index, k)
			}
			t.mu.Unlock()
		default:
			return
		}
	}
}

// ClearCache drops every entry from both tiers.
func (t *Table[K, V]) ClearCache() {
	t.mu.Lock()
	t.index = make(map[K]weak.Pointer[CacheEntry[K, V]])
	t.mu.Unlock()

	t.softMu.Lock()
	t.soft.clear()
	t.softMu.Unlock()

	for {
		select {
		case <-t.tombstones:
		default:
			return
		}
	}
}

// Len returns the number of entries still reachable through the weak index.
// Approximate: entries the GC has collected but that haven't yet been
// finalized still count until the next FinalizeRemovedCacheEntries or Get
// for that key.
func (t *Table[K, V]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.index)
}

// SoftLen returns the number of entries currently held under strong (soft)
// retention.
func (t *Table[K, V]) SoftLen() int {
	t.softMu.Lock()
	defer t.softMu.Unlock()
	return t.soft.size
}
