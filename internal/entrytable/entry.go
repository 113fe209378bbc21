// Package entrytable implements the key->entry table at the heart of the
// cache: CacheEntry (value + loader + frame marker) and Table, the
// weak/soft retention layer entries live in.
//
// © 2025 volatilecache authors. MIT License.
package entrytable

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
)

// Value is the constraint every cached value type must satisfy: a single
// observable predicate that transitions monotonically from false to true
// and never back.
type Value interface {
	IsValid() bool
}

// Loader produces a valid V from a K, and an invalid placeholder V to
// install before the real value has been fetched. Implementations must be
// safe for concurrent calls with the same key.
type Loader[K comparable, V Value] interface {
	Load(ctx context.Context, key K) (V, error)
	CreateEmptyValue(key K) V
}

// NeverEnqueued is the initial value of a fresh entry's enqueue-frame
// marker: smaller than any real frame number, so the first
// enqueueIfNotThisFrame call always wins.
const NeverEnqueued int64 = -1

// enqueuedForever is the sentinel enqueue-frame value assigned once an
// entry's value becomes valid, so no future frame ever re-enqueues it.
const enqueuedForever int64 = math.MaxInt64

// CacheEntry holds one cached key's current value (valid or not), the
// loader that can produce it, and the frame-based enqueue dedup marker.
type CacheEntry[K comparable, V Value] struct {
	key    K
	loader Loader[K, V]

	value atomic.Pointer[V] // release-store / acquire-load published value

	ready chan struct{} // closed exactly once, when value becomes valid
	once  sync.Once

	loadMu sync.Mutex // serializes the actual Loader.Load call

	enqueueFrame atomic.Int64

	// onValid is invoked, still holding loadMu, the first time the value
	// becomes valid. Wired by the owning Table to promote this entry from
	// weak to soft retention.
	onValid func(K, V)
}

// NewEntry constructs a fresh, invalid entry for key, seeded with the
// loader-supplied placeholder value.
func NewEntry[K comparable, V Value](key K, loader Loader[K, V], placeholder V, onValid func(K, V)) *CacheEntry[K, V] {
	e := &CacheEntry[K, V]{
		key:     key,
		loader:  loader,
		ready:   make(chan struct{}),
		onValid: onValid,
	}
	e.enqueueFrame.Store(NeverEnqueued)
	e.value.Store(&placeholder)
	return e
}

// Key returns the entry's key.
func (e *CacheEntry[K, V]) Key() K { return e.key }

// Value returns the entry's current value, which may still report
// IsValid() == false.
func (e *CacheEntry[K, V]) Value() V { return *e.value.Load() }

// Ready returns a channel that is closed exactly once, the moment the
// entry's value transitions to valid. Waiting on it more than once, or
// after it's already closed, is safe and returns immediately.
func (e *CacheEntry[K, V]) Ready() <-chan struct{} { return e.ready }

// EnqueueFrame returns the frame number this entry was last marked enqueued
// for (NeverEnqueued if never, enqueuedForever once valid).
func (e *CacheEntry[K, V]) EnqueueFrame() int64 { return e.enqueueFrame.Load() }

// TryMarkEnqueued atomically sets the enqueue-frame marker to frame iff the
// previous value was smaller, returning whether the caller "won" and is
// therefore responsible for actually pushing the key onto the fetch queue.
// This is what guarantees at most one enqueue per entry per frame
// regardless of how many renderers request the same key concurrently.
func (e *CacheEntry[K, V]) TryMarkEnqueued(frame int64) bool {
	for {
		old := e.enqueueFrame.Load()
		if old >= frame {
			return false
		}
		if e.enqueueFrame.CompareAndSwap(old, frame) {
			return true
		}
	}
}

// LoadIfNotValid loads the entry's value if it is not already valid.
// Double-checked locking: the fast path (already valid) takes no lock at
// all; concurrent callers serialize on loadMu and all but the first
// observe the value as valid on the recheck and return immediately.
//
// On success the value is published, the enqueue-frame marker is pinned to
// enqueuedForever, the promotion hook runs (still under loadMu, so
// promotion is part of the same critical section the load itself ran in),
// and every goroutine waiting on Ready() is released.
//
// On failure the entry is left invalid and the error is returned for the
// caller to log; it is never cached, so the next fetch attempt retries.
func (e *CacheEntry[K, V]) LoadIfNotValid(ctx context.Context) error {
	if e.Value().IsValid() {
		return nil
	}

	e.loadMu.Lock()
	defer e.loadMu.Unlock()

	if e.Value().IsValid() {
		return nil
	}

	v, err := e.loader.Load(ctx, e.key)
	if err != nil {
		return err
	}

	e.value.Store(&v)
	e.enqueueFrame.Store(enqueuedForever)
	if e.onValid != nil {
		e.onValid(e.key, v)
	}
	e.once.Do(func() { close(e.ready) })
	return nil
}
