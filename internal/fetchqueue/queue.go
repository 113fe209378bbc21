// Package fetchqueue implements the priority blocking queue that holds
// pending fetch requests between renderers and the fetcher pool.
//
// Bare keys are pushed and popped here; the key->entry mapping itself lives
// in internal/entrytable. Band 0 is the highest priority. Within a band,
// requests are served FIFO. A separate prefetch buffer lets
// Cache.PrepareNextFrame move last frame's unfinished requests aside before
// the frame counter advances, so in-flight fetchers keep draining them once
// no live request is pending — a frame's fresh requests always take
// precedence over stale prefetch ones.
//
// © 2025 volatilecache authors. MIT License.
package fetchqueue

import (
	"container/list"
	"context"
	"errors"
	"sync"
)

// ErrShutdown is returned by Take once the queue has been shut down and
// drained of live work.
var ErrShutdown = errors.New("fetchqueue: queue is shut down")

// Queue is an N-priority-band deque with a prefetch swap buffer.
type Queue[K any] struct {
	mu   sync.Mutex
	cond *sync.Cond

	bands    []*list.List // live, index 0 == highest priority
	prefetch []*list.List // fallback, same band count

	closed bool
}

// New constructs a queue with the given number of priority bands. Bands must
// be >= 1.
func New[K any](priorities int) *Queue[K] {
	if priorities < 1 {
		priorities = 1
	}
	q := &Queue[K]{
		bands:    make([]*list.List, priorities),
		prefetch: make([]*list.List, priorities),
	}
	for i := range q.bands {
		q.bands[i] = list.New()
		q.prefetch[i] = list.New()
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Priorities returns the number of priority bands.
func (q *Queue[K]) Priorities() int { return len(q.bands) }

// Put appends key to the chosen end of the given priority band. Non-blocking.
func (q *Queue[K]) Put(key K, priority int, toFront bool) {
	if priority < 0 {
		priority = 0
	}
	if priority >= len(q.bands) {
		priority = len(q.bands) - 1
	}
	q.mu.Lock()
	if toFront {
		q.bands[priority].PushFront(key)
	} else {
		q.bands[priority].PushBack(key)
	}
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Take blocks until a key is available from the highest-priority non-empty
// live band, falling back to the prefetch bands (in the same priority
// order) when every live band is empty. It is interruptible via ctx: a
// canceled context makes Take return the context's error. On shutdown it
// returns ErrShutdown once no work remains.
func (q *Queue[K]) Take(ctx context.Context) (K, error) {
	var zero K

	if ctx != nil && ctx.Done() != nil {
		stop := context.AfterFunc(ctx, q.cond.Broadcast)
		defer stop()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if k, ok := q.popLocked(); ok {
			return k, nil
		}
		if q.closed {
			return zero, ErrShutdown
		}
		if ctx != nil {
			if err := ctx.Err(); err != nil {
				return zero, err
			}
		}
		q.cond.Wait()
	}
}

// popLocked must be called with q.mu held. It implements the
// live-bands-override-prefetch policy.
func (q *Queue[K]) popLocked() (K, bool) {
	var zero K
	for _, b := range q.bands {
		if e := b.Front(); e != nil {
			b.Remove(e)
			return e.Value.(K), true
		}
	}
	for _, b := range q.prefetch {
		if e := b.Front(); e != nil {
			b.Remove(e)
			return e.Value.(K), true
		}
	}
	return zero, false
}

// ClearToPrefetch atomically drains every live band into its matching
// prefetch band, preserving FIFO order within each band and appending after
// whatever that prefetch band already held. Subsequent Take calls continue
// to prefer the (now empty) live bands, so a fresh Put immediately overrides
// prefetch again.
func (q *Queue[K]) ClearToPrefetch() {
	q.mu.Lock()
	for i, b := range q.bands {
		for e := b.Front(); e != nil; {
			next := e.Next()
			b.Remove(e)
			q.prefetch[i].PushBack(e.Value)
			e = next
		}
	}
	q.mu.Unlock()
}

// Clear drops every pending request, live and prefetch alike. Distinct from
// ClearToPrefetch: nothing survives for a fetcher to pick up afterward.
func (q *Queue[K]) Clear() {
	q.mu.Lock()
	for i := range q.bands {
		q.bands[i] = list.New()
		q.prefetch[i] = list.New()
	}
	q.mu.Unlock()
}

// Len returns the approximate number of pending requests across all live and
// prefetch bands. Intended for metrics/diagnostics, not for synchronization.
func (q *Queue[K]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, b := range q.bands {
		n += b.Len()
	}
	for _, b := range q.prefetch {
		n += b.Len()
	}
	return n
}

// Nudge broadcasts to every goroutine blocked in Take without adding work.
// A Take that still finds nothing to return goes back to waiting, so a
// nudge by itself never makes Take return.
func (q *Queue[K]) Nudge() { q.cond.Broadcast() }

// Shutdown marks the queue closed; once drained, further Take calls return
// ErrShutdown instead of blocking forever.
func (q *Queue[K]) Shutdown() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}
