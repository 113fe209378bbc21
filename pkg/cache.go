package cache

// cache.go is the top-level orchestrator, the Go analogue of the teacher's
// own Cache in pkg/cache.go: it owns every collaborator (table, queue,
// fetcher pool, budget registry) and wires Get/CreateIfAbsent's hint
// handling the way the teacher wires Put/GetOrLoad onto its shards. Unlike
// the teacher, there is no sharding here — the spec's concurrency model
// wants a single installation lock and a single frame counter, not
// partitioned key space.
//
// © 2025 volatilecache authors. MIT License.

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/tilepyramid/volatilecache/internal/entrytable"
	"github.com/tilepyramid/volatilecache/internal/fetchqueue"
	"github.com/tilepyramid/volatilecache/internal/fetcherpool"
	"github.com/tilepyramid/volatilecache/internal/iobudget"
)

var errInvalidLevels = errors.New("volatilecache: maxNumLevels must be > 0")

// Cache is a key->value table whose values start invalid and transition to
// valid at most once, fed by a priority blocking fetch queue and a pool of
// fetcher goroutines, with weak/soft retention so an unbounded number of
// keys never pins an unbounded amount of memory.
type Cache[K comparable, V Value] struct {
	maxNumLevels int
	currentFrame atomic.Uint64

	cacheLock sync.Mutex
	table     *entrytable.Table[K, V]
	queue     *fetchqueue.Queue[K]
	pool      *fetcherpool.Pool[K]
	budgets   *iobudget.Registry

	logger  *zap.Logger
	metrics metricsSink
}

// New constructs a Cache with maxNumLevels I/O budget levels and
// queuePriorities fetch-queue priority bands, starts its fetcher pool, and
// returns it ready to serve requests.
func New[K comparable, V Value](maxNumLevels, queuePriorities int, opts ...Option[K, V]) (*Cache[K, V], error) {
	if maxNumLevels < 1 {
		return nil, errInvalidLevels
	}
	cfg := defaultConfig[K, V](queuePriorities)
	if err := applyOptions(cfg, opts); err != nil {
		return nil, err
	}

	c := &Cache[K, V]{
		maxNumLevels: maxNumLevels,
		table:        entrytable.NewTable[K, V](cfg.softCapacity),
		queue:        fetchqueue.New[K](cfg.priorities),
		budgets:      iobudget.NewRegistry(),
		logger:       cfg.logger,
		metrics:      newMetricsSink(cfg.registry),
	}
	c.pool = fetcherpool.New[K](cfg.fetchers, c.queue, c.fetch)
	c.pool.Start(context.Background())
	return c, nil
}

// Get looks up key and, if present, applies hints before returning its
// current value. Absent keys return (zero, false) without creating
// anything — use CreateIfAbsent for that.
func (c *Cache[K, V]) Get(ctx context.Context, key K, hints CacheHints, scope iobudget.Scope) (V, bool) {
	e, ok := c.table.Get(key)
	if !ok {
		var zero V
		return zero, false
	}
	c.applyHints(ctx, e, hints, scope)
	return e.Value(), true
}

// CreateIfAbsent installs a fresh invalid entry for key if none exists yet
// (under cacheLock, re-checking the table first so concurrent callers never
// install two entries for the same key), then applies hints and returns the
// entry's current value.
func (c *Cache[K, V]) CreateIfAbsent(ctx context.Context, key K, hints CacheHints, scope iobudget.Scope, loader Loader[K, V]) V {
	e, ok := c.table.Get(key)
	if !ok {
		c.cacheLock.Lock()
		e, ok = c.table.Get(key)
		if !ok {
			placeholder := loader.CreateEmptyValue(key)
			var fresh *entrytable.CacheEntry[K, V]
			fresh = entrytable.NewEntry[K, V](key, loader, placeholder, func(k K, _ V) {
				c.table.PromoteSoft(k, fresh)
				c.metrics.setSoftEntries(c.table.SoftLen())
			})
			c.table.PutWeak(key, fresh)
			e = fresh
		}
		c.cacheLock.Unlock()
	}
	c.applyHints(ctx, e, hints, scope)
	return e.Value()
}

// applyHints is the Go rendering of spec §4.7.3's strategy match.
func (c *Cache[K, V]) applyHints(ctx context.Context, e *entrytable.CacheEntry[K, V], hints CacheHints, scope iobudget.Scope) {
	if e.Value().IsValid() {
		c.metrics.incHit(hints.Priority)
	} else {
		c.metrics.incMiss(hints.Priority)
	}

	switch hints.Strategy {
	case Volatile:
		if e.Value().IsValid() {
			return
		}
		c.enqueueIfNotThisFrame(e, hints.Priority, hints.EnqueueToFront)

	case Blocking:
		for {
			if ctx.Err() != nil {
				return
			}
			start := time.Now()
			err := e.LoadIfNotValid(ctx)
			c.metrics.observeFetch(hints.Priority, time.Since(start).Seconds())
			if err == nil {
				return
			}
			if ctx.Err() != nil {
				// Interrupted mid-load: loop back to the top, which returns
				// immediately now that the context is done.
				continue
			}
			// A genuine loader failure, not a cancellation: give up rather
			// than busy-loop a caller goroutine against a broken loader.
			c.logger.Debug("loader failed, giving up", zap.Error(err))
			return
		}

	case Budgeted:
		if e.Value().IsValid() {
			return
		}
		c.loadOrEnqueue(ctx, e, hints.Priority, hints.EnqueueToFront, scope)

	case DontLoad:
		// Never enqueues, waits, or promotes.
	}
}

// enqueueIfNotThisFrame guarantees at most one enqueue per entry per frame:
// the first caller to observe enqueueFrame < currentFrame wins the race and
// is responsible for the actual Put.
func (c *Cache[K, V]) enqueueIfNotThisFrame(e *entrytable.CacheEntry[K, V], priority int, toFront bool) {
	frame := int64(c.currentFrame.Load())
	if e.TryMarkEnqueued(frame) {
		c.queue.Put(e.Key(), priority, toFront)
		c.metrics.incEnqueue(priority)
	}
}

// loadOrEnqueue implements the BUDGETED strategy: consult the calling
// scope's IoTimeBudget, enqueue unconditionally, and — only if time remains
// at this priority — wait on the entry up to that much time, charging
// whatever elapsed back to the budget.
func (c *Cache[K, V]) loadOrEnqueue(ctx context.Context, e *entrytable.CacheEntry[K, V], priority int, toFront bool, scope iobudget.Scope) {
	stats := c.budgets.GetOrCreate(scope)
	budget := stats.EnsureBudget(c.maxNumLevels)

	timeLeft := budget.TimeLeft(priority)
	c.enqueueIfNotThisFrame(e, priority, toFront)
	if timeLeft <= 0 {
		return
	}

	start := time.Now()
	timer := time.NewTimer(time.Duration(timeLeft))
	defer timer.Stop()
	select {
	case <-e.Ready():
	case <-timer.C:
	case <-ctx.Done():
	}
	elapsed := time.Since(start)
	budget.Use(elapsed.Nanoseconds(), priority)
	stats.AddIOTime(elapsed.Nanoseconds())
	c.metrics.observeFetch(priority, elapsed.Seconds())
}

// fetch is the FetchFunc handed to the fetcher pool: look up the entry for
// a dequeued key and drive its load. A key whose entry has already been
// reclaimed (cleared, or collected between enqueue and dequeue) is simply
// dropped — there is nothing left to service.
func (c *Cache[K, V]) fetch(ctx context.Context, key K) {
	e, ok := c.table.Get(key)
	if !ok {
		return
	}
	if err := e.LoadIfNotValid(ctx); err != nil {
		c.logger.Debug("loader failed", zap.Error(err))
	}
}

// PrepareNextFrame swaps any still-pending requests into the prefetch
// buffer, sweeps entries the garbage collector has already reclaimed, and
// advances the frame counter — in that order, so fetchers draining right
// now are still servicing last frame's work.
func (c *Cache[K, V]) PrepareNextFrame() {
	c.queue.ClearToPrefetch()
	c.table.FinalizeRemovedCacheEntries()
	c.currentFrame.Add(1)
}

// InitIOTimeBudget resets the given scope's I/O time budget, creating it at
// this cache's configured number of levels if it doesn't exist yet.
func (c *Cache[K, V]) InitIOTimeBudget(scope iobudget.Scope, partial []int64) {
	stats := c.budgets.GetOrCreate(scope)
	budget := stats.EnsureBudget(c.maxNumLevels)
	budget.Reset(partial)
}

// Clear drops every entry and pending request this cache owns, then resets
// frame-local bookkeeping. Scoped to this instance only — never a
// process-wide table.
func (c *Cache[K, V]) Clear() {
	c.table.ClearCache()
	c.queue.Clear()
	c.PrepareNextFrame()
}

// Fetchers exposes the fetcher pool's pause/wake controls.
func (c *Cache[K, V]) Fetchers() *fetcherpool.Pool[K] { return c.pool }

// Stats exposes the per-scope I/O statistics and budget registry.
func (c *Cache[K, V]) Stats() *iobudget.Registry { return c.budgets }

// CurrentFrame returns the current frame counter, mostly useful for tests
// and diagnostics.
func (c *Cache[K, V]) CurrentFrame() uint64 { return c.currentFrame.Load() }

// QueueDepth returns the approximate number of pending fetch requests across
// every priority band, live and prefetch alike. Diagnostics only.
func (c *Cache[K, V]) QueueDepth() int { return c.queue.Len() }

// SoftEntries returns the approximate number of entries currently held under
// strong (soft) retention. Diagnostics only.
func (c *Cache[K, V]) SoftEntries() int { return c.table.SoftLen() }

// Shutdown gracefully stops the fetcher pool, bounded by ctx.
func (c *Cache[K, V]) Shutdown(ctx context.Context) error {
	return c.pool.Shutdown(ctx)
}
