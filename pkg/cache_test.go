package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tilepyramid/volatilecache/internal/iobudget"
)

type tileValue struct {
	data  string
	valid bool
}

func (v tileValue) IsValid() bool { return v.valid }

type tileLoader struct {
	delay atomic.Int64 // nanoseconds to sleep before returning, simulates I/O
	calls atomic.Int64
}

func (l *tileLoader) CreateEmptyValue(string) tileValue { return tileValue{} }

func (l *tileLoader) Load(ctx context.Context, key string) (tileValue, error) {
	l.calls.Add(1)
	if d := l.delay.Load(); d > 0 {
		select {
		case <-time.After(time.Duration(d)):
		case <-ctx.Done():
			return tileValue{}, ctx.Err()
		}
	}
	return tileValue{data: key, valid: true}, nil
}

func newTestCache(t *testing.T, fetchers int) (*Cache[string, tileValue], *tileLoader) {
	t.Helper()
	loader := &tileLoader{}
	c, err := New[string, tileValue](3, 4, WithFetchers[string, tileValue](fetchers))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = c.Shutdown(ctx)
	})
	return c, loader
}

// Scenario: a cache miss under the BLOCKING strategy must synchronously
// drive the loader and return a valid value before returning.
func TestCache_BlockingMissLoadsSynchronously(t *testing.T) {
	t.Parallel()

	c, loader := newTestCache(t, 2)
	scope := iobudget.NewScope("test")
	hints := CacheHints{Strategy: Blocking, Priority: 0}

	v := c.CreateIfAbsent(context.Background(), "z0/x0/y0", hints, scope, loader)
	if !v.IsValid() {
		t.Fatal("want a valid value after a blocking CreateIfAbsent")
	}
	if got := loader.calls.Load(); got != 1 {
		t.Fatalf("want exactly one load call, got %d", got)
	}
}

// Scenario: BUDGETED with ample remaining budget must wait for the fetcher
// pool to finish the load and return a valid value.
func TestCache_BudgetedWithSufficientBudgetWaitsForValue(t *testing.T) {
	t.Parallel()

	c, loader := newTestCache(t, 2)
	loader.delay.Store(int64(10 * time.Millisecond))
	scope := iobudget.NewScope("renderer")
	c.InitIOTimeBudget(scope, []int64{int64(time.Second), int64(time.Second), int64(time.Second)})

	hints := CacheHints{Strategy: Budgeted, Priority: 0}
	v := c.CreateIfAbsent(context.Background(), "z0/x1/y1", hints, scope, loader)

	if !v.IsValid() {
		t.Fatal("want a valid value when ample budget remains")
	}

	stats, ok := c.Stats().Get(scope)
	if !ok {
		t.Fatal("want stats recorded for the scope")
	}
	budget := stats.Budget()
	if budget.TimeLeft(0) >= int64(time.Second) {
		t.Fatal("want the budget to have been charged for the wait")
	}
	if stats.IOTime() <= 0 {
		t.Fatal("want the scope's cumulative I/O timer to have accumulated the wait")
	}
}

type alwaysFailingLoader struct {
	calls atomic.Int64
}

func (l *alwaysFailingLoader) CreateEmptyValue(string) tileValue { return tileValue{} }

func (l *alwaysFailingLoader) Load(context.Context, string) (tileValue, error) {
	l.calls.Add(1)
	return tileValue{}, errors.New("permanent loader failure")
}

// Scenario: a loader that always fails must not spin the calling goroutine
// in a tight retry loop under BLOCKING — it gets one attempt and returns the
// still-invalid value.
func TestCache_BlockingGivesUpOnLoaderFailureInsteadOfBusyLooping(t *testing.T) {
	t.Parallel()

	c, err := New[string, tileValue](3, 4, WithFetchers[string, tileValue](1))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = c.Shutdown(ctx)
	})

	loader := &alwaysFailingLoader{}
	scope := iobudget.NewScope("blocking-failure")
	hints := CacheHints{Strategy: Blocking, Priority: 0}

	done := make(chan tileValue, 1)
	go func() {
		done <- c.CreateIfAbsent(context.Background(), "z0/x8/y8", hints, scope, loader)
	}()

	select {
	case v := <-done:
		if v.IsValid() {
			t.Fatal("want an invalid value back from a permanently failing loader")
		}
	case <-time.After(time.Second):
		t.Fatal("BLOCKING busy-looped instead of giving up on a non-cancellation loader error")
	}

	if got := loader.calls.Load(); got != 1 {
		t.Fatalf("want exactly one attempt against a failing loader, got %d calls", got)
	}
}

// Scenario: a context cancellation that happens mid-load must end a
// BLOCKING request promptly, returning the still-invalid value.
func TestCache_BlockingReturnsPromptlyOnContextCancellation(t *testing.T) {
	t.Parallel()

	c, loader := newTestCache(t, 1)
	loader.delay.Store(int64(time.Second))
	scope := iobudget.NewScope("blocking-cancel")
	hints := CacheHints{Strategy: Blocking, Priority: 0}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	v := c.CreateIfAbsent(ctx, "z0/x9/y9", hints, scope, loader)
	elapsed := time.Since(start)

	if v.IsValid() {
		t.Fatal("want an invalid value back once the context is done")
	}
	if elapsed > 200*time.Millisecond {
		t.Fatalf("want BLOCKING to return promptly after context cancellation, took %s", elapsed)
	}
}

// Scenario: BUDGETED with an exhausted budget at this priority must not
// block — it enqueues the fetch and returns immediately, even though the
// value is still invalid.
func TestCache_BudgetedWithExhaustedBudgetDoesNotBlock(t *testing.T) {
	t.Parallel()

	c, loader := newTestCache(t, 1)
	loader.delay.Store(int64(200 * time.Millisecond))
	scope := iobudget.NewScope("renderer-exhausted")
	c.InitIOTimeBudget(scope, []int64{0, 0, 0})

	hints := CacheHints{Strategy: Budgeted, Priority: 0}

	start := time.Now()
	v := c.CreateIfAbsent(context.Background(), "z0/x2/y2", hints, scope, loader)
	elapsed := time.Since(start)

	if v.IsValid() {
		t.Fatal("want an invalid value back when the budget is already exhausted")
	}
	if elapsed > 50*time.Millisecond {
		t.Fatalf("want an immediate return with no budget left, took %s", elapsed)
	}
}

// Scenario: re-requesting the same key within the same frame must not
// enqueue a second time; advancing the frame must allow exactly one more
// enqueue. The fetcher pool always runs at least one worker, so this
// asserts on the entry's own enqueue-frame marker rather than queue depth,
// which a background worker could drain at any moment.
func TestCache_DeduplicatesEnqueueAcrossFrame(t *testing.T) {
	t.Parallel()

	c, loader := newTestCache(t, 1)
	loader.delay.Store(int64(200 * time.Millisecond)) // keep the entry invalid
	scope := iobudget.NewScope("dedupe")
	hints := CacheHints{Strategy: Volatile, Priority: 0}

	c.CreateIfAbsent(context.Background(), "z0/x3/y3", hints, scope, loader)
	e, ok := c.table.Get("z0/x3/y3")
	if !ok {
		t.Fatal("want the entry installed")
	}
	frameAfterFirst := e.EnqueueFrame()
	if frameAfterFirst < 0 {
		t.Fatalf("want the first request to mark the entry enqueued, got %d", frameAfterFirst)
	}

	// Same frame: must not move the marker.
	c.Get(context.Background(), "z0/x3/y3", hints, scope)
	if got := e.EnqueueFrame(); got != frameAfterFirst {
		t.Fatalf("want no additional enqueue within the same frame, marker moved %d -> %d", frameAfterFirst, got)
	}

	c.PrepareNextFrame()
	c.Get(context.Background(), "z0/x3/y3", hints, scope)
	if got := e.EnqueueFrame(); got <= frameAfterFirst {
		t.Fatalf("want exactly one more enqueue after advancing the frame, marker stayed at %d", got)
	}
}

// DONTLOAD must never enqueue, wait, or promote — a pure read of whatever
// is already there.
func TestCache_DontLoadNeverEnqueues(t *testing.T) {
	t.Parallel()

	c, loader := newTestCache(t, 1)
	scope := iobudget.NewScope("dontload")
	hints := CacheHints{Strategy: DontLoad, Priority: 0}

	v := c.CreateIfAbsent(context.Background(), "z0/x4/y4", hints, scope, loader)
	if v.IsValid() {
		t.Fatal("want an invalid placeholder back")
	}

	e, ok := c.table.Get("z0/x4/y4")
	if !ok {
		t.Fatal("want the entry installed")
	}
	if got := e.EnqueueFrame(); got >= 0 {
		t.Fatalf("DONTLOAD must never enqueue, but the entry's marker is %d", got)
	}
}

// VOLATILE on an already-valid entry must be a no-op: no re-enqueue, no
// extra loader call.
func TestCache_VolatileOnValidEntryIsNoop(t *testing.T) {
	t.Parallel()

	c, loader := newTestCache(t, 2)
	scope := iobudget.NewScope("volatile-valid")

	blockHints := CacheHints{Strategy: Blocking, Priority: 0}
	v := c.CreateIfAbsent(context.Background(), "z0/x5/y5", blockHints, scope, loader)
	if !v.IsValid() {
		t.Fatal("setup: want a valid value after blocking load")
	}

	volatileHints := CacheHints{Strategy: Volatile, Priority: 0}
	_, ok := c.Get(context.Background(), "z0/x5/y5", volatileHints, scope)
	if !ok {
		t.Fatal("want the entry present")
	}
	if got := c.queue.Len(); got != 0 {
		t.Fatalf("VOLATILE on an already-valid entry must not enqueue, got queue len %d", got)
	}
	if got := loader.calls.Load(); got != 1 {
		t.Fatalf("want the loader to have run only once, got %d calls", got)
	}
}

// CreateIfAbsent must never install two distinct entries for the same key
// under concurrent first-use.
func TestCache_CreateIfAbsentInstallsExactlyOneEntryUnderRace(t *testing.T) {
	t.Parallel()

	c, loader := newTestCache(t, 2)
	scope := iobudget.NewScope("race")
	hints := CacheHints{Strategy: DontLoad, Priority: 0}

	const goroutines = 32
	done := make(chan struct{}, goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			c.CreateIfAbsent(context.Background(), "z0/x6/y6", hints, scope, loader)
			done <- struct{}{}
		}()
	}
	for i := 0; i < goroutines; i++ {
		<-done
	}

	if got := c.table.Len(); got != 1 {
		t.Fatalf("want exactly one table entry for the contended key, got %d", got)
	}
}

// Clear must drop every entry and reset frame-local bookkeeping.
func TestCache_ClearDropsEntriesAndResetsFrame(t *testing.T) {
	t.Parallel()

	c, loader := newTestCache(t, 2)
	scope := iobudget.NewScope("clear")
	hints := CacheHints{Strategy: Blocking, Priority: 0}

	c.CreateIfAbsent(context.Background(), "z0/x7/y7", hints, scope, loader)
	c.PrepareNextFrame()
	frameBefore := c.CurrentFrame()

	c.Clear()

	if _, ok := c.Get(context.Background(), "z0/x7/y7", CacheHints{Strategy: DontLoad}, scope); ok {
		t.Fatal("want the cleared key absent")
	}
	if got := c.CurrentFrame(); got != frameBefore+1 {
		t.Fatalf("want the frame counter to advance by one on Clear, got %d -> %d", frameBefore, got)
	}
}
