package fetcherpool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tilepyramid/volatilecache/internal/fetchqueue"
)

func TestPool_DrainsQueuedKeys(t *testing.T) {
	t.Parallel()

	q := fetchqueue.New[string](1)
	var fetched sync.Map
	done := make(chan struct{})
	var count atomic.Int32

	p := New[string](4, q, func(_ context.Context, key string) {
		fetched.Store(key, true)
		if count.Add(1) == 3 {
			close(done)
		}
	})
	p.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	})

	q.Put("a", 0, false)
	q.Put("b", 0, false)
	q.Put("c", 0, false)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pool never fetched all queued keys")
	}

	for _, k := range []string{"a", "b", "c"} {
		if _, ok := fetched.Load(k); !ok {
			t.Fatalf("key %q was never fetched", k)
		}
	}
}

// While paused, no worker should call fetch; once woken, pending work
// resumes.
func TestPool_PauseAndWake(t *testing.T) {
	t.Parallel()

	q := fetchqueue.New[string](1)
	var fetchedDuringPause atomic.Bool
	fetched := make(chan struct{}, 1)

	p := New[string](2, q, func(_ context.Context, key string) {
		select {
		case fetched <- struct{}{}:
		default:
		}
	})
	p.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	})

	p.PauseFor(200 * time.Millisecond)
	q.Put("x", 0, false)

	select {
	case <-fetched:
		fetchedDuringPause.Store(true)
	case <-time.After(50 * time.Millisecond):
	}
	if fetchedDuringPause.Load() {
		t.Fatal("fetch ran while pool was paused")
	}

	p.Wake()
	select {
	case <-fetched:
	case <-time.After(time.Second):
		t.Fatal("fetch never ran after Wake")
	}
}

func TestPool_ShutdownStopsWorkers(t *testing.T) {
	t.Parallel()

	q := fetchqueue.New[string](1)
	p := New[string](3, q, func(context.Context, string) {})
	p.Start(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	// A second Take on the now-shut-down queue must report shutdown rather
	// than block.
	if _, err := q.Take(context.Background()); err != fetchqueue.ErrShutdown {
		t.Fatalf("want ErrShutdown after pool shutdown, got %v", err)
	}
}
