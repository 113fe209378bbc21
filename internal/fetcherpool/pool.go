// Package fetcherpool implements the fixed-size worker pool that drains the
// fetch queue and invokes the cache's per-key fetch callback. Workers
// support a pause-until deadline (so, e.g., an interactive render pass can
// temporarily starve background fetching) and a cooperative shutdown.
//
// © 2025 volatilecache authors. MIT License.
package fetcherpool

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tilepyramid/volatilecache/internal/fetchqueue"
)

// Queue is the subset of fetchqueue.Queue the pool depends on.
type Queue[K any] interface {
	Take(ctx context.Context) (K, error)
	Shutdown()
	Nudge()
}

// FetchFunc is invoked by a worker for every key it dequeues. It should not
// panic; a panicking fetch takes down the whole pool via errgroup.
type FetchFunc[K any] func(ctx context.Context, key K)

// Pool is a fixed-size pool of fetcher goroutines.
type Pool[K any] struct {
	n     int
	queue Queue[K]
	fetch FetchFunc[K]

	mu            sync.Mutex
	cond          *sync.Cond
	pauseDeadline int64 // unix nanoseconds; 0 == not paused

	eg     *errgroup.Group
	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a pool of n workers over queue, invoking fetch for every
// dequeued key. Workers are not started until Start is called.
func New[K any](n int, queue Queue[K], fetch FetchFunc[K]) *Pool[K] {
	if n < 1 {
		n = 1
	}
	p := &Pool[K]{n: n, queue: queue, fetch: fetch}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Start launches the worker goroutines. It must be called at most once.
func (p *Pool[K]) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	eg, workerCtx := errgroup.WithContext(workerCtx)
	p.eg = eg
	p.done = make(chan struct{})

	for i := 0; i < p.n; i++ {
		eg.Go(func() error {
			p.run(workerCtx)
			return nil
		})
	}
}

func (p *Pool[K]) run(ctx context.Context) {
	for {
		p.waitWhilePaused(ctx)
		if ctx.Err() != nil {
			return
		}

		key, err := p.queue.Take(ctx)
		if err != nil {
			if errors.Is(err, fetchqueue.ErrShutdown) {
				return
			}
			if ctx.Err() != nil {
				return
			}
			// Take reports only shutdown and ctx errors, both handled
			// above; retry on anything else.
			continue
		}

		// A pause set while this worker was blocked in Take is honored
		// here, before the dequeued key is fetched.
		p.waitWhilePaused(ctx)
		if ctx.Err() != nil {
			return
		}
		p.fetch(ctx, key)
	}
}

// waitWhilePaused blocks the calling worker until the pause deadline has
// elapsed, Wake() is called, or ctx is done.
func (p *Pool[K]) waitWhilePaused(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		deadline := p.pauseDeadline
		if deadline == 0 || ctx.Err() != nil {
			return
		}
		remaining := time.Duration(deadline - time.Now().UnixNano())
		if remaining <= 0 {
			p.pauseDeadline = 0
			return
		}

		timer := time.AfterFunc(remaining, p.cond.Broadcast)
		stopCtx := context.AfterFunc(ctx, p.cond.Broadcast)
		p.cond.Wait()
		timer.Stop()
		stopCtx()
	}
}

// PauseFor pauses every worker for the given duration, starting now.
func (p *Pool[K]) PauseFor(d time.Duration) { p.PauseUntil(time.Now().Add(d)) }

// PauseUntil pauses every worker until the given deadline.
func (p *Pool[K]) PauseUntil(deadline time.Time) {
	p.mu.Lock()
	p.pauseDeadline = deadline.UnixNano()
	p.mu.Unlock()
	p.cond.Broadcast()
	p.queue.Nudge()
}

// Wake clears any pause deadline and resumes all workers immediately.
func (p *Pool[K]) Wake() {
	p.mu.Lock()
	p.pauseDeadline = 0
	p.mu.Unlock()
	p.cond.Broadcast()
}

// Shutdown cancels the pool's context, unblocks any worker parked in Take,
// and waits (bounded by ctx) for every worker to return.
func (p *Pool[K]) Shutdown(ctx context.Context) error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	p.queue.Shutdown()

	waitErr := make(chan error, 1)
	go func() { waitErr <- p.eg.Wait() }()

	select {
	case err := <-waitErr:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
