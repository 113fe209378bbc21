package iobudget

// registry.go abstracts the "thread group" the original cache keyed its I/O
// statistics by. Thread-group ancestry is not a portable concept, so callers
// hand the cache an explicit Scope instead — typically one per renderer or
// per logical caller context. The Registry is owned by a single Cache
// instance; there is no process-wide global (see spec §9 design note).
//
// © 2025 volatilecache authors. MIT License.

import (
	"sync"
	"sync/atomic"
	"time"
)

// Scope identifies the caller whose I/O budget/statistics are being tracked.
// Callers construct one with NewScope and reuse it across calls belonging to
// the same logical renderer/worker context.
type Scope struct {
	id string
}

// NewScope wraps an arbitrary caller-chosen identifier in a Scope handle.
func NewScope(id string) Scope { return Scope{id: id} }

func (s Scope) String() string { return s.id }

// Stats is the per-scope record: a running I/O timer plus a lazily created
// Budget. Start/Stop toggle measurement around a blocking I/O operation;
// IOTime returns the cumulative elapsed time across all such windows.
type Stats struct {
	cumulative atomic.Int64
	startedAt  atomic.Int64
	running    atomic.Bool

	mu     sync.Mutex
	budget *Budget
}

// Start begins a measurement window. Calling Start while already running
// resets the window's origin (last call wins).
func (s *Stats) Start() {
	s.startedAt.Store(time.Now().UnixNano())
	s.running.Store(true)
}

// Stop ends the current measurement window (no-op if not running) and adds
// the elapsed time to the cumulative counter.
func (s *Stats) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	elapsed := time.Now().UnixNano() - s.startedAt.Load()
	if elapsed > 0 {
		s.cumulative.Add(elapsed)
	}
}

// AddIOTime adds a pre-measured duration directly, for callers (like the
// BUDGETED wait path) that already know the elapsed nanoseconds and don't
// need a Start/Stop pair.
func (s *Stats) AddIOTime(ns int64) {
	if ns > 0 {
		s.cumulative.Add(ns)
	}
}

// IOTime returns the accumulated elapsed I/O time in nanoseconds.
func (s *Stats) IOTime() int64 { return s.cumulative.Load() }

// EnsureBudget lazily creates the scope's Budget with the given number of
// priority levels if it doesn't exist yet, then returns it.
func (s *Stats) EnsureBudget(levels int) *Budget {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.budget == nil {
		s.budget = New(levels)
	}
	return s.budget
}

// Budget returns the scope's current Budget, or nil if EnsureBudget has
// never been called for this scope (the cache calls it from
// InitIOTimeBudget and from every BUDGETED request).
func (s *Stats) Budget() *Budget {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.budget
}

// Registry is a concurrent scope -> *Stats table. Lookups are lock-free on
// the fast path (sync.Map); only first-insert-per-scope takes a lock
// internally.
type Registry struct {
	m sync.Map // Scope -> *Stats
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry { return &Registry{} }

// GetOrCreate returns the Stats for scope, creating an empty one on first
// use.
func (r *Registry) GetOrCreate(scope Scope) *Stats {
	if v, ok := r.m.Load(scope); ok {
		return v.(*Stats)
	}
	v, _ := r.m.LoadOrStore(scope, &Stats{})
	return v.(*Stats)
}

// Get returns the Stats for scope if one has been created.
func (r *Registry) Get(scope Scope) (*Stats, bool) {
	v, ok := r.m.Load(scope)
	if !ok {
		return nil, false
	}
	return v.(*Stats), true
}
