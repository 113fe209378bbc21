package cache

// hints.go defines CacheHints, the per-request policy passed to Get and
// CreateIfAbsent. Hints are never stored on the entry itself — they only
// decide, for this one call, how aggressively to pursue a fresh load.

// LoadingStrategy selects how a request reacts to an invalid value.
type LoadingStrategy int

const (
	// Volatile enqueues the request (at most once per frame) and returns
	// whatever value is currently present, valid or not.
	Volatile LoadingStrategy = iota
	// Blocking loads synchronously on the calling goroutine. It makes one
	// load attempt per call: a loader error or a done context ends the call
	// with the value still invalid.
	Blocking
	// Budgeted consults the calling scope's IoTimeBudget: if time remains
	// at this priority it enqueues and waits up to that budget, otherwise
	// it falls back to a bare enqueue.
	Budgeted
	// DontLoad never enqueues, waits, or promotes — a pure read.
	DontLoad
)

func (s LoadingStrategy) String() string {
	switch s {
	case Volatile:
		return "VOLATILE"
	case Blocking:
		return "BLOCKING"
	case Budgeted:
		return "BUDGETED"
	case DontLoad:
		return "DONTLOAD"
	default:
		return "UNKNOWN"
	}
}

// CacheHints is passed per request; it is never retained by the cache.
type CacheHints struct {
	Strategy LoadingStrategy
	// Priority selects the fetch queue band, 0 == highest.
	Priority int
	// EnqueueToFront pushes to the front of the chosen band instead of
	// the back, for requests that should jump the FIFO line.
	EnqueueToFront bool
}
