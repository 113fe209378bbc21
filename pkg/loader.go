package cache

// loader.go mirrors the teacher's loaderfunc.go: a plain function type
// adapter over the Loader interface, letting callers supply two closures
// instead of declaring a named type for the common case of stateless
// loading.

import (
	"context"

	"github.com/tilepyramid/volatilecache/internal/entrytable"
)

// Loader produces a valid V for a K, and an invalid placeholder V to install
// before the real fetch completes. Implementations must tolerate concurrent
// calls for the same key — the cache serializes actual Load calls per key,
// but CreateEmptyValue may run from any goroutine holding the installation
// lock.
type Loader[K comparable, V Value] = entrytable.Loader[K, V]

// FuncLoader adapts two plain functions into a Loader, for callers who don't
// need a dedicated type. The same instance may be invoked concurrently for
// different keys; both functions must be safe for that.
type FuncLoader[K comparable, V Value] struct {
	LoadFunc   func(ctx context.Context, key K) (V, error)
	EmptyValue func(key K) V
}

func (l FuncLoader[K, V]) Load(ctx context.Context, key K) (V, error) {
	return l.LoadFunc(ctx, key)
}

func (l FuncLoader[K, V]) CreateEmptyValue(key K) V {
	return l.EmptyValue(key)
}
