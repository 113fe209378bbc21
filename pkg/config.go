package cache

// config.go defines the internal configuration object and the set of
// functional options New[K,V] accepts, the same shape the teacher repo uses
// for its own cache: a defaultConfig() seeded with sane values, Option[K,V]
// closures that mutate it, and applyOptions() folding them in with
// validation.
//
// © 2025 volatilecache authors. MIT License.

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Option configures a Cache at construction time.
type Option[K comparable, V Value] func(*config[K, V])

type config[K comparable, V Value] struct {
	priorities   int
	fetchers     int
	softCapacity int

	logger   *zap.Logger
	registry *prometheus.Registry
}

func defaultConfig[K comparable, V Value](priorities int) *config[K, V] {
	return &config[K, V]{
		priorities:   priorities,
		fetchers:     1,
		softCapacity: 4096,
		logger:       zap.NewNop(),
		registry:     nil,
	}
}

// WithFetchers sets the fixed size of the fetcher worker pool. Default 1.
func WithFetchers[K comparable, V Value](n int) Option[K, V] {
	return func(c *config[K, V]) {
		if n > 0 {
			c.fetchers = n
		}
	}
}

// WithSoftCapacity bounds how many valid entries the soft retention tier
// keeps a strong reference to before demoting the least-recently-referenced
// ones back to weak-only. Default 4096.
func WithSoftCapacity[K comparable, V Value](n int) Option[K, V] {
	return func(c *config[K, V]) {
		if n > 0 {
			c.softCapacity = n
		}
	}
}

// WithLogger plugs an external zap.Logger. The cache never logs on the hot
// path; only loader failures are emitted, at debug level.
func WithLogger[K comparable, V Value](l *zap.Logger) Option[K, V] {
	return func(c *config[K, V]) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics enables Prometheus metrics collection for the cache instance.
// Omitting this option disables metrics entirely; the hot path then pays
// nothing for metric updates.
func WithMetrics[K comparable, V Value](reg *prometheus.Registry) Option[K, V] {
	return func(c *config[K, V]) {
		c.registry = reg
	}
}

func applyOptions[K comparable, V Value](cfg *config[K, V], opts []Option[K, V]) error {
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.priorities < 1 {
		return errInvalidPriorities
	}
	return nil
}

var errInvalidPriorities = errors.New("volatilecache: priorities must be > 0")
