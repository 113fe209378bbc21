// Package cache is the public API of the volatile loading cache: a
// key->value table whose values start out invalid and transition to valid
// exactly once, backed by a priority blocking fetch queue and a pool of
// fetcher goroutines, with weak/soft retention so a full cache never pins
// more memory than its soft tier allows.
//
// © 2025 volatilecache authors. MIT License.
package cache

import "github.com/tilepyramid/volatilecache/internal/entrytable"

// Value is the constraint every cached value type must satisfy: IsValid
// reports whether the value has finished loading. Once true for a given
// instance it must stay true — loaders never un-load a value in place, they
// only ever produce a new valid instance.
type Value = entrytable.Value
