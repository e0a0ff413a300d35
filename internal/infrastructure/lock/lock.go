// Package lock keeps two invocations of the pipeline from running at once.
//
// The lock only reduces wasted work; duplicate prevention relies on the
// processing-record claims in the store.
package lock

import (
	"context"
	"hash/fnv"
)

// Noop always grants the lock. Used when no lock backend is configured.
type Noop struct{}

// TryLock implements ports.RunLocker.
func (Noop) TryLock(context.Context) (func(context.Context) error, bool, error) {
	return func(context.Context) error { return nil }, true, nil
}

// KeyFor maps a lock name onto a Postgres advisory lock key.
func KeyFor(name string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return int64(h.Sum64())
}
