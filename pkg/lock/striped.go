// Package lock provides a fixed set of mutexes addressed by string keys.
package lock

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Striped provides a set of locks for concurrent access to different keys.
// This avoids holding a global lock or having a map of locks that grows indefinitely.
// Distinct keys may share a stripe; callers must not hold two keys at once.
type Striped struct {
	locks []sync.Mutex
}

// NewStriped creates a Striped lock with a given number of stripes.
func NewStriped(count int) *Striped {
	if count <= 0 {
		count = 1024
	}
	return &Striped{
		locks: make([]sync.Mutex, count),
	}
}

func (sl *Striped) stripe(key string) *sync.Mutex {
	h := xxhash.Sum64String(key)
	return &sl.locks[h%uint64(len(sl.locks))]
}

// Lock locks the mutex associated with the given key.
func (sl *Striped) Lock(key string) {
	sl.stripe(key).Lock()
}

// Unlock unlocks the mutex associated with the given key.
func (sl *Striped) Unlock(key string) {
	sl.stripe(key).Unlock()
}

// With runs fn while holding the lock for key.
func (sl *Striped) With(key string, fn func() error) error {
	mu := sl.stripe(key)
	mu.Lock()
	defer mu.Unlock()
	return fn()
}
