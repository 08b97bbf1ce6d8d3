// Package lock provides per-aggregate mutual exclusion.
package lock

import (
	"sort"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
)

// Keyed hands out one mutex per key. Work on different keys never contends.
type Keyed struct {
	mus *xsync.MapOf[string, *sync.Mutex]
}

// NewKeyed creates an empty keyed lock.
func NewKeyed() *Keyed {
	return &Keyed{mus: xsync.NewMapOf[string, *sync.Mutex]()}
}

func (k *Keyed) mutex(key string) *sync.Mutex {
	mu, _ := k.mus.LoadOrCompute(key, func() *sync.Mutex { return &sync.Mutex{} })
	return mu
}

// Lock acquires the mutex for key and returns its release function.
func (k *Keyed) Lock(key string) func() {
	mu := k.mutex(key)
	mu.Lock()
	return mu.Unlock
}

// LockAll acquires the mutexes for every key in a canonical order so that two
// callers locking overlapping sets cannot deadlock. Duplicate keys are collapsed.
func (k *Keyed) LockAll(keys []string) func() {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	held := make([]*sync.Mutex, 0, len(sorted))
	for i, key := range sorted {
		if i > 0 && sorted[i-1] == key {
			continue
		}
		mu := k.mutex(key)
		mu.Lock()
		held = append(held, mu)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}
