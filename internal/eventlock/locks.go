// Package eventlock serializes per-event work across services. The
// resolver and the fusion engine lock through one shared stripe set so
// the same event is never mutated concurrently within a process;
// across processes the database constraints arbitrate.
package eventlock

import (
	"hash/fnv"
	"sync"
)

const defaultStripes = 64

// Locks is a fixed set of mutex stripes addressed by event key.
type Locks struct {
	stripes []sync.Mutex
}

func New(n int) *Locks {
	if n <= 0 {
		n = defaultStripes
	}
	return &Locks{stripes: make([]sync.Mutex, n)}
}

var shared = New(defaultStripes)

// Shared returns the process-wide lock set.
func Shared() *Locks {
	return shared
}

// Lock acquires the stripe for a key and returns its release func.
func (l *Locks) Lock(key string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	stripe := &l.stripes[h.Sum32()%uint32(len(l.stripes))]
	stripe.Lock()
	return stripe.Unlock
}
