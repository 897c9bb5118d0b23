package persist

import "sync"

// Lock serializes read-modify-write sequences against the file stores.
// One Lock is shared by every Map in the process.
type Lock struct {
	mu sync.Mutex
}

// WithLock runs fn while holding the lock.
func (l *Lock) WithLock(fn func() error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fn()
}
