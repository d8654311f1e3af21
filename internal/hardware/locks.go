package hardware

import "sync"

// Locks is the process-wide lock set for the three hardware buses.
// Every hardware transaction holds its device's lock for the duration
// of the transaction and releases it on every exit path.
//
// The locks are plain mutexes, not reentrant: the owning layer (the
// connector) acquires a lock exactly once per public entry point, and
// internal helpers assume the lock is already held. Background tasks
// such as the telemetry poller contend on the same locks with no
// fairness guarantee beyond sync.Mutex itself.
type Locks struct {
	Console sync.Mutex
	left    sync.Mutex
	right   sync.Mutex
}

// Side returns the lock for the given sensor bus.
func (l *Locks) Side(s Side) *sync.Mutex {
	if s == SideRight {
		return &l.right
	}
	return &l.left
}

// WithConsole runs fn with the console bus lock held.
func (l *Locks) WithConsole(fn func() error) error {
	l.Console.Lock()
	defer l.Console.Unlock()
	return fn()
}

// WithSide runs fn with the given sensor bus lock held.
func (l *Locks) WithSide(s Side, fn func() error) error {
	mu := l.Side(s)
	mu.Lock()
	defer mu.Unlock()
	return fn()
}
