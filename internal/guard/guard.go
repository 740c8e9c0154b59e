// Package guard implements the bounded-wait mutex and RAII scope guard
// from spec.md C3/§5 ("Locks are bounded: acquisition uses a short
// timeout... it never deadlocks"). The standard library's sync.Mutex has
// no timed acquire, so this hand-rolls one on top of a buffered channel
// acting as a 1-slot semaphore -- justified in DESIGN.md as a case with no
// suitable pack library (no retrieved example repo ships a bounded-wait
// mutex; they all use plain sync.Mutex/RWMutex for in-process state).
package guard

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrTimeout is returned when a lock cannot be acquired within the
// configured timeout.
var ErrTimeout = errors.New("guard: lock acquire timed out")

// DefaultTimeout matches spec.md §5's "default ~100 ms".
const DefaultTimeout = 100 * time.Millisecond

// Mutex is a mutex with a bounded acquire and a logged failure path.
type Mutex struct {
	sem  chan struct{}
	name string
	log  *slog.Logger
}

// New returns an unlocked Mutex. name is used in the WARNING log on
// timeout (e.g. "relay", "heartbeat", "nvs") and logger may be nil, in
// which case timeouts are silent.
func New(name string, logger *slog.Logger) *Mutex {
	m := &Mutex{sem: make(chan struct{}, 1), name: name, log: logger}
	m.sem <- struct{}{}
	return m
}

// TryLock attempts to acquire the mutex within timeout. On failure it logs
// a WARNING and returns ErrTimeout; it never blocks forever.
func (m *Mutex) TryLock(timeout time.Duration) error {
	select {
	case <-m.sem:
		return nil
	case <-time.After(timeout):
		if m.log != nil {
			m.log.Warn("guard:lock-timeout", slog.String("mutex", m.name), slog.Duration("timeout", timeout))
		}
		return ErrTimeout
	}
}

// TryLockContext is TryLock but cancellable via ctx, for callers that
// already carry a deadline.
func (m *Mutex) TryLockContext(ctx context.Context, timeout time.Duration) error {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-m.sem:
		return nil
	case <-t.C:
		if m.log != nil {
			m.log.Warn("guard:lock-timeout", slog.String("mutex", m.name))
		}
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unlock releases the mutex. Calling Unlock without a held lock panics,
// matching sync.Mutex's own contract.
func (m *Mutex) Unlock() {
	select {
	case m.sem <- struct{}{}:
	default:
		panic("guard: Unlock of unlocked Mutex")
	}
}

// Guard is a scope guard released exactly once on all exit paths via defer,
// per spec.md §5 ("RAII scope guards release on all exit paths").
type Guard struct {
	m        *Mutex
	released bool
}

// Lock acquires m within DefaultTimeout and returns a Guard. Callers
// should immediately `defer g.Release()`. Returns (nil, err) on timeout.
func Lock(m *Mutex) (*Guard, error) {
	return LockTimeout(m, DefaultTimeout)
}

// LockTimeout is Lock with an explicit timeout.
func LockTimeout(m *Mutex, timeout time.Duration) (*Guard, error) {
	if err := m.TryLock(timeout); err != nil {
		return nil, err
	}
	return &Guard{m: m}, nil
}

// Release unlocks the underlying mutex exactly once; subsequent calls are
// a no-op, so deferring Release is always safe even after an early return.
func (g *Guard) Release() {
	if g == nil || g.released {
		return
	}
	g.released = true
	g.m.Unlock()
}
