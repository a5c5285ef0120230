package updatechan

import (
	"sync"
	"sync/atomic"

	"github.com/creachadair/mds/value"
)

// A slot is the shared state of a channel: an optional pending value guarded
// by a reader/writer lock, together with the reference counts that track
// which handles are still open.
//
// Every open Receiver (and every outstanding ReadGuard) holds a strong
// reference, counted in recv. Every open Updater holds a weak reference,
// counted in upd. When recv reaches zero the slot is released: its pending
// value is discarded and it can never be upgraded again.
type slot[T any] struct {
	clone func(T) T         // read-only after initialization
	equal func(a, b T) bool // read-only after initialization

	recv atomic.Int64 // strong references
	upd  atomic.Int64 // weak references

	// μ protects the fields below:
	// Lock μ shared to inspect or copy cur.
	// Lock μ exclusively to modify cur or poisoned.
	μ        sync.RWMutex
	cur      value.Maybe[T]
	poisoned bool // set if a writer panicked while holding μ
}

func newSlot[T any](cfg *config[T]) *slot[T] {
	s := &slot[T]{clone: cfg.clone, equal: cfg.equal}
	s.recv.Store(1)
	s.upd.Store(1)
	return s
}

// upgrade attempts to acquire a strong reference to s, and reports whether it
// succeeded. Once s has been released, upgrade always fails.
func (s *slot[T]) upgrade() bool {
	for {
		n := s.recv.Load()
		if n == 0 {
			return false
		} else if s.recv.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// release drops a strong reference to s. Dropping the last one discards the
// pending value.
func (s *slot[T]) release() {
	if s.recv.Add(-1) != 0 {
		return
	}
	s.μ.Lock()
	defer s.μ.Unlock()
	s.cur = value.Absent[T]()
}

// alive reports whether at least one strong reference to s exists.
func (s *slot[T]) alive() bool { return s.recv.Load() > 0 }

// write calls f with exclusive access to the pending value.
// If f panics, s is poisoned before the lock is released, and the panic
// continues. If s is already poisoned, write reports ErrPoisoned without
// calling f.
func (s *slot[T]) write(f func(cur *value.Maybe[T])) error {
	s.μ.Lock()
	defer s.μ.Unlock()
	if s.poisoned {
		return ErrPoisoned
	}

	ok := false
	defer func() {
		if !ok {
			s.poisoned = true // N.B. still holding μ
		}
	}()
	f(&s.cur)
	ok = true
	return nil
}

// read calls f with shared access to the pending value.
// A panic in f releases the lock but does not poison s.
func (s *slot[T]) read(f func(cur value.Maybe[T])) error {
	s.μ.RLock()
	defer s.μ.RUnlock()
	if s.poisoned {
		return ErrPoisoned
	}
	f(s.cur)
	return nil
}

// rlock acquires a shared lock on s and leaves it held on success.
// The caller must call s.μ.RUnlock when done.
func (s *slot[T]) rlock() error {
	s.μ.RLock()
	if s.poisoned {
		s.μ.RUnlock()
		return ErrPoisoned
	}
	return nil
}
