package updatechan

import (
	"runtime"
	"sync/atomic"

	"github.com/creachadair/mds/value"
)

// An Updater publishes values to the shared slot of a channel.
//
// An Updater does not keep the channel alive: once every [Receiver] of the
// channel has been closed, updates fail. An Updater is safe for concurrent
// use by multiple goroutines.
type Updater[T any] struct {
	h *updHandle[T]
}

// updHandle is the part of an Updater that must outlive it, so that a
// cleanup can release its weak reference.
type updHandle[T any] struct {
	s      *slot[T]
	closed atomic.Bool
}

func (h *updHandle[T]) close() bool {
	if h.closed.Swap(true) {
		return false
	}
	h.s.upd.Add(-1)
	return true
}

// newUpdater constructs an Updater for s. The caller is responsible for
// having counted the weak reference.
func newUpdater[T any](s *slot[T]) *Updater[T] {
	u := &Updater[T]{h: &updHandle[T]{s: s}}
	runtime.AddCleanup(u, (*updHandle[T]).cleanup, u.h)
	return u
}

func (h *updHandle[T]) cleanup() { h.close() }

// Update stores v as the pending value of the channel, replacing any value
// not yet pulled by a receiver.
//
// If the update fails, the error is an [*UpdateError] that returns ownership
// of v. It fails with [ErrNoReceiver] if every receiver has been closed, with
// [ErrPoisoned] if the shared slot is poisoned, and with [ErrClosed] if u has
// been closed.
func (u *Updater[T]) Update(v T) error {
	if u.h.closed.Load() {
		return &UpdateError[T]{Reason: ErrClosed, Value: v}
	}
	s := u.h.s
	if !s.upgrade() {
		return &UpdateError[T]{Reason: ErrNoReceiver, Value: v}
	}
	defer s.release()

	if err := s.write(func(cur *value.Maybe[T]) { *cur = value.Just(v) }); err != nil {
		return &UpdateError[T]{Reason: err, Value: v}
	}
	return nil
}

// HasReceiver reports whether at least one receiver of the channel is open.
// The result is a snapshot and may be stale by the time it is observed.
func (u *Updater[T]) HasReceiver() bool { return u.h.s.alive() }

// Clone returns a new Updater for the same channel as u. Cloning a closed
// updater returns a closed updater.
func (u *Updater[T]) Clone() *Updater[T] {
	if u.h.closed.Load() {
		c := &Updater[T]{h: &updHandle[T]{s: u.h.s}}
		c.h.closed.Store(true)
		return c
	}
	u.h.s.upd.Add(1)
	return newUpdater(u.h.s)
}

// Close releases u. After Close, [Receiver.HasUpdater] no longer counts u and
// further updates through u fail. Close reports [ErrClosed] if u was already
// closed.
func (u *Updater[T]) Close() error {
	if !u.h.close() {
		return ErrClosed
	}
	return nil
}
