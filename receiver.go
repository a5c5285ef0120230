package updatechan

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/creachadair/mds/value"
)

// A Receiver pulls values from the shared slot of a channel into a private
// buffer. The buffer always holds a value: the one most recently pulled, or
// the value the receiver was created with.
//
// Open receivers keep the channel alive. Call [Receiver.Close] (or
// [Receiver.IntoInner]) when a receiver is no longer needed; a receiver that
// becomes unreachable without being closed is released when it is collected.
//
// The shared slot is safe for concurrent use, but the buffer is not locked:
// a Receiver must not be used by multiple goroutines at once. Use
// [Receiver.Clone] to give each goroutine its own receiver.
type Receiver[T any] struct {
	h   *recvHandle[T]
	buf T
}

// recvHandle is the part of a Receiver that must outlive it, so that a
// cleanup can release its strong reference.
type recvHandle[T any] struct {
	s      *slot[T]
	closed atomic.Bool
}

func (h *recvHandle[T]) close() bool {
	if h.closed.Swap(true) {
		return false
	}
	h.s.release()
	return true
}

func (h *recvHandle[T]) cleanup() { h.close() }

// newReceiver constructs a Receiver for s with the given buffer. The caller
// is responsible for having counted the strong reference.
func newReceiver[T any](s *slot[T], buf T) *Receiver[T] {
	r := &Receiver[T]{h: &recvHandle[T]{s: s}, buf: buf}
	runtime.AddCleanup(r, (*recvHandle[T]).cleanup, r.h)
	return r
}

// Borrow returns the value in the buffer of r. It does not touch the shared
// slot.
func (r *Receiver[T]) Borrow() T { return r.buf }

// BorrowMut returns a pointer to the buffer of r, for modification in place.
// The pointer must not be used after r is closed or concurrently with other
// methods of r.
func (r *Receiver[T]) BorrowMut() *T { return &r.buf }

// IntoInner closes r and returns the value in its buffer.
func (r *Receiver[T]) IntoInner() T {
	r.h.close()
	return r.buf
}

// Close releases r. When the last receiver of a channel is closed, any
// pending value is discarded and the channel's updaters begin to fail.
// The buffer remains accessible via [Receiver.Borrow]. Close reports
// [ErrClosed] if r was already closed.
func (r *Receiver[T]) Close() error {
	if !r.h.close() {
		return ErrClosed
	}
	return nil
}

// HasUpdater reports whether at least one updater of the channel is open.
// It does not indicate whether any updater has published or will publish.
func (r *Receiver[T]) HasUpdater() bool { return r.h.s.upd.Load() > 0 }

// Clone returns a new receiver for the same channel as r, whose buffer holds
// a copy of the buffer of r. The two buffers are independent thereafter.
// Cloning a closed receiver returns a closed receiver.
func (r *Receiver[T]) Clone() *Receiver[T] {
	s := r.h.s
	buf := s.clone(r.buf)
	if r.h.closed.Load() || !s.upgrade() {
		c := &Receiver[T]{h: &recvHandle[T]{s: s}, buf: buf}
		c.h.closed.Store(true)
		return c
	}
	return newReceiver(s, buf)
}

// BorrowLocked returns a guard holding a shared lock on the slot of r, from
// which the latest published value can be inspected without pulling it into
// the buffer. The guard blocks all updates until it is released, so the
// caller must release it promptly, and must not call other methods of the
// channel that lock the slot while holding it.
//
// BorrowLocked reports [ErrPoisoned] if the slot is poisoned.
func (r *Receiver[T]) BorrowLocked() (*ReadGuard[T], error) {
	if r.h.closed.Load() {
		return nil, ErrClosed
	}
	s := r.h.s
	if !s.upgrade() {
		return nil, ErrClosed
	}
	if err := s.rlock(); err != nil {
		s.release()
		return nil, err
	}
	return &ReadGuard[T]{s: s}, nil
}

// A ReadGuard holds a shared lock on the slot of a channel. It is obtained
// from [Receiver.BorrowLocked].
type ReadGuard[T any] struct {
	s    *slot[T]
	once sync.Once
}

// Get returns the pending value of the slot. It must not be called after
// g has been released.
func (g *ReadGuard[T]) Get() value.Maybe[T] { return g.s.cur }

// Release releases the lock held by g. Calling Release more than once has no
// further effect.
func (g *ReadGuard[T]) Release() {
	g.once.Do(func() {
		g.s.μ.RUnlock()
		g.s.release()
	})
}

// TakeUpdate moves the pending value of the slot, if any, into the buffer of
// r, leaving the slot empty. It returns the previous buffer value if the
// buffer was updated, or an absent value if the slot was empty.
//
// Since the slot is drained, each published value is taken by at most one
// receiver of the channel.
func (r *Receiver[T]) TakeUpdate() (value.Maybe[T], error) {
	return r.take(false)
}

// TakeUpdateChecked drains the slot like [Receiver.TakeUpdate], but only
// updates the buffer of r if the pending value differs from the value it
// already holds. It returns the previous buffer value if the buffer was
// updated, or an absent value otherwise.
//
// Note that the slot is drained even when the pending value is equal to the
// buffer. An unchanged buffer therefore does not mean the value is still
// available to other receivers.
func (r *Receiver[T]) TakeUpdateChecked() (value.Maybe[T], error) {
	return r.take(true)
}

func (r *Receiver[T]) take(checked bool) (old value.Maybe[T], _ error) {
	if r.h.closed.Load() {
		return old, ErrClosed
	}
	s := r.h.s
	err := s.write(func(cur *value.Maybe[T]) {
		v, ok := cur.GetOK()
		if !ok {
			return
		}
		*cur = value.Absent[T]()
		if checked && s.equal(v, r.buf) {
			return
		}
		old = value.Just(r.buf)
		r.buf = v
	})
	return old, err
}

// RecvUpdate copies the pending value of the slot, if any, into the buffer of
// r, leaving the slot unchanged. It returns the previous buffer value if the
// slot held a value, or an absent value if it was empty.
//
// Since the slot is not drained, every receiver of the channel can observe
// the same published value, and repeated calls copy it again each time.
func (r *Receiver[T]) RecvUpdate() (value.Maybe[T], error) {
	return r.recv(false)
}

// RecvUpdateChecked copies the pending value of the slot into the buffer of r
// like [Receiver.RecvUpdate], but only if it differs from the value the buffer
// already holds. It returns the previous buffer value if the buffer was
// updated, or an absent value otherwise.
func (r *Receiver[T]) RecvUpdateChecked() (value.Maybe[T], error) {
	return r.recv(true)
}

func (r *Receiver[T]) recv(checked bool) (old value.Maybe[T], _ error) {
	if r.h.closed.Load() {
		return old, ErrClosed
	}
	s := r.h.s
	err := s.read(func(cur value.Maybe[T]) {
		v, ok := cur.GetOK()
		if !ok || (checked && s.equal(v, r.buf)) {
			return
		}
		old = value.Just(r.buf)
		r.buf = s.clone(v)
	})
	return old, err
}

// GetCloned returns a copy of the pending value of the slot, or an absent
// value if the slot is empty. It does not modify the buffer of r.
func (r *Receiver[T]) GetCloned() (out value.Maybe[T], _ error) {
	if r.h.closed.Load() {
		return out, ErrClosed
	}
	s := r.h.s
	err := s.read(func(cur value.Maybe[T]) {
		if v, ok := cur.GetOK(); ok {
			out = value.Just(s.clone(v))
		}
	})
	return out, err
}
