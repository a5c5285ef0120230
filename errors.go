package updatechan

import (
	"errors"
	"fmt"
)

var (
	// ErrPoisoned is reported by any operation that acquires the lock on a
	// channel's shared slot after a goroutine panicked while holding that lock
	// for writing. A poisoned channel stays poisoned.
	ErrPoisoned = errors.New("shared value is poisoned")

	// ErrNoReceiver is the reason reported by an update when every receiver
	// of the channel has been closed.
	ErrNoReceiver = errors.New("no receiver")

	// ErrClosed is reported by an operation on a handle that has been closed.
	ErrClosed = errors.New("handle is closed")
)

// UpdateError is the concrete type of the errors reported by
// [Updater.Update]. It carries the value that could not be stored, so that
// the caller retains ownership of it.
//
// The Reason is one of [ErrNoReceiver], [ErrPoisoned], or [ErrClosed], and
// can be checked with [errors.Is].
type UpdateError[T any] struct {
	Reason error
	Value  T
}

// Error satisfies the error interface.
func (e *UpdateError[T]) Error() string {
	return fmt.Sprintf("update failed: %v", e.Reason)
}

// Unwrap reports the reason the update failed.
func (e *UpdateError[T]) Unwrap() error { return e.Reason }
