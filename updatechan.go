// Package updatechan implements a single-value update channel shared by
// multiple producers and multiple consumers.
//
// A channel consists of a shared slot holding at most one pending value, one
// or more [Updater] handles that publish into the slot, and one or more
// [Receiver] handles that pull from it into a private buffer. Publishing
// overwrites any value not yet pulled, so a receiver only ever observes the
// most recent update: the channel is a last-write-wins broadcast, not a
// queue.
//
// Receivers own the slot. Updaters only observe it: once every receiver has
// been closed, updates fail with [ErrNoReceiver] and hand the value back.
//
// Receivers pull in one of two ways. The "take" methods drain the slot, so
// each published value is delivered to at most one receiver. The "recv"
// methods copy the value and leave it in place, so every receiver can observe
// it. The "checked" variants of each skip buffer updates that would not
// change the value held.
//
// No operation waits on anything except the lock protecting the slot.
package updatechan

import "github.com/creachadair/mds/value"

// A Cloner is a value that knows how to copy itself. If the value type of a
// channel implements Cloner, its Clone method is used to copy values unless
// [WithClone] overrides it.
type Cloner[T any] interface {
	Clone() T
}

// An Option configures a channel at construction.
type Option[T any] func(*config[T])

type config[T any] struct {
	clone func(T) T
	equal func(a, b T) bool
}

// WithClone sets the function used to copy values out of the shared slot
// and between receiver buffers.
//
// By default a value implementing [Cloner] is copied with its Clone method,
// and any other value is copied by assignment.
func WithClone[T any](clone func(T) T) Option[T] {
	return func(c *config[T]) { c.clone = clone }
}

// WithEqual sets the function used by the checked pull methods to decide
// whether the shared value differs from a receiver's buffer.
//
// By default values are compared with ==, which panics if the values are of
// a type that is not comparable.
func WithEqual[T any](equal func(a, b T) bool) Option[T] {
	return func(c *config[T]) { c.equal = equal }
}

func newConfig[T any](opts []Option[T]) *config[T] {
	cfg := &config[T]{clone: cloneValue[T], equal: equalValue[T]}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

func cloneValue[T any](v T) T {
	if c, ok := any(v).(Cloner[T]); ok {
		return c.Clone()
	}
	return v
}

func equalValue[T any](a, b T) bool { return any(a) == any(b) }

// NewWith creates a new channel whose receiver buffer holds init.
// The shared slot starts empty.
func NewWith[T any](init T, opts ...Option[T]) (*Receiver[T], *Updater[T]) {
	s := newSlot(newConfig(opts))
	return newReceiver(s, init), newUpdater(s)
}

// New creates a new channel of optional values whose receiver buffer starts
// absent. The shared slot starts empty.
func New[T any](opts ...Option[value.Maybe[T]]) (*Receiver[value.Maybe[T]], *Updater[value.Maybe[T]]) {
	return NewWith(value.Absent[T](), opts...)
}

// NewDefault creates a new channel whose receiver buffer holds the zero value
// of T. The shared slot starts empty.
func NewDefault[T any](opts ...Option[T]) (*Receiver[T], *Updater[T]) {
	var zero T
	return NewWith(zero, opts...)
}
