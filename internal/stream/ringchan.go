// Package stream provides the bounded event channels that carry scan
// snapshots, session state changes and sample updates across the
// presentation boundary.
package stream

import "sync/atomic"

// Ring is a bounded channel-like buffer with overwrite-oldest semantics.
// Producers never block: when the buffer is full the oldest element is
// discarded so a slow consumer sees the most recent events rather than a
// stale backlog. Readers consume via C() like a normal channel.
type Ring[T any] struct {
	ch      chan T
	dropped atomic.Int64
}

// NewRing creates a Ring with the given capacity.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		panic("stream: ring capacity must be > 0")
	}
	return &Ring[T]{ch: make(chan T, capacity)}
}

// C returns the underlying receive-only channel. Consumers can range over
// it until Close.
func (r *Ring[T]) C() <-chan T {
	return r.ch
}

// Send inserts v, discarding the oldest buffered element if the ring is
// full. It reports whether an element was discarded.
func (r *Ring[T]) Send(v T) bool {
	select {
	case r.ch <- v:
		return false
	default:
	}
	var discarded bool
	select {
	case <-r.ch:
		r.dropped.Add(1)
		discarded = true
	default:
	}
	r.ch <- v
	return discarded
}

// TrySend attempts a non-blocking insert and reports whether it succeeded.
func (r *Ring[T]) TrySend(v T) bool {
	select {
	case r.ch <- v:
		return true
	default:
		return false
	}
}

// Receive blocks until a value is available or the ring is closed.
func (r *Ring[T]) Receive() (v T, ok bool) {
	v, ok = <-r.ch
	return v, ok
}

// Len returns the number of buffered elements.
func (r *Ring[T]) Len() int { return len(r.ch) }

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int { return cap(r.ch) }

// Dropped returns how many elements have been discarded to make room.
func (r *Ring[T]) Dropped() int64 { return r.dropped.Load() }

// Close closes the ring. Sending after Close panics.
func (r *Ring[T]) Close() { close(r.ch) }
