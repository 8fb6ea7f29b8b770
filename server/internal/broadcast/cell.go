package broadcast

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned once the producer side of a Cell has been closed.
var ErrClosed = errors.New("broadcast: cell closed")

// Cell holds exactly one current value and a version that increases by one
// on every Publish.
type Cell[T any] struct {
	mu      sync.Mutex
	value   T
	version uint64
	closed  bool

	// changed is closed and replaced on every Publish and on Close.
	changed chan struct{}
}

// New creates a Cell holding initial at version 0.
func New[T any](initial T) *Cell[T] {
	return &Cell[T]{
		value:   initial,
		changed: make(chan struct{}),
	}
}

// Publish replaces the current value and notifies all subscribers.
func (c *Cell[T]) Publish(v T) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.value = v
	c.version++
	close(c.changed)
	c.changed = make(chan struct{})
	return nil
}

// Load returns the current value and its version without touching any cursor.
func (c *Cell[T]) Load() (T, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value, c.version
}

// Close marks the producer side as permanently gone. It is safe to call
// more than once.
func (c *Cell[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.changed)
}

// Closed reports whether Close has been called.
func (c *Cell[T]) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Subscribe returns a cursor positioned at the current version.
func (c *Cell[T]) Subscribe() *Subscription[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &Subscription[T]{cell: c, version: c.version}
}

// Subscription is one consumer's cursor into a Cell. A Subscription must not
// be shared between goroutines.
type Subscription[T any] struct {
	cell    *Cell[T]
	version uint64
}

// Version returns the last version this cursor observed.
func (s *Subscription[T]) Version() uint64 {
	return s.version
}

// WaitForChange blocks until the cell holds a version newer than the cursor,
// then returns the latest value and advances the cursor to its version.
// A value published before Close is still delivered; after that the call
// returns ErrClosed. Cancelling ctx abandons the wait.
func (s *Subscription[T]) WaitForChange(ctx context.Context) (T, error) {
	for {
		s.cell.mu.Lock()
		if s.cell.version > s.version {
			v := s.cell.value
			s.version = s.cell.version
			s.cell.mu.Unlock()
			return v, nil
		}
		if s.cell.closed {
			s.cell.mu.Unlock()
			var zero T
			return zero, ErrClosed
		}
		changed := s.cell.changed
		s.cell.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}
