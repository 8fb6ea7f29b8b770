// Package registry holds the process-wide count of connected clients.
package registry

import (
	"errors"
	"sync"
)

// ErrUnderflow is returned by Decrement when the count is already zero.
var ErrUnderflow = errors.New("registry: decrement below zero")

// Registry is a mutex-guarded connected-client counter. The zero value is
// ready to use.
type Registry struct {
	mu    sync.Mutex
	count int
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{}
}

// Increment adds one client and returns the new count.
func (r *Registry) Increment() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count++
	return r.count
}

// Decrement removes one client and returns the new count. The count never
// goes negative: on an empty registry it stays at zero and ErrUnderflow is
// returned.
func (r *Registry) Decrement() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count == 0 {
		return 0, ErrUnderflow
	}
	r.count--
	return r.count, nil
}

// Count returns the number of currently registered clients.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}
