// Package registry provides a concurrency-safe mapping from caller-chosen
// tags to observers, with fan-out notification.
package registry

import (
	"sort"
	"sync"
)

// Registry maps tags to observers of type T. Registering an existing tag
// replaces its observer; removing an absent tag is a no-op.
//
// NotifyAll works on a snapshot, so observers may register or remove entries
// (including themselves) while a notification pass is running.
type Registry[T any] struct {
	mu      sync.RWMutex
	entries map[string]T
}

// New creates an empty registry.
func New[T any]() *Registry[T] {
	return &Registry[T]{entries: make(map[string]T)}
}

// Register stores observer under tag, replacing any previous entry.
func (r *Registry[T]) Register(tag string, observer T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[tag] = observer
}

// Remove deletes the entry for tag, if any.
func (r *Registry[T]) Remove(tag string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, tag)
}

// Get returns the observer registered under tag.
func (r *Registry[T]) Get(tag string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.entries[tag]
	return v, ok
}

// Len returns the number of registered observers.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Tags returns the registered tags in sorted order.
func (r *Registry[T]) Tags() []string {
	r.mu.RLock()
	tags := make([]string, 0, len(r.entries))
	for tag := range r.entries {
		tags = append(tags, tag)
	}
	r.mu.RUnlock()
	sort.Strings(tags)
	return tags
}

// NotifyAll calls fn once for every observer present when the pass starts.
// Iteration order is unspecified. No lock is held while fn runs.
func (r *Registry[T]) NotifyAll(fn func(tag string, observer T)) {
	r.mu.RLock()
	snapshot := make(map[string]T, len(r.entries))
	for tag, observer := range r.entries {
		snapshot[tag] = observer
	}
	r.mu.RUnlock()

	for tag, observer := range snapshot {
		fn(tag, observer)
	}
}
