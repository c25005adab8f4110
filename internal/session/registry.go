package session

import (
	"sort"
	"sync"
)

// Registry hands out one value per sid: the same sid always gets the same
// instance, different sids never share one.
type Registry[T any] struct {
	factory func(sid string) T

	mu    sync.Mutex
	items map[string]T
}

// NewRegistry returns a registry that builds values lazily with factory.
func NewRegistry[T any](factory func(sid string) T) *Registry[T] {
	return &Registry[T]{
		factory: factory,
		items:   make(map[string]T),
	}
}

// Get returns the value for sid, creating it on first use.
func (r *Registry[T]) Get(sid string) T {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.items[sid]
	if !ok {
		v = r.factory(sid)
		r.items[sid] = v
	}
	return v
}

// Lookup returns the value for sid without creating it.
func (r *Registry[T]) Lookup(sid string) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.items[sid]
	return v, ok
}

// Delete drops the value for sid. It reports whether one existed.
func (r *Registry[T]) Delete(sid string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.items[sid]
	delete(r.items, sid)
	return ok
}

func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// IDs returns the registered sids in sorted order.
func (r *Registry[T]) IDs() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.items))
	for sid := range r.items {
		ids = append(ids, sid)
	}
	r.mu.Unlock()
	sort.Strings(ids)
	return ids
}
