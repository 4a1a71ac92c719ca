package policy

import (
	"fmt"
	"sync"
)

// Named is implemented by every plugin kind.
type Named interface {
	Name() string
}

type entry[T Named] struct {
	plugin  T
	enabled bool
}

// Registry holds plugins in registration order, each with an enabled flag.
type Registry[T Named] struct {
	mu    sync.RWMutex
	items []*entry[T]
}

func NewRegistry[T Named](plugins ...T) *Registry[T] {
	r := &Registry[T]{}
	for _, p := range plugins {
		_ = r.Register(p)
	}
	return r
}

// Register adds an enabled plugin. Names must be unique.
func (r *Registry[T]) Register(p T) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.items {
		if e.plugin.Name() == p.Name() {
			return fmt.Errorf("plugin %q already registered", p.Name())
		}
	}
	r.items = append(r.items, &entry[T]{plugin: p, enabled: true})
	return nil
}

// SetEnabled toggles a plugin; false when the name is unknown.
func (r *Registry[T]) SetEnabled(name string, enabled bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.items {
		if e.plugin.Name() == name {
			e.enabled = enabled
			return true
		}
	}
	return false
}

// Enabled returns enabled plugins in registration order.
func (r *Registry[T]) Enabled() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]T, 0, len(r.items))
	for _, e := range r.items {
		if e.enabled {
			out = append(out, e.plugin)
		}
	}
	return out
}

// Get returns an enabled plugin by name.
func (r *Registry[T]) Get(name string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.items {
		if e.plugin.Name() == name && e.enabled {
			return e.plugin, true
		}
	}
	var zero T
	return zero, false
}

func (r *Registry[T]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.items))
	for i, e := range r.items {
		out[i] = e.plugin.Name()
	}
	return out
}
