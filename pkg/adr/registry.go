package adr

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownHandler is returned when no handler is registered under an ID.
var ErrUnknownHandler = errors.New("unknown ADR handler")

// Registry holds the ADR handlers available for selection.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// DefaultRegistry returns a registry containing the built-in handlers, with
// the slow handler using margin dB of installation margin.
func DefaultRegistry(margin float64) *Registry {
	r := NewRegistry()
	// registration of a fresh registry cannot collide
	_ = r.Register(NewSlowHandlerWithMargin(margin))
	return r
}

// Register adds a handler. Registering an ID twice is an error.
func (r *Registry) Register(h Handler) error {
	if h == nil || h.ID() == "" {
		return fmt.Errorf("register ADR handler: empty ID")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.handlers[h.ID()]; ok {
		return fmt.Errorf("register ADR handler %s: already registered", h.ID())
	}
	r.handlers[h.ID()] = h
	return nil
}

// Get returns the handler registered under id.
func (r *Registry) Get(id string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHandler, id)
	}
	return h, nil
}

// List returns all handlers sorted by ID.
func (r *Registry) List() []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Handler, 0, len(r.handlers))
	for _, h := range r.handlers {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID() < out[j].ID()
	})
	return out
}
