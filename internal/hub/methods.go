package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

const MaxMethods = 10

var (
	ErrMethodExists   = errors.New("direct method already registered")
	ErrRegistryFull   = errors.New("direct method registry is full")
	ErrMethodNotFound = errors.New("direct method not found")
	ErrEmptyMethod    = errors.New("direct method name is empty")
)

// MethodHandler handles a direct method invocation. The returned payload is
// sent back to the hub as JSON; nil means an empty object.
type MethodHandler func(ctx context.Context, payload []byte) ([]byte, error)

type methodEntry struct {
	name    string
	handler MethodHandler
}

// MethodRegistry maps direct method names to handlers. It holds at most
// MaxMethods entries and each name is registered once.
type MethodRegistry struct {
	mu      sync.RWMutex
	entries [MaxMethods]methodEntry
	count   int
}

func NewMethodRegistry() *MethodRegistry {
	return &MethodRegistry{}
}

func (r *MethodRegistry) Register(name string, handler MethodHandler) error {
	if name == "" || handler == nil {
		return ErrEmptyMethod
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i := 0; i < r.count; i++ {
		if r.entries[i].name == name {
			return fmt.Errorf("%w: %s", ErrMethodExists, name)
		}
	}
	if r.count == MaxMethods {
		return fmt.Errorf("%w: cannot register %s", ErrRegistryFull, name)
	}

	r.entries[r.count] = methodEntry{name: name, handler: handler}
	r.count++
	return nil
}

func (r *MethodRegistry) Lookup(name string) (MethodHandler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := 0; i < r.count; i++ {
		if r.entries[i].name == name {
			return r.entries[i].handler, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrMethodNotFound, name)
}

// Names lists registered methods in registration order.
func (r *MethodRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, r.count)
	for i := 0; i < r.count; i++ {
		names = append(names, r.entries[i].name)
	}
	return names
}
