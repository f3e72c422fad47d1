package schema

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds resource schemas keyed by type.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]*ResourceSchema
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]*ResourceSchema)}
}

// NewBuiltinRegistry creates a registry pre-loaded with the built-in catalog.
func NewBuiltinRegistry() (*Registry, error) {
	r := NewRegistry()
	for _, s := range Builtin() {
		if err := r.Register(s); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register validates and adds a schema. Registering a type twice is an error.
func (r *Registry) Register(s *ResourceSchema) error {
	if s == nil {
		return fmt.Errorf("schema is nil")
	}
	if err := s.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.schemas[s.Type]; exists {
		return fmt.Errorf("schema %q already registered", s.Type)
	}
	r.schemas[s.Type] = s
	return nil
}

// Get returns the schema for a resource type.
func (r *Registry) Get(resourceType string) (*ResourceSchema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.schemas[resourceType]
	if !ok {
		return nil, fmt.Errorf("unknown resource type %q", resourceType)
	}
	return s, nil
}

// Types returns the registered resource types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.schemas))
	for t := range r.schemas {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// List returns every registered schema sorted by type.
func (r *Registry) List() []*ResourceSchema {
	types := r.Types()

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*ResourceSchema, 0, len(types))
	for _, t := range types {
		out = append(out, r.schemas[t])
	}
	return out
}
