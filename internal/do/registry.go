package do

import (
	"encoding/json"
	"fmt"
)

// Factory builds a fresh, zeroed instance of a registered DO class, ready to
// be hydrated from a field map. Concrete packages supply one factory per
// class when they call Registry.Register.
type Factory func() Object

// Registry is the ordered set of DO classes queried by class code name,
// mirroring distributed_objects.py's DistributedObjectClassRegistry.
type Registry struct {
	order  []string
	byName map[string]Factory
}

// NewRegistry builds an empty registry. Classes are added with Register.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Factory)}
}

// Register adds a DO class under its code name. Re-registering the same
// name replaces the factory but keeps its position in iteration order.
func (r *Registry) Register(codeName string, factory Factory) {
	if _, exists := r.byName[codeName]; !exists {
		r.order = append(r.order, codeName)
	}
	r.byName[codeName] = factory
}

// ErrUnknownClass is returned by Lookup/Create for an unregistered code name.
type ErrUnknownClass struct{ CodeName string }

func (e ErrUnknownClass) Error() string {
	return fmt.Sprintf("do: %q is not a registered Distributed Object", e.CodeName)
}

// Lookup returns a fresh instance of the class named codeName, or
// ErrUnknownClass if it isn't registered.
func (r *Registry) Lookup(codeName string) (Object, error) {
	factory, ok := r.byName[codeName]
	if !ok {
		return nil, ErrUnknownClass{CodeName: codeName}
	}
	return factory(), nil
}

// Create builds and hydrates an instance of codeName from a decoded field
// payload, the path used by both the Zone's and the Client's "create"
// message handlers.
func (r *Registry) Create(codeName string, payload []byte) (Object, error) {
	obj, err := r.Lookup(codeName)
	if err != nil {
		return nil, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("do: decode payload for %q: %w", codeName, err)
	}
	if err := obj.Hydrate(fields); err != nil {
		return nil, err
	}
	return obj, nil
}

// Names returns the registered code names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
