package schema

import (
	"fmt"
	"sort"
)

// Registry is the attribute schema injected into the wire codecs and the
// tracked state: a lookup from attribute identity to its declared spec.
// It is built explicitly at startup and passed by reference; there is no
// package-level default.
type Registry struct {
	specs map[string]AttributeSpec
}

// NewRegistry creates an empty attribute registry.
func NewRegistry() *Registry {
	return &Registry{specs: make(map[string]AttributeSpec)}
}

// Add registers an attribute spec. Adding the same identity twice is
// idempotent as long as both declarations agree on the data type; a
// conflicting redeclaration is an error.
func (r *Registry) Add(spec AttributeSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	key := spec.Key()
	if existing, ok := r.specs[key]; ok {
		if existing.DataType().String() != spec.DataType().String() {
			return fmt.Errorf("attribute %q: conflicting data types %s and %s",
				key, existing.DataType(), spec.DataType())
		}
		return nil
	}
	r.specs[key] = spec
	return nil
}

// AddDataset registers every attribute declared by the dataset schema.
func (r *Registry) AddDataset(ds *DatasetSchema) error {
	for _, group := range ds.EntityGroups {
		for _, attr := range group.Attributes {
			if err := r.Add(attr); err != nil {
				return fmt.Errorf("dataset %q, entity group %q: %w", ds.Name, group.Name, err)
			}
		}
	}
	return nil
}

// Get looks up the spec for a (component, name) identity.
func (r *Registry) Get(component, name string) (AttributeSpec, bool) {
	spec, ok := r.specs[AttributeKey(component, name)]
	return spec, ok
}

// Len returns the number of registered attribute specs.
func (r *Registry) Len() int {
	return len(r.specs)
}

// Keys returns the registered attribute keys in sorted order.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.specs))
	for k := range r.specs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
