package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// AttributeSpec declares one attribute: its identity (component, name), its
// data type, and an optional enum binding. Specs are declarative; column
// allocation happens later, when the owning entity group first receives ids.
type AttributeSpec struct {
	Name      string    `yaml:"name" json:"name"`
	Component string    `yaml:"component,omitempty" json:"component,omitempty"`
	Primitive Primitive `yaml:"data_type" json:"data_type"`
	UnitShape []int     `yaml:"unit_shape,omitempty" json:"unit_shape,omitempty"`
	CSR       bool      `yaml:"csr,omitempty" json:"csr,omitempty"`
	Enum      string    `yaml:"enum,omitempty" json:"enum,omitempty"`
}

// DataType assembles the spec's typing fields into a DataType.
func (s AttributeSpec) DataType() DataType {
	return DataType{Primitive: s.Primitive, UnitShape: s.UnitShape, CSR: s.CSR}
}

// Key returns the map key identifying this attribute within an entity group:
// "component/name", or just "name" when the component is empty.
func (s AttributeSpec) Key() string {
	return AttributeKey(s.Component, s.Name)
}

// AttributeKey builds the registry key for a (component, name) pair.
func AttributeKey(component, name string) string {
	if component == "" {
		return name
	}
	return component + "/" + name
}

// String renders the attribute identity as a dotted path fragment, matching
// the wire format's general-section convention: "component.name" or "name".
func (s AttributeSpec) String() string {
	if s.Component == "" {
		return s.Name
	}
	return s.Component + "." + s.Name
}

// Validate checks the spec for completeness.
func (s AttributeSpec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("attribute name must not be empty")
	}
	if strings.ContainsAny(s.Name, "./") || strings.ContainsAny(s.Component, "./") {
		return fmt.Errorf("attribute %q: name and component must not contain '.' or '/'", s.Key())
	}
	if err := s.DataType().Validate(); err != nil {
		return fmt.Errorf("attribute %q: %w", s.Key(), err)
	}
	return nil
}

// EntityGroupSpec declares a named entity group and the attributes it holds.
// All attributes of a group share one id space.
type EntityGroupSpec struct {
	Name       string          `yaml:"name" json:"name"`
	Attributes []AttributeSpec `yaml:"attributes" json:"attributes"`
}

// Validate checks the group and every attribute it declares. Duplicate
// attribute identities within one group are a fatal configuration error.
func (g EntityGroupSpec) Validate() error {
	if g.Name == "" {
		return fmt.Errorf("entity group name must not be empty")
	}
	seen := make(map[string]bool, len(g.Attributes))
	for i, attr := range g.Attributes {
		prefix := fmt.Sprintf("entity group %q: attribute[%d]", g.Name, i)
		if err := attr.Validate(); err != nil {
			return fmt.Errorf("%s: %w", prefix, err)
		}
		if seen[attr.Key()] {
			return fmt.Errorf("%s: duplicate attribute %q", prefix, attr.Key())
		}
		seen[attr.Key()] = true
	}
	return nil
}

// GeneralSpec carries the cross-cutting scenario metadata of one dataset:
// per-attribute special values keyed by dotted path
// ("<entity>.<component>.<attr>" or "<entity>.<attr>") and enum label lists.
type GeneralSpec struct {
	Special map[string]any      `yaml:"special,omitempty" json:"special,omitempty"`
	Enum    map[string][]string `yaml:"enum,omitempty" json:"enum,omitempty"`
}

// DatasetSchema is the schema of one dataset: its entity groups plus the
// scenario general section.
type DatasetSchema struct {
	Name         string            `yaml:"name" json:"name"`
	General      GeneralSpec       `yaml:"general,omitempty" json:"general,omitempty"`
	EntityGroups []EntityGroupSpec `yaml:"entity_groups" json:"entity_groups"`
}

// Validate checks the dataset schema and everything beneath it.
func (d DatasetSchema) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("dataset name must not be empty")
	}
	seen := make(map[string]bool, len(d.EntityGroups))
	for _, g := range d.EntityGroups {
		if err := g.Validate(); err != nil {
			return fmt.Errorf("dataset %q: %w", d.Name, err)
		}
		if seen[g.Name] {
			return fmt.Errorf("dataset %q: duplicate entity group %q", d.Name, g.Name)
		}
		seen[g.Name] = true
	}
	for name, labels := range d.Enum() {
		if len(labels) == 0 {
			return fmt.Errorf("dataset %q: enum %q has no labels", d.Name, name)
		}
	}
	return nil
}

// Enum returns the dataset's enum declarations (never nil).
func (d DatasetSchema) Enum() map[string][]string {
	if d.General.Enum == nil {
		return map[string][]string{}
	}
	return d.General.Enum
}

// LoadDatasetSchema reads and parses a YAML dataset schema file. Parsing is
// strict: unrecognized keys (typos) are rejected.
func LoadDatasetSchema(path string) (*DatasetSchema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading dataset schema: %w", err)
	}
	return ParseDatasetSchema(data)
}

// ParseDatasetSchema parses a YAML dataset schema from a byte slice.
func ParseDatasetSchema(data []byte) (*DatasetSchema, error) {
	var ds DatasetSchema
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&ds); err != nil {
		return nil, fmt.Errorf("parsing dataset schema: %w", err)
	}
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return &ds, nil
}

// ParseDatasetSchemaJSON parses a JSON dataset schema, for callers that keep
// their scenario configuration in JSON rather than YAML.
func ParseDatasetSchemaJSON(data []byte) (*DatasetSchema, error) {
	var ds DatasetSchema
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&ds); err != nil {
		return nil, fmt.Errorf("parsing dataset schema: %w", err)
	}
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return &ds, nil
}

// SplitPath splits a general-section dotted path into its entity group,
// component, and attribute parts. Two-segment paths have an empty component;
// an empty middle segment ("group..attr") collapses the same way.
func SplitPath(path string) (entityGroup, component, name string, err error) {
	parts := strings.Split(path, ".")
	switch len(parts) {
	case 2:
		return parts[0], "", parts[1], nil
	case 3:
		return parts[0], parts[1], parts[2], nil
	default:
		return "", "", "", fmt.Errorf("path %q: want <entity>.<attr> or <entity>.<component>.<attr>", path)
	}
}
