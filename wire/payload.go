// Package wire defines the exchange format of the tracked entity-attribute
// store: partial, by-id update payloads plus the pub/sub filter descriptor
// used to negotiate data routing between models. Both ingestion and emission
// use the same shape. The package converts between this in-memory form and
// JSON or MessagePack; the store itself never touches files or sockets.
package wire

import (
	"errors"
	"fmt"

	"github.com/polysim/polysim/schema"
)

// ErrMalformedUpdate marks structurally invalid payloads: a group without an
// "id" key, CSR length mismatches, unknown keys inside a value block. Wrap
// checks go through errors.Is.
var ErrMalformedUpdate = errors.New("malformed update")

// ValueBlock holds one attribute's packed values for the entities named by
// the surrounding group block. Exactly one of the typed slices is non-nil.
// Bool data is int8-backed (0/1, undefined -128), matching column storage.
//
// RowPtr non-nil marks a ragged (CSR) block: row i spans units
// RowPtr[i]:RowPtr[i+1]. A nil RowPtr means one unit per entity. Unit is the
// number of elements per unit for multi-dimensional attributes (0 and 1 both
// mean scalar units).
type ValueBlock struct {
	Bools   []int8
	Ints    []int64
	Floats  []float64
	Strings []string
	RowPtr  []int
	Unit    int
}

// IsCSR reports whether the block uses the ragged layout.
func (b ValueBlock) IsCSR() bool {
	return b.RowPtr != nil
}

// UnitSize returns the elements per unit (at least 1).
func (b ValueBlock) UnitSize() int {
	if b.Unit <= 1 {
		return 1
	}
	return b.Unit
}

// Primitive returns the primitive of the populated slice.
func (b ValueBlock) Primitive() schema.Primitive {
	switch {
	case b.Bools != nil:
		return schema.Bool
	case b.Ints != nil:
		return schema.Int
	case b.Floats != nil:
		return schema.Float
	default:
		return schema.Str
	}
}

// Elements returns the total element count of the populated slice.
func (b ValueBlock) Elements() int {
	switch {
	case b.Bools != nil:
		return len(b.Bools)
	case b.Ints != nil:
		return len(b.Ints)
	case b.Floats != nil:
		return len(b.Floats)
	case b.Strings != nil:
		return len(b.Strings)
	}
	return 0
}

// Units returns the unit count (elements divided by unit size).
func (b ValueBlock) Units() int {
	return b.Elements() / b.UnitSize()
}

// Rows returns the entity row count the block addresses: RowPtr boundaries
// for CSR blocks, one unit per row otherwise.
func (b ValueBlock) Rows() int {
	if b.IsCSR() {
		return len(b.RowPtr) - 1
	}
	return b.Units()
}

// Validate checks the block's internal consistency: exactly one populated
// slice, whole units, and CSR boundaries that cover the data exactly.
func (b ValueBlock) Validate() error {
	populated := 0
	if b.Bools != nil {
		populated++
	}
	if b.Ints != nil {
		populated++
	}
	if b.Floats != nil {
		populated++
	}
	if b.Strings != nil {
		populated++
	}
	if populated != 1 {
		return fmt.Errorf("%w: value block must populate exactly one typed slice, got %d", ErrMalformedUpdate, populated)
	}
	if b.Elements()%b.UnitSize() != 0 {
		return fmt.Errorf("%w: %d elements do not divide into units of %d", ErrMalformedUpdate, b.Elements(), b.UnitSize())
	}
	if b.IsCSR() {
		if len(b.RowPtr) == 0 || b.RowPtr[0] != 0 {
			return fmt.Errorf("%w: row_ptr must start at 0", ErrMalformedUpdate)
		}
		for i := 1; i < len(b.RowPtr); i++ {
			if b.RowPtr[i] < b.RowPtr[i-1] {
				return fmt.Errorf("%w: row_ptr must be non-decreasing at index %d", ErrMalformedUpdate, i)
			}
		}
		if b.RowPtr[len(b.RowPtr)-1] != b.Units() {
			return fmt.Errorf("%w: row_ptr covers %d units, data has %d", ErrMalformedUpdate, b.RowPtr[len(b.RowPtr)-1], b.Units())
		}
	}
	return nil
}

// GroupBlock is one entity group's slice of an update: the entity ids it
// addresses plus the attribute blocks, with one optional level of component
// grouping.
type GroupBlock struct {
	IDs        []int64
	Attributes map[string]ValueBlock
	Components map[string]map[string]ValueBlock
}

// NewGroupBlock creates an empty group block for the given ids.
func NewGroupBlock(ids []int64) *GroupBlock {
	return &GroupBlock{
		IDs:        ids,
		Attributes: make(map[string]ValueBlock),
		Components: make(map[string]map[string]ValueBlock),
	}
}

// Set stores an attribute block under its (component, name) identity.
func (g *GroupBlock) Set(component, name string, block ValueBlock) {
	if component == "" {
		if g.Attributes == nil {
			g.Attributes = make(map[string]ValueBlock)
		}
		g.Attributes[name] = block
		return
	}
	if g.Components == nil {
		g.Components = make(map[string]map[string]ValueBlock)
	}
	if g.Components[component] == nil {
		g.Components[component] = make(map[string]ValueBlock)
	}
	g.Components[component][name] = block
}

// Get looks up an attribute block by (component, name).
func (g *GroupBlock) Get(component, name string) (ValueBlock, bool) {
	if component == "" {
		b, ok := g.Attributes[name]
		return b, ok
	}
	inner, ok := g.Components[component]
	if !ok {
		return ValueBlock{}, false
	}
	b, ok := inner[name]
	return b, ok
}

// Each calls fn for every attribute block in the group, component blocks
// included. Iteration order is unspecified.
func (g *GroupBlock) Each(fn func(component, name string, block ValueBlock) error) error {
	for name, block := range g.Attributes {
		if err := fn("", name, block); err != nil {
			return err
		}
	}
	for component, inner := range g.Components {
		for name, block := range inner {
			if err := fn(component, name, block); err != nil {
				return err
			}
		}
	}
	return nil
}

// Len returns the number of attribute blocks in the group.
func (g *GroupBlock) Len() int {
	n := len(g.Attributes)
	for _, inner := range g.Components {
		n += len(inner)
	}
	return n
}

// General carries the cross-cutting metadata section of one dataset payload:
// special-value declarations keyed by dotted attribute path, and enum label
// lists keyed by enum name.
type General struct {
	Special map[string]any
	Enums   map[string][]string
}

// DatasetBlock is one dataset's slice of an update: an optional general
// section plus the entity group blocks.
type DatasetBlock struct {
	General *General
	Groups  map[string]*GroupBlock
}

// Update is a complete wire payload: a partial, by-id description of the
// entities and attributes that changed, grouped by dataset.
type Update struct {
	Datasets map[string]*DatasetBlock
}

// NewUpdate creates an empty update payload.
func NewUpdate() *Update {
	return &Update{Datasets: make(map[string]*DatasetBlock)}
}

// Dataset returns the named dataset block, creating it if needed.
func (u *Update) Dataset(name string) *DatasetBlock {
	if u.Datasets == nil {
		u.Datasets = make(map[string]*DatasetBlock)
	}
	ds, ok := u.Datasets[name]
	if !ok {
		ds = &DatasetBlock{Groups: make(map[string]*GroupBlock)}
		u.Datasets[name] = ds
	}
	return ds
}

// Empty reports whether the update carries no entity data at all.
func (u *Update) Empty() bool {
	if u == nil {
		return true
	}
	for _, ds := range u.Datasets {
		if len(ds.Groups) > 0 {
			return false
		}
	}
	return true
}
