package state

import (
	"fmt"
	"sort"

	"github.com/RoaringBitmap/roaring"
	"github.com/sirupsen/logrus"

	"github.com/polysim/polysim/schema"
	"github.com/polysim/polysim/wire"
)

// Field pairs an attribute spec with the role flags a model registers it
// under. Tolerance overrides the state-wide comparison bounds for this
// attribute when set.
type Field struct {
	Spec      schema.AttributeSpec
	Flags     Flags
	Tolerance *Tolerance
}

// EntityGroup is a named set of attributes sharing one id index. Groups
// are owned by a TrackedState and keyed by (dataset, name), so
// structurally identical registrations from different models resolve to
// the same storage. Every attribute column is sized to the index row
// count at all times.
type EntityGroup struct {
	dataset string
	name    string
	index   *Index
	attrs   map[string]Attribute
	tol     Tolerance
}

func newEntityGroup(dataset, name string, tol Tolerance) *EntityGroup {
	index := NewStrictIndex()
	index.dataset = dataset
	index.group = name
	return &EntityGroup{
		dataset: dataset,
		name:    name,
		index:   index,
		attrs:   make(map[string]Attribute),
		tol:     tol.orDefault(),
	}
}

// Dataset returns the owning dataset name.
func (g *EntityGroup) Dataset() string { return g.dataset }

// Name returns the entity group name.
func (g *EntityGroup) Name() string { return g.name }

// Index returns the group's id index.
func (g *EntityGroup) Index() *Index { return g.index }

// Len returns the current row count.
func (g *EntityGroup) Len() int { return g.index.Len() }

// Register adds an attribute under the given role flags. Registering an
// existing identity is an idempotent union: the flags are ORed together
// and the stored attribute returned, provided the declared data types
// agree. A conflicting data type is a configuration error.
func (g *EntityGroup) Register(spec schema.AttributeSpec, flags Flags) (Attribute, error) {
	return g.register(spec, flags, g.tol)
}

// RegisterFields bulk-registers a group schema, honoring per-field
// tolerance overrides.
func (g *EntityGroup) RegisterFields(fields ...Field) error {
	for _, f := range fields {
		tol := g.tol
		if f.Tolerance != nil {
			tol = f.Tolerance.orDefault()
		}
		if _, err := g.register(f.Spec, f.Flags, tol); err != nil {
			return err
		}
	}
	return nil
}

func (g *EntityGroup) register(spec schema.AttributeSpec, flags Flags, tol Tolerance) (Attribute, error) {
	if err := spec.Validate(); err != nil {
		return nil, &ConfigurationError{Dataset: g.dataset, Group: g.name, Attr: spec.Key(), Message: err.Error()}
	}
	key := spec.Key()
	if existing, ok := g.attrs[key]; ok {
		if have, want := existing.Spec().DataType(), spec.DataType(); have.String() != want.String() {
			return nil, &ConfigurationError{
				Dataset: g.dataset,
				Group:   g.name,
				Attr:    key,
				Message: fmt.Sprintf("registered as %s, requested as %s", have, want),
			}
		}
		existing.addFlags(flags)
		return existing, nil
	}
	attr := newAttribute(g.dataset, g.name, spec, flags, tol)
	if g.index.Len() > 0 {
		// Late registration against an already populated group: allocate
		// immediately so column length matches the index.
		attr.initialize(g.index.Len())
	}
	g.attrs[key] = attr
	logrus.Debugf("registered attribute %s as %s (%s)", attrPath(g.dataset, g.name, key), spec.DataType(), flags)
	return attr, nil
}

// Attribute returns the attribute registered under (component, name).
func (g *EntityGroup) Attribute(component, name string) (Attribute, bool) {
	attr, ok := g.attrs[schema.AttributeKey(component, name)]
	return attr, ok
}

// Keys returns the registered attribute keys, sorted.
func (g *EntityGroup) Keys() []string {
	keys := make([]string, 0, len(g.attrs))
	for key := range g.attrs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// AppendIDs appends newly created entities to the group: the index grows
// and every attribute column grows with it, new rows filled with the
// undefined sentinel. Change flags on existing rows survive.
func (g *EntityGroup) AppendIDs(ids []int64) error {
	if g.index.Len() == 0 {
		return g.adopt(ids)
	}
	if err := g.index.Add(ids); err != nil {
		return err
	}
	for _, key := range g.Keys() {
		if err := g.attrs[key].resize(g.index.Len()); err != nil {
			return err
		}
	}
	return nil
}

// adopt fixes the group's ids on first ingestion and allocates every
// registered attribute at the new row count.
func (g *EntityGroup) adopt(ids []int64) error {
	if err := g.index.SetIDs(ids); err != nil {
		return err
	}
	for _, attr := range g.attrs {
		attr.initialize(g.index.Len())
	}
	logrus.Infof("adopted %d entity ids for %s", len(ids), attrPath(g.dataset, g.name, ""))
	return nil
}

// receiveBlock merges one wire group block. The whole block is validated
// before anything mutates, so a malformed update never applies partially.
// Attributes the state never registered are skipped.
func (g *EntityGroup) receiveBlock(gb *wire.GroupBlock) error {
	fresh := g.index.Len() == 0

	var rows []int
	if fresh {
		if err := checkNewIDs(g.dataset, g.name, gb.IDs); err != nil {
			return err
		}
		rows = make([]int, len(gb.IDs))
		for i := range rows {
			rows[i] = i
		}
	} else {
		var err error
		rows, err = g.index.Lookup(gb.IDs)
		if err != nil {
			return err
		}
	}

	type pending struct {
		attr  Attribute
		block wire.ValueBlock
	}
	var apply []pending
	err := gb.Each(func(component, name string, block wire.ValueBlock) error {
		attr, ok := g.Attribute(component, name)
		if !ok {
			return nil
		}
		if err := attr.validateBlock(block, len(rows)); err != nil {
			return err
		}
		apply = append(apply, pending{attr: attr, block: block})
		return nil
	})
	if err != nil {
		return err
	}

	if fresh {
		if err := g.adopt(gb.IDs); err != nil {
			return err
		}
	}
	for _, p := range apply {
		if err := p.attr.applyBlock(p.block, rows); err != nil {
			return err
		}
	}
	return nil
}

// generateBlock collects this group's delta for the requested roles: the
// union of changed rows across matching attributes, with every matching
// attribute emitted against that union. Returns nil when nothing changed.
func (g *EntityGroup) generateBlock(flags Flags) (*wire.GroupBlock, error) {
	keys := g.Keys()
	masks := make([]*roaring.Bitmap, 0, len(keys))
	for _, key := range keys {
		attr := g.attrs[key]
		if !attr.Flags().Intersects(flags) {
			continue
		}
		changed, err := attr.Changed()
		if err != nil {
			if IsUninitializedAccess(err) {
				continue
			}
			return nil, err
		}
		masks = append(masks, changed)
	}
	if len(masks) == 0 {
		return nil, nil
	}
	union := roaring.FastOr(masks...)
	if union.IsEmpty() {
		return nil, nil
	}

	ids := make([]int64, 0, union.GetCardinality())
	it := union.Iterator()
	for it.HasNext() {
		ids = append(ids, g.index.ID(int(it.Next())))
	}
	out := wire.NewGroupBlock(ids)
	for _, key := range keys {
		attr := g.attrs[key]
		if !attr.Flags().Intersects(flags) {
			continue
		}
		block, err := attr.generateBlock(union)
		if err != nil {
			if IsUninitializedAccess(err) {
				continue
			}
			return nil, err
		}
		out.Set(attr.Spec().Component, attr.Spec().Name, block)
	}
	return out, nil
}

// resetChanges clears tracked changes on attributes matching the widened
// flags.
func (g *EntityGroup) resetChanges(flags Flags) {
	for _, attr := range g.attrs {
		if attr.Flags().Intersects(flags) {
			attr.Reset()
		}
	}
}

// readyFor reports whether every attribute whose role intersects the
// widened flags is initialized.
func (g *EntityGroup) readyFor(flags Flags) bool {
	for _, attr := range g.attrs {
		if attr.Flags().Intersects(flags) && !attr.IsInitialized() {
			return false
		}
	}
	return true
}

func checkNewIDs(dataset, group string, ids []int64) error {
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return &DuplicateIDError{Dataset: dataset, Group: group, ID: id}
		}
		seen[id] = true
	}
	return nil
}
