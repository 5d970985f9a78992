package state

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/polysim/polysim/schema"
	"github.com/polysim/polysim/wire"
)

// Config tunes a TrackedState. The zero value is usable: comparison falls
// back to DefaultTolerance.
type Config struct {
	Tolerance Tolerance
}

// TrackedState is the top-level registry: dataset name → entity group name
// → EntityGroup. It owns every id index and exposes registration, bulk
// update ingestion, delta generation, and readiness queries.
//
// The store is single threaded and synchronous. Exactly one driver is
// expected to walk it through the receive → ready check → mutate →
// generate → reset cycle per simulation step; no operation may interleave
// with another on the same state.
type TrackedState struct {
	tol      Tolerance
	datasets map[string]map[string]*EntityGroup
	enums    map[string]map[string][]string
}

// NewTrackedState returns an empty store.
func NewTrackedState(cfg Config) *TrackedState {
	return &TrackedState{
		tol:      cfg.Tolerance.orDefault(),
		datasets: make(map[string]map[string]*EntityGroup),
		enums:    make(map[string]map[string][]string),
	}
}

// RegisterEntityGroup returns the group registered under (dataset, name),
// creating it on first use. Repeated registrations resolve to the same
// group.
func (s *TrackedState) RegisterEntityGroup(dataset, name string) (*EntityGroup, error) {
	if dataset == "" || name == "" {
		return nil, &ConfigurationError{Dataset: dataset, Group: name, Message: "dataset and entity group names must be non-empty"}
	}
	groups, ok := s.datasets[dataset]
	if !ok {
		groups = make(map[string]*EntityGroup)
		s.datasets[dataset] = groups
	}
	group, ok := groups[name]
	if !ok {
		group = newEntityGroup(dataset, name, s.tol)
		groups[name] = group
	}
	return group, nil
}

// RegisterAttribute registers one attribute under (dataset, group) with
// the given role flags, creating the group as needed.
func (s *TrackedState) RegisterAttribute(dataset, group string, spec schema.AttributeSpec, flags Flags) (Attribute, error) {
	g, err := s.RegisterEntityGroup(dataset, group)
	if err != nil {
		return nil, err
	}
	return g.Register(spec, flags)
}

// RegisterGroupSpec registers every attribute of a schema entity group
// under one set of role flags.
func (s *TrackedState) RegisterGroupSpec(dataset string, spec schema.EntityGroupSpec, flags Flags) (*EntityGroup, error) {
	if err := spec.Validate(); err != nil {
		return nil, &ConfigurationError{Dataset: dataset, Group: spec.Name, Message: err.Error()}
	}
	g, err := s.RegisterEntityGroup(dataset, spec.Name)
	if err != nil {
		return nil, err
	}
	for _, attr := range spec.Attributes {
		if _, err := g.Register(attr, flags); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// EntityGroup returns the group registered under (dataset, name).
func (s *TrackedState) EntityGroup(dataset, name string) (*EntityGroup, bool) {
	group, ok := s.datasets[dataset][name]
	return group, ok
}

// Attribute returns the attribute registered under the full path.
func (s *TrackedState) Attribute(dataset, group, component, name string) (Attribute, bool) {
	g, ok := s.EntityGroup(dataset, group)
	if !ok {
		return nil, false
	}
	return g.Attribute(component, name)
}

// Datasets returns the registered dataset names, sorted.
func (s *TrackedState) Datasets() []string {
	names := make([]string, 0, len(s.datasets))
	for name := range s.datasets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Groups returns the entity group names registered under a dataset,
// sorted.
func (s *TrackedState) Groups(dataset string) []string {
	names := make([]string, 0, len(s.datasets[dataset]))
	for name := range s.datasets[dataset] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EnumLabels returns the ordered labels declared for an enum in a
// dataset's general section.
func (s *TrackedState) EnumLabels(dataset, enum string) ([]string, bool) {
	labels, ok := s.enums[dataset][enum]
	return labels, ok
}

// ReceiveUpdate merges an update into the store. General sections apply
// first (special values, enum declarations), then entity data per group:
// the first block a group ever sees fixes its ids and allocates every
// registered attribute, later blocks must address known ids only. Datasets,
// groups, and attributes the state never registered are skipped, so a
// model can consume a subset of a payload. A malformed block fails the
// call before anything in that group mutates.
func (s *TrackedState) ReceiveUpdate(u *wire.Update) error {
	if u == nil {
		return nil
	}
	for _, datasetName := range sortedKeys(u.Datasets) {
		ds := u.Datasets[datasetName]
		groups, known := s.datasets[datasetName]
		if !known {
			logrus.Debugf("skipping update for unregistered dataset %q", datasetName)
			continue
		}
		if ds.General != nil {
			s.applyGeneral(datasetName, ds.General)
		}
		for _, groupName := range sortedKeys(ds.Groups) {
			group, ok := groups[groupName]
			if !ok {
				logrus.Debugf("skipping update for unregistered entity group %q in dataset %q", groupName, datasetName)
				continue
			}
			if err := group.receiveBlock(ds.Groups[groupName]); err != nil {
				return err
			}
		}
	}
	return nil
}

// applyGeneral merges a dataset's general section: dotted-path special
// values onto registered attributes and enum label declarations. Both are
// set-once; conflicts are logged and the first assignment wins.
func (s *TrackedState) applyGeneral(dataset string, general *wire.General) {
	for _, path := range sortedKeys(general.Special) {
		groupName, component, name, err := schema.SplitPath(path)
		if err != nil {
			logrus.Warnf("ignoring special value with invalid path %q in dataset %q: %v", path, dataset, err)
			continue
		}
		attr, ok := s.Attribute(dataset, groupName, component, name)
		if !ok {
			continue
		}
		if err := attr.setSpecial(general.Special[path]); err != nil {
			logrus.Warnf("ignoring special value for %q in dataset %q: %v", path, dataset, err)
		}
	}
	for _, enum := range sortedKeys(general.Enums) {
		labels := general.Enums[enum]
		existing, ok := s.enums[dataset][enum]
		if ok {
			if !equalLabels(existing, labels) {
				logrus.Warnf("conflicting labels for enum %q in dataset %q: keeping first declaration", enum, dataset)
			}
			continue
		}
		if s.enums[dataset] == nil {
			s.enums[dataset] = make(map[string][]string)
		}
		s.enums[dataset][enum] = append([]string(nil), labels...)
	}
}

// GenerateUpdate collects the outbound delta for the requested roles,
// typically FlagPub. Groups without changes are omitted entirely; within
// an emitted group, unchanged rows of a matching attribute carry the
// undefined placeholder.
func (s *TrackedState) GenerateUpdate(flags Flags) (*wire.Update, error) {
	u := wire.NewUpdate()
	for _, datasetName := range s.Datasets() {
		for _, groupName := range s.Groups(datasetName) {
			group := s.datasets[datasetName][groupName]
			block, err := group.generateBlock(flags)
			if err != nil {
				return nil, err
			}
			if block == nil {
				continue
			}
			u.Dataset(datasetName).Groups[groupName] = block
		}
	}
	return u, nil
}

// ResetChanges clears tracked changes on every attribute matching the
// flags. Resetting the subscription side also clears the initialization
// and optional sides. Call once per role per cycle: after consuming
// subscribed changes, and after publishing produced ones.
func (s *TrackedState) ResetChanges(flags Flags) {
	widened := flags.forReset()
	for _, groups := range s.datasets {
		for _, group := range groups {
			group.resetChanges(widened)
		}
	}
}

// IsReadyFor reports whether every registered attribute whose role
// intersects the flags is initialized. Asking for the subscription side
// also requires the initialization side. The answer is recomputed on
// every call; new data can flip it.
func (s *TrackedState) IsReadyFor(flags Flags) bool {
	widened := flags.forReadiness()
	for _, groups := range s.datasets {
		for _, group := range groups {
			if !group.readyFor(widened) {
				return false
			}
		}
	}
	return true
}

// PubSubFilter derives the routing descriptor from registered roles:
// produced attributes under pub, consumed ones (subscribed, required for
// initialization, or optional) under sub, with the id wildcard on every
// subscribed group. The filter carries no data.
func (s *TrackedState) PubSubFilter() wire.Filter {
	f := wire.NewFilter()
	for _, datasetName := range s.Datasets() {
		for _, groupName := range s.Groups(datasetName) {
			group := s.datasets[datasetName][groupName]
			subscribed := false
			for _, key := range group.Keys() {
				attr := group.attrs[key]
				spec := attr.Spec()
				if attr.Flags().Intersects(FlagPub) {
					f.Pub.Mark(datasetName, groupName, spec.Component, spec.Name)
				}
				if attr.Flags().Intersects(FlagSub | FlagInit | FlagOpt) {
					f.Sub.Mark(datasetName, groupName, spec.Component, spec.Name)
					subscribed = true
				}
			}
			if subscribed {
				f.Sub.Mark(datasetName, groupName, "", "id")
			}
		}
	}
	return f
}

// Uniform resolves a dense attribute with its concrete element type, as
// registered: int8 for bool, int64 for int, float64 for float, string for
// str attributes.
func Uniform[T schema.Element](s *TrackedState, dataset, group, component, name string) (*UniformAttribute[T], error) {
	attr, ok := s.Attribute(dataset, group, component, name)
	if !ok {
		return nil, &ConfigurationError{Dataset: dataset, Group: group, Attr: schema.AttributeKey(component, name), Message: "attribute not registered"}
	}
	typed, ok := attr.(*UniformAttribute[T])
	if !ok {
		return nil, &ConfigurationError{
			Dataset: dataset,
			Group:   group,
			Attr:    schema.AttributeKey(component, name),
			Message: fmt.Sprintf("registered as %s, not as requested element type", attr.Spec().DataType()),
		}
	}
	return typed, nil
}

// Ragged resolves a CSR attribute with its concrete element type.
func Ragged[T schema.Element](s *TrackedState, dataset, group, component, name string) (*CSRAttribute[T], error) {
	attr, ok := s.Attribute(dataset, group, component, name)
	if !ok {
		return nil, &ConfigurationError{Dataset: dataset, Group: group, Attr: schema.AttributeKey(component, name), Message: "attribute not registered"}
	}
	typed, ok := attr.(*CSRAttribute[T])
	if !ok {
		return nil, &ConfigurationError{
			Dataset: dataset,
			Group:   group,
			Attr:    schema.AttributeKey(component, name),
			Message: fmt.Sprintf("registered as %s, not as requested element type", attr.Spec().DataType()),
		}
	}
	return typed, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func equalLabels(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
