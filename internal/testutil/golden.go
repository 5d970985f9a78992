// Package testutil provides shared test infrastructure for the polysim
// packages. It consolidates golden payload types and assertion helpers used
// across state/ and engine/ test packages.
package testutil

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"testing"

	"github.com/polysim/polysim/schema"
	"github.com/polysim/polysim/state"
	"github.com/polysim/polysim/wire"
)

// GoldenDataset represents the structure of testdata/goldenupdates.json.
type GoldenDataset struct {
	Scenarios []GoldenScenario `json:"scenarios"`
}

// GoldenScenario is one scripted exchange: payloads applied in order to a
// fresh tracked state, with the published delta expected after each.
type GoldenScenario struct {
	Name       string            `json:"name"`
	Dataset    string            `json:"dataset"`
	Group      string            `json:"group"`
	Attributes []GoldenAttribute `json:"attributes"`
	Steps      []GoldenStep      `json:"steps"`
}

// GoldenAttribute declares one attribute registration for a scenario.
type GoldenAttribute struct {
	Name      string   `json:"name"`
	Component string   `json:"component,omitempty"`
	Primitive string   `json:"primitive"`
	CSR       bool     `json:"csr,omitempty"`
	Flags     []string `json:"flags"`
}

// GoldenStep carries one inbound payload and the delta expected after it.
// A null expectation means the step must not produce a delta.
type GoldenStep struct {
	Update json.RawMessage `json:"update"`
	Expect json.RawMessage `json:"expect"`
}

// LoadGoldenDataset loads the golden dataset from the testdata directory.
// The path is resolved relative to this source file: internal/testutil/ →
// testdata/.
func LoadGoldenDataset(t *testing.T) *GoldenDataset {
	t.Helper()

	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("Failed to get current file path")
	}
	path := filepath.Join(filepath.Dir(thisFile), "..", "..", "testdata", "goldenupdates.json")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read golden dataset: %v", err)
	}

	var dataset GoldenDataset
	if err := json.Unmarshal(data, &dataset); err != nil {
		t.Fatalf("Failed to parse golden dataset: %v", err)
	}

	return &dataset
}

// flagNames maps golden flag strings to role flags.
var flagNames = map[string]state.Flags{
	"INIT": state.FlagInit,
	"SUB":  state.FlagSub,
	"OPT":  state.FlagOpt,
	"PUB":  state.FlagPub,
}

// ParseFlags folds golden flag names into a Flags value.
func ParseFlags(names []string) (state.Flags, error) {
	var flags state.Flags
	for _, name := range names {
		f, ok := flagNames[name]
		if !ok {
			return 0, fmt.Errorf("unknown role flag %q", name)
		}
		flags |= f
	}
	return flags, nil
}

// BuildState registers a scenario's attributes on a fresh tracked state and
// mirrors their specs into a registry for payload decoding.
func BuildState(t *testing.T, sc GoldenScenario) (*state.TrackedState, *schema.Registry) {
	t.Helper()

	s := state.NewTrackedState(state.Config{})
	reg := schema.NewRegistry()
	for _, attr := range sc.Attributes {
		if !schema.IsValidPrimitive(attr.Primitive) {
			t.Fatalf("Scenario %s: invalid primitive %q", sc.Name, attr.Primitive)
		}
		flags, err := ParseFlags(attr.Flags)
		if err != nil {
			t.Fatalf("Scenario %s: %v", sc.Name, err)
		}
		spec := schema.AttributeSpec{
			Name:      attr.Name,
			Component: attr.Component,
			Primitive: schema.Primitive(attr.Primitive),
			CSR:       attr.CSR,
		}
		if _, err := s.RegisterAttribute(sc.Dataset, sc.Group, spec, flags); err != nil {
			t.Fatalf("Scenario %s: register %s: %v", sc.Name, spec.Key(), err)
		}
		if err := reg.Add(spec); err != nil {
			t.Fatalf("Scenario %s: registry %s: %v", sc.Name, spec.Key(), err)
		}
	}
	return s, reg
}

// AssertUpdateJSON asserts that the update encodes to the expected JSON
// payload. Comparison is structural, so key order and whitespace do not
// matter.
func AssertUpdateJSON(t *testing.T, name string, want json.RawMessage, got *wire.Update) {
	t.Helper()

	gotJSON, err := wire.EncodeJSON(got)
	if err != nil {
		t.Fatalf("%s: encode: %v", name, err)
	}
	var wantAny, gotAny any
	if err := json.Unmarshal(want, &wantAny); err != nil {
		t.Fatalf("%s: expected payload is not valid JSON: %v", name, err)
	}
	if err := json.Unmarshal(gotJSON, &gotAny); err != nil {
		t.Fatalf("%s: encoded payload is not valid JSON: %v", name, err)
	}
	if !reflect.DeepEqual(wantAny, gotAny) {
		t.Errorf("%s: got %s, want %s", name, gotJSON, want)
	}
}
