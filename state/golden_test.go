package state_test

import (
	"fmt"
	"testing"

	"github.com/polysim/polysim/internal/testutil"
	"github.com/polysim/polysim/state"
	"github.com/polysim/polysim/wire"
)

// TestGoldenScenarios replays the scripted exchanges from
// testdata/goldenupdates.json: each step's payload is received into a fresh
// state and the published delta compared against the recorded expectation.
func TestGoldenScenarios(t *testing.T) {
	dataset := testutil.LoadGoldenDataset(t)

	if len(dataset.Scenarios) == 0 {
		t.Fatal("Golden dataset contains no scenarios")
	}

	for _, sc := range dataset.Scenarios {
		t.Run(sc.Name, func(t *testing.T) {
			s, reg := testutil.BuildState(t, sc)
			for i, step := range sc.Steps {
				u, err := wire.DecodeJSON(step.Update, reg)
				if err != nil {
					t.Fatalf("step %d: decode: %v", i, err)
				}
				if err := s.ReceiveUpdate(u); err != nil {
					t.Fatalf("step %d: receive: %v", i, err)
				}
				delta, err := s.GenerateUpdate(state.FlagPub)
				if err != nil {
					t.Fatalf("step %d: generate: %v", i, err)
				}
				s.ResetChanges(state.FlagPub)

				if len(step.Expect) == 0 || string(step.Expect) == "null" {
					if !delta.Empty() {
						got, _ := wire.EncodeJSON(delta)
						t.Fatalf("step %d: unexpected delta %s", i, got)
					}
					continue
				}
				testutil.AssertUpdateJSON(t, fmt.Sprintf("step %d", i), step.Expect, delta)
			}
		})
	}
}
