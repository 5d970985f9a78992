package engine

import (
	"errors"

	"github.com/polysim/polysim/state"
)

// Moment is one simulation timestep, in ticks.
type Moment int64

// ErrNotReady signals that a model cannot act yet because data it depends on
// has not arrived. It is control flow, not a failure: the runner leaves the
// step's work pending and retries on the next step.
var ErrNotReady = errors.New("model not ready")

// Model is a computation unit driven by a Runner. The runner owns the
// tracked state and walks the model through three phases:
//
//   - Setup registers every entity group and attribute the model touches,
//     with role flags declaring how each is used. No data exists yet.
//   - Initialize runs once, after all data required for initialization has
//     arrived. The model reads its starting world here and may write its
//     first results.
//   - Update runs every step once the subscribed data is ready. The model
//     reads tracked changes, computes, and writes published attributes.
//
// Initialize and Update may return ErrNotReady to defer to a later step.
type Model interface {
	Name() string
	Setup(s *state.TrackedState) error
	Initialize(s *state.TrackedState) error
	Update(s *state.TrackedState, moment Moment) error
}
