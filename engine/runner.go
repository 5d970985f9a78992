package engine

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/polysim/polysim/engine/trace"
	"github.com/polysim/polysim/state"
	"github.com/polysim/polysim/wire"
)

// RunnerConfig configures a model runner.
type RunnerConfig struct {
	// State tunes the tracked state handed to the model.
	State state.Config
	// Trace selects step tracing.
	Trace trace.TraceConfig
}

// Runner drives a single model against its own tracked state. Inbound
// updates queue up via Deliver and are applied at the start of the next
// step; outbound deltas are returned from Step.
//
// Each step walks one cycle: apply queued updates, gate on readiness,
// run the model, publish, then reset the published changes together with
// the consumed inbound ones. Until the model's initialization data is
// complete the runner only accumulates updates.
type Runner struct {
	model Model
	state *state.TrackedState
	inbox *UpdateQueue

	initialized bool

	Metrics *Metrics
	Trace   *trace.CycleTrace // nil if trace level is "none"
}

// NewRunner builds a runner around the model and runs its Setup phase
// against a fresh tracked state.
func NewRunner(model Model, config RunnerConfig) (*Runner, error) {
	if !trace.IsValidTraceLevel(string(config.Trace.Level)) {
		return nil, fmt.Errorf("invalid trace level %q", config.Trace.Level)
	}
	s := state.NewTrackedState(config.State)
	if err := model.Setup(s); err != nil {
		return nil, fmt.Errorf("setup of model %s: %w", model.Name(), err)
	}
	r := &Runner{
		model:   model,
		state:   s,
		inbox:   NewUpdateQueue(),
		Metrics: NewMetrics(),
	}
	if config.Trace.Level == trace.TraceLevelSteps {
		r.Trace = trace.NewCycleTrace(config.Trace)
	}
	return r, nil
}

// Deliver queues an inbound update. It is applied at the start of the
// next step, in delivery order.
func (r *Runner) Deliver(u *wire.Update) {
	r.inbox.Enqueue(u)
}

// State returns the tracked state the model operates on.
func (r *Runner) State() *state.TrackedState {
	return r.state
}

// Filter returns the routing descriptor derived from the model's setup.
func (r *Runner) Filter() wire.Filter {
	return r.state.PubSubFilter()
}

// Initialized reports whether the model's Initialize phase has completed.
func (r *Runner) Initialized() bool {
	return r.initialized
}

// Step advances the runner by one moment. Queued updates are applied
// first; then the model initializes (once, when its initialization data
// is complete) or updates (when its subscribed data is ready). The
// returned update carries the rows the model changed on published
// attributes, nil when no model code ran or nothing changed.
//
// A model returning ErrNotReady leaves the step's work pending; the
// runner retries on the next step with whatever has arrived since.
func (r *Runner) Step(moment Moment) (*wire.Update, error) {
	r.Metrics.Steps++
	applied, err := r.drainInbox()
	if err != nil {
		return nil, err
	}

	if !r.initialized {
		if !r.state.IsReadyFor(state.FlagInit) {
			return r.wait(moment, applied)
		}
		if err := r.model.Initialize(r.state); err != nil {
			if errors.Is(err, ErrNotReady) {
				return r.wait(moment, applied)
			}
			return nil, fmt.Errorf("initialize of model %s: %w", r.model.Name(), err)
		}
		r.initialized = true
		logrus.Infof("[tick %07d] Initialized model %s", moment, r.model.Name())
		return r.publish(moment, trace.PhaseInitialize, applied)
	}

	if !r.state.IsReadyFor(state.FlagSub) {
		return r.wait(moment, applied)
	}
	if err := r.model.Update(r.state, moment); err != nil {
		if errors.Is(err, ErrNotReady) {
			return r.wait(moment, applied)
		}
		return nil, fmt.Errorf("update of model %s at tick %d: %w", r.model.Name(), moment, err)
	}
	logrus.Debugf("[tick %07d] Updated model %s", moment, r.model.Name())
	return r.publish(moment, trace.PhaseUpdate, applied)
}

// Publish receives every non-empty delta a run emits.
type Publish func(moment Moment, delta *wire.Update) error

// Run steps the runner through [from, to] inclusive, handing each emitted
// delta to publish.
func (r *Runner) Run(from, to Moment, publish Publish) error {
	for moment := from; moment <= to; moment++ {
		delta, err := r.Step(moment)
		if err != nil {
			return err
		}
		if delta != nil && publish != nil {
			if err := publish(moment, delta); err != nil {
				return err
			}
		}
	}
	logrus.Infof("[tick %07d] Run complete", to)
	return nil
}

// drainInbox applies queued updates in delivery order. On failure the
// offending update is dropped and the rest stay queued; the tracked state
// never holds a partial apply.
func (r *Runner) drainInbox() (int, error) {
	applied := 0
	for r.inbox.Len() > 0 {
		if err := r.state.ReceiveUpdate(r.inbox.Dequeue()); err != nil {
			return applied, err
		}
		applied++
		r.Metrics.UpdatesReceived++
	}
	return applied, nil
}

func (r *Runner) wait(moment Moment, applied int) (*wire.Update, error) {
	r.Metrics.WaitingSteps++
	logrus.Debugf("[tick %07d] Model %s waiting for data", moment, r.model.Name())
	if r.Trace != nil {
		r.Trace.RecordStep(trace.StepRecord{
			Moment:         int64(moment),
			Model:          r.model.Name(),
			Phase:          trace.PhaseWaiting,
			UpdatesApplied: applied,
		})
	}
	return nil, nil
}

// publish generates the delta of published changes, then resets both the
// published side and the consumed subscription side. This is the single
// place the reset discipline lives.
func (r *Runner) publish(moment Moment, phase trace.Phase, applied int) (*wire.Update, error) {
	delta, err := r.state.GenerateUpdate(state.FlagPub)
	if err != nil {
		return nil, err
	}
	r.state.ResetChanges(state.FlagPub)
	r.state.ResetChanges(state.FlagSub)

	rows := countRows(delta)
	emitted := !delta.Empty()
	if r.Trace != nil {
		r.Trace.RecordStep(trace.StepRecord{
			Moment:         int64(moment),
			Model:          r.model.Name(),
			Phase:          phase,
			UpdatesApplied: applied,
			RowsPublished:  rows,
			Emitted:        emitted,
		})
	}
	if !emitted {
		return nil, nil
	}
	r.Metrics.DeltasEmitted++
	r.Metrics.RowsPublished += int64(rows)
	logrus.Infof("[tick %07d] Model %s published %d rows", moment, r.model.Name(), rows)
	return delta, nil
}

func countRows(u *wire.Update) int {
	rows := 0
	for _, dataset := range u.Datasets {
		for _, group := range dataset.Groups {
			rows += len(group.IDs)
		}
	}
	return rows
}
