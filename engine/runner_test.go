package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polysim/polysim/engine/trace"
	"github.com/polysim/polysim/schema"
	"github.com/polysim/polysim/state"
	"github.com/polysim/polysim/wire"
)

// doublerModel subscribes to segment lengths and publishes speeds twice as
// large. The hooks steer failure scenarios.
type doublerModel struct {
	setupErr      error
	updateErr     error
	notReadyInits int // Initialize returns ErrNotReady this many times

	initCalls   int
	updateCalls int
}

func (m *doublerModel) Name() string { return "speed_doubler" }

func (m *doublerModel) Setup(s *state.TrackedState) error {
	if m.setupErr != nil {
		return m.setupErr
	}
	length := schema.AttributeSpec{Name: "length", Primitive: schema.Float}
	if _, err := s.RegisterAttribute("road_network", "segments", length, state.FlagInit|state.FlagSub); err != nil {
		return err
	}
	speed := schema.AttributeSpec{Name: "speed", Primitive: schema.Float}
	_, err := s.RegisterAttribute("road_network", "segments", speed, state.FlagPub)
	return err
}

func (m *doublerModel) Initialize(s *state.TrackedState) error {
	m.initCalls++
	if m.initCalls <= m.notReadyInits {
		return ErrNotReady
	}
	return m.compute(s)
}

func (m *doublerModel) Update(s *state.TrackedState, moment Moment) error {
	m.updateCalls++
	if m.updateErr != nil {
		return m.updateErr
	}
	return m.compute(s)
}

func (m *doublerModel) compute(s *state.TrackedState) error {
	length, err := state.Uniform[float64](s, "road_network", "segments", "", "length")
	if err != nil {
		return err
	}
	speed, err := state.Uniform[float64](s, "road_network", "segments", "", "speed")
	if err != nil {
		return err
	}
	for row, v := range length.Column().Values() {
		if schema.IsUndefined(v) {
			continue
		}
		if err := speed.Column().SetValue(row, 0, 2*v); err != nil {
			return err
		}
	}
	return nil
}

func lengthUpdate(ids []int64, lengths []float64) *wire.Update {
	gb := wire.NewGroupBlock(ids)
	gb.Set("", "length", wire.ValueBlock{Floats: lengths})
	u := wire.NewUpdate()
	u.Dataset("road_network").Groups["segments"] = gb
	return u
}

func TestNewRunner_RunsSetupAndDerivesFilter(t *testing.T) {
	m := &doublerModel{}

	r, err := NewRunner(m, RunnerConfig{})
	require.NoError(t, err)

	f := r.Filter()
	assert.True(t, f.Pub.Contains("road_network", "segments", "speed"))
	assert.True(t, f.Sub.Contains("road_network", "segments", "length"))
	assert.False(t, f.Sub.Contains("road_network", "segments", "speed"))
	assert.False(t, r.Initialized())
	assert.Nil(t, r.Trace, "tracing is off unless asked for")
}

func TestNewRunner_InvalidTraceLevel(t *testing.T) {
	m := &doublerModel{}

	_, err := NewRunner(m, RunnerConfig{Trace: trace.TraceConfig{Level: "verbose"}})
	require.Error(t, err)
	assert.ErrorContains(t, err, "verbose")
}

func TestNewRunner_SetupFailure(t *testing.T) {
	m := &doublerModel{setupErr: errors.New("bad registration")}

	_, err := NewRunner(m, RunnerConfig{})
	require.Error(t, err)
	assert.ErrorContains(t, err, "speed_doubler")
	assert.ErrorContains(t, err, "bad registration")
}

func TestRunner_Step_WaitsForInitializationData(t *testing.T) {
	m := &doublerModel{}
	r, err := NewRunner(m, RunnerConfig{Trace: trace.TraceConfig{Level: trace.TraceLevelSteps}})
	require.NoError(t, err)

	delta, err := r.Step(0)
	require.NoError(t, err)
	assert.Nil(t, delta)
	assert.Zero(t, m.initCalls, "model must not run before its data is complete")
	assert.False(t, r.Initialized())

	require.Len(t, r.Trace.Steps, 1)
	assert.Equal(t, trace.PhaseWaiting, r.Trace.Steps[0].Phase)
	assert.Equal(t, int64(1), r.Metrics.WaitingSteps)
}

func TestRunner_Step_InitializesOnceAndPublishes(t *testing.T) {
	m := &doublerModel{}
	r, err := NewRunner(m, RunnerConfig{})
	require.NoError(t, err)
	r.Deliver(lengthUpdate([]int64{1, 2}, []float64{10, 20}))

	delta, err := r.Step(1)
	require.NoError(t, err)
	require.NotNil(t, delta)
	assert.True(t, r.Initialized())
	assert.Equal(t, 1, m.initCalls)
	assert.Zero(t, m.updateCalls)

	gb := delta.Datasets["road_network"].Groups["segments"]
	require.NotNil(t, gb)
	assert.Equal(t, []int64{1, 2}, gb.IDs)
	block, ok := gb.Get("", "speed")
	require.True(t, ok)
	assert.Equal(t, []float64{20, 40}, block.Floats)
	_, ok = gb.Get("", "length")
	assert.False(t, ok, "subscribed data must not be republished")
}

func TestRunner_Step_InitializeNotReady_RetriesNextStep(t *testing.T) {
	m := &doublerModel{notReadyInits: 1}
	r, err := NewRunner(m, RunnerConfig{})
	require.NoError(t, err)
	r.Deliver(lengthUpdate([]int64{1}, []float64{5}))

	delta, err := r.Step(0)
	require.NoError(t, err)
	assert.Nil(t, delta)
	assert.False(t, r.Initialized())
	assert.Equal(t, 1, m.initCalls)

	delta, err = r.Step(1)
	require.NoError(t, err)
	require.NotNil(t, delta)
	assert.True(t, r.Initialized())
	assert.Equal(t, 2, m.initCalls)
}

func TestRunner_Step_PublishesOnlyChangedRows(t *testing.T) {
	m := &doublerModel{}
	r, err := NewRunner(m, RunnerConfig{})
	require.NoError(t, err)
	r.Deliver(lengthUpdate([]int64{1, 2, 3}, []float64{10, 20, 30}))
	_, err = r.Step(0)
	require.NoError(t, err)

	// one segment's length changes
	r.Deliver(lengthUpdate([]int64{2}, []float64{25}))
	delta, err := r.Step(1)
	require.NoError(t, err)
	require.NotNil(t, delta)
	assert.Equal(t, 1, m.updateCalls)

	gb := delta.Datasets["road_network"].Groups["segments"]
	require.NotNil(t, gb)
	assert.Equal(t, []int64{2}, gb.IDs)
	block, ok := gb.Get("", "speed")
	require.True(t, ok)
	assert.Equal(t, []float64{50}, block.Floats)

	// nothing new arrived: the model recomputes the same speeds, no delta
	delta, err = r.Step(2)
	require.NoError(t, err)
	assert.Nil(t, delta)
	assert.Equal(t, 2, m.updateCalls)
}

func TestRunner_Step_ModelErrorPropagates(t *testing.T) {
	m := &doublerModel{}
	r, err := NewRunner(m, RunnerConfig{})
	require.NoError(t, err)
	r.Deliver(lengthUpdate([]int64{1}, []float64{5}))
	_, err = r.Step(0)
	require.NoError(t, err)

	m.updateErr = errors.New("boom")
	_, err = r.Step(1)
	require.Error(t, err)
	assert.ErrorContains(t, err, "speed_doubler")
	assert.ErrorContains(t, err, "boom")
}

func TestRunner_Step_MalformedUpdateFailsAndIsDropped(t *testing.T) {
	m := &doublerModel{}
	r, err := NewRunner(m, RunnerConfig{})
	require.NoError(t, err)

	bad := wire.NewUpdate()
	gb := wire.NewGroupBlock([]int64{1, 2})
	gb.Set("", "length", wire.ValueBlock{Floats: []float64{1, 2, 3}})
	bad.Dataset("road_network").Groups["segments"] = gb
	r.Deliver(bad)

	_, err = r.Step(0)
	require.Error(t, err)
	assert.True(t, state.IsMalformedUpdate(err))
	assert.Zero(t, m.initCalls)

	// the bad update is dropped, good data still flows
	r.Deliver(lengthUpdate([]int64{1, 2}, []float64{3, 4}))
	delta, err := r.Step(1)
	require.NoError(t, err)
	require.NotNil(t, delta)
	assert.True(t, r.Initialized())
}

func TestRunner_Run_CollectsDeltasAndTraces(t *testing.T) {
	m := &doublerModel{}
	r, err := NewRunner(m, RunnerConfig{Trace: trace.TraceConfig{Level: trace.TraceLevelSteps}})
	require.NoError(t, err)
	r.Deliver(lengthUpdate([]int64{1, 2}, []float64{10, 20}))

	var emitted []Moment
	err = r.Run(0, 3, func(moment Moment, delta *wire.Update) error {
		emitted = append(emitted, moment)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []Moment{0}, emitted, "only initialization produced new rows")

	summary := trace.Summarize(r.Trace)
	assert.Equal(t, 4, summary.TotalSteps)
	assert.Equal(t, 1, summary.InitializeSteps)
	assert.Equal(t, 3, summary.UpdateSteps)
	assert.Zero(t, summary.WaitingSteps)
	assert.Equal(t, 1, summary.DeltasEmitted)
	assert.Equal(t, 2, summary.RowsPublished)
	assert.Equal(t, int64(0), summary.FirstMoment)
	assert.Equal(t, int64(3), summary.LastMoment)

	assert.Equal(t, int64(4), r.Metrics.Steps)
	assert.Equal(t, int64(1), r.Metrics.UpdatesReceived)
	assert.Equal(t, int64(1), r.Metrics.DeltasEmitted)
	assert.Equal(t, int64(2), r.Metrics.RowsPublished)
}

func TestRunner_Run_PublishCallbackErrorStopsRun(t *testing.T) {
	m := &doublerModel{}
	r, err := NewRunner(m, RunnerConfig{})
	require.NoError(t, err)
	r.Deliver(lengthUpdate([]int64{1}, []float64{5}))

	wantErr := errors.New("broker down")
	err = r.Run(0, 5, func(moment Moment, delta *wire.Update) error {
		return wantErr
	})
	require.ErrorIs(t, err, wantErr)
	assert.Equal(t, int64(1), r.Metrics.Steps)
}
