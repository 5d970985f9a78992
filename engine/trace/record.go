// Package trace provides step-trace recording for model runners.
// This package has no dependencies on engine/ or state/ — it stores pure data types.
package trace

// Phase names what a runner did on a step.
type Phase string

const (
	// PhaseWaiting means required data had not arrived and no model code ran.
	PhaseWaiting Phase = "waiting"
	// PhaseInitialize means the model's one-time initialization ran.
	PhaseInitialize Phase = "initialize"
	// PhaseUpdate means the model's per-step update ran.
	PhaseUpdate Phase = "update"
)

// StepRecord captures the outcome of a single runner step.
type StepRecord struct {
	Moment         int64
	Model          string
	Phase          Phase
	UpdatesApplied int
	RowsPublished  int
	Emitted        bool
}

// CycleTrace collects step records while a runner executes.
type CycleTrace struct {
	Config TraceConfig
	Steps  []StepRecord
}

// NewCycleTrace creates a CycleTrace ready for recording.
func NewCycleTrace(config TraceConfig) *CycleTrace {
	return &CycleTrace{
		Config: config,
		Steps:  make([]StepRecord, 0),
	}
}

// RecordStep appends a step record.
func (ct *CycleTrace) RecordStep(record StepRecord) {
	ct.Steps = append(ct.Steps, record)
}
