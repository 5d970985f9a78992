package trace

// TraceSummary aggregates statistics from a CycleTrace.
type TraceSummary struct {
	TotalSteps      int
	WaitingSteps    int
	InitializeSteps int
	UpdateSteps     int
	DeltasEmitted   int
	UpdatesApplied  int
	RowsPublished   int
	FirstMoment     int64
	LastMoment      int64
}

// Summarize computes aggregate statistics from a CycleTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(ct *CycleTrace) *TraceSummary {
	summary := &TraceSummary{}
	if ct == nil || len(ct.Steps) == 0 {
		return summary
	}

	summary.TotalSteps = len(ct.Steps)
	summary.FirstMoment = ct.Steps[0].Moment
	summary.LastMoment = ct.Steps[len(ct.Steps)-1].Moment
	for _, rec := range ct.Steps {
		switch rec.Phase {
		case PhaseWaiting:
			summary.WaitingSteps++
		case PhaseInitialize:
			summary.InitializeSteps++
		case PhaseUpdate:
			summary.UpdateSteps++
		}
		if rec.Emitted {
			summary.DeltasEmitted++
		}
		summary.UpdatesApplied += rec.UpdatesApplied
		summary.RowsPublished += rec.RowsPublished
	}

	return summary
}
