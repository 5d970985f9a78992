package engine

import (
	"encoding/json"
	"fmt"
	"os"
)

// Metrics aggregates statistics about a run for final reporting.
type Metrics struct {
	Steps           int64 // Number of steps executed
	WaitingSteps    int64 // Steps on which no model code ran
	UpdatesReceived int64 // Inbound updates applied to the state
	DeltasEmitted   int64 // Non-empty outbound deltas
	RowsPublished   int64 // Sum of rows across emitted deltas
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

// Print displays aggregated metrics at the end of a run.
func (m *Metrics) Print(moment Moment) {
	fmt.Println("=== Runner Metrics ===")
	fmt.Printf("Final moment      : %d\n", moment)
	fmt.Printf("Steps executed    : %d\n", m.Steps)
	fmt.Printf("Steps waiting     : %d\n", m.WaitingSteps)
	fmt.Printf("Updates received  : %d\n", m.UpdatesReceived)
	fmt.Printf("Deltas emitted    : %d\n", m.DeltasEmitted)
	fmt.Printf("Rows published    : %d\n", m.RowsPublished)
	if m.DeltasEmitted > 0 {
		fmt.Printf("Avg rows per delta: %.2f\n", float64(m.RowsPublished)/float64(m.DeltasEmitted))
	}
}

// MetricsOutput is the JSON shape SaveResults writes.
type MetricsOutput struct {
	Model           string `json:"model"`
	FinalMoment     int64  `json:"final_moment"`
	Steps           int64  `json:"steps"`
	WaitingSteps    int64  `json:"waiting_steps"`
	UpdatesReceived int64  `json:"updates_received"`
	DeltasEmitted   int64  `json:"deltas_emitted"`
	RowsPublished   int64  `json:"rows_published"`
}

// SaveResults writes the metrics as indented JSON to the given path.
func (m *Metrics) SaveResults(model string, moment Moment, path string) error {
	out := MetricsOutput{
		Model:           model,
		FinalMoment:     int64(moment),
		Steps:           m.Steps,
		WaitingSteps:    m.WaitingSteps,
		UpdatesReceived: m.UpdatesReceived,
		DeltasEmitted:   m.DeltasEmitted,
		RowsPublished:   m.RowsPublished,
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
