package models

import "time"

// RunOutcome is how a discharge run ended.
type RunOutcome string

const (
	OutcomeRunning   RunOutcome = "RUNNING"
	OutcomeCompleted RunOutcome = "COMPLETED"
	OutcomeCutoff    RunOutcome = "CUTOFF"
	OutcomeEmergency RunOutcome = "EMERGENCY"
)

// Run is a single discharge test, persisted once started.
type Run struct {
	ID         string     `json:"id"`
	State      string     `json:"state"`   // sequencer state at the last update
	Outcome    RunOutcome `json:"outcome"` // RUNNING | COMPLETED | CUTOFF | EMERGENCY
	Cells      int        `json:"cells"`
	LinkMode   string     `json:"link_mode"` // sim | serial
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
	Ticks      int        `json:"ticks"`
	EndTimeS   float64    `json:"end_time_s"` // simulated seconds at termination
	Error      string     `json:"error,omitempty"`
}

// Finished reports whether the run has reached a terminal outcome.
func (r Run) Finished() bool {
	return r.Outcome != "" && r.Outcome != OutcomeRunning
}

// RunStatus is the live view of the controller.
type RunStatus struct {
	RunID            string     `json:"run_id,omitempty"`
	Active           bool       `json:"active"`
	State            string     `json:"state"`
	Outcome          RunOutcome `json:"outcome,omitempty"`
	Tick             int        `json:"tick"`
	TimeS            float64    `json:"time_s"`
	Safe             bool       `json:"safe"`
	ExitConditionMet bool       `json:"exit_condition_met"`
	LastSample       []float64  `json:"last_sample,omitempty"` // volts, ordered by cell id
	UpdatedAt        time.Time  `json:"updated_at"`
}
