package models

import "time"

// Event types written to the run log.
const (
	EventRunStarted       = "RUN_STARTED"
	EventSafetyAchieved   = "SAFETY_ACHIEVED"
	EventRelayFailure     = "RELAY_FAILURE"
	EventExitConditionMet = "EXIT_CONDITION_MET"
	EventEmergency        = "EMERGENCY"
	EventCutoff           = "CUTOFF"
	EventRunFinished      = "RUN_FINISHED"
	EventBenchCloseFailed = "BENCH_CLOSE_FAILED"
)

// RunEvent is a single log entry of a run.
type RunEvent struct {
	EventID     string    `json:"event_id"`
	RunID       string    `json:"run_id"`
	OccurredAt  time.Time `json:"occurred_at"`
	Type        string    `json:"type"`  // RUN_STARTED | SAFETY_ACHIEVED | ... | RUN_FINISHED
	Level       string    `json:"level"` // info | warn | error | critical
	Description string    `json:"description"`
	Metadata    any       `json:"metadata,omitempty"`
}
