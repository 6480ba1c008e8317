package service

import (
	"errors"
	"time"
)

// Errors returned by the run services.
var (
	ErrRunInProgress = errors.New("a discharge run is already in progress")
	ErrNoActiveRun   = errors.New("no discharge run in progress")
	ErrRunNotFound   = errors.New("run not found")
	ErrInvalidParams = errors.New("invalid run parameters")
)

// StartParams overrides configured run settings. Nil fields keep the config value.
type StartParams struct {
	RelayFail   *bool    `json:"relay_fail,omitempty"`
	Cells       *int     `json:"cells,omitempty"`
	MaxRuntimeS *float64 `json:"max_runtime_s,omitempty"`
}

// LogFilter supports history filtering by run, time range and type.
type LogFilter struct {
	RunID string
	From  time.Time // inclusive; zero means no lower bound
	To    time.Time // inclusive; zero means no upper bound
	Type  string    // "", "RUN_STARTED", "EMERGENCY", ...
	Limit int
}
