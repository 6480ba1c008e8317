package service

import (
	"context"
	"errors"
	"time"

	"discharge_tester/internal/models"
	"discharge_tester/internal/repository"
)

const stateIdle = "IDLE"

type MonitoringService struct {
	tracker *tracker
	runs    repository.RunRepo
}

func NewMonitoringService(tr *tracker, runs repository.RunRepo) *MonitoringService {
	return &MonitoringService{tracker: tr, runs: runs}
}

// GetStatus returns the live status of the current or last run of this
// process, then the last persisted run, then an idle baseline.
func (s *MonitoringService) GetStatus(ctx context.Context) (models.RunStatus, error) {
	if st, ok := s.tracker.current(); ok {
		return st, nil
	}

	run, err := s.runs.Latest(ctx)
	if errors.Is(err, repository.ErrNotFound) {
		return s.baselineStatus(), nil
	}
	if err != nil {
		return models.RunStatus{}, err
	}
	return statusFromRun(run), nil
}

// statusFromRun describes a run loaded from the database. A run still marked
// RUNNING belongs to a previous process and is not active here.
func statusFromRun(run models.Run) models.RunStatus {
	updated := run.FinishedAt
	if updated.IsZero() {
		updated = run.StartedAt
	}
	return models.RunStatus{
		RunID:     run.ID,
		Active:    false,
		State:     run.State,
		Outcome:   run.Outcome,
		Tick:      run.Ticks,
		TimeS:     run.EndTimeS,
		UpdatedAt: toUTC(updated),
	}
}

func (s *MonitoringService) baselineStatus() models.RunStatus {
	return models.RunStatus{
		State:     stateIdle,
		UpdatedAt: time.Now().UTC(),
	}
}

// toUTC normalizes non-zero time to UTC, preserving zero values.
func toUTC(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC()
}
