package service

import (
	"sync"
	"time"

	"discharge_tester/internal/discharge"
	"discharge_tester/internal/models"
)

// tracker holds the live status of the current or last run. The sequencer
// goroutine writes it through observe; readers get copies.
type tracker struct {
	mu     sync.RWMutex
	status models.RunStatus
	set    bool
}

func newTracker() *tracker { return &tracker{} }

func (t *tracker) begin(run models.Run) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = models.RunStatus{
		RunID:     run.ID,
		Active:    true,
		State:     run.State,
		Outcome:   models.OutcomeRunning,
		UpdatedAt: run.StartedAt,
	}
	t.set = true
}

func (t *tracker) observe(runID string) discharge.Observer {
	return func(s discharge.Snapshot) {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.status.RunID != runID {
			return
		}
		t.status.State = s.State.String()
		t.status.Tick = s.Tick
		t.status.TimeS = s.TimeS
		t.status.Safe = s.Safe
		t.status.ExitConditionMet = s.ExitConditionMet
		if s.Sample != nil {
			t.status.LastSample = s.Sample
		}
		t.status.UpdatedAt = time.Now().UTC()
	}
}

func (t *tracker) end(run models.Run) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.RunID != run.ID {
		return
	}
	t.status.Active = false
	t.status.State = run.State
	t.status.Outcome = run.Outcome
	t.status.UpdatedAt = run.FinishedAt
}

func (t *tracker) current() (models.RunStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st := t.status
	if st.LastSample != nil {
		st.LastSample = append([]float64(nil), st.LastSample...)
	}
	return st, t.set
}
