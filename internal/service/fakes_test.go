package service

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"discharge_tester/internal/discharge"
	"discharge_tester/internal/models"
	"discharge_tester/internal/repository"
)

// memStore is an in-memory stand-in for the SQLite repositories. The run
// goroutine writes to it, so every method locks.
type memStore struct {
	mu      sync.Mutex
	runs    map[string]models.Run
	order   []string
	series  map[string]discharge.TimeSeries
	events  []models.RunEvent
	failers struct {
		create, finish, save error
	}
}

func newMemStore() *memStore {
	return &memStore{runs: map[string]models.Run{}, series: map[string]discharge.TimeSeries{}}
}

func (m *memStore) repos() *repository.Repository {
	return &repository.Repository{
		RunRepo:    memRuns{m},
		SampleRepo: memSamples{m},
		EventRepo:  memEvents{m},
	}
}

type memRuns struct{ m *memStore }

func (r memRuns) Create(_ context.Context, run models.Run) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.failers.create != nil {
		return r.m.failers.create
	}
	r.m.runs[run.ID] = run
	r.m.order = append(r.m.order, run.ID)
	return nil
}

func (r memRuns) Finish(_ context.Context, run models.Run) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.failers.finish != nil {
		return r.m.failers.finish
	}
	if _, ok := r.m.runs[run.ID]; !ok {
		return repository.ErrNotFound
	}
	r.m.runs[run.ID] = run
	return nil
}

func (r memRuns) Get(_ context.Context, id string) (models.Run, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	run, ok := r.m.runs[id]
	if !ok {
		return models.Run{}, fmt.Errorf("run %s: %w", id, repository.ErrNotFound)
	}
	return run, nil
}

func (r memRuns) List(_ context.Context, limit int) ([]models.Run, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []models.Run
	for i := len(r.m.order) - 1; i >= 0; i-- {
		out = append(out, r.m.runs[r.m.order[i]])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r memRuns) Latest(ctx context.Context) (models.Run, error) {
	runs, _ := r.List(ctx, 1)
	if len(runs) == 0 {
		return models.Run{}, repository.ErrNotFound
	}
	return runs[0], nil
}

type memSamples struct{ m *memStore }

func (s memSamples) SaveSeries(_ context.Context, runID string, ts discharge.TimeSeries) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if s.m.failers.save != nil {
		return s.m.failers.save
	}
	s.m.series[runID] = ts
	return nil
}

func (s memSamples) LoadSeries(_ context.Context, runID string) (discharge.TimeSeries, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	ts, ok := s.m.series[runID]
	if !ok {
		return discharge.TimeSeries{}, nil
	}
	return ts, nil
}

type memEvents struct{ m *memStore }

func (e memEvents) Append(_ context.Context, ev models.RunEvent) error {
	e.m.mu.Lock()
	defer e.m.mu.Unlock()
	e.m.events = append(e.m.events, ev)
	return nil
}

func (e memEvents) List(_ context.Context, q repository.EventQuery) ([]models.RunEvent, error) {
	e.m.mu.Lock()
	defer e.m.mu.Unlock()
	var out []models.RunEvent
	for _, ev := range e.m.events {
		if q.RunID != "" && ev.RunID != q.RunID {
			continue
		}
		if q.Type != "" && ev.Type != q.Type {
			continue
		}
		out = append(out, ev)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	return out, nil
}

func (m *memStore) eventTypes(runID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, ev := range m.events {
		if ev.RunID == runID {
			out = append(out, ev.Type)
		}
	}
	return out
}

func (m *memStore) run(id string) models.Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs[id]
}
