package service

import (
	"context"
	"errors"
	"fmt"
	"io"

	"discharge_tester/internal/discharge"
	"discharge_tester/internal/models"
	"discharge_tester/internal/repository"
)

// RunsService reads finished and running runs back from storage.
type RunsService struct {
	runs    repository.RunRepo
	samples repository.SampleRepo
}

func NewRunsService(runs repository.RunRepo, samples repository.SampleRepo) *RunsService {
	return &RunsService{runs: runs, samples: samples}
}

func (s *RunsService) List(ctx context.Context, limit int) ([]models.Run, error) {
	return s.runs.List(ctx, limit)
}

func (s *RunsService) Get(ctx context.Context, id string) (models.Run, error) {
	run, err := s.runs.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return models.Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, err
}

// Series returns the stored voltages of a run. A run that is still going has
// an empty series.
func (s *RunsService) Series(ctx context.Context, id string) (discharge.TimeSeries, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.samples.LoadSeries(ctx, id)
}

// WriteCSV writes the series of a run as CSV.
func (s *RunsService) WriteCSV(ctx context.Context, id string, w io.Writer) error {
	ts, err := s.Series(ctx, id)
	if err != nil {
		return err
	}
	return writeSeriesCSV(w, ts)
}
