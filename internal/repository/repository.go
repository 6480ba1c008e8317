package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"discharge_tester/internal/discharge"
	"discharge_tester/internal/models"
)

var (
	// ErrNotFound is returned when a looked up row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a unique key is already taken.
	ErrDuplicate = errors.New("already exists")
)

// Authorization stores operator accounts.
type Authorization interface {
	Create(ctx context.Context, username, hash string) (int, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
}

// RunRepo stores one row per discharge run.
type RunRepo interface {
	Create(ctx context.Context, r models.Run) error
	Finish(ctx context.Context, r models.Run) error
	Get(ctx context.Context, id string) (models.Run, error)
	List(ctx context.Context, limit int) ([]models.Run, error)
	Latest(ctx context.Context) (models.Run, error)
}

// SampleRepo stores the recorded voltage series of a run.
type SampleRepo interface {
	SaveSeries(ctx context.Context, runID string, ts discharge.TimeSeries) error
	LoadSeries(ctx context.Context, runID string) (discharge.TimeSeries, error)
}

type EventRepo interface {
	Append(ctx context.Context, e models.RunEvent) error
	List(ctx context.Context, q EventQuery) ([]models.RunEvent, error)
}

// EventQuery filters the event log. Zero fields do not filter.
type EventQuery struct {
	RunID string
	From  time.Time // inclusive
	To    time.Time // inclusive
	Type  string
	Limit int
}

type Repository struct {
	RunRepo    RunRepo
	SampleRepo SampleRepo
	EventRepo  EventRepo
	Auth       Authorization
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{
		RunRepo:    NewRunSQLite(db),
		SampleRepo: NewSampleSQLite(db),
		EventRepo:  NewEventSQLite(db),
		Auth:       NewUserSQLite(db),
	}
}

func toUTC(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC()
}
