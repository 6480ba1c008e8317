package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"discharge_tester/internal/models"
)

type RunSQLite struct {
	db *sql.DB
}

func NewRunSQLite(db *sql.DB) *RunSQLite { return &RunSQLite{db: db} }

var _ RunRepo = (*RunSQLite)(nil)

const defaultRunListLimit = 50

const (
	insertRunSQL = `
		INSERT INTO discharge_runs (id, state, outcome, cells, link_mode, started_at, ticks, end_time_s, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	finishRunSQL = `
		UPDATE discharge_runs
		SET state=?, outcome=?, finished_at=?, ticks=?, end_time_s=?, error=?
		WHERE id=?
	`

	runColumns = `id, state, outcome, cells, link_mode, started_at, finished_at, ticks, end_time_s, error`

	selectRunSQL       = `SELECT ` + runColumns + ` FROM discharge_runs WHERE id=?`
	selectRunsSQL      = `SELECT ` + runColumns + ` FROM discharge_runs ORDER BY started_at DESC LIMIT ?`
	selectLatestRunSQL = `SELECT ` + runColumns + ` FROM discharge_runs ORDER BY started_at DESC LIMIT 1`
)

// Create inserts a new run row.
func (r *RunSQLite) Create(ctx context.Context, run models.Run) error {
	_, err := r.db.ExecContext(ctx, insertRunSQL,
		run.ID,
		run.State,
		string(run.Outcome),
		run.Cells,
		run.LinkMode,
		toUTC(run.StartedAt),
		run.Ticks,
		run.EndTimeS,
		nullString(run.Error),
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}
	return nil
}

// Finish stores the terminal fields of a run.
func (r *RunSQLite) Finish(ctx context.Context, run models.Run) error {
	res, err := r.db.ExecContext(ctx, finishRunSQL,
		run.State,
		string(run.Outcome),
		toUTC(run.FinishedAt),
		run.Ticks,
		run.EndTimeS,
		nullString(run.Error),
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("update run %s: %w", run.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for run %s: %w", run.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("run %s: %w", run.ID, ErrNotFound)
	}
	return nil
}

func (r *RunSQLite) Get(ctx context.Context, id string) (models.Run, error) {
	run, err := scanRun(r.db.QueryRowContext(ctx, selectRunSQL, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Run{}, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return run, err
}

// List returns the most recent runs first.
func (r *RunSQLite) List(ctx context.Context, limit int) ([]models.Run, error) {
	if limit <= 0 {
		limit = defaultRunListLimit
	}
	rows, err := r.db.QueryContext(ctx, selectRunsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("select runs: %w", err)
	}
	defer rows.Close()

	out := make([]models.Run, 0, limit)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *RunSQLite) Latest(ctx context.Context) (models.Run, error) {
	run, err := scanRun(r.db.QueryRowContext(ctx, selectLatestRunSQL))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Run{}, ErrNotFound
	}
	return run, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (models.Run, error) {
	var (
		run      models.Run
		outcome  string
		finished sql.NullTime
		errText  sql.NullString
	)
	if err := row.Scan(
		&run.ID,
		&run.State,
		&outcome,
		&run.Cells,
		&run.LinkMode,
		&run.StartedAt,
		&finished,
		&run.Ticks,
		&run.EndTimeS,
		&errText,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Run{}, err
		}
		return models.Run{}, fmt.Errorf("scan run: %w", err)
	}
	run.Outcome = models.RunOutcome(outcome)
	run.StartedAt = run.StartedAt.UTC()
	if finished.Valid {
		run.FinishedAt = finished.Time.UTC()
	}
	run.Error = errText.String
	return run, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
