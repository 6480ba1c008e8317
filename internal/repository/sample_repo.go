package repository

import (
	"context"
	"database/sql"
	"fmt"

	"discharge_tester/internal/discharge"
)

type SampleSQLite struct {
	db *sql.DB
}

func NewSampleSQLite(db *sql.DB) *SampleSQLite { return &SampleSQLite{db: db} }

var _ SampleRepo = (*SampleSQLite)(nil)

const (
	insertSampleSQL = `INSERT INTO discharge_samples (run_id, cell_id, tick_s, voltage) VALUES (?, ?, ?, ?)`

	selectSamplesSQL = `
		SELECT cell_id, tick_s, voltage FROM discharge_samples
		WHERE run_id=? ORDER BY cell_id ASC, tick_s ASC
	`
)

// SaveSeries writes the whole series in one transaction.
func (r *SampleSQLite) SaveSeries(ctx context.Context, runID string, ts discharge.TimeSeries) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin samples tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, insertSampleSQL)
	if err != nil {
		return fmt.Errorf("prepare sample insert: %w", err)
	}
	defer stmt.Close()

	for _, id := range ts.CellIDs() {
		for _, p := range ts[id] {
			if _, err = stmt.ExecContext(ctx, runID, id, p.T, p.V); err != nil {
				return fmt.Errorf("insert sample run=%s cell=%d t=%.3f: %w", runID, id, p.T, err)
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit samples: %w", err)
	}
	return nil
}

// LoadSeries returns an empty series for a run with no samples.
func (r *SampleSQLite) LoadSeries(ctx context.Context, runID string) (discharge.TimeSeries, error) {
	rows, err := r.db.QueryContext(ctx, selectSamplesSQL, runID)
	if err != nil {
		return nil, fmt.Errorf("select samples for %s: %w", runID, err)
	}
	defer rows.Close()

	ts := discharge.TimeSeries{}
	for rows.Next() {
		var (
			id int
			p  discharge.Point
		)
		if err := rows.Scan(&id, &p.T, &p.V); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		ts[id] = append(ts[id], p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ts, nil
}
