package service

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"discharge_tester/internal/discharge"
	"discharge_tester/internal/logger"
	"discharge_tester/internal/repository"
)

// runExporter stores the finished series of one run.
type runExporter struct {
	runID   string
	samples repository.SampleRepo
	dir     string // CSV directory; empty skips the file
	log     *logger.Logger
}

func (e *runExporter) Export(ctx context.Context, ts discharge.TimeSeries) error {
	if err := e.samples.SaveSeries(ctx, e.runID, ts); err != nil {
		return err
	}
	if e.dir == "" {
		return nil
	}
	path, err := writeSeriesFile(e.dir, e.runID, ts)
	if err != nil {
		return err
	}
	e.log.Infow("series_exported", "run_id", e.runID, "path", path, "cells", len(ts), "samples", ts.Len())
	return nil
}

func writeSeriesFile(dir, runID string, ts discharge.TimeSeries) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	path := filepath.Join(dir, runID+".csv")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}
	if err := writeSeriesCSV(f, ts); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", path, err)
	}
	return path, nil
}

// writeSeriesCSV writes one row per tick: time_s followed by one voltage
// column per cell in ascending id order. All cells share the same ticks.
func writeSeriesCSV(out io.Writer, ts discharge.TimeSeries) error {
	w := csv.NewWriter(out)

	ids := ts.CellIDs()
	header := make([]string, 0, len(ids)+1)
	header = append(header, "time_s")
	for _, id := range ids {
		header = append(header, "cell_"+strconv.Itoa(id))
	}
	if err := w.Write(header); err != nil {
		return err
	}

	rows := 0
	if len(ids) > 0 {
		rows = len(ts[ids[0]])
	}
	for i := 0; i < rows; i++ {
		row := make([]string, 0, len(ids)+1)
		row = append(row, fmtFloat(ts[ids[0]][i].T))
		for _, id := range ids {
			pts := ts[id]
			if i >= len(pts) {
				row = append(row, "")
				continue
			}
			row = append(row, fmtFloat(pts[i].V))
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}

func fmtFloat(x float64) string {
	return strconv.FormatFloat(x, 'f', -1, 64)
}
