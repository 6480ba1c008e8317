package discharge

import (
	"context"
	"fmt"
	"sort"
)

// Point is one voltage reading at a tick time.
type Point struct {
	T float64 `json:"t"` // seconds since run start
	V float64 `json:"v"` // volts
}

// TimeSeries maps a cell id to its readings ordered by time.
type TimeSeries map[int][]Point

// CellIDs returns the cell ids in ascending order.
func (ts TimeSeries) CellIDs() []int {
	ids := make([]int, 0, len(ts))
	for id := range ts {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Len is the number of readings per cell.
func (ts TimeSeries) Len() int {
	for _, pts := range ts {
		return len(pts)
	}
	return 0
}

// Exporter receives the finished time series.
type Exporter interface {
	Export(ctx context.Context, ts TimeSeries) error
}

// ExporterFunc adapts a function to Exporter.
type ExporterFunc func(ctx context.Context, ts TimeSeries) error

func (f ExporterFunc) Export(ctx context.Context, ts TimeSeries) error { return f(ctx, ts) }

// Recorder accumulates per-cell voltage series. Sample position i belongs to
// the i-th configured cell id; this is fixed when the recorder is built.
type Recorder struct {
	cellIDs []int
	series  TimeSeries
	lastT   float64
	ticks   int
}

// NewRecorder returns a recorder for the given cell ids, in sample order.
func NewRecorder(cellIDs []int) *Recorder {
	ids := make([]int, len(cellIDs))
	copy(ids, cellIDs)
	series := make(TimeSeries, len(ids))
	for _, id := range ids {
		series[id] = nil
	}
	return &Recorder{cellIDs: ids, series: series}
}

// Record appends one reading per cell. A sample whose length differs from
// the cell count, or a tick time that does not increase, is rejected with
// ErrMalformedSample and nothing is appended.
func (r *Recorder) Record(t float64, sample []float64) error {
	if len(sample) != len(r.cellIDs) {
		return fmt.Errorf("%w: got %d values for %d cells at t=%.3f",
			ErrMalformedSample, len(sample), len(r.cellIDs), t)
	}
	if r.ticks > 0 && t <= r.lastT {
		return fmt.Errorf("%w: tick time %.3f does not follow %.3f", ErrMalformedSample, t, r.lastT)
	}
	for i, id := range r.cellIDs {
		r.series[id] = append(r.series[id], Point{T: t, V: sample[i]})
	}
	r.lastT = t
	r.ticks++
	return nil
}

// Ticks is the number of samples recorded.
func (r *Recorder) Ticks() int { return r.ticks }

// Export returns a deep copy of the series.
func (r *Recorder) Export() TimeSeries {
	out := make(TimeSeries, len(r.series))
	for id, pts := range r.series {
		cp := make([]Point, len(pts))
		copy(cp, pts)
		out[id] = cp
	}
	return out
}
