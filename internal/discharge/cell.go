package discharge

import (
	"fmt"
	"math/rand"
)

// Cell is the linear discharge model of one battery cell.
type Cell struct {
	ID                       int     `json:"id"`
	MaxVoltage               float64 `json:"max_voltage"`
	MinVoltage               float64 `json:"min_voltage"`
	DischargeDurationSeconds float64 `json:"discharge_duration_s"`
}

// NewCell validates the parameters and returns the cell.
func NewCell(id int, maxVoltage, minVoltage, durationSeconds float64) (Cell, error) {
	if maxVoltage <= minVoltage {
		return Cell{}, fmt.Errorf("cell %d: max voltage %.3f must be above min voltage %.3f", id, maxVoltage, minVoltage)
	}
	if durationSeconds <= 0 {
		return Cell{}, fmt.Errorf("cell %d: discharge duration must be > 0, got %.3f", id, durationSeconds)
	}
	return Cell{
		ID:                       id,
		MaxVoltage:               maxVoltage,
		MinVoltage:               minVoltage,
		DischargeDurationSeconds: durationSeconds,
	}, nil
}

// Gradient is the voltage change per second (negative).
func (c Cell) Gradient() float64 {
	return (c.MinVoltage - c.MaxVoltage) / c.DischargeDurationSeconds
}

// VoltageAt returns MaxVoltage + Gradient*t. It is evaluated on the elapsed
// fraction of the discharge duration so that VoltageAt(duration) equals
// MinVoltage exactly. Values below MinVoltage are returned as is.
func (c Cell) VoltageAt(t float64) float64 {
	return c.MaxVoltage + (c.MinVoltage-c.MaxVoltage)*(t/c.DischargeDurationSeconds)
}

// CellSpec describes a bank of identical cells whose discharge duration is
// drawn uniformly from [DurationMinSeconds, DurationMaxSeconds].
type CellSpec struct {
	Count              int
	MaxVoltage         float64
	MinVoltage         float64
	DurationMinSeconds float64
	DurationMaxSeconds float64
}

// NewCells builds Count cells with ids 0..Count-1. rng may be nil when the
// duration bounds are equal.
func NewCells(spec CellSpec, rng *rand.Rand) ([]Cell, error) {
	if spec.Count < 1 {
		return nil, fmt.Errorf("cell count must be >= 1, got %d", spec.Count)
	}
	if spec.DurationMaxSeconds < spec.DurationMinSeconds {
		return nil, fmt.Errorf("discharge duration bounds inverted: min %.1f > max %.1f",
			spec.DurationMinSeconds, spec.DurationMaxSeconds)
	}
	spread := spec.DurationMaxSeconds - spec.DurationMinSeconds
	if spread > 0 && rng == nil {
		return nil, fmt.Errorf("random source required for duration spread %.1f", spread)
	}

	cells := make([]Cell, 0, spec.Count)
	for i := 0; i < spec.Count; i++ {
		duration := spec.DurationMinSeconds
		if spread > 0 {
			duration += rng.Float64() * spread
		}
		c, err := NewCell(i, spec.MaxVoltage, spec.MinVoltage, duration)
		if err != nil {
			return nil, err
		}
		cells = append(cells, c)
	}
	return cells, nil
}
