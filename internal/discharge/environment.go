package discharge

import (
	"errors"
	"fmt"
)

// EnvironmentConfig holds the simulated bench parameters.
type EnvironmentConfig struct {
	SafeAfterSeconds     float64 // bench becomes safe at t >= SafeAfterSeconds
	MaxRuntimeSeconds    float64 // exit condition latches at t > MaxRuntimeSeconds
	RelayFailureInjected bool    // ActivateRelay always fails when set
}

// Environment simulates the physical test bench: a set of cells, a safety
// latch, the discharge relay and the message the board would send per tick.
// It is mutated only by Tick and is not safe for concurrent use.
type Environment struct {
	cells []Cell
	cfg   EnvironmentConfig

	isSafe           bool
	exitConditionMet bool
	lastSample       []float64
	relayOn          bool
}

// NewEnvironment returns an environment owning a copy of cells.
func NewEnvironment(cells []Cell, cfg EnvironmentConfig) (*Environment, error) {
	if len(cells) == 0 {
		return nil, errors.New("environment needs at least one cell")
	}
	if cfg.SafeAfterSeconds < 0 {
		return nil, fmt.Errorf("safe delay must be >= 0, got %.1f", cfg.SafeAfterSeconds)
	}
	owned := make([]Cell, len(cells))
	copy(owned, cells)
	return &Environment{cells: owned, cfg: cfg}, nil
}

// Tick advances the simulation to time t: safety check, voltage sampling,
// message production and exit-condition check, in that order.
func (e *Environment) Tick(t float64) {
	e.checkSafe(t)
	voltages := e.senseVoltages(t)
	e.sendMessage(voltages)
	e.updateExitCondition(t)
}

func (e *Environment) checkSafe(t float64) {
	if t >= e.cfg.SafeAfterSeconds {
		e.isSafe = true
	}
}

func (e *Environment) senseVoltages(t float64) []float64 {
	out := make([]float64, len(e.cells))
	for i, c := range e.cells {
		out[i] = c.VoltageAt(t)
	}
	return out
}

func (e *Environment) sendMessage(voltages []float64) {
	e.lastSample = voltages
}

func (e *Environment) updateExitCondition(t float64) {
	if t > e.cfg.MaxRuntimeSeconds {
		e.exitConditionMet = true
	}
}

// ActivateRelay switches the simulated discharge relay on.
func (e *Environment) ActivateRelay() error {
	if e.cfg.RelayFailureInjected {
		return fmt.Errorf("%w: discharge relay did not respond", ErrRelayFailure)
	}
	e.relayOn = true
	return nil
}

// DeactivateRelay switches the simulated discharge relay off.
func (e *Environment) DeactivateRelay() {
	e.relayOn = false
}

// CurrentMessage returns a copy of the last sampled voltage vector. ok is
// false before the first tick.
func (e *Environment) CurrentMessage() (sample []float64, ok bool) {
	if e.lastSample == nil {
		return nil, false
	}
	out := make([]float64, len(e.lastSample))
	copy(out, e.lastSample)
	return out, true
}

// Safe reports whether the bench has been made safe. Never reverts.
func (e *Environment) Safe() bool { return e.isSafe }

// ExitConditionMet reports whether the runtime bound has passed. Never reverts.
func (e *Environment) ExitConditionMet() bool { return e.exitConditionMet }

// RelayOn reports the simulated relay position.
func (e *Environment) RelayOn() bool { return e.relayOn }

// Cells returns a copy of the simulated cells.
func (e *Environment) Cells() []Cell {
	out := make([]Cell, len(e.cells))
	copy(out, e.cells)
	return out
}
