package discharge

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"discharge_tester/internal/models"
)

// DefaultGraceSeconds is added to the maximum runtime to form the watchdog limit.
const DefaultGraceSeconds = 100.0

// Config holds the timing parameters of a run.
type Config struct {
	TickSeconds       float64 // fixed simulated time step
	MaxRuntimeSeconds float64
	GraceSeconds      float64 // watchdog fires once t > MaxRuntimeSeconds + GraceSeconds
}

func (c Config) validate() error {
	if c.TickSeconds <= 0 {
		return fmt.Errorf("tick must be > 0, got %.3f", c.TickSeconds)
	}
	if c.MaxRuntimeSeconds <= 0 {
		return fmt.Errorf("max runtime must be > 0, got %.3f", c.MaxRuntimeSeconds)
	}
	if c.GraceSeconds < 0 {
		return fmt.Errorf("grace must be >= 0, got %.3f", c.GraceSeconds)
	}
	return nil
}

// Snapshot is the sequencer view handed to the observer after every tick.
type Snapshot struct {
	State            State
	Tick             int
	TimeS            float64
	Safe             bool
	ExitConditionMet bool
	Sample           []float64
}

// Observer is called on the sequencer goroutine after every tick.
type Observer func(Snapshot)

// Pacer blocks between ticks. An error is treated as an abort request.
type Pacer interface {
	Wait(ctx context.Context) error
}

// Result summarises a finished run.
type Result struct {
	FinalState      State      `json:"final_state"`
	Ticks           int        `json:"ticks"`      // ticks processed
	EndTimeS        float64    `json:"end_time_s"` // time of the last processed tick
	ExitReached     bool       `json:"exit_reached"`
	ExitTimeS       float64    `json:"exit_time_s"`
	CutoffTriggered bool       `json:"cutoff_triggered"`
	Series          TimeSeries `json:"-"`
}

// Outcome maps the result to the persisted run outcome.
func (r Result) Outcome() models.RunOutcome {
	switch {
	case r.FinalState == StateEmergency:
		return models.OutcomeEmergency
	case r.CutoffTriggered:
		return models.OutcomeCutoff
	case r.FinalState == StateDone:
		return models.OutcomeCompleted
	default:
		return models.OutcomeRunning
	}
}

// Option configures a Sequencer.
type Option func(*Sequencer)

// WithEventSink sets the destination of run events.
func WithEventSink(sink EventSink) Option {
	return func(s *Sequencer) { s.sink = sink }
}

// WithExporter sets the exporter invoked by the finalize step.
func WithExporter(e Exporter) Option {
	return func(s *Sequencer) { s.exporter = e }
}

// WithObserver registers a per-tick observer.
func WithObserver(o Observer) Option {
	return func(s *Sequencer) { s.observer = o }
}

// WithPacer paces ticks against wall-clock time.
func WithPacer(p Pacer) Option {
	return func(s *Sequencer) { s.pacer = p }
}

// Sequencer is the discharge test state machine. A sequencer runs once and
// is owned by the goroutine calling Run; only Abort may be called from
// other goroutines.
type Sequencer struct {
	bench    Bench
	cells    []Cell
	cfg      Config
	recorder *Recorder
	exporter Exporter
	sink     EventSink
	observer Observer
	pacer    Pacer

	state      State
	tick       int
	now        float64
	sample     []float64
	relayOn    bool
	safeLogged bool
	started    bool
	result     Result

	aborted atomic.Bool
}

// NewSequencer builds a sequencer for the given bench. cells must be in the
// order of the bench's sample vector.
func NewSequencer(bench Bench, cells []Cell, cfg Config, opts ...Option) (*Sequencer, error) {
	if bench == nil {
		return nil, errors.New("sequencer needs a bench")
	}
	if len(cells) == 0 {
		return nil, errors.New("sequencer needs at least one cell")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	owned := make([]Cell, len(cells))
	copy(owned, cells)
	ids := make([]int, len(owned))
	for i, c := range owned {
		ids[i] = c.ID
	}

	s := &Sequencer{
		bench:    bench,
		cells:    owned,
		cfg:      cfg,
		recorder: NewRecorder(ids),
		sink:     nopSink{},
		state:    StateInit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Abort asks the run to stop. It is honoured at the start of the next tick.
func (s *Sequencer) Abort() { s.aborted.Store(true) }

// Series returns a snapshot of the recorded data.
func (s *Sequencer) Series() TimeSeries { return s.recorder.Export() }

// CutoffSeconds is the watchdog limit.
func (s *Sequencer) CutoffSeconds() float64 {
	return s.cfg.MaxRuntimeSeconds + s.cfg.GraceSeconds
}

// Run executes the test until Done or Emergency. A run that ends in
// Emergency returns a *FatalError; a watchdog cutoff is not an error.
func (s *Sequencer) Run(ctx context.Context) (Result, error) {
	if s.started {
		return s.result, errAlreadyRun
	}
	s.started = true

	s.emit(ctx, models.EventRunStarted, LevelInfo, "discharge run started", map[string]any{
		"cells":    len(s.cells),
		"tick_s":   s.cfg.TickSeconds,
		"cutoff_s": s.CutoffSeconds(),
	})
	defer s.release(ctx)

	if err := s.bench.Open(ctx); err != nil {
		return s.finish(ctx, s.fail(ctx, fmt.Errorf("open bench: %w", err)))
	}

	for {
		done, err := s.advance(ctx)
		if err != nil || done {
			return s.finish(ctx, err)
		}
		if s.pacer != nil {
			if err := s.pacer.Wait(ctx); err != nil {
				s.Abort()
			}
		}
	}
}

// advance processes one tick and reports whether the run is over.
func (s *Sequencer) advance(ctx context.Context) (bool, error) {
	t := float64(s.tick) * s.cfg.TickSeconds

	// The watchdog is checked before anything else, whatever the state.
	if t > s.CutoffSeconds() {
		s.cutoff(ctx, t)
		s.notify()
		return true, nil
	}

	s.now = t
	s.result.Ticks = s.tick + 1
	s.result.EndTimeS = t

	if s.aborted.Load() {
		return true, s.fail(ctx, ErrAborted)
	}
	if err := s.bench.Tick(ctx, t); err != nil {
		return true, s.fail(ctx, fmt.Errorf("tick bench: %w", err))
	}
	if err := s.step(ctx); err != nil {
		return true, err
	}

	s.notify()
	s.tick++
	return s.state.Terminal(), nil
}

// step runs state handlers until one yields the rest of the tick.
func (s *Sequencer) step(ctx context.Context) error {
	for !s.state.Terminal() {
		next, yield, err := s.handle(ctx)
		if err != nil {
			return s.fail(ctx, err)
		}
		s.state = next
		if yield {
			return nil
		}
	}
	return nil
}

func (s *Sequencer) handle(ctx context.Context) (next State, yield bool, err error) {
	switch s.state {
	case StateInit:
		return StateAwaitSafety, false, nil

	case StateAwaitSafety:
		if !s.bench.Safe() {
			return StateAwaitSafety, true, nil
		}
		if !s.safeLogged {
			s.safeLogged = true
			s.emit(ctx, models.EventSafetyAchieved, LevelInfo, "environment safe", nil)
		}
		return StateRelayActivate, false, nil

	case StateRelayActivate:
		if err := s.bench.ActivateRelay(ctx); err != nil {
			s.emit(ctx, models.EventRelayFailure, LevelError, "discharge relay failed to activate",
				map[string]any{"error": err.Error()})
			return s.state, false, err
		}
		s.relayOn = true
		return StateSample, false, nil

	case StateSample:
		sample, err := s.bench.Sample(ctx)
		if err != nil {
			return s.state, false, fmt.Errorf("sample: %w", err)
		}
		s.sample = sample
		return StateLogData, false, nil

	case StateLogData:
		if err := s.recorder.Record(s.now, s.sample); err != nil {
			return s.state, false, err
		}
		return StateCheckExit, false, nil

	case StateCheckExit:
		// Evaluated on the vector just logged, never on a fresh reading.
		if cell, ok := s.exitCell(s.sample); ok {
			s.result.ExitReached = true
			s.result.ExitTimeS = s.now
			s.emit(ctx, models.EventExitConditionMet, LevelInfo, "exit parameters met", map[string]any{
				"cell_id": s.cells[cell].ID,
				"voltage": s.sample[cell],
				"min_v":   s.cells[cell].MinVoltage,
			})
			return StateRelayDeactivate, true, nil
		}
		return StateSample, true, nil

	case StateRelayDeactivate:
		if err := s.bench.DeactivateRelay(ctx); err != nil {
			return s.state, false, fmt.Errorf("deactivate relay: %w", err)
		}
		s.relayOn = false
		return StateFinalize, true, nil

	case StateFinalize:
		if s.exporter != nil {
			if err := s.exporter.Export(ctx, s.recorder.Export()); err != nil {
				return s.state, false, fmt.Errorf("export: %w", err)
			}
		}
		return StateDone, true, nil
	}
	return s.state, false, fmt.Errorf("no handler for state %s", s.state)
}

// exitCell returns the index of the first cell at or below its minimum voltage.
func (s *Sequencer) exitCell(sample []float64) (int, bool) {
	for i, v := range sample {
		if i < len(s.cells) && v <= s.cells[i].MinVoltage {
			return i, true
		}
	}
	return 0, false
}

// fail moves the sequencer to Emergency and returns the fatal error.
func (s *Sequencer) fail(ctx context.Context, cause error) error {
	ferr := &FatalError{State: s.state, Cause: cause}
	fields := map[string]any{
		"state": s.state.String(),
		"error": cause.Error(),
	}
	if s.relayOn {
		if err := s.bench.DeactivateRelay(ctx); err != nil {
			fields["relay_off_error"] = err.Error()
		} else {
			s.relayOn = false
		}
	}
	s.state = StateEmergency
	s.emit(ctx, models.EventEmergency, LevelCritical, "emergency state entered", fields)
	s.notify()
	return ferr
}

func (s *Sequencer) cutoff(ctx context.Context, t float64) {
	s.now = t
	fields := map[string]any{
		"state":   s.state.String(),
		"time_s":  t,
		"limit_s": s.CutoffSeconds(),
	}
	if s.relayOn {
		if err := s.bench.DeactivateRelay(ctx); err != nil {
			fields["relay_off_error"] = err.Error()
		} else {
			s.relayOn = false
		}
	}
	s.state = StateDone
	s.result.CutoffTriggered = true
	s.emit(ctx, models.EventCutoff, LevelWarn, "emergency cutoff", fields)
}

func (s *Sequencer) finish(ctx context.Context, err error) (Result, error) {
	s.result.FinalState = s.state
	s.result.Series = s.recorder.Export()

	fields := map[string]any{
		"outcome": string(s.result.Outcome()),
		"ticks":   s.result.Ticks,
		"samples": s.recorder.Ticks(),
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	s.emit(ctx, models.EventRunFinished, LevelInfo, "discharge run finished", fields)
	return s.result, err
}

func (s *Sequencer) release(ctx context.Context) {
	if err := s.bench.Close(); err != nil {
		s.emit(ctx, models.EventBenchCloseFailed, LevelWarn, "bench close failed", map[string]any{"error": err.Error()})
	}
}

func (s *Sequencer) notify() {
	if s.observer == nil {
		return
	}
	snap := Snapshot{
		State: s.state,
		Tick:  s.tick,
		TimeS: s.now,
		Safe:  s.bench.Safe(),
	}
	if er, ok := s.bench.(exitReporter); ok {
		snap.ExitConditionMet = er.ExitConditionMet()
	}
	if s.sample != nil {
		snap.Sample = make([]float64, len(s.sample))
		copy(snap.Sample, s.sample)
	}
	s.observer(snap)
}

func (s *Sequencer) emit(ctx context.Context, typ string, level Level, msg string, fields map[string]any) {
	s.sink.Emit(ctx, Event{
		Type:       typ,
		Level:      level,
		Message:    msg,
		OccurredAt: time.Now().UTC(),
		Tick:       s.tick,
		TimeS:      s.now,
		Fields:     fields,
	})
}
