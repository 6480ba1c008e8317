package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"discharge_tester/internal/config"
	"discharge_tester/internal/discharge"
	"discharge_tester/internal/logger"
	"discharge_tester/internal/models"
	"discharge_tester/internal/repository"
	"discharge_tester/internal/telemetry"

	"github.com/google/uuid"
)

const finishWriteTimeout = 5 * time.Second

// DischargeService starts, aborts and supervises discharge runs. At most
// one run is active at a time.
type DischargeService struct {
	runs    repository.RunRepo
	samples repository.SampleRepo
	events  repository.EventRepo
	cfg     config.Config
	link    discharge.HardwareLink
	pub     telemetry.Publisher
	log     *logger.Logger
	tracker *tracker

	newID func() string
	now   func() time.Time

	mu     sync.Mutex
	active *activeRun
	wg     sync.WaitGroup
}

type activeRun struct {
	run    models.Run
	seq    *discharge.Sequencer
	export *runExporter
	cancel context.CancelFunc
	done   chan struct{}
}

func NewDischargeService(repos *repository.Repository, deps Deps, tr *tracker) *DischargeService {
	pub := deps.Publisher
	if pub == nil {
		pub = telemetry.Nop{}
	}
	log := deps.Log
	if log == nil {
		log = logger.Nop()
	}
	return &DischargeService{
		runs:    repos.RunRepo,
		samples: repos.SampleRepo,
		events:  repos.EventRepo,
		cfg:     deps.Config,
		link:    deps.Link,
		pub:     pub,
		log:     log,
		tracker: tr,
		newID:   uuid.NewString,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Start builds a run from config plus overrides, persists it and runs it in
// the background. The returned run is the freshly created row.
func (s *DischargeService) Start(ctx context.Context, p StartParams) (models.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		return models.Run{}, ErrRunInProgress
	}

	tc, err := applyParams(s.cfg.Test, p)
	if err != nil {
		return models.Run{}, err
	}

	cells, err := discharge.NewCells(discharge.CellSpec{
		Count:              tc.Cells,
		MaxVoltage:         tc.MaxVoltage,
		MinVoltage:         tc.MinVoltage,
		DurationMinSeconds: tc.DischargeMinS,
		DurationMaxSeconds: tc.DischargeMaxS,
	}, newRand(tc.Seed))
	if err != nil {
		return models.Run{}, fmt.Errorf("%w: %w", ErrInvalidParams, err)
	}

	bench, err := s.newBench(cells, tc)
	if err != nil {
		return models.Run{}, err
	}

	run := models.Run{
		ID:        s.newID(),
		State:     discharge.StateInit.String(),
		Outcome:   models.OutcomeRunning,
		Cells:     len(cells),
		LinkMode:  s.cfg.Link.Mode,
		StartedAt: s.now(),
	}

	exporter := &runExporter{runID: run.ID, samples: s.samples, dir: s.cfg.Export.Dir, log: s.log}
	opts := []discharge.Option{
		discharge.WithEventSink(newEventSink(run.ID, s.events, s.log, s.pub)),
		discharge.WithExporter(exporter),
		discharge.WithObserver(s.tracker.observe(run.ID)),
	}
	var pacer *tickerPacer
	if tc.TickInterval > 0 {
		pacer = newTickerPacer(tc.TickInterval)
		opts = append(opts, discharge.WithPacer(pacer))
	}

	seq, err := discharge.NewSequencer(bench, cells, discharge.Config{
		TickSeconds:       tc.TickS,
		MaxRuntimeSeconds: tc.MaxRuntimeS,
		GraceSeconds:      tc.GraceS,
	}, opts...)
	if err != nil {
		if pacer != nil {
			pacer.Stop()
		}
		return models.Run{}, fmt.Errorf("%w: %w", ErrInvalidParams, err)
	}

	if err := s.runs.Create(ctx, run); err != nil {
		if pacer != nil {
			pacer.Stop()
		}
		return models.Run{}, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a := &activeRun{run: run, seq: seq, export: exporter, cancel: cancel, done: make(chan struct{})}
	s.active = a
	s.tracker.begin(run)

	s.log.Infow("run_started", "run_id", run.ID, "cells", run.Cells, "link", run.LinkMode,
		"tick_s", tc.TickS, "max_runtime_s", tc.MaxRuntimeS, "relay_fail", tc.RelayFail)

	s.wg.Add(1)
	go s.execute(runCtx, a, pacer)
	return run, nil
}

func (s *DischargeService) execute(ctx context.Context, a *activeRun, pacer *tickerPacer) {
	defer s.wg.Done()
	defer close(a.done)
	defer a.cancel()
	if pacer != nil {
		defer pacer.Stop()
	}

	res, runErr := a.seq.Run(ctx)

	run := a.run
	run.State = res.FinalState.String()
	run.Outcome = res.Outcome()
	run.FinishedAt = s.now()
	run.Ticks = res.Ticks
	run.EndTimeS = res.EndTimeS
	if runErr != nil {
		run.Error = runErr.Error()
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishWriteTimeout)
	defer cancel()
	if err := s.runs.Finish(wctx, run); err != nil {
		s.log.Errorw("persist_run_failed", "run_id", run.ID, "err", err)
	}
	if !exportedByFinalize(res, runErr) && res.Series.Len() > 0 {
		if err := a.export.Export(wctx, res.Series); err != nil {
			s.log.Errorw("persist_series_failed", "run_id", run.ID, "outcome", run.Outcome, "err", err)
		}
	}

	s.tracker.end(run)

	s.mu.Lock()
	if s.active == a {
		s.active = nil
	}
	s.mu.Unlock()

	if runErr != nil {
		s.log.Errorw("run_failed", "run_id", run.ID, "outcome", run.Outcome, "end_time_s", run.EndTimeS, "err", runErr)
		return
	}
	s.log.Infow("run_finished", "run_id", run.ID, "outcome", run.Outcome,
		"end_time_s", run.EndTimeS, "exit_time_s", res.ExitTimeS, "cutoff", res.CutoffTriggered)
}

// exportedByFinalize reports whether the sequencer already handed the series
// to the exporter. Cut off and aborted runs skip Finalize.
func exportedByFinalize(res discharge.Result, runErr error) bool {
	if res.FinalState == discharge.StateDone && !res.CutoffTriggered {
		return true
	}
	var ferr *discharge.FatalError
	return errors.As(runErr, &ferr) && ferr.State == discharge.StateFinalize
}

// Abort requests the active run to stop at its next tick.
func (s *DischargeService) Abort(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return ErrNoActiveRun
	}
	s.active.seq.Abort()
	s.log.Warnw("run_abort_requested", "run_id", s.active.run.ID)
	return nil
}

// Wait blocks until the active run, if any, has finished.
func (s *DischargeService) Wait() {
	s.wg.Wait()
}

// Shutdown aborts the active run and waits for it to be persisted or for ctx to end.
func (s *DischargeService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	a := s.active
	s.mu.Unlock()
	if a == nil {
		return nil
	}
	a.seq.Abort()
	a.cancel()
	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for run %s: %w", a.run.ID, ctx.Err())
	}
}

func (s *DischargeService) newBench(cells []discharge.Cell, tc config.TestConfig) (discharge.Bench, error) {
	switch s.cfg.Link.Mode {
	case config.LinkSerial:
		if s.link == nil {
			return nil, errors.New("serial link mode without a hardware link")
		}
		return discharge.NewHardwareBench(s.link, discharge.HardwareBenchConfig{
			RelayPin:         s.cfg.Link.RelayPin,
			Timeout:          s.cfg.Link.Timeout,
			SafeAfterSeconds: tc.SafeAfterS,
		}), nil
	default:
		env, err := discharge.NewEnvironment(cells, discharge.EnvironmentConfig{
			SafeAfterSeconds:     tc.SafeAfterS,
			MaxRuntimeSeconds:    tc.MaxRuntimeS,
			RelayFailureInjected: tc.RelayFail,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidParams, err)
		}
		return discharge.NewSimBench(env), nil
	}
}

func applyParams(tc config.TestConfig, p StartParams) (config.TestConfig, error) {
	if p.RelayFail != nil {
		tc.RelayFail = *p.RelayFail
	}
	if p.Cells != nil {
		if *p.Cells < 1 {
			return tc, fmt.Errorf("%w: cells must be >= 1, got %d", ErrInvalidParams, *p.Cells)
		}
		tc.Cells = *p.Cells
	}
	if p.MaxRuntimeS != nil {
		if *p.MaxRuntimeS <= 0 {
			return tc, fmt.Errorf("%w: max_runtime_s must be > 0, got %.1f", ErrInvalidParams, *p.MaxRuntimeS)
		}
		tc.MaxRuntimeS = *p.MaxRuntimeS
	}
	return tc, nil
}

func newRand(seed int64) *rand.Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}
