package discharge

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Bench is the transport the sequencer drives: either the simulated
// environment or a hardware link. All methods are called from the
// sequencer's goroutine only.
type Bench interface {
	// Open acquires the bench. Close is called on every exit path after Open.
	Open(ctx context.Context) error
	// Tick advances the bench to time t before the state machine runs.
	Tick(ctx context.Context, t float64) error
	Safe() bool
	ActivateRelay(ctx context.Context) error
	DeactivateRelay(ctx context.Context) error
	// Sample returns the voltage vector of the current tick.
	Sample(ctx context.Context) ([]float64, error)
	Close() error
}

// exitReporter is implemented by benches that track a runtime exit condition.
type exitReporter interface {
	ExitConditionMet() bool
}

// HardwareLink opens a connection to the physical test board.
type HardwareLink interface {
	Open(ctx context.Context) (Conn, error)
}

// Conn is an open hardware connection. Errors should wrap ErrConnection,
// ErrActivation or ErrRead.
type Conn interface {
	ActivatePin(ctx context.Context, pin int) error
	DeactivatePin(ctx context.Context, pin int) error
	ReadSamples(ctx context.Context) ([]float64, error)
	Close() error
}

// SimBench drives an Environment.
type SimBench struct {
	env *Environment
}

// NewSimBench wraps env as a Bench.
func NewSimBench(env *Environment) *SimBench {
	return &SimBench{env: env}
}

func (b *SimBench) Open(context.Context) error { return nil }

func (b *SimBench) Tick(_ context.Context, t float64) error {
	b.env.Tick(t)
	return nil
}

func (b *SimBench) Safe() bool { return b.env.Safe() }

func (b *SimBench) ActivateRelay(context.Context) error { return b.env.ActivateRelay() }

func (b *SimBench) DeactivateRelay(context.Context) error {
	b.env.DeactivateRelay()
	return nil
}

func (b *SimBench) Sample(context.Context) ([]float64, error) {
	sample, ok := b.env.CurrentMessage()
	if !ok {
		return nil, ErrNoMessage
	}
	return sample, nil
}

func (b *SimBench) ExitConditionMet() bool { return b.env.ExitConditionMet() }

func (b *SimBench) Close() error { return nil }

// HardwareBenchConfig configures a HardwareBench.
type HardwareBenchConfig struct {
	RelayPin         int
	Timeout          time.Duration // bound on every link call
	SafeAfterSeconds float64
}

const defaultLinkTimeout = 2 * time.Second

// HardwareBench drives a HardwareLink. The connection is opened by Open and
// released by Close.
type HardwareBench struct {
	link HardwareLink
	cfg  HardwareBenchConfig

	conn Conn
	safe bool
}

// NewHardwareBench returns a bench for link. A zero timeout uses 2s.
func NewHardwareBench(link HardwareLink, cfg HardwareBenchConfig) *HardwareBench {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultLinkTimeout
	}
	return &HardwareBench{link: link, cfg: cfg}
}

func (b *HardwareBench) Open(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	conn, err := b.link.Open(ctx)
	if err != nil {
		return classify(ErrConnection, "open link", err)
	}
	b.conn = conn
	return nil
}

// Tick latches safety once the link is open and the safe delay has passed.
func (b *HardwareBench) Tick(_ context.Context, t float64) error {
	if err := b.requireConn(); err != nil {
		return err
	}
	if t >= b.cfg.SafeAfterSeconds {
		b.safe = true
	}
	return nil
}

func (b *HardwareBench) Safe() bool { return b.safe }

func (b *HardwareBench) ActivateRelay(ctx context.Context) error {
	if err := b.requireConn(); err != nil {
		return fmt.Errorf("%w: %w", ErrRelayFailure, err)
	}
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	if err := b.conn.ActivatePin(ctx, b.cfg.RelayPin); err != nil {
		return fmt.Errorf("%w: %w", ErrRelayFailure, classify(ErrActivation, "activate relay", err))
	}
	return nil
}

func (b *HardwareBench) DeactivateRelay(ctx context.Context) error {
	if b.conn == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	if err := b.conn.DeactivatePin(ctx, b.cfg.RelayPin); err != nil {
		return classify(ErrActivation, "deactivate relay", err)
	}
	return nil
}

func (b *HardwareBench) Sample(ctx context.Context) ([]float64, error) {
	if err := b.requireConn(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	sample, err := b.conn.ReadSamples(ctx)
	if err != nil {
		return nil, classify(ErrRead, "read samples", err)
	}
	return sample, nil
}

// Close releases the connection. Safe to call more than once.
func (b *HardwareBench) Close() error {
	if b.conn == nil {
		return nil
	}
	err := b.conn.Close()
	b.conn = nil
	if err != nil {
		return classify(ErrConnection, "close link", err)
	}
	return nil
}

func (b *HardwareBench) requireConn() error {
	if b.conn == nil {
		return fmt.Errorf("%w: link not open", ErrConnection)
	}
	return nil
}

// classify wraps err with class unless it already carries it.
func classify(class error, op string, err error) error {
	if errors.Is(err, class) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", class, op, err)
}
