package discharge

import (
	"context"
	"errors"
	"testing"
	"time"

	"discharge_tester/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLink hands out a scripted connection and counts lifecycle calls.
type fakeLink struct {
	openErr error
	conn    *fakeConn
	opens   int
}

func (l *fakeLink) Open(ctx context.Context) (Conn, error) {
	l.opens++
	if _, ok := ctx.Deadline(); !ok {
		return nil, errors.New("open called without deadline")
	}
	if l.openErr != nil {
		return nil, l.openErr
	}
	return l.conn, nil
}

type fakeConn struct {
	activateErr error
	readErr     error
	samples     [][]float64 // returned in order, last one repeats
	reads       int

	activated   []int
	deactivated []int
	closes      int
}

func (c *fakeConn) ActivatePin(_ context.Context, pin int) error {
	if c.activateErr != nil {
		return c.activateErr
	}
	c.activated = append(c.activated, pin)
	return nil
}

func (c *fakeConn) DeactivatePin(_ context.Context, pin int) error {
	c.deactivated = append(c.deactivated, pin)
	return nil
}

func (c *fakeConn) ReadSamples(ctx context.Context) ([]float64, error) {
	if _, ok := ctx.Deadline(); !ok {
		return nil, errors.New("read called without deadline")
	}
	if c.readErr != nil {
		return nil, c.readErr
	}
	i := c.reads
	if i >= len(c.samples) {
		i = len(c.samples) - 1
	}
	c.reads++
	return c.samples[i], nil
}

func (c *fakeConn) Close() error {
	c.closes++
	return nil
}

func newHardwareSequencer(t *testing.T, link *fakeLink, cells []Cell, sink EventSink) *Sequencer {
	t.Helper()
	bench := NewHardwareBench(link, HardwareBenchConfig{RelayPin: 17, Timeout: time.Second})
	seq, err := NewSequencer(bench, cells, Config{TickSeconds: 1, MaxRuntimeSeconds: 60, GraceSeconds: 10},
		WithEventSink(sink))
	require.NoError(t, err)
	return seq
}

func TestHardwareBench_CompletesRunAndReleasesLink(t *testing.T) {
	conn := &fakeConn{samples: [][]float64{{3.3, 3.2}, {2.8, 2.9}, {1.6, 1.4}}}
	link := &fakeLink{conn: conn}
	seq := newHardwareSequencer(t, link, uniformCells(2, 3.3, 1.5, 10), &recordingSink{})

	res, err := seq.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateDone, res.FinalState)
	assert.Equal(t, 2.0, res.ExitTimeS)
	assert.Equal(t, []int{17}, conn.activated)
	assert.Equal(t, []int{17}, conn.deactivated)
	assert.Equal(t, 1, link.opens)
	assert.Equal(t, 1, conn.closes)
	assert.Equal(t, []Point{{0, 3.2}, {1, 2.9}, {2, 1.4}}, res.Series[1])
}

func TestHardwareBench_FailuresEndInEmergencyAndClose(t *testing.T) {
	tests := []struct {
		name      string
		link      func() *fakeLink
		wantErr   error
		wantState State
		relayOff  bool
	}{
		{
			name: "open fails",
			link: func() *fakeLink {
				return &fakeLink{openErr: errors.New("no such device"), conn: &fakeConn{}}
			},
			wantErr:   ErrConnection,
			wantState: StateInit,
		},
		{
			name: "activation NACK",
			link: func() *fakeLink {
				return &fakeLink{conn: &fakeConn{activateErr: errors.New("NACK")}}
			},
			wantErr:   ErrRelayFailure,
			wantState: StateRelayActivate,
		},
		{
			name: "read times out",
			link: func() *fakeLink {
				return &fakeLink{conn: &fakeConn{readErr: context.DeadlineExceeded}}
			},
			wantErr:   ErrRead,
			wantState: StateSample,
			relayOff:  true,
		},
		{
			name: "sample of wrong length",
			link: func() *fakeLink {
				return &fakeLink{conn: &fakeConn{samples: [][]float64{{3.3}}}}
			},
			wantErr:   ErrMalformedSample,
			wantState: StateLogData,
			relayOff:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			link := tt.link()
			sink := &recordingSink{}
			seq := newHardwareSequencer(t, link, uniformCells(2, 3.3, 1.5, 10), sink)

			res, err := seq.Run(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)

			var ferr *FatalError
			require.ErrorAs(t, err, &ferr)
			assert.Equal(t, tt.wantState, ferr.State)
			assert.Equal(t, StateEmergency, res.FinalState)
			assert.Len(t, sink.ofType(models.EventEmergency), 1)
			assert.Equal(t, 0, res.Series.Len(), "no partial data")

			if link.openErr == nil {
				assert.Equal(t, 1, link.conn.closes, "connection released on emergency")
			} else {
				assert.Equal(t, 0, link.conn.closes)
			}
			if tt.relayOff {
				assert.Equal(t, []int{17}, link.conn.deactivated, "relay switched off on emergency")
			} else {
				assert.Empty(t, link.conn.deactivated)
			}
		})
	}
}

func TestHardwareBench_CloseIsIdempotent(t *testing.T) {
	conn := &fakeConn{}
	bench := NewHardwareBench(&fakeLink{conn: conn}, HardwareBenchConfig{})
	require.NoError(t, bench.Open(context.Background()))
	require.NoError(t, bench.Close())
	require.NoError(t, bench.Close())
	assert.Equal(t, 1, conn.closes)

	err := bench.Tick(context.Background(), 0)
	assert.ErrorIs(t, err, ErrConnection)
}

func TestSimBench_SampleBeforeTick(t *testing.T) {
	env, err := NewEnvironment(uniformCells(1, 3.3, 1.5, 10), EnvironmentConfig{MaxRuntimeSeconds: 10})
	require.NoError(t, err)
	bench := NewSimBench(env)

	_, err = bench.Sample(context.Background())
	assert.ErrorIs(t, err, ErrNoMessage)

	require.NoError(t, bench.Tick(context.Background(), 0))
	sample, err := bench.Sample(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []float64{3.3}, sample)
}
