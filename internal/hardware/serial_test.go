package hardware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"discharge_tester/internal/discharge"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tarm/serial"
)

// scriptedPort replays canned board responses and records what was written.
// Once the script is used up it blocks like a quiet line until closed, or
// fails with readErr when set.
type scriptedPort struct {
	in      *bytes.Buffer
	readErr error

	mu     sync.Mutex
	out    bytes.Buffer
	closed chan struct{}
	once   sync.Once
}

func newScriptedPort(responses string) *scriptedPort {
	return &scriptedPort{in: bytes.NewBufferString(responses), closed: make(chan struct{})}
}

func (p *scriptedPort) Read(b []byte) (int, error) {
	if p.in.Len() > 0 {
		return p.in.Read(b)
	}
	if p.readErr != nil {
		return 0, p.readErr
	}
	<-p.closed
	return 0, io.ErrClosedPipe
}

func (p *scriptedPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out.Write(b)
}

func (p *scriptedPort) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func (p *scriptedPort) written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out.String()
}

func (p *scriptedPort) isClosed() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}

// blockingPort never answers.
type blockingPort struct {
	release chan struct{}
}

func (p *blockingPort) Read([]byte) (int, error) {
	<-p.release
	return 0, io.ErrClosedPipe
}
func (p *blockingPort) Write(b []byte) (int, error) { return len(b), nil }
func (p *blockingPort) Close() error                { return nil }

// quietThenAnswer returns EOF for every empty reply, like a port whose read
// timeout passed with nothing on the line.
type quietThenAnswer struct {
	mu      sync.Mutex
	replies []string
}

func (p *quietThenAnswer) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.replies) == 0 {
		return 0, io.ErrClosedPipe
	}
	next := p.replies[0]
	p.replies = p.replies[1:]
	if next == "" {
		return 0, io.EOF
	}
	return copy(b, next), nil
}
func (p *quietThenAnswer) Write(b []byte) (int, error) { return len(b), nil }
func (p *quietThenAnswer) Close() error                { return nil }

// slowBoard works through commands one at a time and answers each after a
// per-command delay. Replies go through a pipe so they arrive asynchronously.
type slowBoard struct {
	r       *io.PipeReader
	w       *io.PipeWriter
	queue   chan string
	once    sync.Once
	delays  map[string]time.Duration
	replies map[string]string

	mu   sync.Mutex
	cmds []string
}

func newSlowBoard(delays map[string]time.Duration, replies map[string]string) *slowBoard {
	r, w := io.Pipe()
	b := &slowBoard{r: r, w: w, queue: make(chan string, 8), delays: delays, replies: replies}
	go b.serve()
	return b
}

func (b *slowBoard) serve() {
	for cmd := range b.queue {
		verb := strings.Fields(cmd)[0]
		time.Sleep(b.delays[verb])
		if _, err := io.WriteString(b.w, b.replies[verb]+"\n"); err != nil {
			return
		}
	}
}

func (b *slowBoard) Read(p []byte) (int, error) { return b.r.Read(p) }

func (b *slowBoard) Write(p []byte) (int, error) {
	cmd := strings.TrimSpace(string(p))
	b.mu.Lock()
	b.cmds = append(b.cmds, cmd)
	b.mu.Unlock()
	b.queue <- cmd
	return len(p), nil
}

func (b *slowBoard) Close() error {
	b.once.Do(func() { close(b.queue) })
	_ = b.w.Close()
	return b.r.Close()
}

func (b *slowBoard) commands() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.cmds...)
}

func linkWithPort(port io.ReadWriteCloser, captured *serial.Config) *SerialLink {
	l := NewSerialLink(Config{Port: "/dev/ttyUSB0"})
	l.open = func(c *serial.Config) (io.ReadWriteCloser, error) {
		if captured != nil {
			*captured = *c
		}
		return port, nil
	}
	return l
}

func TestSerialLink_OpenAppliesDefaults(t *testing.T) {
	var got serial.Config
	l := linkWithPort(newScriptedPort(""), &got)

	conn, err := l.Open(context.Background())
	require.NoError(t, err)
	require.NotNil(t, conn)
	assert.Equal(t, "/dev/ttyUSB0", got.Name)
	assert.Equal(t, 9600, got.Baud)
	assert.Equal(t, time.Second, got.ReadTimeout)
}

func TestSerialLink_OpenErrors(t *testing.T) {
	l := NewSerialLink(Config{})
	_, err := l.Open(context.Background())
	assert.ErrorIs(t, err, discharge.ErrConnection)

	l = NewSerialLink(Config{Port: "/dev/missing"})
	l.open = func(*serial.Config) (io.ReadWriteCloser, error) {
		return nil, errors.New("no such file or directory")
	}
	_, err = l.Open(context.Background())
	assert.ErrorIs(t, err, discharge.ErrConnection)
	assert.Contains(t, err.Error(), "/dev/missing")
}

func TestSerialConn_CommandsAndSamples(t *testing.T) {
	port := newScriptedPort("ACK\n3.300, 3.250,3.1\nACK\n")
	conn, err := linkWithPort(port, nil).Open(context.Background())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, conn.ActivatePin(ctx, 4))
	samples, err := conn.ReadSamples(ctx)
	require.NoError(t, err)
	assert.Equal(t, []float64{3.3, 3.25, 3.1}, samples)
	require.NoError(t, conn.DeactivatePin(ctx, 4))
	require.NoError(t, conn.Close())

	assert.Equal(t, "ON 4\nREAD\nOFF 4\n", port.written())
	assert.True(t, port.isClosed())
}

func TestSerialConn_ResponseErrors(t *testing.T) {
	ctx := context.Background()

	conn, _ := linkWithPort(newScriptedPort("NACK\n"), nil).Open(ctx)
	assert.ErrorIs(t, conn.ActivatePin(ctx, 1), discharge.ErrActivation)

	conn, _ = linkWithPort(newScriptedPort("WHAT\n"), nil).Open(ctx)
	assert.ErrorIs(t, conn.ActivatePin(ctx, 1), discharge.ErrActivation)

	conn, _ = linkWithPort(newScriptedPort("3.3,abc\n"), nil).Open(ctx)
	_, err := conn.ReadSamples(ctx)
	assert.ErrorIs(t, err, discharge.ErrRead)

	broken := newScriptedPort("")
	broken.readErr = errors.New("input/output error")
	conn, _ = linkWithPort(broken, nil).Open(ctx)
	_, err = conn.ReadSamples(ctx)
	assert.ErrorIs(t, err, discharge.ErrRead)
	assert.ErrorContains(t, err, "input/output error")
}

func TestSerialConn_TimeoutThenRelayOffGetsOwnReply(t *testing.T) {
	board := newSlowBoard(
		map[string]time.Duration{cmdRead: 60 * time.Millisecond, cmdOff: 20 * time.Millisecond},
		map[string]string{cmdRead: "3.1,3.0", cmdOff: respAck},
	)
	conn, err := linkWithPort(board, nil).Open(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	readCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = conn.ReadSamples(readCtx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The late READ reply lands while OFF is waiting and must not be taken for it.
	offCtx, cancelOff := context.WithTimeout(context.Background(), time.Second)
	defer cancelOff()
	require.NoError(t, conn.DeactivatePin(offCtx, 17))

	samples, err := conn.ReadSamples(offCtx)
	require.NoError(t, err)
	assert.Equal(t, []float64{3.1, 3.0}, samples)
	assert.Equal(t, []string{"READ", "OFF 17", "READ"}, board.commands())
}

func TestSerialConn_EOFFromReadTimeoutKeepsListening(t *testing.T) {
	port := &quietThenAnswer{replies: []string{"", "", "ACK\n"}}
	conn, err := linkWithPort(port, nil).Open(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, conn.ActivatePin(ctx, 2))
}

func TestSerialConn_ReadHonoursDeadline(t *testing.T) {
	port := &blockingPort{release: make(chan struct{})}
	defer close(port.release)

	conn, err := linkWithPort(port, nil).Open(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = conn.ReadSamples(ctx)
	assert.ErrorIs(t, err, discharge.ErrRead)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}
