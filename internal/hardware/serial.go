// Package hardware talks to the discharge test board over a serial line.
//
// The board speaks a line protocol: "ON <pin>" and "OFF <pin>" are answered
// with "ACK" or "NACK", "READ" is answered with the cell voltages as comma
// separated decimals in cell order.
package hardware

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"discharge_tester/internal/discharge"

	"github.com/tarm/serial"
)

const (
	respAck  = "ACK"
	respNack = "NACK"

	cmdOn   = "ON"
	cmdOff  = "OFF"
	cmdRead = "READ"

	defaultBaud        = 9600
	defaultReadTimeout = time.Second

	lineBuffer = 8
)

// Config selects the serial device.
type Config struct {
	Port        string // e.g. /dev/ttyUSB0
	Baud        int
	ReadTimeout time.Duration
}

type openFunc func(*serial.Config) (io.ReadWriteCloser, error)

// SerialLink opens connections to the board.
type SerialLink struct {
	cfg  Config
	open openFunc
}

// NewSerialLink returns a link for cfg. Zero baud and timeout use 9600 and 1s.
func NewSerialLink(cfg Config) *SerialLink {
	if cfg.Baud == 0 {
		cfg.Baud = defaultBaud
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	return &SerialLink{
		cfg: cfg,
		open: func(c *serial.Config) (io.ReadWriteCloser, error) {
			return serial.OpenPort(c)
		},
	}
}

// Open opens the serial port.
func (l *SerialLink) Open(ctx context.Context) (discharge.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", discharge.ErrConnection, err)
	}
	if l.cfg.Port == "" {
		return nil, fmt.Errorf("%w: serial port not configured", discharge.ErrConnection)
	}
	port, err := l.open(&serial.Config{
		Name:        l.cfg.Port,
		Baud:        l.cfg.Baud,
		ReadTimeout: l.cfg.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", discharge.ErrConnection, l.cfg.Port, err)
	}
	return newSerialConn(port), nil
}

type lineResult struct {
	line string
	err  error
}

// serialConn owns the port. A single reader goroutine turns the port into a
// stream of response lines; commands are serialized and each one consumes
// exactly one line.
type serialConn struct {
	port  io.ReadWriteCloser
	lines chan lineResult
	done  chan struct{}
	once  sync.Once

	mu    sync.Mutex // one command in flight
	stale int        // replies still owed to commands that gave up waiting
}

func newSerialConn(port io.ReadWriteCloser) *serialConn {
	c := &serialConn{
		port:  port,
		lines: make(chan lineResult, lineBuffer),
		done:  make(chan struct{}),
	}
	go c.readLoop(bufio.NewReader(port))
	return c
}

func (c *serialConn) readLoop(r *bufio.Reader) {
	defer close(c.lines)
	var partial string
	for {
		chunk, err := r.ReadString('\n')
		partial += chunk
		if errors.Is(err, io.EOF) {
			// The port reports EOF each time its read timeout passes without data.
			select {
			case <-c.done:
				return
			default:
				continue
			}
		}
		if err != nil {
			c.deliver(lineResult{err: err})
			return
		}
		line := strings.TrimSpace(partial)
		partial = ""
		if line != "" && !c.deliver(lineResult{line: line}) {
			return
		}
	}
}

func (c *serialConn) deliver(res lineResult) bool {
	select {
	case c.lines <- res:
		return true
	case <-c.done:
		return false
	}
}

func (c *serialConn) ActivatePin(ctx context.Context, pin int) error {
	return c.command(ctx, fmt.Sprintf("%s %d", cmdOn, pin))
}

func (c *serialConn) DeactivatePin(ctx context.Context, pin int) error {
	return c.command(ctx, fmt.Sprintf("%s %d", cmdOff, pin))
}

func (c *serialConn) command(ctx context.Context, cmd string) error {
	resp, err := c.roundTrip(ctx, cmd)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", discharge.ErrActivation, cmd, err)
	}
	switch resp {
	case respAck:
		return nil
	case respNack:
		return fmt.Errorf("%w: %s: NACK response", discharge.ErrActivation, cmd)
	default:
		return fmt.Errorf("%w: %s: unexpected response %q", discharge.ErrActivation, cmd, resp)
	}
}

func (c *serialConn) ReadSamples(ctx context.Context) ([]float64, error) {
	resp, err := c.roundTrip(ctx, cmdRead)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", discharge.ErrRead, err)
	}
	samples, err := parseSamples(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", discharge.ErrRead, err)
	}
	return samples, nil
}

func (c *serialConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return c.port.Close()
}

// roundTrip writes one command line and waits for its response line or for
// ctx to end. A command that gives up still owes a line; late replies are
// skipped so that the next command reads its own answer.
func (c *serialConn) roundTrip(ctx context.Context, cmd string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if _, err := io.WriteString(c.port, cmd+"\n"); err != nil {
		return "", fmt.Errorf("write %q: %w", cmd, err)
	}

	for {
		select {
		case <-ctx.Done():
			c.stale++
			return "", fmt.Errorf("waiting for %q response: %w", cmd, ctx.Err())
		case res, ok := <-c.lines:
			if !ok {
				return "", fmt.Errorf("read %q response: %w", cmd, io.ErrClosedPipe)
			}
			if res.err != nil {
				return "", fmt.Errorf("read %q response: %w", cmd, res.err)
			}
			if c.stale > 0 {
				c.stale--
				continue
			}
			return res.line, nil
		}
	}
}

func parseSamples(line string) ([]float64, error) {
	if line == "" {
		return nil, fmt.Errorf("empty sample line")
	}
	fields := strings.Split(line, ",")
	out := make([]float64, 0, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}
