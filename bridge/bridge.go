// Package bridge owns the serial link to the motion controller. It writes one command line at a
// time and turns the controller's output into a stream of Events.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/calvinmclean/pbdgate/internal/lineio"
	"github.com/calvinmclean/pbdgate/metrics"
)

var ErrClosed = errors.New("serial bridge is closed")

// MaxLineSize bounds one line from the controller, newline included. Longer lines are dropped
const MaxLineSize = 4096

const (
	defaultReadRetryDelay = 500 * time.Millisecond
	eventBufferSize       = 64
)

type outputResetter interface {
	ResetOutputBuffer() error
}

type drainer interface {
	Drain() error
}

// Bridge serializes writes to the controller and decodes what it sends back. Replies are not
// correlated to commands: the received stream is a broadcast of controller state
type Bridge struct {
	port    Port
	logger  *slog.Logger
	metrics *metrics.Metrics

	writeMtx sync.Mutex
	closed   atomic.Bool

	recvOnce sync.Once
	events   chan Event

	readRetryDelay time.Duration
	now            func() time.Time
}

// Option configures a Bridge
type Option func(*Bridge)

func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) { b.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Bridge) { b.metrics = m }
}

// WithReadRetryDelay sets how long the reader waits after a device read error before retrying
func WithReadRetryDelay(d time.Duration) Option {
	return func(b *Bridge) { b.readRetryDelay = d }
}

// New creates a Bridge on an already opened Port
func New(port Port, opts ...Option) *Bridge {
	b := &Bridge{
		port:           port,
		logger:         slog.New(slog.DiscardHandler),
		readRetryDelay: defaultReadRetryDelay,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Send writes exactly one newline-terminated command. Concurrent callers never interleave
func (b *Bridge) Send(line string) error {
	line = strings.TrimRight(line, "\r\n")
	if strings.ContainsAny(line, "\r\n") {
		return fmt.Errorf("command contains a line break: %q", line)
	}
	if b.closed.Load() {
		return ErrClosed
	}

	b.writeMtx.Lock()
	defer b.writeMtx.Unlock()

	err := b.write([]byte(line + "\n"))
	b.metrics.SerialWrite(err)
	if err != nil {
		b.logger.Error("serial write failed", "line", line, "error", err)
		return fmt.Errorf("error writing serial command: %w", err)
	}

	b.logger.Debug("serial write", "line", line)
	return nil
}

func (b *Bridge) write(msg []byte) error {
	if r, ok := b.port.(outputResetter); ok {
		err := r.ResetOutputBuffer()
		if err != nil {
			return fmt.Errorf("error resetting output buffer: %w", err)
		}
	}

	for len(msg) > 0 {
		n, err := b.port.Write(msg)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		msg = msg[n:]
	}

	if d, ok := b.port.(drainer); ok {
		return d.Drain()
	}
	return nil
}

// Receive starts the read loop on first use and returns its events. The stream is not
// restartable: every call returns the same channel, which is closed when ctx is done, the
// bridge is closed or the port reaches EOF
func (b *Bridge) Receive(ctx context.Context) <-chan Event {
	b.recvOnce.Do(func() {
		b.events = make(chan Event, eventBufferSize)
		go b.readLoop(ctx)
	})
	return b.events
}

func (b *Bridge) readLoop(ctx context.Context) {
	defer close(b.events)

	reader := lineio.NewReader(b.port, MaxLineSize)
	for {
		if ctx.Err() != nil || b.closed.Load() {
			return
		}

		raw, err := reader.ReadLine()
		if errors.Is(err, lineio.ErrTooLong) {
			b.metrics.SerialLine("dropped")
			b.logger.Warn("dropping oversized serial line", "limit", MaxLineSize)
			continue
		}
		if raw != "" && (err == nil || errors.Is(err, io.EOF)) {
			if !b.emit(ctx, raw) {
				return
			}
		}

		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			b.logger.Info("serial stream ended")
			return
		case b.closed.Load():
			return
		default:
			b.logger.Error("serial read failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(b.readRetryDelay):
			}
		}
	}
}

// emit decodes one line and forwards it. It returns false when the consumer is gone
func (b *Bridge) emit(ctx context.Context, raw string) bool {
	ev, err := ParseLine(strings.TrimRight(raw, "\r\n"), b.now())
	if errors.Is(err, ErrEmptyLine) {
		return true
	}
	if err != nil {
		b.metrics.SerialLine("dropped")
		b.logger.Warn("dropping serial line", "line", strings.ToValidUTF8(strings.TrimSpace(raw), "?"), "error", err)
		return true
	}

	b.metrics.SerialLine(ev.Kind.String())

	select {
	case b.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// Close closes the port, which also ends the read loop
func (b *Bridge) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	return b.port.Close()
}
