// Package broadcast fans out state lines to every subscribed connection.
package broadcast

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/calvinmclean/pbdgate/metrics"
)

const DefaultQueueSize = 256

// Subscriber receives broadcast lines. Send must return within a bounded time. Implementations
// are used as map keys, so they must be comparable (pointers or structs of comparable fields)
type Subscriber interface {
	Send(line []byte) error
	Close() error
}

// client is the per-subscriber queue and writer
type client struct {
	sub   Subscriber
	queue chan []byte
	done  chan struct{}
}

// Broadcaster keeps the live subscriber set. Publish never waits on a subscriber: each one has
// its own queue drained by a dedicated goroutine, and is removed when a write fails or the queue
// overflows
type Broadcaster struct {
	mtx     sync.Mutex
	clients map[Subscriber]*client
	closed  bool

	queueSize int
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

type Option func(*Broadcaster)

func WithLogger(l *slog.Logger) Option {
	return func(b *Broadcaster) { b.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Broadcaster) { b.metrics = m }
}

// WithQueueSize sets how many lines may be pending for one subscriber before it is dropped
func WithQueueSize(n int) Option {
	return func(b *Broadcaster) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

func New(opts ...Option) *Broadcaster {
	b := &Broadcaster{
		clients:   map[Subscriber]*client{},
		queueSize: DefaultQueueSize,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe adds sub to the live set. Subscribing the same subscriber twice is a no-op and
// returns false, so delivery is never duplicated
func (b *Broadcaster) Subscribe(sub Subscriber) bool {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	if b.closed {
		return false
	}
	if _, ok := b.clients[sub]; ok {
		return false
	}

	c := &client{
		sub:   sub,
		queue: make(chan []byte, b.queueSize),
		done:  make(chan struct{}),
	}
	b.clients[sub] = c
	b.metrics.SetSubscribers(len(b.clients))

	go b.writeLoop(c)

	return true
}

// Unsubscribe removes sub and closes it. It reports whether sub was subscribed
func (b *Broadcaster) Unsubscribe(sub Subscriber) bool {
	b.mtx.Lock()
	c, ok := b.clients[sub]
	if ok {
		b.removeLocked(c)
	}
	b.mtx.Unlock()
	return ok
}

// Len returns the number of live subscribers
func (b *Broadcaster) Len() int {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return len(b.clients)
}

// Publish queues line for every subscriber. The line must not contain its newline terminator
func (b *Broadcaster) Publish(line []byte) {
	msg := make([]byte, len(line)+1)
	copy(msg, line)
	msg[len(line)] = '\n'

	b.mtx.Lock()
	defer b.mtx.Unlock()

	for _, c := range b.clients {
		select {
		case c.queue <- msg:
		default:
			b.logger.Warn("dropping slow subscriber", "queue_size", b.queueSize)
			b.metrics.SubscriberDropped()
			b.removeLocked(c)
		}
	}
}

// PublishJSON encodes v and publishes it
func (b *Broadcaster) PublishJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("error encoding broadcast message: %w", err)
	}
	b.Publish(data)
	return nil
}

// Close removes every subscriber and rejects new ones
func (b *Broadcaster) Close() {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	b.closed = true
	for _, c := range b.clients {
		b.removeLocked(c)
	}
}

func (b *Broadcaster) removeLocked(c *client) {
	if b.clients[c.sub] != c {
		return
	}
	delete(b.clients, c.sub)
	close(c.done)
	b.metrics.SetSubscribers(len(b.clients))
}

func (b *Broadcaster) writeLoop(c *client) {
	defer func() {
		err := c.sub.Close()
		if err != nil {
			b.logger.Debug("error closing subscriber", "error", err)
		}
	}()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.queue:
			err := c.sub.Send(msg)
			if err != nil {
				b.logger.Info("removing subscriber after failed write", "error", err)
				b.metrics.SubscriberDropped()
				b.mtx.Lock()
				b.removeLocked(c)
				b.mtx.Unlock()
				return
			}
		}
	}
}
