// Package server runs the two TCP listeners of the gateway: the command port, where each
// connection sends line-delimited JSON commands, and the state port, where each connection
// becomes a broadcast subscriber.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/calvinmclean/pbdgate/broadcast"
	"github.com/calvinmclean/pbdgate/internal/lineio"
)

// MaxLineSize bounds one command line, newline included. Longer lines are dropped
const MaxLineSize = 64 * 1024

// Router handles one command line
type Router interface {
	Route(line string) error
}

// Subscriber set fed by the state port
type Subscriber interface {
	Subscribe(broadcast.Subscriber) bool
}

// listener is the accept loop shared by both servers
type listener struct {
	name   string
	addr   string
	logger *slog.Logger

	mtx   sync.Mutex
	ln    net.Listener
	ready chan struct{}

	wg sync.WaitGroup
}

func newListener(name, addr string, logger *slog.Logger) *listener {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &listener{
		name:   name,
		addr:   addr,
		logger: logger.With("server", name),
		ready:  make(chan struct{}),
	}
}

// listen binds the address. A bind failure is returned to the caller: it is fatal at startup
func (l *listener) listen() error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return fmt.Errorf("error listening for %s connections on %q: %w", l.name, l.addr, err)
	}

	l.mtx.Lock()
	l.ln = ln
	l.mtx.Unlock()
	close(l.ready)

	l.logger.Info("listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address once listening, or nil
func (l *listener) Addr() net.Addr {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// Ready is closed when the listener is bound
func (l *listener) Ready() <-chan struct{} {
	return l.ready
}

// serve accepts connections until ctx is done. handle runs in its own goroutine per connection
func (l *listener) serve(ctx context.Context, handle func(context.Context, net.Conn)) error {
	err := l.listen()
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		l.ln.Close()
	}()

	var tempDelay time.Duration
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				l.wg.Wait()
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				l.wg.Wait()
				return err
			}

			if tempDelay == 0 {
				tempDelay = 5 * time.Millisecond
			} else {
				tempDelay = min(2*tempDelay, time.Second)
			}
			l.logger.Error("error accepting connection", "error", err, "retry_in", tempDelay)
			time.Sleep(tempDelay)
			continue
		}
		tempDelay = 0

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			handle(ctx, conn)
		}()
	}
}

// CommandServer reads commands from every connection and hands each line to the Router. Lines
// from one connection are routed in order
type CommandServer struct {
	*listener
	router Router
}

func NewCommandServer(addr string, router Router, logger *slog.Logger) *CommandServer {
	return &CommandServer{
		listener: newListener("command", addr, logger),
		router:   router,
	}
}

// Run listens and serves until ctx is done
func (s *CommandServer) Run(ctx context.Context) error {
	return s.serve(ctx, s.handle)
}

func (s *CommandServer) handle(ctx context.Context, conn net.Conn) {
	remote := conn.RemoteAddr().String()
	logger := s.logger.With("remote", remote)
	logger.Info("command client connected")

	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()
	defer conn.Close()

	reader := lineio.NewReader(conn, MaxLineSize)
	for {
		line, err := reader.ReadLine()
		if errors.Is(err, lineio.ErrTooLong) {
			logger.Warn("dropping oversized command line", "limit", MaxLineSize)
			continue
		}
		if line != "" {
			// rejected lines are logged by the router and never close the connection
			_ = s.router.Route(strings.TrimRight(line, "\r\n"))
		}
		if err == nil {
			continue
		}

		if !errors.Is(err, io.EOF) && ctx.Err() == nil {
			logger.Warn("command connection ended with error", "error", err)
			return
		}
		logger.Info("command client disconnected")
		return
	}
}

// StateServer subscribes every accepted connection to the broadcast stream. Nothing is read from
// those connections
type StateServer struct {
	*listener
	subscribers  Subscriber
	writeTimeout time.Duration
}

func NewStateServer(addr string, subscribers Subscriber, writeTimeout time.Duration, logger *slog.Logger) *StateServer {
	return &StateServer{
		listener:     newListener("state", addr, logger),
		subscribers:  subscribers,
		writeTimeout: writeTimeout,
	}
}

// Run listens and serves until ctx is done. Subscribed connections are closed by the broadcaster
func (s *StateServer) Run(ctx context.Context) error {
	return s.serve(ctx, s.handle)
}

func (s *StateServer) handle(_ context.Context, conn net.Conn) {
	sub := broadcast.NewConn(conn, s.writeTimeout)
	if !s.subscribers.Subscribe(sub) {
		s.logger.Warn("subscription refused", "remote", sub.RemoteAddr())
		conn.Close()
		return
	}
	s.logger.Info("state client subscribed", "remote", sub.RemoteAddr())
}
