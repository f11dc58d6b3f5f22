package commands

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/calvinmclean/pbdgate"
	"github.com/calvinmclean/pbdgate/metrics"
	"github.com/calvinmclean/pbdgate/pbd"
)

// Sender writes one line to the serial controller
type Sender interface {
	Send(line string) error
}

// Publisher fans a line out to the state subscribers
type Publisher interface {
	Publish(line []byte)
}

// Engine is the part of the PBD engine driven by commands
type Engine interface {
	Enter()
	Exit()
	StartRecording(pbdgate.Axis) error
	StopRecording() pbdgate.Axis
	Play(pbdgate.Axis, bool) (*pbd.Task, error)
	PlayAll([]pbdgate.Axis, bool) (*pbd.Task, error)
	MoveRevolutions(pbdgate.Axis, pbdgate.Direction, float64) (*pbd.Task, error)
}

var _ Engine = &pbd.Engine{}

// Router validates and dispatches command lines. It is safe for use by many connections
type Router struct {
	sender    Sender
	engine    Engine
	publisher Publisher
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

type Option func(*Router)

func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

func NewRouter(sender Sender, engine Engine, publisher Publisher, opts ...Option) *Router {
	r := &Router{
		sender:    sender,
		engine:    engine,
		publisher: publisher,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route handles one line from a command connection. An accepted command is echoed verbatim to
// the publisher. A rejected one has no side effects and its error is returned after logging
func (r *Router) Route(line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	in, err := parse(line)
	if err != nil {
		r.reject("", line, err)
		return err
	}

	name := in.String("cmd")
	cmd, ok := Commands[name]
	if !ok {
		err = fmt.Errorf("%w: %q", ErrUnknownCommand, name)
		r.reject(name, line, err)
		return err
	}

	err = cmd.Run(r, in)
	if err != nil {
		r.reject(name, line, err)
		return err
	}

	r.logger.Debug("command accepted", "cmd", name, "line", line)
	r.metrics.CommandAccepted(name)
	r.publisher.Publish([]byte(line))

	return nil
}

func parse(line string) (Input, error) {
	dec := json.NewDecoder(bytes.NewBufferString(line))
	dec.UseNumber()

	var in Input
	err := dec.Decode(&in)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data", ErrMalformed)
	}
	if in == nil {
		return nil, fmt.Errorf("%w: not an object", ErrMalformed)
	}

	return in, nil
}

func (r *Router) reject(name, line string, err error) {
	r.logger.Warn("command rejected", "cmd", name, "line", line, "error", err)
	r.metrics.CommandRejected(name, reason(err))
}

func reason(err error) string {
	switch {
	case errors.Is(err, ErrMalformed):
		return "malformed"
	case errors.Is(err, ErrUnknownCommand):
		return "unknown"
	case errors.Is(err, ErrMissingField):
		return "missing_field"
	case errors.Is(err, pbdgate.ErrInvalidAxis), errors.Is(err, ErrInvalidValue), errors.Is(err, pbd.ErrNoAxes):
		return "invalid_value"
	case errors.Is(err, pbd.ErrAxisRecording), errors.Is(err, pbd.ErrAxisPlaying):
		return "conflict"
	default:
		return "error"
	}
}

// send writes to the controller. A failed write is logged and the command still counts as
// accepted, the bridge keeps serving later writes
func (r *Router) send(line string) {
	err := r.sender.Send(line)
	if err != nil {
		r.logger.Error("error sending command to controller", "line", line, "error", err)
	}
}

func (r *Router) play(in Input, reverse bool) error {
	axis, err := decodeAxis(in)
	if err != nil {
		return err
	}
	_, err = r.engine.Play(axis, reverse)
	return err
}

func (r *Router) playAll(in Input, reverse bool) error {
	var args axesArgs
	err := in.Decode(&args)
	if err != nil {
		return err
	}

	axes := pbdgate.AllAxes
	if _, ok := in["axes"]; ok {
		axes = make([]pbdgate.Axis, 0, len(args.Axes))
		for _, n := range args.Axes {
			axis, err := pbdgate.ParseAxis(n)
			if err != nil {
				return err
			}
			axes = append(axes, axis)
		}
	}

	_, err = r.engine.PlayAll(axes, reverse)
	return err
}
