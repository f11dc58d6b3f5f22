// Package pbd implements play-by-demonstration: recording an axis from controller telemetry and
// replaying recorded trajectories forwards, backwards or across several axes.
package pbd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/calvinmclean/pbdgate"
	"github.com/calvinmclean/pbdgate/metrics"
	"github.com/calvinmclean/pbdgate/trajectory"
	"github.com/calvinmclean/pbdgate/units"
)

var (
	ErrAxisRecording = errors.New("axis is being recorded")
	ErrAxisPlaying   = errors.New("axis is being played back")
	ErrNoAxes        = errors.New("no axes to play")
	ErrShutdown      = errors.New("engine is shut down")
)

// DefaultRevolutionDelay is how long a one-revolution open-loop move is given to complete
const DefaultRevolutionDelay = 5 * time.Second

// Sender writes one controller command
type Sender interface {
	Send(line string) error
}

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// Engine owns the recording session and the playback tasks. Recording state is guarded by the
// engine mutex so concurrent command connections and the telemetry reader cannot race. ctlMtx
// orders the pbd and record control lines sent to the controller and is never held by Observe
type Engine struct {
	ctlMtx sync.Mutex

	mtx        sync.Mutex
	pbdMode    bool
	recording  bool
	recordAxis pbdgate.Axis
	playing    [pbdgate.NumAxes]int
	tasks      map[uint64]*Task
	nextID     uint64
	shutdown   bool

	store    *trajectory.Store
	conv     units.Converter
	sender   Sender
	revDelay time.Duration
	sleep    SleepFunc
	logger   *slog.Logger
	metrics  *metrics.Metrics

	baseCtx    context.Context
	cancelBase context.CancelFunc
	wg         sync.WaitGroup
}

type Option func(*Engine)

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithRevolutionDelay sets the settling time per revolution of a move_by_revolutions request
func WithRevolutionDelay(d time.Duration) Option {
	return func(e *Engine) { e.revDelay = d }
}

// WithSleep replaces the function used to hold between moves
func WithSleep(f SleepFunc) Option {
	return func(e *Engine) { e.sleep = f }
}

func New(store *trajectory.Store, conv units.Converter, sender Sender, opts ...Option) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		tasks:      map[uint64]*Task{},
		store:      store,
		conv:       conv,
		sender:     sender,
		revDelay:   DefaultRevolutionDelay,
		sleep:      sleepContext,
		logger:     slog.New(slog.DiscardHandler),
		baseCtx:    ctx,
		cancelBase: cancel,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store returns the trajectory store used for recording
func (e *Engine) Store() *trajectory.Store {
	return e.store
}

// Converter returns the unit converter used for playback
func (e *Engine) Converter() units.Converter {
	return e.conv
}

// send writes to the controller. Device errors are logged by the caller chain and never stop
// the engine
func (e *Engine) send(line string) {
	err := e.sender.Send(line)
	if err != nil {
		e.logger.Warn("controller command failed", "line", line, "error", err)
	}
}

// Enter puts the controller in PBD mode
func (e *Engine) Enter() {
	e.ctlMtx.Lock()
	defer e.ctlMtx.Unlock()

	e.mtx.Lock()
	e.pbdMode = true
	e.mtx.Unlock()

	e.logger.Info("entering pbd mode")
	e.send(pbdgate.PBDStart)
}

// Exit leaves PBD mode
func (e *Engine) Exit() {
	e.ctlMtx.Lock()
	defer e.ctlMtx.Unlock()

	e.mtx.Lock()
	e.pbdMode = false
	e.mtx.Unlock()

	e.logger.Info("exiting pbd mode")
	e.send(pbdgate.PBDStop)
}

// StartRecording clears the axis trajectory and records telemetry for it. Starting a recording
// while another axis records closes that session: only one axis records at a time
func (e *Engine) StartRecording(axis pbdgate.Axis) error {
	if !axis.Valid() {
		return fmt.Errorf("%w: %d", pbdgate.ErrInvalidAxis, int(axis))
	}

	e.ctlMtx.Lock()
	defer e.ctlMtx.Unlock()

	e.mtx.Lock()
	if e.playing[axis.Index()] > 0 {
		e.mtx.Unlock()
		return fmt.Errorf("%w: %s", ErrAxisPlaying, axis)
	}

	if e.recording && e.recordAxis != axis {
		e.logger.Info("replacing recording session",
			"previous_axis", e.recordAxis,
			"previous_samples", e.store.Len(e.recordAxis),
			"axis", axis,
		)
	}

	e.store.Clear(axis)
	e.recording = true
	e.recordAxis = axis
	e.mtx.Unlock()

	e.logger.Info("recording started", "axis", axis)
	e.send(pbdgate.RecordStartLine(axis))

	return nil
}

// StopRecording closes the session and returns the recorded axis, or AxisNone if nothing was
// being recorded
func (e *Engine) StopRecording() pbdgate.Axis {
	e.ctlMtx.Lock()
	defer e.ctlMtx.Unlock()

	e.mtx.Lock()
	axis := pbdgate.AxisNone
	if e.recording {
		axis = e.recordAxis
		e.logger.Info("recording stopped", "axis", axis, "samples", e.store.Len(axis))
	} else {
		e.logger.Info("recording stop requested while not recording")
	}

	e.recording = false
	e.recordAxis = pbdgate.AxisNone
	e.mtx.Unlock()

	e.send(pbdgate.RecordStop)

	return axis
}

// Observe feeds one telemetry sample to the active recording session. It reports whether the
// sample was recorded
func (e *Engine) Observe(axis pbdgate.Axis, at time.Time, position int64) bool {
	e.mtx.Lock()
	defer e.mtx.Unlock()

	if !e.recording || axis != e.recordAxis {
		return false
	}

	_, n := e.store.Record(axis, at, position)
	e.metrics.SampleRecorded(axis.String())
	if n == 1 {
		e.logger.Debug("recording start time set", "axis", axis, "t0", at)
	}
	if n%10 == 0 {
		e.logger.Info("recording progress", "axis", axis, "samples", n)
	}
	return true
}

// Play starts a detached playback of one axis
func (e *Engine) Play(axis pbdgate.Axis, reverse bool) (*Task, error) {
	kind := TaskPlay
	if reverse {
		kind = TaskPlayReverse
	}
	return e.startPlayback(kind, []pbdgate.Axis{axis}, reverse)
}

// PlayAll plays each axis to completion before the next. In reverse the visitation order is
// reversed as well as each trajectory. An empty list plays every axis
func (e *Engine) PlayAll(axes []pbdgate.Axis, reverse bool) (*Task, error) {
	if axes == nil {
		axes = pbdgate.AllAxes
	}
	order := slices.Clone(axes)
	if reverse {
		slices.Reverse(order)
	}

	kind := TaskPlayAll
	if reverse {
		kind = TaskPlayReverseAll
	}
	return e.startPlayback(kind, order, reverse)
}

func (e *Engine) startPlayback(kind TaskKind, order []pbdgate.Axis, reverse bool) (*Task, error) {
	if len(order) == 0 {
		return nil, ErrNoAxes
	}
	for _, axis := range order {
		if !axis.Valid() {
			return nil, fmt.Errorf("%w: %d", pbdgate.ErrInvalidAxis, int(axis))
		}
	}

	e.mtx.Lock()
	for _, axis := range order {
		if e.recording && e.recordAxis == axis {
			e.mtx.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrAxisRecording, axis)
		}
	}
	for _, axis := range order {
		e.playing[axis.Index()]++
	}
	task, err := e.newTaskLocked(kind, order)
	e.mtx.Unlock()
	if err != nil {
		e.releaseAxes(order)
		return nil, err
	}

	e.run(task, func(ctx context.Context) error {
		defer e.releaseAxes(order)

		e.logger.Info("playback started", "task", task.ID, "kind", kind, "order", order)
		for _, axis := range order {
			err := e.playAxis(ctx, axis, reverse)
			if err != nil {
				return err
			}
		}
		e.logger.Info("playback finished", "task", task.ID, "kind", kind)
		return nil
	})

	return task, nil
}

func (e *Engine) releaseAxes(axes []pbdgate.Axis) {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	for _, axis := range axes {
		e.playing[axis.Index()]--
	}
}

// playAxis replays the recorded moves of one axis, holding between moves for the original
// inter-sample gap. In reverse the pairs are walked backwards and each delta is negated
func (e *Engine) playAxis(ctx context.Context, axis pbdgate.Axis, reverse bool) error {
	traj := e.store.Read(axis)
	if len(traj) < trajectory.MinPlaybackSamples {
		e.logger.Info("not enough samples to play", "axis", axis, "samples", len(traj))
		return nil
	}

	e.logger.Info("playing axis", "axis", axis, "reverse", reverse, "samples", len(traj))

	for _, step := range Plan(traj, e.conv, reverse) {
		if step.Steps != 0 {
			dir := pbdgate.Forward
			if step.Steps < 0 {
				dir = pbdgate.Backward
			}
			e.send(pbdgate.MoveLine(axis, uint64(abs(step.Steps)), dir))
		}

		err := e.sleep(ctx, step.Hold)
		if err != nil {
			return err
		}
	}

	return nil
}

// Step is one planned playback move
type Step struct {
	// Steps is the signed step count, 0 means hold only
	Steps int64
	Hold  time.Duration
}

// Plan converts a trajectory into signed step moves. Reverse walks the same pairs from the end
// with the delta sign inverted and keeps each pair's original gap
func Plan(traj []trajectory.Sample, conv units.Converter, reverse bool) []Step {
	if len(traj) < trajectory.MinPlaybackSamples {
		return nil
	}

	steps := make([]Step, 0, len(traj)-1)
	for k := 1; k < len(traj); k++ {
		i := k
		if reverse {
			i = len(traj) - k
		}
		prev, curr := traj[i-1], traj[i]

		delta := curr.Position - prev.Position
		if reverse {
			delta = -delta
		}

		steps = append(steps, Step{
			Steps: conv.DeltaToSteps(delta),
			Hold:  secondsToDuration(curr.Time - prev.Time),
		})
	}
	return steps
}

// MoveRevolutions sends one open-loop move of the given revolutions and then holds the task for
// the time the rig needs to complete it. Negative revolutions invert the direction
func (e *Engine) MoveRevolutions(axis pbdgate.Axis, dir pbdgate.Direction, revs float64) (*Task, error) {
	if !axis.Valid() {
		return nil, fmt.Errorf("%w: %d", pbdgate.ErrInvalidAxis, int(axis))
	}
	if math.IsNaN(revs) || math.IsInf(revs, 0) {
		return nil, fmt.Errorf("invalid revolutions: %v", revs)
	}

	if revs < 0 {
		dir = dir.Reverse()
	}
	steps := e.conv.RevolutionsToSteps(math.Abs(revs))
	hold := time.Duration(math.Round(math.Abs(revs) * float64(e.revDelay)))

	e.mtx.Lock()
	task, err := e.newTaskLocked(TaskMoveRevs, []pbdgate.Axis{axis})
	e.mtx.Unlock()
	if err != nil {
		return nil, err
	}

	e.run(task, func(ctx context.Context) error {
		e.logger.Info("move by revolutions", "axis", axis, "revs", revs, "steps", steps, "dir", dir, "hold", hold)
		if steps > 0 {
			e.send(pbdgate.MoveLine(axis, uint64(steps), dir))
		}
		return e.sleep(ctx, hold)
	})

	return task, nil
}

func (e *Engine) newTaskLocked(kind TaskKind, axes []pbdgate.Axis) (*Task, error) {
	if e.shutdown {
		return nil, ErrShutdown
	}

	e.nextID++
	ctx, cancel := context.WithCancel(e.baseCtx)
	task := &Task{
		ID:      e.nextID,
		Kind:    kind,
		Axes:    axes,
		Started: time.Now(),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	task.runCtx = ctx
	e.tasks[task.ID] = task
	e.wg.Add(1)

	return task, nil
}

func (e *Engine) run(task *Task, f func(context.Context) error) {
	finished := e.metrics.PlaybackStarted(string(task.Kind))

	go func() {
		defer e.wg.Done()
		defer finished()

		err := f(task.runCtx)
		if err != nil {
			e.logger.Info("playback ended early", "task", task.ID, "error", err)
		}

		e.mtx.Lock()
		delete(e.tasks, task.ID)
		e.mtx.Unlock()

		task.finish(err)
		task.cancel()
	}()
}

// Tasks returns the running playback tasks ordered by ID
func (e *Engine) Tasks() []TaskInfo {
	e.mtx.Lock()
	defer e.mtx.Unlock()

	infos := make([]TaskInfo, 0, len(e.tasks))
	for _, t := range e.tasks {
		infos = append(infos, t.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Cancel stops a running task. It reports whether the task was found
func (e *Engine) Cancel(id uint64) bool {
	e.mtx.Lock()
	task, ok := e.tasks[id]
	e.mtx.Unlock()

	if ok {
		e.logger.Info("cancelling playback", "task", id)
		task.Cancel()
	}
	return ok
}

// Status is a snapshot of the engine state
type Status struct {
	PBDMode       bool           `json:"pbd_mode"`
	Recording     bool           `json:"recording"`
	RecordingAxis pbdgate.Axis   `json:"recording_axis,omitempty"`
	Samples       map[string]int `json:"samples"`
	Playbacks     []TaskInfo     `json:"playbacks"`
}

func (e *Engine) Status() Status {
	tasks := e.Tasks()

	e.mtx.Lock()
	defer e.mtx.Unlock()

	samples := map[string]int{}
	for _, axis := range pbdgate.AllAxes {
		samples[axis.String()] = e.store.Len(axis)
	}

	return Status{
		PBDMode:       e.pbdMode,
		Recording:     e.recording,
		RecordingAxis: e.recordAxis,
		Samples:       samples,
		Playbacks:     tasks,
	}
}

// Shutdown cancels every running task and waits for them until ctx is done
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mtx.Lock()
	e.shutdown = true
	e.mtx.Unlock()

	e.cancelBase()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func secondsToDuration(s float64) time.Duration {
	if s <= 0 || math.IsNaN(s) {
		return 0
	}
	return time.Duration(math.Round(s * float64(time.Second)))
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
