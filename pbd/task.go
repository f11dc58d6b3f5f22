package pbd

import (
	"context"
	"sync"
	"time"

	"github.com/calvinmclean/pbdgate"
)

// TaskKind names what a playback task does
type TaskKind string

const (
	TaskPlay           TaskKind = "play"
	TaskPlayReverse    TaskKind = "play_reverse"
	TaskPlayAll        TaskKind = "play_all"
	TaskPlayReverseAll TaskKind = "play_reverse_all"
	TaskMoveRevs       TaskKind = "move_by_revolutions"
)

// Task is the handle of a detached playback. It runs to completion unless cancelled
type Task struct {
	ID      uint64
	Kind    TaskKind
	Axes    []pbdgate.Axis
	Started time.Time

	runCtx context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mtx sync.Mutex
	err error
}

// TaskInfo is a serializable snapshot of a running Task
type TaskInfo struct {
	ID      uint64         `json:"id"`
	Kind    TaskKind       `json:"kind"`
	Axes    []pbdgate.Axis `json:"axes"`
	Started time.Time      `json:"started"`
}

// Cancel stops the task at its next suspension point
func (t *Task) Cancel() {
	t.cancel()
}

// Done is closed when the task has finished
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task finishes and returns its error
func (t *Task) Wait() error {
	<-t.done
	return t.Err()
}

// Err returns the error the task finished with, or nil while it is still running
func (t *Task) Err() error {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	return t.err
}

func (t *Task) Info() TaskInfo {
	return TaskInfo{
		ID:      t.ID,
		Kind:    t.Kind,
		Axes:    append([]pbdgate.Axis(nil), t.Axes...),
		Started: t.Started,
	}
}

func (t *Task) finish(err error) {
	t.mtx.Lock()
	t.err = err
	t.mtx.Unlock()
	close(t.done)
}
