// Package trajectory stores the recorded (time, encoder position) samples of each axis.
package trajectory

import (
	"sync"
	"time"

	"github.com/calvinmclean/pbdgate"
)

// MinPlaybackSamples is the smallest trajectory that produces at least one move
const MinPlaybackSamples = 2

// Sample is one recorded point of a trajectory
type Sample struct {
	// Time is seconds since the first sample of the recording session
	Time     float64 `json:"t"`
	Position int64   `json:"pos"`
}

// Store holds one trajectory per axis. All methods are safe for concurrent use
type Store struct {
	mtx     sync.RWMutex
	samples [pbdgate.NumAxes][]Sample
	start   [pbdgate.NumAxes]time.Time
}

// NewStore creates an empty Store
func NewStore() *Store {
	return &Store{}
}

// Clear removes all samples for the axis and resets its recording start time
func (s *Store) Clear(axis pbdgate.Axis) {
	if !axis.Valid() {
		return
	}
	s.mtx.Lock()
	defer s.mtx.Unlock()

	s.samples[axis.Index()] = nil
	s.start[axis.Index()] = time.Time{}
}

// Append adds a sample in arrival order. Samples are not reordered or rejected if time goes backwards
func (s *Store) Append(axis pbdgate.Axis, sample Sample) {
	if !axis.Valid() {
		return
	}
	s.mtx.Lock()
	defer s.mtx.Unlock()

	s.samples[axis.Index()] = append(s.samples[axis.Index()], sample)
}

// Record appends a position observed at the given wall-clock time. The first call after Clear
// sets the start time, so the first sample is always at 0. It returns the stored Sample
func (s *Store) Record(axis pbdgate.Axis, at time.Time, position int64) (Sample, int) {
	if !axis.Valid() {
		return Sample{}, 0
	}
	s.mtx.Lock()
	defer s.mtx.Unlock()

	i := axis.Index()
	if s.start[i].IsZero() {
		s.start[i] = at
	}
	sample := Sample{
		Time:     at.Sub(s.start[i]).Seconds(),
		Position: position,
	}
	s.samples[i] = append(s.samples[i], sample)
	return sample, len(s.samples[i])
}

// Read returns a copy of the axis trajectory
func (s *Store) Read(axis pbdgate.Axis) []Sample {
	if !axis.Valid() {
		return nil
	}
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	src := s.samples[axis.Index()]
	out := make([]Sample, len(src))
	copy(out, src)
	return out
}

// Len returns the number of samples recorded for the axis
func (s *Store) Len(axis pbdgate.Axis) int {
	if !axis.Valid() {
		return 0
	}
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	return len(s.samples[axis.Index()])
}

// Playable reports whether the axis has enough samples to replay
func (s *Store) Playable(axis pbdgate.Axis) bool {
	return s.Len(axis) >= MinPlaybackSamples
}
