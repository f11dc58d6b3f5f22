// Package metrics defines the Prometheus collectors exported by the gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pbdgate"

// Metrics groups every collector. A nil *Metrics is valid and records nothing
type Metrics struct {
	Commands           *prometheus.CounterVec
	SerialLines        *prometheus.CounterVec
	SerialWrites       prometheus.Counter
	SerialWriteErrors  prometheus.Counter
	Subscribers        prometheus.Gauge
	SubscribersDropped prometheus.Counter
	PlaybacksActive    prometheus.Gauge
	Playbacks          *prometheus.CounterVec
	RecordedSamples    *prometheus.CounterVec
}

// New creates the collectors and registers them with reg when it is not nil
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Command lines received, by command and result",
		}, []string{"cmd", "result"}),
		SerialLines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "serial_lines_total",
			Help:      "Lines read from the motion controller, by kind",
		}, []string{"kind"}),
		SerialWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "serial_writes_total",
			Help:      "Command lines written to the motion controller",
		}),
		SerialWriteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "serial_write_errors_total",
			Help:      "Failed writes to the motion controller",
		}),
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers",
			Help:      "Current number of state subscribers",
		}),
		SubscribersDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscribers_dropped_total",
			Help:      "Subscribers removed after a failed or slow write",
		}),
		PlaybacksActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "playbacks_active",
			Help:      "Playback tasks currently running",
		}),
		Playbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playbacks_total",
			Help:      "Playback tasks started, by kind",
		}, []string{"kind"}),
		RecordedSamples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recorded_samples_total",
			Help:      "Trajectory samples recorded, by axis",
		}, []string{"axis"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.Commands,
			m.SerialLines,
			m.SerialWrites,
			m.SerialWriteErrors,
			m.Subscribers,
			m.SubscribersDropped,
			m.PlaybacksActive,
			m.Playbacks,
			m.RecordedSamples,
		)
	}

	return m
}

func (m *Metrics) CommandAccepted(cmd string) {
	if m == nil {
		return
	}
	m.Commands.WithLabelValues(cmd, "accepted").Inc()
}

func (m *Metrics) CommandRejected(cmd, reason string) {
	if m == nil {
		return
	}
	m.Commands.WithLabelValues(cmd, reason).Inc()
}

func (m *Metrics) SerialLine(kind string) {
	if m == nil {
		return
	}
	m.SerialLines.WithLabelValues(kind).Inc()
}

func (m *Metrics) SerialWrite(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.SerialWriteErrors.Inc()
		return
	}
	m.SerialWrites.Inc()
}

func (m *Metrics) SetSubscribers(n int) {
	if m == nil {
		return
	}
	m.Subscribers.Set(float64(n))
}

func (m *Metrics) SubscriberDropped() {
	if m == nil {
		return
	}
	m.SubscribersDropped.Inc()
}

// PlaybackStarted counts a new task and returns a func to call when it finishes
func (m *Metrics) PlaybackStarted(kind string) func() {
	if m == nil {
		return func() {}
	}
	m.Playbacks.WithLabelValues(kind).Inc()
	m.PlaybacksActive.Inc()
	return m.PlaybacksActive.Dec
}

func (m *Metrics) SampleRecorded(axis string) {
	if m == nil {
		return
	}
	m.RecordedSamples.WithLabelValues(axis).Inc()
}
