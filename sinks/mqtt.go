// Package sinks mirrors the broadcast state stream to message brokers. Each sink is a
// broadcast.Subscriber, so it is fed exactly like a state port connection.
package sinks

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/calvinmclean/pbdgate/broadcast"
)

var (
	ErrSinkClosed     = errors.New("sink is closed")
	ErrPublishTimeout = errors.New("timed out waiting for publish")
)

const (
	DefaultPublishTimeout = 2 * time.Second
	disconnectQuiesceMS   = 250
)

// MQTTClient is the part of mqtt.Client used to publish
type MQTTClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnectionOpen() bool
	Disconnect(quiesce uint)
}

// MQTTConfig configures the broker connection
type MQTTConfig struct {
	Broker   string        `yaml:"broker"`
	ClientID string        `yaml:"client_id"`
	Topic    string        `yaml:"topic"`
	QoS      byte          `yaml:"qos"`
	Timeout  time.Duration `yaml:"timeout"`
}

// ConnectMQTT connects to the broker with automatic reconnection
func ConnectMQTT(cfg MQTTConfig, logger *slog.Logger) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		logger.Info("connected to MQTT broker", "broker", cfg.Broker)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", "broker", cfg.Broker, "error", err)
	}

	client := mqtt.NewClient(opts)

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		// ConnectRetry keeps trying in the background
		logger.Warn("MQTT broker not reachable yet, retrying in background", "broker", cfg.Broker)
		return client, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("error connecting to MQTT broker %q: %w", cfg.Broker, err)
	}

	return client, nil
}

// MQTT publishes every broadcast line as one message on a topic. A failed publish is logged and
// does not unsubscribe the sink. While the broker connection is down lines are dropped without
// waiting, so an outage never backs up the broadcast queue
type MQTT struct {
	client  MQTTClient
	topic   string
	qos     byte
	timeout time.Duration
	logger  *slog.Logger
	closed  atomic.Bool
	offline atomic.Bool
	dropped atomic.Uint64
}

var _ broadcast.Subscriber = &MQTT{}

func NewMQTT(client MQTTClient, cfg MQTTConfig, logger *slog.Logger) *MQTT {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &MQTT{
		client:  client,
		topic:   cfg.Topic,
		qos:     cfg.QoS,
		timeout: timeout,
		logger:  logger.With("sink", "mqtt", "topic", cfg.Topic),
	}
}

func (m *MQTT) Send(line []byte) error {
	if m.closed.Load() {
		return ErrSinkClosed
	}

	if !m.client.IsConnectionOpen() {
		m.dropped.Add(1)
		if !m.offline.Swap(true) {
			m.logger.Warn("MQTT broker offline, dropping state lines")
		}
		return nil
	}
	if m.offline.Swap(false) {
		m.logger.Info("MQTT broker back online, resuming state lines", "dropped", m.dropped.Swap(0))
	}

	token := m.client.Publish(m.topic, m.qos, false, bytes.TrimRight(line, "\n"))
	if !token.WaitTimeout(m.timeout) {
		m.logger.Warn("error publishing state line", "error", ErrPublishTimeout)
		return nil
	}
	if err := token.Error(); err != nil {
		m.logger.Warn("error publishing state line", "error", err)
	}
	return nil
}

// Dropped is the number of lines dropped during the current broker outage
func (m *MQTT) Dropped() uint64 {
	return m.dropped.Load()
}

func (m *MQTT) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	m.client.Disconnect(disconnectQuiesceMS)
	return nil
}
