package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/dev/ttyS4", cfg.Serial.Port)
	assert.Equal(t, 38400, cfg.Serial.BaudRate)
	assert.Equal(t, ":6000", cfg.Command.Addr)
	assert.Equal(t, ":6001", cfg.State.Addr)
	assert.Equal(t, 5*time.Second, cfg.Units.RevolutionDelay())
	assert.Equal(t, int64(3200), cfg.Units.Converter().RevolutionsToSteps(1))
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pbdgate.yaml")
	err := os.WriteFile(path, []byte(`
log_level: debug
serial:
  port: /dev/ttyUSB0
  baud_rate: 115200
state:
  write_timeout: 500ms
units:
  seconds_per_rev: 2.5
mqtt:
  broker: tcp://localhost:1883
  qos: 1
redis:
  addr: localhost:6379
`), 0o600)
	require.NoError(t, err)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "/dev/ttyUSB0", cfg.Serial.Port)
	assert.Equal(t, 115200, cfg.Serial.BaudRate)
	assert.Equal(t, 500*time.Millisecond, cfg.State.WriteTimeout)
	assert.Equal(t, 2500*time.Millisecond, cfg.Units.RevolutionDelay())
	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.Broker)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)

	// untouched fields keep their defaults
	assert.Equal(t, ":6000", cfg.Command.Addr)
	assert.Equal(t, 65536.0, cfg.Units.CountsPerRev)
	assert.Equal(t, "pbdgate/state", cfg.MQTT.Topic)
	assert.Equal(t, "pbdgate:state", cfg.Redis.Channel)
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "error reading config file")

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("serial: [\n"), 0o600))
	_, err = Load(path)
	assert.ErrorContains(t, err, "error parsing config file")
}

func env(vars map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(env(map[string]string{
		"PBDGATE_SERIAL_PORT":         "none",
		"PBDGATE_SERIAL_BAUD_RATE":    "9600",
		"PBDGATE_COMMAND_ADDR":        "127.0.0.1:7000",
		"PBDGATE_HTTP_ADDR":           "",
		"PBDGATE_STEPS_PER_REV":       "1600",
		"PBDGATE_STATE_WRITE_TIMEOUT": "1s",
		"PBDGATE_REDIS_ADDR":          "redis:6379",
		"OTHER_VAR":                   "ignored",
	}))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "none", cfg.Serial.Port)
	assert.Equal(t, 9600, cfg.Serial.BaudRate)
	assert.Equal(t, "127.0.0.1:7000", cfg.Command.Addr)
	assert.Empty(t, cfg.HTTP.Addr)
	assert.Equal(t, 1600.0, cfg.Units.StepsPerRev)
	assert.Equal(t, time.Second, cfg.State.WriteTimeout)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, ":6001", cfg.State.Addr)
}

func TestApplyEnvErrors(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
	}{
		{"BadInt", map[string]string{"PBDGATE_SERIAL_BAUD_RATE": "fast"}},
		{"BadFloat", map[string]string{"PBDGATE_COUNTS_PER_REV": "many"}},
		{"BadDuration", map[string]string{"PBDGATE_STATE_WRITE_TIMEOUT": "soon"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			assert.ErrorContains(t, cfg.ApplyEnv(env(tt.vars)), "error parsing PBDGATE_")
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		modify   func(*Config)
		expected string
	}{
		{"MissingPort", func(c *Config) { c.Serial.Port = "" }, "serial.port is required"},
		{"BadBaudRate", func(c *Config) { c.Serial.BaudRate = 0 }, "serial.baud_rate must be positive"},
		{"MissingCommandAddr", func(c *Config) { c.Command.Addr = "" }, "command.addr is required"},
		{"MissingStateAddr", func(c *Config) { c.State.Addr = "" }, "state.addr is required"},
		{"BadQueueSize", func(c *Config) { c.State.QueueSize = 0 }, "state.queue_size must be positive"},
		{"BadCounts", func(c *Config) { c.Units.CountsPerRev = 0 }, "units.counts_per_rev must be positive"},
		{"BadSteps", func(c *Config) { c.Units.StepsPerRev = -1 }, "units.steps_per_rev must be positive"},
		{"BadSecondsPerRev", func(c *Config) { c.Units.SecondsPerRev = -1 }, "units.seconds_per_rev must not be negative"},
		{"MQTTWithoutTopic", func(c *Config) { c.MQTT.Broker = "tcp://b:1883"; c.MQTT.Topic = "" }, "mqtt.topic is required"},
		{"BadQoS", func(c *Config) { c.MQTT.QoS = 3 }, "mqtt.qos must be 0, 1 or 2"},
		{"RedisWithoutChannel", func(c *Config) { c.Redis.Addr = "r:6379"; c.Redis.Channel = "" }, "redis.channel is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(&cfg)

			err := cfg.Validate()
			require.ErrorIs(t, err, ErrInvalidConfig)
			assert.ErrorContains(t, err, tt.expected)
		})
	}
}

func TestValidateNoneSkipsBaudRate(t *testing.T) {
	cfg := Default()
	cfg.Serial.Port = "none"
	cfg.Serial.BaudRate = 0
	assert.NoError(t, cfg.Validate())
}
