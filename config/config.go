// Package config loads the gateway configuration from a YAML file and PBDGATE_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/calvinmclean/pbdgate/bridge"
	"github.com/calvinmclean/pbdgate/sinks"
	"github.com/calvinmclean/pbdgate/units"
)

const envPrefix = "PBDGATE_"

var ErrInvalidConfig = errors.New("invalid config")

// Config is the complete gateway configuration
type Config struct {
	LogLevel string        `yaml:"log_level"`
	Serial   SerialConfig  `yaml:"serial"`
	Command  CommandConfig `yaml:"command"`
	State    StateConfig   `yaml:"state"`
	HTTP     HTTPConfig    `yaml:"http"`
	Units    UnitsConfig   `yaml:"units"`

	MQTT  sinks.MQTTConfig  `yaml:"mqtt"`
	Redis sinks.RedisConfig `yaml:"redis"`
}

// SerialConfig selects the controller port. Port "none" runs without hardware
type SerialConfig struct {
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`
}

type CommandConfig struct {
	Addr string `yaml:"addr"`
}

type StateConfig struct {
	Addr         string        `yaml:"addr"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	QueueSize    int           `yaml:"queue_size"`
}

// HTTPConfig is the admin API. An empty Addr disables it
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type UnitsConfig struct {
	CountsPerRev  float64 `yaml:"counts_per_rev"`
	StepsPerRev   float64 `yaml:"steps_per_rev"`
	SecondsPerRev float64 `yaml:"seconds_per_rev"`
}

// Converter returns the unit converter for these constants
func (u UnitsConfig) Converter() units.Converter {
	return units.New(u.CountsPerRev, u.StepsPerRev)
}

// RevolutionDelay is the settling time of one revolution
func (u UnitsConfig) RevolutionDelay() time.Duration {
	return time.Duration(u.SecondsPerRev * float64(time.Second))
}

// Default matches the rig the gateway was built for
func Default() Config {
	return Config{
		LogLevel: "info",
		Serial: SerialConfig{
			Port:     "/dev/ttyS4",
			BaudRate: bridge.DefaultBaudRate,
		},
		Command: CommandConfig{Addr: ":6000"},
		State: StateConfig{
			Addr:         ":6001",
			WriteTimeout: 2 * time.Second,
			QueueSize:    256,
		},
		HTTP: HTTPConfig{Addr: ":8080"},
		Units: UnitsConfig{
			CountsPerRev:  units.DefaultCountsPerRev,
			StepsPerRev:   units.DefaultStepsPerRev,
			SecondsPerRev: 5,
		},
		MQTT: sinks.MQTTConfig{
			ClientID: "pbdgate",
			Topic:    "pbdgate/state",
		},
		Redis: sinks.RedisConfig{
			Channel: "pbdgate:state",
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("error reading config file: %w", err)
	}

	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("error parsing config file %q: %w", path, err)
	}

	return cfg, nil
}

// ApplyEnv overrides fields from PBDGATE_* variables using lookup, normally os.LookupEnv
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"LOG_LEVEL":      &c.LogLevel,
		"SERIAL_PORT":    &c.Serial.Port,
		"COMMAND_ADDR":   &c.Command.Addr,
		"STATE_ADDR":     &c.State.Addr,
		"HTTP_ADDR":      &c.HTTP.Addr,
		"MQTT_BROKER":    &c.MQTT.Broker,
		"MQTT_TOPIC":     &c.MQTT.Topic,
		"REDIS_ADDR":     &c.Redis.Addr,
		"REDIS_PASSWORD": &c.Redis.Password,
		"REDIS_CHANNEL":  &c.Redis.Channel,
	}
	for key, dst := range strs {
		if v, ok := lookup(envPrefix + key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"SERIAL_BAUD_RATE": &c.Serial.BaudRate,
		"STATE_QUEUE_SIZE": &c.State.QueueSize,
	}
	for key, dst := range ints {
		v, ok := lookup(envPrefix + key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("error parsing %s%s: %w", envPrefix, key, err)
		}
		*dst = n
	}

	floats := map[string]*float64{
		"COUNTS_PER_REV":  &c.Units.CountsPerRev,
		"STEPS_PER_REV":   &c.Units.StepsPerRev,
		"SECONDS_PER_REV": &c.Units.SecondsPerRev,
	}
	for key, dst := range floats {
		v, ok := lookup(envPrefix + key)
		if !ok {
			continue
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("error parsing %s%s: %w", envPrefix, key, err)
		}
		*dst = f
	}

	if v, ok := lookup(envPrefix + "STATE_WRITE_TIMEOUT"); ok {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("error parsing %sSTATE_WRITE_TIMEOUT: %w", envPrefix, err)
		}
		c.State.WriteTimeout = d
	}

	return nil
}

// Validate checks everything that would otherwise fail after startup
func (c Config) Validate() error {
	var errs []error

	if c.Serial.Port == "" {
		errs = append(errs, errors.New("serial.port is required, use \"none\" to run without a controller"))
	}
	if c.Serial.Port != bridge.SerialPortNone && c.Serial.BaudRate <= 0 {
		errs = append(errs, fmt.Errorf("serial.baud_rate must be positive, got %d", c.Serial.BaudRate))
	}
	if c.Command.Addr == "" {
		errs = append(errs, errors.New("command.addr is required"))
	}
	if c.State.Addr == "" {
		errs = append(errs, errors.New("state.addr is required"))
	}
	if c.State.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("state.queue_size must be positive, got %d", c.State.QueueSize))
	}
	if c.Units.CountsPerRev <= 0 {
		errs = append(errs, fmt.Errorf("units.counts_per_rev must be positive, got %v", c.Units.CountsPerRev))
	}
	if c.Units.StepsPerRev <= 0 {
		errs = append(errs, fmt.Errorf("units.steps_per_rev must be positive, got %v", c.Units.StepsPerRev))
	}
	if c.Units.SecondsPerRev < 0 {
		errs = append(errs, fmt.Errorf("units.seconds_per_rev must not be negative, got %v", c.Units.SecondsPerRev))
	}
	if c.MQTT.Broker != "" && c.MQTT.Topic == "" {
		errs = append(errs, errors.New("mqtt.topic is required when mqtt.broker is set"))
	}
	if c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS))
	}
	if c.Redis.Addr != "" && c.Redis.Channel == "" {
		errs = append(errs, errors.New("redis.channel is required when redis.addr is set"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}
