package sinks

import (
	"bytes"
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/calvinmclean/pbdgate/broadcast"
)

// RedisConfig configures the pub/sub mirror
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Channel  string        `yaml:"channel"`
	Timeout  time.Duration `yaml:"timeout"`
}

// NewRedisClient creates the client. Connection is lazy, failures show up on publish
func NewRedisClient(cfg RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// Redis PUBLISHes every broadcast line on a channel
type Redis struct {
	client  redis.UniversalClient
	channel string
	timeout time.Duration
	logger  *slog.Logger
	closed  atomic.Bool
}

var _ broadcast.Subscriber = &Redis{}

func NewRedis(client redis.UniversalClient, cfg RedisConfig, logger *slog.Logger) *Redis {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Redis{
		client:  client,
		channel: cfg.Channel,
		timeout: timeout,
		logger:  logger.With("sink", "redis", "channel", cfg.Channel),
	}
}

func (r *Redis) Send(line []byte) error {
	if r.closed.Load() {
		return ErrSinkClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	err := r.client.Publish(ctx, r.channel, string(bytes.TrimRight(line, "\n"))).Err()
	if err != nil {
		r.logger.Warn("error publishing state line", "error", err)
	}
	return nil
}

func (r *Redis) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	return r.client.Close()
}
