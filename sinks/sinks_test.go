package sinks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinmclean/pbdgate/broadcast"
)

type token struct {
	err     error
	timeout bool
}

var _ mqtt.Token = token{}

func (t token) Wait() bool                     { return !t.timeout }
func (t token) WaitTimeout(time.Duration) bool { return !t.timeout }
func (t token) Error() error                   { return t.err }

func (t token) Done() <-chan struct{} {
	ch := make(chan struct{})
	if !t.timeout {
		close(ch)
	}
	return ch
}

type message struct {
	topic   string
	qos     byte
	payload string
}

type fakeMQTT struct {
	mtx          sync.Mutex
	messages     []message
	token        token
	offline      bool
	disconnected int
}

func (f *fakeMQTT) IsConnectionOpen() bool {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return !f.offline
}

func (f *fakeMQTT) setOffline(offline bool) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.offline = offline
}

func (f *fakeMQTT) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.messages = append(f.messages, message{topic, qos, string(payload.([]byte))})
	return f.token
}

func (f *fakeMQTT) Disconnect(uint) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.disconnected++
}

func (f *fakeMQTT) Messages() []message {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return append([]message(nil), f.messages...)
}

func TestMQTTSend(t *testing.T) {
	client := &fakeMQTT{}
	sink := NewMQTT(client, MQTTConfig{Topic: "rig/state", QoS: 1}, nil)

	require.NoError(t, sink.Send([]byte(`{"raw":"hello"}`+"\n")))
	assert.Equal(t, []message{{"rig/state", 1, `{"raw":"hello"}`}}, client.Messages())
}

func TestMQTTPublishErrorsKeepSink(t *testing.T) {
	tests := []struct {
		name  string
		token token
	}{
		{"Error", token{err: errors.New("not connected")}},
		{"Timeout", token{timeout: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeMQTT{token: tt.token}
			sink := NewMQTT(client, MQTTConfig{Topic: "t", Timeout: time.Millisecond}, nil)
			assert.NoError(t, sink.Send([]byte("x\n")))
		})
	}
}

func TestMQTTBrokerOutageDropsLinesNotSink(t *testing.T) {
	client := &fakeMQTT{offline: true, token: token{timeout: true}}
	sink := NewMQTT(client, MQTTConfig{Topic: "t", Timeout: time.Hour}, nil)

	b := broadcast.New()
	defer b.Close()
	require.True(t, b.Subscribe(sink))

	for range 200 {
		b.Publish([]byte(`{"type":"pbd_sample","axis":1}`))
	}
	assert.Eventually(t, func() bool {
		return sink.Dropped() == 200
	}, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, client.Messages())
	assert.Equal(t, 1, b.Len())

	client.setOffline(false)
	client.mtx.Lock()
	client.token = token{}
	client.mtx.Unlock()

	b.Publish([]byte(`{"done":"move"}`))
	assert.Eventually(t, func() bool {
		return len(client.Messages()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, `{"done":"move"}`, client.Messages()[0].payload)
	assert.Zero(t, sink.Dropped())
}

func TestMQTTClose(t *testing.T) {
	client := &fakeMQTT{}
	sink := NewMQTT(client, MQTTConfig{Topic: "t"}, nil)

	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())
	assert.Equal(t, 1, client.disconnected)

	assert.ErrorIs(t, sink.Send([]byte("x\n")), ErrSinkClosed)
	assert.Empty(t, client.Messages())
}

func TestMQTTWithBroadcaster(t *testing.T) {
	client := &fakeMQTT{}
	sink := NewMQTT(client, MQTTConfig{Topic: "t"}, nil)

	b := broadcast.New()
	defer b.Close()
	require.True(t, b.Subscribe(sink))

	b.Publish([]byte(`{"ack":"ok"}`))
	b.Publish([]byte(`{"done":"move"}`))

	assert.Eventually(t, func() bool {
		return len(client.Messages()) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, `{"done":"move"}`, client.Messages()[1].payload)
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	return mr, redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestRedisSend(t *testing.T) {
	mr, client := newRedis(t)
	ctx := context.Background()

	listener := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer listener.Close()
	sub := listener.Subscribe(ctx, "pbdgate:state")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	sink := NewRedis(client, RedisConfig{Channel: "pbdgate:state"}, nil)
	defer sink.Close()

	b := broadcast.New()
	defer b.Close()
	require.True(t, b.Subscribe(sink))
	b.Publish([]byte(`{"type":"pbd_sample","axis":1}`))

	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "pbdgate:state", msg.Channel)
	assert.Equal(t, `{"type":"pbd_sample","axis":1}`, msg.Payload)
}

func TestRedisServerDownKeepsSink(t *testing.T) {
	mr, client := newRedis(t)
	sink := NewRedis(client, RedisConfig{Channel: "c", Timeout: 100 * time.Millisecond}, nil)
	defer sink.Close()

	mr.Close()
	assert.NoError(t, sink.Send([]byte("x\n")))
}

func TestRedisClose(t *testing.T) {
	_, client := newRedis(t)
	sink := NewRedis(client, RedisConfig{Channel: "c"}, nil)

	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())
	assert.ErrorIs(t, sink.Send([]byte("x\n")), ErrSinkClosed)
}
