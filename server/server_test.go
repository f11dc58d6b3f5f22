package server

import (
	"bufio"
	"context"
	"net"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinmclean/pbdgate/broadcast"
)

type routed struct {
	mtx   sync.Mutex
	lines []string
}

func (r *routed) Route(line string) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.lines = append(r.lines, line)
	return nil
}

func (r *routed) Lines() []string {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return slices.Clone(r.lines)
}

type runner interface {
	Run(context.Context) error
	Ready() <-chan struct{}
	Addr() net.Addr
}

func start(t *testing.T, s runner) string {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		errs <- s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errs:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("server did not stop")
		}
	})

	select {
	case <-s.Ready():
	case err := <-errs:
		t.Fatalf("server failed to start: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("server not ready")
	}
	return s.Addr().String()
}

func TestCommandServer(t *testing.T) {
	router := &routed{}
	addr := start(t, NewCommandServer("127.0.0.1:0", router, nil))

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("{\"cmd\":\"bomba\",\"state\":\"on\"}\nnot json\n{\"cmd\":\"pbd\",\"action\":\"enter\"}\n"))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return len(router.Lines()) == 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{
		`{"cmd":"bomba","state":"on"}`,
		"not json",
		`{"cmd":"pbd","action":"enter"}`,
	}, router.Lines())
}

func TestCommandServerManyClients(t *testing.T) {
	router := &routed{}
	addr := start(t, NewCommandServer("127.0.0.1:0", router, nil))

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, err := net.Dial("tcp", addr)
			if !assert.NoError(t, err) {
				return
			}
			defer conn.Close()
			for range 10 {
				_, err = conn.Write([]byte("line\n"))
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	assert.Eventually(t, func() bool {
		return len(router.Lines()) == 50
	}, 2*time.Second, 5*time.Millisecond)
}

func TestCommandServerOversizedLineKeepsConnection(t *testing.T) {
	router := &routed{}
	addr := start(t, NewCommandServer("127.0.0.1:0", router, nil))

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	long := `{"cmd":"bomba","state":"` + strings.Repeat("x", 70*1024) + "\"}\n"
	_, err = conn.Write([]byte(long))
	require.NoError(t, err)

	_, err = conn.Write([]byte(`{"cmd":"bomba","state":"on"}` + "\n"))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return len(router.Lines()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{`{"cmd":"bomba","state":"on"}`}, router.Lines())
}

func TestCommandServerBindError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	s := NewCommandServer(ln.Addr().String(), &routed{}, nil)
	err = s.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error listening for command connections")
}

func TestStateServer(t *testing.T) {
	b := broadcast.New()
	defer b.Close()

	addr := start(t, NewStateServer("127.0.0.1:0", b, time.Second, nil))

	var readers []*bufio.Reader
	for range 2 {
		conn, err := net.Dial("tcp", addr)
		require.NoError(t, err)
		defer conn.Close()
		readers = append(readers, bufio.NewReader(conn))
	}

	assert.Eventually(t, func() bool {
		return b.Len() == 2
	}, time.Second, 5*time.Millisecond)

	b.Publish([]byte(`{"raw":"hello"}`))

	for _, r := range readers {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		assert.Equal(t, "{\"raw\":\"hello\"}\n", line)
	}
}

func TestStateServerDisconnectedClientRemoved(t *testing.T) {
	b := broadcast.New()
	defer b.Close()

	addr := start(t, NewStateServer("127.0.0.1:0", b, 100*time.Millisecond, nil))

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		return b.Len() == 1
	}, time.Second, 5*time.Millisecond)
	conn.Close()

	assert.Eventually(t, func() bool {
		b.Publish([]byte("ping"))
		return b.Len() == 0
	}, 2*time.Second, 20*time.Millisecond)
}
