package wsclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// echoServer echoes every frame. When dropFirst is set the first connection
// is closed right after the upgrade.
func echoServer(t *testing.T, dropFirst bool) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var connections atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		if connections.Add(1) == 1 && dropFirst {
			return
		}
		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(kind, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &connections
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestSendBeforeConnect(t *testing.T) {
	c := New(Options{URL: "ws://127.0.0.1:1/never"})
	defer c.Close()

	assert.ErrorIs(t, c.Send(map[string]string{"type": "ping"}), ErrNotConnected)
	assert.Equal(t, StateDisconnected, c.State())
}

func TestConnectSendAndReceive(t *testing.T) {
	srv, _ := echoServer(t, false)
	received := make(chan string, 1)

	c := New(Options{
		URL:       wsURL(srv),
		OnMessage: func(data []byte) { received <- string(data) },
	})
	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, StateConnected, c.State())

	require.NoError(t, c.SendText([]byte("hello")))
	select {
	case got := <-received:
		assert.Equal(t, "hello", got)
	case <-time.After(2 * time.Second):
		t.Fatal("echo not received")
	}

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Send("late"), ErrClosed)
}

func TestReconnectAfterDrop(t *testing.T) {
	srv, connections := echoServer(t, true)
	var transitions atomic.Int32

	c := New(Options{
		URL:            wsURL(srv),
		ReconnectDelay: 20 * time.Millisecond,
		OnStateChange: func(state State) {
			if state == StateConnected {
				transitions.Add(1)
			}
		},
	})
	defer c.Close()

	require.NoError(t, c.Connect(context.Background()))

	assert.Eventually(t, func() bool {
		return connections.Load() >= 2 && c.State() == StateConnected
	}, 2*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, transitions.Load(), int32(2))
}

func TestFailedDialSchedulesSingleReconnect(t *testing.T) {
	c := New(Options{URL: "ws://127.0.0.1:1/never", ReconnectDelay: time.Hour})

	err := c.Connect(context.Background())
	require.Error(t, err)

	c.mu.Lock()
	pending := c.reconnectPending
	c.scheduleReconnectLocked()
	timer := c.reconnectTimer
	c.mu.Unlock()

	assert.True(t, pending)
	assert.NotNil(t, timer)
	require.NoError(t, c.Close())

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.False(t, c.reconnectPending)
}
