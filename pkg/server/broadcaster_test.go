package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lipish/openrunner/pkg/run"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBroadcaster_BroadcastAssignsTypeAndSequence(t *testing.T) {
	serverConn, clientConn, cleanup := websocketConnPair(t)
	defer cleanup()

	registry := NewClientRegistry()
	registry.Add(&Client{ID: "client-1", Conn: serverConn})

	broadcaster := NewEventBroadcaster(registry, zerolog.Nop())
	broadcaster.Broadcast("server.shutdown", map[string]interface{}{"ok": true})
	broadcaster.Broadcast("server.shutdown", map[string]interface{}{"ok": true})

	first := readEvent(t, clientConn)
	second := readEvent(t, clientConn)

	assert.Equal(t, "event", first.Type)
	assert.Equal(t, "server.shutdown", first.Event)
	assert.NotZero(t, first.Seq)
	assert.NotZero(t, first.Timestamp)
	assert.Greater(t, second.Seq, first.Seq)
}

func TestEventBroadcaster_ObserveRun(t *testing.T) {
	serverConn, clientConn, cleanup := websocketConnPair(t)
	defer cleanup()

	registry := NewClientRegistry()
	registry.Add(&Client{ID: "client-1", Conn: serverConn})

	broadcaster := NewEventBroadcaster(registry, zerolog.Nop())
	broadcaster.ObserveRun(run.Run{
		ID:        "run_abc",
		UserID:    "u1",
		AgentType: "mock",
		Status:    run.StatusFailed,
		Error:     "boom",
	})

	msg := readEvent(t, clientConn)
	assert.Equal(t, EventRunStatus, msg.Event)
	assert.Equal(t, "run_abc", msg.RunID)

	data, ok := msg.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "run_abc", data["id"])
	assert.Equal(t, "u1", data["user_id"])
	assert.Equal(t, "failed", data["status"])
	assert.Equal(t, "boom", data["error"])
}

func TestEventBroadcaster_NoClients(t *testing.T) {
	broadcaster := NewEventBroadcaster(NewClientRegistry(), zerolog.Nop())
	assert.NotPanics(t, func() {
		broadcaster.ObserveRun(run.Run{ID: "run_abc", Status: run.StatusRunning})
	})
}

func TestClientRegistry(t *testing.T) {
	registry := NewClientRegistry()
	old := time.Now().Add(-10 * time.Minute)
	registry.Add(&Client{ID: "a", ConnectedAt: old, LastActivity: old, IPAddress: "10.0.0.1"})
	registry.Add(&Client{ID: "b", ConnectedAt: old, LastActivity: old})

	assert.Equal(t, 2, registry.Count())
	_, ok := registry.Get("a")
	assert.True(t, ok)

	registry.UpdateActivity("a")
	registry.UpdateActivity("missing")

	idle := map[string]bool{}
	for _, info := range registry.GetConnectedClients() {
		idle[info.ID] = info.Idle
	}
	assert.Equal(t, map[string]bool{"a": false, "b": true}, idle)

	registry.Remove("a")
	assert.Equal(t, 1, registry.Count())
	assert.Len(t, registry.GetAll(), 1)
}

func readEvent(t *testing.T, conn *websocket.Conn) EventMessage {
	t.Helper()

	var msg EventMessage
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func websocketConnPair(t *testing.T) (*websocket.Conn, *websocket.Conn, func()) {
	t.Helper()

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	serverConnCh := make(chan *websocket.Conn, 1)
	errCh := make(chan error, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			errCh <- err
			return
		}
		serverConnCh <- conn
	}))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	var serverConn *websocket.Conn
	select {
	case serverConn = <-serverConnCh:
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server websocket connection")
	}

	cleanup := func() {
		_ = clientConn.Close()
		_ = serverConn.Close()
		srv.Close()
	}
	return serverConn, clientConn, cleanup
}
