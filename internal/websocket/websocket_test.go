package websocket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dmsdk/internal/config"
	"dmsdk/internal/infrastructure"
	"dmsdk/internal/updater"
	"dmsdk/pkg/contracts/events"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func wsConfig() config.WebSocketConfig {
	return config.WebSocketConfig{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		PingPeriod:      time.Second,
		PongWait:        2 * time.Second,
	}
}

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(quietLogger(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	return hub
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHandler_ConnectSnapshotAndBroadcast(t *testing.T) {
	hub := startHub(t)
	snapshot := func(ctx context.Context) []events.WebSocketMessage {
		return []events.WebSocketMessage{{
			BaseMessage: events.BaseMessage{Type: events.MessageTypeUpdateState},
			Data:        events.UpdateStateEvent{Sequence: 4, Status: "idle"},
		}}
	}
	server := httptest.NewServer(NewHandler(hub, wsConfig(), snapshot, quietLogger()))
	defer server.Close()

	conn := dial(t, server)

	connect := readMessage(t, conn)
	assert.Equal(t, string(events.MessageTypeConnect), connect["type"])
	assert.NotEmpty(t, connect["id"])

	first := readMessage(t, conn)
	assert.Equal(t, string(events.MessageTypeUpdateState), first["type"])
	assert.Equal(t, float64(4), first["data"].(map[string]any)["sequence"])

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	ctx := infrastructure.WithTraceID(context.Background(), "trace-9")
	state := updater.State{
		Sequence:  5,
		Status:    updater.StatusReadyToInstall,
		RawStatus: "ready_to_install",
		Detail:    map[string]any{"version": "2.0.0"},
	}
	require.NoError(t, hub.PublishUpdateState(ctx, state))

	msg := readMessage(t, conn)
	assert.Equal(t, "update:state", msg["type"])
	assert.Equal(t, "trace-9", msg["trace_id"])
	data := msg["data"].(map[string]any)
	assert.Equal(t, float64(5), data["sequence"])
	assert.Equal(t, "ready_to_install", data["status"])
	assert.Equal(t, true, data["terminal"])
	assert.Equal(t, "2.0.0", data["detail"].(map[string]any)["version"])

	require.Eventually(t, func() bool { return hub.MessagesSent() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestHandler_ClientDisconnectUnregisters(t *testing.T) {
	hub := startHub(t)
	server := httptest.NewServer(NewHandler(hub, wsConfig(), nil, quietLogger()))
	defer server.Close()

	conn := dial(t, server)
	readMessage(t, conn)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestHandler_RejectsForeignOrigin(t *testing.T) {
	hub := startHub(t)
	server := httptest.NewServer(NewHandler(hub, wsConfig(), nil, quietLogger()))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestLoopbackOrigin(t *testing.T) {
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://localhost:3000", true},
		{"http://127.0.0.1:8765", true},
		{"http://[::1]:8765", true},
		{"http://status.local:8765", true},
		{"https://evil.example", false},
		{"://bad", false},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "http://status.local:8765/ws/update", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, loopbackOrigin(r))
		})
	}
}

func TestHub_PublishAfterStop(t *testing.T) {
	hub := NewHub(quietLogger(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, hub.Run(ctx))

	assert.ErrorIs(t, hub.Publish(context.Background(), events.MessageTypeError, events.ErrorEvent{Code: "x"}), ErrHubStopped)

	client := NewClient(hub, newFakeConn(), Options{}, quietLogger())
	assert.False(t, hub.Register(client))
	assert.NotPanics(t, func() { hub.Unregister(client) })
}

func TestHub_DropsSlowClient(t *testing.T) {
	hub := startHub(t)
	client := NewClient(hub, newFakeConn(), Options{}, quietLogger())
	require.True(t, hub.Register(client))

	ctx := context.Background()
	for i := 0; i <= sendBuffer; i++ {
		require.NoError(t, hub.Publish(ctx, events.MessageTypeLicenseStatus, i))
	}
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 5*time.Millisecond)

	// The hub closed the channel after the buffered messages.
	n := 0
	for range client.send {
		n++
	}
	assert.Equal(t, sendBuffer, n)
}

func TestClient_WritePumpClosesOnHubRemoval(t *testing.T) {
	hub := startHub(t)
	conn := newFakeConn()
	client := NewClient(hub, conn, Options{PingPeriod: time.Hour, PongWait: 2 * time.Hour}, quietLogger())
	require.True(t, hub.Register(client))

	done := make(chan struct{})
	go func() {
		client.WritePump()
		close(done)
	}()

	require.NoError(t, hub.Publish(context.Background(), events.MessageTypeError, events.ErrorEvent{Code: "c", Message: "m"}))
	require.Eventually(t, func() bool { return hub.MessagesSent() == 1 }, 2*time.Second, 5*time.Millisecond)
	hub.Unregister(client)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("write pump did not stop")
	}

	written := conn.written()
	require.Len(t, written, 2)
	assert.Equal(t, websocket.TextMessage, written[0].kind)
	assert.Contains(t, string(written[0].data), `"code":"c"`)
	assert.Equal(t, websocket.CloseMessage, written[1].kind)
	assert.True(t, conn.isClosed())
}

func TestClient_WritePumpPings(t *testing.T) {
	hub := NewHub(quietLogger(), nil)
	conn := newFakeConn()
	client := NewClient(hub, conn, Options{PingPeriod: 10 * time.Millisecond, PongWait: time.Second}, quietLogger())

	go client.WritePump()
	require.Eventually(t, func() bool {
		for _, m := range conn.written() {
			if m.kind == websocket.PingMessage {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
	close(client.send)
}

func TestClient_WritePumpStopsOnWriteError(t *testing.T) {
	hub := NewHub(quietLogger(), nil)
	conn := newFakeConn()
	conn.writeErr = errors.New("broken pipe")
	client := NewClient(hub, conn, Options{}, quietLogger())
	require.True(t, client.queue([]byte(`{}`)))

	done := make(chan struct{})
	go func() {
		client.WritePump()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("write pump did not stop")
	}
	assert.True(t, conn.isClosed())
}

func TestOptions(t *testing.T) {
	tests := []struct {
		name string
		in   Options
		want Options
	}{
		{"defaults", Options{}, Options{PingPeriod: 54 * time.Second, PongWait: 60 * time.Second}},
		{"kept", Options{PingPeriod: time.Second, PongWait: 2 * time.Second}, Options{PingPeriod: time.Second, PongWait: 2 * time.Second}},
		{"ping not below pong", Options{PingPeriod: 3 * time.Second, PongWait: 2 * time.Second}, Options{PingPeriod: 1800 * time.Millisecond, PongWait: 2 * time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.withDefaults())
		})
	}
	assert.Equal(t, Options{PingPeriod: time.Second, PongWait: 2 * time.Second}, OptionsFrom(wsConfig()))
}

func TestUpdateStateEvent(t *testing.T) {
	ev := UpdateStateEvent(updater.State{Sequence: 3, Status: updater.StatusDownloading, RawStatus: "downloading"})
	assert.Equal(t, events.UpdateStateEvent{Sequence: 3, Status: "downloading"}, ev)
}

type fakeMessage struct {
	kind int
	data []byte
}

type fakeConn struct {
	mu       sync.Mutex
	messages []fakeMessage
	closed   bool
	writeErr error
	readErr  chan error
}

func newFakeConn() *fakeConn {
	return &fakeConn{readErr: make(chan error)}
}

func (c *fakeConn) WriteMessage(kind int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.messages = append(c.messages, fakeMessage{kind: kind, data: append([]byte(nil), data...)})
	return nil
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	return 0, nil, <-c.readErr
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) SetReadDeadline(time.Time) error   { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error  { return nil }
func (c *fakeConn) SetReadLimit(int64)                {}
func (c *fakeConn) SetPongHandler(func(string) error) {}
func (c *fakeConn) RemoteAddr() string                { return "127.0.0.1:50000" }

func (c *fakeConn) written() []fakeMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]fakeMessage(nil), c.messages...)
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
