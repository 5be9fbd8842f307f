package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teachhelper-console/internal/domain/eventbus"
	"teachhelper-console/internal/domain/task"
)

func startRelay(t *testing.T) (*Hub, string) {
	t.Helper()
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	router := NewRouter(hub, nil, RouterOptions{Context: ctx})
	srv := httptest.NewServer(http.HandlerFunc(router.Handle))
	t.Cleanup(func() {
		cancel()
		hub.CloseAll(nil)
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestRelayBroadcastsToEveryClient(t *testing.T) {
	hub, url := startRelay(t)
	a := dial(t, url)
	b := dial(t, url+"?client-id=monitor")
	require.Eventually(t, func() bool { return hub.Count() == 2 }, time.Second, 5*time.Millisecond)

	progress := 55.0
	hub.Relay(task.Update{TaskID: "t-3", Progress: &progress})

	for _, conn := range []*websocket.Conn{a, b} {
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.JSONEq(t, `{"taskId":"t-3","progress":55}`, string(data))
	}
}

func TestHubForgetsClosedClients(t *testing.T) {
	hub, url := startRelay(t)
	a := dial(t, url)
	dial(t, url)
	require.Eventually(t, func() bool { return hub.Count() == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, a.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, 5*time.Millisecond)

	hub.CloseAll(nil)
	assert.Zero(t, hub.Count())
}

func TestSlowSessionIsDropped(t *testing.T) {
	s := &Session{id: "slow", send: make(chan []byte, 1)}
	s.closed.Store(true)
	assert.False(t, s.Enqueue([]byte("x")), "closed sessions refuse frames")
}

func TestTypedFrames(t *testing.T) {
	hub, url := startRelay(t)
	conn := dial(t, url)
	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, 5*time.Millisecond)

	hub.Redirect(eventbus.Redirect{Path: "/login", Reason: "unauthorized"})
	hub.SessionChanged(eventbus.SessionChange{Reason: "logout"})
	hub.SocketStatus("reconnecting")

	for _, want := range []string{
		`{"type":"redirect","path":"/login","reason":"unauthorized"}`,
		`{"type":"session","authenticated":false,"reason":"logout"}`,
		`{"type":"socket","status":"reconnecting"}`,
	} {
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.JSONEq(t, want, string(data))
	}
}

func TestOriginPolicy(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	router := NewRouter(hub, nil, RouterOptions{
		Context:     ctx,
		CheckOrigin: OriginPolicy([]string{"https://console.example.edu/"}),
	})
	srv := httptest.NewServer(http.HandlerFunc(router.Handle))
	t.Cleanup(func() {
		cancel()
		hub.CloseAll(nil)
		srv.Close()
	})
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	for origin, ok := range map[string]bool{
		"":                            true,
		srv.URL:                       true,
		"https://console.example.edu": true,
		"https://evil.example.com":    false,
	} {
		header := http.Header{}
		if origin != "" {
			header.Set("Origin", origin)
		}
		conn, resp, err := websocket.DefaultDialer.Dial(url, header)
		if ok {
			require.NoError(t, err, origin)
			_ = conn.Close()
		} else {
			require.ErrorIs(t, err, websocket.ErrBadHandshake, origin)
			require.NotNil(t, resp)
			assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		}
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
	}
}

func TestDefaultOriginIsSameOriginOnly(t *testing.T) {
	_, url := startRelay(t)
	header := http.Header{"Origin": {"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	_ = resp.Body.Close()
}
