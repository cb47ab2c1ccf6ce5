package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gantryhq/gantry/pkg/dispatch"
	"github.com/gantryhq/gantry/pkg/transport"
)

type recordingInvoker struct {
	lastUser string
}

func (r *recordingInvoker) Invoke(ctx context.Context, name string, rawArgs map[string]any, caller dispatch.Caller) dispatch.Result {
	r.lastUser = caller.User
	return dispatch.Success(map[string]any{"tool": name})
}

func dialTestServer(t *testing.T, s *Server, header http.Header) (*websocket.Conn, func()) {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(s.handleUpgrade))
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)

	return conn, func() {
		conn.Close()
		srv.Close()
	}
}

func TestServerRoundTrip(t *testing.T) {
	invoker := &recordingInvoker{}
	s, err := NewServer(Config{Port: 8466, DefaultUser: "default"}, invoker)
	require.NoError(t, err)

	conn, cleanup := dialTestServer(t, s, http.Header{"X-Gantry-User": []string{"alice"}})
	defer cleanup()

	req := transport.Request{ID: "r1", Tool: "echo", Args: map[string]any{"text": "hi"}}
	frame, err := json.Marshal(req)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var resp transport.Response
	require.NoError(t, json.Unmarshal(data, &resp))
	assert.Equal(t, "r1", resp.ID)
	assert.Equal(t, dispatch.KindSuccess, resp.Kind)
	assert.Equal(t, "alice", invoker.lastUser)
}

func TestServerDefaultUserWhenHeaderAbsent(t *testing.T) {
	invoker := &recordingInvoker{}
	s, err := NewServer(Config{Port: 8466, DefaultUser: "kiosk"}, invoker)
	require.NoError(t, err)

	conn, cleanup := dialTestServer(t, s, nil)
	defer cleanup()

	frame, err := json.Marshal(transport.Request{ID: "r1", Tool: "echo"})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var resp transport.Response
	require.NoError(t, json.Unmarshal(data, &resp))
	assert.Equal(t, dispatch.KindSuccess, resp.Kind)
	assert.Equal(t, "kiosk", invoker.lastUser)
}

func TestServerPerRequestUserOverride(t *testing.T) {
	invoker := &recordingInvoker{}
	s, err := NewServer(Config{Port: 8466, DefaultUser: "default"}, invoker)
	require.NoError(t, err)

	conn, cleanup := dialTestServer(t, s, nil)
	defer cleanup()

	frame, err := json.Marshal(transport.Request{ID: "r1", Tool: "echo", User: "bob"})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var resp transport.Response
	require.NoError(t, json.Unmarshal(data, &resp))
	assert.Equal(t, dispatch.KindSuccess, resp.Kind)
	assert.Equal(t, "bob", invoker.lastUser)
}

type countingObserver struct {
	opened atomic.Int32
	closed atomic.Int32
}

func (o *countingObserver) SessionOpened() { o.opened.Add(1) }
func (o *countingObserver) SessionClosed() { o.closed.Add(1) }

func TestServerNotifiesSessionObserver(t *testing.T) {
	obs := &countingObserver{}
	s, err := NewServer(Config{Port: 8466, Observer: obs}, &recordingInvoker{})
	require.NoError(t, err)

	conn, cleanup := dialTestServer(t, s, nil)
	defer cleanup()

	require.Eventually(t, func() bool {
		return obs.opened.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		return obs.closed.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestShutdownClosesIdleSessions(t *testing.T) {
	s, err := NewServer(Config{Port: 8466}, &recordingInvoker{})
	require.NoError(t, err)

	conn, cleanup := dialTestServer(t, s, nil)
	defer cleanup()

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.sessions) == 1
	}, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// An idle client never sends a frame; shutdown must still drain
	// promptly by closing the connection under the blocked read.
	start := time.Now()
	require.NoError(t, s.Shutdown(ctx))
	assert.Less(t, time.Since(start), 2*time.Second)

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}

func TestNewServerValidation(t *testing.T) {
	_, err := NewServer(Config{Port: 0}, &recordingInvoker{})
	require.Error(t, err)

	_, err = NewServer(Config{Port: 8466}, nil)
	require.Error(t, err)
}
