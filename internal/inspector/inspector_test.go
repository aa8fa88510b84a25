package inspector

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, eval Evaluator) *Server {
	t.Helper()
	s := New("127.0.0.1:0", eval, nil)
	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func dial(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(s.URL(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, req map[string]any) map[string]any {
	t.Helper()
	require.NoError(t, conn.WriteJSON(req))
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestListTargets(t *testing.T) {
	t.Parallel()

	s := startServer(t, nil)
	resp, err := http.Get("http://" + s.Addr() + "/json/list")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var targets []target
	require.NoError(t, json.Unmarshal(body, &targets))
	require.Len(t, targets, 1)
	assert.Equal(t, s.URL(), targets[0].WebSocketDebuggerURL)
}

func TestEvaluate(t *testing.T) {
	t.Parallel()

	s := startServer(t, func(_ context.Context, expr string) (string, error) {
		if expr == "boom" {
			return "", errors.New("ReferenceError: boom is not defined")
		}
		return "2", nil
	})
	conn := dial(t, s)

	out := roundTrip(t, conn, map[string]any{"id": 1, "method": "Runtime.evaluate", "params": map[string]any{"expression": "1+1"}})
	assert.EqualValues(t, 1, out["id"])
	result := out["result"].(map[string]any)["result"].(map[string]any)
	assert.Equal(t, "2", result["value"])

	out = roundTrip(t, conn, map[string]any{"id": 2, "method": "Runtime.evaluate", "params": map[string]any{"expression": "boom"}})
	details := out["result"].(map[string]any)["exceptionDetails"].(map[string]any)
	assert.Contains(t, details["text"], "boom is not defined")

	out = roundTrip(t, conn, map[string]any{"id": 3, "method": "Profiler.start"})
	assert.EqualValues(t, -32601, out["error"].(map[string]any)["code"])
}

func TestWaitForDebugger(t *testing.T) {
	t.Parallel()

	s := startServer(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, s.WaitForDebugger(ctx), context.DeadlineExceeded)

	conn := dial(t, s)
	out := roundTrip(t, conn, map[string]any{"id": 7, "method": "Runtime.runIfWaitingForDebugger"})
	assert.Nil(t, out["error"])
	require.NoError(t, s.WaitForDebugger(context.Background()))
}

func TestEventsReachClients(t *testing.T) {
	t.Parallel()

	s := startServer(t, nil)
	conn := dial(t, s)
	// a round trip guarantees the client is registered before broadcasting
	roundTrip(t, conn, map[string]any{"id": 1, "method": "Runtime.enable"})

	s.ConsoleAPICalled("log", "hello")
	s.ExceptionThrown("Error: nope")

	var methods []string
	for range 2 {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var ev struct {
			Method string `json:"method"`
		}
		require.NoError(t, json.Unmarshal(data, &ev))
		methods = append(methods, ev.Method)
	}
	assert.Equal(t, []string{"Runtime.consoleAPICalled", "Runtime.exceptionThrown"}, methods)
}

func TestResumeWhileEvaluating(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	s := startServer(t, func(ctx context.Context, expr string) (string, error) {
		select {
		case <-release:
			return "done", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})
	conn := dial(t, s)

	require.NoError(t, conn.WriteJSON(map[string]any{"id": 1, "method": "Runtime.evaluate", "params": map[string]any{"expression": "slow()"}}))
	out := roundTrip(t, conn, map[string]any{"id": 2, "method": "Runtime.runIfWaitingForDebugger"})
	assert.EqualValues(t, 2, out["id"])
	require.NoError(t, s.WaitForDebugger(context.Background()))

	close(release)
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.EqualValues(t, 1, got["id"])
	assert.Equal(t, "done", got["result"].(map[string]any)["result"].(map[string]any)["value"])
}
