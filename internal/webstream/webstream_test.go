package webstream

import (
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/arlojansen/logcraft/internal/config"
	"github.com/arlojansen/logcraft/internal/engine"
)

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + "/ws"
}

func dialAndWaitConnected(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(srv.URL), nil)
	if err != nil {
		if resp != nil {
			t.Fatalf("dial failed with status %d: %v", resp.StatusCode, err)
		}
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	var msg map[string]any
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, "status", msg["type"])
	require.Equal(t, "connected", msg["event"])
	return conn
}

func readUntilType(t *testing.T, conn *websocket.Conn, want string, timeout time.Duration) map[string]any {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read failed waiting for %q: %v", want, err)
		}
		if msg["type"] == want {
			return msg
		}
	}
	t.Fatalf("timed out waiting for message type %q", want)
	return nil
}

func TestHandlerStreamsLoadAndSearchEvents(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(path, []byte("alpha\nbeta\nalpha two\n"), 0o644))

	eng := engine.New(config.Default())
	defer eng.Close()

	srv := httptest.NewServer(Handler(eng))
	defer srv.Close()

	conn := dialAndWaitConnected(t, srv)

	eng.Load(path)
	loadMsg := readUntilType(t, conn, "load_finished", 5*time.Second)
	require.Equal(t, "Successful", loadMsg["status"])

	payload, err := json.Marshal(clientMessage{Type: "run_search", Pattern: "alpha"})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, payload))

	searchMsg := readUntilType(t, conn, "search_finished", 5*time.Second)
	require.Equal(t, "Completed", searchMsg["status"])
	require.EqualValues(t, 2, eng.MatchCount())
}

func TestHandlerRejectsUnsupportedMessage(t *testing.T) {
	eng := engine.New(config.Default())
	defer eng.Close()

	srv := httptest.NewServer(Handler(eng))
	defer srv.Close()

	conn := dialAndWaitConnected(t, srv)

	payload, err := json.Marshal(clientMessage{Type: "not_a_real_command"})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, payload))

	errMsg := readUntilType(t, conn, "error", 3*time.Second)
	require.Equal(t, "UNSUPPORTED_MESSAGE", errMsg["code"])
}
