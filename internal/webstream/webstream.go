// Package webstream exposes one engine session over a websocket: load and
// search progress flow out as JSON server messages, and a small set of
// client commands (run_search, update_search, interrupt_search,
// clear_search) drive the engine from a remote caller. It is the engine's
// one outward-facing transport, kept outside internal/engine itself so
// the core never holds a reference to a connection.
package webstream

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arlojansen/logcraft/internal/engine"
	"github.com/arlojansen/logcraft/internal/filesource"
	"github.com/arlojansen/logcraft/internal/linetypes"
	"github.com/arlojansen/logcraft/internal/logdata"
	"github.com/arlojansen/logcraft/internal/logging"
	"github.com/arlojansen/logcraft/internal/search"
)

var log = logging.ForComponent(logging.CompWebStream)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     allowOrigin,
}

func allowOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// clientMessage is a command sent from the remote caller to the engine.
type clientMessage struct {
	Type           string `json:"type"`
	Pattern        string `json:"pattern,omitempty"`
	CaseSensitive  bool   `json:"caseSensitive,omitempty"`
	Inverse        bool   `json:"inverse,omitempty"`
	BooleanCombine bool   `json:"booleanCombine,omitempty"`
	PlainText      bool   `json:"plainText,omitempty"`
	StartLine      uint64 `json:"startLine,omitempty"`
	EndLine        uint64 `json:"endLine,omitempty"`
	ResumeFrom     uint64 `json:"resumeFrom,omitempty"`
	DropCache      bool   `json:"dropCache,omitempty"`
}

// serverMessage is a status/progress/error event streamed to the caller.
type serverMessage struct {
	Type        string    `json:"type"`
	Event       string    `json:"event,omitempty"`
	Code        string    `json:"code,omitempty"`
	Message     string    `json:"message,omitempty"`
	Percent     int       `json:"percent,omitempty"`
	MatchCount  int       `json:"matchCount,omitempty"`
	InitialLine uint64    `json:"initialLine,omitempty"`
	Status      string    `json:"status,omitempty"`
	LineCount   uint64    `json:"lineCount,omitempty"`
	ChangeKind  string    `json:"changeKind,omitempty"`
	Time        time.Time `json:"time"`
}

// connWriter serializes concurrent writes to one websocket connection, the
// same shape the teacher's terminal bridge uses to guard its conn.
type connWriter struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (w *connWriter) writeJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.conn.WriteJSON(v)
}

// Handler upgrades a request to a websocket and streams eng's progress and
// search events to it until the connection closes.
func Handler(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("websocket_upgrade_failed", "error", err.Error())
			return
		}
		defer conn.Close()

		writer := &connWriter{conn: conn}
		serve(eng, conn, writer)
	}
}

func serve(eng *engine.Engine, conn *websocket.Conn, writer *connWriter) {
	eng.OnProgress(func(percent int) {
		_ = writer.writeJSON(serverMessage{Type: "load_progress", Percent: percent, Time: time.Now().UTC()})
	})
	eng.OnFinished(func(r logdata.LoadResult) {
		msg := serverMessage{Type: "load_finished", Status: r.Status.String(), LineCount: uint64(eng.LineCount()), Time: time.Now().UTC()}
		if r.Err != nil {
			msg.Message = r.Err.Error()
		}
		_ = writer.writeJSON(msg)
	})
	eng.OnFileChanged(func(kind filesource.ChangeKind) {
		_ = writer.writeJSON(serverMessage{Type: "file_changed", ChangeKind: kind.String(), LineCount: uint64(eng.LineCount()), Time: time.Now().UTC()})
	})
	eng.OnSearchProgress(func(matchCount, percent int, initialLine linetypes.LineNumber) {
		_ = writer.writeJSON(serverMessage{
			Type: "search_progress", MatchCount: matchCount, Percent: percent,
			InitialLine: uint64(initialLine), Time: time.Now().UTC(),
		})
	})
	eng.OnSearchFinished(func(status search.Status) {
		_ = writer.writeJSON(serverMessage{Type: "search_finished", Status: status.String(), Time: time.Now().UTC()})
	})

	_ = writer.writeJSON(serverMessage{Type: "status", Event: "connected", LineCount: uint64(eng.LineCount()), Time: time.Now().UTC()})

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(
				err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived,
			) {
				log.Warn("websocket_closed_unexpectedly", "error", err.Error())
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			_ = writer.writeJSON(serverMessage{Type: "error", Code: "INVALID_MESSAGE", Message: "invalid json payload", Time: time.Now().UTC()})
			continue
		}
		handleClientMessage(eng, writer, msg)
	}
}

func handleClientMessage(eng *engine.Engine, writer *connWriter, msg clientMessage) {
	switch msg.Type {
	case "run_search":
		req := search.Request{
			Pattern:        msg.Pattern,
			CaseSensitive:  msg.CaseSensitive,
			Inverse:        msg.Inverse,
			BooleanCombine: msg.BooleanCombine,
			PlainText:      msg.PlainText,
			StartLine:      linetypes.LineNumber(msg.StartLine),
			EndLine:        linetypes.LineNumber(msg.EndLine),
		}
		if err := eng.RunSearch(req); err != nil {
			_ = writer.writeJSON(serverMessage{Type: "error", Code: "SEARCH_FAILED", Message: err.Error(), Time: time.Now().UTC()})
		}
	case "update_search":
		req := search.Request{
			Pattern:        msg.Pattern,
			CaseSensitive:  msg.CaseSensitive,
			Inverse:        msg.Inverse,
			BooleanCombine: msg.BooleanCombine,
			PlainText:      msg.PlainText,
			StartLine:      linetypes.LineNumber(msg.StartLine),
			EndLine:        linetypes.LineNumber(msg.EndLine),
		}
		if err := eng.UpdateSearch(req, linetypes.LineNumber(msg.ResumeFrom)); err != nil {
			_ = writer.writeJSON(serverMessage{Type: "error", Code: "SEARCH_FAILED", Message: err.Error(), Time: time.Now().UTC()})
		}
	case "interrupt_search":
		eng.InterruptSearch()
	case "clear_search":
		eng.ClearSearch(msg.DropCache)
	default:
		_ = writer.writeJSON(serverMessage{Type: "error", Code: "UNSUPPORTED_MESSAGE", Message: "supported: run_search,update_search,interrupt_search,clear_search", Time: time.Now().UTC()})
	}
}
