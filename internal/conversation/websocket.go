package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/compai/avatar-relay/internal/domain"
	"github.com/compai/avatar-relay/internal/metrics"
)

const writeTimeout = 10 * time.Second

// WebSocketHandler upgrades /ws/{session_id} requests and runs the
// conversation over the socket.
type WebSocketHandler struct {
	svc            *Service
	tracker        *Tracker
	originPatterns []string
	metrics        metrics.Recorder
}

// NewWebSocketHandler creates the handler. allowedOrigins takes the same
// values as the CORS list ("*" or full origins); nil accepts any origin.
func NewWebSocketHandler(svc *Service, tracker *Tracker, allowedOrigins []string, rec metrics.Recorder) *WebSocketHandler {
	originPatterns := OriginPatterns(allowedOrigins)
	if len(originPatterns) == 0 {
		originPatterns = []string{"*"}
	}
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &WebSocketHandler{svc: svc, tracker: tracker, originPatterns: originPatterns, metrics: rec}
}

// OriginPatterns converts origins such as "https://app.example.com" into the
// host patterns websocket.Accept matches against.
func OriginPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if i := strings.Index(o, "://"); i >= 0 {
			o = o[i+3:]
		}
		o = strings.TrimRight(o, "/")
		if o != "" {
			out = append(out, o)
		}
	}
	return out
}

// wsConn adapts websocket.Conn to Conn.
type wsConn struct {
	ws *websocket.Conn
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.ws.Read(ctx)
	return data, err
}

// Write uses its own deadline so a slow client cannot stall a turn forever.
func (c *wsConn) Write(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	return c.ws.Write(wctx, websocket.MessageText, data)
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	slog.Info("WebSocket connection request", "session_id", sessionID, "ip", r.RemoteAddr)

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "session_id", sessionID)
		return
	}

	h.tracker.Register(sessionID, ws)
	h.metrics.ConnectionOpened()
	defer func() {
		h.tracker.Unregister(sessionID, ws)
		h.metrics.ConnectionClosed()
	}()

	err = h.svc.Serve(r.Context(), sessionID, &wsConn{ws: ws})
	if errors.Is(err, domain.ErrSessionNotFound) {
		_ = ws.Close(websocket.StatusPolicyViolation, "Session not found")
		return
	}
	if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
		slog.Debug("Failed to close websocket", "error", closeErr, "session_id", sessionID)
	}
	slog.Info("Conversation ended", "session_id", sessionID)
}
