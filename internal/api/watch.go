package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/fluia/leadmagnet/internal/domain"
	"github.com/fluia/leadmagnet/internal/session"
)

const watchWriteTimeout = 10 * time.Second

// Watch streams session snapshots over a websocket: the current one first,
// then one per state change. The stream ends when the client disconnects
// or the session is closed.
func (h *Handler) Watch(w http.ResponseWriter, r *http.Request) {
	o, ok := h.lookup(w, r)
	if !ok {
		return
	}

	patterns := h.allowedOrigin
	if len(patterns) == 0 {
		patterns = []string{"*"}
	}
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: patterns})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "watch ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	// Clients only listen; CloseRead handles their close frame and cancels
	// ctx when they go away.
	ctx := ws.CloseRead(r.Context())

	updates, unsubscribe := o.Subscribe()
	defer unsubscribe()

	sid := o.Snapshot().SessionID
	h.logger.Debug("Session watch started", "session_id", sid)

	for {
		select {
		case s, open := <-updates:
			if !open {
				h.logger.Debug("Session closed, ending watch", "session_id", sid)
				return
			}
			if err := h.push(ctx, ws, o, s); err != nil {
				if !errors.Is(err, context.Canceled) && websocket.CloseStatus(err) == -1 {
					h.logger.Warn("Failed to push session snapshot", "session_id", sid, "error", err)
				}
				return
			}
		case <-ctx.Done():
			h.logger.Debug("Session watch ended", "session_id", sid)
			return
		}
	}
}

func (h *Handler) push(ctx context.Context, ws *websocket.Conn, o *session.Orchestrator, s domain.Session) error {
	ctx, cancel := context.WithTimeout(ctx, watchWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, ws, sessionResponse{
		Session:    s,
		Variant:    string(o.Variant()),
		Completion: completionOf(s),
	})
}
