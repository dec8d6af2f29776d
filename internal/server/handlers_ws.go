package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ctrlsys/ctrlsys/internal/model"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Auth is a bearer token, never a cookie.
	CheckOrigin: func(*http.Request) bool { return true },
}

// HandleTimerWS handles GET /v1/timers/{id}/ws. The first message is the
// current timer; after that the full timer is pushed on every transition
// and once per push interval until it is terminal, then the socket closes.
func (h *Handlers) HandleTimerWS(w http.ResponseWriter, r *http.Request) {
	id, ok := h.timerID(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Subscribe before upgrading so an unknown id is still a plain 404.
	stream, err := h.timers.Subscribe(ctx, id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	defer stream.Close()

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		h.logger.Debug("websocket upgrade failed", "timer_id", id, "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	// The client never sends anything meaningful; reading detects close.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	push := time.NewTicker(h.wsPushInterval)
	defer push.Stop()

	send := func(t model.Timer) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(h.wsWriteDeadline))
		if err := conn.WriteJSON(model.NewTimerResponse(t, h.timers.Now())); err != nil {
			h.logger.Debug("websocket write failed", "timer_id", id, "error", err)
			return false
		}
		return !t.Status.IsTerminal()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-stream.C():
			if !ok {
				return
			}
			if !send(ev.Timer) {
				h.closeWS(conn, "timer finished")
				return
			}
		case <-push.C:
			t, err := h.timers.Get(ctx, id)
			if err != nil {
				h.logger.Warn("websocket refresh failed", "timer_id", id, "error", err)
				h.closeWSCode(conn, websocket.CloseInternalServerErr, "timer unavailable")
				return
			}
			if !send(t) {
				h.closeWS(conn, "timer finished")
				return
			}
		}
	}
}

func (h *Handlers) closeWS(conn *websocket.Conn, reason string) {
	h.closeWSCode(conn, websocket.CloseNormalClosure, reason)
}

func (h *Handlers) closeWSCode(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(h.wsWriteDeadline))
}
