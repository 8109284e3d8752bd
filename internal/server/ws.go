package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"ripple-messenger/internal/realtime"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// tokens, not origins, gate access here
	CheckOrigin: func(r *http.Request) bool { return true },
}

// serveWS upgrades an authenticated connection and hands it to the hub. The
// client starts subscribed to its own user topic and may subscribe to
// conversation topics, each gated by a membership check.
func (h *handler) serveWS(w http.ResponseWriter, r *http.Request) {
	user, err := h.caller(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorf("upgrading websocket connection: %v", err)
		return
	}

	userID := user.ID
	client := realtime.NewClient(h.hub, userID, conn, func(topic string) bool {
		raw := strings.TrimPrefix(topic, "conversation:")
		if raw == topic {
			return false
		}
		conversationID, err := uuid.Parse(raw)
		if err != nil {
			return false
		}

		member, err := h.store.IsMember(context.Background(), conversationID, userID)
		if err != nil {
			h.logger.Errorf("authorizing subscription to %q: %v", topic, err)
			return false
		}
		return member
	})

	go client.WritePump()
	go client.ReadPump()
}
