// Package ws binds the hub to real consumer connections over WebSocket.
// Each connection gets a reader goroutine (subscribe requests, liveness
// pings) and a writer goroutine that owns all socket writes.
package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/relaywire/relay/internal/hub"
)

const writeWait = 10 * time.Second

// Handler upgrades consumer connections and pumps hub messages to them.
type Handler struct {
	hub      *hub.Hub
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewHandler(h *hub.Hub, logger *slog.Logger) *Handler {
	return &Handler{
		hub: h,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Consumers are unauthenticated; origin checks add nothing here.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	id := uuid.New().String()
	sub := h.hub.Register(id, r.RemoteAddr)

	welcome, _ := json.Marshal(hub.Message{
		Type:         "welcome",
		ConnectionID: id,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	})
	sub.Enqueue(welcome)

	go h.writePump(conn, sub)
	go h.readPump(conn, sub)
}

// inbound is what consumers may send: a subscribe request or a ping.
type inbound struct {
	Type   string   `json:"type"`
	Events []string `json:"events"`
}

func (h *Handler) readPump(conn *websocket.Conn, sub *hub.Subscriber) {
	defer func() {
		h.hub.Deregister(sub.ID)
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			// Garbage from a consumer is its own problem, not the relay's.
			continue
		}

		switch msg.Type {
		case "subscribe":
			h.hub.SetSubscription(sub.ID, msg.Events)
			ack, _ := json.Marshal(hub.Message{
				Type:   "subscribed",
				Events: msg.Events,
			})
			sub.Enqueue(ack)
		case "ping":
			pong, _ := json.Marshal(hub.Message{
				Type:      "pong",
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			})
			sub.Enqueue(pong)
		}
	}
}

func (h *Handler) writePump(conn *websocket.Conn, sub *hub.Subscriber) {
	defer conn.Close()

	for {
		select {
		case msg := <-sub.Send():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-sub.Done():
			// Flush what is already queued, then say goodbye.
			for {
				select {
				case msg := <-sub.Send():
					conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
						return
					}
				default:
					conn.SetWriteDeadline(time.Now().Add(writeWait))
					// This path runs for any deregistration, not just server
					// shutdown, so the reason stays neutral.
					conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, "connection closing"))
					return
				}
			}
		}
	}
}
