package handlers

import (
	"net/http"
	"time"

	"github.com/relaywire/relay/internal/admission"
	"github.com/relaywire/relay/internal/httputil"
	"github.com/relaywire/relay/internal/hub"
)

// StatusHandler serves the read-only introspection endpoints. It never
// mutates pipeline state.
type StatusHandler struct {
	hub     *hub.Hub
	limiter admission.Limiter
	started time.Time
}

func NewStatusHandler(h *hub.Hub, limiter admission.Limiter) *StatusHandler {
	return &StatusHandler{hub: h, limiter: limiter, started: time.Now()}
}

func (h *StatusHandler) Health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "ok",
		"uptimeSeconds": int(time.Since(h.started).Seconds()),
		"clients":       h.hub.Count(),
		"rateLimit":     h.limiter.Limit(),
	})
}

type clientInfo struct {
	ID              string `json:"id"`
	RemoteAddr      string `json:"remoteAddr"`
	ConnectedAt     string `json:"connectedAt"`
	EventsDelivered int64  `json:"eventsDelivered"`
	AgeSeconds      int    `json:"ageSeconds"`
}

func (h *StatusHandler) Clients(w http.ResponseWriter, r *http.Request) {
	subs := h.hub.Snapshot()
	clients := make([]clientInfo, 0, len(subs))
	for _, s := range subs {
		clients = append(clients, clientInfo{
			ID:              s.ID,
			RemoteAddr:      s.RemoteAddr,
			ConnectedAt:     s.ConnectedAt.UTC().Format(time.RFC3339),
			EventsDelivered: s.Delivered(),
			AgeSeconds:      int(time.Since(s.ConnectedAt).Seconds()),
		})
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(clients),
		"clients": clients,
	})
}
