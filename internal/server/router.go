package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relaywire/relay/internal/handlers"
	"github.com/relaywire/relay/internal/middleware"
)

// NewRouter constructs a ServeMux with the relay's routes registered.
func NewRouter(webhook *handlers.WebhookHandler, status *handlers.StatusHandler, consumer http.Handler) http.Handler {
	mux := http.NewServeMux()

	// Producer-facing webhook endpoint
	mux.HandleFunc("/webhook", webhook.HandleWebhook)

	// Consumer WebSocket endpoint
	mux.Handle("/ws", consumer)

	// Introspection endpoints
	mux.HandleFunc("/healthz", status.Health)
	mux.HandleFunc("/clients", status.Clients)

	// Prometheus metrics
	mux.Handle("/metrics", promhttp.Handler())

	return middleware.RequestID(middleware.Recover(mux))
}
