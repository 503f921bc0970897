package handlers

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/relaywire/relay/internal/admission"
	"github.com/relaywire/relay/internal/event"
	"github.com/relaywire/relay/internal/httputil"
	"github.com/relaywire/relay/internal/metrics"
	"github.com/relaywire/relay/internal/verifier"
)

// sourceKey identifies the producer for admission purposes. All traffic
// comes from a single upstream, so one global key is enough.
const sourceKey = "webhook"

// Verifier validates a signed token and returns its claims.
type Verifier interface {
	Verify(token string) (map[string]interface{}, error)
}

// Broadcaster fans an envelope out to connected consumers.
type Broadcaster interface {
	Broadcast(env *event.Envelope) int
}

// Mirror republishes accepted envelopes to a broker.
type Mirror interface {
	Publish(env *event.Envelope)
}

// WebhookHandler runs the verification-admission-normalization-broadcast
// pipeline for one inbound submission.
type WebhookHandler struct {
	verifier Verifier
	limiter  admission.Limiter
	hub      Broadcaster
	mirror   Mirror
	maxBody  int64
	logger   *slog.Logger
}

// NewWebhookHandler wires the pipeline. verifier may be nil when no signing
// secret is configured; submissions then fail with 500 until it is set.
// mirror may be nil when broker mirroring is disabled.
func NewWebhookHandler(v Verifier, limiter admission.Limiter, hub Broadcaster, mirror Mirror, maxBody int64, logger *slog.Logger) *WebhookHandler {
	if maxBody <= 0 {
		maxBody = 65536
	}
	return &WebhookHandler{
		verifier: v,
		limiter:  limiter,
		hub:      hub,
		mirror:   mirror,
		maxBody:  maxBody,
		logger:   logger,
	}
}

func (h *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if h.verifier == nil {
		metrics.WebhooksTotal.WithLabelValues("misconfigured").Inc()
		httputil.WriteError(w, http.StatusInternalServerError, "Server misconfigured: signing secret not set")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxBody))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}
	defer r.Body.Close()

	token := strings.TrimSpace(string(body))
	if token == "" {
		metrics.WebhooksTotal.WithLabelValues("empty").Inc()
		httputil.WriteError(w, http.StatusBadRequest, "Missing signed token")
		return
	}

	payload, err := h.verifier.Verify(token)
	if err != nil {
		h.rejectToken(w, r, err)
		return
	}

	decision, err := h.limiter.Admit(r.Context(), sourceKey)
	if err != nil {
		// The window store being down is an availability problem, not the
		// producer's. Fail open and keep processing.
		h.logger.WarnContext(r.Context(), "admission check failed, admitting",
			slog.String("error", err.Error()))
		decision = admission.Decision{Allowed: true}
	}
	if !decision.Allowed {
		retryAfter := int(math.Ceil(decision.RetryAfter.Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		metrics.WebhooksTotal.WithLabelValues("rate_limited").Inc()
		metrics.RateLimitHits.WithLabelValues(sourceKey).Inc()
		httputil.WriteJSON(w, http.StatusTooManyRequests, map[string]interface{}{
			"error":      "Rate limit exceeded",
			"message":    "Event rejected by admission control; retry after the indicated interval",
			"retryAfter": retryAfter,
		})
		return
	}

	env, err := event.Normalize(payload, time.Now().UTC())
	if err != nil {
		if errors.Is(err, event.ErrMissingEventType) {
			metrics.WebhooksTotal.WithLabelValues("invalid").Inc()
			httputil.WriteError(w, http.StatusBadRequest, "Event type missing")
			return
		}
		metrics.WebhooksTotal.WithLabelValues("error").Inc()
		httputil.WriteErrorDetails(w, http.StatusInternalServerError, "Failed to process event", err.Error())
		return
	}

	broadcasted := h.hub.Broadcast(env)
	if h.mirror != nil {
		h.mirror.Publish(env)
	}

	metrics.WebhooksTotal.WithLabelValues("accepted").Inc()
	h.logger.InfoContext(r.Context(), "event accepted",
		slog.String("event_type", env.Type),
		slog.Int("broadcasted", broadcasted),
	)

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"broadcasted": broadcasted,
		"received":    env.ReceivedAt.Format(time.RFC3339),
	})
}

func (h *WebhookHandler) rejectToken(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, verifier.ErrMalformedToken):
		metrics.WebhooksTotal.WithLabelValues("malformed").Inc()
		httputil.WriteError(w, http.StatusBadRequest, "Malformed token")
	case errors.Is(err, verifier.ErrAlgorithmMismatch):
		metrics.WebhooksTotal.WithLabelValues("invalid").Inc()
		httputil.WriteErrorDetails(w, http.StatusUnauthorized, "Invalid algorithm", err.Error())
	case errors.Is(err, verifier.ErrTokenExpired):
		metrics.WebhooksTotal.WithLabelValues("expired").Inc()
		httputil.WriteError(w, http.StatusUnauthorized, "Token expired")
	case errors.Is(err, verifier.ErrInvalidSignature):
		metrics.WebhooksTotal.WithLabelValues("invalid").Inc()
		httputil.WriteErrorDetails(w, http.StatusUnauthorized, "Invalid signature", err.Error())
	default:
		metrics.WebhooksTotal.WithLabelValues("error").Inc()
		httputil.WriteErrorDetails(w, http.StatusInternalServerError, "Verification failed", err.Error())
	}
	h.logger.WarnContext(r.Context(), "webhook rejected", slog.String("error", err.Error()))
}
