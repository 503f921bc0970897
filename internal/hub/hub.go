// Package hub tracks connected consumers and fans accepted events out to
// them. Delivery is at-most-once and fire-and-forget: there is no
// acknowledgment, no retry, and no buffering for disconnected consumers.
package hub

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/relaywire/relay/internal/event"
	"github.com/relaywire/relay/internal/metrics"
)

// Message is the JSON frame exchanged with consumers.
type Message struct {
	Type         string          `json:"type"`
	Channel      string          `json:"channel,omitempty"`
	ConnectionID string          `json:"connectionId,omitempty"`
	Events       []string        `json:"events,omitempty"`
	Event        *event.Envelope `json:"event,omitempty"`
	Timestamp    string          `json:"timestamp,omitempty"`
}

// GlobalChannel is the channel name every consumer receives events on,
// regardless of subscription filter.
const GlobalChannel = "events"

const defaultQueueSize = 64

// Hub is the subscriber registry and broadcast fan-out.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]*Subscriber

	queueSize int
	logger    *slog.Logger
}

func New(logger *slog.Logger) *Hub {
	return &Hub{
		subs:      make(map[string]*Subscriber),
		queueSize: defaultQueueSize,
		logger:    logger,
	}
}

// Register creates a Subscriber with an empty filter and adds it to the
// registry.
func (h *Hub) Register(id, remoteAddr string) *Subscriber {
	s := &Subscriber{
		ID:          id,
		RemoteAddr:  remoteAddr,
		ConnectedAt: time.Now(),
		types:       make(map[string]struct{}),
		send:        make(chan []byte, h.queueSize),
		done:        make(chan struct{}),
	}

	h.mu.Lock()
	h.subs[id] = s
	n := len(h.subs)
	// Gauge update stays under the lock so concurrent register/deregister
	// cannot latch a stale count.
	metrics.ConsumersConnected.Set(float64(n))
	h.mu.Unlock()

	h.logger.Info("consumer connected",
		slog.String("connection_id", id),
		slog.String("remote_addr", remoteAddr),
		slog.Int("total", n),
	)
	return s
}

// Deregister removes a Subscriber. Idempotent; unknown ids are ignored.
func (h *Hub) Deregister(id string) {
	h.mu.Lock()
	s, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
		metrics.ConsumersConnected.Set(float64(len(h.subs)))
	}
	n := len(h.subs)
	h.mu.Unlock()

	if !ok {
		return
	}
	s.close()
	h.logger.Info("consumer disconnected",
		slog.String("connection_id", id),
		slog.Int("total", n),
	)
}

// SetSubscription replaces (not merges) the subscriber's type filter. An
// unknown id is a benign race with disconnection, not an error.
func (h *Hub) SetSubscription(id string, types []string) {
	h.mu.RLock()
	s, ok := h.subs[id]
	h.mu.RUnlock()
	if !ok {
		return
	}
	s.setTypes(types)
}

// Count reports the number of currently connected consumers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Snapshot returns the current subscribers for introspection endpoints.
func (h *Hub) Snapshot() []*Subscriber {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Subscriber, 0, len(h.subs))
	for _, s := range h.subs {
		out = append(out, s)
	}
	return out
}

// Broadcast delivers env to every registered subscriber on the global
// channel, and on the type-scoped channel to those whose filter is empty or
// contains env.Type. Returns the global delivery count at the moment of
// broadcast. Subscribers registering or deregistering mid-broadcast may or
// may not be included; a consumer gone mid-pass is dropped silently.
func (h *Hub) Broadcast(env *event.Envelope) int {
	global, err := json.Marshal(Message{Type: "event", Channel: GlobalChannel, Event: env})
	if err != nil {
		h.logger.Error("failed to marshal event", slog.String("error", err.Error()))
		return 0
	}
	typed, err := json.Marshal(Message{Type: "event", Channel: env.Type, Event: env})
	if err != nil {
		h.logger.Error("failed to marshal event", slog.String("error", err.Error()))
		return 0
	}

	snapshot := h.Snapshot()

	delivered := 0
	for _, s := range snapshot {
		if s.Enqueue(global) {
			delivered++
			s.delivered.Add(1)
		}
		if s.wants(env.Type) {
			s.Enqueue(typed)
		}
	}

	metrics.EventsBroadcast.Inc()
	metrics.DeliveriesTotal.Add(float64(delivered))
	h.logger.Debug("event broadcast",
		slog.String("event_type", env.Type),
		slog.Int("delivered", delivered),
	)
	return delivered
}

// Shutdown enqueues a shutdown notice to every consumer. The transport
// layer closes the connections afterwards.
func (h *Hub) Shutdown() {
	notice, err := json.Marshal(Message{
		Type:      "shutdown",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}
	for _, s := range h.Snapshot() {
		s.Enqueue(notice)
	}
}
