package hub

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/relaywire/relay/internal/event"
	"github.com/relaywire/relay/internal/metrics"
)

func newTestHub() *Hub {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testEnvelope(eventType string) *event.Envelope {
	return &event.Envelope{
		Type:       eventType,
		Data:       map[string]interface{}{"id": "evt-1"},
		ReceivedAt: time.Now().UTC(),
	}
}

// drain decodes everything currently queued for s.
func drain(t *testing.T, s *Subscriber) []Message {
	t.Helper()
	var msgs []Message
	for {
		select {
		case raw := <-s.Send():
			var m Message
			if err := json.Unmarshal(raw, &m); err != nil {
				t.Fatalf("failed to decode queued message: %v", err)
			}
			msgs = append(msgs, m)
		default:
			return msgs
		}
	}
}

func channels(msgs []Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Channel)
	}
	return out
}

func TestBroadcast_FanOutCompleteness(t *testing.T) {
	h := newTestHub()
	subs := make([]*Subscriber, 5)
	for i := range subs {
		subs[i] = h.Register(string(rune('a'+i)), "127.0.0.1:1000")
	}

	delivered := h.Broadcast(testEnvelope("call.created"))
	if delivered != 5 {
		t.Errorf("Broadcast() = %d, want 5", delivered)
	}

	for i, s := range subs {
		msgs := drain(t, s)
		// Unfiltered subscribers see the global message and the type-scoped
		// one.
		if len(msgs) != 2 {
			t.Fatalf("subscriber %d got %d messages, want 2: %v", i, len(msgs), channels(msgs))
		}
		if msgs[0].Channel != GlobalChannel {
			t.Errorf("subscriber %d first channel = %q, want %q", i, msgs[0].Channel, GlobalChannel)
		}
		if msgs[1].Channel != "call.created" {
			t.Errorf("subscriber %d second channel = %q, want call.created", i, msgs[1].Channel)
		}
		if s.Delivered() != 1 {
			t.Errorf("subscriber %d delivered = %d, want 1", i, s.Delivered())
		}
	}
}

func TestBroadcast_SubscriptionFiltering(t *testing.T) {
	h := newTestHub()
	s := h.Register("filtered", "127.0.0.1:1000")
	h.SetSubscription("filtered", []string{"call.created"})

	h.Broadcast(testEnvelope("call.created"))
	msgs := drain(t, s)
	if got := channels(msgs); len(got) != 2 || got[0] != GlobalChannel || got[1] != "call.created" {
		t.Errorf("matching event channels = %v, want [events call.created]", got)
	}

	// The filter gates only the type-scoped channel; the global one is
	// filter-independent.
	h.Broadcast(testEnvelope("sms.inbound"))
	msgs = drain(t, s)
	if got := channels(msgs); len(got) != 1 || got[0] != GlobalChannel {
		t.Errorf("non-matching event channels = %v, want [events]", got)
	}
}

func TestSetSubscription_Replaces(t *testing.T) {
	h := newTestHub()
	s := h.Register("c1", "127.0.0.1:1000")

	h.SetSubscription("c1", []string{"call.created"})
	h.SetSubscription("c1", []string{"sms.inbound"})

	h.Broadcast(testEnvelope("call.created"))
	if got := channels(drain(t, s)); len(got) != 1 || got[0] != GlobalChannel {
		t.Errorf("channels after replacement = %v, want [events]", got)
	}
}

func TestSetSubscription_UnknownIDIsNoOp(t *testing.T) {
	h := newTestHub()
	// Subscribing after disconnect is a benign race, not an error.
	h.SetSubscription("ghost", []string{"call.created"})
}

func TestDeregister_Idempotent(t *testing.T) {
	h := newTestHub()
	h.Register("c1", "127.0.0.1:1000")

	h.Deregister("c1")
	h.Deregister("c1")
	h.Deregister("never-existed")

	if h.Count() != 0 {
		t.Errorf("Count() = %d, want 0", h.Count())
	}
}

func TestBroadcast_AfterDeregister(t *testing.T) {
	h := newTestHub()
	s := h.Register("c1", "127.0.0.1:1000")
	h.Deregister("c1")

	delivered := h.Broadcast(testEnvelope("call.created"))
	if delivered != 0 {
		t.Errorf("Broadcast() = %d, want 0", delivered)
	}
	if msgs := drain(t, s); len(msgs) != 0 {
		t.Errorf("removed subscriber got %d messages, want 0", len(msgs))
	}
}

func TestBroadcast_ConcurrentDeregister(t *testing.T) {
	// Deregistering mid-broadcast must not panic or deliver to the removed
	// subscriber once removal is observed.
	h := newTestHub()
	for i := 0; i < 20; i++ {
		h.Register(string(rune('a'+i)), "127.0.0.1:1000")
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			h.Broadcast(testEnvelope("call.created"))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			h.Deregister(string(rune('a' + i)))
		}
	}()
	wg.Wait()

	if h.Count() != 0 {
		t.Errorf("Count() = %d, want 0", h.Count())
	}
}

func TestRegisterDeregister_GaugeTracksRegistry(t *testing.T) {
	// Interleaved register/deregister must never latch a stale gauge value:
	// the update happens under the registry lock, so the last write reflects
	// the final registry state.
	h := newTestHub()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		id := string(rune('a' + i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Register(id, "127.0.0.1:1000")
			h.Deregister(id)
		}()
	}
	wg.Wait()

	if h.Count() != 0 {
		t.Fatalf("Count() = %d, want 0", h.Count())
	}
	if got := testutil.ToFloat64(metrics.ConsumersConnected); got != 0 {
		t.Errorf("connected gauge = %v, want 0", got)
	}
}

func TestBroadcast_SlowConsumerDoesNotBlock(t *testing.T) {
	h := newTestHub()
	h.Register("slow", "127.0.0.1:1000")

	// Nothing drains the queue; broadcasts past its capacity must still
	// return promptly.
	env := testEnvelope("call.created")
	done := make(chan struct{})
	go func() {
		for i := 0; i < defaultQueueSize+10; i++ {
			h.Broadcast(env)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("broadcast blocked on a slow consumer")
	}
}

func TestShutdown_NotifiesConsumers(t *testing.T) {
	h := newTestHub()
	s := h.Register("c1", "127.0.0.1:1000")

	h.Shutdown()

	msgs := drain(t, s)
	if len(msgs) != 1 || msgs[0].Type != "shutdown" {
		t.Errorf("got %v, want one shutdown message", msgs)
	}
}
