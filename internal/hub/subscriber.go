package hub

import (
	"sync"
	"sync/atomic"
	"time"
)

// Subscriber is one connected consumer. It is owned by the Hub; the
// transport layer drains Send and writes to the socket.
type Subscriber struct {
	ID          string
	RemoteAddr  string
	ConnectedAt time.Time

	mu    sync.RWMutex
	types map[string]struct{}

	delivered atomic.Int64

	send chan []byte
	done chan struct{}
	once sync.Once
}

// Send returns the subscriber's outbound queue.
func (s *Subscriber) Send() <-chan []byte { return s.send }

// Done is closed when the subscriber is deregistered.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

// Delivered reports how many events have been delivered to this subscriber.
func (s *Subscriber) Delivered() int64 { return s.delivered.Load() }

// SubscribedTypes returns the current filter, nil meaning all events.
func (s *Subscriber) SubscribedTypes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.types) == 0 {
		return nil
	}
	out := make([]string, 0, len(s.types))
	for t := range s.types {
		out = append(out, t)
	}
	return out
}

func (s *Subscriber) setTypes(types []string) {
	set := make(map[string]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	s.mu.Lock()
	s.types = set
	s.mu.Unlock()
}

// wants reports whether the type-scoped channel reaches this subscriber:
// an empty filter means all types.
func (s *Subscriber) wants(eventType string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[eventType]
	return ok
}

// Enqueue attempts a non-blocking delivery. A closed or saturated
// subscriber drops the message; a slow consumer must never block the
// webhook path or delivery to other consumers.
func (s *Subscriber) Enqueue(msg []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- msg:
		return true
	case <-s.done:
		return false
	default:
		return false
	}
}

func (s *Subscriber) close() {
	s.once.Do(func() { close(s.done) })
}
