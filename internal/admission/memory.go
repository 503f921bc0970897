package admission

import (
	"context"
	"sync"
	"time"
)

type window struct {
	start time.Time
	count int
}

// MemoryLimiter implements fixed-window admission in process memory. The
// window is anchored at the first admitted event, not at clock boundaries,
// and resets the moment a check arrives past the boundary.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	max     int
	size    time.Duration
	now     func() time.Time
}

func NewMemoryLimiter(max int, size time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		windows: make(map[string]*window),
		max:     max,
		size:    size,
		now:     time.Now,
	}
}

func (l *MemoryLimiter) Admit(ctx context.Context, key string) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= l.size {
		w = &window{start: now}
		l.windows[key] = w
	}

	if w.count < l.max {
		w.count++
		return Decision{Allowed: true}, nil
	}

	return Decision{RetryAfter: l.size - now.Sub(w.start)}, nil
}

func (l *MemoryLimiter) Limit() int { return l.max }

func (l *MemoryLimiter) Close() error { return nil }
