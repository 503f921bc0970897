package client

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestClient returns a client with deterministic jitter and a sleep that
// records requested delays instead of waiting.
func newTestClient(baseURL string, opts ...Option) (*Client, *[]time.Duration) {
	c := New(baseURL, "test-secret", opts...)
	c.jitter = func() time.Duration { return 0 }

	var mu sync.Mutex
	delays := &[]time.Duration{}
	c.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		defer mu.Unlock()
		*delays = append(*delays, d)
		return nil
	}
	return c, delays
}

func TestBackoff_Sequence(t *testing.T) {
	c, _ := newTestClient("http://localhost")

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 32 * time.Second},
		{6, 60 * time.Second}, // 64s clamps to maxDelay
		{7, 60 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, c.Backoff(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestBackoff_JitterIsAdditive(t *testing.T) {
	c := New("http://localhost", "test-secret")
	c.jitter = func() time.Duration { return 300 * time.Millisecond }

	assert.Equal(t, 2*time.Second+300*time.Millisecond, c.Backoff(1))
}

func TestSubmit_Success(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"broadcasted":4,"received":"2026-01-02T03:04:05Z"}`))
	}))
	defer srv.Close()

	c, delays := newTestClient(srv.URL)
	receipt, err := c.Submit(context.Background(), "call.created", map[string]interface{}{"id": "c1"})
	require.NoError(t, err)
	assert.Equal(t, 4, receipt.Broadcasted)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), receipt.Received)
	assert.Empty(t, *delays)

	// The body is the raw compact token, not JSON-wrapped.
	assert.Len(t, strings.Split(gotBody, "."), 3)
}

func TestSubmit_BacksOffThenSucceeds(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"Rate limit exceeded"}`))
			return
		}
		w.Write([]byte(`{"success":true,"broadcasted":1,"received":"2026-01-02T03:04:05Z"}`))
	}))
	defer srv.Close()

	c, delays := newTestClient(srv.URL)
	_, err := c.Submit(context.Background(), "call.created", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, requests)
	// No server guidance: local exponential backoff.
	assert.Equal(t, []time.Duration{1 * time.Second, 2 * time.Second}, *delays)
}

func TestSubmit_HonorsServerRetryAfter(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"Rate limit exceeded","retryAfter":7}`))
			return
		}
		w.Write([]byte(`{"success":true,"broadcasted":0,"received":"2026-01-02T03:04:05Z"}`))
	}))
	defer srv.Close()

	c, delays := newTestClient(srv.URL)
	_, err := c.Submit(context.Background(), "call.created", nil)
	require.NoError(t, err)
	// Server guidance is used verbatim, no jitter added.
	assert.Equal(t, []time.Duration{7 * time.Second}, *delays)
}

func TestSubmit_MaxRetriesExceeded(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"Rate limit exceeded"}`))
	}))
	defer srv.Close()

	c, delays := newTestClient(srv.URL)
	_, err := c.Submit(context.Background(), "call.created", nil)
	require.ErrorIs(t, err, ErrMaxRetriesExceeded)
	// Exactly maxAttempts submissions, with a wait between each pair.
	assert.Equal(t, DefaultMaxAttempts, requests)
	assert.Len(t, *delays, DefaultMaxAttempts-1)
}

func TestSubmit_TerminalRejectionDoesNotRetry(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"Invalid signature"}`))
	}))
	defer srv.Close()

	c, delays := newTestClient(srv.URL)
	_, err := c.Submit(context.Background(), "call.created", nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMaxRetriesExceeded)
	assert.Contains(t, err.Error(), "Invalid signature")
	assert.Equal(t, 1, requests)
	assert.Empty(t, *delays)
}

func TestSubmit_CancelledDuringWait(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"Rate limit exceeded"}`))
	}))
	defer srv.Close()

	c, _ := newTestClient(srv.URL)
	c.sleep = func(ctx context.Context, d time.Duration) error { return context.Canceled }

	_, err := c.Submit(context.Background(), "call.created", nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestSubmit_CustomRetryPolicy(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"Rate limit exceeded"}`))
	}))
	defer srv.Close()

	c, _ := newTestClient(srv.URL, WithRetryPolicy(100*time.Millisecond, time.Second, 2))
	_, err := c.Submit(context.Background(), "call.created", nil)
	require.ErrorIs(t, err, ErrMaxRetriesExceeded)
	assert.Equal(t, 2, requests)
}

func TestSignToken(t *testing.T) {
	c := New("http://localhost", "test-secret", WithTokenTTL(time.Minute))
	tokenString, err := c.SignToken("call.created", map[string]interface{}{"id": "c1"})
	require.NoError(t, err)

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		return []byte("test-secret"), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	require.NoError(t, err)

	claims := token.Claims.(jwt.MapClaims)
	assert.Equal(t, "call.created", claims["type"])
	data := claims["data"].(map[string]interface{})
	assert.Equal(t, "c1", data["id"])
	assert.Contains(t, claims, "exp")
}

func TestSignToken_RequiresType(t *testing.T) {
	c := New("http://localhost", "test-secret")
	_, err := c.SignToken("", nil)
	require.Error(t, err)
}
