// Package client is the producer-side SDK for the relay. It signs event
// payloads into HS256 tokens, submits them to the webhook endpoint, and
// implements the retry contract: server-guided waits on rate-limit
// rejections, exponential backoff with additive jitter otherwise, bounded
// by a maximum attempt count.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"
)

// ErrMaxRetriesExceeded reports that every allowed attempt was rejected by
// admission control.
var ErrMaxRetriesExceeded = errors.New("max retries exceeded")

const (
	DefaultInitialDelay = 1 * time.Second
	DefaultMaxDelay     = 60 * time.Second
	DefaultMaxAttempts  = 5
)

// Receipt is the relay's acknowledgment of an accepted event.
type Receipt struct {
	Broadcasted int
	Received    time.Time
}

// Client submits signed events to a relay.
type Client struct {
	baseURL    string
	secret     []byte
	tokenTTL   time.Duration
	httpClient *http.Client

	initialDelay time.Duration
	maxDelay     time.Duration
	maxAttempts  int

	// sleep and jitter are injectable so tests run without a real clock.
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() time.Duration
}

type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetryPolicy overrides the backoff constants.
func WithRetryPolicy(initial, max time.Duration, attempts int) Option {
	return func(c *Client) {
		c.initialDelay = initial
		c.maxDelay = max
		c.maxAttempts = attempts
	}
}

// WithTokenTTL sets an expiry claim on signed tokens. Zero means no expiry.
func WithTokenTTL(ttl time.Duration) Option {
	return func(c *Client) { c.tokenTTL = ttl }
}

func New(baseURL, secret string, opts ...Option) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		secret:       []byte(secret),
		tokenTTL:     5 * time.Minute,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		initialDelay: DefaultInitialDelay,
		maxDelay:     DefaultMaxDelay,
		maxAttempts:  DefaultMaxAttempts,
	}
	c.sleep = sleepContext
	c.jitter = func() time.Duration {
		return time.Duration(rand.Int63n(int64(time.Second)))
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Backoff computes the wait before retrying a given zero-based attempt:
// min(initialDelay << attempt, maxDelay) plus a uniformly random additive
// jitter in [0, 1s). The jitter spreads concurrent producers so their
// retries do not land in lockstep.
func (c *Client) Backoff(attempt int) time.Duration {
	d := c.initialDelay
	for i := 0; i < attempt && d < c.maxDelay; i++ {
		d *= 2
	}
	if d > c.maxDelay {
		d = c.maxDelay
	}
	return d + c.jitter()
}

// Submit signs and sends one event, retrying on admission rejections until
// accepted, terminally rejected, cancelled, or out of attempts. The payload
// never changes across attempts; the token is re-signed each attempt because
// its expiry claim is time-sensitive.
func (c *Client) Submit(ctx context.Context, eventType string, data map[string]interface{}) (*Receipt, error) {
	for attempt := 0; ; attempt++ {
		token, err := c.SignToken(eventType, data)
		if err != nil {
			return nil, fmt.Errorf("sign event: %w", err)
		}

		receipt, retryAfter, err := c.submitOnce(ctx, token)
		if err == nil {
			return receipt, nil
		}
		var rejected *rateLimited
		if !errors.As(err, &rejected) {
			return nil, err
		}

		if attempt+1 >= c.maxAttempts {
			return nil, fmt.Errorf("%w: event %q rejected %d times", ErrMaxRetriesExceeded, eventType, c.maxAttempts)
		}

		// Honor server guidance over local computation.
		delay := retryAfter
		if delay <= 0 {
			delay = c.Backoff(attempt)
		}
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// rateLimited marks a response as retryable.
type rateLimited struct {
	retryAfter time.Duration
}

func (e *rateLimited) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.retryAfter)
}

func (c *Client) submitOnce(ctx context.Context, token string) (*Receipt, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/webhook", strings.NewReader(token))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("submit event: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, 0, fmt.Errorf("read response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		var ack struct {
			Success     bool   `json:"success"`
			Broadcasted int    `json:"broadcasted"`
			Received    string `json:"received"`
		}
		if err := json.Unmarshal(body, &ack); err != nil {
			return nil, 0, fmt.Errorf("decode response: %w", err)
		}
		received, _ := time.Parse(time.RFC3339, ack.Received)
		return &Receipt{Broadcasted: ack.Broadcasted, Received: received}, 0, nil

	case http.StatusTooManyRequests:
		var rej struct {
			RetryAfter int `json:"retryAfter"`
		}
		retryAfter := time.Duration(0)
		if err := json.Unmarshal(body, &rej); err == nil {
			retryAfter = time.Duration(rej.RetryAfter) * time.Second
		}
		return nil, retryAfter, &rateLimited{retryAfter: retryAfter}

	default:
		var rej struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(body))
		if err := json.Unmarshal(body, &rej); err == nil && rej.Error != "" {
			msg = rej.Error
		}
		return nil, 0, fmt.Errorf("relay rejected event (status %d): %s", resp.StatusCode, msg)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
