// Package event defines the canonical event envelope and the normalization
// of verified webhook payloads into it.
package event

import (
	"errors"
	"time"
)

// ErrMissingEventType reports a verified payload with no usable type field.
var ErrMissingEventType = errors.New("event type missing")

// Envelope is the pipeline-internal representation of one accepted event.
// It is immutable once constructed.
type Envelope struct {
	Type       string                 `json:"type"`
	Data       map[string]interface{} `json:"data"`
	ReceivedAt time.Time              `json:"receivedAt"`
}

// registeredClaims are JWT transport metadata, stripped when the whole
// payload doubles as event data.
var registeredClaims = map[string]struct{}{
	"exp": {}, "iat": {}, "nbf": {}, "iss": {}, "sub": {}, "aud": {}, "jti": {},
}

// Normalize maps a verified payload into an Envelope. The type field is
// required. When the payload carries a nested data object it is
// authoritative; otherwise the remaining payload fields become the event
// data, since some producer payload shapes embed fields at top level.
// ReceivedAt is stamped with the relay's own observation time: receipt time
// is locally authoritative, never producer-supplied.
func Normalize(payload map[string]interface{}, now time.Time) (*Envelope, error) {
	eventType, ok := payload["type"].(string)
	if !ok || eventType == "" {
		return nil, ErrMissingEventType
	}

	var data map[string]interface{}
	if nested, ok := payload["data"].(map[string]interface{}); ok {
		data = nested
	} else {
		data = make(map[string]interface{}, len(payload))
		for k, v := range payload {
			if k == "type" {
				continue
			}
			if _, transport := registeredClaims[k]; transport {
				continue
			}
			data[k] = v
		}
	}

	return &Envelope{
		Type:       eventType,
		Data:       data,
		ReceivedAt: now,
	}, nil
}
