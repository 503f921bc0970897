package event

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestNormalize_NestedData(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	payload := map[string]interface{}{
		"type": "call.created",
		"data": map[string]interface{}{"id": "call-1", "from": "+15550100"},
		"exp":  float64(1900000000),
	}

	env, err := Normalize(payload, now)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if env.Type != "call.created" {
		t.Errorf("Type = %q, want call.created", env.Type)
	}
	if !env.ReceivedAt.Equal(now) {
		t.Errorf("ReceivedAt = %v, want %v", env.ReceivedAt, now)
	}
	want := map[string]interface{}{"id": "call-1", "from": "+15550100"}
	if !reflect.DeepEqual(env.Data, want) {
		t.Errorf("Data = %v, want %v", env.Data, want)
	}
}

func TestNormalize_TopLevelFallback(t *testing.T) {
	// Some producer payload shapes embed fields at top level; everything but
	// the type (and token transport claims) becomes data.
	payload := map[string]interface{}{
		"type": "sms.inbound",
		"id":   "sms-9",
		"body": "hello",
		"exp":  float64(1900000000),
		"iat":  float64(1800000000),
	}

	env, err := Normalize(payload, time.Now())
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	want := map[string]interface{}{"id": "sms-9", "body": "hello"}
	if !reflect.DeepEqual(env.Data, want) {
		t.Errorf("Data = %v, want %v", env.Data, want)
	}
}

func TestNormalize_MissingType(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]interface{}
	}{
		{"absent", map[string]interface{}{"data": map[string]interface{}{}}},
		{"empty string", map[string]interface{}{"type": ""}},
		{"not a string", map[string]interface{}{"type": 42}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(tt.payload, time.Now())
			if !errors.Is(err, ErrMissingEventType) {
				t.Errorf("Normalize() error = %v, want ErrMissingEventType", err)
			}
		})
	}
}

func TestNormalize_NonMapDataFallsBack(t *testing.T) {
	// A scalar data field is not the nested shape; it rides along inside
	// the top-level fallback instead.
	payload := map[string]interface{}{
		"type": "call.created",
		"data": "not-a-map",
	}

	env, err := Normalize(payload, time.Now())
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if env.Data["data"] != "not-a-map" {
		t.Errorf("Data = %v, want data field preserved at top level", env.Data)
	}
}
