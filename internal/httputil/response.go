// Package httputil provides small helpers for writing JSON HTTP responses.
package httputil

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// WriteJSON writes a JSON response with the given status code and data.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// WriteError writes a JSON error response of the form {"error": message}.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{"error": message})
}

// WriteErrorDetails writes a JSON error response carrying a details field in
// addition to the error message.
func WriteErrorDetails(w http.ResponseWriter, status int, message, details string) {
	WriteJSON(w, status, map[string]string{"error": message, "details": details})
}
