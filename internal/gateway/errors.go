// Package gateway is the request pipeline: route matching, policy
// enforcement, circuit breaking, and upstream forwarding.
package gateway

import (
	"encoding/json"
	"net/http"
)

type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// writeError writes the gateway's JSON error shape.
func writeError(w http.ResponseWriter, status int, label, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: label, Reason: reason})
}

// writeJSON writes an arbitrary JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
