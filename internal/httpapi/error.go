// Package httpapi is the HTTP boundary: routing, the typed-error-to-status
// mapper, the JSON/upload boundary codec, and the handlers for every
// endpoint the system exposes.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/agentmesh/workshop/internal/apierr"
)

// writeError renders err as {"error": message} with the status the error
// carries, or 500 if err is not an *apierr.APIError.
func writeError(w http.ResponseWriter, err error) {
	apiErr, ok := err.(*apierr.APIError)
	if !ok {
		apiErr = &apierr.APIError{Status: http.StatusInternalServerError, Message: err.Error()}
	}
	writeJSON(w, apiErr.Status, map[string]string{"error": apiErr.Message})
}

// writeJSON marshals v and writes it with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
