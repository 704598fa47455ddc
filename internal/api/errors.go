package api

import (
	"encoding/json"
	"net/http"

	"github.com/nerrad567/graysql/internal/command"
)

// Error kinds produced by the HTTP layer itself.
const (
	kindUnauthorized     = "Unauthorized"
	kindNotFound         = "NotFound"
	kindMethodNotAllowed = "MethodNotAllowed"
	kindInternal         = "Internal"
)

// writeJSON writes v as the JSON response body with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a failed command.Response.
func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, command.Response{
		Error: &command.ErrorBody{Kind: kind, Message: message},
	})
}
