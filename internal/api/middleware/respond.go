package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/tjfontaine/socratic-gateway/internal/domain"
)

// WriteJSON writes v as a JSON body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError writes apiErr as {"error": message} and records it on the
// request log entry. Only the fixed client message is sent.
func WriteError(w http.ResponseWriter, r *http.Request, apiErr *domain.APIError) {
	AddError(r.Context(), apiErr)
	SetRetryAfter(w.Header(), apiErr.RetryAfter)
	WriteJSON(w, apiErr.HTTPStatusCode(), map[string]string{"error": apiErr.Message})
}
