package middleware

import (
	"encoding/json"
	"net/http"
)

// deny ends the request with the {"error": ...} body the handlers use.
// Rejections from auth and rate limiting must not be cached.
func deny(w http.ResponseWriter, status int, msg string) {
	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
