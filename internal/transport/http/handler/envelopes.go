package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-doubleoptin/internal/domain"
)

// MessageEnvelope is the generic response wrapper.
type MessageEnvelope struct {
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorCode int    `json:"error_code,omitempty"`
}

// LinkEnvelope answers a confirmation or opt-out link visit when no landing page is configured.
type LinkEnvelope struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// PaginatedOptInsEnvelope wraps paginated opt-in list responses.
type PaginatedOptInsEnvelope struct {
	MaxPage    int            `json:"max_page"`
	ActualPage int            `json:"actual_page"`
	PerPage    int            `json:"per_page"`
	Total      int            `json:"total"`
	Data       []domain.OptIn `json:"data"`
	Error      string         `json:"error,omitempty"`
}

// CountEnvelope carries a single count.
type CountEnvelope struct {
	Count int `json:"count"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, MessageEnvelope{Error: msg})
}
