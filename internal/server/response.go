package server

import (
	"encoding/json"
	"net/http"
)

// envelope is the body of every JSON response.
type envelope struct {
	Message string `json:"message,omitempty"`
	ID      string `json:"id,omitempty"`
	Action  string `json:"action,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Error: msg})
}
