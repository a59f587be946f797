package handlers

import (
	"encoding/json"
	"net/http"
)

// envelope is the downstream response contract. data is null on empty
// results; error carries a short cause on failure, never a stack trace.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error,omitempty"`
}

func writeData(w http.ResponseWriter, payload json.RawMessage) {
	if payload == nil {
		payload = json.RawMessage("null")
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: payload})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Success: false, Data: json.RawMessage("null"), Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
