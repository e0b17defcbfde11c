package server

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the JSON error body returned for boundary failures.
type ErrorResponse struct {
	Error string `json:"error"`
}

// SessionResponse is returned when a chat session is created.
type SessionResponse struct {
	SessionID      string `json:"sessionId"`
	InitialMessage string `json:"initialMessage,omitempty"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// writeSuccess writes a success response.
func writeSuccess(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
