package v1

import (
	"encoding/json"
	"net/http"
)

// ErrResponse defines an HTTP error response.
type ErrResponse struct {
	Error string `json:"error"`
}

func writeJSONResponse(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeErrorResponse(w http.ResponseWriter, status int, msg string) {
	writeJSONResponse(w, status, ErrResponse{Error: msg})
}
