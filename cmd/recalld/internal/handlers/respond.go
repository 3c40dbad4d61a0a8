package handlers

import (
	"encoding/json"
	"net/http"
)

// ValidationError describes one offending request field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// sendJSON sends a JSON response
func sendJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

// sendError sends an error response
func sendError(w http.ResponseWriter, message string, code int) {
	sendJSON(w, code, map[string]string{
		"error": message,
	})
}

// sendValidationErrors sends a 422 listing every offending field.
func sendValidationErrors(w http.ResponseWriter, details []ValidationError) {
	sendJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
		"error":  "Validation failed",
		"detail": details,
	})
}
