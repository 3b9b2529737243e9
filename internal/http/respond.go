package httpx

import (
	"encoding/json"
	"net/http"
)

// writeJSON writes JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends an error message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeProblems sends a validation failure carrying every problem found,
// so callers can surface all of them at once.
func writeProblems(w http.ResponseWriter, msg string, problems []string) {
	writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
		"error":    msg,
		"problems": problems,
	})
}
