package handlers

import (
	"encoding/json"
	"net/http"
)

// maxRequestBody bounds JSON request bodies
const maxRequestBody = 1 << 20

// WriteJSON writes a JSON response with the specified status code and data.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteError writes a standard error JSON response.
func WriteError(w http.ResponseWriter, statusCode int, message string) error {
	return WriteJSON(w, statusCode, map[string]string{
		"error": message,
	})
}

// WriteSuccess writes {"success": true}.
func WriteSuccess(w http.ResponseWriter) error {
	return WriteJSON(w, http.StatusOK, map[string]bool{
		"success": true,
	})
}

// decodeJSON reads a bounded JSON body into target
func decodeJSON(w http.ResponseWriter, r *http.Request, target interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	return json.NewDecoder(r.Body).Decode(target)
}
