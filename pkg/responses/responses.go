// Package responses writes JSON HTTP responses.
package responses

import (
	"encoding/json"
	"net/http"
)

// JSON writes data as a JSON response with the given status code. Encode
// failures after the header is written cannot be reported to the client
// and are dropped.
func JSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}
