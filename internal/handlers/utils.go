package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/RafaUC/Allusion-sub000/internal/logging"
)

// writeJSON encodes v as JSON. Encoding or write errors are logged since
// the status line has already gone out.
func writeJSON(w http.ResponseWriter, v interface{}) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("failed to encode JSON response: %v", err)
	}
}

// writeJSONStatusCode writes v with the given status code.
func writeJSONStatusCode(w http.ResponseWriter, v interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	writeJSON(w, v)
}

// writeJSONError writes an error response as JSON with the given status code.
func writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	writeJSONStatusCode(w, map[string]string{"error": message}, statusCode)
}

// writeJSONStatus writes a simple status response as JSON.
func writeJSONStatus(w http.ResponseWriter, status string) {
	writeJSONStatusCode(w, map[string]string{"status": status}, http.StatusOK)
}

// MethodNotAllowed answers a path that exists but not for the request's
// method. It is set on the router and on each subrouter, since a
// subrouter without one reports the mismatch as 404.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeJSONError(w, r.Method+" not allowed on "+r.URL.Path, http.StatusMethodNotAllowed)
}
