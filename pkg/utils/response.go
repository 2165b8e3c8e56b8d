package utils

import (
	"encoding/json"
	"net/http"

	"github.com/golang/glog"
)

// RespondJSON writes payload as a JSON body.
func RespondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		glog.Warningf("failed to encode response: %v", err)
	}
}

// RespondError writes {"detail": message}, the error shape the chat clients read.
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, map[string]string{"detail": message})
}

// DecodeJSON reads a JSON request body into v.
func DecodeJSON(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}
