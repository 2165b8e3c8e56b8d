package utils

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/golang/glog"
)

// SetupSSEHeaders prepares w for a server-sent event stream.
func SetupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// SendSSEEvent writes one named event and flushes it.
func SendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		glog.Warningf("failed to marshal sse event %s: %v", event, err)
		return
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		glog.V(1).Infof("failed to write sse event %s: %v", event, err)
		return
	}
	flusher.Flush()
}
