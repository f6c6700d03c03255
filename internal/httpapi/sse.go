package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// handleProgressStream pushes progress snapshots of the running session as
// server-sent events. The stream ends with an "end" event once the session
// is exhausted or replaced; clients reconnect to follow the next session.
func (s *Server) handleProgressStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	for progress := range s.store.Manager().Subscribe(r.Context()) {
		payload, err := json.Marshal(progress)
		if err != nil {
			return
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return
		}
		flusher.Flush()
	}

	if r.Context().Err() != nil {
		return
	}
	if _, err := fmt.Fprint(w, "event: end\ndata: {}\n\n"); err == nil {
		flusher.Flush()
	}
}
