package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/studychat/studychat-server/internal/model"
)

// sseWriter frames events as server-sent events and flushes after every
// write so frames are not held back by response buffering.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	return &sseWriter{w: w, flusher: flusher}, true
}

func (s *sseWriter) WriteEvent(event model.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// WriteHeartbeat emits an SSE comment line. Clients ignore it; it only keeps
// intermediaries from closing an idle connection.
func (s *sseWriter) WriteHeartbeat() error {
	if _, err := fmt.Fprint(s.w, ": heartbeat\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Stream serves the server-sent-events endpoint. It holds the connection
// open until the client disconnects or a write fails.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	sse, ok := newSSEWriter(w)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	sse.flusher.Flush()

	if err := h.streamer.Run(r.Context(), userID, sse); err != nil {
		h.logger.Debug("stream closed", "user_id", userID, "error", err)
	}
}
