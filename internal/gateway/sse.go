package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// sseWriter emits the two-event stream protocol: one `message` event
// carrying the final body, one `end` event carrying the termination
// reason.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("gateway: response writer does not support streaming")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	return &sseWriter{w: w, flusher: flusher}, nil
}

func (s *sseWriter) event(name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Message emits the message event.
func (s *sseWriter) Message(body any) error {
	return s.event("message", map[string]any{
		"type":    "message",
		"message": body,
	})
}

// End emits the end event with the termination reason.
func (s *sseWriter) End(termination string) error {
	return s.event("end", map[string]any{"termination": termination})
}
