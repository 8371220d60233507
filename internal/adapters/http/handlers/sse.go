package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mira-ai/mira/internal/llm"
)

// streamFrame is the wire shape of one stream event on SSE and WebSocket
// connections.
type streamFrame struct {
	Type llm.StreamEventKind `json:"type"`
	Data llm.StreamEvent     `json:"data"`
}

func marshalStreamEvent(ev llm.StreamEvent) []byte {
	b, err := json.Marshal(streamFrame{Type: ev.Kind(), Data: ev})
	if err != nil {
		b, _ = json.Marshal(streamFrame{Type: llm.KindError, Data: llm.ErrorEvent{Error: "event serialization failed"}})
	}
	return b
}

// sseWriter pushes frames down one text/event-stream response.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming unsupported by connection")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

	return &sseWriter{w: w, flusher: flusher}, nil
}

func (s *sseWriter) Send(payload []byte) {
	fmt.Fprintf(s.w, "data: %s\n\n", payload)
	s.flusher.Flush()
}

func (s *sseWriter) SendEvent(ev llm.StreamEvent) {
	s.Send(marshalStreamEvent(ev))
}

func (s *sseWriter) Comment(text string) {
	fmt.Fprintf(s.w, ": %s\n\n", text)
	s.flusher.Flush()
}
