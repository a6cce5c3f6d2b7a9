package stream

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
)

// HTTPHandler serves envelope updates as a Server-Sent Events stream.
type HTTPHandler struct {
	broadcaster *Broadcaster
}

// NewHTTPHandler creates an SSE handler.
func NewHTTPHandler(b *Broadcaster) *HTTPHandler {
	return &HTTPHandler{broadcaster: b}
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	listener := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(listener)

	log.Printf("SSE listener connected (total: %d)", h.broadcaster.ListenerCount())
	defer log.Printf("SSE listener disconnected")

	for {
		select {
		case <-r.Context().Done():
			return
		case <-listener.done:
			return
		case m := <-listener.C:
			data, err := json.Marshal(m)
			if err != nil {
				log.Printf("SSE: encode error: %v", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
