package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"
)

// clientBuffer is how many events a slow client may lag before it is dropped
const clientBuffer = 64

// RunEvent is the wire form of an orchestrator event
type RunEvent struct {
	Type string      `json:"type"`
	Slug string      `json:"slug"`
	Data interface{} `json:"data"`
}

// Hub fans events out to SSE and websocket clients
type Hub struct {
	clients map[chan RunEvent]struct{}
	mu      sync.Mutex
}

// NewHub creates a new hub
func NewHub() *Hub {
	return &Hub{clients: make(map[chan RunEvent]struct{})}
}

// Subscribe registers a client. The returned cancel func unregisters it and
// closes the channel; the hub also closes it when the client falls behind.
func (h *Hub) Subscribe() (<-chan RunEvent, func()) {
	client := make(chan RunEvent, clientBuffer)
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	return client, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.clients[client]; ok {
			delete(h.clients, client)
			close(client)
		}
	}
}

// Broadcast sends an event to all clients without blocking
func (h *Hub) Broadcast(event RunEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client <- event:
		default:
			close(client)
			delete(h.clients, client)
		}
	}
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (s *Server) sseHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, http.StatusInternalServerError, "streaming not supported")
			return
		}

		// Set SSE headers
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		events, cancel := s.hub.Subscribe()
		defer cancel()

		for {
			select {
			case <-r.Context().Done():
				return
			case event, ok := <-events:
				if !ok {
					return
				}
				data, err := json.Marshal(event)
				if err != nil {
					s.logger.Warn("encoding event failed", zap.String("type", event.Type), zap.Error(err))
					continue
				}
				fmt.Fprintf(w, "event: %s\n", event.Type)
				fmt.Fprintf(w, "data: %s\n\n", data)
				flusher.Flush()
			}
		}
	}
}
