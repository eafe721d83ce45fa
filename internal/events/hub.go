package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"docify/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	broadcastQueue = 256
)

// Hub fans job events out to connected websocket clients.
type Hub struct {
	logger     zerolog.Logger
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

// NewHub returns a hub; call Run to start delivering.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		logger:     logger,
		broadcast:  make(chan []byte, broadcastQueue),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		clients:    make(map[*websocket.Conn]bool),
	}
}

// Run delivers messages until ctx is done, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for conn := range h.clients {
				_ = conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			return
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug().Int("clients", n).Msg("events: websocket client connected")
		case conn := <-h.unregister:
			h.mu.Lock()
			if h.clients[conn] {
				delete(h.clients, conn)
				_ = conn.Close()
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug().Int("clients", n).Msg("events: websocket client disconnected")
		case msg := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.clients {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					h.logger.Debug().Err(err).Msg("events: dropping websocket client")
					_ = conn.Close()
					delete(h.clients, conn)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Publish queues ev for every client. Events are dropped when the hub is
// saturated so job execution never waits on slow clients.
func (h *Hub) Publish(ev domain.JobEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error().Err(err).Msg("events: failed to marshal job event")
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn().Str("job_id", ev.JobID).Str("type", ev.Type).Msg("events: broadcast queue full, event dropped")
	}
}

// Attach registers conn and reads from it until the peer goes away or the
// hub stops.
func (h *Hub) Attach(conn *websocket.Conn) {
	select {
	case h.register <- conn:
	case <-h.done:
		_ = conn.Close()
		return
	}
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
