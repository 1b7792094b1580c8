package calendar

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/teslashibe/bobbys-table/internal/log"
)

// Hub fans refresh events out to connected calendar views.
// Slow clients are dropped rather than blocking the broadcaster.
type Hub struct {
	clients map[*Client]bool

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	conns   sync.WaitGroup
	writers atomic.Int32

	mu      sync.RWMutex
	running bool
	logger  *slog.Logger
}

// NewHub creates a hub. Call Run to start it.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = log.Component("calendar.hub")
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run processes registrations and broadcasts until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	h.mu.Lock()
	h.running = true
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		h.running = false
		close(h.done)
		for client := range h.clients {
			close(client.send)
			delete(h.clients, client)
		}
		h.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("calendar client connected", "clients", count)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("calendar client disconnected", "clients", count)

		case data := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- data:
				default:
					close(client.send)
					delete(h.clients, client)
					h.logger.Warn("dropped slow calendar client")
				}
			}
			h.mu.Unlock()
		}
	}
}

// Publish queues e for every connected client. It never blocks; a full
// queue drops the event.
func (h *Hub) Publish(_ context.Context, e RefreshEvent) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("calendar broadcast queue full, event dropped", "event_type", e.EventType)
	}
	return nil
}

// Wait blocks until every client connection has finished.
func (h *Hub) Wait() {
	h.conns.Wait()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// IsRunning reports whether Run is active.
func (h *Hub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}
