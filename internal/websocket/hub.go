package websocket

import (
	"context"
	"sync"

	"github.com/openmusicplayer/mediafetch/internal/logger"
	"github.com/openmusicplayer/mediafetch/internal/metrics"
)

const broadcastBuffer = 256

// Hub maintains the set of active clients and broadcasts lifecycle events
// to all of them. The last event is replayed to clients that join late.
type Hub struct {
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	done       chan struct{}

	// last is the newest published event, recorded even when the queue
	// drops it; queued reports whether it is still waiting in broadcast.
	last    []byte
	queued  bool
	log     *logger.Logger
	metrics *metrics.Metrics

	mu sync.RWMutex
}

// NewHub creates a new Hub instance.
func NewHub(log *logger.Logger, m *metrics.Metrics) *Hub {
	if log == nil {
		log = logger.Default()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, broadcastBuffer),
		done:       make(chan struct{}),
		log:        log.WithComponent("websocket"),
		metrics:    m,
	}
}

// Run starts the hub's main loop and returns when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				h.removeLocked(client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			// A queued last event reaches the new client through the queue
			if h.last != nil && !(h.queued && len(h.broadcast) > 0) {
				select {
				case client.send <- h.last:
				default:
				}
			}
			h.mu.Unlock()
			h.metrics.IncWSConnections()
			h.log.Debug(ctx, "client connected", map[string]interface{}{"client_id": client.id})

		case client := <-h.unregister:
			h.mu.Lock()
			h.removeLocked(client)
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			if len(h.broadcast) == 0 {
				h.queued = false
			}
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Client's buffer is full, drop it
					h.removeLocked(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// join and leave give up once Run has returned.
func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) removeLocked(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)
	h.metrics.DecWSConnections()
}

// Broadcast queues message for every client. It never blocks; when the
// queue is full the message is dropped, though late joiners still get it.
func (h *Hub) Broadcast(message []byte) bool {
	return h.publish(message, false)
}

// BroadcastTerminal queues a message that must not be lost. When the queue
// is full the oldest queued messages are evicted to make room.
func (h *Hub) BroadcastTerminal(message []byte) bool {
	return h.publish(message, true)
}

func (h *Hub) publish(message []byte, evict bool) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = message

	for {
		select {
		case h.broadcast <- message:
			h.queued = true
			return true
		default:
		}

		if !evict {
			h.queued = false
			h.log.Warn(context.Background(), "broadcast queue full, dropping event")
			return false
		}
		select {
		case <-h.broadcast:
			h.log.Warn(context.Background(), "broadcast queue full, evicting oldest event")
		default:
		}
	}
}

// TotalClients returns the total number of connected clients.
func (h *Hub) TotalClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
