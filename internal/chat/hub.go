package chat

import (
	"sync"

	"ephemeral-chat/internal/metrics"
	"ephemeral-chat/internal/room"

	"github.com/rs/zerolog/log"
)

// Hub owns every live Client. Registration and removal go through Run; Deliver
// may be called from any goroutine.
type Hub struct {
	mu         sync.RWMutex
	Clients    map[room.ConnID]*Client
	Register   chan *Client
	Unregister chan *Client
	Quit       chan struct{}

	metrics *metrics.Metrics
	stopped chan struct{}
}

func NewHub(m *metrics.Metrics) *Hub {
	log.Info().Msg("[HUB] Initializing new Hub instance...")
	if m == nil {
		m = metrics.New()
	}
	return &Hub{
		Clients:    make(map[room.ConnID]*Client),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Quit:       make(chan struct{}),
		metrics:    m,
		stopped:    make(chan struct{}),
	}
}

// Add hands c to the Run loop. It reports false once the hub has quit.
func (h *Hub) Add(c *Client) bool {
	select {
	case h.Register <- c:
		return true
	case <-h.Quit:
		return false
	}
}

func (h *Hub) remove(c *Client) {
	select {
	case h.Unregister <- c:
	case <-h.Quit:
	}
}

// Deliver queues payload for every listed connection without blocking.
// A client whose buffer is full is evicted as a slow consumer.
func (h *Hub) Deliver(ids []room.ConnID, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, id := range ids {
		client, ok := h.Clients[id]
		if !ok {
			continue
		}
		select {
		case client.Send <- payload:
		default:
			log.Warn().Str("conn", id.String()).Msg("[HUB] Client buffer full. Evicting slow consumer.")
			go h.remove(client)
		}
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.Clients)
}

// Done is closed when Run has returned.
func (h *Hub) Done() <-chan struct{} { return h.stopped }

func (h *Hub) cleanupClient(c *Client) {
	c.once.Do(func() {
		if client, ok := h.Clients[c.ID]; ok && client == c {
			delete(h.Clients, c.ID)
			h.metrics.ConnectionsActive.Dec()
			log.Debug().Str("conn", c.ID.String()).Int("active", len(h.Clients)).Msg("[HUB] Session closed")
		}
		c.Conn.Close()
		close(c.Send)
	})
}

func (h *Hub) Run() {
	defer close(h.stopped)
	log.Info().Msg("[HUB] Main loop started. Listening for events...")
	for {
		select {
		case <-h.Quit:
			log.Info().Int("clients", h.Len()).Msg("[HUB] Quit signal received. Shutting down all client connections...")
			h.mu.Lock()
			for _, client := range h.Clients {
				h.cleanupClient(client)
			}
			h.mu.Unlock()
			return

		case client := <-h.Register:
			h.mu.Lock()
			h.Clients[client.ID] = client
			h.metrics.ConnectionsActive.Inc()
			total := len(h.Clients)
			h.mu.Unlock()
			log.Debug().Str("conn", client.ID.String()).Int("active", total).Msg("[HUB] Registered client")

		case client := <-h.Unregister:
			h.mu.Lock()
			h.cleanupClient(client)
			h.mu.Unlock()
		}
	}
}
