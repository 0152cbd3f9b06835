// Package stream fans dispatched events out to websocket subscribers.
package stream

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"signal-relay/internal/metrics"
)

const writeTimeout = 5 * time.Second

type client struct {
	send chan []byte
	// dropped is closed when the hub evicts a slow client.
	dropped chan struct{}
}

// Hub keeps the set of subscribers. Slow subscribers are disconnected rather
// than allowed to hold up a broadcast.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	buffer  int
	logger  zerolog.Logger
}

// NewHub creates a hub whose subscribers may lag by up to buffer messages.
func NewHub(buffer int, logger zerolog.Logger) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		clients: make(map[*client]struct{}),
		buffer:  buffer,
		logger:  logger.With().Str("component", "stream").Logger(),
	}
}

// Broadcast encodes v once and queues it for every subscriber.
func (h *Hub) Broadcast(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			h.removeLocked(c)
			close(c.dropped)
			h.logger.Warn().Msg("stream subscriber too slow, disconnecting")
		}
	}
	return nil
}

// Len reports the number of connected subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and streams events until the peer goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		h.logger.Debug().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.CloseNow()

	c := &client{send: make(chan []byte, h.buffer), dropped: make(chan struct{})}
	h.add(c)
	defer h.remove(c)

	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.dropped:
			conn.Close(websocket.StatusPolicyViolation, "subscriber too slow")
			return
		case payload := <-c.send:
			if err := write(ctx, conn, payload); err != nil {
				h.logger.Debug().Err(err).Msg("stream write failed")
				return
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, payload)
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.StreamClients.Set(float64(n))
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	h.removeLocked(c)
	h.mu.Unlock()
}

func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	metrics.StreamClients.Set(float64(len(h.clients)))
}
