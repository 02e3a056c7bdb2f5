package events

import (
	"context"
	"net/http"
	"sync"
	"time"

	"shopfront/internal/domain"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait = 5 * time.Second
	// sendBuffer is how many events may queue for one client before it is dropped
	sendBuffer = 64
)

// Hub fans order events out to connected admin websocket clients. Delivery
// is best effort; a client that cannot keep up is dropped. Each client has
// its own writer goroutine, so Broadcast never waits on the network.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu      sync.Mutex
	clients map[*feedClient]struct{}
}

type feedClient struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

// NewHub accepts connections from allowedOrigins. An empty list, or a
// request without an Origin header, is accepted.
func NewHub(allowedOrigins []string, logger *zap.Logger) *Hub {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}

	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || len(allowed) == 0 {
					return true
				}
				_, ok := allowed[origin]
				return ok
			},
		},
		logger:  logger,
		clients: make(map[*feedClient]struct{}),
	}
}

// ServeHTTP upgrades the request and keeps the client registered until it
// disconnects. Anything the client sends is discarded.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}

	c := &feedClient{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("Feed client connected", zap.String("remote_addr", r.RemoteAddr))

	go h.writeLoop(c)

	defer h.remove(c)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *feedClient) {
	for {
		select {
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.remove(c)
				return
			}
		case <-c.done:
			return
		}
	}
}

// Broadcast queues payload for every client without blocking. Clients whose
// queue is full are disconnected.
func (h *Hub) Broadcast(payload []byte) {
	h.mu.Lock()
	targets := make([]*feedClient, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	var slow []*feedClient
	for _, c := range targets {
		select {
		case c.send <- payload:
		case <-c.done:
		default:
			slow = append(slow, c)
		}
	}

	for _, c := range slow {
		h.logger.Warn("Dropping slow feed client", zap.String("remote_addr", c.conn.RemoteAddr().String()))
		h.remove(c)
	}
}

// Publish lets the hub sit behind the outbox relay. It never fails.
func (h *Hub) Publish(_ context.Context, msg domain.OutboxMessage) error {
	h.Broadcast(msg.Payload)
	return nil
}

// Clients reports how many connections are registered
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*feedClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		close(c.done)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		c.conn.Close()
	}
}

// remove unregisters c once; later calls are no-ops
func (h *Hub) remove(c *feedClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()

	if ok {
		close(c.done)
		c.conn.Close()
	}
}
