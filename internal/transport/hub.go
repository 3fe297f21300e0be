// Package transport delivers named events to operator websocket connections.
//
// Every frame in both directions is a JSON object {"event": name, "data": ...}.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	EventPing = "ping"
	EventPong = "pong"
)

var (
	ErrUnknownRecipient = errors.New("unknown recipient")
	ErrSendBufferFull   = errors.New("send buffer full")
)

type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Handler receives connection lifecycle and inbound frames. Calls for one
// connection are sequential.
type Handler interface {
	OnConnect(ctx context.Context, id string)
	OnMessage(ctx context.Context, id string, event string, data json.RawMessage)
	OnDisconnect(ctx context.Context, id string)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
	handler Handler
	log     *logrus.Entry
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*client),
		log:     logrus.WithField("component", "transport"),
	}
}

// SetHandler must be called before the hub serves connections.
func (h *Hub) SetHandler(handler Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handler = handler
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("error upgrading connection to websocket")
		return
	}

	c := newClient(uuid.NewString(), conn, h)

	h.mu.Lock()
	h.clients[c.id] = c
	handler := h.handler
	h.mu.Unlock()

	h.log.WithField("subscriber_id", c.id).Info("operator connected")

	ctx := context.WithoutCancel(r.Context())
	go c.writePump()
	go func() {
		if handler != nil {
			handler.OnConnect(ctx, c.id)
		}
		c.readPump(ctx, handler)
	}()
}

// Emit sends event to the connection to. An empty or absent recipient is
// not an error.
func (h *Hub) Emit(ctx context.Context, event string, payload any, to string) error {
	if to == "" {
		return nil
	}

	h.mu.RLock()
	c, ok := h.clients[to]
	h.mu.RUnlock()
	if !ok {
		h.log.WithField("subscriber_id", to).WithField("event", event).Debug("dropping event for absent recipient")
		return nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}
	msg, err := json.Marshal(Frame{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("marshal %s frame: %w", event, err)
	}

	if !c.enqueue(msg) {
		c.close()
		return fmt.Errorf("%w: %s", ErrSendBufferFull, to)
	}
	return nil
}

// Disconnect closes the connection to.
func (h *Hub) Disconnect(ctx context.Context, to string) error {
	h.mu.RLock()
	c, ok := h.clients[to]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRecipient, to)
	}
	c.close()
	return nil
}

func (h *Hub) Connected(id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[id]
	return ok
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.close()
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c.id] == c {
		delete(h.clients, c.id)
	}
}
