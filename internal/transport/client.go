package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
	sendBuffer     = 256
)

type client struct {
	id   string
	conn *websocket.Conn
	hub  *Hub
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newClient(id string, conn *websocket.Conn, hub *Hub) *client {
	return &client{
		id:   id,
		conn: conn,
		hub:  hub,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

func (c *client) enqueue(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

func (c *client) readPump(ctx context.Context, handler Handler) {
	defer func() {
		c.hub.remove(c)
		c.close()
		c.conn.Close()
		c.hub.log.WithField("subscriber_id", c.id).Info("operator disconnected")
		if handler != nil {
			handler.OnDisconnect(ctx, c.id)
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.hub.log.WithField("subscriber_id", c.id).WithError(err).Warn("read error")
			}
			return
		}
		c.processMessage(ctx, handler, message)
	}
}

func (c *client) processMessage(ctx context.Context, handler Handler, message []byte) {
	var f Frame
	if err := json.Unmarshal(message, &f); err != nil || f.Event == "" {
		c.hub.log.WithField("subscriber_id", c.id).Warnf("ignoring malformed frame: %.200s", message)
		return
	}

	if f.Event == EventPing {
		msg, _ := json.Marshal(Frame{Event: EventPong, Data: f.Data})
		c.enqueue(msg)
		return
	}
	if handler != nil {
		handler.OnMessage(ctx, c.id, f.Event, f.Data)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-c.done:
			c.flush()
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// flush writes whatever was queued before the connection was closed.
func (c *client) flush() {
	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		default:
			return
		}
	}
}
