package rodengine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// conn carries the devtools protocol for rod's cdp client. Owning the socket
// lets Close detach without sending Browser.close.
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func dial(ctx context.Context, wsURL string) (*conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   64 * 1024,
		WriteBufferSize:  64 * 1024,
	}

	ws, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}
	return &conn{ws: ws}, nil
}

func (c *conn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *conn) Read() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	return data, err
}

func (c *conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.ws.Close()
}
