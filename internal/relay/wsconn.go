package relay

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
)

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) ReadMessage(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (c *wsConn) WriteMessage(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *wsConn) Close(reason string) error {
	return c.conn.Close(websocket.StatusNormalClosure, reason)
}

// AcceptClientConn upgrades an inbound HTTP request to the client-facing
// WebSocket.
func AcceptClientConn(w http.ResponseWriter, r *http.Request) (Conn, error) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return nil, fmt.Errorf("relay: accept client ws: %w", err)
	}
	return &wsConn{conn: c}, nil
}

// DialBackend returns a Dialer that opens a WebSocket to url.
func DialBackend(url string) Dialer {
	return func(ctx context.Context) (Conn, error) {
		c, _, err := websocket.Dial(ctx, url, nil)
		if err != nil {
			return nil, fmt.Errorf("relay: dial backend: %w", err)
		}
		return &wsConn{conn: c}, nil
	}
}
