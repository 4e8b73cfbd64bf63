package backend

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

// AcceptConn upgrades an inbound HTTP request to the backend's client
// WebSocket (the bridge or relay is the client from the backend's
// perspective).
func AcceptConn(w http.ResponseWriter, r *http.Request) (Conn, error) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return nil, fmt.Errorf("backend: accept ws: %w", err)
	}
	return &wsConn{conn: c}, nil
}
