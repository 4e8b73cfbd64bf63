package bridge

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
)

// wsConn adapts a *websocket.Conn to Conn, in the style of the teacher's
// pkg/provider/s2s/openai session type (writeJSON/receiveLoop over a
// websocket.Conn, sync.Once-free here since Close is already idempotent on
// the underlying connection).
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

// AcceptCarrierConn upgrades an inbound HTTP request to the carrier media
// WebSocket.
func AcceptCarrierConn(w http.ResponseWriter, r *http.Request) (Conn, error) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // carrier media WebSockets do not set an Origin header
	})
	if err != nil {
		return nil, fmt.Errorf("bridge: accept carrier ws: %w", err)
	}
	return &wsConn{conn: c}, nil
}

// DialDownstream returns a Dialer that opens a WebSocket to url.
func DialDownstream(url string) Dialer {
	return func(ctx context.Context) (Conn, error) {
		c, _, err := websocket.Dial(ctx, url, nil)
		if err != nil {
			return nil, fmt.Errorf("bridge: dial downstream: %w", err)
		}
		return &wsConn{conn: c}, nil
	}
}
