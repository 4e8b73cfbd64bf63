package relay

import "context"

// Conn abstracts a single WebSocket leg (client-facing or
// backend-facing) so Session can be tested without live sockets.
type Conn interface {
	// ReadMessage blocks for the next text frame.
	ReadMessage(ctx context.Context) ([]byte, error)

	// WriteMessage sends data as a single text frame.
	WriteMessage(ctx context.Context, data []byte) error

	// Close tears down the connection with reason as the close message.
	Close(reason string) error
}

// Dialer opens a new downstream Conn for a session.
type Dialer func(ctx context.Context) (Conn, error)
