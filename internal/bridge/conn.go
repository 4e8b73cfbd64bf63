package bridge

import "context"

// Conn abstracts a single WebSocket leg — either the carrier media socket
// or the downstream relay/backend socket — so Session can be tested
// without live sockets on either side.
type Conn interface {
	// ReadMessage blocks for the next text frame.
	ReadMessage(ctx context.Context) ([]byte, error)

	// WriteMessage sends data as a single text frame.
	WriteMessage(ctx context.Context, data []byte) error

	// Close tears down the connection with reason as the close message.
	Close(reason string) error
}

// Dialer opens a new downstream Conn for a session. Sessions accept a
// Dialer instead of dialing directly so tests can substitute an in-memory
// downstream peer.
type Dialer func(ctx context.Context) (Conn, error)
