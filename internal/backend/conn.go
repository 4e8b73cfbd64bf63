package backend

import "context"

// Conn abstracts the WebSocket connection a Session speaks the wire
// protocol (§6.1) over, so the turn state machine can be tested without a
// live socket.
type Conn interface {
	// ReadMessage blocks for the next text frame.
	ReadMessage(ctx context.Context) ([]byte, error)

	// WriteMessage sends data as a single text frame.
	WriteMessage(ctx context.Context, data []byte) error

	// Close tears down the connection with reason as the close message.
	Close(reason string) error
}
