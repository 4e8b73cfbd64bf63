// Package mock provides a test double for the asrproc.Transcriber
// interface.
package mock

import (
	"context"
	"sync"

	"github.com/ghostengineai/glyphonic/internal/backend/asrproc"
)

// Call records a single invocation of Transcribe.
type Call struct {
	PCM []byte
}

// Transcriber is a mock implementation of asrproc.Transcriber. Zero values
// cause Transcribe to return an empty string and nil error. Set Err to
// inject a failure.
type Transcriber struct {
	mu sync.Mutex

	// Text is returned by Transcribe when Err is nil.
	Text string

	// Err, if non-nil, is returned as the error from Transcribe.
	Err error

	// Calls records every invocation of Transcribe in order.
	Calls []Call
}

// Transcribe records the call and returns Text, Err.
func (t *Transcriber) Transcribe(ctx context.Context, pcm16 []byte) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := make([]byte, len(pcm16))
	copy(cp, pcm16)
	t.Calls = append(t.Calls, Call{PCM: cp})
	if t.Err != nil {
		return "", t.Err
	}
	return t.Text, nil
}

var _ asrproc.Transcriber = (*Transcriber)(nil)
