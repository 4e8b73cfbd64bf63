// Package mock provides a test double for the ttsproc.Synthesizer
// interface.
package mock

import (
	"context"
	"sync"

	"github.com/ghostengineai/glyphonic/internal/backend/ttsproc"
)

// Call records a single invocation of Synthesize.
type Call struct {
	Text       string
	SampleRate int
}

// Synthesizer is a mock implementation of ttsproc.Synthesizer. Zero values
// cause Synthesize to return nil PCM and nil error. Set Err to inject a
// failure, or PCM to return fixed audio.
type Synthesizer struct {
	mu sync.Mutex

	// PCM is returned by Synthesize when Err is nil.
	PCM []byte

	// Err, if non-nil, is returned as the error from Synthesize.
	Err error

	// Calls records every invocation of Synthesize in order.
	Calls []Call
}

// Synthesize records the call and returns PCM, Err.
func (s *Synthesizer) Synthesize(ctx context.Context, text string, sampleRate int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = append(s.Calls, Call{Text: text, SampleRate: sampleRate})
	if s.Err != nil {
		return nil, s.Err
	}
	return s.PCM, nil
}

var _ ttsproc.Synthesizer = (*Synthesizer)(nil)
