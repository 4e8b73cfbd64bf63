// Package mock provides a test double for the conversation.Provider
// interface.
package mock

import (
	"context"
	"sync"

	"github.com/ghostengineai/glyphonic/internal/backend/conversation"
)

// Call records a single invocation of Respond.
type Call struct {
	Ctx context.Context
	Req conversation.Request
}

// Provider is a mock implementation of conversation.Provider. Zero values
// cause Respond to return an empty string and nil error. Set Err to inject
// a failure.
type Provider struct {
	mu sync.Mutex

	// Text is returned by Respond when Err is nil.
	Text string

	// Err, if non-nil, is returned as the error from Respond.
	Err error

	// Calls records every invocation of Respond in order.
	Calls []Call
}

// Respond records the call and returns Text, Err.
func (p *Provider) Respond(ctx context.Context, req conversation.Request) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, Call{Ctx: ctx, Req: req})
	if p.Err != nil {
		return "", p.Err
	}
	return p.Text, nil
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}

var _ conversation.Provider = (*Provider)(nil)
