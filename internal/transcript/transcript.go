// Package transcript defines the optional fire-and-forget turn-completion
// sink (§6.4). A sink failure is swallowed and logged at warn by the
// backend session; it never aborts a turn or writes audio.
package transcript

import "context"

// Entry is one completed turn.
type Entry struct {
	// CallID identifies the call this turn belongs to.
	CallID string

	// TurnIndex is the 1-based index of this turn within the call.
	TurnIndex int

	// TraceID is the propagated correlation id for the call.
	TraceID string

	// UserText is the committed transcript (or literal text-turn input).
	UserText string

	// AssistantText is the full synthesized reply.
	AssistantText string

	// ResponseID identifies the completed response.
	ResponseID string

	// Instructions is set only for the opener turn.
	Instructions string
}

// Sink persists completed turns. Implementations must not block the
// calling turn for long; Write is called synchronously at
// response_completed time and its result is logged, not propagated.
type Sink interface {
	Write(ctx context.Context, entry Entry) error
}

// Noop is a Sink that discards every entry. Used when transcript.enabled
// is false.
type Noop struct{}

// Write always returns nil without persisting anything.
func (Noop) Write(context.Context, Entry) error { return nil }

var _ Sink = Noop{}
