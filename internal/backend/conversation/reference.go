package conversation

import (
	"context"
	"fmt"
)

// Reference is the deterministic conversation core used when no real
// language model is configured. It acknowledges the user's text with a
// turn-indexed reply so that end-to-end tests (including the golden replay
// harness) observe stable, reproducible output.
//
// Reference holds no state of its own: it echoes back req.TurnIndex, which
// the calling session scopes to its own call. A single Reference instance
// is shared across every concurrent call the backend serves (§5 "no shared
// mutable state except... metric counters"), so it must not keep a
// process-wide counter — that would make one call's turn numbers depend on
// how many turns other, unrelated calls have already run.
type Reference struct{}

// NewReference creates a Reference conversation core.
func NewReference() *Reference {
	return &Reference{}
}

// Respond returns a fixed-shape acknowledgment. If req.Instructions is set
// (the bridge's opener turn), it echoes the instruction verbatim instead of
// the usual acknowledgment shape, since the caller asked the assistant to
// "speak the opener verbatim" (§4.5).
func (r *Reference) Respond(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if req.Instructions != "" {
		return req.Instructions, nil
	}
	return fmt.Sprintf("Turn %d acknowledged: %s", req.TurnIndex, req.UserText), nil
}

var _ Provider = (*Reference)(nil)
