// Package postgres provides a pgx-backed implementation of
// transcript.Sink, persisting completed turns to a single table.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ghostengineai/glyphonic/internal/transcript"
)

const ddlTurns = `
CREATE TABLE IF NOT EXISTS turns (
    id             BIGSERIAL   PRIMARY KEY,
    call_id        TEXT        NOT NULL,
    turn_index     INT         NOT NULL,
    trace_id       TEXT        NOT NULL DEFAULT '',
    user_text      TEXT        NOT NULL DEFAULT '',
    assistant_text TEXT        NOT NULL DEFAULT '',
    response_id    TEXT        NOT NULL DEFAULT '',
    instructions   TEXT        NOT NULL DEFAULT '',
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_turns_call_id ON turns (call_id);
`

// Sink writes completed turns to a "turns" table via a pooled connection.
type Sink struct {
	pool *pgxpool.Pool
}

// New connects to dsn and ensures the turns table exists.
func New(ctx context.Context, dsn string) (*Sink, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("transcript/postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("transcript/postgres: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, ddlTurns); err != nil {
		pool.Close()
		return nil, fmt.Errorf("transcript/postgres: migrate: %w", err)
	}
	return &Sink{pool: pool}, nil
}

// Write inserts entry as a new row.
func (s *Sink) Write(ctx context.Context, entry transcript.Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO turns (call_id, turn_index, trace_id, user_text, assistant_text, response_id, instructions)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.CallID, entry.TurnIndex, entry.TraceID, entry.UserText, entry.AssistantText, entry.ResponseID, entry.Instructions,
	)
	if err != nil {
		return fmt.Errorf("transcript/postgres: insert: %w", err)
	}
	return nil
}

// Ping checks that the connection pool can still reach postgres, for use
// as a readiness checker.
func (s *Sink) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Sink) Close() {
	s.pool.Close()
}

var _ transcript.Sink = (*Sink)(nil)
