// Package app provides the shared process-lifecycle scaffolding used by the
// bridge, relay, and backend binaries: ordered teardown of subsystems and a
// deadline-respecting Shutdown.
//
// Each binary constructs its own Lifecycle, registers closers as it wires up
// subsystems (listeners, subprocess pools, transcript sinks), then calls
// Shutdown from its signal handler.
package app

import (
	"context"
	"log/slog"
	"sync"
)

// Lifecycle owns an ordered list of closers and runs them once, in
// registration order, respecting a shutdown deadline.
type Lifecycle struct {
	mu      sync.Mutex
	closers []namedCloser

	stopOnce sync.Once
	stopErr  error
}

type namedCloser struct {
	name  string
	close func() error
}

// New creates an empty Lifecycle.
func New() *Lifecycle {
	return &Lifecycle{}
}

// AddCloser registers fn to run during Shutdown. Closers run in the order
// they were added. name is used only for logging.
func (l *Lifecycle) AddCloser(name string, fn func() error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closers = append(l.closers, namedCloser{name: name, close: fn})
}

// Shutdown runs all registered closers in order. It is safe to call
// multiple times; only the first call runs the closers. If ctx expires
// before all closers finish, remaining closers are skipped and ctx.Err()
// is returned.
func (l *Lifecycle) Shutdown(ctx context.Context) error {
	l.stopOnce.Do(func() {
		l.mu.Lock()
		closers := l.closers
		l.mu.Unlock()

		slog.Info("shutting down", "closers", len(closers))
		for i, c := range closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(closers)-i)
				l.stopErr = ctx.Err()
				return
			default:
			}
			if err := c.close(); err != nil {
				slog.Warn("closer error", "name", c.name, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return l.stopErr
}
