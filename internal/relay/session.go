// Package relay implements the relay repeater (§4.6, module H): a nearly
// transparent WebSocket tunnel between a client (typically the telephony
// bridge) and the voice backend, with a pre-ready queue absorbing frames
// sent before the backend socket is dialed.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ghostengineai/glyphonic/internal/observe"
	"github.com/ghostengineai/glyphonic/pkg/protocol"
	"github.com/ghostengineai/glyphonic/pkg/readyqueue"
)

// Config holds relay session tunables.
type Config struct {
	Metrics *observe.Metrics
}

// Session forwards frames byte-identically between one client connection
// and one backend connection.
type Session struct {
	client Conn
	dial   Dialer
	cfg    Config

	traceID  string
	sawStart bool

	backendMu sync.Mutex
	backend   Conn
	preReady  *readyqueue.Queue

	closeOnce sync.Once
}

// NewSession constructs a Session for one accepted client connection.
func NewSession(client Conn, dial Dialer, cfg Config) *Session {
	return &Session{
		client:   client,
		dial:     dial,
		cfg:      cfg,
		preReady: readyqueue.New(readyqueue.DefaultCapacity),
	}
}

// Run drives the tunnel until either leg ends or ctx is cancelled.
func (s *Session) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.clientLoop(ctx) })
	g.Go(func() error { return s.backendLoop(ctx) })

	err := g.Wait()
	s.teardown(fmt.Sprintf("%v", err))
	return err
}

func (s *Session) clientLoop(ctx context.Context) error {
	for {
		raw, err := s.client.ReadMessage(ctx)
		if err != nil {
			return fmt.Errorf("relay: client read: %w", err)
		}
		s.sniff(raw)
		if err := s.forwardToBackend(ctx, raw); err != nil {
			return err
		}
	}
}

// sniff extracts traceId for logging only; the frame is still forwarded
// verbatim regardless of what sniff finds (§4.6, "no protocol mutation").
func (s *Session) sniff(raw []byte) {
	var probe struct {
		Type    string `json:"type"`
		TraceID string `json:"traceId"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return
	}
	if probe.TraceID != "" {
		s.traceID = probe.TraceID
	}
	if probe.Type == protocol.TypeStart {
		s.sawStart = true
	}
}

// forwardToBackend writes raw to the backend connection if it is already
// open, or enqueues it on the pre-ready queue otherwise. The backend field
// and the queue are both guarded by backendMu so a frame is never both
// enqueued and dropped by a concurrent drain.
func (s *Session) forwardToBackend(ctx context.Context, raw []byte) error {
	s.backendMu.Lock()
	backend := s.backend
	if backend == nil {
		dropped := s.preReady.Enqueue(raw)
		s.backendMu.Unlock()
		if dropped {
			observe.Logger(ctx).Warn("relay: pre-ready queue overflow, dropped oldest frame",
				"trace_id", s.traceID, "capacity", readyqueue.DefaultCapacity)
			if s.cfg.Metrics != nil {
				s.cfg.Metrics.RecordPreReadyQueueOverflow(ctx, "relay_backend")
			}
		}
		return nil
	}
	s.backendMu.Unlock()
	return backend.WriteMessage(ctx, raw)
}

func (s *Session) backendLoop(ctx context.Context) error {
	backend, err := s.dial(ctx)
	if err != nil {
		return fmt.Errorf("relay: dial backend: %w", err)
	}

	s.backendMu.Lock()
	s.backend = backend
	frames := s.preReady.DrainAll()
	s.backendMu.Unlock()

	for _, frame := range frames {
		if err := backend.WriteMessage(ctx, frame); err != nil {
			return fmt.Errorf("relay: flush pre-ready queue: %w", err)
		}
	}

	for {
		raw, err := backend.ReadMessage(ctx)
		if err != nil {
			s.sendClientError(ctx, "backend connection closed")
			return fmt.Errorf("relay: backend read: %w", err)
		}
		if err := s.client.WriteMessage(ctx, raw); err != nil {
			return fmt.Errorf("relay: client write: %w", err)
		}
	}
}

func (s *Session) sendClientError(ctx context.Context, message string) {
	evt := protocol.ErrorEvent(message, s.traceID)
	data, err := evt.Encode()
	if err != nil {
		return
	}
	_ = s.client.WriteMessage(ctx, data)
}

func (s *Session) teardown(reason string) {
	s.closeOnce.Do(func() {
		s.client.Close(reason)
		s.backendMu.Lock()
		backend := s.backend
		s.backendMu.Unlock()
		if backend != nil {
			backend.Close(reason)
		}
	})
}
