// Package bridge implements the telephony bridge session (§4.5, module G):
// it terminates one carrier media WebSocket, opens one downstream relay or
// backend WebSocket, and shuttles audio both ways, running the frame-level
// VAD on inbound audio and framing outbound audio back to the carrier in
// exact 20ms chunks.
package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ghostengineai/glyphonic/internal/health"
	"github.com/ghostengineai/glyphonic/internal/observe"
	"github.com/ghostengineai/glyphonic/pkg/audio"
	"github.com/ghostengineai/glyphonic/pkg/protocol"
	"github.com/ghostengineai/glyphonic/pkg/readyqueue"
	"github.com/ghostengineai/glyphonic/pkg/vad"
)

const carrierFrameBytes = 160 // 8kHz mono 8-bit mu-law, 20ms

// Config holds the per-session tunables sourced from the bridge's static
// configuration (§6.3).
type Config struct {
	VAD              vad.Config
	InputSampleRate  int // PCM rate forwarded to the backend, default 16000
	OutputSampleRate int // default negotiated backend output rate, default 24000

	// OpenerText, when non-empty, is spoken by the assistant as the first
	// turn once the downstream socket signals ready (§4.5).
	OpenerText string

	Metrics     *observe.Metrics
	SampleRates *health.SampleRates
}

func (c Config) withDefaults() Config {
	if c.InputSampleRate == 0 {
		c.InputSampleRate = 16000
	}
	if c.OutputSampleRate == 0 {
		c.OutputSampleRate = 24000
	}
	return c
}

// Session owns one carrier call for its lifetime.
type Session struct {
	carrier Conn
	dial    Dialer
	cfg     Config

	callID    string
	streamID  string
	traceID   string
	startedAt time.Time

	// spanCtx carries the remote span context seeded from traceID once the
	// carrier's start event is handled, so every log line for the rest of
	// the call reports the same correlation id as the wire protocol's
	// traceId field.
	spanCtx context.Context

	downstreamMu     sync.Mutex
	downstream       Conn
	ready            bool
	greeted          bool
	outputSampleRate int
	preReady         *readyqueue.Queue

	detector *vad.Detector

	outboundMu     sync.Mutex
	outboundBuffer []byte

	closeOnce sync.Once
}

// NewSession constructs a Session for one accepted carrier connection.
func NewSession(carrier Conn, dial Dialer, cfg Config) *Session {
	cfg = cfg.withDefaults()
	return &Session{
		carrier:   carrier,
		dial:      dial,
		cfg:              cfg,
		detector:         vad.New(cfg.VAD),
		preReady:         readyqueue.New(readyqueue.DefaultCapacity),
		startedAt:        time.Now(),
		outputSampleRate: cfg.OutputSampleRate,
	}
}

// Run drives the session until the carrier or downstream leg ends, or ctx
// is cancelled. It always returns after tearing down both legs.
func (s *Session) Run(ctx context.Context) error {
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ActiveCallSessions.Add(ctx, 1)
		defer s.cfg.Metrics.ActiveCallSessions.Add(ctx, -1)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.carrierLoop(ctx, g) })

	err := g.Wait()
	s.teardown(fmt.Sprintf("%v", err))
	return err
}

func (s *Session) carrierLoop(ctx context.Context, g *errgroup.Group) error {
	for {
		raw, err := s.carrier.ReadMessage(ctx)
		if err != nil {
			return fmt.Errorf("bridge: carrier read: %w", err)
		}

		evt, err := protocol.DecodeCarrierEvent(raw)
		if err != nil {
			observe.Logger(ctx).Warn("bridge: malformed carrier event", "err", err)
			continue
		}

		if err := s.handleCarrierEvent(ctx, g, evt); err != nil {
			return err
		}

		if s.spanCtx != nil {
			ctx = s.spanCtx
		}
	}
}

func (s *Session) handleCarrierEvent(ctx context.Context, g *errgroup.Group, evt *protocol.CarrierEvent) error {
	switch evt.Event {
	case protocol.CarrierEventStart:
		return s.handleCarrierStart(ctx, g, evt)
	case protocol.CarrierEventMedia:
		return s.handleCarrierMedia(ctx, evt)
	case protocol.CarrierEventDTMF:
		return s.handleCarrierDTMF(ctx, evt)
	case protocol.CarrierEventStop:
		return fmt.Errorf("bridge: carrier stop")
	default:
		return nil
	}
}

func (s *Session) handleCarrierStart(ctx context.Context, g *errgroup.Group, evt *protocol.CarrierEvent) error {
	if evt.Start != nil {
		s.callID = evt.Start.CallSid
		s.streamID = evt.Start.StreamSid
	}
	if s.streamID == "" {
		s.streamID = evt.StreamSid
	}
	s.traceID = observe.SeedTraceID(s.callID)
	s.spanCtx = observe.ContextWithTraceID(ctx, s.traceID)
	ctx = s.spanCtx

	logger := observe.Logger(ctx).With("call_id", s.callID, "trace_id", s.traceID)
	logger.Info("bridge_start")

	downstream, err := s.dial(ctx)
	if err != nil {
		return fmt.Errorf("bridge: open downstream: %w", err)
	}
	s.downstreamMu.Lock()
	s.downstream = downstream
	s.downstreamMu.Unlock()

	startEvt := protocol.StartEvent(s.traceID, s.callID, s.streamID, float64(s.startedAt.Unix()), s.cfg.OutputSampleRate)
	if err := s.sendDownstream(ctx, startEvt); err != nil {
		return fmt.Errorf("bridge: send start: %w", err)
	}

	g.Go(func() error { return s.downstreamLoop(ctx) })
	return nil
}

// sendDownstream queues data on the pre-ready queue until the downstream
// peer has signalled ready, then sends directly.
func (s *Session) sendDownstream(ctx context.Context, evt *protocol.ClientEvent) error {
	data, err := evt.Encode()
	if err != nil {
		return fmt.Errorf("bridge: encode: %w", err)
	}

	s.downstreamMu.Lock()
	ready := s.ready
	downstream := s.downstream
	s.downstreamMu.Unlock()

	if !ready {
		if dropped := s.preReady.Enqueue(data); dropped {
			observe.Logger(ctx).Warn("bridge: pre-ready queue overflow, dropped oldest frame",
				"trace_id", s.traceID, "capacity", readyqueue.DefaultCapacity)
			if s.cfg.Metrics != nil {
				s.cfg.Metrics.RecordPreReadyQueueOverflow(ctx, "bridge_downstream")
			}
		}
		return nil
	}
	return downstream.WriteMessage(ctx, data)
}

func (s *Session) handleCarrierMedia(ctx context.Context, evt *protocol.CarrierEvent) error {
	if evt.Media == nil {
		return nil
	}
	mulaw, err := audio.DecodeBase64(evt.Media.Payload)
	if err != nil {
		return nil
	}

	pcm8k := audio.MulawToPCM16(mulaw)
	pcm16k := audio.ResampleMono16(pcm8k, 8000, s.cfg.InputSampleRate)

	chunkEvt := protocol.AudioChunkEvent(audio.EncodeBase64(pcm16k), s.traceID)
	if err := s.sendDownstream(ctx, chunkEvt); err != nil {
		return err
	}

	s.outboundMu.Lock()
	outboundNonEmpty := len(s.outboundBuffer) > 0
	s.outboundMu.Unlock()

	result := s.detector.Process(pcm8k, outboundNonEmpty)
	if s.cfg.Metrics != nil && result.BargeIn {
		s.cfg.Metrics.RecordBargeIn(ctx)
	}
	if result.BargeIn {
		s.outboundMu.Lock()
		s.outboundBuffer = nil
		s.outboundMu.Unlock()

		if err := s.sendDownstream(ctx, protocol.EndEvent(s.traceID)); err != nil {
			return err
		}
	}
	if result.Commit != vad.ReasonNone {
		commitEvt := protocol.CommitEvent(string(result.Commit), "", s.traceID)
		return s.sendDownstream(ctx, commitEvt)
	}
	return nil
}

func (s *Session) handleCarrierDTMF(ctx context.Context, evt *protocol.CarrierEvent) error {
	if evt.DTMF == nil {
		return nil
	}
	switch evt.DTMF.Digit {
	case "#":
		s.detector.Reset()
		return s.sendDownstream(ctx, protocol.CommitEvent("dtmf", "", s.traceID))
	case "*":
		return s.sendDownstream(ctx, protocol.EndEvent(s.traceID))
	default:
		return nil
	}
}

func (s *Session) downstreamLoop(ctx context.Context) error {
	s.downstreamMu.Lock()
	downstream := s.downstream
	s.downstreamMu.Unlock()

	for {
		raw, err := downstream.ReadMessage(ctx)
		if err != nil {
			return fmt.Errorf("bridge: downstream read: %w", err)
		}

		evt, err := protocol.DecodeServerEvent(raw)
		if err != nil {
			observe.Logger(ctx).Warn("bridge: malformed downstream event", "err", err)
			continue
		}

		if err := s.handleDownstreamEvent(ctx, evt); err != nil {
			return err
		}
	}
}

func (s *Session) handleDownstreamEvent(ctx context.Context, evt *protocol.ServerEvent) error {
	switch evt.Type {
	case protocol.TypeReady:
		return s.handleDownstreamReady(ctx, evt)
	case protocol.TypeAudioDelta:
		return s.handleDownstreamAudioDelta(ctx, evt)
	case protocol.TypeResponseCompleted:
		s.outboundMu.Lock()
		s.outboundBuffer = nil
		s.outboundMu.Unlock()
		return nil
	default:
		return nil
	}
}

func (s *Session) handleDownstreamReady(ctx context.Context, evt *protocol.ServerEvent) error {
	if evt.OutputSampleRate != 0 {
		s.outputSampleRate = evt.OutputSampleRate
	}
	s.cfg.SampleRates.RecordNegotiated(s.cfg.InputSampleRate, s.outputSampleRate)

	s.downstreamMu.Lock()
	s.ready = true
	downstream := s.downstream
	frames := s.preReady.DrainAll()
	s.downstreamMu.Unlock()

	for _, frame := range frames {
		if err := downstream.WriteMessage(ctx, frame); err != nil {
			return fmt.Errorf("bridge: flush pre-ready queue: %w", err)
		}
	}

	s.downstreamMu.Lock()
	greeted := s.greeted
	if s.cfg.OpenerText != "" && !greeted {
		s.greeted = true
	}
	s.downstreamMu.Unlock()

	if s.cfg.OpenerText != "" && !greeted {
		return s.sendDownstream(ctx, protocol.CommitEvent("", s.cfg.OpenerText, s.traceID))
	}
	return nil
}

func (s *Session) handleDownstreamAudioDelta(ctx context.Context, evt *protocol.ServerEvent) error {
	pcm, err := audio.DecodeBase64(evt.Audio)
	if err != nil {
		return nil
	}

	pcm8k := audio.ResampleMono16(pcm, s.outputSampleRate, 8000)
	mulaw := audio.PCM16ToMulaw(pcm8k)

	s.outboundMu.Lock()
	s.outboundBuffer = append(s.outboundBuffer, mulaw...)
	var frames [][]byte
	for len(s.outboundBuffer) >= carrierFrameBytes {
		frames = append(frames, s.outboundBuffer[:carrierFrameBytes])
		s.outboundBuffer = s.outboundBuffer[carrierFrameBytes:]
	}
	s.outboundMu.Unlock()

	for _, frame := range frames {
		out := protocol.NewCarrierMediaOut(s.streamID, audio.EncodeBase64(frame))
		data, err := out.Encode()
		if err != nil {
			return fmt.Errorf("bridge: encode carrier media: %w", err)
		}
		if err := s.carrier.WriteMessage(ctx, data); err != nil {
			return fmt.Errorf("bridge: carrier write: %w", err)
		}
	}
	return nil
}

func (s *Session) teardown(reason string) {
	s.closeOnce.Do(func() {
		s.carrier.Close(reason)
		s.downstreamMu.Lock()
		downstream := s.downstream
		s.downstreamMu.Unlock()
		if downstream != nil {
			downstream.Close(reason)
		}
	})
}
