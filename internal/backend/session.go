// Package backend implements the voice backend session (§4.7, module I):
// the turn state machine that owns per-turn ASR/TTS subprocess invocation
// and calls into the conversation core to produce assistant text.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ghostengineai/glyphonic/internal/backend/asrproc"
	"github.com/ghostengineai/glyphonic/internal/backend/conversation"
	"github.com/ghostengineai/glyphonic/internal/backend/ttsproc"
	"github.com/ghostengineai/glyphonic/internal/health"
	"github.com/ghostengineai/glyphonic/internal/observe"
	"github.com/ghostengineai/glyphonic/internal/resilience"
	"github.com/ghostengineai/glyphonic/internal/transcript"
	"github.com/ghostengineai/glyphonic/pkg/audio"
	"github.com/ghostengineai/glyphonic/pkg/pcmbuffer"
	"github.com/ghostengineai/glyphonic/pkg/protocol"
)

const (
	defaultOutputSampleRate = 24000
	wordChunkMaxLen         = 80
	sentenceChunkMaxLen     = 180
)

// state is the turn state machine's two states (§4.7).
type state int

const (
	stateIdle state = iota
	stateTurn
)

// Deps bundles the collaborators a Session needs beyond wire I/O.
type Deps struct {
	Provider   conversation.Provider
	ASR        asrproc.Transcriber
	TTS        ttsproc.Synthesizer
	Sink       transcript.Sink
	Metrics     *observe.Metrics
	ASRBreaker  *resilience.CircuitBreaker
	TTSBreaker  *resilience.CircuitBreaker
	SampleRates *health.SampleRates
}

// Session owns one WebSocket connection's turn state machine.
type Session struct {
	conn Conn
	deps Deps

	callID  string
	traceID string

	// spanCtx carries the remote span context seeded from traceID once
	// `start` is handled, so every turn's spans/logs report the same
	// correlation id as the wire protocol's traceId field. Falls back to
	// the ctx handed to Run when start hasn't been seen yet.
	spanCtx context.Context

	inputSampleRate  int
	outputSampleRate int

	buffer *pcmbuffer.Buffer

	mu        sync.Mutex
	st        state
	turnIndex int

	startedAt time.Time

	closeOnce sync.Once
}

// NewSession creates a Session bound to conn, ready to run its message loop.
func NewSession(conn Conn, deps Deps) *Session {
	return &Session{
		conn:             conn,
		deps:             deps,
		outputSampleRate: defaultOutputSampleRate,
		inputSampleRate:  16000,
		buffer:           &pcmbuffer.Buffer{},
		startedAt:        time.Now(),
	}
}

// Run reads and dispatches client events until the connection closes, ctx
// is cancelled, or an `end` event is received. It returns the reason the
// loop stopped.
func (s *Session) Run(ctx context.Context) error {
	defer s.Close("session ended")

	if s.deps.Metrics != nil {
		s.deps.Metrics.ActiveBackendSessions.Add(ctx, 1)
		defer s.deps.Metrics.ActiveBackendSessions.Add(ctx, -1)
	}

	for {
		raw, err := s.conn.ReadMessage(ctx)
		if err != nil {
			return fmt.Errorf("backend: read: %w", err)
		}

		evt, err := protocol.DecodeClientEvent(raw)
		if err != nil {
			s.sendError(ctx, err.Error())
			continue
		}

		if evt.Type == protocol.TypeEnd {
			return nil
		}

		if err := s.handleEvent(ctx, evt); err != nil {
			observe.Logger(ctx).Warn("backend: handle event failed", "type", evt.Type, "err", err)
		}

		// handleStart seeds spanCtx from the call's traceID; once available,
		// every later event in this connection's lifetime (commit, text, and
		// the turns they spawn) reports that same trace id instead of a
		// freshly minted one.
		if s.spanCtx != nil {
			ctx = s.spanCtx
		}
	}
}

func (s *Session) handleEvent(ctx context.Context, evt *protocol.ClientEvent) error {
	switch evt.Type {
	case protocol.TypeStart:
		return s.handleStart(ctx, evt)
	case protocol.TypeAudioChunk:
		return s.handleAudioChunk(evt)
	case protocol.TypeCommit:
		return s.handleCommit(ctx, evt)
	case protocol.TypeText:
		return s.handleText(ctx, evt)
	default:
		return nil
	}
}

func (s *Session) handleStart(ctx context.Context, evt *protocol.ClientEvent) error {
	s.callID = firstNonEmpty(evt.CallSid, evt.StreamSid)
	s.traceID = observe.SeedTraceID(firstNonEmpty(evt.TraceID, s.callID))
	s.spanCtx = observe.ContextWithTraceID(ctx, s.traceID)

	if evt.OutputSampleRate != 0 && protocol.ValidOutputSampleRate(evt.OutputSampleRate) {
		s.outputSampleRate = evt.OutputSampleRate
	}

	s.deps.SampleRates.RecordNegotiated(s.inputSampleRate, s.outputSampleRate)

	readyEvt := protocol.Ready(s.inputSampleRate, s.outputSampleRate, s.traceID)
	return s.send(ctx, readyEvt)
}

func (s *Session) handleAudioChunk(evt *protocol.ClientEvent) error {
	pcm, err := audio.DecodeBase64(evt.Audio)
	if err != nil {
		return fmt.Errorf("backend: decode audio_chunk: %w", err)
	}
	s.buffer.Append(pcm)
	return nil
}

func (s *Session) handleCommit(ctx context.Context, evt *protocol.ClientEvent) error {
	if !s.tryEnterTurn() {
		observe.Logger(ctx).Info("commit_ignored", "call_id", s.callID)
		return nil
	}

	pcm := s.buffer.TakeAll()
	go s.runTurn(ctx, turnInput{fromAudio: true, pcm: pcm, instructions: evt.Instructions})
	return nil
}

func (s *Session) handleText(ctx context.Context, evt *protocol.ClientEvent) error {
	if !s.tryEnterTurn() {
		observe.Logger(ctx).Info("commit_ignored", "call_id", s.callID)
		return nil
	}
	go s.runTurn(ctx, turnInput{fromAudio: false, text: evt.Text})
	return nil
}

// tryEnterTurn transitions idle → turn. Returns false if a turn is already
// in flight, per §4.7 ("turn rejects further commit").
func (s *Session) tryEnterTurn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st == stateTurn {
		return false
	}
	s.st = stateTurn
	s.turnIndex++
	return true
}

func (s *Session) leaveTurn() {
	s.mu.Lock()
	s.st = stateIdle
	s.mu.Unlock()
}

type turnInput struct {
	fromAudio    bool
	pcm          []byte
	text         string
	instructions string
}

// runTurn executes one full turn: ASR (if needed) → conversation core →
// text deltas → TTS → audio deltas → response_completed (§4.7 steps 1-8).
func (s *Session) runTurn(ctx context.Context, in turnInput) {
	defer s.leaveTurn()

	turnIndex := s.currentTurnIndex()
	ctx, span := observe.StartSpan(ctx, "backend.turn")
	defer span.End()
	logger := observe.Logger(ctx).With("call_id", s.callID, "turn", turnIndex)

	s.deps.metricsRecordTurnStarted(ctx)

	var userText string
	if in.fromAudio {
		if len(in.pcm) == 0 {
			s.emitEmptyTranscript(ctx, in.instructions, turnIndex)
			s.deps.metricsRecordTurnCompleted(ctx, "empty")
			return
		}

		logger.Info("asr_start", "ms", s.msSinceStart())
		text, err := s.transcribe(ctx, in.pcm)
		if err != nil {
			logger.Warn("asr_failed", "err", err)
			s.sendError(ctx, err.Error())
			s.deps.metricsRecordASRInvocation(ctx, "error")
			s.deps.metricsRecordTurnCompleted(ctx, "asr_error")
			return
		}
		logger.Info("asr_done", "ms", s.msSinceStart())
		s.deps.metricsRecordASRInvocation(ctx, "ok")

		userText = strings.TrimSpace(text)
		if userText == "" {
			logger.Info("empty_transcript")
			s.emitEmptyTranscript(ctx, in.instructions, turnIndex)
			s.deps.metricsRecordTurnCompleted(ctx, "empty")
			return
		}
		s.send(ctx, protocol.Transcript(userText, s.traceID))
	} else {
		userText = in.text
	}

	logger.Info("llm_start", "ms", s.msSinceStart())
	assistantText, err := s.deps.Provider.Respond(ctx, conversation.Request{
		UserText:     userText,
		Instructions: in.instructions,
		TurnIndex:    turnIndex,
	})
	if err != nil {
		logger.Warn("conversation provider failed", "err", err)
		s.sendError(ctx, err.Error())
		s.deps.metricsRecordTurnCompleted(ctx, "llm_error")
		return
	}
	logger.Info("llm_done", "ms", s.msSinceStart())

	for _, chunk := range splitWordChunks(assistantText, wordChunkMaxLen) {
		s.send(ctx, protocol.TextDelta(chunk, s.traceID))
	}
	s.send(ctx, protocol.TextCompleted(assistantText, s.traceID))

	responseID := uuid.New().String()
	s.synthesizeAndStream(ctx, logger, assistantText)

	s.send(ctx, protocol.ResponseCompleted(responseID, s.traceID))
	logger.Info("response_completed", "ms", s.msSinceStart())
	s.deps.metricsRecordTurnCompleted(ctx, "ok")

	s.writeTranscript(ctx, turnIndex, userText, assistantText, responseID, in.instructions)
}

// synthesizeAndStream runs step 7: sentence-bounded TTS chunks, each split
// into 20ms frames and emitted as ordered audio_delta events.
func (s *Session) synthesizeAndStream(ctx context.Context, logger *slog.Logger, assistantText string) {
	chunks := splitSentenceChunks(assistantText, sentenceChunkMaxLen)
	if len(chunks) == 0 {
		return
	}

	logger.Info("tts_start", "ms", s.msSinceStart())
	firstFrame := true
	frameSize := ttsproc.FrameSize20ms(s.outputSampleRate)

	for _, chunk := range chunks {
		pcm, err := s.synthesize(ctx, chunk)
		if err != nil {
			logger.Warn("tts_failed", "err", err)
			s.sendError(ctx, err.Error())
			s.deps.metricsRecordTTSInvocation(ctx, "error")
			// No retry for TTS (§7): stop the turn's chunk loop rather than
			// synthesizing the remaining sentences.
			break
		}
		s.deps.metricsRecordTTSInvocation(ctx, "ok")

		for _, frame := range ttsproc.SplitFrames(pcm, frameSize) {
			if firstFrame {
				logger.Info("tts_first_audio", "ms", s.msSinceStart())
				firstFrame = false
			}
			s.send(ctx, protocol.AudioDelta(audio.EncodeBase64(frame), s.traceID))
		}
	}
	logger.Info("tts_done", "ms", s.msSinceStart())
}

func (s *Session) transcribe(ctx context.Context, pcm []byte) (string, error) {
	if s.deps.ASR == nil {
		return "", errors.New("backend: no ASR runner configured")
	}
	var text string
	err := s.breakerExecute(s.deps.ASRBreaker, func() error {
		var innerErr error
		text, innerErr = s.deps.ASR.Transcribe(ctx, pcm)
		return innerErr
	})
	return text, err
}

func (s *Session) synthesize(ctx context.Context, text string) ([]byte, error) {
	if s.deps.TTS == nil {
		return nil, errors.New("backend: no TTS runner configured")
	}
	var pcm []byte
	err := s.breakerExecute(s.deps.TTSBreaker, func() error {
		var innerErr error
		pcm, innerErr = s.deps.TTS.Synthesize(ctx, text, s.outputSampleRate)
		return innerErr
	})
	return pcm, err
}

func (s *Session) breakerExecute(cb *resilience.CircuitBreaker, fn func() error) error {
	if cb == nil {
		return fn()
	}
	return cb.Execute(fn)
}

// emitEmptyTranscript handles §4.7 step 4: skip straight to
// response_completed with no transcript or deltas.
func (s *Session) emitEmptyTranscript(ctx context.Context, instructions string, turnIndex int) {
	responseID := uuid.New().String()
	s.send(ctx, protocol.ResponseCompleted(responseID, s.traceID))
	s.writeTranscript(ctx, turnIndex, "", "", responseID, instructions)
}

func (s *Session) writeTranscript(ctx context.Context, turnIndex int, userText, assistantText, responseID, instructions string) {
	if s.deps.Sink == nil {
		return
	}
	entry := transcript.Entry{
		CallID:        s.callID,
		TurnIndex:     turnIndex,
		TraceID:       s.traceID,
		UserText:      userText,
		AssistantText: assistantText,
		ResponseID:    responseID,
		Instructions:  instructions,
	}
	if err := s.deps.Sink.Write(ctx, entry); err != nil {
		observe.Logger(ctx).Warn("transcript sink write failed", "err", err)
	}
}

func (s *Session) send(ctx context.Context, evt *protocol.ServerEvent) error {
	data, err := evt.Encode()
	if err != nil {
		return fmt.Errorf("backend: encode event: %w", err)
	}
	return s.conn.WriteMessage(ctx, data)
}

func (s *Session) sendError(ctx context.Context, message string) {
	s.send(ctx, protocol.ErrorEvent(message, s.traceID))
}

func (s *Session) currentTurnIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turnIndex
}

func (s *Session) msSinceStart() int64 {
	return time.Since(s.startedAt).Milliseconds()
}

// Close tears down the connection. Idempotent.
func (s *Session) Close(reason string) error {
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.Close(reason)
	})
	return err
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func (d Deps) metricsRecordTurnStarted(ctx context.Context) {
	if d.Metrics != nil {
		d.Metrics.RecordTurnStarted(ctx)
	}
}

func (d Deps) metricsRecordTurnCompleted(ctx context.Context, outcome string) {
	if d.Metrics != nil {
		d.Metrics.RecordTurnCompleted(ctx, outcome)
	}
}

func (d Deps) metricsRecordASRInvocation(ctx context.Context, outcome string) {
	if d.Metrics != nil {
		d.Metrics.RecordASRInvocation(ctx, outcome)
	}
}

func (d Deps) metricsRecordTTSInvocation(ctx context.Context, outcome string) {
	if d.Metrics != nil {
		d.Metrics.RecordTTSInvocation(ctx, outcome)
	}
}
