// Package replay implements the golden replay harness (§4.10, module K):
// a scripted client that streams a WAV fixture at a live relay or backend
// and reports what came back, for regression testing against a running
// pipeline instead of unit-level mocks.
package replay

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/ghostengineai/glyphonic/pkg/audio"
	"github.com/ghostengineai/glyphonic/pkg/protocol"
)

const frameMs = 20

// Config configures a single replay run.
type Config struct {
	// URL is the WebSocket endpoint to dial (the relay's client-facing
	// address, or the backend directly).
	URL string

	// WAVPath is a mono 16-bit PCM WAV fixture, streamed as audio_chunk
	// frames after `start`.
	WAVPath string

	// TraceID seeds the session; "replay-<unix nanoseconds>" is used if
	// empty.
	TraceID string

	// CommitInstructions, when non-empty, is sent as commit.instructions
	// after the WAV finishes streaming (e.g. to script an opener-style
	// turn instead of relying on VAD/ASR downstream).
	CommitInstructions string

	// Timeout bounds the whole run, from dialing through waiting for
	// response_completed. Default 30s (§4.10).
	Timeout time.Duration
}

// Report is the run's JSON output (§4.10).
type Report struct {
	TraceID          string   `json:"traceId"`
	EventLog         []string `json:"eventLog"`
	Ms               int64    `json:"ms"`
	SawReady         bool     `json:"sawReady"`
	SawCompleted     bool     `json:"sawCompleted"`
	AssistantText    string   `json:"assistantText"`
	AudioDeltaChunks int      `json:"audioDeltaChunks"`
	TranscriptText   string   `json:"transcriptText,omitempty"`
	ErrorMessages    []string `json:"errorMessages,omitempty"`
}

// Run dials cfg.URL, streams cfg.WAVPath as 20ms audio_chunk frames, sends
// a commit, and collects every server event until response_completed or
// cfg.Timeout elapses. It returns a non-nil error whenever response_completed
// was not observed (a timeout, a transport failure, or the server ending the
// stream first, e.g. after an error event); once the socket is dialed, the
// Report collected so far is returned alongside that error.
func Run(ctx context.Context, cfg Config) (*Report, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	traceID := cfg.TraceID
	if traceID == "" {
		traceID = fmt.Sprintf("replay-%d", time.Now().UnixNano())
	}

	f, err := os.Open(cfg.WAVPath)
	if err != nil {
		return nil, fmt.Errorf("replay: open wav: %w", err)
	}
	defer f.Close()
	pcm, sampleRate, err := readWAV(f)
	if err != nil {
		return nil, err
	}
	if sampleRate != 16000 {
		return nil, fmt.Errorf("replay: wav sample rate %d, want 16000", sampleRate)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("replay: dial %s: %w", cfg.URL, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "replay complete")

	report := &Report{TraceID: traceID}
	start := time.Now()

	g, ctx := errgroup.WithContext(ctx)
	done := make(chan struct{})

	g.Go(func() error {
		defer close(done)
		return collectEvents(ctx, conn, report)
	})
	g.Go(func() error {
		return sendScript(ctx, conn, traceID, pcm, cfg.CommitInstructions)
	})

	select {
	case <-done:
	case <-ctx.Done():
	}
	if sendErr := g.Wait(); sendErr != nil && ctx.Err() == nil {
		report.ErrorMessages = append(report.ErrorMessages, sendErr.Error())
	}

	report.Ms = time.Since(start).Milliseconds()
	if !report.SawCompleted {
		return report, fmt.Errorf("replay: response_completed not observed within %s", timeout)
	}
	return report, nil
}

func sendScript(ctx context.Context, conn *websocket.Conn, traceID string, pcm []byte, instructions string) error {
	startEvt := protocol.StartEvent(traceID, "", "", float64(time.Now().Unix()), 24000)
	if err := writeClientEvent(ctx, conn, startEvt); err != nil {
		return err
	}

	frameSize := (16000 * frameMs / 1000) * 2 // 16-bit mono
	ticker := time.NewTicker(frameMs * time.Millisecond)
	defer ticker.Stop()

	for i := 0; i < len(pcm); i += frameSize {
		end := i + frameSize
		if end > len(pcm) {
			end = len(pcm)
		}
		chunk := protocol.AudioChunkEvent(audio.EncodeBase64(pcm[i:end]), traceID)
		if err := writeClientEvent(ctx, conn, chunk); err != nil {
			return err
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	commitEvt := protocol.CommitEvent("client_signal", instructions, traceID)
	return writeClientEvent(ctx, conn, commitEvt)
}

func writeClientEvent(ctx context.Context, conn *websocket.Conn, evt *protocol.ClientEvent) error {
	data, err := evt.Encode()
	if err != nil {
		return fmt.Errorf("replay: encode %s: %w", evt.Type, err)
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func collectEvents(ctx context.Context, conn *websocket.Conn, report *Report) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("replay: read: %w", err)
		}

		evt, err := protocol.DecodeServerEvent(data)
		if err != nil {
			continue
		}
		report.EventLog = append(report.EventLog, evt.Type)

		switch evt.Type {
		case protocol.TypeReady:
			report.SawReady = true
		case protocol.TypeTranscript:
			report.TranscriptText = evt.Text
		case protocol.TypeTextCompleted:
			report.AssistantText = evt.Text
		case protocol.TypeAudioDelta:
			report.AudioDeltaChunks++
		case protocol.TypeError:
			report.ErrorMessages = append(report.ErrorMessages, evt.Error)
		case protocol.TypeResponseCompleted:
			report.SawCompleted = true
			return nil
		}
	}
}
