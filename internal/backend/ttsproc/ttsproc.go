// Package ttsproc invokes an external text-to-speech binary as a per-turn
// subprocess (§4.7) and returns raw mono PCM16 output at the negotiated
// sample rate.
package ttsproc

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// Config describes how to invoke the TTS binary.
type Config struct {
	// BinaryPath is the executable to run.
	BinaryPath string

	// ModelPath is passed as -model when non-empty.
	ModelPath string

	// ConfigPath is passed as -config when non-empty.
	ConfigPath string

	// ExtraArgs are appended verbatim after the standard flags.
	ExtraArgs []string

	// Timeout bounds a single invocation.
	Timeout time.Duration
}

// Synthesizer turns assistant text into raw mono PCM16 audio at the
// requested sample rate. Runner is the real subprocess-backed
// implementation; tests substitute ttsproc/mock.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, sampleRate int) ([]byte, error)
}

// Runner invokes the configured TTS binary to synthesize text chunks.
type Runner struct {
	cfg Config
}

var _ Synthesizer = (*Runner)(nil)

// New creates a Runner for cfg.
func New(cfg Config) *Runner {
	return &Runner{cfg: cfg}
}

// Synthesize invokes the TTS binary for text at sampleRate and returns its
// raw mono PCM16 output (no WAV header — the binary writes headerless PCM
// to the file named by its -output flag, which is read back here).
func (r *Runner) Synthesize(ctx context.Context, text string, sampleRate int) ([]byte, error) {
	dir, err := os.MkdirTemp("", "ttsproc-")
	if err != nil {
		return nil, fmt.Errorf("ttsproc: create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	textPath := filepath.Join(dir, "chunk.txt")
	if err := os.WriteFile(textPath, []byte(text), 0o600); err != nil {
		return nil, fmt.Errorf("ttsproc: write text: %w", err)
	}
	outPath := filepath.Join(dir, "out.pcm")

	timeout := r.cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{
		"-input", textPath,
		"-output", outPath,
		"-rate", fmt.Sprintf("%d", sampleRate),
	}
	if r.cfg.ModelPath != "" {
		args = append(args, "-model", r.cfg.ModelPath)
	}
	if r.cfg.ConfigPath != "" {
		args = append(args, "-config", r.cfg.ConfigPath)
	}
	args = append(args, r.cfg.ExtraArgs...)

	cmd := exec.CommandContext(runCtx, r.cfg.BinaryPath, args...)
	cmd.Env = allowlistedEnv()

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("ttsproc: timed out after %s", timeout)
		}
		return nil, fmt.Errorf("ttsproc: %w, stderr: %s", err, previewBytes(stderr.Bytes()))
	}

	pcm, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("ttsproc: read output: %w", err)
	}
	return pcm, nil
}

func previewBytes(b []byte) string {
	const max = 800
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "...(truncated)"
}

func allowlistedEnv() []string {
	var env []string
	for _, key := range []string{"PATH", "HOME", "TMPDIR"} {
		if v, ok := os.LookupEnv(key); ok {
			env = append(env, key+"="+v)
		}
	}
	return env
}

// FrameSize20ms returns the byte length of a 20 ms mono PCM16 frame at
// sampleRate, used to split synthesized audio into wire-sized frames.
func FrameSize20ms(sampleRate int) int {
	samples := sampleRate / 50 // 20ms = 1/50s
	return samples * 2         // 16-bit mono
}

// SplitFrames splits pcm into fixed-size frames of frameSize bytes. The
// final partial frame, if any, is returned as a short last element rather
// than dropped or padded.
func SplitFrames(pcm []byte, frameSize int) [][]byte {
	if frameSize <= 0 {
		return nil
	}
	var frames [][]byte
	for i := 0; i < len(pcm); i += frameSize {
		end := i + frameSize
		if end > len(pcm) {
			end = len(pcm)
		}
		frames = append(frames, pcm[i:end])
	}
	return frames
}
