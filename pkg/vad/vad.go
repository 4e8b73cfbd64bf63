// Package vad implements the frame-level voice-activity gate that drives
// commit detection and barge-in for a telephony bridge session. It consumes
// decoded 8kHz PCM16 frames one at a time and reports the accounting result
// for each: whether a commit should be emitted and why, and whether a
// barge-in interrupt should fire.
package vad

import "github.com/ghostengineai/glyphonic/pkg/audio"

// frameMs is the fixed frame duration this detector is designed for; the
// bridge always feeds it 20ms decoded frames.
const frameMs = 20

// CommitReason names why a commit was triggered.
type CommitReason string

const (
	// ReasonNone indicates no commit was triggered this frame.
	ReasonNone CommitReason = ""
	// ReasonSilence is a commit triggered by silence following speech.
	ReasonSilence CommitReason = "silence"
	// ReasonMaxUtterance is a commit forced by a maximum speech duration.
	ReasonMaxUtterance CommitReason = "max_utterance"
)

// Config holds the tunable thresholds for a Detector.
type Config struct {
	// Threshold is the RMS level, in [0,1], above which a frame is
	// considered speech. Defaults to 0.012 when zero.
	Threshold float64
	// CommitSilenceMs is how long silence must persist after pending
	// speech before a silence commit fires. Defaults to 900 when zero.
	CommitSilenceMs int
	// MaxUtteranceMs forces a commit once accumulated speech reaches this
	// duration. Zero disables the forced commit.
	MaxUtteranceMs int
	// BargeIn enables the barge-in interrupt path.
	BargeIn bool
}

func (c Config) withDefaults() Config {
	if c.Threshold == 0 {
		c.Threshold = 0.012
	}
	if c.CommitSilenceMs == 0 {
		c.CommitSilenceMs = 900
	}
	return c
}

// Detector tracks per-session VAD state across successive frames. It is not
// safe for concurrent use; a bridge session should own one Detector and call
// Process from a single goroutine.
type Detector struct {
	cfg Config

	pendingSpeech bool
	silenceMs     int
	speechMs      int
}

// New creates a Detector with cfg, applying defaults for zero-valued fields.
func New(cfg Config) *Detector {
	return &Detector{cfg: cfg.withDefaults()}
}

// Result reports the outcome of processing one frame.
type Result struct {
	// RMS is the level computed for the frame.
	RMS float64
	// Commit is non-empty when a commit should be emitted this frame.
	Commit CommitReason
	// BargeIn is true when a barge-in interrupt should fire this frame.
	BargeIn bool
}

// Process runs one 20ms decoded PCM16 frame through the detector,
// updating internal accounting and reporting whether a commit or barge-in
// should be emitted. outboundBufferNonEmpty tells the detector whether the
// bridge currently has staged outbound audio, which gates barge-in.
func (d *Detector) Process(frame []byte, outboundBufferNonEmpty bool) Result {
	rms := audio.RMS(frame)
	res := Result{RMS: rms}

	speech := rms >= d.cfg.Threshold

	if d.cfg.BargeIn && speech && outboundBufferNonEmpty {
		res.BargeIn = true
	}

	if speech {
		d.pendingSpeech = true
		d.silenceMs = 0
		d.speechMs += frameMs
		if d.cfg.MaxUtteranceMs > 0 && d.speechMs >= d.cfg.MaxUtteranceMs {
			res.Commit = ReasonMaxUtterance
			d.speechMs = 0
			d.silenceMs = 0
		}
		return res
	}

	d.silenceMs += frameMs
	d.speechMs = 0
	if d.pendingSpeech && d.silenceMs >= d.cfg.CommitSilenceMs {
		res.Commit = ReasonSilence
		d.pendingSpeech = false
	}
	return res
}

// Reset clears all accumulated speech/silence state, used after an
// explicit or forced commit outside the normal Process flow (e.g. a DTMF
// commit).
func (d *Detector) Reset() {
	d.pendingSpeech = false
	d.silenceMs = 0
	d.speechMs = 0
}
