package config_test

import (
	"strings"
	"testing"

	"github.com/ghostengineai/glyphonic/internal/config"
)

func TestLoadFromReader_AppliesDefaults(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  listen_addr: ":8080"
providers:
  asr:
    binary_path: /usr/local/bin/asr
  tts:
    binary_path: /usr/local/bin/tts
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Downstream.InputSampleRate != 16000 {
		t.Errorf("input_sample_rate default = %d, want 16000", cfg.Downstream.InputSampleRate)
	}
	if cfg.Downstream.OutputSampleRate != 24000 {
		t.Errorf("output_sample_rate default = %d, want 24000", cfg.Downstream.OutputSampleRate)
	}
	if cfg.VAD.Threshold != 0.012 {
		t.Errorf("vad.threshold default = %v, want 0.012", cfg.VAD.Threshold)
	}
	if cfg.VAD.CommitSilenceMs != 900 {
		t.Errorf("vad.commit_silence_ms default = %d, want 900", cfg.VAD.CommitSilenceMs)
	}
	if cfg.Providers.ASR.TimeoutSeconds != 120 {
		t.Errorf("providers.asr.timeout_seconds default = %d, want 120", cfg.Providers.ASR.TimeoutSeconds)
	}
}

func TestLoadFromReader_RejectsUnknownFields(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  listen_addr: ":8080"
bogus_top_level_key: true
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown top-level field")
	}
}

func TestValidate_RejectsInvalidLogLevel(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: bananas
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid log level")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestValidate_RejectsInvalidOutputSampleRate(t *testing.T) {
	t.Parallel()
	yaml := `
downstream:
  output_sample_rate: 11025
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid output_sample_rate")
	}
}

func TestValidate_RejectsNonDefaultInputSampleRate(t *testing.T) {
	t.Parallel()
	yaml := `
downstream:
  input_sample_rate: 8000
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for non-16000 input_sample_rate")
	}
}

func TestValidate_RejectsOutOfRangeVADThreshold(t *testing.T) {
	t.Parallel()
	yaml := `
vad:
  threshold: 1.5
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for vad.threshold out of (0,1)")
	}
}

func TestValidate_RejectsNegativeMaxUtterance(t *testing.T) {
	t.Parallel()
	yaml := `
vad:
  max_utterance_ms: -1
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for negative max_utterance_ms")
	}
}

func TestValidate_TranscriptEnabledRequiresDSN(t *testing.T) {
	t.Parallel()
	yaml := `
transcript:
  enabled: true
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error when transcript.enabled without postgres_dsn")
	}
	if !strings.Contains(err.Error(), "postgres_dsn") {
		t.Errorf("error should mention postgres_dsn, got: %v", err)
	}
}

func TestValidate_MinimalValidConfig(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  listen_addr: ":8080"
  log_level: info
downstream:
  url: "ws://localhost:9000/media"
providers:
  asr:
    binary_path: /usr/local/bin/asr
  tts:
    binary_path: /usr/local/bin/tts
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen_addr = %q, want :8080", cfg.Server.ListenAddr)
	}
}

func TestLoadFromReader_EnvOverridesBinaryPath(t *testing.T) {
	t.Setenv("GLYPHONIC_PROVIDERS_ASR_BINARY_PATH", "/opt/override/asr")
	t.Setenv("GLYPHONIC_TRANSCRIPT_POSTGRES_DSN", "postgres://override/db")
	yaml := `
providers:
  asr:
    binary_path: /usr/local/bin/asr
  tts:
    binary_path: /usr/local/bin/tts
transcript:
  enabled: true
  postgres_dsn: postgres://yaml/db
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Providers.ASR.BinaryPath != "/opt/override/asr" {
		t.Errorf("providers.asr.binary_path = %q, want env override", cfg.Providers.ASR.BinaryPath)
	}
	if cfg.Providers.TTS.BinaryPath != "/usr/local/bin/tts" {
		t.Errorf("providers.tts.binary_path = %q, want unchanged YAML value", cfg.Providers.TTS.BinaryPath)
	}
	if cfg.Transcript.PostgresDSN != "postgres://override/db" {
		t.Errorf("transcript.postgres_dsn = %q, want env override", cfg.Transcript.PostgresDSN)
	}
}

func TestLoadFromReader_EnvOverrideIgnoredWhenUnset(t *testing.T) {
	yaml := `
providers:
  asr:
    binary_path: /usr/local/bin/asr
  tts:
    binary_path: /usr/local/bin/tts
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Providers.ASR.BinaryPath != "/usr/local/bin/asr" {
		t.Errorf("providers.asr.binary_path = %q, want unchanged YAML value", cfg.Providers.ASR.BinaryPath)
	}
}

func TestValidate_MultipleErrorsJoined(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: bananas
downstream:
  output_sample_rate: 11025
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "log_level") || !strings.Contains(errStr, "output_sample_rate") {
		t.Errorf("expected both errors joined, got: %v", errStr)
	}
}
