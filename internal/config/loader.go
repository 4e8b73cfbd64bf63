package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"reflect"
	"strings"

	"gopkg.in/yaml.v3"
)

// envPrefix roots every override name recognised by applyEnvOverrides, so
// GLYPHONIC_PROVIDERS_ASR_BINARY_PATH overrides providers.asr.binary_path.
const envPrefix = "GLYPHONIC"

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	applyEnvOverrides(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides walks cfg looking for `env:"..."` struct tags and, for
// any whose environment variable is set, overwrites the YAML-decoded value.
// This is the Go-native rendition of the values that were historically
// deployed as bare environment variables (API keys, binary paths): the
// YAML file remains the source of truth, but an operator can still override
// a single field at deploy time without editing it. Only string fields are
// supported since every tagged field today is a path, DSN, or similar text
// value.
func applyEnvOverrides(cfg *Config) {
	walkEnvTags(reflect.ValueOf(cfg).Elem(), envPrefix)
}

func walkEnvTags(v reflect.Value, prefix string) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fv := v.Field(i)

		if fv.Kind() == reflect.Ptr {
			if fv.IsNil() {
				continue
			}
			fv = fv.Elem()
		}

		name := field.Tag.Get("yaml")
		if comma := strings.Index(name, ","); comma >= 0 {
			name = name[:comma]
		}
		if name == "" {
			name = strings.ToUpper(field.Name)
		}
		nextPrefix := prefix + "_" + strings.ToUpper(name)

		if fv.Kind() == reflect.Struct {
			walkEnvTags(fv, nextPrefix)
			continue
		}

		envTag := field.Tag.Get("env")
		if envTag == "" || fv.Kind() != reflect.String {
			continue
		}
		envName := prefix + "_" + envTag
		if val, ok := os.LookupEnv(envName); ok && val != "" {
			fv.SetString(val)
		}
	}
}

// applyDefaults fills in the zero-value defaults documented in §6.3 before
// validation runs, so a minimal YAML file still produces a coherent config.
func applyDefaults(cfg *Config) {
	if cfg.Downstream.InputSampleRate == 0 {
		cfg.Downstream.InputSampleRate = 16000
	}
	if cfg.Downstream.OutputSampleRate == 0 {
		cfg.Downstream.OutputSampleRate = 24000
	}
	if cfg.VAD.Threshold == 0 {
		cfg.VAD.Threshold = 0.012
	}
	if cfg.VAD.CommitSilenceMs == 0 {
		cfg.VAD.CommitSilenceMs = 900
	}
	if cfg.Providers.ASR.TimeoutSeconds == 0 {
		cfg.Providers.ASR.TimeoutSeconds = 120
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Downstream.InputSampleRate != 16000 {
		errs = append(errs, fmt.Errorf("downstream.input_sample_rate %d is fixed at 16000 by the wire protocol", cfg.Downstream.InputSampleRate))
	}
	if !protocolOutputSampleRateValid(cfg.Downstream.OutputSampleRate) {
		errs = append(errs, fmt.Errorf("downstream.output_sample_rate %d must be one of 8000, 16000, 24000", cfg.Downstream.OutputSampleRate))
	}

	if cfg.VAD.Threshold <= 0 || cfg.VAD.Threshold >= 1 {
		errs = append(errs, fmt.Errorf("vad.threshold %.4f must be in (0,1)", cfg.VAD.Threshold))
	}
	if cfg.VAD.CommitSilenceMs <= 0 {
		errs = append(errs, fmt.Errorf("vad.commit_silence_ms %d must be positive", cfg.VAD.CommitSilenceMs))
	}
	if cfg.VAD.MaxUtteranceMs < 0 {
		errs = append(errs, fmt.Errorf("vad.max_utterance_ms %d must be >= 0 (0 disables)", cfg.VAD.MaxUtteranceMs))
	}

	if cfg.Providers.ASR.BinaryPath == "" {
		slog.Warn("providers.asr.binary_path is empty; the backend will report not-ready until it is configured")
	}
	if cfg.Providers.TTS.BinaryPath == "" {
		slog.Warn("providers.tts.binary_path is empty; the backend will report not-ready until it is configured")
	}
	if cfg.Providers.ASR.TimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("providers.asr.timeout_seconds %d must be >= 0", cfg.Providers.ASR.TimeoutSeconds))
	}

	if cfg.Transcript.Enabled && cfg.Transcript.PostgresDSN == "" {
		errs = append(errs, fmt.Errorf("transcript.enabled is true but transcript.postgres_dsn is empty"))
	}

	return errors.Join(errs...)
}

// protocolOutputSampleRateValid mirrors pkg/protocol.ValidOutputSampleRate
// without importing pkg/protocol, keeping config free of a dependency on
// the wire-protocol package it configures.
func protocolOutputSampleRateValid(rate int) bool {
	return rate == 8000 || rate == 16000 || rate == 24000
}
