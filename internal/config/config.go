// Package config provides the configuration schema, loader, and readiness
// validation shared by the bridge, relay, and backend binaries.
package config

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure. All three binaries load the
// same shape and use only the sections relevant to them: the bridge reads
// Server/Downstream/VAD, the relay reads Server/Downstream, the backend
// reads Server/Providers/Transcript.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Downstream DownstreamConfig `yaml:"downstream"`
	VAD        VADConfig        `yaml:"vad"`
	Bridge     BridgeConfig     `yaml:"bridge"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Transcript TranscriptConfig `yaml:"transcript"`
}

// ServerConfig holds network and logging settings common to all three
// binaries.
type ServerConfig struct {
	// ListenAddr is the TCP address the service listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the service runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file" env:"CERT_FILE"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file" env:"KEY_FILE"`
}

// DownstreamConfig configures where a bridge or relay session opens its
// downstream WebSocket (§6.3 "downstream URL").
type DownstreamConfig struct {
	// URL is the downstream peer's WebSocket URL (bridge dials the relay
	// or backend directly; relay dials the backend).
	URL string `yaml:"url"`

	// InputSampleRate is the PCM rate forwarded to the backend, sent as
	// part of a session's negotiated parameters. Default 16000.
	InputSampleRate int `yaml:"input_sample_rate"`

	// OutputSampleRate is the default negotiated output rate requested on
	// `start` when a caller does not otherwise specify one. Default 24000.
	OutputSampleRate int `yaml:"output_sample_rate"`
}

// VADConfig configures the frame-level voice-activity detector (§4.4). The
// zero value is not directly usable; Load fills in defaults for a zero
// Threshold (0.012) and CommitSilenceMs (900).
type VADConfig struct {
	// Threshold is the RMS level, in (0,1), above which a frame is speech.
	Threshold float64 `yaml:"threshold"`

	// CommitSilenceMs is how long silence must persist after speech before
	// a silence commit fires.
	CommitSilenceMs int `yaml:"commit_silence_ms"`

	// MaxUtteranceMs forces a commit once accumulated speech reaches this
	// duration. Zero disables the forced commit.
	MaxUtteranceMs int `yaml:"max_utterance_ms"`

	// BargeIn enables the barge-in interrupt path.
	BargeIn bool `yaml:"barge_in"`
}

// BridgeConfig configures the telephony bridge's per-call opener plan
// (§3 "outboundPlan").
type BridgeConfig struct {
	// OpenerText, when non-empty, is spoken as the assistant's first turn
	// on every call once the downstream socket signals ready.
	OpenerText string `yaml:"opener_text"`
}

// ProvidersConfig configures the ASR and TTS subprocess invocations that
// the backend session (module I) runs per turn.
type ProvidersConfig struct {
	ASR SubprocessConfig `yaml:"asr"`
	TTS SubprocessConfig `yaml:"tts"`
}

// SubprocessConfig describes an external ASR or TTS binary
// invocation (§4.7, §6.3 "ASR binary / model paths").
type SubprocessConfig struct {
	// BinaryPath is the executable invoked for each turn. Historically
	// deployed as an environment variable; overridable here without
	// editing the YAML file (see loader.go's applyEnvOverrides).
	BinaryPath string `yaml:"binary_path" env:"BINARY_PATH"`

	// ModelPath is passed to the binary to select a model file. Optional
	// for engines that bake the model into the binary.
	ModelPath string `yaml:"model_path" env:"MODEL_PATH"`

	// ConfigPath is an optional additional configuration file passed to
	// the binary (used by some TTS engines).
	ConfigPath string `yaml:"config_path" env:"CONFIG_PATH"`

	// ExtraArgs are appended verbatim to the invocation.
	ExtraArgs []string `yaml:"extra_args"`

	// TimeoutSeconds bounds a single invocation. Default 120 for ASR.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// TranscriptConfig configures the optional fire-and-forget transcript sink
// (§6.4).
type TranscriptConfig struct {
	// Enabled turns the sink on. When false, turn completions are not
	// persisted anywhere.
	Enabled bool `yaml:"enabled"`

	// PostgresDSN is the connection string for the transcript store.
	// Historically an environment-variable secret; env:"POSTGRES_DSN"
	// under the matching prefix overrides the YAML value.
	PostgresDSN string `yaml:"postgres_dsn" env:"POSTGRES_DSN"`
}
