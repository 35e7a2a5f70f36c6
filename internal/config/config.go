// Package config provides the configuration schema, loader, file watcher and
// provider registry for liveguide.
package config

import (
	"time"

	"github.com/MrWong99/liveguide/pkg/audio"
	"github.com/MrWong99/liveguide/pkg/provider/live"
)

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

// LogFormat selects the slog handler.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	return f == LogFormatText || f == LogFormatJSON
}

// Defaults applied by [ApplyDefaults] to fields left empty.
const (
	DefaultListenAddr       = ":8080"
	DefaultLiveProvider     = "gemini-live"
	DefaultAudioBackend     = "portaudio"
	DefaultInputSampleRate  = 16000
	DefaultOutputSampleRate = 24000
	DefaultFrameSize        = 4096
	DefaultOutboundQueue    = 8
	DefaultConnectTimeout   = 15 * time.Second
	DefaultPollInterval     = 5 * time.Second
)

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server ServerConfig `yaml:"server"`
	Live   LiveConfig   `yaml:"live"`
	Audio  AudioConfig  `yaml:"audio"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the control, health and metrics
	// endpoints (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Changes are applied on hot reload.
	LogLevel LogLevel `yaml:"log_level"`

	// LogFormat is "text" (default) or "json".
	LogFormat LogFormat `yaml:"log_format"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// WatchInterval is how often the config file is polled for changes.
	// Zero uses [DefaultPollInterval]; a negative value disables watching.
	WatchInterval time.Duration `yaml:"watch_interval"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// LiveConfig selects and configures the remote live endpoint.
type LiveConfig struct {
	// Provider is the registered provider name ("gemini-live" or
	// "genai-live").
	Provider string `yaml:"provider"`

	// APIKey authenticates against the endpoint. Supports ${ENV} expansion.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model is the model identifier. Empty uses the provider default.
	Model string `yaml:"model"`

	// Voice is the prebuilt voice name. Empty uses the provider default.
	Voice string `yaml:"voice"`

	// Instructions is the behavioural policy sent as system instruction.
	Instructions string `yaml:"instructions"`

	// InstructionsFile is read into Instructions by [Load]. Relative paths
	// are resolved against the directory of the config file.
	InstructionsFile string `yaml:"instructions_file"`

	// ConnectTimeout bounds the time between start and the channel opening.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// Session returns the per-session settings handed to the provider.
func (l LiveConfig) Session() live.Config {
	return live.Config{
		Model:        l.Model,
		Modality:     live.ModalityAudio,
		Instructions: l.Instructions,
		Voice:        l.Voice,
	}
}

// AudioConfig selects the device backend and stream formats.
type AudioConfig struct {
	// Backend is the registered backend name ("portaudio" or "virtual").
	Backend string `yaml:"backend"`

	// InputSampleRate is the microphone capture rate in Hz.
	InputSampleRate int `yaml:"input_sample_rate"`

	// OutputSampleRate is the playback rate in Hz.
	OutputSampleRate int `yaml:"output_sample_rate"`

	// FrameSize is the number of samples per captured frame.
	FrameSize int `yaml:"frame_size"`

	// OutboundQueue bounds the number of captured chunks awaiting send.
	OutboundQueue int `yaml:"outbound_queue"`
}

// InputFormat returns the mono capture format.
func (a AudioConfig) InputFormat() audio.Format {
	return audio.Format{SampleRate: a.InputSampleRate, Channels: 1}
}

// OutputFormat returns the mono playback format.
func (a AudioConfig) OutputFormat() audio.Format {
	return audio.Format{SampleRate: a.OutputSampleRate, Channels: 1}
}

// ApplyDefaults fills every empty field with its default value.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.LogFormat == "" {
		cfg.Server.LogFormat = LogFormatText
	}
	if cfg.Server.WatchInterval == 0 {
		cfg.Server.WatchInterval = DefaultPollInterval
	}
	if cfg.Live.Provider == "" {
		cfg.Live.Provider = DefaultLiveProvider
	}
	if cfg.Live.ConnectTimeout == 0 {
		cfg.Live.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.Audio.Backend == "" {
		cfg.Audio.Backend = DefaultAudioBackend
	}
	if cfg.Audio.InputSampleRate == 0 {
		cfg.Audio.InputSampleRate = DefaultInputSampleRate
	}
	if cfg.Audio.OutputSampleRate == 0 {
		cfg.Audio.OutputSampleRate = DefaultOutputSampleRate
	}
	if cfg.Audio.FrameSize == 0 {
		cfg.Audio.FrameSize = DefaultFrameSize
	}
	if cfg.Audio.OutboundQueue == 0 {
		cfg.Audio.OutboundQueue = DefaultOutboundQueue
	}
}
