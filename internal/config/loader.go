package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"live":  {"gemini-live", "genai-live"},
	"audio": {"portaudio", "virtual"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. Environment references (${VAR}) are
// expanded before decoding and a relative live.instructions_file is resolved
// against the directory of path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := parse(data, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. A relative instructions_file is resolved against the
// working directory.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return parse(data, "")
}

func parse(data []byte, baseDir string) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	if err := resolveInstructions(&cfg.Live, baseDir); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolveInstructions reads live.instructions_file into live.instructions.
func resolveInstructions(l *LiveConfig, baseDir string) error {
	if l.InstructionsFile == "" {
		return nil
	}
	if strings.TrimSpace(l.Instructions) != "" {
		return errors.New("config: live.instructions and live.instructions_file are mutually exclusive")
	}
	path := l.InstructionsFile
	if !filepath.IsAbs(path) && baseDir != "" {
		path = filepath.Join(baseDir, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: live.instructions_file: %w", err)
	}
	l.Instructions = strings.TrimSpace(string(data))
	return nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}
	if cfg.Server.ListenAddr != "" {
		if _, _, err := net.SplitHostPort(cfg.Server.ListenAddr); err != nil {
			errs = append(errs, fmt.Errorf("server.listen_addr %q is invalid: %w", cfg.Server.ListenAddr, err))
		}
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Live
	validateProviderName("live", cfg.Live.Provider)
	if cfg.Live.ConnectTimeout < 0 {
		errs = append(errs, fmt.Errorf("live.connect_timeout %s must not be negative", cfg.Live.ConnectTimeout))
	}
	if cfg.Live.Provider != "" && cfg.Live.APIKey == "" && cfg.Live.BaseURL == "" {
		slog.Warn("live.api_key is empty; sessions will fail to authenticate", "provider", cfg.Live.Provider)
	}

	// Audio
	validateProviderName("audio", cfg.Audio.Backend)
	if r := cfg.Audio.InputSampleRate; r != 0 && (r < 8000 || r > 192000) {
		errs = append(errs, fmt.Errorf("audio.input_sample_rate %d is out of range [8000, 192000]", r))
	}
	if r := cfg.Audio.OutputSampleRate; r != 0 && (r < 8000 || r > 192000) {
		errs = append(errs, fmt.Errorf("audio.output_sample_rate %d is out of range [8000, 192000]", r))
	}
	if n := cfg.Audio.FrameSize; n < 0 || n > 1<<16 {
		errs = append(errs, fmt.Errorf("audio.frame_size %d is out of range [1, 65536]", n))
	}
	if cfg.Audio.OutboundQueue < 0 {
		errs = append(errs, fmt.Errorf("audio.outbound_queue %d must not be negative", cfg.Audio.OutboundQueue))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or a third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
