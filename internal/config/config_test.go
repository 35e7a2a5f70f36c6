package config_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/liveguide/internal/config"
	"github.com/MrWong99/liveguide/pkg/audio"
	"github.com/MrWong99/liveguide/pkg/audio/device"
	"github.com/MrWong99/liveguide/pkg/audio/device/virtual"
	"github.com/MrWong99/liveguide/pkg/provider/live"
	"github.com/MrWong99/liveguide/pkg/provider/live/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: "127.0.0.1:9090"
  log_level: debug
  log_format: json
  watch_interval: 2s

live:
  provider: gemini-live
  api_key: test-key
  model: gemini-2.5-flash-native-audio-preview-09-2025
  voice: Kore
  instructions: You are a concise tour guide.
  connect_timeout: 10s

audio:
  backend: virtual
  input_sample_rate: 16000
  output_sample_rate: 24000
  frame_size: 2048
  outbound_queue: 4
`

func mustLoad(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

// ── loading ──────────────────────────────────────────────────────────────────

func TestLoadFromReader_Sample(t *testing.T) {
	t.Parallel()
	cfg := mustLoad(t, sampleYAML)

	if cfg.Server.ListenAddr != "127.0.0.1:9090" {
		t.Errorf("listen_addr: got %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogDebug || cfg.Server.LogFormat != config.LogFormatJSON {
		t.Errorf("logging: got %q/%q", cfg.Server.LogLevel, cfg.Server.LogFormat)
	}
	if cfg.Server.WatchInterval != 2*time.Second {
		t.Errorf("watch_interval: got %s", cfg.Server.WatchInterval)
	}
	if cfg.Live.ConnectTimeout != 10*time.Second {
		t.Errorf("connect_timeout: got %s", cfg.Live.ConnectTimeout)
	}
	if cfg.Audio.FrameSize != 2048 || cfg.Audio.OutboundQueue != 4 {
		t.Errorf("audio: got %+v", cfg.Audio)
	}

	want := live.Config{
		Model:        "gemini-2.5-flash-native-audio-preview-09-2025",
		Modality:     live.ModalityAudio,
		Instructions: "You are a concise tour guide.",
		Voice:        "Kore",
	}
	if got := cfg.Live.Session(); got != want {
		t.Errorf("Session(): got %+v, want %+v", got, want)
	}
	if got := cfg.Audio.InputFormat(); got != audio.InputFormat {
		t.Errorf("InputFormat: got %v", got)
	}
	if got := cfg.Audio.OutputFormat(); got != audio.OutputFormat {
		t.Errorf("OutputFormat: got %v", got)
	}
}

func TestLoadFromReader_EmptyUsesDefaults(t *testing.T) {
	t.Parallel()
	cfg := mustLoad(t, "")

	if cfg.Server.ListenAddr != config.DefaultListenAddr {
		t.Errorf("listen_addr: got %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogInfo || cfg.Server.LogFormat != config.LogFormatText {
		t.Errorf("logging: got %q/%q", cfg.Server.LogLevel, cfg.Server.LogFormat)
	}
	if cfg.Live.Provider != config.DefaultLiveProvider {
		t.Errorf("provider: got %q", cfg.Live.Provider)
	}
	if cfg.Live.ConnectTimeout != config.DefaultConnectTimeout {
		t.Errorf("connect_timeout: got %s", cfg.Live.ConnectTimeout)
	}
	if cfg.Audio.Backend != config.DefaultAudioBackend {
		t.Errorf("backend: got %q", cfg.Audio.Backend)
	}
	if cfg.Audio.InputSampleRate != 16000 || cfg.Audio.OutputSampleRate != 24000 {
		t.Errorf("rates: got %d/%d", cfg.Audio.InputSampleRate, cfg.Audio.OutputSampleRate)
	}
	if cfg.Audio.FrameSize != 4096 || cfg.Audio.OutboundQueue != 8 {
		t.Errorf("frame_size/outbound_queue: got %d/%d", cfg.Audio.FrameSize, cfg.Audio.OutboundQueue)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("live:\n  temperature: 0.7\n"))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
	if !strings.Contains(err.Error(), "temperature") {
		t.Errorf("error should name the field, got: %v", err)
	}
}

func TestLoadFromReader_ExpandsEnvironment(t *testing.T) {
	t.Setenv("LIVEGUIDE_TEST_KEY", "from-env")
	cfg := mustLoad(t, "live:\n  api_key: ${LIVEGUIDE_TEST_KEY}\n")
	if cfg.Live.APIKey != "from-env" {
		t.Errorf("api_key: got %q, want %q", cfg.Live.APIKey, "from-env")
	}
}

// ── validation ───────────────────────────────────────────────────────────────

func TestValidate_CollectsAllErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
  log_format: xml
  listen_addr: "no-port"
  tls:
    cert_file: cert.pem
live:
  connect_timeout: -1s
audio:
  input_sample_rate: 100
  output_sample_rate: 1000000
  frame_size: -1
  outbound_queue: -3
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	for _, want := range []string{
		"server.log_level",
		"server.log_format",
		"server.listen_addr",
		"server.tls",
		"live.connect_timeout",
		"audio.input_sample_rate",
		"audio.output_sample_rate",
		"audio.frame_size",
		"audio.outbound_queue",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %s, got: %v", want, err)
		}
	}
}

func TestValidate_UnknownNamesOnlyWarn(t *testing.T) {
	t.Parallel()
	cfg := mustLoad(t, "live:\n  provider: custom-live\n  api_key: k\naudio:\n  backend: alsa\n")
	if cfg.Live.Provider != "custom-live" || cfg.Audio.Backend != "alsa" {
		t.Errorf("names should be kept as given, got %q/%q", cfg.Live.Provider, cfg.Audio.Backend)
	}
}

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()
	for _, l := range []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError} {
		if !l.IsValid() {
			t.Errorf("%q should be valid", l)
		}
	}
	if config.LogLevel("trace").IsValid() {
		t.Error(`"trace" should be invalid`)
	}
}

// ── registry ─────────────────────────────────────────────────────────────────

func TestRegistry_CreateLive(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	var got config.LiveConfig
	reg.RegisterLive("mock", func(c config.LiveConfig) (live.Provider, error) {
		got = c
		return &mock.Provider{}, nil
	})

	p, err := reg.CreateLive(config.LiveConfig{Provider: "mock", APIKey: "k"})
	if err != nil {
		t.Fatalf("CreateLive: %v", err)
	}
	if p == nil || got.APIKey != "k" {
		t.Errorf("factory not invoked with config: %+v", got)
	}

	conn, err := p.Connect(context.Background(), live.Config{}, live.Callbacks{})
	if err != nil || conn == nil {
		t.Errorf("provider from registry does not connect: %v", err)
	}
}

func TestRegistry_CreateAudio(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	reg.RegisterAudio("virtual", func(config.AudioConfig) (device.Backend, error) {
		return &virtual.Backend{}, nil
	})
	b, err := reg.CreateAudio(config.AudioConfig{Backend: "virtual"})
	if err != nil {
		t.Fatalf("CreateAudio: %v", err)
	}
	if b.Name() != "virtual" {
		t.Errorf("Name: got %q", b.Name())
	}
}

func TestRegistry_NotRegistered(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()

	if _, err := reg.CreateLive(config.LiveConfig{Provider: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateLive: got %v, want ErrProviderNotRegistered", err)
	}
	if _, err := reg.CreateAudio(config.AudioConfig{Backend: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateAudio: got %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	boom := errors.New("boom")
	reg.RegisterLive("bad", func(config.LiveConfig) (live.Provider, error) { return nil, boom })

	if _, err := reg.CreateLive(config.LiveConfig{Provider: "bad"}); !errors.Is(err, boom) {
		t.Errorf("got %v, want factory error", err)
	}
}

func TestRegistry_Names(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	reg.RegisterAudio("virtual", nil)
	reg.RegisterAudio("portaudio", nil)
	reg.RegisterLive("gemini-live", nil)

	if got := reg.Names("audio"); len(got) != 2 || got[0] != "portaudio" || got[1] != "virtual" {
		t.Errorf("audio names: got %v", got)
	}
	if got := reg.Names("live"); len(got) != 1 || got[0] != "gemini-live" {
		t.Errorf("live names: got %v", got)
	}
	if got := reg.Names("other"); len(got) != 0 {
		t.Errorf("unknown kind: got %v", got)
	}
}
