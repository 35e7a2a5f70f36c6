// Command liveguide bridges the local microphone and speaker to a realtime
// voice model and exposes session control over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/liveguide/internal/config"
	"github.com/MrWong99/liveguide/internal/control"
	"github.com/MrWong99/liveguide/internal/health"
	"github.com/MrWong99/liveguide/internal/observe"
	"github.com/MrWong99/liveguide/internal/resilience"
	"github.com/MrWong99/liveguide/internal/session"
	"github.com/MrWong99/liveguide/pkg/audio/device"
	"github.com/MrWong99/liveguide/pkg/audio/device/virtual"
	"github.com/MrWong99/liveguide/pkg/provider/live"
	"github.com/MrWong99/liveguide/pkg/provider/live/gemini"
	"github.com/MrWong99/liveguide/pkg/provider/live/genailive"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "liveguide.yaml", "path to the YAML configuration file")
	startNow := flag.Bool("start", false, "start a voice session as soon as the server is up")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "liveguide: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "liveguide: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	logger := newLogger(cfg.Server.LogFormat, level)
	slog.SetDefault(logger)

	slog.Info("liveguide starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	telemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "liveguide",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := telemetry.Metrics

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltins(reg, logger)

	provider, err := reg.CreateLive(cfg.Live)
	if err != nil {
		slog.Error("failed to build live provider", "provider", cfg.Live.Provider, "known", reg.Names("live"), "err", err)
		return 1
	}
	guarded := resilience.GuardProvider(provider, resilience.CircuitBreakerConfig{
		MaxFailures:  3,
		ResetTimeout: 30 * time.Second,
		Logger:       logger,
	})
	backend, err := reg.CreateAudio(cfg.Audio)
	if err != nil {
		slog.Error("failed to build audio backend", "backend", cfg.Audio.Backend, "known", reg.Names("audio"), "err", err)
		return 1
	}

	// ── Session controller ────────────────────────────────────────────────────
	ctrl, err := session.New(session.Config{
		Backend:        backend,
		Provider:       guarded,
		Live:           cfg.Live.Session(),
		InputFormat:    cfg.Audio.InputFormat(),
		OutputFormat:   cfg.Audio.OutputFormat(),
		BlockSize:      cfg.Audio.FrameSize,
		OutboundQueue:  cfg.Audio.OutboundQueue,
		ConnectTimeout: cfg.Live.ConnectTimeout,
		OnStateChange: func(from, to session.State, message string) {
			slog.Info("session state changed", "from", from, "to", to, "message", message)
		},
		OnSpeaking: func(speaking bool) {
			slog.Debug("assistant speaking", "speaking", speaking)
		},
		Logger:  logger,
		Metrics: metrics,
	})
	if err != nil {
		slog.Error("failed to create session controller", "err", err)
		return 1
	}
	// Release the devices and the channel however the process exits.
	defer func() {
		if err := ctrl.Stop(); err != nil {
			slog.Warn("session stop error", "err", err)
		}
	}()

	// ── Config hot reload ─────────────────────────────────────────────────────
	checks := []health.Checker{
		health.ErrFunc("session", sessionCheck(ctrl)),
		health.ErrFunc("live", breakerCheck(guarded.Breaker())),
	}
	if cfg.Server.WatchInterval > 0 {
		watcher, err := config.NewWatcher(*configPath, onReload(ctrl, level),
			config.WithInterval(cfg.Server.WatchInterval),
			config.WithLogger(logger),
		)
		if err != nil {
			slog.Error("failed to watch config file", "err", err)
			return 1
		}
		defer watcher.Stop()
		checks = append(checks, health.ErrFunc("config", watcher.Err))
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	health.New(checks...).Register(mux)
	control.New(ctrl, logger).Register(mux)
	mux.Handle("GET /metrics", telemetry.Handler())

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	printStartupSummary(cfg, provider.Name(), backend.Name())

	if *startNow {
		if err := ctrl.Start(ctx); err != nil {
			slog.Error("initial session failed to start", "err", err)
		}
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	exit := 0
	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received, stopping…")
	case err := <-serveErr:
		if err != nil {
			slog.Error("http server error", "err", err)
			exit = 1
		}
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown error", "err", err)
	}
	if err := ctrl.Stop(); err != nil {
		slog.Warn("session stop error", "err", err)
	}
	slog.Info("goodbye")
	return exit
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltins wires the live providers and audio backends that ship with
// liveguide into reg.
func registerBuiltins(reg *config.Registry, logger *slog.Logger) {
	reg.RegisterLive(gemini.Name, func(c config.LiveConfig) (live.Provider, error) {
		if c.APIKey == "" && c.BaseURL == "" {
			return nil, errors.New("gemini-live: live.api_key is required")
		}
		opts := []gemini.Option{gemini.WithLogger(logger)}
		if c.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(c.BaseURL))
		}
		return gemini.New(c.APIKey, opts...), nil
	})
	reg.RegisterLive(genailive.Name, func(c config.LiveConfig) (live.Provider, error) {
		if c.APIKey == "" {
			return nil, errors.New("genai-live: live.api_key is required")
		}
		opts := []genailive.Option{genailive.WithLogger(logger)}
		if c.BaseURL != "" {
			opts = append(opts, genailive.WithBaseURL(c.BaseURL))
		}
		return genailive.New(c.APIKey, opts...), nil
	})

	reg.RegisterAudio("portaudio", func(config.AudioConfig) (device.Backend, error) {
		return device.NewPortAudio(logger), nil
	})
	reg.RegisterAudio("virtual", func(config.AudioConfig) (device.Backend, error) {
		return &virtual.Backend{RealTime: true}, nil
	})
}

// ── Hot reload ────────────────────────────────────────────────────────────────

// onReload applies the hot-reloadable part of a config change: log level
// immediately, live settings from the next session on.
func onReload(ctrl *session.Controller, level *slog.LevelVar) func(old, new *config.Config) {
	return func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.LiveChanged {
			ctrl.SetLiveConfig(new.Live.Session())
			slog.Info("live settings updated, applied from the next session",
				"model", new.Live.Model,
				"voice", new.Live.Voice,
			)
		}
		if len(d.RestartRequired) > 0 {
			slog.Warn("config changes take effect after a restart", "settings", d.RestartRequired)
		}
	}
}

// sessionCheck reports the user-visible failure while the controller is in
// the Error state.
func sessionCheck(ctrl *session.Controller) func() error {
	return func() error {
		snap := ctrl.Snapshot()
		if snap.State == session.Error {
			return errors.New(snap.Message)
		}
		return nil
	}
}

// breakerCheck fails while connection attempts are being rejected.
func breakerCheck(cb *resilience.CircuitBreaker) func() error {
	return func() error {
		if cb.State() == resilience.StateOpen {
			return resilience.ErrCircuitOpen
		}
		return nil
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, provider, backend string) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        liveguide startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Live", provider, cfg.Live.Model)
	printRow("Voice", cfg.Live.Voice, "")
	printRow("Audio", backend, fmt.Sprintf("%d/%d Hz", cfg.Audio.InputSampleRate, cfg.Audio.OutputSampleRate))
	printRow("Frame size", fmt.Sprint(cfg.Audio.FrameSize), "")
	printRow("Listen addr", cfg.Server.ListenAddr, "")
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(kind, name, detail string) {
	value := name
	if value == "" {
		value = "(default)"
	} else if detail != "" {
		value = name + " / " + detail
	}
	if len([]rune(value)) > 19 {
		value = string([]rune(value)[:18]) + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newLogger(format config.LogFormat, level slog.Leveler) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
