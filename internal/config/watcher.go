package config

import (
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Watcher monitors a config file, and the instructions file it references,
// for changes and calls a callback when a new valid config is available.
// It polls instead of using filesystem notifications.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)
	logger   *slog.Logger

	mu       sync.Mutex
	current  *Config
	lastErr  error
	done     chan struct{}
	stopOnce sync.Once

	// last known file state for change detection
	lastMtime time.Time
	lastHash  [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is [DefaultPollInterval].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithLogger sets the logger used for reload diagnostics.
func WithLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWatcher creates a config file watcher. It loads the initial config
// immediately and starts polling in a background goroutine. onChange is
// invoked from that goroutine, never concurrently with itself.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultPollInterval,
		onChange: onChange,
		logger:   slog.Default(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, hash, mtime, err := w.loadAndHash()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = cfg
	w.lastHash = hash
	w.lastMtime = mtime

	go w.poll()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Err returns the error of the most recent failed reload, or nil once the
// file loads cleanly again. The previous valid config stays current.
func (w *Watcher) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

// Stop stops the file watcher.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
}

func (w *Watcher) poll() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

// check reloads the config if any watched file changed and the result is
// valid; an invalid file keeps the previous config.
func (w *Watcher) check() {
	w.mu.Lock()
	mtime := w.lastMtime
	instructions := w.instructionsPath(w.current)
	w.mu.Unlock()

	latest, err := latestMtime(w.path, instructions)
	if err != nil {
		w.logger.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		w.setErr(err)
		return
	}
	if latest.Equal(mtime) {
		return
	}

	cfg, hash, newMtime, err := w.loadAndHash()
	if err != nil {
		w.logger.Warn("config watcher: failed to load config", "path", w.path, "err", err)
		w.setErr(err)
		// Remember the broken revision so it is not re-parsed every tick.
		w.mu.Lock()
		w.lastMtime = latest
		w.mu.Unlock()
		return
	}

	w.mu.Lock()
	w.lastErr = nil
	if hash == w.lastHash {
		// Touched but identical.
		w.lastMtime = newMtime
		w.mu.Unlock()
		return
	}
	old := w.current
	w.current = cfg
	w.lastHash = hash
	w.lastMtime = newMtime
	w.mu.Unlock()

	w.logger.Info("config watcher: configuration reloaded", "path", w.path)

	// Outside the lock so the callback can call Current.
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
}

func (w *Watcher) setErr(err error) {
	w.mu.Lock()
	w.lastErr = err
	w.mu.Unlock()
}

// loadAndHash parses and validates the config file and returns it with a
// hash over the config bytes and resolved instructions, and the newest
// modification time of the files involved.
func (w *Watcher) loadAndHash() (*Config, [sha256.Size]byte, time.Time, error) {
	var zeroHash [sha256.Size]byte

	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, zeroHash, time.Time{}, err
	}
	cfg, err := parse(data, filepath.Dir(w.path))
	if err != nil {
		return nil, zeroHash, time.Time{}, err
	}
	mtime, err := latestMtime(w.path, w.instructionsPath(cfg))
	if err != nil {
		return nil, zeroHash, time.Time{}, err
	}

	h := sha256.New()
	h.Write(data)
	h.Write([]byte{0})
	h.Write([]byte(cfg.Live.Instructions))
	var sum [sha256.Size]byte
	copy(sum[:], h.Sum(nil))
	return cfg, sum, mtime, nil
}

// instructionsPath returns the resolved instructions file of cfg, or "".
func (w *Watcher) instructionsPath(cfg *Config) string {
	if cfg == nil || cfg.Live.InstructionsFile == "" {
		return ""
	}
	p := cfg.Live.InstructionsFile
	if !filepath.IsAbs(p) {
		p = filepath.Join(filepath.Dir(w.path), p)
	}
	return p
}

func latestMtime(paths ...string) (time.Time, error) {
	var latest time.Time
	for _, p := range paths {
		if p == "" {
			continue
		}
		info, err := os.Stat(p)
		if err != nil {
			return time.Time{}, err
		}
		if info.ModTime().After(latest) {
			latest = info.ModTime()
		}
	}
	return latest, nil
}
