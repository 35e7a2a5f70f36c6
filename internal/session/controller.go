// Package session owns the lifecycle of the single active voice session.
//
// A [Controller] moves between Idle, Connecting, Live and Error. Start opens
// the audio devices and the remote channel; from then on one event loop per
// session serialises everything that happens: captured frames, remote
// messages, decode results, remote close and errors. Stop, remote close and
// every failure converge on one teardown path that releases all resources
// and returns the controller to Idle.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/liveguide/internal/capture"
	"github.com/MrWong99/liveguide/internal/observe"
	"github.com/MrWong99/liveguide/internal/outbound"
	"github.com/MrWong99/liveguide/pkg/audio"
	"github.com/MrWong99/liveguide/pkg/audio/device"
	"github.com/MrWong99/liveguide/pkg/provider/live"
)

// DefaultConnectTimeout bounds the time between Start and the remote
// channel reporting open.
const DefaultConnectTimeout = 15 * time.Second

// Config holds the dependencies and tunables of a [Controller].
type Config struct {
	// Backend opens the microphone and speaker. Required.
	Backend device.Backend

	// Provider connects to the remote endpoint. Required.
	Provider live.Provider

	// Live is the session configuration sent on connect. It can be replaced
	// for later sessions with [Controller.SetLiveConfig].
	Live live.Config

	// InputFormat defaults to [audio.InputFormat].
	InputFormat audio.Format

	// OutputFormat defaults to [audio.OutputFormat].
	OutputFormat audio.Format

	// BlockSize is the capture frame size. Defaults to
	// [capture.DefaultBlockSize].
	BlockSize int

	// OutboundQueue bounds the outbound chunk queue. Defaults to
	// [outbound.DefaultQueueSize].
	OutboundQueue int

	// ConnectTimeout defaults to [DefaultConnectTimeout].
	ConnectTimeout time.Duration

	// OnStateChange observes every transition. Observers are invoked in
	// transition order and must not call Start or Stop.
	OnStateChange func(from, to State, message string)

	// OnSpeaking observes the speaking indicator. It runs on the playback
	// path and must return quickly.
	OnSpeaking func(speaking bool)

	// Logger defaults to [slog.Default].
	Logger *slog.Logger

	// Metrics is optional.
	Metrics *observe.Metrics
}

// Snapshot is a read-only view of the controller.
type Snapshot struct {
	State         State         `json:"state"`
	Message       string        `json:"message,omitempty"`
	SessionID     string        `json:"session_id,omitempty"`
	StartedAt     time.Time     `json:"started_at,omitzero"`
	Speaking      bool          `json:"speaking"`
	InputLevel    float64       `json:"input_level"`
	NextStartTime time.Duration `json:"next_start_time"`
	PendingItems  int           `json:"pending_items"`
	ChunksSent    uint64        `json:"chunks_sent"`
	ChunksDropped uint64        `json:"chunks_dropped"`
	OpenHandles   int           `json:"open_handles"`
}

type change struct {
	from, to State
	message  string
}

// Controller is the session state machine. All methods are safe for
// concurrent use.
type Controller struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	state   State
	message string
	liveCfg live.Config
	current *run
	changes []change

	notifyMu sync.Mutex

	// speakingMu orders OnSpeaking deliveries with the flag they report.
	speakingMu sync.Mutex
	speaking   atomic.Bool
}

// New creates an idle controller.
func New(cfg Config) (*Controller, error) {
	if cfg.Backend == nil {
		return nil, errors.New("session: backend is required")
	}
	if cfg.Provider == nil {
		return nil, errors.New("session: provider is required")
	}
	if !cfg.InputFormat.Valid() {
		cfg.InputFormat = audio.InputFormat
	}
	if !cfg.OutputFormat.Valid() {
		cfg.OutputFormat = audio.OutputFormat
	}
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = capture.DefaultBlockSize
	}
	if cfg.OutboundQueue <= 0 {
		cfg.OutboundQueue = outbound.DefaultQueueSize
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Live.Modality == "" {
		cfg.Live.Modality = live.ModalityAudio
	}
	return &Controller{
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "session"),
		liveCfg: cfg.Live,
	}, nil
}

// SetLiveConfig replaces the configuration used by subsequent sessions. The
// running session, if any, is not affected.
func (c *Controller) SetLiveConfig(cfg live.Config) {
	if cfg.Modality == "" {
		cfg.Modality = live.ModalityAudio
	}
	c.mu.Lock()
	c.liveCfg = cfg
	c.mu.Unlock()
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start opens the audio devices, connects the remote channel and returns
// once the session is Connecting with every resource in place. The session
// becomes Live asynchronously when the remote side reports open.
//
// Start is only valid from Idle; otherwise it returns [ErrInvalidState]
// without side effects. Device failures return an error wrapping
// [device.ErrDeviceUnavailable], channel failures one wrapping [ErrChannel];
// in both cases the controller passes through Error back to Idle before
// Start returns.
func (c *Controller) Start(ctx context.Context) (err error) {
	c.mu.Lock()
	if c.state != Idle {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: cannot start while %s", ErrInvalidState, st)
	}
	r := c.newRun()
	c.current = r
	c.message = ""
	c.transitionLocked(Connecting, "")
	liveCfg := c.liveCfg
	c.mu.Unlock()
	c.emit()

	ctx, span := observe.StartSpan(ctx, "session.start",
		trace.WithAttributes(attribute.String("session.id", r.id)),
	)
	defer func() { observe.EndSpan(span, err) }()
	r.logger = observe.WithTrace(ctx, r.logger)

	// Stop cancels r.ctx; setup work observes it through setupCtx.
	setupCtx, cancelSetup := context.WithCancel(ctx)
	defer cancelSetup()
	unlink := context.AfterFunc(r.ctx, cancelSetup)
	defer unlink()

	if err := r.openDevices(setupCtx); err != nil {
		if r.ctx.Err() != nil {
			r.finish(endReason{})
			return ErrAborted
		}
		r.finish(endReason{err: err, message: MessageDeviceUnavailable})
		return fmt.Errorf("session: start: %w", err)
	}

	connectCtx, cancelConnect := context.WithTimeout(setupCtx, c.cfg.ConnectTimeout)
	remote, err := c.cfg.Provider.Connect(connectCtx, liveCfg, r.callbacks())
	cancelConnect()
	if err != nil {
		if r.ctx.Err() != nil {
			r.finish(endReason{})
			return ErrAborted
		}
		err = fmt.Errorf("%w: connect: %w", ErrChannel, err)
		r.finish(endReason{err: err, message: MessageChannelFailed})
		return fmt.Errorf("session: start: %w", err)
	}
	r.remote = remote

	c.mu.Lock()
	if r.ctx.Err() != nil {
		c.mu.Unlock()
		r.finish(endReason{})
		return ErrAborted
	}
	r.committed = true
	r.start()
	c.mu.Unlock()

	r.logger.Info("session started",
		"provider", c.cfg.Provider.Name(),
		"backend", c.cfg.Backend.Name(),
		"model", liveCfg.Model,
		"voice", liveCfg.Voice,
	)
	return nil
}

// Stop ends the active session and waits until every resource is released.
// It is a no-op when Idle and safe to call repeatedly and concurrently.
// The returned error reports resources that failed to close cleanly.
func (c *Controller) Stop() error {
	c.mu.Lock()
	r := c.current
	c.mu.Unlock()
	if r == nil {
		return nil
	}
	r.stop()
	<-r.finished
	return r.closeErr
}

// Snapshot returns the current status.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		State:    c.state,
		Message:  c.message,
		Speaking: c.speaking.Load(),
	}
	r := c.current
	if r == nil {
		return s
	}
	s.SessionID = r.id
	s.StartedAt = r.startedAt
	if !r.committed {
		return s
	}
	s.InputLevel = r.devices.Level()
	s.OpenHandles = r.devices.OpenHandles()
	s.NextStartTime = r.scheduler.NextStartTime()
	s.PendingItems = r.scheduler.Pending()
	st := r.outbound.Stats()
	s.ChunksSent = st.Sent
	s.ChunksDropped = st.DroppedNotReady + st.DroppedFull
	return s
}

// transitionLocked records a state change. Caller holds c.mu and calls emit
// after unlocking.
func (c *Controller) transitionLocked(to State, message string) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	if to == Error {
		c.message = message
	}
	c.changes = append(c.changes, change{from: from, to: to, message: c.message})
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.RecordTransition(context.Background(), from.String(), to.String())
	}
	c.logger.Debug("session state changed", "from", from.String(), "to", to.String(), "message", message)
}

// emit delivers queued state changes to the observer in order.
func (c *Controller) emit() {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	for {
		c.mu.Lock()
		pending := c.changes
		c.changes = nil
		c.mu.Unlock()
		if len(pending) == 0 {
			return
		}
		if c.cfg.OnStateChange == nil {
			continue
		}
		for _, ch := range pending {
			c.cfg.OnStateChange(ch.from, ch.to, ch.message)
		}
	}
}

// setSpeaking may be called by the playback scheduler and by teardown at the
// same time. The observer sees the same sequence of values the flag took.
func (c *Controller) setSpeaking(v bool) {
	c.speakingMu.Lock()
	defer c.speakingMu.Unlock()
	if c.speaking.Swap(v) == v {
		return
	}
	if c.cfg.OnSpeaking != nil {
		c.cfg.OnSpeaking(v)
	}
}
