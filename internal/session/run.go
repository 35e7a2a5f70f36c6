package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/liveguide/internal/capture"
	"github.com/MrWong99/liveguide/internal/outbound"
	"github.com/MrWong99/liveguide/internal/playback"
	"github.com/MrWong99/liveguide/pkg/audio/device"
	"github.com/MrWong99/liveguide/pkg/provider/live"
)

// eventBuffer is the capacity of a session's event queue.
const eventBuffer = 64

// event is one input of the session loop.
type event interface{ isEvent() }

type (
	openedEvent  struct{}
	messageEvent struct{ msg live.Message }
	decodedEvent struct{ result playback.Decoded }
	closedEvent  struct{ reason string }
	erroredEvent struct{ err error }
)

func (openedEvent) isEvent()  {}
func (messageEvent) isEvent() {}
func (decodedEvent) isEvent() {}
func (closedEvent) isEvent()  {}
func (erroredEvent) isEvent() {}

// endReason describes why a session ended. A nil err is a clean end.
type endReason struct {
	err     error
	message string
}

// run is one session from Start to teardown. Resource fields are written by
// Start before the run is committed and are read-only afterwards; loop-owned
// fields are touched by the loop goroutine only.
type run struct {
	c         *Controller
	id        string
	startedAt time.Time
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	events chan event
	group  errgroup.Group

	devices   *device.Context
	input     device.Input
	encoder   *capture.Encoder
	outbound  *outbound.Channel
	scheduler *playback.Scheduler
	remote    live.Session
	committed bool // guarded by c.mu

	// Loop-owned.
	sequencer *playback.Sequencer
	opened    bool

	endOnce    sync.Once
	end        endReason
	finishOnce sync.Once
	finished   chan struct{}
	wasLive    bool
	closeErr   error
}

func (c *Controller) newRun() *run {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	return &run{
		c:         c,
		id:        id,
		startedAt: time.Now().UTC(),
		logger:    c.logger.With("session_id", id),
		ctx:       ctx,
		cancel:    cancel,
		events:    make(chan event, eventBuffer),
		sequencer: playback.NewSequencer(),
		finished:  make(chan struct{}),
	}
}

// openDevices acquires the microphone and speaker and builds the pipeline
// stages around them.
func (r *run) openDevices(ctx context.Context) error {
	cfg := r.c.cfg
	r.devices = device.NewContext(cfg.Backend, r.logger)

	in, err := r.devices.OpenInput(ctx, cfg.InputFormat, cfg.BlockSize)
	if err != nil {
		return err
	}
	out, err := r.devices.OpenOutput(ctx, cfg.OutputFormat)
	if err != nil {
		return err
	}
	r.input = in
	r.encoder = capture.New(cfg.InputFormat, cfg.BlockSize)
	r.scheduler = playback.NewScheduler(out, playback.Config{
		OnSpeaking: r.c.setSpeaking,
		Logger:     r.logger,
		Metrics:    cfg.Metrics,
	})
	r.outbound = outbound.New(outbound.Config{
		QueueSize: cfg.OutboundQueue,
		OnError: func(err error) {
			r.post(erroredEvent{err: err})
		},
		Logger:  r.logger,
		Metrics: cfg.Metrics,
	})
	return nil
}

// callbacks binds remote events to this run's loop.
func (r *run) callbacks() live.Callbacks {
	return live.Callbacks{
		OnOpen:    func() { r.post(openedEvent{}) },
		OnMessage: func(m live.Message) { r.post(messageEvent{msg: m}) },
		OnClose:   func(reason string) { r.post(closedEvent{reason: reason}) },
		OnError:   func(err error) { r.post(erroredEvent{err: err}) },
	}
}

// post queues ev for the loop. Events for a run that has ended are dropped.
func (r *run) post(ev event) {
	select {
	case r.events <- ev:
	case <-r.ctx.Done():
	}
}

// start launches the loop and the outbound sender. Caller holds c.mu.
func (r *run) start() {
	r.group.Go(func() error {
		_ = r.outbound.Run(r.ctx) // failures arrive through OnError
		return nil
	})
	r.group.Go(r.loop)
	go func() {
		_ = r.group.Wait()
		r.finish(r.end)
	}()
}

// stop asks the run to end cleanly.
func (r *run) stop() {
	r.setEnd(endReason{})
	r.cancel()
}

// setEnd records the first reason the run ends for.
func (r *run) setEnd(reason endReason) {
	r.endOnce.Do(func() { r.end = reason })
}

func (r *run) loop() error {
	defer r.cancel()

	connectTimer := time.NewTimer(r.c.cfg.ConnectTimeout)
	defer connectTimer.Stop()

	frames := r.input.Frames()
	for {
		select {
		case <-r.ctx.Done():
			r.setEnd(endReason{})
			return nil

		case <-connectTimer.C:
			if !r.opened {
				r.setEnd(endReason{
					err:     fmt.Errorf("%w: remote did not open within %s", ErrChannel, r.c.cfg.ConnectTimeout),
					message: MessageChannelFailed,
				})
				return nil
			}

		case frame, ok := <-frames:
			if !ok {
				r.setEnd(endReason{
					err:     fmt.Errorf("session: capture stopped: %w", device.ErrDeviceUnavailable),
					message: MessageDeviceUnavailable,
				})
				return nil
			}
			r.outbound.Offer(r.encoder.Encode(frame))

		case ev := <-r.events:
			if r.handle(ev) {
				return nil
			}
		}
	}
}

// handle processes one event and reports whether the session has ended.
func (r *run) handle(ev event) bool {
	switch ev := ev.(type) {
	case openedEvent:
		r.onOpened()

	case messageEvent:
		r.onMessage(ev.msg)

	case decodedEvent:
		r.onDecoded(ev.result)

	case closedEvent:
		reason := endReason{}
		if !r.opened {
			reason = endReason{
				err:     fmt.Errorf("%w: closed before open: %s", ErrChannel, ev.reason),
				message: MessageChannelFailed,
			}
		}
		r.logger.Info("remote closed the session", "reason", ev.reason)
		r.setEnd(reason)
		return true

	case erroredEvent:
		err := ev.err
		if !errors.Is(err, ErrChannel) {
			err = fmt.Errorf("%w: %w", ErrChannel, err)
		}
		r.setEnd(endReason{err: err, message: MessageChannelFailed})
		if r.c.cfg.Metrics != nil {
			r.c.cfg.Metrics.RecordProviderError(context.Background(), r.c.cfg.Provider.Name(), "session")
		}
		return true
	}
	return false
}

func (r *run) onOpened() {
	if r.opened {
		return
	}
	r.opened = true
	if err := r.outbound.Open(r.remote); err != nil {
		r.logger.Warn("outbound channel could not open", "err", err)
	}

	c := r.c
	c.mu.Lock()
	c.transitionLocked(Live, "")
	r.wasLive = true
	c.mu.Unlock()
	c.emit()

	if m := c.cfg.Metrics; m != nil {
		ctx := context.Background()
		m.ActiveSessions.Add(ctx, 1)
		m.ConnectDuration.Record(ctx, time.Since(r.startedAt).Seconds())
	}
	r.logger.Info("session live", "connect_time", time.Since(r.startedAt))
}

func (r *run) onMessage(m live.Message) {
	if !r.opened {
		r.logger.Debug("ignoring message before open")
		return
	}
	// Interruption is applied before any audio of the same message.
	if m.Interrupted {
		n := r.scheduler.Flush()
		r.sequencer.Reset()
		if r.c.cfg.Metrics != nil {
			r.c.cfg.Metrics.Interruptions.Add(context.Background(), 1)
		}
		r.logger.Debug("interrupted, playback flushed", "items", n)
	}
	if m.Audio == "" {
		return
	}
	seq := r.sequencer.Next()
	data, format := m.Audio, r.c.cfg.OutputFormat
	r.group.Go(func() error {
		frame, err := playback.Decode(data, format)
		r.post(decodedEvent{result: playback.Decoded{Seq: seq, Frame: frame, Err: err}})
		return nil
	})
}

func (r *run) onDecoded(d playback.Decoded) {
	for _, res := range r.sequencer.Complete(d) {
		if res.Err != nil {
			r.logger.Warn("dropping undecodable audio", "seq", res.Seq, "err", res.Err)
			if r.c.cfg.Metrics != nil {
				r.c.cfg.Metrics.DecodeFailures.Add(context.Background(), 1)
			}
			continue
		}
		if _, err := r.scheduler.Enqueue(res.Frame); err != nil {
			r.logger.Warn("could not schedule audio", "seq", res.Seq, "err", err)
		}
	}
}

// finish tears the run down exactly once and returns the controller to
// Idle, passing through Error when reason carries one.
func (r *run) finish(reason endReason) {
	r.finishOnce.Do(func() {
		r.cancel()
		r.closeErr = r.teardown()

		c := r.c
		c.mu.Lock()
		wasLive := r.wasLive
		if reason.err != nil {
			c.transitionLocked(Error, reason.message)
		}
		c.transitionLocked(Idle, "")
		if c.current == r {
			c.current = nil
		}
		c.mu.Unlock()
		c.emit()

		if m := c.cfg.Metrics; m != nil && wasLive {
			m.ActiveSessions.Add(context.Background(), -1)
		}
		if reason.err != nil {
			r.logger.Error("session failed", "err", reason.err, "message", reason.message)
		} else {
			r.logger.Info("session stopped", "duration", time.Since(r.startedAt))
		}
		if r.closeErr != nil {
			r.logger.Warn("session resources did not close cleanly", "err", r.closeErr)
		}
		close(r.finished)
	})
}

// teardown releases every resource in dependency order: pending playback,
// outbound queue, remote channel, devices.
func (r *run) teardown() error {
	var errs []error
	if r.scheduler != nil {
		r.scheduler.Close()
	}
	if r.outbound != nil {
		r.outbound.Close()
	}
	if r.remote != nil {
		if err := r.remote.Close(); err != nil {
			errs = append(errs, fmt.Errorf("session: close remote: %w", err))
		}
	}
	if r.devices != nil {
		if err := r.devices.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	r.c.setSpeaking(false)
	return errors.Join(errs...)
}
