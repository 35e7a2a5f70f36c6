package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/liveguide/pkg/audio"
)

// Context owns the input and output handles of one voice session. It is
// created per session and closed exactly once by the session owner; after
// Close it cannot be reused.
//
// All methods are safe for concurrent use.
type Context struct {
	backend Backend
	logger  *slog.Logger
	level   LevelMeter

	mu     sync.Mutex
	input  *checkedInput
	output Output
	closed bool
}

// NewContext returns a Context that opens devices through backend. A nil
// logger falls back to [slog.Default].
func NewContext(backend Backend, logger *slog.Logger) *Context {
	if logger == nil {
		logger = slog.Default()
	}
	return &Context{backend: backend, logger: logger}
}

// OpenInput opens the capture device. Errors are wrapped with
// [ErrDeviceUnavailable] when the backend did not already do so.
func (c *Context) OpenInput(ctx context.Context, format audio.Format, frameSize int) (Input, error) {
	if !format.Valid() || frameSize <= 0 {
		return nil, fmt.Errorf("device: invalid input format %s / frame size %d", format, frameSize)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if c.input != nil {
		return nil, errors.New("device: input already open")
	}

	raw, err := c.backend.OpenInput(ctx, format, frameSize)
	if err != nil {
		return nil, unavailable("open input", err)
	}
	c.input = newCheckedInput(raw, format, frameSize, &c.level, c.logger)
	c.logger.Debug("audio input opened", "backend", c.backend.Name(), "format", format.String(), "frame_size", frameSize)
	return c.input, nil
}

// OpenOutput opens the playback device.
func (c *Context) OpenOutput(ctx context.Context, format audio.Format) (Output, error) {
	if !format.Valid() {
		return nil, fmt.Errorf("device: invalid output format %s", format)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if c.output != nil {
		return nil, errors.New("device: output already open")
	}

	out, err := c.backend.OpenOutput(ctx, format)
	if err != nil {
		return nil, unavailable("open output", err)
	}
	c.output = out
	c.logger.Debug("audio output opened", "backend", c.backend.Name(), "format", format.String())
	return out, nil
}

// Level returns the RMS level of the most recent captured frame.
func (c *Context) Level() float64 { return c.level.Level() }

// OpenHandles returns the number of device handles currently held.
func (c *Context) OpenHandles() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	if c.input != nil {
		n++
	}
	if c.output != nil {
		n++
	}
	return n
}

// Close releases every handle held by the context, waiting for pending
// capture callbacks to drain. It is idempotent: closing an already closed
// context is a no-op that returns nil.
func (c *Context) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	in, out := c.input, c.output
	c.input, c.output = nil, nil
	c.mu.Unlock()

	var errs []error
	if in != nil {
		if err := in.Close(); err != nil {
			errs = append(errs, fmt.Errorf("device: close input: %w", err))
		}
	}
	if out != nil {
		if err := out.Close(); err != nil {
			errs = append(errs, fmt.Errorf("device: close output: %w", err))
		}
	}
	c.level.Reset()
	return errors.Join(errs...)
}

func unavailable(op string, err error) error {
	if errors.Is(err, ErrDeviceUnavailable) {
		return fmt.Errorf("device: %s: %w", op, err)
	}
	return fmt.Errorf("device: %s: %w: %w", op, ErrDeviceUnavailable, err)
}

// checkedInput forwards frames from a backend input after rejecting frames of
// the wrong size and feeding the level meter. Malformed frames never reach the
// encoder.
type checkedInput struct {
	raw       Input
	format    audio.Format
	frameSize int
	level     *LevelMeter
	logger    *slog.Logger

	frames chan audio.AudioFrame
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

func newCheckedInput(raw Input, format audio.Format, frameSize int, level *LevelMeter, logger *slog.Logger) *checkedInput {
	in := &checkedInput{
		raw:       raw,
		format:    format,
		frameSize: frameSize,
		level:     level,
		logger:    logger,
		frames:    make(chan audio.AudioFrame, 4),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go in.forward()
	return in
}

func (in *checkedInput) forward() {
	defer close(in.done)
	defer close(in.frames)

	var warned bool
	for frame := range in.raw.Frames() {
		if frame.Format != in.format || frame.Len() != in.frameSize || len(frame.Samples)%in.format.Channels != 0 {
			if !warned {
				in.logger.Warn("audio input: rejecting malformed frame",
					"samples", len(frame.Samples),
					"format", frame.Format.String(),
					"want_frame_size", in.frameSize,
				)
				warned = true
			}
			continue
		}
		in.level.Observe(frame)
		select {
		case in.frames <- frame:
		case <-in.stop:
			// Keep draining the backend until it closes its channel.
		}
	}
}

func (in *checkedInput) Frames() <-chan audio.AudioFrame { return in.frames }

func (in *checkedInput) Close() error {
	var err error
	in.once.Do(func() {
		close(in.stop)
		err = in.raw.Close()
		<-in.done
	})
	return err
}
