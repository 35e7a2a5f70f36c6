// Package device owns the physical audio endpoints of a voice session: one
// microphone input and one speaker output, plus a level-analysis tap on the
// input.
//
// Backends ([Backend]) open raw streams. A [Context] wraps a backend for the
// lifetime of exactly one session: it validates captured frames, feeds the
// [LevelMeter], and guarantees that every handle it opened is released by
// [Context.Close] on every exit path.
//
// Output devices expose a monotonic device clock and accept buffers scheduled
// at absolute clock positions, which is what makes gapless playback possible
// without a jitter buffer. The shared [Timeline] implements that contract in
// software for all backends.
package device

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/liveguide/pkg/audio"
)

// ErrDeviceUnavailable is returned when a device cannot be opened because
// permission was denied or no suitable device exists.
var ErrDeviceUnavailable = errors.New("device: audio device unavailable")

// ErrClosed is returned when a handle is used after it was closed.
var ErrClosed = errors.New("device: closed")

// ErrFormatMismatch is returned by [Output.Schedule] when a frame does not
// match the format the output was opened with.
var ErrFormatMismatch = errors.New("device: frame format does not match output")

// Input is an open capture stream.
type Input interface {
	// Frames returns the channel on which captured frames arrive. The channel
	// is closed once the input has been closed and all pending callbacks have
	// drained.
	Frames() <-chan audio.AudioFrame

	// Close stops capture and releases the device. Calling Close more than
	// once is safe and returns nil.
	Close() error
}

// Voice is a single buffer scheduled on an [Output].
type Voice interface {
	// Stop silences the voice immediately. Stopping a voice that has already
	// finished is a no-op. The onEnded callback passed to Schedule is not
	// invoked for stopped voices.
	Stop()
}

// Output is an open playback stream with its own monotonic clock.
type Output interface {
	// Now returns the current device time: the playback position of the
	// stream since it was opened.
	Now() time.Duration

	// Schedule queues frame to start playing at device time at and returns
	// the start time actually used. A start time the clock has already passed
	// is moved to the clock, atomically with respect to playback, so the
	// returned start is the one to chain the next frame from. onEnded, if
	// non-nil, is called exactly once when the frame has been fully played;
	// it runs on a backend goroutine and must not block.
	Schedule(frame audio.AudioFrame, at time.Duration, onEnded func()) (Voice, time.Duration, error)

	// Close stops playback, discards scheduled voices without invoking their
	// callbacks, and releases the device. Calling Close more than once is safe
	// and returns nil.
	Close() error
}

// Backend opens raw device streams. Implementations wrap a concrete audio
// API (PortAudio) or a deterministic test double.
type Backend interface {
	// Name identifies the backend in logs and configuration.
	Name() string

	// OpenInput opens the default capture device. Every frame delivered on
	// the returned Input carries frameSize samples per channel.
	OpenInput(ctx context.Context, format audio.Format, frameSize int) (Input, error)

	// OpenOutput opens the default playback device.
	OpenOutput(ctx context.Context, format audio.Format) (Output, error)
}
