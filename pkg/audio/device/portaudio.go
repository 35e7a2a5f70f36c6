//go:build portaudio
// +build portaudio

package device

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/liveguide/pkg/audio"
)

// Compile-time interface assertion.
var _ Backend = (*PortAudio)(nil)

// PortAudio opens the system default devices through PortAudio callback
// streams. PortAudio reference-counts Initialize/Terminate, so every stream
// holds its own initialisation for as long as it is open.
type PortAudio struct {
	logger *slog.Logger
}

// NewPortAudio creates a PortAudio backend.
func NewPortAudio(logger *slog.Logger) *PortAudio {
	if logger == nil {
		logger = slog.Default()
	}
	return &PortAudio{logger: logger}
}

// Name returns "portaudio".
func (p *PortAudio) Name() string { return "portaudio" }

// OpenInput opens the default microphone. Buffers that the session cannot
// consume in time are dropped rather than blocking the audio thread.
func (p *PortAudio) OpenInput(_ context.Context, format audio.Format, frameSize int) (Input, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: initializing portaudio: %v", ErrDeviceUnavailable, err)
	}
	if _, err := portaudio.DefaultInputDevice(); err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("%w: no default input device: %v", ErrDeviceUnavailable, err)
	}

	in := &paInput{
		format: format,
		frames: make(chan audio.AudioFrame, 8),
		logger: p.logger,
	}
	stream, err := portaudio.OpenDefaultStream(format.Channels, 0, float64(format.SampleRate), frameSize, in.process)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("%w: opening input stream: %v", ErrDeviceUnavailable, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("%w: starting input stream: %v", ErrDeviceUnavailable, err)
	}
	in.stream = stream

	p.logger.Info("microphone started", "sampleRate", format.SampleRate, "frameSize", frameSize)
	return in, nil
}

// OpenOutput opens the default speaker and drives a [Timeline] from the
// stream callback.
func (p *PortAudio) OpenOutput(_ context.Context, format audio.Format) (Output, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: initializing portaudio: %v", ErrDeviceUnavailable, err)
	}
	if _, err := portaudio.DefaultOutputDevice(); err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("%w: no default output device: %v", ErrDeviceUnavailable, err)
	}

	out := &paOutput{
		Timeline: NewTimeline(format),
		ended:    newEndedQueue(),
		done:     make(chan struct{}),
		logger:   p.logger,
	}
	stream, err := portaudio.OpenDefaultStream(0, format.Channels, float64(format.SampleRate), portaudio.FramesPerBufferUnspecified, out.process)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("%w: opening output stream: %v", ErrDeviceUnavailable, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("%w: starting output stream: %v", ErrDeviceUnavailable, err)
	}
	out.stream = stream
	go out.ended.run(out.done)

	p.logger.Info("speaker started", "sampleRate", format.SampleRate)
	return out, nil
}

// ── input ─────────────────────────────────────────────────────────────────────

type paInput struct {
	stream *portaudio.Stream
	format audio.Format
	frames chan audio.AudioFrame
	logger *slog.Logger

	pos     int64 // samples per channel delivered so far
	dropped int

	mu     sync.Mutex
	closed bool
}

// process runs on the PortAudio callback thread. buf is reused by PortAudio,
// so it is copied before it leaves the callback.
func (in *paInput) process(buf []float32) {
	samples := make([]float32, len(buf))
	copy(samples, buf)
	frame := audio.AudioFrame{
		Samples:   samples,
		Format:    in.format,
		Timestamp: in.format.Duration(int(in.pos)),
	}
	in.pos += int64(len(buf) / in.format.Channels)

	select {
	case in.frames <- frame:
	default:
		in.dropped++
	}
}

func (in *paInput) Frames() <-chan audio.AudioFrame { return in.frames }

func (in *paInput) Close() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return nil
	}
	in.closed = true

	// Stop blocks until the last callback has returned.
	stopErr := in.stream.Stop()
	closeErr := in.stream.Close()
	portaudio.Terminate()
	close(in.frames)

	if in.dropped > 0 {
		in.logger.Warn("microphone dropped buffers", "count", in.dropped)
	}
	if stopErr != nil {
		return fmt.Errorf("stopping input stream: %w", stopErr)
	}
	if closeErr != nil {
		return fmt.Errorf("closing input stream: %w", closeErr)
	}
	return nil
}

// ── output ────────────────────────────────────────────────────────────────────

type paOutput struct {
	*Timeline
	stream *portaudio.Stream
	ended  *endedQueue
	done   chan struct{}
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

// process runs on the PortAudio callback thread. Completion callbacks are
// queued for the dispatcher goroutine so that no Go callback runs on the
// audio thread.
func (out *paOutput) process(buf []float32) {
	out.ended.push(out.Render(buf))
}

// Now returns the playback position of the stream. It is sample-counted by
// the timeline, so it stays consistent with Schedule even across underruns.
func (out *paOutput) Now() time.Duration { return out.Timeline.Now() }

func (out *paOutput) Close() error {
	out.mu.Lock()
	defer out.mu.Unlock()
	if out.closed {
		return nil
	}
	out.closed = true

	out.Timeline.Close()
	stopErr := out.stream.Stop()
	closeErr := out.stream.Close()
	portaudio.Terminate()
	close(out.done)

	if stopErr != nil {
		return fmt.Errorf("stopping output stream: %w", stopErr)
	}
	if closeErr != nil {
		return fmt.Errorf("closing output stream: %w", closeErr)
	}
	return nil
}
