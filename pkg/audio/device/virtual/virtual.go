// Package virtual provides a deterministic, in-memory [device.Backend].
//
// Tests push captured frames with [Input.Push] and move the output clock with
// [Output.Advance]; completion callbacks fire synchronously inside Advance.
// With RealTime set, the backend instead paces itself on the wall clock and
// generates silent capture frames, which is useful for running the full
// pipeline on machines without a sound card.
//
// All types are safe for concurrent use.
package virtual

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/liveguide/pkg/audio"
	"github.com/MrWong99/liveguide/pkg/audio/device"
)

// Compile-time interface assertions.
var (
	_ device.Backend = (*Backend)(nil)
	_ device.Input   = (*Input)(nil)
	_ device.Output  = (*Output)(nil)
)

// realTimeTick is the render period used when RealTime is enabled.
const realTimeTick = 20 * time.Millisecond

// Backend is an in-memory device backend. Set the exported fields before
// opening devices; inspect the recorded handles afterwards.
type Backend struct {
	// DenyInput makes OpenInput fail as if microphone permission was denied.
	DenyInput bool

	// DenyOutput makes OpenOutput fail as if no output device existed.
	DenyOutput bool

	// RealTime paces the output clock and generates silent input frames on
	// the wall clock instead of waiting for Advance and Push.
	RealTime bool

	mu      sync.Mutex
	inputs  []*Input
	outputs []*Output
}

// Name returns "virtual".
func (b *Backend) Name() string { return "virtual" }

// OpenInput creates a new virtual microphone.
func (b *Backend) OpenInput(_ context.Context, format audio.Format, frameSize int) (device.Input, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.DenyInput {
		return nil, fmt.Errorf("%w: microphone permission denied", device.ErrDeviceUnavailable)
	}
	in := &Input{
		format:    format,
		frameSize: frameSize,
		frames:    make(chan audio.AudioFrame, 16),
		done:      make(chan struct{}),
	}
	if b.RealTime {
		go in.generate()
	}
	b.inputs = append(b.inputs, in)
	return in, nil
}

// OpenOutput creates a new virtual speaker whose clock starts at zero.
func (b *Backend) OpenOutput(_ context.Context, format audio.Format) (device.Output, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.DenyOutput {
		return nil, fmt.Errorf("%w: no output device", device.ErrDeviceUnavailable)
	}
	out := &Output{
		timeline: device.NewTimeline(format),
		done:     make(chan struct{}),
	}
	if b.RealTime {
		go out.pace()
	}
	b.outputs = append(b.outputs, out)
	return out, nil
}

// OpenHandles returns the number of inputs and outputs that have been opened
// and not yet closed.
func (b *Backend) OpenHandles() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, in := range b.inputs {
		if !in.Closed() {
			n++
		}
	}
	for _, out := range b.outputs {
		if !out.Closed() {
			n++
		}
	}
	return n
}

// LastInput returns the most recently opened input, or nil.
func (b *Backend) LastInput() *Input {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.inputs) == 0 {
		return nil
	}
	return b.inputs[len(b.inputs)-1]
}

// LastOutput returns the most recently opened output, or nil.
func (b *Backend) LastOutput() *Output {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.outputs) == 0 {
		return nil
	}
	return b.outputs[len(b.outputs)-1]
}

// ─── Input ────────────────────────────────────────────────────────────────────

// Input is a virtual microphone.
type Input struct {
	format    audio.Format
	frameSize int

	mu     sync.Mutex
	frames chan audio.AudioFrame
	pos    int64
	closed bool
	done   chan struct{}
}

// Push delivers one captured frame built from samples. It reports false when
// the input is closed or its buffer is full, mirroring a real device dropping
// a buffer nobody consumed.
func (in *Input) Push(samples []float32) bool {
	in.mu.Lock()
	frame := audio.AudioFrame{
		Samples:   samples,
		Format:    in.format,
		Timestamp: in.format.Duration(int(in.pos)),
	}
	in.mu.Unlock()
	return in.PushFrame(frame)
}

// PushFrame delivers frame exactly as given, including malformed frames.
func (in *Input) PushFrame(frame audio.AudioFrame) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return false
	}
	select {
	case in.frames <- frame:
		in.pos += int64(frame.Len())
		return true
	default:
		return false
	}
}

// FrameSize returns the frame size the input was opened with.
func (in *Input) FrameSize() int { return in.frameSize }

// Frames implements [device.Input].
func (in *Input) Frames() <-chan audio.AudioFrame { return in.frames }

// Closed reports whether Close has been called.
func (in *Input) Closed() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.closed
}

// Close implements [device.Input].
func (in *Input) Close() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return nil
	}
	in.closed = true
	close(in.done)
	close(in.frames)
	return nil
}

func (in *Input) generate() {
	period := in.format.Duration(in.frameSize)
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-in.done:
			return
		case <-ticker.C:
			in.Push(make([]float32, in.frameSize*in.format.Channels))
		}
	}
}

// ─── Output ───────────────────────────────────────────────────────────────────

// Scheduled records one call to [Output.Schedule].
type Scheduled struct {
	// Start is the device time at which the voice starts playing.
	Start time.Duration

	// Duration is the length of the scheduled frame.
	Duration time.Duration
}

// Output is a virtual speaker driven by a [device.Timeline].
type Output struct {
	timeline *device.Timeline

	mu        sync.Mutex
	scheduled []Scheduled
	stopped   int
	ended     int
	closed    bool
	done      chan struct{}
}

// Now implements [device.Output].
func (out *Output) Now() time.Duration { return out.timeline.Now() }

// Schedule implements [device.Output] and records the resulting start time.
func (out *Output) Schedule(frame audio.AudioFrame, at time.Duration, onEnded func()) (device.Voice, time.Duration, error) {
	wrapped := func() {
		out.mu.Lock()
		out.ended++
		out.mu.Unlock()
		if onEnded != nil {
			onEnded()
		}
	}
	v, start, err := out.timeline.Schedule(frame, at, wrapped)
	if err != nil {
		return nil, 0, err
	}
	out.mu.Lock()
	out.scheduled = append(out.scheduled, Scheduled{Start: start, Duration: frame.Duration()})
	out.mu.Unlock()
	return &trackedVoice{Voice: v, out: out}, start, nil
}

// Advance renders d worth of audio, moving the device clock forward and
// firing completion callbacks of voices that finished.
func (out *Output) Advance(d time.Duration) {
	f := out.timeline.Format()
	n := f.Samples(d)
	if n <= 0 {
		return
	}
	for _, fn := range out.timeline.Render(make([]float32, n*int64(f.Channels))) {
		fn()
	}
}

// Active returns the number of voices that are scheduled or playing.
func (out *Output) Active() int { return out.timeline.Active() }

// Scheduled returns a copy of every schedule call made so far.
func (out *Output) Scheduled() []Scheduled {
	out.mu.Lock()
	defer out.mu.Unlock()
	cp := make([]Scheduled, len(out.scheduled))
	copy(cp, out.scheduled)
	return cp
}

// Stopped returns how many Stop calls hit a voice that was still live.
func (out *Output) Stopped() int {
	out.mu.Lock()
	defer out.mu.Unlock()
	return out.stopped
}

// Ended returns how many voices played to completion.
func (out *Output) Ended() int {
	out.mu.Lock()
	defer out.mu.Unlock()
	return out.ended
}

// Closed reports whether Close has been called.
func (out *Output) Closed() bool {
	out.mu.Lock()
	defer out.mu.Unlock()
	return out.closed
}

// Close implements [device.Output].
func (out *Output) Close() error {
	out.mu.Lock()
	defer out.mu.Unlock()
	if out.closed {
		return nil
	}
	out.closed = true
	out.timeline.Close()
	close(out.done)
	return nil
}

func (out *Output) pace() {
	ticker := time.NewTicker(realTimeTick)
	defer ticker.Stop()
	for {
		select {
		case <-out.done:
			return
		case <-ticker.C:
			out.Advance(realTimeTick)
		}
	}
}

// trackedVoice counts stops of voices that had not yet finished.
type trackedVoice struct {
	device.Voice
	out *Output
}

func (v *trackedVoice) Stop() {
	if v.out.timeline.Stop(v.Voice) {
		v.out.mu.Lock()
		v.out.stopped++
		v.out.mu.Unlock()
	}
}
