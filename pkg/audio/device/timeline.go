package device

import (
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/liveguide/pkg/audio"
)

// Timeline is a software output timeline. It keeps a sample-accurate device
// clock, mixes every scheduled voice into the buffers handed to [Timeline.Render]
// and reports voices that finished during a render.
//
// Backends call Render from their output callback; Now and Schedule may be
// called from any goroutine. All methods are safe for concurrent use.
type Timeline struct {
	format audio.Format

	mu     sync.Mutex
	clock  int64 // samples per channel rendered so far
	voices []*voice
	closed bool
}

type voice struct {
	t       *Timeline
	start   int64 // device clock position, in samples per channel
	samples []float32
	onEnded func()
	done    bool
}

// NewTimeline creates a Timeline for the given output format.
func NewTimeline(format audio.Format) *Timeline {
	return &Timeline{format: format}
}

// Format returns the output format of the timeline.
func (t *Timeline) Format() audio.Format { return t.format }

// Now returns the current device time.
func (t *Timeline) Now() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.format.Duration(int(t.clock))
}

// Schedule queues frame at device time at and returns the start it was
// given. Start times before the current clock are moved to the clock under
// the same lock that Render advances it with.
func (t *Timeline) Schedule(frame audio.AudioFrame, at time.Duration, onEnded func()) (Voice, time.Duration, error) {
	if frame.Format != t.format {
		return nil, 0, fmt.Errorf("%w: got %s, want %s", ErrFormatMismatch, frame.Format, t.format)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, 0, ErrClosed
	}

	// Duration rounds up, so Samples(now) == clock.
	if now := t.format.Duration(int(t.clock)); at < now {
		at = now
	}
	start := t.format.Samples(at)
	v := &voice{
		t:       t,
		start:   start,
		samples: frame.Samples,
		onEnded: onEnded,
	}
	t.voices = append(t.voices, v)
	return v, at, nil
}

// Active returns the number of voices scheduled or playing.
func (t *Timeline) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.voices)
}

// Render mixes all voices into out, advances the clock by the number of
// frames in out and returns the completion callbacks of voices that finished.
// The caller invokes the callbacks; Render never calls them itself so that
// real-time backends can move them off the audio thread.
func (t *Timeline) Render(out []float32) []func() {
	clear(out)

	ch := t.format.Channels
	frames := int64(len(out) / ch)

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}

	from, to := t.clock, t.clock+frames
	var ended []func()
	kept := t.voices[:0]
	for _, v := range t.voices {
		end := v.start + int64(len(v.samples)/ch)
		lo, hi := max(from, v.start), min(to, end)
		for pos := lo; pos < hi; pos++ {
			src := (pos - v.start) * int64(ch)
			dst := (pos - from) * int64(ch)
			for c := int64(0); c < int64(ch); c++ {
				out[dst+c] += v.samples[src+c]
			}
		}
		if end <= to {
			v.done = true
			if v.onEnded != nil {
				ended = append(ended, v.onEnded)
			}
			continue
		}
		kept = append(kept, v)
	}
	clear(t.voices[len(kept):])
	t.voices = kept
	t.clock = to

	for i, s := range out {
		if s > 1 {
			out[i] = 1
		} else if s < -1 {
			out[i] = -1
		}
	}
	return ended
}

// Close drops every voice without invoking callbacks. Further Schedule calls
// fail with [ErrClosed]; Render produces silence.
func (t *Timeline) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, v := range t.voices {
		v.done = true
	}
	t.voices = nil
	t.closed = true
}

// Stop removes the voice from its timeline. No-op once finished or stopped.
func (v *voice) Stop() {
	v.t.Stop(v)
}

// Stop stops v if it belongs to t and reports whether it was still scheduled
// or playing. Finished, stopped and foreign voices are ignored.
func (t *Timeline) Stop(v Voice) bool {
	tv, ok := v.(*voice)
	if !ok || tv.t != t {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if tv.done {
		return false
	}
	tv.done = true
	for i, other := range t.voices {
		if other == tv {
			t.voices = append(t.voices[:i], t.voices[i+1:]...)
			break
		}
	}
	return true
}
