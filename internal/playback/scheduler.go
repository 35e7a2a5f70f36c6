// Package playback schedules decoded speech on the output device.
//
// The [Scheduler] keeps a single running "next start time" on the device
// clock. Each frame starts at max(nextStartTime, now) and pushes
// nextStartTime forward by its own duration, so back-to-back chunks play
// gaplessly even though they arrive at irregular intervals, and audio that
// arrives late after a silence starts immediately instead of in the past.
//
// Scheduled frames live in an arena of slots addressed by [ItemID]. A
// completion callback only removes its item when the slot generation still
// matches, which makes completions for flushed items harmless.
package playback

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/liveguide/internal/observe"
	"github.com/MrWong99/liveguide/pkg/audio"
	"github.com/MrWong99/liveguide/pkg/audio/device"
)

// ErrClosed is returned by [Scheduler.Enqueue] after Close.
var ErrClosed = errors.New("playback: scheduler closed")

// ItemID is a stable handle of one scheduled frame.
type ItemID struct {
	index uint32
	gen   uint32
}

// Item describes one scheduled frame.
type Item struct {
	ID       ItemID
	Start    time.Duration
	Duration time.Duration
}

// Config configures a [Scheduler]. The zero value is usable.
type Config struct {
	// OnSpeaking is called with true when the queue goes from empty to
	// non-empty and with false when it drains or is flushed. It runs with the
	// scheduler lock held and must not call back into the Scheduler.
	OnSpeaking func(speaking bool)

	// Logger defaults to [slog.Default].
	Logger *slog.Logger

	// Metrics is optional.
	Metrics *observe.Metrics
}

type slot struct {
	gen   uint32
	live  bool
	voice device.Voice
	item  Item
}

// Scheduler is the gapless playback queue. All methods are safe for
// concurrent use; completion callbacks arrive on the device goroutine.
type Scheduler struct {
	out device.Output
	cfg Config

	mu        sync.Mutex
	slots     []slot
	free      []uint32
	pending   int
	nextStart time.Duration
	closed    bool
}

// NewScheduler creates a scheduler that plays on out.
func NewScheduler(out device.Output, cfg Config) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Scheduler{out: out, cfg: cfg}
}

// Enqueue schedules frame right after everything already queued, or
// immediately if the queue has run dry. It returns the scheduled item.
func (s *Scheduler) Enqueue(frame audio.AudioFrame) (Item, error) {
	if frame.Len() == 0 {
		return Item{}, fmt.Errorf("playback: empty frame")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Item{}, ErrClosed
	}

	now := s.out.Now()
	d := frame.Duration()

	// The device may have played on since Now; it returns the start it used.
	id := s.alloc()
	voice, start, err := s.out.Schedule(frame, max(s.nextStart, now), func() { s.complete(id) })
	if err != nil {
		s.release(id.index)
		return Item{}, fmt.Errorf("playback: schedule: %w", err)
	}

	it := Item{ID: id, Start: start, Duration: d}
	sl := &s.slots[id.index]
	sl.voice = voice
	sl.item = it
	s.nextStart = start + d
	s.pending++
	if s.pending == 1 {
		s.notify(true)
	}

	if s.cfg.Metrics != nil {
		ctx := context.Background()
		s.cfg.Metrics.RecordPlayback(ctx, observe.PlaybackScheduled, 1)
		s.cfg.Metrics.RecordScheduleLead(ctx, start-now)
	}
	return it, nil
}

// alloc claims a slot and returns its handle. Caller holds s.mu.
func (s *Scheduler) alloc() ItemID {
	var idx uint32
	if n := len(s.free); n > 0 {
		idx = s.free[n-1]
		s.free = s.free[:n-1]
	} else {
		s.slots = append(s.slots, slot{})
		idx = uint32(len(s.slots) - 1)
	}
	sl := &s.slots[idx]
	sl.live = true
	return ItemID{index: idx, gen: sl.gen}
}

// release invalidates a slot and returns it to the free list. Caller holds
// s.mu.
func (s *Scheduler) release(idx uint32) {
	sl := &s.slots[idx]
	sl.gen++
	sl.live = false
	sl.voice = nil
	sl.item = Item{}
	s.free = append(s.free, idx)
}

// complete is the device completion callback for id.
func (s *Scheduler) complete(id ItemID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if int(id.index) >= len(s.slots) {
		return
	}
	sl := &s.slots[id.index]
	if !sl.live || sl.gen != id.gen {
		// Flushed before it ended.
		return
	}
	s.release(id.index)
	s.pending--
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.RecordPlayback(context.Background(), observe.PlaybackEnded, 1)
	}
	if s.pending == 0 {
		s.notify(false)
	}
}

// Flush stops every scheduled or playing frame, empties the queue and resets
// the next start time. It returns the number of items that were dropped.
func (s *Scheduler) Flush() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *Scheduler) flushLocked() int {
	n := 0
	for i := range s.slots {
		sl := &s.slots[i]
		if !sl.live {
			continue
		}
		if sl.voice != nil {
			sl.voice.Stop()
		}
		s.release(uint32(i))
		n++
	}
	s.pending = 0
	s.nextStart = 0
	if n > 0 {
		s.notify(false)
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.RecordPlayback(context.Background(), observe.PlaybackFlushed, n)
		}
		s.cfg.Logger.Debug("playback: flushed", "items", n)
	}
	return n
}

// Close flushes the queue and rejects further frames. The output device is
// not closed; it belongs to the device context. Close is idempotent.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.flushLocked()
	s.closed = true
}

// NextStartTime returns the device time at which the next enqueued frame
// would start if the queue has not run dry. Zero means nothing was scheduled
// since creation or the last flush.
func (s *Scheduler) NextStartTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextStart
}

// Pending returns the number of items scheduled or playing.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Items returns the live items ordered by start time.
func (s *Scheduler) Items() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]Item, 0, s.pending)
	for _, sl := range s.slots {
		if sl.live {
			items = append(items, sl.item)
		}
	}
	slices.SortFunc(items, func(a, b Item) int { return cmp.Compare(a.Start, b.Start) })
	return items
}

func (s *Scheduler) notify(speaking bool) {
	if s.cfg.OnSpeaking != nil {
		s.cfg.OnSpeaking(speaking)
	}
}
