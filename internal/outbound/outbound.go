// Package outbound delivers encoded capture chunks to the remote endpoint.
//
// A [Channel] decouples the capture path from network I/O: the capture
// goroutine offers chunks without ever blocking, and a single sender goroutine
// started with [Channel.Run] writes them to the remote session in capture
// order. Chunks offered before the remote side is ready are dropped, not
// buffered, and a full queue drops the newest chunk. Dropped chunks are never
// retried.
package outbound

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/MrWong99/liveguide/internal/observe"
	"github.com/MrWong99/liveguide/pkg/audio"
)

// Default configuration values.
const (
	DefaultQueueSize   = 8
	DefaultSendTimeout = 5 * time.Second

	fullWarnInterval = time.Second
)

// ErrClosed is returned by [Channel.Open] after the channel was closed.
var ErrClosed = errors.New("outbound: channel closed")

// Outcome reports what happened to an offered chunk.
type Outcome int

const (
	// Queued means the chunk is waiting for the sender goroutine.
	Queued Outcome = iota

	// DroppedNotReady means the remote channel was not open (yet, or any
	// more) and the chunk was discarded.
	DroppedNotReady

	// DroppedFull means the queue was full and the chunk was discarded.
	DroppedFull
)

// String implements [fmt.Stringer].
func (o Outcome) String() string {
	switch o {
	case Queued:
		return "queued"
	case DroppedNotReady:
		return "dropped_not_ready"
	case DroppedFull:
		return "dropped_full"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Sender is the remote side of the channel. [live.Session] satisfies it.
type Sender interface {
	SendAudio(ctx context.Context, chunk audio.EncodedChunk) error
}

// Config configures a [Channel]. The zero value is usable.
type Config struct {
	// QueueSize bounds the number of chunks waiting to be sent.
	// Defaults to [DefaultQueueSize].
	QueueSize int

	// SendTimeout bounds a single SendAudio call. Defaults to
	// [DefaultSendTimeout].
	SendTimeout time.Duration

	// OnError is called at most once, from the sender goroutine, when a send
	// fails. The channel stops accepting chunks before OnError runs.
	OnError func(error)

	// Logger defaults to [slog.Default].
	Logger *slog.Logger

	// Metrics is optional.
	Metrics *observe.Metrics
}

// Stats is a point-in-time copy of the channel counters.
type Stats struct {
	Sent            uint64
	DroppedNotReady uint64
	DroppedFull     uint64
	Pending         int
}

// Channel is a bounded, ordered, drop-on-pressure outbound audio queue.
// All methods are safe for concurrent use.
type Channel struct {
	cfg   Config
	queue chan audio.EncodedChunk

	mu     sync.RWMutex
	sender Sender
	closed bool

	done      chan struct{}
	closeOnce sync.Once
	errOnce   sync.Once

	sent            atomic.Uint64
	droppedNotReady atomic.Uint64
	droppedFull     atomic.Uint64

	// fullWarn limits queue-full warnings; a stalled link drops several
	// chunks per second.
	fullWarn rate.Sometimes
}

// New creates a channel that is not yet ready.
func New(cfg Config) *Channel {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Channel{
		cfg:      cfg,
		queue:    make(chan audio.EncodedChunk, cfg.QueueSize),
		done:     make(chan struct{}),
		fullWarn: rate.Sometimes{Interval: fullWarnInterval},
	}
}

// Open marks the channel ready and binds it to sender. Chunks offered from
// now on are queued.
func (c *Channel) Open(sender Sender) error {
	if sender == nil {
		return errors.New("outbound: nil sender")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.sender = sender
	return nil
}

// Ready reports whether chunks are currently accepted.
func (c *Channel) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sender != nil && !c.closed
}

// Offer hands one chunk to the channel without blocking.
func (c *Channel) Offer(chunk audio.EncodedChunk) Outcome {
	c.mu.RLock()
	ready := c.sender != nil && !c.closed
	var out Outcome
	switch {
	case !ready:
		out = DroppedNotReady
	default:
		select {
		case c.queue <- chunk:
			out = Queued
		default:
			out = DroppedFull
		}
	}
	c.mu.RUnlock()

	switch out {
	case DroppedNotReady:
		c.droppedNotReady.Add(1)
		c.record(observe.OutboundDroppedNotReady)
	case DroppedFull:
		c.droppedFull.Add(1)
		c.record(observe.OutboundDroppedFull)
		c.fullWarn.Do(func() {
			c.cfg.Logger.Warn("outbound: queue full, dropping chunks",
				"seq", chunk.Seq,
				"dropped_total", c.droppedFull.Load(),
			)
		})
	}
	return out
}

// Run sends queued chunks in order until ctx is cancelled, the channel is
// closed, or a send fails. A send failure closes the channel, is reported
// through OnError and returned.
func (c *Channel) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.done:
			return nil
		case chunk := <-c.queue:
			if c.isClosed() {
				return nil
			}
			if err := c.send(ctx, chunk); err != nil {
				if ctx.Err() != nil || c.isClosed() {
					return nil
				}
				err = fmt.Errorf("outbound: send chunk %d: %w", chunk.Seq, err)
				c.fail(err)
				return err
			}
		}
	}
}

func (c *Channel) send(ctx context.Context, chunk audio.EncodedChunk) error {
	c.mu.RLock()
	sender := c.sender
	c.mu.RUnlock()

	sendCtx, cancel := context.WithTimeout(ctx, c.cfg.SendTimeout)
	defer cancel()
	if err := sender.SendAudio(sendCtx, chunk); err != nil {
		return err
	}
	c.sent.Add(1)
	c.record(observe.OutboundSent)
	return nil
}

func (c *Channel) fail(err error) {
	c.Close()
	c.record(observe.OutboundFailed)
	c.errOnce.Do(func() {
		c.cfg.Logger.Warn("outbound: send failed", "err", err)
		if c.cfg.OnError != nil {
			c.cfg.OnError(err)
		}
	})
}

func (c *Channel) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Close stops accepting chunks, discards anything still queued and stops
// the sender goroutine. It is idempotent.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
		for {
			select {
			case <-c.queue:
			default:
				return
			}
		}
	})
}

// Stats returns a snapshot of the channel counters.
func (c *Channel) Stats() Stats {
	return Stats{
		Sent:            c.sent.Load(),
		DroppedNotReady: c.droppedNotReady.Load(),
		DroppedFull:     c.droppedFull.Load(),
		Pending:         len(c.queue),
	}
}

func (c *Channel) record(status string) {
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.RecordOutbound(context.Background(), status)
	}
}
