// Package live defines the contract for streaming conversational endpoints.
//
// A live provider holds one bidirectional session per conversation: captured
// microphone audio flows out through [Session.SendAudio] while synthesised
// speech, interruption signals and lifecycle events flow back through the
// [Callbacks] supplied at connect time.
//
// Callback contract:
//   - OnOpen fires at most once, when the remote side is ready to accept
//     audio. Audio sent before that is not guaranteed to be processed.
//   - OnMessage fires for every inbound message, in arrival order, from a
//     single goroutine.
//   - Exactly one of OnClose or OnError fires when the session ends remotely.
//     Neither fires after a local [Session.Close].
//
// Implementations must be safe for concurrent use.
package live

import (
	"context"
	"errors"

	"github.com/MrWong99/liveguide/pkg/audio"
)

// ErrSessionClosed is returned by [Session.SendAudio] once the session has
// ended, locally or remotely.
var ErrSessionClosed = errors.New("live: session closed")

// Modality selects the kind of response the endpoint produces.
type Modality string

// ModalityAudio asks for spoken responses.
const ModalityAudio Modality = "audio"

// Config configures one session.
type Config struct {
	// Model is the provider-specific model identifier.
	Model string

	// Modality is the response modality. Only [ModalityAudio] is used.
	Modality Modality

	// Instructions is the behavioural policy text, passed through opaquely.
	Instructions string

	// Voice is the prebuilt voice name used for synthesised speech.
	Voice string
}

// Message is one inbound event from the endpoint.
type Message struct {
	// Interrupted reports that the user barged in and every queued response
	// audio must be discarded. Interrupted messages carry no audio.
	Interrupted bool

	// Audio is base64-encoded little-endian PCM16 at the output format, or
	// empty.
	Audio string

	// MIMEType describes Audio when the endpoint reports it.
	MIMEType string

	// TurnComplete marks the end of a model turn.
	TurnComplete bool
}

// Actionable reports whether the message requires any work from the
// playback side.
func (m Message) Actionable() bool {
	return m.Interrupted || m.Audio != ""
}

// Callbacks receives session events. Nil fields are ignored.
type Callbacks struct {
	OnOpen    func()
	OnMessage func(Message)
	OnClose   func(reason string)
	OnError   func(err error)
}

// Session is an open streaming session.
type Session interface {
	// SendAudio sends one captured chunk. It returns once the chunk has been
	// handed to the transport.
	SendAudio(ctx context.Context, chunk audio.EncodedChunk) error

	// Close ends the session. It is idempotent and suppresses any further
	// callbacks.
	Close() error
}

// Provider opens sessions against one endpoint.
type Provider interface {
	// Name identifies the provider in logs and metrics.
	Name() string

	// Connect dials the endpoint and sends the session configuration. It
	// returns before the remote side is ready; readiness is signalled through
	// cb.OnOpen. A non-nil error means no callback will ever fire.
	Connect(ctx context.Context, cfg Config, cb Callbacks) (Session, error)
}
