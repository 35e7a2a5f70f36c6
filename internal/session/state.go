package session

import (
	"errors"
	"fmt"
)

// State is the lifecycle state of the voice session.
type State int

const (
	// Idle means no session exists and no audio resources are held.
	Idle State = iota

	// Connecting means devices are being opened and the remote channel is
	// being established.
	Connecting

	// Live means audio flows in both directions.
	Live

	// Error is transient: it is entered on a failure and immediately left
	// for Idle once every resource has been released.
	Error
)

// String implements [fmt.Stringer].
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Live:
		return "live"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText implements [encoding.TextMarshaler].
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements [encoding.TextUnmarshaler].
func (s *State) UnmarshalText(text []byte) error {
	for _, st := range []State{Idle, Connecting, Live, Error} {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("session: unknown state %q", text)
}

var (
	// ErrInvalidState is returned when an operation is not allowed in the
	// current state. The call has no side effects.
	ErrInvalidState = errors.New("session: invalid state")

	// ErrChannel wraps failures of the remote channel. It is fatal to the
	// session.
	ErrChannel = errors.New("session: channel failed")

	// ErrAborted is returned by Start when Stop was called before the session
	// went live.
	ErrAborted = errors.New("session: start aborted")
)

// User-visible failure messages.
const (
	MessageDeviceUnavailable = "could not start the microphone"
	MessageChannelFailed     = "connection to the assistant failed"
)
