package playback

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/MrWong99/liveguide/pkg/audio"
)

// ErrDecode is returned by [Decode] for payloads that cannot be turned into
// audio. It is local to one inbound message: the frame is dropped and
// scheduling continues.
var ErrDecode = errors.New("playback: decode failed")

// Decode converts a base64 little-endian PCM16 payload into a frame of the
// given format.
func Decode(data string, format audio.Format) (audio.AudioFrame, error) {
	if data == "" {
		return audio.AudioFrame{}, fmt.Errorf("%w: empty payload", ErrDecode)
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return audio.AudioFrame{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if len(raw) == 0 {
		return audio.AudioFrame{}, fmt.Errorf("%w: empty payload", ErrDecode)
	}
	if len(raw)%(2*format.Channels) != 0 {
		return audio.AudioFrame{}, fmt.Errorf("%w: %d bytes is not a whole number of %s frames", ErrDecode, len(raw), format)
	}
	samples, err := audio.PCM16ToFloat32(raw)
	if err != nil {
		return audio.AudioFrame{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return audio.AudioFrame{Samples: samples, Format: format}, nil
}
