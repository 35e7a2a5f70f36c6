// Package capture turns fixed-size microphone frames into transport-ready
// chunks.
//
// The encoder performs no buffering across frames: exactly one
// [audio.EncodedChunk] is produced per captured frame, and the frame size is
// the block size the input device was opened with. Frames of any other size
// are rejected before they get here (see [device.Context]).
package capture

import (
	"encoding/base64"
	"sync"

	"github.com/MrWong99/liveguide/pkg/audio"
)

// DefaultBlockSize is the number of samples per channel in one captured
// frame. At 16 kHz this is a 256 ms cadence.
const DefaultBlockSize = 4096

// Encoder converts captured float frames into base64 little-endian PCM16
// chunks with monotonically increasing sequence numbers.
//
// Encode is safe for concurrent use, though the capture path only ever calls
// it from a single goroutine.
type Encoder struct {
	format    audio.Format
	blockSize int
	mimeType  string

	mu  sync.Mutex
	seq uint64
	buf []byte
}

// New returns an encoder for frames of the given format. A non-positive
// blockSize selects [DefaultBlockSize].
func New(format audio.Format, blockSize int) *Encoder {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &Encoder{
		format:    format,
		blockSize: blockSize,
		mimeType:  audio.PCMMIMEType(format),
	}
}

// BlockSize returns the number of samples per channel in one frame.
func (e *Encoder) BlockSize() int { return e.blockSize }

// Format returns the format of frames this encoder accepts.
func (e *Encoder) Format() audio.Format { return e.format }

// Encode converts frame into a chunk. Samples outside [-1, 1] are clamped.
// The returned chunk does not alias frame or any encoder-owned memory.
func (e *Encoder) Encode(frame audio.AudioFrame) audio.EncodedChunk {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.buf = audio.Float32ToPCM16(e.buf, frame.Samples)
	e.seq++
	return audio.EncodedChunk{
		Seq:      e.seq,
		MIMEType: e.mimeType,
		Data:     base64.StdEncoding.EncodeToString(e.buf),
	}
}

// Sequence returns the sequence number of the most recently encoded chunk,
// or zero if nothing was encoded yet.
func (e *Encoder) Sequence() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seq
}
