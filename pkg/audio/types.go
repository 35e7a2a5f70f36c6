// Package audio defines the audio value types that flow through the liveguide
// pipeline and the PCM framing helpers used at the transport boundary.
//
// Frames carry normalised float32 samples in the range [-1, 1]. They are only
// converted to signed 16-bit little-endian PCM when they cross the wire, in
// either direction. No resampling happens anywhere in the pipeline: capture runs
// at [InputFormat] and playback at [OutputFormat].
package audio

import (
	"fmt"
	"time"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

var (
	// InputFormat is the microphone capture format expected by the remote
	// endpoint: 16 kHz mono.
	InputFormat = Format{SampleRate: 16000, Channels: 1}

	// OutputFormat is the format of synthesised speech returned by the remote
	// endpoint: 24 kHz mono.
	OutputFormat = Format{SampleRate: 24000, Channels: 1}
)

// Valid reports whether f describes a usable stream.
func (f Format) Valid() bool {
	return f.SampleRate > 0 && f.Channels > 0
}

// Duration returns the playback duration of n samples per channel, rounded
// up to the next nanosecond so that Samples(Duration(n)) == n. Chained start
// times built from sums of durations therefore never overlap.
func (f Format) Duration(n int) time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	rate := int64(f.SampleRate)
	return time.Duration((int64(n)*int64(time.Second) + rate - 1) / rate)
}

// Samples returns the number of samples per channel covering d, rounded down.
func (f Format) Samples(d time.Duration) int64 {
	return int64(d) * int64(f.SampleRate) / int64(time.Second)
}

// String returns a human-readable representation, e.g. "16000Hz mono".
func (f Format) String() string {
	return formatString(f.SampleRate, f.Channels)
}

// AudioFrame is a fixed-length run of samples at a known format. Frames are
// immutable once captured or decoded; consumers must not modify Samples.
type AudioFrame struct {
	// Samples holds interleaved float32 samples in [-1, 1].
	Samples []float32

	// Format is the sample rate and channel count of Samples.
	Format Format

	// Timestamp marks the frame position relative to stream start.
	Timestamp time.Duration
}

// Len returns the number of samples per channel.
func (f AudioFrame) Len() int {
	if f.Format.Channels <= 0 {
		return 0
	}
	return len(f.Samples) / f.Format.Channels
}

// Duration returns how long the frame takes to play.
func (f AudioFrame) Duration() time.Duration {
	return f.Format.Duration(f.Len())
}

// EncodedChunk is the transport-ready form of one captured [AudioFrame]:
// little-endian signed 16-bit PCM, base64 wrapped. The producer keeps no
// reference to a chunk once it has been handed off.
type EncodedChunk struct {
	// Seq is the capture sequence number, starting at 1 for each session.
	Seq uint64

	// MIMEType describes the PCM payload, e.g. "audio/pcm;rate=16000".
	MIMEType string

	// Data is the base64-encoded PCM payload.
	Data string
}

// PCMMIMEType returns the MIME type used on the wire for raw PCM at f.
func PCMMIMEType(f Format) string {
	return fmt.Sprintf("audio/pcm;rate=%d", f.SampleRate)
}
