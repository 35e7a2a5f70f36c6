package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrOddLength is returned by [PCM16ToFloat32] when the input cannot be split
// into whole 16-bit samples.
var ErrOddLength = errors.New("audio: odd byte count in 16-bit PCM data")

// Float32ToPCM16 converts float32 samples to little-endian signed 16-bit PCM.
// Samples outside [-1, 1] are clamped. dst is reused when it has enough
// capacity, keeping the capture path allocation-light.
func Float32ToPCM16(dst []byte, samples []float32) []byte {
	n := len(samples) * 2
	if cap(dst) < n {
		dst = make([]byte, n)
	}
	dst = dst[:n]
	for i, s := range samples {
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(floatToInt16(s)))
	}
	return dst
}

// PCM16ToFloat32 converts little-endian signed 16-bit PCM to float32 samples
// in [-1, 1).
func PCM16ToFloat32(pcm []byte) ([]float32, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrOddLength, len(pcm))
	}
	out := make([]float32, len(pcm)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768
	}
	return out, nil
}

// floatToInt16 maps a float sample to int16 using the asymmetric scaling most
// capture stacks use: negative values scale by 32768, positive by 32767.
func floatToInt16(s float32) int16 {
	if math.IsNaN(float64(s)) {
		return 0
	}
	if s >= 1 {
		return math.MaxInt16
	}
	if s <= -1 {
		return math.MinInt16
	}
	if s < 0 {
		return int16(s * 32768)
	}
	return int16(s * 32767)
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
