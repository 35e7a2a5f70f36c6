package audio_test

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/MrWong99/liveguide/pkg/audio"
)

// bytesToSamples converts a little-endian byte slice to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestFloat32ToPCM16(t *testing.T) {
	got := bytesToSamples(audio.Float32ToPCM16(nil, []float32{0, 1, -1, 0.5, -0.5, 2, -2}))
	want := []int16{0, 32767, -32768, 16383, -16384, 32767, -32768}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestFloat32ToPCM16_NaNIsSilence(t *testing.T) {
	got := bytesToSamples(audio.Float32ToPCM16(nil, []float32{float32(math.NaN())}))
	if got[0] != 0 {
		t.Errorf("NaN sample = %d, want 0", got[0])
	}
}

func TestFloat32ToPCM16_ReusesBuffer(t *testing.T) {
	buf := make([]byte, 0, 64)
	out := audio.Float32ToPCM16(buf, make([]float32, 8))
	if &out[0] != &buf[:1][0] {
		t.Error("expected destination buffer to be reused")
	}
	if len(out) != 16 {
		t.Errorf("len = %d, want 16", len(out))
	}
}

func TestPCM16ToFloat32(t *testing.T) {
	pcm := make([]byte, 6)
	binary.LittleEndian.PutUint16(pcm[0:], 0x8000) // int16(-32768)
	binary.LittleEndian.PutUint16(pcm[2:], 0)
	binary.LittleEndian.PutUint16(pcm[4:], uint16(int16(16384)))

	got, err := audio.PCM16ToFloat32(pcm)
	if err != nil {
		t.Fatalf("PCM16ToFloat32: %v", err)
	}
	want := []float32{-1, 0, 0.5}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestPCM16ToFloat32_OddLength(t *testing.T) {
	_, err := audio.PCM16ToFloat32([]byte{1, 2, 3})
	if !errors.Is(err, audio.ErrOddLength) {
		t.Fatalf("err = %v, want ErrOddLength", err)
	}
}

func TestRoundTripWithinOneStep(t *testing.T) {
	in := []float32{-0.75, -0.1, 0, 0.1, 0.75}
	out, err := audio.PCM16ToFloat32(audio.Float32ToPCM16(nil, in))
	if err != nil {
		t.Fatalf("PCM16ToFloat32: %v", err)
	}
	for i := range in {
		if d := math.Abs(float64(in[i] - out[i])); d > 1.0/32767 {
			t.Errorf("sample %d drifted by %v", i, d)
		}
	}
}

func TestFrameDuration(t *testing.T) {
	f := audio.AudioFrame{Samples: make([]float32, 4096), Format: audio.InputFormat}
	if got, want := f.Duration(), 256*time.Millisecond; got != want {
		t.Errorf("Duration = %v, want %v", got, want)
	}
	out := audio.AudioFrame{Samples: make([]float32, 12000), Format: audio.OutputFormat}
	if got, want := out.Duration(), 500*time.Millisecond; got != want {
		t.Errorf("Duration = %v, want %v", got, want)
	}
	if got := audio.OutputFormat.Samples(300 * time.Millisecond); got != 7200 {
		t.Errorf("Samples(300ms) = %d, want 7200", got)
	}
}

func TestFormatStrings(t *testing.T) {
	if got := audio.InputFormat.String(); got != "16000Hz mono" {
		t.Errorf("String = %q", got)
	}
	if got := audio.PCMMIMEType(audio.InputFormat); got != "audio/pcm;rate=16000" {
		t.Errorf("PCMMIMEType = %q", got)
	}
}

func TestFormat_DurationSamplesRoundTrip(t *testing.T) {
	for _, f := range []audio.Format{audio.InputFormat, audio.OutputFormat, {SampleRate: 44100, Channels: 2}} {
		var total time.Duration
		var want int64
		for n := 1; n <= 3000; n++ {
			if got := f.Samples(f.Duration(n)); got != int64(n) {
				t.Fatalf("%s: Samples(Duration(%d)) = %d", f, n, got)
			}
			total += f.Duration(n)
			want += int64(n)
			if got := f.Samples(total); got < want {
				t.Fatalf("%s: chained durations lost samples after %d frames: %d < %d", f, n, got, want)
			}
		}
	}
}
