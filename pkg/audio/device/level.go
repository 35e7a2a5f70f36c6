package device

import (
	"math"
	"sync/atomic"

	"github.com/MrWong99/liveguide/pkg/audio"
)

// LevelMeter is the level-analysis tap on the capture path. It keeps the RMS
// energy of the most recent input frame so that a UI layer can render an
// input level indicator. Safe for concurrent use.
type LevelMeter struct {
	bits atomic.Uint64
}

// Observe records the RMS level of frame.
func (m *LevelMeter) Observe(frame audio.AudioFrame) {
	m.bits.Store(math.Float64bits(rms(frame.Samples)))
}

// Level returns the RMS level of the last observed frame in [0, 1].
func (m *LevelMeter) Level() float64 {
	return math.Float64frombits(m.bits.Load())
}

// Reset sets the level back to silence.
func (m *LevelMeter) Reset() {
	m.bits.Store(0)
}

func rms(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
