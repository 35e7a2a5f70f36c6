//go:build !portaudio
// +build !portaudio

package device

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MrWong99/liveguide/pkg/audio"
)

// PortAudio stub when portaudio is not available
type PortAudio struct {
	logger *slog.Logger
}

func NewPortAudio(logger *slog.Logger) *PortAudio {
	return &PortAudio{logger: logger}
}

func (p *PortAudio) Name() string { return "portaudio" }

func (p *PortAudio) OpenInput(_ context.Context, _ audio.Format, _ int) (Input, error) {
	return nil, fmt.Errorf("%w: microphone not available: rebuild with -tags portaudio", ErrDeviceUnavailable)
}

func (p *PortAudio) OpenOutput(_ context.Context, _ audio.Format) (Output, error) {
	return nil, fmt.Errorf("%w: speaker not available: rebuild with -tags portaudio", ErrDeviceUnavailable)
}
