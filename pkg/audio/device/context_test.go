package device_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/liveguide/pkg/audio"
	"github.com/MrWong99/liveguide/pkg/audio/device"
	"github.com/MrWong99/liveguide/pkg/audio/device/virtual"
)

func TestContext_OpenAndClose(t *testing.T) {
	t.Parallel()

	backend := &virtual.Backend{}
	dc := device.NewContext(backend, nil)
	ctx := context.Background()

	if _, err := dc.OpenInput(ctx, audio.InputFormat, 4096); err != nil {
		t.Fatalf("OpenInput: %v", err)
	}
	if _, err := dc.OpenOutput(ctx, audio.OutputFormat); err != nil {
		t.Fatalf("OpenOutput: %v", err)
	}
	if got := dc.OpenHandles(); got != 2 {
		t.Fatalf("OpenHandles = %d, want 2", got)
	}

	if err := dc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := dc.OpenHandles(); got != 0 {
		t.Errorf("OpenHandles after Close = %d, want 0", got)
	}
	if got := backend.OpenHandles(); got != 0 {
		t.Errorf("backend handles after Close = %d, want 0", got)
	}
}

func TestContext_CloseIsIdempotent(t *testing.T) {
	t.Parallel()

	dc := device.NewContext(&virtual.Backend{}, nil)
	if _, err := dc.OpenOutput(context.Background(), audio.OutputFormat); err != nil {
		t.Fatal(err)
	}
	for i := range 3 {
		if err := dc.Close(); err != nil {
			t.Fatalf("Close #%d: %v", i+1, err)
		}
	}
	if _, err := dc.OpenInput(context.Background(), audio.InputFormat, 4096); !errors.Is(err, device.ErrClosed) {
		t.Errorf("OpenInput after Close err = %v, want ErrClosed", err)
	}
}

func TestContext_PermissionDenied(t *testing.T) {
	t.Parallel()

	backend := &virtual.Backend{DenyInput: true}
	dc := device.NewContext(backend, nil)

	_, err := dc.OpenInput(context.Background(), audio.InputFormat, 4096)
	if !errors.Is(err, device.ErrDeviceUnavailable) {
		t.Fatalf("err = %v, want ErrDeviceUnavailable", err)
	}
	if dc.OpenHandles() != 0 {
		t.Errorf("OpenHandles = %d, want 0", dc.OpenHandles())
	}
}

func TestContext_RejectsMalformedFrames(t *testing.T) {
	t.Parallel()

	backend := &virtual.Backend{}
	dc := device.NewContext(backend, nil)
	defer dc.Close()

	in, err := dc.OpenInput(context.Background(), audio.InputFormat, 4)
	if err != nil {
		t.Fatal(err)
	}
	raw := backend.LastInput()

	raw.Push([]float32{0.1, 0.2, 0.3})                                                       // short frame
	raw.Push([]float32{0.5, -0.5, 0.5, -0.5})                                                // valid
	raw.PushFrame(audio.AudioFrame{Samples: make([]float32, 4), Format: audio.OutputFormat}) // wrong rate

	select {
	case frame := <-in.Frames():
		if frame.Len() != 4 || frame.Samples[0] != 0.5 {
			t.Errorf("unexpected frame: %+v", frame)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for valid frame")
	}

	select {
	case frame := <-in.Frames():
		t.Errorf("malformed frame forwarded: %+v", frame)
	case <-time.After(50 * time.Millisecond):
	}

	if got := dc.Level(); got < 0.49 || got > 0.51 {
		t.Errorf("Level = %v, want 0.5", got)
	}
}

func TestContext_InputChannelClosesOnClose(t *testing.T) {
	t.Parallel()

	dc := device.NewContext(&virtual.Backend{}, nil)
	in, err := dc.OpenInput(context.Background(), audio.InputFormat, 4096)
	if err != nil {
		t.Fatal(err)
	}
	if err := dc.Close(); err != nil {
		t.Fatal(err)
	}
	select {
	case _, ok := <-in.Frames():
		if ok {
			t.Error("expected closed frames channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("frames channel not closed")
	}
}

func TestLevelMeter(t *testing.T) {
	t.Parallel()

	var m device.LevelMeter
	m.Observe(audio.AudioFrame{Samples: []float32{1, -1, 1, -1}})
	if got := m.Level(); got != 1 {
		t.Errorf("Level = %v, want 1", got)
	}
	m.Reset()
	if got := m.Level(); got != 0 {
		t.Errorf("Level after Reset = %v, want 0", got)
	}
}
