//go:build cgo

package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/gen2brain/malgo"
)

// MalgoBackend plays float32 PCM streams through a malgo playback device.
type MalgoBackend struct {
	context *Context
	volume  float32
	closed  bool
	mutex   sync.RWMutex
}

// NewBackend creates the platform playback backend.
func NewBackend() (AudioBackend, error) {
	slog.Debug("creating malgo playback backend")
	return &MalgoBackend{volume: 1.0}, nil
}

// Start initializes the backend (no-op for malgo; the device is created per stream)
func (mb *MalgoBackend) Start() error {
	mb.mutex.Lock()
	defer mb.mutex.Unlock()

	if mb.closed {
		return ErrBackendClosed
	}

	slog.Debug("malgo backend started")
	return nil
}

// Stop stops any ongoing playback
func (mb *MalgoBackend) Stop() error {
	mb.mutex.Lock()
	defer mb.mutex.Unlock()

	if mb.closed {
		return ErrBackendClosed
	}

	slog.Debug("malgo backend stopped")
	return nil
}

// Close shuts down the backend and its audio context
func (mb *MalgoBackend) Close() error {
	mb.mutex.Lock()
	defer mb.mutex.Unlock()

	if mb.closed {
		slog.Debug("malgo backend already closed")
		return nil
	}
	mb.closed = true

	if mb.context != nil {
		if err := mb.context.Close(); err != nil {
			slog.Error("error closing audio context", "error", err)
			return fmt.Errorf("error closing audio context: %w", err)
		}
		mb.context = nil
	}

	slog.Debug("malgo backend closed")
	return nil
}

// SetVolume sets the volume level (0.0 to 1.0)
func (mb *MalgoBackend) SetVolume(volume float32) error {
	if volume < 0.0 || volume > 1.0 {
		err := fmt.Errorf("invalid volume level: %f (must be 0.0-1.0)", volume)
		slog.Error("invalid volume setting", "volume", volume, "error", err)
		return err
	}

	mb.mutex.Lock()
	defer mb.mutex.Unlock()

	if mb.closed {
		return ErrBackendClosed
	}

	oldVolume := mb.volume
	mb.volume = volume
	slog.Debug("volume changed", "old_volume", oldVolume, "new_volume", volume)
	return nil
}

// GetVolume returns the current volume level
func (mb *MalgoBackend) GetVolume() float32 {
	mb.mutex.RLock()
	defer mb.mutex.RUnlock()
	return mb.volume
}

// Play streams the PCM chunks to a playback device. It blocks until the
// stream is drained or ctx is cancelled.
func (mb *MalgoBackend) Play(ctx context.Context, stream *PCMStream) error {
	mb.mutex.RLock()
	if mb.closed {
		mb.mutex.RUnlock()
		return ErrBackendClosed
	}
	mb.mutex.RUnlock()

	if stream.SampleRate == 0 || stream.Channels == 0 {
		return fmt.Errorf("invalid stream format: rate=%d channels=%d", stream.SampleRate, stream.Channels)
	}

	if err := mb.ensureContext(); err != nil {
		return err
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatF32
	deviceConfig.Playback.Channels = stream.Channels
	deviceConfig.SampleRate = stream.SampleRate
	deviceConfig.Alsa.NoMMap = 1

	slog.Debug("playback device configuration",
		"channels", stream.Channels,
		"sample_rate", stream.SampleRate)

	queue := newSampleQueue(stream.Chunks)
	done := make(chan struct{})
	var doneOnce sync.Once

	onSamples := func(pOutputSample, pInputSamples []byte, framecount uint32) {
		samples := make([]float32, int(framecount)*int(stream.Channels))
		n, more := queue.Fill(ctx, samples)

		volume := mb.GetVolume()
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint32(pOutputSample[i*4:], math.Float32bits(samples[i]*volume))
		}
		// Fill the remainder with silence
		for i := n * 4; i < len(pOutputSample); i++ {
			pOutputSample[i] = 0
		}

		if !more {
			doneOnce.Do(func() { close(done) })
		}
	}

	device, err := malgo.InitDevice(mb.context.GetContext().Context, deviceConfig, malgo.DeviceCallbacks{
		Data: onSamples,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize playback device: %w", err)
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		return fmt.Errorf("failed to start playback: %w", err)
	}
	defer device.Stop()

	slog.Info("streaming playback started")

	select {
	case <-ctx.Done():
		slog.Info("playback cancelled")
		return ctx.Err()
	case <-done:
	}

	slog.Info("streaming playback finished")
	return nil
}

func (mb *MalgoBackend) ensureContext() error {
	mb.mutex.Lock()
	defer mb.mutex.Unlock()

	if mb.closed {
		return ErrBackendClosed
	}
	if mb.context != nil {
		return nil
	}

	audioCtx, err := NewContext()
	if err != nil {
		return fmt.Errorf("failed to initialize audio context: %w", err)
	}
	mb.context = audioCtx
	return nil
}
