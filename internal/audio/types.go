package audio

import (
	"context"
	"errors"
	"io"
)

// ErrNoAudioDevice is returned when no audio input device is available.
var ErrNoAudioDevice = errors.New("no audio input device found")

// ErrNoAudio is returned when a capture process exits before producing any audio.
var ErrNoAudio = errors.New("capture produced no audio")

// BytesPerSample is the size of one signed 16-bit little-endian sample.
const BytesPerSample = 2

// Format describes interleaved signed 16-bit little-endian PCM.
type Format struct {
	SampleRate int `json:"sample_rate"`
	Channels   int `json:"channels"`
}

// DefaultFormat is mono 48 kHz, which is what voice capture needs.
var DefaultFormat = Format{SampleRate: 48000, Channels: 1}

// FrameSize returns the number of bytes in one sample frame (all channels).
func (f Format) FrameSize() int {
	return f.Channels * BytesPerSample
}

// BytesPerSecond returns the PCM byte rate.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.FrameSize()
}

// Stream is a live capture stream. Reads yield raw PCM in Format().
// Close releases the underlying device.
type Stream interface {
	io.Reader
	Format() Format
	Close() error
}

// Acquirer obtains exclusive access to an input device.
type Acquirer interface {
	Acquire(ctx context.Context) (Stream, error)
}

// Device represents an available audio input device.
type Device struct {
	// ID is the device identifier.
	ID string `json:"id"`
	// Name is the device display name.
	Name string `json:"name"`
}

// MeterLevels is the input level shown next to the record button.
type MeterLevels struct {
	// RMS is the RMS level in dB.
	RMS float64 `json:"rms"`
	// Peak is the held peak level in dB.
	Peak float64 `json:"peak"`
	// Clipped is how many samples clipped in the last measurement period.
	Clipped int `json:"clipped,omitzero"`
}
