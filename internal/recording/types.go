// Package recording owns the voice message session: capture device,
// encoder, elapsed-time tick and voice-activity loop.
package recording

import (
	"errors"
	"time"

	"github.com/oszuidwest/zwfm-voicedesk/internal/audio"
	"github.com/oszuidwest/zwfm-voicedesk/internal/encoder"
	"github.com/oszuidwest/zwfm-voicedesk/internal/schedule"
)

// Sentinel errors for session operations.
var (
	// ErrDeviceUnavailable is returned when the input device cannot be acquired.
	ErrDeviceUnavailable = errors.New("audio input device unavailable")

	// ErrAcquisitionSuperseded is returned by Start when a reset happened
	// while the device was being acquired.
	ErrAcquisitionSuperseded = errors.New("device acquisition superseded by reset")

	// ErrDeviceLost is recorded when capture ends while recording.
	ErrDeviceLost = errors.New("audio input device lost during recording")

	// ErrMaxDuration is recorded when a recording hits the duration limit.
	ErrMaxDuration = errors.New("maximum recording duration reached")
)

// State is the session lifecycle state.
type State string

const (
	// StateIdle indicates no device and no clip.
	StateIdle State = "idle"
	// StateRecording indicates the device is captured and audio is being encoded.
	StateRecording State = "recording"
	// StateStopped indicates a finished clip is held.
	StateStopped State = "stopped"
)

// DefaultMaxDuration caps a single voice message.
const DefaultMaxDuration = 5 * time.Minute

// Options configures a Session.
type Options struct {
	Acquirer    audio.Acquirer
	Encoders    encoder.Factory
	Clock       schedule.Clock // schedule.Real when nil
	FFTSize     int           // Analysis window, audio.DefaultFFTSize when zero
	MaxDuration time.Duration // DefaultMaxDuration when zero, negative disables
	OnChange    func(Snapshot)
}

// Snapshot is a point-in-time view of the session for presentation.
type Snapshot struct {
	State          State             `json:"state"`
	Starting       bool              `json:"starting,omitempty"`
	ElapsedSeconds int               `json:"elapsed_seconds"`
	Elapsed        string            `json:"elapsed"`
	VoiceActive    bool              `json:"voice_active"`
	Energy         float64           `json:"energy"`
	RingWidth      float64           `json:"ring_width"`
	Levels         audio.MeterLevels `json:"levels"`
	ClipAvailable  bool              `json:"clip_available"`
	ClipHandle     string            `json:"clip_handle,omitempty"`
	Clip           *encoder.Info     `json:"clip,omitempty"`
	Error          string            `json:"error,omitempty"`
}
