package recording

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oszuidwest/zwfm-voicedesk/internal/audio"
	"github.com/oszuidwest/zwfm-voicedesk/internal/encoder"
	"github.com/oszuidwest/zwfm-voicedesk/internal/schedule"
	"github.com/oszuidwest/zwfm-voicedesk/internal/util"
	"github.com/oszuidwest/zwfm-voicedesk/internal/vad"
)

// Session is the recording state machine: Idle, Recording, Stopped.
// It is safe for concurrent use.
type Session struct {
	acquirer    audio.Acquirer
	encoders    encoder.Factory
	clock       schedule.Clock
	fftSize     int
	maxDuration time.Duration
	onChange    func(Snapshot)

	// opMu serializes transitions so start, stop and reset never interleave.
	opMu sync.Mutex

	mu         sync.RWMutex
	state      State
	elapsed    int
	signal     vad.Signal
	clip       *encoder.Clip
	handle     string
	lastErr    error
	run        *run
	generation uint64
	acquiring  context.CancelFunc
}

// NewSession creates an idle session.
func NewSession(opts Options) *Session {
	maxDuration := cmp.Or(opts.MaxDuration, DefaultMaxDuration)
	clock := opts.Clock
	if clock == nil {
		clock = schedule.Real()
	}
	return &Session{
		acquirer:    opts.Acquirer,
		encoders:    opts.Encoders,
		clock:       clock,
		fftSize:     cmp.Or(opts.FFTSize, audio.DefaultFFTSize),
		maxDuration: maxDuration,
		onChange:    opts.OnChange,
		state:       StateIdle,
	}
}

// Start acquires the input device and begins recording. It blocks while
// the device is being acquired. Start while recording or while another
// acquisition is pending is a no-op. Start while stopped discards the
// previous clip.
func (s *Session) Start(ctx context.Context) error {
	s.opMu.Lock()
	s.mu.Lock()
	if s.state == StateRecording || s.acquiring != nil {
		s.mu.Unlock()
		s.opMu.Unlock()
		return nil
	}
	if s.state == StateStopped {
		slog.Info("discarding previous clip", "handle", s.handle)
		s.clearLocked()
		s.state = StateIdle
		s.elapsed = 0
	}
	s.lastErr = nil
	s.generation++
	gen := s.generation
	acqCtx, cancel := context.WithCancel(ctx)
	s.acquiring = cancel
	s.mu.Unlock()
	s.opMu.Unlock()
	s.notify()

	stream, err := s.acquirer.Acquire(acqCtx)

	s.opMu.Lock()
	defer s.opMu.Unlock()
	cancel()

	s.mu.Lock()
	superseded := s.generation != gen
	if !superseded {
		s.acquiring = nil
	}
	s.mu.Unlock()

	if superseded {
		if stream != nil {
			if closeErr := stream.Close(); closeErr != nil {
				slog.Warn("failed to release superseded stream", "error", closeErr)
			}
		}
		slog.Info("device acquisition superseded")
		return ErrAcquisitionSuperseded
	}

	if err != nil {
		err = fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
		s.fail(err)
		return err
	}

	r, err := s.newRun(stream)
	if err != nil {
		if closeErr := stream.Close(); closeErr != nil {
			slog.Warn("failed to release stream", "error", closeErr)
		}
		s.fail(err)
		return err
	}

	s.mu.Lock()
	s.state = StateRecording
	s.elapsed = 0
	s.signal = vad.Signal{}
	s.run = r
	s.mu.Unlock()

	r.begin(s)
	slog.Info("recording started", "sample_rate", stream.Format().SampleRate, "channels", stream.Format().Channels)
	s.notify()
	return nil
}

// Stop finalizes the clip and releases the device. Stop while not
// recording is a no-op.
func (s *Session) Stop() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.RLock()
	r := s.run
	s.mu.RUnlock()
	if r == nil {
		return nil
	}
	return s.finishLocked(r, nil)
}

// Reset discards any clip and recording in progress and returns to Idle.
// A pending acquisition is superseded and its stream released on arrival.
func (s *Session) Reset() {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	s.generation++
	if s.acquiring != nil {
		s.acquiring()
		s.acquiring = nil
	}
	r := s.run
	s.mu.Unlock()

	if r != nil {
		r.discard()
	}

	s.mu.Lock()
	s.clearLocked()
	s.run = nil
	s.state = StateIdle
	s.elapsed = 0
	s.signal = vad.Signal{}
	s.lastErr = nil
	s.mu.Unlock()

	slog.Info("session reset")
	s.notify()
}

// Close tears the session down. It is the exit path for process shutdown.
func (s *Session) Close() {
	s.Reset()
}

// Clip returns the finished clip for a handle issued by this session. A
// handle is revoked by reset or by starting a new recording.
func (s *Session) Clip(handle string) (*encoder.Clip, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if handle == "" || handle != s.handle || s.clip == nil {
		return nil, false
	}
	return s.clip, true
}

// CurrentClip returns the finished clip, or nil when not stopped.
func (s *Session) CurrentClip() *encoder.Clip {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clip
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Snapshot returns the current session view.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		State:          s.state,
		Starting:       s.acquiring != nil,
		ElapsedSeconds: s.elapsed,
		Elapsed:        util.FormatClock(s.elapsed),
		VoiceActive:    s.signal.Active,
		Energy:         s.signal.Energy,
		RingWidth:      s.signal.RingWidth(),
		ClipAvailable:  s.clip != nil,
		ClipHandle:     s.handle,
	}
	if s.run != nil {
		snap.Levels = s.run.meter.Levels()
	}
	if s.clip != nil {
		info := s.clip.Info()
		snap.Clip = &info
	}
	if s.lastErr != nil {
		snap.Error = s.lastErr.Error()
	}
	return snap
}

// finishLocked tears r down and moves to Stopped with the finalized clip,
// or to Idle when finalizing failed. opMu must be held.
func (s *Session) finishLocked(r *run, cause error) error {
	clip, err := r.shutdown()

	s.mu.Lock()
	s.run = nil
	s.signal = vad.Signal{}
	if err != nil {
		s.state = StateIdle
		s.elapsed = 0
		s.lastErr = err
	} else {
		s.state = StateStopped
		s.clip = clip
		s.handle = uuid.NewString()
		s.lastErr = cause
	}
	elapsed := s.elapsed
	s.mu.Unlock()

	if err != nil {
		slog.Error("recording failed to finalize", "error", err)
	} else {
		slog.Info("recording stopped",
			"elapsed", util.FormatClock(elapsed),
			"size", clip.Size(),
			"mime_type", clip.MimeType(),
			"reason", cmp.Or(errorText(cause), "stop"))
	}
	s.notify()
	return err
}

// endRun stops r from a background path (device loss, duration limit).
func (s *Session) endRun(r *run, cause error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.RLock()
	current := s.run == r
	s.mu.RUnlock()
	if !current {
		return
	}
	slog.Warn("recording ended", "reason", cause)
	if err := s.finishLocked(r, cause); err != nil && !errors.Is(err, encoder.ErrEmptyClip) {
		slog.Error("failed to keep recording", "error", err)
	}
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	slog.Error("failed to start recording", "error", err)
	s.notify()
}

// tick advances the elapsed clock for r while it is current.
func (s *Session) tick(r *run) {
	s.mu.Lock()
	if s.run != r || s.state != StateRecording {
		s.mu.Unlock()
		return
	}
	s.elapsed++
	s.mu.Unlock()
	s.notify()
}

// publish stores a voice-activity reading for r while it is current.
// Observers are notified when speech starts or stops.
func (s *Session) publish(r *run, sig vad.Signal) {
	s.mu.Lock()
	if s.run != r || s.state != StateRecording {
		s.mu.Unlock()
		return
	}
	flipped := s.signal.Active != sig.Active
	s.signal = sig
	s.mu.Unlock()

	if flipped {
		s.notify()
	}
}

func (s *Session) clearLocked() {
	if s.handle != "" {
		slog.Debug("clip handle revoked", "handle", s.handle)
	}
	s.clip = nil
	s.handle = ""
}

func (s *Session) notify() {
	if s.onChange != nil {
		s.onChange(s.Snapshot())
	}
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
