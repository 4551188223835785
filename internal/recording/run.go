package recording

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-voicedesk/internal/audio"
	"github.com/oszuidwest/zwfm-voicedesk/internal/encoder"
	"github.com/oszuidwest/zwfm-voicedesk/internal/schedule"
	"github.com/oszuidwest/zwfm-voicedesk/internal/util"
	"github.com/oszuidwest/zwfm-voicedesk/internal/vad"
)

// chunksPerSecond sets the pump read size, 20 ms of audio per read.
const chunksPerSecond = 50

// run is one Recording period. It owns the stream and everything fed
// from it, and is torn down exactly once.
type run struct {
	stream   audio.Stream
	enc      encoder.Encoder
	analyser *audio.Analyser
	meter    *audio.LevelMeter

	tick  *schedule.Task
	vad   *schedule.Task
	guard schedule.Timer

	pumpDone chan struct{}

	// writeMu orders pump writes against halting.
	writeMu sync.Mutex
	halted  bool

	teardown sync.Once
	clip     *encoder.Clip
	err      error
}

func (s *Session) newRun(stream audio.Stream) (*run, error) {
	format := stream.Format()

	analyser, err := audio.NewAnalyser(s.fftSize, format.Channels)
	if err != nil {
		return nil, util.WrapError("create analysis tap", err)
	}
	enc, err := s.encoders(format)
	if err != nil {
		return nil, util.WrapError("create encoder", err)
	}

	return &run{
		stream:   stream,
		enc:      enc,
		analyser: analyser,
		meter:    audio.NewLevelMeter(format, s.clock.Now),
		pumpDone: make(chan struct{}),
	}, nil
}

// begin starts the pump, the analysis loop, the elapsed tick and the
// duration guard. The tap exists before the first tick.
func (r *run) begin(s *Session) {
	go r.pump(s)
	r.vad = vad.Start(s.clock, r.analyser, func(sig vad.Signal) {
		s.publish(r, sig)
	})
	r.tick = schedule.Every(s.clock, "elapsed", time.Second, func() {
		s.tick(r)
	})
	if s.maxDuration > 0 {
		r.guard = s.clock.AfterFunc(s.maxDuration, func() {
			s.endRun(r, ErrMaxDuration)
		})
	}
}

// pump reads the stream and fans audio out to the encoder, the analysis
// tap and the level meter until the stream ends.
func (r *run) pump(s *Session) {
	defer close(r.pumpDone)

	format := r.stream.Format()
	frame := format.FrameSize()
	buf := make([]byte, max(format.BytesPerSecond()/chunksPerSecond/frame, 1)*frame)

	for {
		n, err := io.ReadFull(r.stream, buf)
		if n -= n % frame; n > 0 {
			r.distribute(buf[:n])
		}
		if err == nil {
			continue
		}

		r.writeMu.Lock()
		halted := r.halted
		r.writeMu.Unlock()
		if !halted {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				slog.Warn("capture read failed", "error", err)
			}
			go s.endRun(r, ErrDeviceLost)
		}
		return
	}
}

func (r *run) distribute(pcm []byte) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if r.halted {
		return
	}
	if err := r.enc.Write(pcm); err != nil {
		slog.Error("failed to encode audio", "error", err)
	}
	r.analyser.Write(pcm)
	r.meter.Write(pcm)
}

// shutdown finalizes the clip, stops the tick and the analysis loop,
// then releases the device. Later calls return the first result.
func (r *run) shutdown() (*encoder.Clip, error) {
	return r.tearDown(true)
}

// discard tears r down like shutdown but drops the encoded audio.
func (r *run) discard() {
	_, _ = r.tearDown(false)
}

func (r *run) tearDown(keep bool) (*encoder.Clip, error) {
	r.teardown.Do(func() {
		r.writeMu.Lock()
		r.halted = true
		r.writeMu.Unlock()

		if keep {
			r.clip, r.err = r.enc.Finalize()
		} else {
			r.enc.Abort()
		}

		if r.guard != nil {
			r.guard.Stop()
		}
		r.tick.Cancel()
		r.vad.Cancel()

		if err := r.stream.Close(); err != nil {
			slog.Warn("failed to release input device", "error", err)
		}
		<-r.pumpDone
	})
	return r.clip, r.err
}
