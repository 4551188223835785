package encoder

import (
	"encoding/binary"
	"log/slog"
	"os"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/oszuidwest/zwfm-voicedesk/internal/audio"
	"github.com/oszuidwest/zwfm-voicedesk/internal/util"
)

// wavPCMFormat is the WAVE format tag for integer PCM.
const wavPCMFormat = 1

// WAVEncoder writes 16-bit PCM into a WAVE file without FFmpeg. The RIFF
// header is patched on Finalize, so it spools to a temporary file.
type WAVEncoder struct {
	mu        sync.Mutex
	file      *os.File
	enc       *wav.Encoder
	buf       *goaudio.IntBuffer
	format    audio.Format
	createdAt time.Time
	written   int64
	finalized bool
}

// NewWAVEncoder creates a WAV encoder spooling into dir. Empty dir uses
// the system temporary directory.
func NewWAVEncoder(dir string, format audio.Format, createdAt time.Time) (*WAVEncoder, error) {
	file, err := os.CreateTemp(dir, "voicedesk-*.wav")
	if err != nil {
		return nil, util.WrapError("create clip file", err)
	}

	return &WAVEncoder{
		file: file,
		enc:  wav.NewEncoder(file, format.SampleRate, audio.BytesPerSample*8, format.Channels, wavPCMFormat),
		buf: &goaudio.IntBuffer{
			Format:         &goaudio.Format{NumChannels: format.Channels, SampleRate: format.SampleRate},
			SourceBitDepth: audio.BytesPerSample * 8,
		},
		format:    format,
		createdAt: createdAt,
	}, nil
}

// Write implements Encoder.
func (e *WAVEncoder) Write(pcm []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.finalized {
		return ErrFinalized
	}

	samples := len(pcm) / audio.BytesPerSample
	if samples == 0 {
		return nil
	}
	if cap(e.buf.Data) < samples {
		e.buf.Data = make([]int, samples)
	}
	e.buf.Data = e.buf.Data[:samples]
	for i := range samples {
		e.buf.Data[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*audio.BytesPerSample:])))
	}

	if err := e.enc.Write(e.buf); err != nil {
		return util.WrapError("write wav samples", err)
	}
	e.written += int64(samples * audio.BytesPerSample)
	return nil
}

// Finalize implements Encoder.
func (e *WAVEncoder) Finalize() (*Clip, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.finalized {
		return nil, ErrFinalized
	}
	e.finalized = true
	defer e.removeFile()

	if e.written == 0 {
		return nil, ErrEmptyClip
	}
	if err := e.enc.Close(); err != nil {
		return nil, util.WrapError("finalize wav header", err)
	}

	data, err := os.ReadFile(e.file.Name())
	if err != nil {
		return nil, util.WrapError("read clip file", err)
	}
	return NewClip(data, CodecPresets[CodecWAV].MimeType, CodecPresets[CodecWAV].Extension, e.createdAt, durationOf(e.written, e.format)), nil
}

// Abort implements Encoder.
func (e *WAVEncoder) Abort() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.finalized {
		return
	}
	e.finalized = true
	e.removeFile()
}

func (e *WAVEncoder) removeFile() {
	name := e.file.Name()
	if err := e.file.Close(); err != nil {
		slog.Debug("clip file already closed", "path", name, "error", err)
	}
	if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to remove clip file", "path", name, "error", err)
	}
}
