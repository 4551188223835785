package encoder

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-voicedesk/internal/audio"
	"github.com/oszuidwest/zwfm-voicedesk/internal/ffmpeg"
	"github.com/oszuidwest/zwfm-voicedesk/internal/util"
)

// FFmpegEncoder pipes PCM through an FFmpeg subprocess and keeps the
// encoded output in memory.
type FFmpegEncoder struct {
	mu        sync.Mutex
	proc      *ffmpeg.Process
	preset    *CodecPreset
	format    audio.Format
	createdAt time.Time
	written   int64
	finalized bool
}

// NewFFmpegEncoder starts FFmpeg for preset with PCM input in format.
func NewFFmpegEncoder(ffmpegPath string, preset *CodecPreset, format audio.Format, createdAt time.Time) (*FFmpegEncoder, error) {
	args := []string{"-hide_banner", "-loglevel", "warning"}
	args = append(args, ffmpeg.BaseInputArgs(format)...)
	args = append(args, "-c:a")
	args = append(args, preset.Args...)
	args = append(args, "-f", preset.Format, "pipe:1")

	proc, err := ffmpeg.StartProcess(ffmpegPath, args)
	if err != nil {
		return nil, util.WrapError("start encoder", err)
	}

	slog.Debug("encoder started", "codec", preset.Extension, "sample_rate", format.SampleRate)
	return &FFmpegEncoder{
		proc:      proc,
		preset:    preset,
		format:    format,
		createdAt: createdAt,
	}, nil
}

// Write implements Encoder.
func (e *FFmpegEncoder) Write(pcm []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.finalized {
		return ErrFinalized
	}
	n, err := e.proc.Stdin.Write(pcm)
	e.written += int64(n)
	if err != nil {
		if errors.Is(err, io.ErrClosedPipe) {
			return fmt.Errorf("encoder exited: %w", err)
		}
		return util.WrapError("write to encoder", err)
	}
	return nil
}

// Finalize implements Encoder.
func (e *FFmpegEncoder) Finalize() (*Clip, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.finalized {
		return nil, ErrFinalized
	}
	e.finalized = true

	if err := e.proc.Finish(finalizeTimeout); err != nil {
		return nil, util.WrapError("finalize clip", err)
	}
	if e.written == 0 || e.proc.Stdout.Len() == 0 {
		return nil, ErrEmptyClip
	}

	data := bytes.Clone(e.proc.Stdout.Bytes())
	return NewClip(data, e.preset.MimeType, e.preset.Extension, e.createdAt, durationOf(e.written, e.format)), nil
}

// Abort implements Encoder.
func (e *FFmpegEncoder) Abort() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.finalized {
		return
	}
	e.finalized = true
	e.proc.Kill()
}
