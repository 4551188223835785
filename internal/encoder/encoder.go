// Package encoder turns captured PCM into a finished, immutable audio clip.
package encoder

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oszuidwest/zwfm-voicedesk/internal/audio"
)

// Sentinel errors for encoder operations.
var (
	ErrFinalized    = errors.New("encoder already finalized")
	ErrEmptyClip    = errors.New("no audio was recorded")
	ErrUnknownCodec = errors.New("unknown codec")
)

// finalizeTimeout bounds how long an encoder may take to flush a clip.
const finalizeTimeout = 10 * time.Second

// Encoder consumes PCM and produces a clip exactly once.
type Encoder interface {
	// Write appends PCM in the format the encoder was created for.
	Write(pcm []byte) error
	// Finalize flushes the encoder and returns the clip. Writes after
	// Finalize fail with ErrFinalized.
	Finalize() (*Clip, error)
	// Abort discards everything written so far.
	Abort()
}

// Factory creates an encoder for a capture format.
type Factory func(format audio.Format) (Encoder, error)

// Codec identifies a clip container and codec.
type Codec string

// Supported codecs.
const (
	CodecWebM Codec = "webm" // Opus in WebM, what browsers record by default
	CodecOgg  Codec = "ogg"  // Opus in Ogg
	CodecMP3  Codec = "mp3"  // MPEG Audio Layer III
	CodecWAV  Codec = "wav"  // Uncompressed PCM, encoded without FFmpeg
)

// CodecPreset defines FFmpeg encoding parameters for a codec.
type CodecPreset struct {
	Args      []string // FFmpeg codec arguments
	Format    string   // FFmpeg output format
	MimeType  string   // Content type of the finished clip
	Extension string   // File extension without dot
}

// CodecPresets maps codec types to their FFmpeg configuration.
var CodecPresets = map[Codec]CodecPreset{
	CodecWebM: {[]string{"libopus", "-b:a", "32k", "-application", "voip"}, "webm", "audio/webm", "webm"},
	CodecOgg:  {[]string{"libopus", "-b:a", "32k", "-application", "voip"}, "ogg", "audio/ogg", "ogg"},
	CodecMP3:  {[]string{"libmp3lame", "-b:a", "64k"}, "mp3", "audio/mpeg", "mp3"},
	CodecWAV:  {nil, "wav", "audio/wav", "wav"},
}

// ParseCodec validates a configured codec name. Empty selects WebM.
func ParseCodec(name string) (Codec, error) {
	if name == "" {
		return CodecWebM, nil
	}
	codec := Codec(name)
	if _, ok := CodecPresets[codec]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
	return codec, nil
}

// NewFactory returns a factory for codec. Codecs that need FFmpeg fall back
// to WAV when ffmpegPath is empty.
func NewFactory(codec Codec, ffmpegPath, tempDir string, now func() time.Time) Factory {
	if codec != CodecWAV && ffmpegPath == "" {
		slog.Warn("FFmpeg not available, recording clips as WAV", "codec", codec)
		codec = CodecWAV
	}
	if codec == CodecWAV {
		return func(format audio.Format) (Encoder, error) {
			return NewWAVEncoder(tempDir, format, now())
		}
	}
	preset := CodecPresets[codec]
	return func(format audio.Format) (Encoder, error) {
		return NewFFmpegEncoder(ffmpegPath, &preset, format, now())
	}
}

// durationOf returns how long pcmBytes of audio in format lasts.
func durationOf(pcmBytes int64, format audio.Format) time.Duration {
	perSecond := int64(format.BytesPerSecond())
	if perSecond == 0 {
		return 0
	}
	return time.Duration(pcmBytes * int64(time.Second) / perSecond)
}
