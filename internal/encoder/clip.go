package encoder

import (
	"bytes"
	"time"
)

// Clip is a finished recording. It never changes after creation.
type Clip struct {
	data      []byte
	mimeType  string
	extension string
	createdAt time.Time
	duration  time.Duration
}

// NewClip wraps encoded data. The clip takes ownership of data.
func NewClip(data []byte, mimeType, extension string, createdAt time.Time, duration time.Duration) *Clip {
	return &Clip{
		data:      data,
		mimeType:  mimeType,
		extension: extension,
		createdAt: createdAt,
		duration:  duration,
	}
}

// MimeType returns the clip's content type, e.g. "audio/webm".
func (c *Clip) MimeType() string { return c.mimeType }

// Extension returns the file extension without dot.
func (c *Clip) Extension() string { return c.extension }

// CreatedAt returns when recording of the clip began.
func (c *Clip) CreatedAt() time.Time { return c.createdAt }

// Duration returns the recorded audio length.
func (c *Clip) Duration() time.Duration { return c.duration }

// Size returns the encoded size in bytes.
func (c *Clip) Size() int { return len(c.data) }

// Filename returns the upload filename for the clip.
func (c *Clip) Filename() string { return "recording." + c.extension }

// Reader returns a fresh reader over the encoded data.
func (c *Clip) Reader() *bytes.Reader { return bytes.NewReader(c.data) }

// Bytes returns a copy of the encoded data.
func (c *Clip) Bytes() []byte { return bytes.Clone(c.data) }

// Info is the JSON description of a clip.
type Info struct {
	MimeType   string `json:"mime_type"`
	SizeBytes  int    `json:"size_bytes"`
	DurationMs int64  `json:"duration_ms"`
}

// Info describes the clip for status responses.
func (c *Clip) Info() Info {
	return Info{
		MimeType:   c.mimeType,
		SizeBytes:  len(c.data),
		DurationMs: c.duration.Milliseconds(),
	}
}
