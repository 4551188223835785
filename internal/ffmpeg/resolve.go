package ffmpeg

import "os/exec"

// ResolvePath returns the FFmpeg binary to use for clip encoding and, on
// macOS and Windows, for capture. A configured path wins when it is
// executable; otherwise PATH is searched. An empty result means FFmpeg is
// unavailable and clips fall back to WAV.
func ResolvePath(configured string) string {
	name := "ffmpeg"
	if configured != "" {
		name = configured
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return ""
	}
	return path
}
