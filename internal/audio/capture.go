package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-voicedesk/internal/util"
)

const (
	// DefaultStartupTimeout bounds how long a device may take to deliver its first audio.
	DefaultStartupTimeout = 5 * time.Second
	// shutdownTimeout is how long a capture process gets to exit after SIGINT.
	shutdownTimeout = 3 * time.Second
	// probeSize is the read size used while waiting for the first audio.
	probeSize = 4096
)

// CaptureConfig defines platform-specific audio capture configuration.
type CaptureConfig struct {
	// Command is the executable name (e.g., "arecord", "ffmpeg").
	Command string

	// DefaultDevice is used when no device is configured.
	DefaultDevice string

	// UsesFFmpeg indicates if this platform uses FFmpeg for capture.
	UsesFFmpeg bool

	// BuildArgs returns the command arguments for audio capture.
	BuildArgs func(device string, format Format) []string
}

// BuildCaptureCommand returns the command and arguments for audio capture.
// If device is empty, it attempts to use the default or auto-detect.
// The ffmpegPath parameter is used on platforms that use FFmpeg for capture.
func BuildCaptureCommand(device, ffmpegPath string, format Format) (cmd string, args []string, err error) {
	cfg := getPlatformConfig()

	if device == "" {
		device = cfg.DefaultDevice
	}

	// Auto-detect if still empty (Windows has no safe default).
	if device == "" {
		devices := cfg.Devices()
		if len(devices) == 0 {
			return "", nil, ErrNoAudioDevice
		}
		device = devices[0].ID
	}

	command := cfg.Command
	if cfg.UsesFFmpeg && ffmpegPath != "" {
		command = ffmpegPath
	}

	return command, cfg.BuildArgs(device, format), nil
}

// CommandAcquirer captures audio by running the platform capture command
// and reading PCM from its stdout.
type CommandAcquirer struct {
	Device         string
	FFmpegPath     string
	Format         Format
	StartupTimeout time.Duration
}

// Acquire starts the capture process and returns once it has produced audio.
// Permission errors and missing devices surface here as the process's last
// stderr line.
func (a *CommandAcquirer) Acquire(ctx context.Context) (Stream, error) {
	format := a.Format
	if format.SampleRate == 0 {
		format = DefaultFormat
	}
	name, args, err := BuildCaptureCommand(a.Device, a.FFmpegPath, format)
	if err != nil {
		return nil, err
	}

	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, name, args...)
	cmd.Cancel = func() error {
		return util.GracefulSignal(cmd.Process)
	}
	cmd.WaitDelay = shutdownTimeout

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, util.WrapError("create stdout pipe", err)
	}
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, util.WrapError("start "+name, err)
	}
	slog.Info("audio capture started", "command", name, "device", a.Device, "sample_rate", format.SampleRate)

	type probe struct {
		n   int
		err error
	}
	first := make([]byte, probeSize)
	probed := make(chan probe, 1)
	go func() {
		n, err := stdout.Read(first)
		probed <- probe{n, err}
	}()

	abort := func(cause error) error {
		cancel()
		_ = cmd.Wait() //nolint:errcheck // Exit status is reported through stderr
		if msg := util.ExtractLastError(stderr.String()); msg != "" {
			return fmt.Errorf("%w: %s", cause, msg)
		}
		return cause
	}

	timeout := a.StartupTimeout
	if timeout <= 0 {
		timeout = DefaultStartupTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case p := <-probed:
		if p.n == 0 {
			cause := ErrNoAudio
			if p.err != nil && !errors.Is(p.err, io.EOF) {
				cause = fmt.Errorf("%w: %w", ErrNoAudio, p.err)
			}
			return nil, abort(cause)
		}
		return &commandStream{
			format: format,
			cmd:    cmd,
			cancel: cancel,
			reader: io.MultiReader(bytes.NewReader(first[:p.n]), stdout),
		}, nil
	case <-timer.C:
		return nil, abort(fmt.Errorf("no audio within %s", timeout))
	case <-ctx.Done():
		return nil, abort(ctx.Err())
	}
}

// commandStream is a Stream backed by a capture subprocess.
type commandStream struct {
	format Format
	cmd    *exec.Cmd
	cancel context.CancelFunc
	reader io.Reader

	closeOnce sync.Once
}

func (s *commandStream) Read(p []byte) (int, error) {
	return s.reader.Read(p)
}

func (s *commandStream) Format() Format {
	return s.format
}

// Close stops the capture process and waits for it to exit.
func (s *commandStream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		if err := s.cmd.Wait(); err != nil {
			slog.Debug("capture process exited", "error", err)
		}
		slog.Info("audio capture stopped")
	})
	return nil
}
