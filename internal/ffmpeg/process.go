// Package ffmpeg provides shared FFmpeg process management utilities.
package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"time"

	"github.com/oszuidwest/zwfm-voicedesk/internal/audio"
	"github.com/oszuidwest/zwfm-voicedesk/internal/util"
)

// ErrTimeout is returned when FFmpeg does not exit after its input is closed.
var ErrTimeout = errors.New("ffmpeg did not exit in time")

// Process represents a running FFmpeg subprocess fed through stdin.
type Process struct {
	Cmd    *exec.Cmd
	Cancel context.CancelFunc
	Stdin  io.WriteCloser
	Stdout *bytes.Buffer
	Stderr *bytes.Buffer
}

// BaseInputArgs returns FFmpeg arguments for PCM audio input on stdin.
func BaseInputArgs(format audio.Format) []string {
	return []string{
		"-f", "s16le",
		"-ar", strconv.Itoa(format.SampleRate),
		"-ac", strconv.Itoa(format.Channels),
		"-i", "pipe:0",
	}
}

// StartProcess launches an FFmpeg subprocess. Everything it writes to
// stdout is collected in Stdout.
func StartProcess(ffmpegPath string, args []string) (*Process, error) {
	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, ffmpegPath, args...)

	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		cancel()
		if closeErr := stdinPipe.Close(); closeErr != nil {
			slog.Warn("failed to close stdin pipe", "error", closeErr)
		}
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	return &Process{
		Cmd:    cmd,
		Cancel: cancel,
		Stdin:  stdinPipe,
		Stdout: &stdout,
		Stderr: &stderr,
	}, nil
}

// Finish closes stdin and waits for FFmpeg to flush and exit. The process
// is killed if it has not exited within timeout.
func (p *Process) Finish(timeout time.Duration) error {
	if err := p.Stdin.Close(); err != nil {
		slog.Warn("failed to close ffmpeg stdin", "error", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- p.Cmd.Wait()
	}()

	select {
	case err := <-done:
		p.Cancel()
		if err != nil {
			if msg := util.ExtractLastError(p.Stderr.String()); msg != "" {
				return fmt.Errorf("ffmpeg: %s", msg)
			}
			return fmt.Errorf("ffmpeg: %w", err)
		}
		return nil
	case <-time.After(timeout):
		p.Cancel()
		<-done
		return ErrTimeout
	}
}

// Kill stops the process without waiting for output.
func (p *Process) Kill() {
	_ = p.Stdin.Close() //nolint:errcheck // Process is being discarded
	p.Cancel()
	_ = p.Cmd.Wait() //nolint:errcheck // Exit status is irrelevant after kill
}
