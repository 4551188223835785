// Package main runs the voice desk: a web page where customers record a
// short voice message that is submitted to the support intake as a ticket.
//
// Usage:
//
//	voicedesk [-config path/to/config.json]
//
// If -config is not specified, the desk looks for config.json in the same
// directory as the binary.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/oszuidwest/zwfm-voicedesk/internal/archive"
	"github.com/oszuidwest/zwfm-voicedesk/internal/audio"
	"github.com/oszuidwest/zwfm-voicedesk/internal/config"
	"github.com/oszuidwest/zwfm-voicedesk/internal/encoder"
	"github.com/oszuidwest/zwfm-voicedesk/internal/eventlog"
	"github.com/oszuidwest/zwfm-voicedesk/internal/ffmpeg"
	"github.com/oszuidwest/zwfm-voicedesk/internal/followup"
	"github.com/oszuidwest/zwfm-voicedesk/internal/notify"
	"github.com/oszuidwest/zwfm-voicedesk/internal/recording"
	"github.com/oszuidwest/zwfm-voicedesk/internal/schedule"
	"github.com/oszuidwest/zwfm-voicedesk/internal/server"
	"github.com/oszuidwest/zwfm-voicedesk/internal/submit"
	"github.com/oszuidwest/zwfm-voicedesk/internal/support"
	"github.com/oszuidwest/zwfm-voicedesk/internal/util"
)

// configuredAcquirer opens the input device selected in the configuration
// at the moment a recording starts, so a changed input applies to the next
// recording.
type configuredAcquirer struct {
	cfg        *config.Config
	ffmpegPath string
}

func (a *configuredAcquirer) Acquire(ctx context.Context) (audio.Stream, error) {
	snap := a.cfg.Snapshot()
	acq := &audio.CommandAcquirer{
		Device:     snap.AudioInput,
		FFmpegPath: a.ffmpegPath,
		Format:     audio.Format{SampleRate: snap.SampleRate, Channels: 1},
	}
	return acq.Acquire(ctx)
}

func main() {
	configPath := flag.String("config", "", "Path to config file (default: config.json next to binary)")
	showVersion := flag.Bool("version", false, "Print version information and exit")
	flag.Parse()

	if *showVersion {
		slog.Info("version info", "version", Version, "commit", Commit, "build_time", BuildTime)
		return
	}

	if *configPath == "" {
		execPath, err := os.Executable()
		if err != nil {
			slog.Error("failed to get executable path", "error", err)
			os.Exit(1)
		}
		*configPath = filepath.Join(filepath.Dir(execPath), "config.json")
	}

	slog.Info("using config file", "path", *configPath)

	cfg := config.New(*configPath)
	if err := cfg.Load(); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	snap := cfg.Snapshot()

	// Check FFmpeg availability
	ffmpegPath := ffmpeg.ResolvePath(cfg.GetFFmpegPath())
	ffmpegAvailable := ffmpegPath != ""
	if !ffmpegAvailable {
		slog.Warn("FFmpeg not found - clips are recorded as WAV",
			"configured_path", cfg.GetFFmpegPath())
	} else {
		slog.Info("FFmpeg found", "path", ffmpegPath)
	}

	if snap.TempDir != "" {
		if err := util.CheckPathWritable(snap.TempDir); err != nil {
			slog.Error("clip spool directory unusable", "path", snap.TempDir, "error", err)
			os.Exit(1)
		}
	}

	codec, err := encoder.ParseCodec(snap.Codec)
	if err != nil {
		slog.Error("invalid codec", "error", err)
		os.Exit(1)
	}

	var events *eventlog.Logger
	if snap.HasEventLog() {
		events, err = eventlog.NewLogger(snap.EventLogPath, eventlog.Options{
			MaxSizeMB:  snap.EventLogMaxSizeMB,
			MaxBackups: snap.EventLogMaxBackups,
		})
		if err != nil {
			slog.Error("failed to open event log", "path", snap.EventLogPath, "error", err)
			os.Exit(1)
		}
		slog.Info("event log enabled", "path", events.Path())
	}

	// Follow-up channels run after each ticket; unconfigured ones are skipped.
	notifier := notify.NewNotifier(cfg)
	var archiver followup.Archiver
	var archiveTester server.ArchiveTester
	if snap.HasArchive() {
		s3, err := archive.NewS3Archiver(archive.Config{
			Endpoint:        snap.ArchiveEndpoint,
			Bucket:          snap.ArchiveBucket,
			AccessKeyID:     snap.ArchiveAccessKeyID,
			SecretAccessKey: snap.ArchiveSecretAccessKey,
			Prefix:          snap.ArchivePrefix,
		})
		if err != nil {
			slog.Error("failed to create S3 archive", "error", err)
		} else {
			archiver = s3
			archiveTester = s3
			slog.Info("S3 archive enabled", "bucket", snap.ArchiveBucket)
		}
	}
	dispatcher := followup.New(followup.Options{
		Archiver: archiver,
		Notifier: notifier,
		Events:   events,
	})

	if !snap.HasSubmission() {
		slog.Warn("no submission endpoint configured - submissions will fail")
	}

	hub := server.NewHub()
	sessionLog := followup.NewSessionLog(events)
	session := recording.NewSession(recording.Options{
		Acquirer:    &configuredAcquirer{cfg: cfg, ffmpegPath: ffmpegPath},
		Encoders:    encoder.NewFactory(codec, ffmpegPath, snap.TempDir, time.Now),
		Clock:       schedule.Real(),
		FFTSize:     snap.FFTSize,
		MaxDuration: snap.MaxDuration,
		OnChange: func(s recording.Snapshot) {
			sessionLog.Observe(s)
			hub.Notify()
		},
	})

	desk := support.NewDesk(support.Options{
		Session:   session,
		Submitter: submit.NewClient(snap.SubmissionEndpoint, snap.SubmissionTimeout),
		Defaults: support.Form{
			Name:  snap.DefaultName,
			Email: snap.DefaultEmail,
			Phone: snap.DefaultPhone,
		},
		OnTicket:  dispatcher.Ticket,
		OnFailure: dispatcher.Failure,
		OnChange:  hub.Notify,
	})

	graphCfg := cfg.GraphConfig()
	srv := NewServer(ServerOptions{
		Config:          cfg,
		Desk:            desk,
		Hub:             hub,
		Notifier:        notifier,
		Archive:         archiveTester,
		Expiry:          notify.NewSecretExpiryChecker(&graphCfg),
		EventsPath:      events.Path(),
		FFmpegAvailable: ffmpegAvailable,
	})

	// Start web server.
	httpServer := srv.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, util.ShutdownSignals()...)
	<-sigChan

	slog.Info("shutting down")

	// Stop background checks and in-flight commands.
	srv.Close()

	// Shut down HTTP server.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	// Releases the input device and discards any unsent clip.
	desk.Close()

	// Waits for archive uploads and notifications already under way.
	dispatcher.Close()

	if err := events.Close(); err != nil {
		slog.Error("error closing event log", "error", err)
	}

	slog.Info("shutdown complete")
}
