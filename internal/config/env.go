package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
)

// Environment variables that override secrets and endpoints from the
// config file. They are never written back to disk.
const (
	EnvSubmissionEndpoint     = "VOICEDESK_SUBMISSION_ENDPOINT"
	EnvArchiveAccessKeyID     = "VOICEDESK_S3_ACCESS_KEY_ID"
	EnvArchiveSecretAccessKey = "VOICEDESK_S3_SECRET_ACCESS_KEY"
	EnvGraphClientSecret      = "VOICEDESK_GRAPH_CLIENT_SECRET"
	EnvWebhookURL             = "VOICEDESK_WEBHOOK_URL"
)

// Overrides holds values taken from the environment.
type Overrides struct {
	SubmissionEndpoint     string
	ArchiveAccessKeyID     string
	ArchiveSecretAccessKey string
	GraphClientSecret      string
	WebhookURL             string
}

// LoadOverrides reads dotenvPath into the process environment, without
// replacing variables that are already set, and collects the overrides.
// A missing file is not an error.
func LoadOverrides(dotenvPath string) Overrides {
	if err := godotenv.Load(dotenvPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to load environment file", "path", dotenvPath, "error", err)
	}
	return Overrides{
		SubmissionEndpoint:     os.Getenv(EnvSubmissionEndpoint),
		ArchiveAccessKeyID:     os.Getenv(EnvArchiveAccessKeyID),
		ArchiveSecretAccessKey: os.Getenv(EnvArchiveSecretAccessKey),
		GraphClientSecret:      os.Getenv(EnvGraphClientSecret),
		WebhookURL:             os.Getenv(EnvWebhookURL),
	}
}
