// Package config provides application configuration management.
package config

import (
	"cmp"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-voicedesk/internal/encoder"
	"github.com/oszuidwest/zwfm-voicedesk/internal/types"
	"github.com/oszuidwest/zwfm-voicedesk/internal/util"
)

// Configuration defaults are used when values are not specified.
const (
	DefaultWebPort            = 8080
	DefaultDeskName           = "Voice Support"
	DefaultColorLight         = "#E6007E"
	DefaultColorDark          = "#E6007E"
	DefaultSampleRate         = 48000
	DefaultCodec              = string(encoder.CodecWebM)
	DefaultMaxDurationSeconds = 300
	DefaultFFTSize            = 256
	DefaultCustomerName       = "Anonymous Customer"
	DefaultCustomerEmail      = "support@example.com"
	DefaultSubmitTimeoutSec   = 120
	DefaultArchivePrefix      = "voice-requests/"
	DefaultEventLogMaxSizeMB  = 10
	DefaultEventLogMaxBackups = 5
)

// supportedSampleRates lists capture rates every backend can deliver.
var supportedSampleRates = []int{8000, 16000, 22050, 24000, 32000, 44100, 48000}

// Validation patterns define regular expressions for configuration value validation.
var (
	// Desk name: any printable characters except control chars (blocks CRLF injection in emails)
	deskNamePattern = regexp.MustCompile(`^[^\x00-\x1F\x7F]+$`)
	colorPattern    = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)
)

// SystemConfig holds system-level settings that require restart.
type SystemConfig struct {
	FFmpegPath string `json:"ffmpeg_path"` // Path to FFmpeg binary (empty = use PATH)
	Port       int    `json:"port"`        // HTTP server port
	TempDir    string `json:"temp_dir"`    // Spool directory for WAV clips (empty = system temp)
}

// WebConfig holds desk branding settings.
type WebConfig struct {
	DeskName   string `json:"desk_name"`   // Title shown on the page and in emails
	ColorLight string `json:"color_light"` // Theme color for light mode (#RRGGBB)
	ColorDark  string `json:"color_dark"`  // Theme color for dark mode (#RRGGBB)
}

// AudioConfig holds capture and clip settings.
type AudioConfig struct {
	Input              string `json:"input"`                // Audio input device identifier
	SampleRate         int    `json:"sample_rate"`          // Capture sample rate in Hz
	Codec              string `json:"codec"`                // Clip codec: webm, ogg, mp3, wav
	MaxDurationSeconds int    `json:"max_duration_seconds"` // Recording is stopped after this long
	FFTSize            int    `json:"fft_size"`             // Voice activity analysis window
}

// DeskConfig holds the identity form defaults.
type DeskConfig struct {
	DefaultName  string `json:"default_name"`
	DefaultEmail string `json:"default_email"`
	DefaultPhone string `json:"default_phone"`
}

// SubmissionConfig holds the support intake endpoint.
type SubmissionConfig struct {
	Endpoint       string `json:"endpoint"`        // Multipart POST target
	TimeoutSeconds int    `json:"timeout_seconds"` // Round trip limit
}

// ArchiveConfig holds S3-compatible storage for submitted clips.
type ArchiveConfig struct {
	Endpoint        string `json:"endpoint,omitempty"`          // Custom S3 endpoint (empty for AWS)
	Bucket          string `json:"bucket,omitempty"`            // S3 bucket name
	AccessKeyID     string `json:"access_key_id,omitempty"`     // Access key ID
	SecretAccessKey string `json:"secret_access_key,omitempty"` // Secret access key
	Prefix          string `json:"prefix,omitempty"`            // Key prefix
}

// WebhookConfig holds webhook notification settings.
type WebhookConfig struct {
	URL string `json:"url"` // Webhook URL for new tickets
}

// EmailConfig holds Microsoft Graph email notification settings.
type EmailConfig struct {
	TenantID     string `json:"tenant_id"`     // Azure AD tenant ID
	ClientID     string `json:"client_id"`     // App registration client ID
	ClientSecret string `json:"client_secret"` // App registration client secret
	FromAddress  string `json:"from_address"`  // Shared mailbox sender address
	Recipients   string `json:"recipients"`    // Comma-separated recipient addresses
}

// NotificationsConfig holds all notification channel settings.
type NotificationsConfig struct {
	Webhook WebhookConfig `json:"webhook"` // Webhook settings
	Email   EmailConfig   `json:"email"`   // Email settings
}

// EventLogConfig holds the JSON-lines event log settings.
type EventLogConfig struct {
	Path       string `json:"path"`        // Log file path (empty disables)
	MaxSizeMB  int    `json:"max_size_mb"` // Rotate after this size
	MaxBackups int    `json:"max_backups"` // Rotated files to keep
}

// Config holds all application configuration. It is safe for concurrent use.
type Config struct {
	System        SystemConfig        `json:"system"`
	Web           WebConfig           `json:"web"`
	Audio         AudioConfig         `json:"audio"`
	Desk          DeskConfig          `json:"desk"`
	Submission    SubmissionConfig    `json:"submission"`
	Archive       ArchiveConfig       `json:"archive"`
	Notifications NotificationsConfig `json:"notifications"`
	EventLog      EventLogConfig      `json:"event_log"`

	mu       sync.RWMutex
	filePath string
	env      Overrides
}

// New creates a new Config with default values.
func New(filePath string) *Config {
	return &Config{
		System: SystemConfig{
			Port: DefaultWebPort,
		},
		Web: WebConfig{
			DeskName:   DefaultDeskName,
			ColorLight: DefaultColorLight,
			ColorDark:  DefaultColorDark,
		},
		Audio: AudioConfig{
			SampleRate:         DefaultSampleRate,
			Codec:              DefaultCodec,
			MaxDurationSeconds: DefaultMaxDurationSeconds,
			FFTSize:            DefaultFFTSize,
		},
		Desk: DeskConfig{
			DefaultName:  DefaultCustomerName,
			DefaultEmail: DefaultCustomerEmail,
		},
		Submission: SubmissionConfig{
			TimeoutSeconds: DefaultSubmitTimeoutSec,
		},
		EventLog: EventLogConfig{
			MaxSizeMB:  DefaultEventLogMaxSizeMB,
			MaxBackups: DefaultEventLogMaxBackups,
		},
		filePath: filePath,
	}
}

// Load reads config from file, creating a default if none exists, then
// applies environment overrides.
func (c *Config) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.env = LoadOverrides(filepath.Join(filepath.Dir(c.filePath), ".env"))

	data, err := os.ReadFile(c.filePath)
	if os.IsNotExist(err) {
		return c.saveLocked()
	}
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	if err := json.Unmarshal(data, c); err != nil {
		return util.WrapError("parse config", err)
	}

	c.applyDefaults()

	if err := c.validate(); err != nil {
		return err
	}

	return nil
}

// validate checks all configuration fields for correctness.
func (c *Config) validate() error {
	name := c.Web.DeskName
	if name == "" || len(name) > 40 || !deskNamePattern.MatchString(name) {
		return fmt.Errorf("invalid desk_name %q: must be 1-40 printable characters", name)
	}
	if !colorPattern.MatchString(c.Web.ColorLight) {
		return fmt.Errorf("invalid color_light %q: must be hex format (#RRGGBB)", c.Web.ColorLight)
	}
	if !colorPattern.MatchString(c.Web.ColorDark) {
		return fmt.Errorf("invalid color_dark %q: must be hex format (#RRGGBB)", c.Web.ColorDark)
	}
	if !slices.Contains(supportedSampleRates, c.Audio.SampleRate) {
		return fmt.Errorf("invalid sample_rate %d: must be one of %v", c.Audio.SampleRate, supportedSampleRates)
	}
	if _, err := encoder.ParseCodec(c.Audio.Codec); err != nil {
		return fmt.Errorf("invalid codec: %w", err)
	}
	if c.Audio.MaxDurationSeconds < 10 || c.Audio.MaxDurationSeconds > 3600 {
		return fmt.Errorf("invalid max_duration_seconds %d: must be 10-3600", c.Audio.MaxDurationSeconds)
	}
	if n := c.Audio.FFTSize; n < 32 || n > 32768 || n&(n-1) != 0 {
		return fmt.Errorf("invalid fft_size %d: must be a power of two between 32 and 32768", n)
	}
	if c.Submission.Endpoint != "" {
		if err := validateHTTPURL(c.Submission.Endpoint); err != nil {
			return fmt.Errorf("invalid submission endpoint: %w", err)
		}
	}
	if c.Notifications.Webhook.URL != "" {
		if err := validateHTTPURL(c.Notifications.Webhook.URL); err != nil {
			return fmt.Errorf("invalid webhook url: %w", err)
		}
	}
	if c.System.TempDir != "" {
		if err := util.ValidatePath("temp_dir", c.System.TempDir); err != nil {
			return err
		}
	}
	return nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%q must use http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%q has no host", raw)
	}
	return nil
}

// applyDefaults sets default values for zero-value fields.
func (c *Config) applyDefaults() {
	// System defaults
	c.System.Port = cmp.Or(c.System.Port, DefaultWebPort)
	// Web defaults
	c.Web.DeskName = cmp.Or(c.Web.DeskName, DefaultDeskName)
	c.Web.ColorLight = cmp.Or(c.Web.ColorLight, DefaultColorLight)
	c.Web.ColorDark = cmp.Or(c.Web.ColorDark, DefaultColorDark)
	// Audio defaults
	c.Audio.SampleRate = cmp.Or(c.Audio.SampleRate, DefaultSampleRate)
	c.Audio.Codec = cmp.Or(c.Audio.Codec, DefaultCodec)
	c.Audio.MaxDurationSeconds = cmp.Or(c.Audio.MaxDurationSeconds, DefaultMaxDurationSeconds)
	c.Audio.FFTSize = cmp.Or(c.Audio.FFTSize, DefaultFFTSize)
	// Desk defaults
	c.Desk.DefaultName = cmp.Or(c.Desk.DefaultName, DefaultCustomerName)
	c.Desk.DefaultEmail = cmp.Or(c.Desk.DefaultEmail, DefaultCustomerEmail)
	// Submission defaults
	c.Submission.TimeoutSeconds = cmp.Or(c.Submission.TimeoutSeconds, DefaultSubmitTimeoutSec)
	// Event log defaults
	c.EventLog.MaxSizeMB = cmp.Or(c.EventLog.MaxSizeMB, DefaultEventLogMaxSizeMB)
	c.EventLog.MaxBackups = cmp.Or(c.EventLog.MaxBackups, DefaultEventLogMaxBackups)
}

// saveLocked persists configuration. Caller must hold c.mu.
func (c *Config) saveLocked() error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return util.WrapError("marshal config", err)
	}

	dir := filepath.Dir(c.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return util.WrapError("create config directory", err)
	}

	if err := os.WriteFile(c.filePath, data, 0o600); err != nil {
		return util.WrapError("write config", err)
	}

	return nil
}

// --- Getters for individual settings ---

// AudioInput returns the configured audio input device.
func (c *Config) AudioInput() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Audio.Input
}

// GetFFmpegPath returns the configured FFmpeg binary path.
func (c *Config) GetFFmpegPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.System.FFmpegPath
}

// GraphConfig returns a copy of the current Graph/Email configuration.
func (c *Config) GraphConfig() types.GraphConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return types.GraphConfig{
		TenantID:     c.Notifications.Email.TenantID,
		ClientID:     c.Notifications.Email.ClientID,
		ClientSecret: cmp.Or(c.env.GraphClientSecret, c.Notifications.Email.ClientSecret),
		FromAddress:  c.Notifications.Email.FromAddress,
		Recipients:   c.Notifications.Email.Recipients,
	}
}

// --- Setters for individual settings ---

// SetAudioInput updates the audio input device and saves the configuration.
func (c *Config) SetAudioInput(input string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Audio.Input = input
	return c.saveLocked()
}

// SetDeskDefaults updates the identity form defaults and saves the configuration.
func (c *Config) SetDeskDefaults(name, email, phone string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Desk.DefaultName = name
	c.Desk.DefaultEmail = email
	c.Desk.DefaultPhone = phone
	return c.saveLocked()
}

// SetWebhookURL updates the webhook URL and saves the configuration.
func (c *Config) SetWebhookURL(url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Notifications.Webhook.URL = url
	return c.saveLocked()
}

// SetGraphConfig updates the Microsoft Graph/Email configuration and saves.
// An empty clientSecret keeps the stored secret.
func (c *Config) SetGraphConfig(tenantID, clientID, clientSecret, fromAddress, recipients string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Notifications.Email.TenantID = tenantID
	c.Notifications.Email.ClientID = clientID
	if clientSecret != "" {
		c.Notifications.Email.ClientSecret = clientSecret
	}
	c.Notifications.Email.FromAddress = fromAddress
	c.Notifications.Email.Recipients = recipients
	return c.saveLocked()
}

// --- Snapshot for atomic reads ---

// Snapshot is a point-in-time copy of configuration values with
// environment overrides applied.
type Snapshot struct {
	// System
	WebPort    int
	FFmpegPath string
	TempDir    string

	// Web/Branding
	DeskName   string
	ColorLight string
	ColorDark  string

	// Audio
	AudioInput  string
	SampleRate  int
	Codec       string
	MaxDuration time.Duration
	FFTSize     int

	// Desk
	DefaultName  string
	DefaultEmail string
	DefaultPhone string

	// Submission
	SubmissionEndpoint string
	SubmissionTimeout  time.Duration

	// Archive
	ArchiveEndpoint        string
	ArchiveBucket          string
	ArchiveAccessKeyID     string
	ArchiveSecretAccessKey string
	ArchivePrefix          string

	// Notifications
	WebhookURL        string
	GraphTenantID     string
	GraphClientID     string
	GraphClientSecret string
	GraphFromAddress  string
	GraphRecipients   string

	// Event log
	EventLogPath       string
	EventLogMaxSizeMB  int
	EventLogMaxBackups int
}

// Snapshot returns a point-in-time copy of all configuration values.
func (c *Config) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		// System
		WebPort:    c.System.Port,
		FFmpegPath: c.System.FFmpegPath,
		TempDir:    c.System.TempDir,

		// Web/Branding
		DeskName:   c.Web.DeskName,
		ColorLight: c.Web.ColorLight,
		ColorDark:  c.Web.ColorDark,

		// Audio (with defaults)
		AudioInput:  c.Audio.Input,
		SampleRate:  cmp.Or(c.Audio.SampleRate, DefaultSampleRate),
		Codec:       cmp.Or(c.Audio.Codec, DefaultCodec),
		MaxDuration: time.Duration(cmp.Or(c.Audio.MaxDurationSeconds, DefaultMaxDurationSeconds)) * time.Second,
		FFTSize:     cmp.Or(c.Audio.FFTSize, DefaultFFTSize),

		// Desk
		DefaultName:  cmp.Or(c.Desk.DefaultName, DefaultCustomerName),
		DefaultEmail: cmp.Or(c.Desk.DefaultEmail, DefaultCustomerEmail),
		DefaultPhone: c.Desk.DefaultPhone,

		// Submission
		SubmissionEndpoint: cmp.Or(c.env.SubmissionEndpoint, c.Submission.Endpoint),
		SubmissionTimeout:  time.Duration(cmp.Or(c.Submission.TimeoutSeconds, DefaultSubmitTimeoutSec)) * time.Second,

		// Archive
		ArchiveEndpoint:        c.Archive.Endpoint,
		ArchiveBucket:          c.Archive.Bucket,
		ArchiveAccessKeyID:     cmp.Or(c.env.ArchiveAccessKeyID, c.Archive.AccessKeyID),
		ArchiveSecretAccessKey: cmp.Or(c.env.ArchiveSecretAccessKey, c.Archive.SecretAccessKey),
		ArchivePrefix:          cmp.Or(c.Archive.Prefix, DefaultArchivePrefix),

		// Notifications
		WebhookURL:        cmp.Or(c.env.WebhookURL, c.Notifications.Webhook.URL),
		GraphTenantID:     c.Notifications.Email.TenantID,
		GraphClientID:     c.Notifications.Email.ClientID,
		GraphClientSecret: cmp.Or(c.env.GraphClientSecret, c.Notifications.Email.ClientSecret),
		GraphFromAddress:  c.Notifications.Email.FromAddress,
		GraphRecipients:   c.Notifications.Email.Recipients,

		// Event log
		EventLogPath:       c.EventLog.Path,
		EventLogMaxSizeMB:  cmp.Or(c.EventLog.MaxSizeMB, DefaultEventLogMaxSizeMB),
		EventLogMaxBackups: cmp.Or(c.EventLog.MaxBackups, DefaultEventLogMaxBackups),
	}
}

// HasSubmission reports whether a submission endpoint is configured.
func (s *Snapshot) HasSubmission() bool {
	return s.SubmissionEndpoint != ""
}

// HasArchive reports whether S3 archiving is configured.
func (s *Snapshot) HasArchive() bool {
	return s.ArchiveBucket != "" && s.ArchiveAccessKeyID != "" && s.ArchiveSecretAccessKey != ""
}

// HasWebhook reports whether a webhook URL is configured.
func (s *Snapshot) HasWebhook() bool {
	return s.WebhookURL != ""
}

// HasGraph reports whether Microsoft Graph email notifications are configured.
func (s *Snapshot) HasGraph() bool {
	return s.GraphTenantID != "" && s.GraphClientID != "" && s.GraphClientSecret != "" &&
		s.GraphFromAddress != "" && s.GraphRecipients != ""
}

// HasEventLog reports whether the event log is enabled.
func (s *Snapshot) HasEventLog() bool {
	return s.EventLogPath != ""
}
