// Package types provides shared type definitions used across the voice desk.
package types

import (
	"time"
)

// StatusInterval is how often status is pushed to clients while recording.
const StatusInterval = 100 * time.Millisecond

// WSStatusResponse is sent to clients with the full desk status.
type WSStatusResponse struct {
	Type            string           `json:"type"`             // Message type identifier
	FFmpegAvailable bool             `json:"ffmpeg_available"` // FFmpeg binary is available
	Desk            any              `json:"desk"`             // Presentation state of the desk
	Delivery        DeliveryStatus   `json:"delivery"`         // Which follow-up channels are configured
	GraphSecret     SecretExpiryInfo `json:"graph_secret,omitzero"`
	Settings        WSSettings       `json:"settings"` // Current settings
	Version         VersionInfo      `json:"version"`  // Version information
}

// DeliveryStatus reports which ticket follow-up channels are configured.
type DeliveryStatus struct {
	Submission bool `json:"submission"`
	Archive    bool `json:"archive"`
	Webhook    bool `json:"webhook"`
	Email      bool `json:"email"`
	EventLog   bool `json:"event_log"`
}

// WSSettings contains the settings sub-object in status responses.
type WSSettings struct {
	DeskName           string `json:"desk_name"`            // Name shown in the page header
	AudioInput         string `json:"audio_input"`          // Selected audio input device
	Codec              string `json:"codec"`                // Clip codec
	MaxDurationSeconds int    `json:"max_duration_seconds"` // Recording length limit
	Platform           string `json:"platform"`             // Operating system platform
}

// WSTestResult is sent to clients after a test operation completes.
type WSTestResult struct {
	Type     string `json:"type"`            // Message type identifier
	TestType string `json:"test_type"`       // Type of test performed
	Success  bool   `json:"success"`         // Test succeeded
	Error    string `json:"error,omitempty"` // Error message if failed
}

// GraphConfig contains Microsoft Graph API settings for email notifications.
type GraphConfig struct {
	TenantID     string `json:"tenant_id,omitempty"`     // Azure AD tenant ID
	ClientID     string `json:"client_id,omitempty"`     // App registration client ID
	ClientSecret string `json:"client_secret,omitempty"` // App registration client secret
	FromAddress  string `json:"from_address,omitempty"`  // Shared mailbox address (sender)
	Recipients   string `json:"recipients,omitempty"`    // Comma-separated recipients
}

// SecretExpiryInfo contains client secret expiration data.
type SecretExpiryInfo struct {
	ExpiresAt   string `json:"expires_at,omitempty"`   // RFC3339 expiration timestamp
	ExpiresSoon bool   `json:"expires_soon,omitempty"` // True if expires within 30 days
	DaysLeft    int    `json:"days_left,omitempty"`    // Days until expiration
	Error       string `json:"error,omitempty"`        // Error message if check failed
}

// VersionInfo contains version comparison data.
type VersionInfo struct {
	Current     string `json:"current"`              // Current version
	Latest      string `json:"latest,omitempty"`     // Latest available version
	UpdateAvail bool   `json:"update_available"`     // Update is available
	Commit      string `json:"commit,omitempty"`     // Git commit hash
	BuildTime   string `json:"build_time,omitempty"` // Build timestamp
}
