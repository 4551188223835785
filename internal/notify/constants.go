package notify

import "time"

// AppName is the application name used in notifications.
const AppName = "ZuidWest Voice Desk"

// Notification channels, as recorded in the event log.
const (
	ChannelWebhook = "webhook"
	ChannelEmail   = "email"
)

// webhookTimeout bounds a single webhook delivery.
const webhookTimeout = 10000 * time.Millisecond

// timestampUTC formats t as UTC RFC3339.
func timestampUTC(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
