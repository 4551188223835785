package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/oszuidwest/zwfm-voicedesk/internal/util"
)

// Webhook event names.
const (
	EventTicketCreated = "ticket_created"
	EventTest          = "test"
)

// WebhookPayload represents the data sent to webhook endpoints.
type WebhookPayload struct {
	Event     string `json:"event"`
	Desk      string `json:"desk,omitempty"`
	TicketID  string `json:"ticket_id,omitempty"`
	Subject   string `json:"subject,omitempty"`
	Name      string `json:"name,omitempty"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Message   string `json:"message,omitempty"`
	Timestamp string `json:"timestamp"`

	// Clip fields (ticket_created only)
	ClipMimeType   string `json:"clip_mime_type,omitempty"`
	ClipSizeBytes  int    `json:"clip_size_bytes,omitempty"`
	ClipDurationMs int64  `json:"clip_duration_ms,omitempty"`
	ArchiveKey     string `json:"archive_key,omitempty"` // S3 object key when the clip was archived
}

// ticketPayload builds the ticket_created payload for t.
func ticketPayload(deskName string, t *TicketNotice) *WebhookPayload {
	p := &WebhookPayload{
		Event:          EventTicketCreated,
		Desk:           deskName,
		TicketID:       t.TicketID,
		Subject:        t.Subject,
		Name:           t.Name,
		Email:          t.Email,
		Phone:          t.Phone,
		Timestamp:      timestampUTC(t.SubmittedAt),
		ClipDurationMs: t.ClipDuration.Milliseconds(),
		ArchiveKey:     t.ArchiveKey,
	}
	if t.Clip != nil {
		p.ClipMimeType = t.Clip.ContentType
		p.ClipSizeBytes = len(t.Clip.Data)
	}
	return p
}

// sendWebhook delivers a notification to the configured webhook endpoint.
func sendWebhook(ctx context.Context, client *http.Client, webhookURL string, payload *WebhookPayload) error {
	if !util.IsConfigured(webhookURL) {
		return fmt.Errorf("webhook URL not configured")
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return util.WrapError("marshal payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(jsonData))
	if err != nil {
		return util.WrapError("create webhook request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return util.WrapError("send webhook request", err)
	}
	defer util.SafeCloseFunc(resp.Body, "webhook response body")()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}
