// Package notify tells the support team about new voice tickets by webhook
// and Microsoft Graph email.
package notify

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-voicedesk/internal/config"
)

// TicketNotice describes a created ticket for the support team.
type TicketNotice struct {
	TicketID    string
	Subject     string
	Description string
	Solution    string
	Name        string
	Email       string
	Phone       string
	SubmittedAt time.Time

	ClipDuration time.Duration
	Clip         *EmailAttachment // Attached to the email, summarised in the webhook
	ArchiveKey   string
}

// Delivery is the outcome of one notification channel.
type Delivery struct {
	Channel string
	Err     error
}

// Notifier sends ticket notifications over every configured channel.
type Notifier struct {
	cfg *config.Config

	// mu protects graphClient
	mu          sync.Mutex
	graphClient *GraphClient

	newGraphClient func(cfg *GraphConfig) (*GraphClient, error)
	httpClient     *http.Client
}

// NewNotifier returns a Notifier configured with the given config.
func NewNotifier(cfg *config.Config) *Notifier {
	return &Notifier{
		cfg:            cfg,
		newGraphClient: NewGraphClient,
		httpClient:     &http.Client{Timeout: webhookTimeout},
	}
}

// InvalidateGraphClient clears the cached Graph client.
// Call this when Graph configuration changes.
func (n *Notifier) InvalidateGraphClient() {
	n.mu.Lock()
	n.graphClient = nil
	n.mu.Unlock()
}

// getOrCreateGraphClient returns the cached Graph client, creating it if needed.
func (n *Notifier) getOrCreateGraphClient(cfg *GraphConfig) (*GraphClient, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.graphClient != nil {
		return n.graphClient, nil
	}

	client, err := n.newGraphClient(cfg)
	if err != nil {
		return nil, err
	}
	n.graphClient = client
	return client, nil
}

// BuildGraphConfig extracts the Graph settings from a config snapshot.
func BuildGraphConfig(cfg config.Snapshot) *GraphConfig {
	return &GraphConfig{
		TenantID:     cfg.GraphTenantID,
		ClientID:     cfg.GraphClientID,
		ClientSecret: cfg.GraphClientSecret,
		FromAddress:  cfg.GraphFromAddress,
		Recipients:   cfg.GraphRecipients,
	}
}

// NotifyTicket sends t to each configured channel and reports one Delivery
// per attempted channel. Unconfigured channels are skipped.
func (n *Notifier) NotifyTicket(ctx context.Context, t *TicketNotice) []Delivery {
	cfg := n.cfg.Snapshot()
	var out []Delivery

	if cfg.HasWebhook() {
		err := logNotifyResult(func() error {
			return sendWebhook(ctx, n.httpClient, cfg.WebhookURL, ticketPayload(cfg.DeskName, t))
		}, ChannelWebhook, t.TicketID)
		out = append(out, Delivery{Channel: ChannelWebhook, Err: err})
	}

	if cfg.HasGraph() {
		err := logNotifyResult(func() error {
			graphCfg := BuildGraphConfig(cfg)
			client, err := n.getOrCreateGraphClient(graphCfg)
			if err != nil {
				return fmt.Errorf("create Graph client: %w", err)
			}
			return sendTicketEmail(ctx, client, graphCfg, cfg.DeskName, t)
		}, ChannelEmail, t.TicketID)
		out = append(out, Delivery{Channel: ChannelEmail, Err: err})
	}

	return out
}

// TestWebhook sends a test event to the configured webhook.
func (n *Notifier) TestWebhook(ctx context.Context) error {
	cfg := n.cfg.Snapshot()
	return sendWebhook(ctx, n.httpClient, cfg.WebhookURL, &WebhookPayload{
		Event:     EventTest,
		Desk:      cfg.DeskName,
		Message:   "This is a test notification from " + cfg.DeskName,
		Timestamp: timestampUTC(time.Now()),
	})
}

// TestEmail validates the Graph settings and sends a test email.
func (n *Notifier) TestEmail(ctx context.Context) error {
	cfg := n.cfg.Snapshot()
	graphCfg := BuildGraphConfig(cfg)
	if err := ValidateConfig(graphCfg); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	// A fresh client so that a test always uses the current credentials.
	client, err := n.newGraphClient(graphCfg)
	if err != nil {
		return fmt.Errorf("create Graph client: %w", err)
	}
	return sendTestEmail(ctx, client, graphCfg, cfg.DeskName)
}
