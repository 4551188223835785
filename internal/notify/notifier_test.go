package notify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oszuidwest/zwfm-voicedesk/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.New(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, cfg.Load())
	return cfg
}

func testNotice() *TicketNotice {
	return &TicketNotice{
		TicketID:     "T-42",
		Subject:      "No audio on FM",
		Description:  "Caller hears silence on 103.2",
		Solution:     "Check the transmitter link",
		Name:         "Jan",
		Email:        "jan@example.org",
		Phone:        "0612345678",
		SubmittedAt:  time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
		ClipDuration: 12 * time.Second,
		Clip:         &EmailAttachment{Filename: "recording.webm", ContentType: "audio/webm", Data: []byte("opus")},
		ArchiveKey:   "voice-requests/2026/03/01/T-42.webm",
	}
}

// graphServer records sendMail requests and answers with the given statuses in order.
type graphServer struct {
	*httptest.Server
	calls    atomic.Int32
	statuses []int
	last     atomic.Pointer[graphMailRequest]
}

func newGraphServer(t *testing.T, statuses ...int) *graphServer {
	t.Helper()
	g := &graphServer{statuses: statuses}
	g.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(g.calls.Add(1)) - 1
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		var req graphMailRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		g.last.Store(&req)
		w.WriteHeader(g.statuses[min(n, len(g.statuses)-1)])
	}))
	t.Cleanup(g.Close)
	return g
}

func (g *graphServer) client(from string) *GraphClient {
	c := newGraphClient(g.Server.Client(), g.URL, from)
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c
}

func TestNotifyTicketSkipsUnconfiguredChannels(t *testing.T) {
	n := NewNotifier(newTestConfig(t))
	assert.Empty(t, n.NotifyTicket(t.Context(), testNotice()))
}

func TestNotifyTicketWebhook(t *testing.T) {
	var got WebhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	cfg := newTestConfig(t)
	require.NoError(t, cfg.SetWebhookURL(srv.URL+"/hook"))

	deliveries := NewNotifier(cfg).NotifyTicket(t.Context(), testNotice())

	require.Len(t, deliveries, 1)
	assert.Equal(t, ChannelWebhook, deliveries[0].Channel)
	assert.NoError(t, deliveries[0].Err)
	assert.Equal(t, EventTicketCreated, got.Event)
	assert.Equal(t, "T-42", got.TicketID)
	assert.Equal(t, "0612345678", got.Phone)
	assert.Equal(t, "audio/webm", got.ClipMimeType)
	assert.Equal(t, 4, got.ClipSizeBytes)
	assert.Equal(t, int64(12000), got.ClipDurationMs)
	assert.Equal(t, "2026-03-01T09:30:00Z", got.Timestamp)
	assert.Equal(t, config.DefaultDeskName, got.Desk)
}

func TestNotifyTicketWebhookErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	cfg := newTestConfig(t)
	require.NoError(t, cfg.SetWebhookURL(srv.URL))

	deliveries := NewNotifier(cfg).NotifyTicket(t.Context(), testNotice())

	require.Len(t, deliveries, 1)
	assert.ErrorContains(t, deliveries[0].Err, "status 502")
}

func TestNotifyTicketEmailAttachesRecording(t *testing.T) {
	g := newGraphServer(t, http.StatusAccepted)
	cfg := newTestConfig(t)
	require.NoError(t, cfg.SetGraphConfig("tenant", "client", "secret", "desk@example.com", "ops@example.com, support@example.com"))

	n := NewNotifier(cfg)
	n.newGraphClient = func(c *GraphConfig) (*GraphClient, error) { return g.client(c.FromAddress), nil }

	deliveries := n.NotifyTicket(t.Context(), testNotice())

	require.Len(t, deliveries, 1)
	assert.Equal(t, ChannelEmail, deliveries[0].Channel)
	require.NoError(t, deliveries[0].Err)

	req := g.last.Load()
	require.NotNil(t, req)
	assert.Contains(t, req.Message.Subject, "[Ticket T-42] No audio on FM")
	require.Len(t, req.Message.ToRecipients, 2)
	assert.Equal(t, "support@example.com", req.Message.ToRecipients[1].EmailAddress.Address)
	require.Len(t, req.Message.Attachments, 1)
	att := req.Message.Attachments[0]
	assert.Equal(t, "recording.webm", att.Name)
	assert.Equal(t, "audio/webm", att.ContentType)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("opus")), att.ContentBytes)
}

func TestGraphClientRetriesTransientErrors(t *testing.T) {
	g := newGraphServer(t, http.StatusServiceUnavailable, http.StatusServiceUnavailable, http.StatusAccepted)

	err := g.client("desk@example.com").SendMail(t.Context(), []string{"ops@example.com"}, "s", "b")

	require.NoError(t, err)
	assert.Equal(t, int32(3), g.calls.Load())
}

func TestGraphClientGivesUpAfterMaxRetries(t *testing.T) {
	g := newGraphServer(t, http.StatusInternalServerError)

	err := g.client("desk@example.com").SendMail(t.Context(), []string{"ops@example.com"}, "s", "b")

	require.ErrorContains(t, err, "max retries exceeded")
	assert.Equal(t, int32(maxRetries+1), g.calls.Load())
}

func TestGraphClientDoesNotRetryClientErrors(t *testing.T) {
	g := newGraphServer(t, http.StatusBadRequest)

	err := g.client("desk@example.com").SendMail(t.Context(), []string{"ops@example.com"}, "s", "b")

	require.ErrorContains(t, err, "graph API error 400")
	assert.Equal(t, int32(1), g.calls.Load())
}

func TestGraphClientRejectsEmptyRecipients(t *testing.T) {
	g := newGraphServer(t, http.StatusAccepted)

	err := g.client("desk@example.com").SendMail(t.Context(), []string{" ", ""}, "s", "b")

	require.ErrorContains(t, err, "no valid recipients")
	assert.Zero(t, g.calls.Load())
}

func TestTestEmailValidatesConfig(t *testing.T) {
	cfg := newTestConfig(t)
	require.NoError(t, cfg.SetGraphConfig("not-a-guid", "client", "secret", "desk@example.com", "ops@example.com"))

	err := NewNotifier(cfg).TestEmail(t.Context())

	assert.ErrorContains(t, err, "tenant ID must be a valid GUID")
}

func TestTestEmailSendsAfterAuthCheck(t *testing.T) {
	g := newGraphServer(t, http.StatusAccepted)
	cfg := newTestConfig(t)
	guid := "12345678-1234-1234-1234-123456789abc"
	require.NoError(t, cfg.SetGraphConfig(guid, guid, "secret", "desk@example.com", "ops@example.com"))

	n := NewNotifier(cfg)
	n.newGraphClient = func(c *GraphConfig) (*GraphClient, error) { return g.client(c.FromAddress), nil }

	require.NoError(t, n.TestEmail(t.Context()))
	assert.Equal(t, int32(2), g.calls.Load(), "auth check then send")
	assert.True(t, strings.HasPrefix(g.last.Load().Message.Subject, "[TEST] "))
}

func TestTestWebhookRequiresURL(t *testing.T) {
	err := NewNotifier(newTestConfig(t)).TestWebhook(t.Context())
	assert.ErrorContains(t, err, "webhook URL not configured")
}

func TestTicketEmailBody(t *testing.T) {
	notice := testNotice()
	notice.Phone = ""

	subject, body := ticketEmail("Front Desk", notice)

	assert.Equal(t, "[Ticket T-42] No audio on FM - Front Desk", subject)
	assert.Contains(t, body, "Name: Jan\n")
	assert.NotContains(t, body, "Phone:")
	assert.Contains(t, body, "Length: 12s\n")
	assert.Contains(t, body, "Archived as: voice-requests/2026/03/01/T-42.webm")
	assert.Contains(t, body, "The recording is attached.")
}

func TestParseRecipients(t *testing.T) {
	assert.Equal(t, []string{"a@x.nl", "b@x.nl"}, ParseRecipients(" a@x.nl, ,b@x.nl,"))
	assert.Nil(t, ParseRecipients(""))
}

func TestEarliestExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewSecretExpiryChecker(nil)
	c.now = func() time.Time { return now }

	info := c.earliestExpiry([]passwordCredential{
		{EndDateTime: "2027-01-01T00:00:00Z"},
		{EndDateTime: "2026-01-21T00:00:00Z"},
		{EndDateTime: "garbage"},
	})

	assert.Equal(t, "2026-01-21T00:00:00Z", info.ExpiresAt)
	assert.Equal(t, 20, info.DaysLeft)
	assert.True(t, info.ExpiresSoon)

	assert.Equal(t, "no password credentials found", c.earliestExpiry(nil).Error)
}

func TestSecretExpiryNotConfigured(t *testing.T) {
	c := NewSecretExpiryChecker(&GraphConfig{})
	assert.Equal(t, "Graph API not configured", c.GetInfo(t.Context()).Error)
}
