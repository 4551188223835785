package server

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oszuidwest/zwfm-voicedesk/internal/types"
)

// testTimeout bounds a single notification or archive test.
const testTimeout = 60 * time.Second

// runTest dispatches to the appropriate test.
func (h *CommandHandler) runTest(ctx context.Context, testType string) error {
	switch testType {
	case "webhook":
		return h.notifier.TestWebhook(ctx)
	case "email":
		return h.notifier.TestEmail(ctx)
	case "archive":
		if h.archive == nil {
			return fmt.Errorf("S3 archive is not configured")
		}
		return h.archive.TestConnection(ctx)
	default:
		return fmt.Errorf("unknown test type: %s", testType)
	}
}

// handleTest executes a test and sends the result to the client.
// testCmd should be in format "test_<type>" (e.g., "test_email", "test_webhook").
func (h *CommandHandler) handleTest(send chan<- any, testCmd string) {
	testType := strings.TrimPrefix(testCmd, "test_")

	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in test handler", "command", testCmd, "panic", r)
			}
		}()

		ctx, cancel := context.WithTimeout(h.ctx, testTimeout)
		defer cancel()

		result := types.WSTestResult{
			Type:     "test_result",
			TestType: testType,
			Success:  true,
		}

		if err := h.runTest(ctx, testType); err != nil {
			slog.Error("test failed", "command", testCmd, "error", err)
			result.Success = false
			result.Error = err.Error()
		} else {
			slog.Info("test succeeded", "command", testCmd)
		}

		trySend(send, testCmd, result)
	}()
}

// handleWebhookUpdate processes a notifications/webhook/update command.
func (h *CommandHandler) handleWebhookUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(cmd, send, func(req *WebhookUpdateRequest) error {
		return h.cfg.SetWebhookURL(req.URL)
	})
}

// handleEmailUpdate processes a notifications/email/update command. An
// empty client secret keeps the stored one.
func (h *CommandHandler) handleEmailUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(cmd, send, func(req *EmailUpdateRequest) error {
		if err := h.cfg.SetGraphConfig(req.TenantID, req.ClientID, req.ClientSecret, req.FromAddress, req.Recipients); err != nil {
			return err
		}

		h.notifier.InvalidateGraphClient()
		if h.expiry != nil {
			graphCfg := h.cfg.GraphConfig()
			h.expiry.UpdateConfig(&graphCfg)
		}
		return nil
	})
}
