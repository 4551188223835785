package notify

import "log/slog"

// logNotifyResult runs fn, logs its outcome and returns its error.
func logNotifyResult(fn func() error, notifyType, ticketID string) error {
	err := fn()
	if err != nil {
		slog.Error("notification failed", "type", notifyType, "ticket_id", ticketID, "error", err)
	} else {
		slog.Info("notification sent", "type", notifyType, "ticket_id", ticketID)
	}
	return err
}
