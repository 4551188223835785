package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/oszuidwest/zwfm-voicedesk/internal/types"
	"github.com/oszuidwest/zwfm-voicedesk/internal/util"
)

// GraphConfig is the configuration for email notifications.
type GraphConfig = types.GraphConfig

// ticketEmail renders the subject and plain text body for a new ticket.
func ticketEmail(deskName string, t *TicketNotice) (subject, body string) {
	subject = fmt.Sprintf("[Ticket %s] %s - %s", t.TicketID, t.Subject, deskName)

	var b strings.Builder
	fmt.Fprintf(&b, "A voice support request was submitted at %s.\n\n", util.FormatHumanTime(timestampUTC(t.SubmittedAt)))
	fmt.Fprintf(&b, "Ticket: %s\n", t.TicketID)
	fmt.Fprintf(&b, "Name: %s\n", t.Name)
	fmt.Fprintf(&b, "Email: %s\n", t.Email)
	if t.Phone != "" {
		fmt.Fprintf(&b, "Phone: %s\n", t.Phone)
	}
	fmt.Fprintf(&b, "Length: %s\n", util.FormatDuration(t.ClipDuration.Milliseconds()))
	fmt.Fprintf(&b, "\nSubject: %s\n", t.Subject)
	fmt.Fprintf(&b, "Description: %s\n", t.Description)
	fmt.Fprintf(&b, "Suggested solution: %s\n", t.Solution)
	if t.ArchiveKey != "" {
		fmt.Fprintf(&b, "\nArchived as: %s\n", t.ArchiveKey)
	}
	if t.Clip != nil {
		b.WriteString("\nThe recording is attached.")
	}
	return subject, b.String()
}

// sendTicketEmail mails the ticket summary with the recording attached.
func sendTicketEmail(ctx context.Context, client *GraphClient, cfg *GraphConfig, deskName string, t *TicketNotice) error {
	recipients := ParseRecipients(cfg.Recipients)
	if len(recipients) == 0 {
		return fmt.Errorf("no valid recipients")
	}

	subject, body := ticketEmail(deskName, t)
	if err := client.SendMailWithAttachment(ctx, recipients, subject, body, t.Clip); err != nil {
		return util.WrapError("send email via Graph", err)
	}
	return nil
}

// sendTestEmail verifies the credentials and sends a test message.
func sendTestEmail(ctx context.Context, client *GraphClient, cfg *GraphConfig, deskName string) error {
	if err := client.ValidateAuth(ctx); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	subject := "[TEST] " + deskName
	body := fmt.Sprintf(
		"Test email from %s.\n\n"+
			"Time: %s\n\n"+
			"Microsoft Graph configuration is working correctly.",
		AppName, util.HumanTime(),
	)

	if err := client.SendMail(ctx, ParseRecipients(cfg.Recipients), subject, body); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}
