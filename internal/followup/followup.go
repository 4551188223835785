// Package followup runs the work that happens after a ticket is created:
// archiving the clip, notifying the support team and recording the outcome
// in the event log.
package followup

import (
	"cmp"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-voicedesk/internal/encoder"
	"github.com/oszuidwest/zwfm-voicedesk/internal/eventlog"
	"github.com/oszuidwest/zwfm-voicedesk/internal/notify"
	"github.com/oszuidwest/zwfm-voicedesk/internal/support"
)

// ChannelArchive is the event log channel name for S3 uploads.
const ChannelArchive = "s3"

const (
	// defaultTimeout bounds the whole follow-up of one ticket.
	defaultTimeout = 10 * time.Minute
	// defaultDrainTimeout is how long Close waits before cancelling follow-ups.
	defaultDrainTimeout = 30 * time.Second
)

// Archiver stores a ticket's clip and returns its object key.
type Archiver interface {
	Store(ctx context.Context, ticketID string, clip *encoder.Clip) (string, error)
}

// Notifier sends ticket notifications.
type Notifier interface {
	NotifyTicket(ctx context.Context, t *notify.TicketNotice) []notify.Delivery
}

// Options configures a Dispatcher. Archiver, Notifier and Events may be nil.
type Options struct {
	Archiver Archiver
	Notifier Notifier
	Events   *eventlog.Logger
	Timeout  time.Duration
	// DrainTimeout bounds how long Close waits for running follow-ups.
	DrainTimeout time.Duration
}

// Dispatcher handles ticket follow-ups in the background.
type Dispatcher struct {
	archiver Archiver
	notifier Notifier
	events   *eventlog.Logger
	timeout  time.Duration
	drain    time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex // guards closed and wg.Add
	closed bool
	wg     sync.WaitGroup
}

// New creates a Dispatcher.
func New(opts Options) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		archiver: opts.Archiver,
		notifier: opts.Notifier,
		events:   opts.Events,
		timeout:  cmp.Or(opts.Timeout, defaultTimeout),
		drain:    cmp.Or(opts.DrainTimeout, defaultDrainTimeout),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Ticket starts archiving and announcing tk in the background and returns
// immediately. Tickets handed over after Close are only logged.
func (d *Dispatcher) Ticket(tk support.Ticket) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		slog.Warn("follow-up skipped during shutdown", "ticket_id", tk.Result.TicketID)
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		d.followUp(tk)
	}()
}

func (d *Dispatcher) followUp(tk support.Ticket) {
	ctx, cancel := context.WithTimeout(d.ctx, d.timeout)
	defer cancel()

	id := tk.Result.TicketID
	d.logEvent(d.events.LogTicket(eventlog.TicketCreated, &eventlog.TicketDetails{
		TicketID:  id,
		Name:      tk.Form.Name,
		Email:     tk.Form.Email,
		Phone:     tk.Form.Phone,
		Subject:   tk.Result.Subject,
		ClipBytes: tk.Clip.Size(),
	}))

	var key string
	if d.archiver != nil {
		var err error
		key, err = d.archiver.Store(ctx, id, tk.Clip)
		if err != nil {
			slog.Error("failed to archive clip", "ticket_id", id, "error", err)
			d.logEvent(d.events.LogDelivery(eventlog.ArchiveFailed, ChannelArchive, id, "", err.Error()))
		} else {
			d.logEvent(d.events.LogDelivery(eventlog.ArchiveUploaded, ChannelArchive, id, key, ""))
		}
	}

	if d.notifier == nil {
		return
	}
	for _, delivery := range d.notifier.NotifyTicket(ctx, noticeFor(tk, key)) {
		if delivery.Err != nil {
			d.logEvent(d.events.LogDelivery(eventlog.NotifyFailed, delivery.Channel, id, "", delivery.Err.Error()))
		} else {
			d.logEvent(d.events.LogDelivery(eventlog.NotifySent, delivery.Channel, id, "", ""))
		}
	}
}

// Failure records a submission the support service did not accept.
func (d *Dispatcher) Failure(form support.Form, err error) {
	d.logEvent(d.events.LogTicket(eventlog.SubmissionFailed, &eventlog.TicketDetails{
		Name:  form.Name,
		Email: form.Email,
		Phone: form.Phone,
		Error: err.Error(),
	}))
}

// Close stops accepting tickets and waits for running follow-ups. Follow-ups
// still running after the drain timeout are cancelled.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(d.drain)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		slog.Warn("follow-ups still running, cancelling", "timeout", d.drain)
		d.cancel()
		<-done
	}
	d.cancel()
}

func (d *Dispatcher) logEvent(err error) {
	if err != nil {
		logWriteError(err)
	}
}

func logWriteError(err error) {
	slog.Warn("failed to write event log", "error", err)
}

// noticeFor converts a ticket into the notification payload.
func noticeFor(tk support.Ticket, archiveKey string) *notify.TicketNotice {
	view := support.PresentResult(&tk.Result)
	return &notify.TicketNotice{
		TicketID:     view.TicketID,
		Subject:      view.Subject,
		Description:  view.Description,
		Solution:     view.Solution,
		Name:         tk.Form.Name,
		Email:        tk.Form.Email,
		Phone:        tk.Form.Phone,
		SubmittedAt:  tk.SubmittedAt,
		ClipDuration: tk.Clip.Duration(),
		Clip: &notify.EmailAttachment{
			Filename:    tk.Clip.Filename(),
			ContentType: tk.Clip.MimeType(),
			Data:        tk.Clip.Bytes(),
		},
		ArchiveKey: archiveKey,
	}
}
