// Package support is the voice support desk presentation model: identity
// form, recording controls, submission and the ticket result view.
package support

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-voicedesk/internal/encoder"
	"github.com/oszuidwest/zwfm-voicedesk/internal/recording"
	"github.com/oszuidwest/zwfm-voicedesk/internal/submit"
)

// User-facing messages.
const (
	MsgMicrophoneUnavailable = "Microphone access denied or not available. Please ensure this device has permission to use the microphone."
	MsgRecordFirst           = "Please record your message before submitting."
	MsgUnknownError          = "An unknown error occurred"

	FallbackSubject     = "Not detected"
	FallbackDescription = "We could not transcribe your audio clearly. A support agent will listen to your recording."
	FallbackSolution    = "Thank you for contacting us. We've received your request and will respond shortly."
)

// Default identity shown in a fresh form.
const (
	DefaultName  = "Anonymous Customer"
	DefaultEmail = "support@example.com"
)

// ErrSubmitInProgress is returned when a submission is already running.
var ErrSubmitInProgress = errors.New("a submission is already in progress")

// View is the page the desk currently shows.
type View string

const (
	// ViewForm shows the recorder and identity form.
	ViewForm View = "form"
	// ViewResult shows the created ticket.
	ViewResult View = "result"
)

// Form holds the caller's identity.
type Form struct {
	Name  string `json:"name" validate:"required,max=200"`
	Email string `json:"email" validate:"required,email,max=254"`
	Phone string `json:"phone" validate:"omitempty,max=32,printascii"`
}

// ResultView is the ticket as presented, with fallbacks filled in.
type ResultView struct {
	TicketID    string `json:"ticket_id"`
	Subject     string `json:"subject"`
	Description string `json:"description"`
	Solution    string `json:"solution"`
}

// Status is the complete presentation state.
type Status struct {
	View       View               `json:"view"`
	Session    recording.Snapshot `json:"session"`
	Form       Form               `json:"form"`
	Submitting bool               `json:"submitting"`
	CanSubmit  bool               `json:"can_submit"`
	Error      string             `json:"error,omitempty"`
	Result     *ResultView        `json:"result,omitempty"`
}

// Ticket is a successful submission, handed to follow-up work such as
// archiving and notifications.
type Ticket struct {
	Result      submit.Result
	Form        Form
	Clip        *encoder.Clip
	SubmittedAt time.Time
}

// Recorder is the recording session the desk drives.
type Recorder interface {
	Start(ctx context.Context) error
	Stop() error
	Reset()
	Close()
	CurrentClip() *encoder.Clip
	Clip(handle string) (*encoder.Clip, bool)
	Snapshot() recording.Snapshot
}

// Options configures a Desk.
type Options struct {
	Session   Recorder
	Submitter submit.Submitter
	Defaults  Form
	OnTicket  func(Ticket) // Called after each success; must not block
	OnFailure func(Form, error)
	OnChange  func()
	Now       func() time.Time
}

// Desk coordinates the session, the form and submission.
type Desk struct {
	session   Recorder
	submitter submit.Submitter
	defaults  Form
	onTicket  func(Ticket)
	onFailure func(Form, error)
	onChange  func()
	now       func() time.Time

	mu         sync.RWMutex
	view       View
	form       Form
	submitting bool
	errMsg     string
	result     *ResultView
}

// NewDesk creates a desk showing a fresh form.
func NewDesk(opts Options) *Desk {
	defaults := withFallbacks(opts.Defaults)
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Desk{
		session:   opts.Session,
		submitter: opts.Submitter,
		defaults:  defaults,
		onTicket:  opts.OnTicket,
		onFailure: opts.OnFailure,
		onChange:  opts.OnChange,
		now:       now,
		view:      ViewForm,
		form:      defaults,
	}
}

// StartRecording begins a recording. Device failures become the
// microphone message.
func (d *Desk) StartRecording(ctx context.Context) error {
	d.setError("")
	err := d.session.Start(ctx)
	switch {
	case err == nil:
	case errors.Is(err, recording.ErrAcquisitionSuperseded):
		return nil
	case errors.Is(err, recording.ErrDeviceUnavailable):
		d.setError(MsgMicrophoneUnavailable)
	default:
		d.setError(messageFor(err))
	}
	return err
}

// StopRecording finishes the recording.
func (d *Desk) StopRecording() error {
	err := d.session.Stop()
	if err != nil {
		d.setError(messageFor(err))
	}
	return err
}

// ResetRecording discards the recording and clears the error.
func (d *Desk) ResetRecording() {
	d.session.Reset()
	d.setError("")
}

// UpdateForm replaces the identity fields.
func (d *Desk) UpdateForm(form Form) {
	d.mu.Lock()
	d.form = form
	d.mu.Unlock()
	d.notify()
}

// Submit sends the finished clip with the form. On success the desk
// switches to the result view. On failure it stays on the form with the
// reason shown and the clip kept for another attempt.
func (d *Desk) Submit(ctx context.Context) (*ResultView, error) {
	clip := d.session.CurrentClip()

	d.mu.Lock()
	if d.submitting {
		d.mu.Unlock()
		return nil, ErrSubmitInProgress
	}
	if clip == nil {
		d.errMsg = MsgRecordFirst
		d.mu.Unlock()
		d.notify()
		return nil, submit.ErrEmptySubmission
	}
	d.submitting = true
	d.errMsg = ""
	form := d.form
	d.mu.Unlock()
	d.notify()

	res, err := d.submitter.Submit(ctx, submit.Request{
		Name:  form.Name,
		Email: form.Email,
		Phone: form.Phone,
		Clip:  clip,
	})

	d.mu.Lock()
	d.submitting = false
	if err != nil {
		d.errMsg = messageFor(err)
		d.mu.Unlock()
		slog.Warn("voice message not submitted", "error", err)
		d.notify()
		if d.onFailure != nil {
			d.onFailure(form, err)
		}
		return nil, err
	}
	view := PresentResult(res)
	d.view = ViewResult
	d.result = view
	d.mu.Unlock()
	d.notify()

	if d.onTicket != nil {
		ticket := Ticket{Result: *res, Form: form, Clip: clip, SubmittedAt: d.now()}
		d.onTicket(ticket)
	}
	return view, nil
}

// Back leaves the result view for a fresh form and resets the session.
func (d *Desk) Back() {
	d.session.Reset()

	d.mu.Lock()
	d.view = ViewForm
	d.result = nil
	d.errMsg = ""
	d.form = d.defaults
	d.mu.Unlock()
	d.notify()
}

// SetDefaults changes the identity used for the next fresh form.
func (d *Desk) SetDefaults(form Form) {
	d.mu.Lock()
	d.defaults = withFallbacks(form)
	d.mu.Unlock()
}

func withFallbacks(form Form) Form {
	if form.Name == "" {
		form.Name = DefaultName
	}
	if form.Email == "" {
		form.Email = DefaultEmail
	}
	return form
}

// Status returns the presentation state.
func (d *Desk) Status() Status {
	snap := d.session.Snapshot()

	d.mu.RLock()
	defer d.mu.RUnlock()
	st := Status{
		View:       d.view,
		Session:    snap,
		Form:       d.form,
		Submitting: d.submitting,
		CanSubmit:  snap.ClipAvailable && !d.submitting,
		Error:      d.errMsg,
	}
	if d.result != nil {
		result := *d.result
		st.Result = &result
	}
	return st
}

// Clip returns the current clip for a playback handle.
func (d *Desk) Clip(handle string) (*encoder.Clip, bool) {
	return d.session.Clip(handle)
}

// Close tears the session down.
func (d *Desk) Close() {
	d.session.Close()
}

func (d *Desk) setError(msg string) {
	d.mu.Lock()
	d.errMsg = msg
	d.mu.Unlock()
	d.notify()
}

func (d *Desk) notify() {
	if d.onChange != nil {
		d.onChange()
	}
}

// PresentResult fills in the fallbacks for anything the service left out.
func PresentResult(res *submit.Result) *ResultView {
	view := &ResultView{
		TicketID:    res.TicketID,
		Subject:     res.Subject,
		Description: res.Description,
		Solution:    res.Solution,
	}
	if view.Subject == "" {
		view.Subject = FallbackSubject
	}
	if view.Description == "" {
		view.Description = FallbackDescription
	}
	if view.Solution == "" {
		view.Solution = FallbackSolution
	}
	return view
}

// messageFor turns an error into the text shown to the caller.
func messageFor(err error) string {
	var failed *submit.FailedError
	switch {
	case errors.As(err, &failed):
		return failed.Reason
	case errors.Is(err, submit.ErrEmptySubmission):
		return MsgRecordFirst
	case err.Error() == "":
		return MsgUnknownError
	default:
		return err.Error()
	}
}
