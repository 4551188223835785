package followup

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-voicedesk/internal/encoder"
	"github.com/oszuidwest/zwfm-voicedesk/internal/eventlog"
	"github.com/oszuidwest/zwfm-voicedesk/internal/notify"
	"github.com/oszuidwest/zwfm-voicedesk/internal/recording"
	"github.com/oszuidwest/zwfm-voicedesk/internal/submit"
	"github.com/oszuidwest/zwfm-voicedesk/internal/support"
)

type fakeArchiver struct {
	key string
	err error
}

func (f *fakeArchiver) Store(_ context.Context, ticketID string, _ *encoder.Clip) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.key + ticketID, nil
}

type fakeNotifier struct {
	got  *notify.TicketNotice
	errs map[string]error
}

func (f *fakeNotifier) NotifyTicket(_ context.Context, t *notify.TicketNotice) []notify.Delivery {
	f.got = t
	return []notify.Delivery{
		{Channel: notify.ChannelWebhook, Err: f.errs[notify.ChannelWebhook]},
		{Channel: notify.ChannelEmail, Err: f.errs[notify.ChannelEmail]},
	}
}

func newEvents(t *testing.T) *eventlog.Logger {
	t.Helper()
	events, err := eventlog.NewLogger(filepath.Join(t.TempDir(), "events.jsonl"), eventlog.Options{MaxSizeMB: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = events.Close() })
	return events
}

func readEvents(t *testing.T, events *eventlog.Logger) []eventlog.Event {
	t.Helper()
	got, _, err := eventlog.ReadLast(events.Path(), 50, 0, eventlog.FilterAll)
	require.NoError(t, err)
	return got
}

func eventTypes(events []eventlog.Event) []eventlog.EventType {
	out := make([]eventlog.EventType, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func testTicket() support.Ticket {
	return support.Ticket{
		Result:      submit.Result{TicketID: "T-7"},
		Form:        support.Form{Name: "Jan", Email: "jan@example.org"},
		Clip:        encoder.NewClip([]byte("audio"), "audio/webm", "webm", time.Unix(0, 0), 4*time.Second),
		SubmittedAt: time.Unix(100, 0),
	}
}

func TestTicketArchivesThenNotifies(t *testing.T) {
	events := newEvents(t)
	notifier := &fakeNotifier{errs: map[string]error{notify.ChannelEmail: errors.New("mailbox not found")}}
	d := New(Options{
		Archiver: &fakeArchiver{key: "voice-requests/"},
		Notifier: notifier,
		Events:   events,
	})

	d.Ticket(testTicket())
	d.Close()

	require.NotNil(t, notifier.got)
	assert.Equal(t, "voice-requests/T-7", notifier.got.ArchiveKey)
	assert.Equal(t, support.FallbackSubject, notifier.got.Subject)
	assert.Equal(t, "recording.webm", notifier.got.Clip.Filename)
	assert.Equal(t, []byte("audio"), notifier.got.Clip.Data)
	assert.Equal(t, 4*time.Second, notifier.got.ClipDuration)

	// Newest first.
	assert.Equal(t, []eventlog.EventType{
		eventlog.NotifyFailed,
		eventlog.NotifySent,
		eventlog.ArchiveUploaded,
		eventlog.TicketCreated,
	}, eventTypes(readEvents(t, events)))
}

func TestTicketArchiveFailureStillNotifies(t *testing.T) {
	events := newEvents(t)
	notifier := &fakeNotifier{}
	d := New(Options{
		Archiver: &fakeArchiver{err: errors.New("bucket gone")},
		Notifier: notifier,
		Events:   events,
	})

	d.Ticket(testTicket())
	d.Close()

	require.NotNil(t, notifier.got)
	assert.Empty(t, notifier.got.ArchiveKey)
	got := readEvents(t, events)
	require.Len(t, got, 4)
	assert.Equal(t, eventlog.ArchiveFailed, got[2].Type)
}

func TestTicketWithoutCollaborators(t *testing.T) {
	d := New(Options{})
	assert.NotPanics(t, func() {
		d.Ticket(testTicket())
		d.Close()
	})
}

// blockingArchiver holds Store until release is closed, honouring ctx.
type blockingArchiver struct {
	started chan struct{}
	release chan struct{}
	err     chan error
}

func (b *blockingArchiver) Store(ctx context.Context, ticketID string, _ *encoder.Clip) (string, error) {
	close(b.started)
	var err error
	select {
	case <-b.release:
	case <-ctx.Done():
		err = ctx.Err()
	}
	b.err <- err
	return "voice-requests/" + ticketID, err
}

func TestCloseWaitsForRunningUpload(t *testing.T) {
	archiver := &blockingArchiver{
		started: make(chan struct{}),
		release: make(chan struct{}),
		err:     make(chan error, 1),
	}
	notifier := &fakeNotifier{}
	d := New(Options{Archiver: archiver, Notifier: notifier})

	d.Ticket(testTicket())
	<-archiver.started

	closed := make(chan struct{})
	go func() {
		d.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned while the upload was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(archiver.release)
	<-closed
	require.NoError(t, <-archiver.err)
	require.NotNil(t, notifier.got)
	assert.Equal(t, "voice-requests/T-7", notifier.got.ArchiveKey)
}

func TestCloseCancelsAfterDrainTimeout(t *testing.T) {
	archiver := &blockingArchiver{
		started: make(chan struct{}),
		release: make(chan struct{}),
		err:     make(chan error, 1),
	}
	d := New(Options{Archiver: archiver, DrainTimeout: 20 * time.Millisecond})

	d.Ticket(testTicket())
	<-archiver.started
	d.Close()

	require.ErrorIs(t, <-archiver.err, context.Canceled)
}

func TestTicketAfterCloseIsSkipped(t *testing.T) {
	archiver := &blockingArchiver{
		started: make(chan struct{}),
		release: make(chan struct{}),
		err:     make(chan error, 1),
	}
	d := New(Options{Archiver: archiver})
	d.Close()

	d.Ticket(testTicket())

	select {
	case <-archiver.started:
		t.Fatal("follow-up ran after Close")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestFailureIsLogged(t *testing.T) {
	events := newEvents(t)
	d := New(Options{Events: events})
	defer d.Close()

	d.Failure(support.Form{Name: "Jan"}, errors.New("queue full"))

	got := readEvents(t, events)
	require.Len(t, got, 1)
	assert.Equal(t, eventlog.SubmissionFailed, got[0].Type)
	details, ok := got[0].Details.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "queue full", details["error"])
}

func TestSessionLogRecordsTransitions(t *testing.T) {
	events := newEvents(t)
	l := NewSessionLog(events)

	l.Observe(recording.Snapshot{State: recording.StateIdle})
	l.Observe(recording.Snapshot{State: recording.StateRecording})
	l.Observe(recording.Snapshot{State: recording.StateRecording, ElapsedSeconds: 1})
	l.Observe(recording.Snapshot{
		State:          recording.StateStopped,
		ElapsedSeconds: 2,
		Clip:           &encoder.Info{MimeType: "audio/webm", SizeBytes: 900},
	})
	l.Observe(recording.Snapshot{State: recording.StateIdle})
	l.Observe(recording.Snapshot{State: recording.StateRecording})
	l.Observe(recording.Snapshot{State: recording.StateIdle, Error: "encoder failed"})

	got := readEvents(t, events)
	assert.Equal(t, []eventlog.EventType{
		eventlog.RecordingFailed,
		eventlog.RecordingStarted,
		eventlog.RecordingReset,
		eventlog.RecordingStopped,
		eventlog.RecordingStarted,
	}, eventTypes(got))

	stopped, ok := got[3].Details.(map[string]any)
	require.True(t, ok)
	assert.InDelta(t, 900, stopped["clip_bytes"], 0)
	assert.Equal(t, "audio/webm", stopped["mime_type"])
}
