package support

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/oszuidwest/zwfm-voicedesk/internal/audio"
	"github.com/oszuidwest/zwfm-voicedesk/internal/encoder"
	"github.com/oszuidwest/zwfm-voicedesk/internal/recording"
	"github.com/oszuidwest/zwfm-voicedesk/internal/schedule"
	"github.com/oszuidwest/zwfm-voicedesk/internal/submit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testFormat = audio.Format{SampleRate: 8000, Channels: 1}

type pipeStream struct {
	*io.PipeReader
	w *io.PipeWriter
}

func (p *pipeStream) Format() audio.Format { return testFormat }

type pipeAcquirer struct {
	mu     sync.Mutex
	err    error
	stream *pipeStream
}

func (a *pipeAcquirer) Acquire(context.Context) (audio.Stream, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return nil, a.err
	}
	r, w := io.Pipe()
	a.stream = &pipeStream{PipeReader: r, w: w}
	return a.stream, nil
}

func (a *pipeAcquirer) feed(t *testing.T, samples int) {
	t.Helper()
	pcm := make([]byte, samples*audio.BytesPerSample)
	for i := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16((i%40-20)*500)))
	}
	a.mu.Lock()
	w := a.stream.w
	a.mu.Unlock()
	_, err := w.Write(pcm)
	require.NoError(t, err)
}

type deskHarness struct {
	desk     *Desk
	session  *recording.Session
	clock    *schedule.Manual
	acquirer *pipeAcquirer
	tickets  chan Ticket
	failures chan error
}

func newDeskHarness(t *testing.T, endpoint string) *deskHarness {
	t.Helper()
	h := &deskHarness{
		clock:    schedule.NewManual(time.Unix(1700000000, 0)),
		acquirer: &pipeAcquirer{},
		tickets:  make(chan Ticket, 1),
		failures: make(chan error, 4),
	}
	h.session = recording.NewSession(recording.Options{
		Acquirer: h.acquirer,
		Encoders: encoder.NewFactory(encoder.CodecWAV, "", t.TempDir(), h.clock.Now),
		Clock:    h.clock,
	})
	h.desk = NewDesk(Options{
		Session:   h.session,
		Submitter: submit.NewClient(endpoint, 5*time.Second),
		Defaults:  Form{Phone: "0850000000"},
		OnTicket:  func(tk Ticket) { h.tickets <- tk },
		OnFailure: func(_ Form, err error) { h.failures <- err },
		Now:       h.clock.Now,
	})
	t.Cleanup(h.desk.Close)
	return h
}

// record starts, lets three elapsed ticks pass with audio flowing, then stops.
func (h *deskHarness) record(t *testing.T) {
	t.Helper()
	require.NoError(t, h.desk.StartRecording(t.Context()))
	h.acquirer.feed(t, 2000)
	for want := 1; want <= 3; want++ {
		h.clock.Advance(time.Second)
		require.Eventually(t, func() bool {
			return h.desk.Status().Session.ElapsedSeconds == want
		}, time.Second, time.Millisecond)
	}
	require.NoError(t, h.desk.StopRecording())
}

func intakeServer(t *testing.T, status int, body map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if _, _, err := r.FormFile("audioFile"); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body) //nolint:errcheck // Test server
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDeskSubmitSuccessShowsResult(t *testing.T) {
	srv := intakeServer(t, http.StatusOK, map[string]any{
		"success":     true,
		"ticketId":    "T-2001",
		"requestData": map[string]string{"subject": "No audio on FM"},
	})
	h := newDeskHarness(t, srv.URL)

	h.record(t)
	st := h.desk.Status()
	require.True(t, st.CanSubmit)
	assert.Equal(t, "00:03", st.Session.Elapsed)

	view, err := h.desk.Submit(t.Context())
	require.NoError(t, err)

	assert.Equal(t, &ResultView{
		TicketID:    "T-2001",
		Subject:     "No audio on FM",
		Description: FallbackDescription,
		Solution:    FallbackSolution,
	}, view)

	st = h.desk.Status()
	assert.Equal(t, ViewResult, st.View)
	require.NotNil(t, st.Result)
	assert.Equal(t, "T-2001", st.Result.TicketID)
	assert.Empty(t, st.Error)
	assert.False(t, st.Submitting)

	// The ticket is handed over before Submit returns.
	require.Len(t, h.tickets, 1)
	tk := <-h.tickets
	assert.Equal(t, "T-2001", tk.Result.TicketID)
	assert.Equal(t, "audio/wav", tk.Clip.MimeType())
	assert.Equal(t, Form{Name: DefaultName, Email: DefaultEmail, Phone: "0850000000"}, tk.Form)
}

func TestDeskSubmitFailureKeepsForm(t *testing.T) {
	srv := intakeServer(t, http.StatusOK, map[string]any{"success": false, "error": "Ticket queue full"})
	h := newDeskHarness(t, srv.URL)
	h.record(t)

	_, err := h.desk.Submit(t.Context())

	var failed *submit.FailedError
	require.ErrorAs(t, err, &failed)
	st := h.desk.Status()
	assert.Equal(t, ViewForm, st.View)
	assert.Equal(t, "Ticket queue full", st.Error)
	assert.Nil(t, st.Result)
	assert.True(t, st.Session.ClipAvailable, "clip is kept for resubmission")
	assert.True(t, st.CanSubmit)
	assert.Empty(t, h.tickets)
	require.Len(t, h.failures, 1)
	assert.ErrorAs(t, <-h.failures, &failed)
}

func TestDeskSubmitWithoutRecording(t *testing.T) {
	srv := intakeServer(t, http.StatusOK, map[string]any{"success": true, "ticketId": "never"})
	h := newDeskHarness(t, srv.URL)

	_, err := h.desk.Submit(t.Context())

	require.ErrorIs(t, err, submit.ErrEmptySubmission)
	st := h.desk.Status()
	assert.Equal(t, MsgRecordFirst, st.Error)
	assert.Equal(t, recording.StateIdle, st.Session.State)
	assert.Equal(t, ViewForm, st.View)
	assert.Empty(t, h.failures, "nothing was sent")
}

func TestDeskMicrophoneUnavailable(t *testing.T) {
	h := newDeskHarness(t, "http://127.0.0.1:0")
	h.acquirer.err = errors.New("device busy")

	err := h.desk.StartRecording(t.Context())

	require.ErrorIs(t, err, recording.ErrDeviceUnavailable)
	st := h.desk.Status()
	assert.Equal(t, MsgMicrophoneUnavailable, st.Error)
	assert.Equal(t, recording.StateIdle, st.Session.State)

	h.acquirer.err = nil
	require.NoError(t, h.desk.StartRecording(t.Context()))
	assert.Empty(t, h.desk.Status().Error, "a new start clears the error")
}

func TestDeskBackReturnsToFreshForm(t *testing.T) {
	srv := intakeServer(t, http.StatusOK, map[string]any{"success": true, "ticketId": "T-9"})
	h := newDeskHarness(t, srv.URL)
	h.desk.UpdateForm(Form{Name: "Jan", Email: "jan@example.org", Phone: "06"})
	h.record(t)
	_, err := h.desk.Submit(t.Context())
	require.NoError(t, err)

	h.desk.Back()

	st := h.desk.Status()
	assert.Equal(t, ViewForm, st.View)
	assert.Nil(t, st.Result)
	assert.Equal(t, recording.StateIdle, st.Session.State)
	assert.False(t, st.Session.ClipAvailable)
	assert.Equal(t, DefaultName, st.Form.Name)
}

func TestDeskResetClearsError(t *testing.T) {
	h := newDeskHarness(t, "http://127.0.0.1:0")
	_, err := h.desk.Submit(t.Context())
	require.Error(t, err)

	h.desk.ResetRecording()

	assert.Empty(t, h.desk.Status().Error)
}

func TestPresentResultKeepsProvidedFields(t *testing.T) {
	view := PresentResult(&submit.Result{TicketID: "1", Subject: "s", Description: "d", Solution: "x"})
	assert.Equal(t, &ResultView{TicketID: "1", Subject: "s", Description: "d", Solution: "x"}, view)
}

func TestMessageFor(t *testing.T) {
	assert.Equal(t, "quota", messageFor(&submit.FailedError{Reason: "quota"}))
	assert.Equal(t, MsgRecordFirst, messageFor(submit.ErrEmptySubmission))
	assert.Equal(t, MsgUnknownError, messageFor(errors.New("")))
	assert.Equal(t, "boom", messageFor(errors.New("boom")))
}

func TestDeskSetDefaultsAppliesToNextForm(t *testing.T) {
	h := newDeskHarness(t, "http://127.0.0.1:0")

	h.desk.SetDefaults(Form{Name: "Front Desk", Phone: "0101"})
	assert.Equal(t, DefaultName, h.desk.Status().Form.Name, "current form is untouched")

	h.desk.Back()

	assert.Equal(t, Form{Name: "Front Desk", Email: DefaultEmail, Phone: "0101"}, h.desk.Status().Form)
}
