package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-voicedesk/internal/audio"
	"github.com/oszuidwest/zwfm-voicedesk/internal/config"
	"github.com/oszuidwest/zwfm-voicedesk/internal/encoder"
	"github.com/oszuidwest/zwfm-voicedesk/internal/eventlog"
	"github.com/oszuidwest/zwfm-voicedesk/internal/recording"
	"github.com/oszuidwest/zwfm-voicedesk/internal/server"
	"github.com/oszuidwest/zwfm-voicedesk/internal/submit"
	"github.com/oszuidwest/zwfm-voicedesk/internal/support"
)

type fakeDesk struct {
	mu        sync.Mutex
	status    support.Status
	startErr  error
	stopErr   error
	submitErr error
	clips     map[string]*encoder.Clip
}

func (d *fakeDesk) StartRecording(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.startErr != nil {
		return d.startErr
	}
	d.status.Session.State = recording.StateRecording
	return nil
}

func (d *fakeDesk) StopRecording() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopErr != nil {
		d.status.Session = recording.Snapshot{State: recording.StateIdle, Error: d.stopErr.Error()}
		return d.stopErr
	}
	d.status.Session.State = recording.StateStopped
	return nil
}

func (d *fakeDesk) ResetRecording() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status.Session = recording.Snapshot{State: recording.StateIdle}
}

func (d *fakeDesk) UpdateForm(form support.Form) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status.Form = form
}

func (d *fakeDesk) SetDefaults(support.Form) {}

func (d *fakeDesk) Submit(context.Context) (*support.ResultView, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.submitErr != nil {
		return nil, d.submitErr
	}
	d.status.View = support.ViewResult
	d.status.Result = &support.ResultView{TicketID: "T-42", Subject: "No audio"}
	return d.status.Result, nil
}

func (d *fakeDesk) Back() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status.View = support.ViewForm
	d.status.Result = nil
}

func (d *fakeDesk) Status() support.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

func (d *fakeDesk) Clip(handle string) (*encoder.Clip, bool) {
	clip, ok := d.clips[handle]
	return clip, ok
}

type nopNotifier struct{}

func (nopNotifier) TestWebhook(context.Context) error { return nil }
func (nopNotifier) TestEmail(context.Context) error   { return nil }
func (nopNotifier) InvalidateGraphClient()            {}

func newTestServer(t *testing.T, desk *fakeDesk, eventsPath string) *Server {
	t.Helper()
	cfg := config.New(filepath.Join(t.TempDir(), "config.json"))
	srv := NewServer(ServerOptions{
		Config:     cfg,
		Desk:       desk,
		Hub:        server.NewHub(),
		Notifier:   nopNotifier{},
		Version:    newVersionChecker(""),
		Devices:    func() []audio.Device { return []audio.Device{{ID: "hw:0", Name: "USB Microphone"}} },
		EventsPath: eventsPath,
	})
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != "" {
		reader = strings.NewReader(body)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, reader))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestAPIStatus(t *testing.T) {
	desk := &fakeDesk{status: support.Status{View: support.ViewForm}}
	h := newTestServer(t, desk, "").SetupRoutes()

	rec := do(t, h, http.MethodGet, "/api/status", "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "status", body["type"])
	assert.Equal(t, "form", body["desk"].(map[string]any)["view"])
	settings := body["settings"].(map[string]any)
	assert.Equal(t, config.DefaultDeskName, settings["desk_name"])
	assert.EqualValues(t, config.DefaultMaxDurationSeconds, settings["max_duration_seconds"])
	assert.Equal(t, false, body["delivery"].(map[string]any)["submission"])
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestAPISessionLifecycle(t *testing.T) {
	desk := &fakeDesk{}
	h := newTestServer(t, desk, "").SetupRoutes()

	rec := do(t, h, http.MethodPost, "/api/session/start", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "recording", decode(t, rec)["state"])

	rec = do(t, h, http.MethodPost, "/api/session/stop", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "stopped", decode(t, rec)["state"])

	rec = do(t, h, http.MethodPost, "/api/session/reset", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "idle", decode(t, rec)["state"])

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, "/api/session/pause", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodGet, "/api/session/start", "").Code)
}

func TestAPISessionStartDeviceUnavailable(t *testing.T) {
	desk := &fakeDesk{startErr: recording.ErrDeviceUnavailable}
	desk.status.Error = support.MsgMicrophoneUnavailable
	h := newTestServer(t, desk, "").SetupRoutes()

	rec := do(t, h, http.MethodPost, "/api/session/start", "")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, support.MsgMicrophoneUnavailable, decode(t, rec)["error"])
}

func TestAPIForm(t *testing.T) {
	desk := &fakeDesk{}
	h := newTestServer(t, desk, "").SetupRoutes()

	rec := do(t, h, http.MethodPost, "/api/form", `{"name":"Jan","email":"jan@example.org","phone":"0612"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, support.Form{Name: "Jan", Email: "jan@example.org", Phone: "0612"}, desk.Status().Form)

	rec = do(t, h, http.MethodPost, "/api/form", `{"email":"not-an-address"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"field":"email"`)

	rec = do(t, h, http.MethodPost, "/api/form", `{"name":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "Invalid JSON")
}

func TestAPISubmit(t *testing.T) {
	desk := &fakeDesk{}
	h := newTestServer(t, desk, "").SetupRoutes()

	rec := do(t, h, http.MethodPost, "/api/submit", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "T-42", decode(t, rec)["ticket_id"])

	rec = do(t, h, http.MethodPost, "/api/back", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "form", decode(t, rec)["view"])
}

func TestAPISubmitErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		deskMsg  string
		wantCode int
		wantMsg  string
	}{
		{"nothing recorded", submit.ErrEmptySubmission, support.MsgRecordFirst, http.StatusBadRequest, support.MsgRecordFirst},
		{"rejected", &submit.FailedError{Reason: "Ticket queue full"}, "Ticket queue full", http.StatusBadGateway, "Ticket queue full"},
		{"in progress", support.ErrSubmitInProgress, "", http.StatusConflict, support.ErrSubmitInProgress.Error()},
		{"transport", &submit.TransportError{Err: errors.New("connection refused")}, "", http.StatusBadGateway, "failed to reach support service: connection refused"},
		{"local", errors.New("clip spool unreadable"), "", http.StatusInternalServerError, "clip spool unreadable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desk := &fakeDesk{submitErr: tt.err}
			desk.status.Error = tt.deskMsg
			h := newTestServer(t, desk, "").SetupRoutes()

			rec := do(t, h, http.MethodPost, "/api/submit", "")

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantMsg, decode(t, rec)["error"])
		})
	}
}

func TestAPIStopWithoutAudioIsUnprocessable(t *testing.T) {
	desk := &fakeDesk{stopErr: encoder.ErrEmptyClip}
	h := newTestServer(t, desk, "").SetupRoutes()

	rec := do(t, h, http.MethodPost, "/api/session/stop", "")

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, encoder.ErrEmptyClip.Error(), decode(t, rec)["error"])
}

func TestAPIDevices(t *testing.T) {
	h := newTestServer(t, &fakeDesk{}, "").SetupRoutes()

	rec := do(t, h, http.MethodGet, "/api/devices", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"devices":[{"id":"hw:0","name":"USB Microphone"}]}`, rec.Body.String())
}

func TestAPIEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voicedesk.jsonl")
	logger, err := eventlog.NewLogger(path, eventlog.Options{MaxSizeMB: 1})
	require.NoError(t, err)
	require.NoError(t, logger.LogSession(eventlog.RecordingStarted, &eventlog.SessionDetails{}))
	require.NoError(t, logger.LogTicket(eventlog.TicketCreated, &eventlog.TicketDetails{TicketID: "T-1"}))
	require.NoError(t, logger.LogTicket(eventlog.TicketCreated, &eventlog.TicketDetails{TicketID: "T-2"}))
	require.NoError(t, logger.Close())
	h := newTestServer(t, &fakeDesk{}, path).SetupRoutes()

	rec := do(t, h, http.MethodGet, "/api/events?filter=ticket&limit=1", "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	events := body["events"].([]any)
	require.Len(t, events, 1)
	assert.Equal(t, "T-2", events[0].(map[string]any)["details"].(map[string]any)["ticket_id"])
	assert.Equal(t, true, body["has_more"])

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/events?filter=bogus", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/events?limit=x", "").Code)
}

func TestAPIEventsNotConfigured(t *testing.T) {
	h := newTestServer(t, &fakeDesk{}, "").SetupRoutes()

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/events", "").Code)
}

func TestClipPlayback(t *testing.T) {
	data := []byte("RIFF....WAVEfmt ")
	desk := &fakeDesk{clips: map[string]*encoder.Clip{
		"h1": encoder.NewClip(data, "audio/wav", "wav", time.Unix(1700000000, 0), 3*time.Second),
	}}
	h := newTestServer(t, desk, "").SetupRoutes()

	rec := do(t, h, http.MethodGet, "/clip/h1", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "audio/wav", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Equal(t, data, rec.Body.Bytes())

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/clip/revoked", "").Code)
}

func TestIndexAndFavicon(t *testing.T) {
	h := newTestServer(t, &fakeDesk{}, "").SetupRoutes()

	rec := do(t, h, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<title>"+config.DefaultDeskName+"</title>")
	assert.Contains(t, rec.Body.String(), "--brand:"+config.DefaultColorLight)

	rec = do(t, h, http.MethodGet, "/favicon.svg", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/svg+xml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), config.DefaultColorLight)

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/app.js", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/missing.js", "").Code)
}

func TestWebSocketSessionStart(t *testing.T) {
	desk := &fakeDesk{}
	srv := newTestServer(t, desk, "")
	ts := httptest.NewServer(srv.SetupRoutes())
	t.Cleanup(ts.Close)

	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	_ = resp.Body.Close() //nolint:errcheck // Test cleanup
	t.Cleanup(func() { _ = conn.Close() })

	var first map[string]any
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "status", first["type"])

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "session/start"}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var msg map[string]any
		require.NoError(t, conn.ReadJSON(&msg))
		if msg["type"] == "session/start_result" {
			assert.Equal(t, true, msg["success"])
			break
		}
	}
	assert.Equal(t, recording.StateRecording, desk.Status().Session.State)
}
