package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/oszuidwest/zwfm-voicedesk/internal/encoder"
	"github.com/oszuidwest/zwfm-voicedesk/internal/eventlog"
	"github.com/oszuidwest/zwfm-voicedesk/internal/recording"
	"github.com/oszuidwest/zwfm-voicedesk/internal/server"
	"github.com/oszuidwest/zwfm-voicedesk/internal/submit"
	"github.com/oszuidwest/zwfm-voicedesk/internal/support"
)

// defaultEventsLimit is the page size for GET /api/events without a limit.
const defaultEventsLimit = 50

// API response helpers

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) readJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// parseJSON reads and parses JSON from request body.
// Returns parsed value and true on success, zero value and false on failure.
func parseJSON[T any](s *Server, w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	if err := s.readJSON(r, &v); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return v, false
	}
	return v, true
}

// statusCodeFor maps desk errors to HTTP status codes. Only failures of the
// support service itself are reported as a bad gateway.
func statusCodeFor(err error) int {
	var failed *submit.FailedError
	var transport *submit.TransportError
	switch {
	case errors.Is(err, submit.ErrEmptySubmission), errors.Is(err, submit.ErrInvalidIdentity):
		return http.StatusBadRequest
	case errors.Is(err, support.ErrSubmitInProgress), errors.Is(err, recording.ErrAcquisitionSuperseded):
		return http.StatusConflict
	case errors.Is(err, recording.ErrDeviceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, encoder.ErrEmptyClip):
		return http.StatusUnprocessableEntity
	case errors.As(err, &failed), errors.As(err, &transport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeDeskError reports a failed desk action with the message the page shows.
func (s *Server) writeDeskError(w http.ResponseWriter, err error) {
	msg := s.desk.Status().Error
	if msg == "" {
		msg = err.Error()
	}
	s.writeError(w, statusCodeFor(err), msg)
}

// handleAPIStatus returns the same status document pushed over WebSocket.
// GET /api/status
func (s *Server) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, s.buildWSStatus())
}

// handleAPISession drives the recorder.
// POST /api/session/{start,stop,reset}
func (s *Server) handleAPISession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var err error
	switch action := r.PathValue("action"); action {
	case "start":
		err = s.desk.StartRecording(r.Context())
	case "stop":
		err = s.desk.StopRecording()
	case "reset":
		s.desk.ResetRecording()
	default:
		s.writeError(w, http.StatusNotFound, "Unknown session action: "+action)
		return
	}
	if err != nil {
		s.writeDeskError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, s.desk.Status().Session)
}

// handleAPIForm replaces the identity form.
// POST /api/form
func (s *Server) handleAPIForm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	req, ok := parseJSON[server.FormUpdateRequest](s, w, r)
	if !ok {
		return
	}
	if verr := server.Validate(&req); verr != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{"error": verr})
		return
	}

	s.desk.UpdateForm(support.Form{Name: req.Name, Email: req.Email, Phone: req.Phone})
	s.writeJSON(w, http.StatusOK, s.desk.Status().Form)
}

// handleAPISubmit sends the recording and form to the support intake.
// POST /api/submit
func (s *Server) handleAPISubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	view, err := s.desk.Submit(r.Context())
	if err != nil {
		s.writeDeskError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

// handleAPIBack leaves the result view for a fresh form.
// POST /api/back
func (s *Server) handleAPIBack(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.desk.Back()
	s.writeJSON(w, http.StatusOK, s.desk.Status())
}

// handleAPIDevices returns available audio devices.
// GET /api/devices
func (s *Server) handleAPIDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"devices": s.devices(),
	})
}

// handleAPIEvents returns a page of the event log, newest first.
// GET /api/events?limit=50&offset=0&filter=ticket
func (s *Server) handleAPIEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	q := r.URL.Query()
	req := server.EventsRequest{Filter: q.Get("filter")}
	var err error
	if v := q.Get("limit"); v != "" {
		if req.Limit, err = strconv.Atoi(v); err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
	}
	if v := q.Get("offset"); v != "" {
		if req.Offset, err = strconv.Atoi(v); err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid offset")
			return
		}
	}
	if verr := server.Validate(&req); verr != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{"error": verr})
		return
	}

	if s.eventsPath == "" {
		s.writeError(w, http.StatusNotFound, "Event log not configured")
		return
	}

	limit := req.Limit
	if limit == 0 {
		limit = defaultEventsLimit
	}
	events, hasMore, err := eventlog.ReadLast(s.eventsPath, limit, req.Offset, eventlog.TypeFilter(req.Filter))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"events":   events,
		"has_more": hasMore,
	})
}

// handleClip serves the finished recording for playback. A handle stops
// resolving once the recording is reset or replaced.
// GET /clip/{handle}
func (s *Server) handleClip(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	clip, ok := s.desk.Clip(r.PathValue("handle"))
	if !ok {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", clip.MimeType())
	w.Header().Set("Cache-Control", "no-store")
	http.ServeContent(w, r, clip.Filename(), clip.CreatedAt(), clip.Reader())
}
