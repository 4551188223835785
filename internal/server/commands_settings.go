package server

import (
	"log/slog"

	"github.com/oszuidwest/zwfm-voicedesk/internal/eventlog"
	"github.com/oszuidwest/zwfm-voicedesk/internal/support"
)

// defaultEventsLimit is used when events/get does not name a limit.
const defaultEventsLimit = 50

// --- Audio handlers ---

// handleAudioUpdate processes an audio/update command. The new input is
// used from the next recording on.
func (h *CommandHandler) handleAudioUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(cmd, send, func(req *AudioUpdateRequest) error {
		if req.Input == "" {
			return nil // No change requested
		}

		slog.Info("audio/update: changing audio input", "input", req.Input)
		return h.cfg.SetAudioInput(req.Input)
	})
}

// handleAudioGet sends the selected input and the available devices.
func (h *CommandHandler) handleAudioGet(send chan<- any) {
	SendSuccess(send, "audio/get", map[string]any{
		"input":   h.cfg.AudioInput(),
		"devices": h.devices(),
	})
}

// --- Desk settings ---

// handleDeskDefaults processes a desk/defaults command.
func (h *CommandHandler) handleDeskDefaults(cmd WSCommand, send chan<- any) {
	HandleCommand(cmd, send, func(req *DeskDefaultsRequest) error {
		if err := h.cfg.SetDeskDefaults(req.Name, req.Email, req.Phone); err != nil {
			return err
		}
		h.desk.SetDefaults(support.Form{Name: req.Name, Email: req.Email, Phone: req.Phone})
		return nil
	})
}

// --- Event log ---

// handleEventsGet reads a page of the event log, newest first.
func (h *CommandHandler) handleEventsGet(cmd WSCommand, send chan<- any) {
	var req EventsRequest
	if len(cmd.Data) > 0 && !DecodeAndValidate(cmd, send, &req) {
		return
	}
	if req.Limit == 0 {
		req.Limit = defaultEventsLimit
	}

	HandleActionAsync(cmd, send, func() (any, error) {
		events, hasMore, err := eventlog.ReadLast(h.eventsPath, req.Limit, req.Offset, eventlog.TypeFilter(req.Filter))
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"events":   events,
			"has_more": hasMore,
		}, nil
	})
}
