package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/oszuidwest/zwfm-voicedesk/internal/audio"
	"github.com/oszuidwest/zwfm-voicedesk/internal/config"
	"github.com/oszuidwest/zwfm-voicedesk/internal/notify"
	"github.com/oszuidwest/zwfm-voicedesk/internal/support"
)

// WSCommand is a command received from a WebSocket client.
type WSCommand struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Desk is the presentation model driven by desk commands.
type Desk interface {
	StartRecording(ctx context.Context) error
	StopRecording() error
	ResetRecording()
	UpdateForm(form support.Form)
	SetDefaults(form support.Form)
	Submit(ctx context.Context) (*support.ResultView, error)
	Back()
	Status() support.Status
}

// Notifier sends test notifications.
type Notifier interface {
	TestWebhook(ctx context.Context) error
	TestEmail(ctx context.Context) error
	InvalidateGraphClient()
}

// ArchiveTester verifies the S3 archive.
type ArchiveTester interface {
	TestConnection(ctx context.Context) error
}

// Options configures a CommandHandler. Archive and Expiry may be nil.
type Options struct {
	Config     *config.Config
	Desk       Desk
	Notifier   Notifier
	Archive    ArchiveTester
	Expiry     *notify.SecretExpiryChecker
	Devices    func() []audio.Device
	EventsPath string
}

// CommandHandler processes WebSocket commands.
type CommandHandler struct {
	cfg        *config.Config
	desk       Desk
	notifier   Notifier
	archive    ArchiveTester
	expiry     *notify.SecretExpiryChecker
	devices    func() []audio.Device
	eventsPath string

	// ctx bounds asynchronous work; it is cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc
}

// NewCommandHandler creates a new command handler.
func NewCommandHandler(opts Options) *CommandHandler {
	devices := opts.Devices
	if devices == nil {
		devices = audio.Devices
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &CommandHandler{
		cfg:        opts.Config,
		desk:       opts.Desk,
		notifier:   opts.Notifier,
		archive:    opts.Archive,
		expiry:     opts.Expiry,
		devices:    devices,
		eventsPath: opts.EventsPath,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Close cancels in-flight asynchronous commands.
func (h *CommandHandler) Close() {
	h.cancel()
}

// Handle processes a WebSocket command and performs the requested action.
// Commands use slash-style format: namespace/action (e.g., "session/start", "form/update")
func (h *CommandHandler) Handle(cmd WSCommand, send chan<- any, triggerStatusUpdate func()) {
	parts := strings.SplitN(cmd.Type, "/", 3)
	namespace := parts[0]
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}
	subaction := ""
	if len(parts) > 2 {
		subaction = parts[2]
	}

	switch namespace {
	case "session":
		h.handleSession(action, cmd, send)
	case "form":
		h.handleForm(action, cmd, send)
	case "desk":
		h.handleDesk(action, cmd, send)
	case "view":
		h.handleView(action, send)
	case "audio":
		h.handleAudio(action, cmd, send)
	case "notifications":
		h.handleNotifications(action, subaction, cmd, send)
	case "archive":
		h.handleArchive(action, send)
	case "events":
		h.handleEvents(action, cmd, send)
	case "status":
		h.handleStatus(action)
	default:
		slog.Warn("unknown WebSocket command", "type", cmd.Type)
	}

	triggerStatusUpdate()
}

// --- Namespace handlers ---

// handleSession routes session/* commands. Start and stop can block on the
// capture device and the encoder, so they run asynchronously; this keeps
// the reader free to deliver a reset that supersedes a pending start.
func (h *CommandHandler) handleSession(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "start":
		HandleActionAsync(cmd, send, func() (any, error) {
			return nil, h.desk.StartRecording(h.ctx)
		})
	case "stop":
		HandleActionAsync(cmd, send, func() (any, error) {
			return nil, h.desk.StopRecording()
		})
	case "reset":
		h.desk.ResetRecording()
		SendSuccess(send, cmd.Type, nil)
	default:
		slog.Warn("unknown session action", "action", action)
	}
}

// handleForm routes form/* commands
func (h *CommandHandler) handleForm(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "update":
		HandleCommand(cmd, send, func(req *FormUpdateRequest) error {
			h.desk.UpdateForm(support.Form{Name: req.Name, Email: req.Email, Phone: req.Phone})
			return nil
		})
	default:
		slog.Warn("unknown form action", "action", action)
	}
}

// handleDesk routes desk/* commands
func (h *CommandHandler) handleDesk(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "submit":
		HandleActionAsync(cmd, send, func() (any, error) {
			return h.desk.Submit(h.ctx)
		})
	case "defaults":
		h.handleDeskDefaults(cmd, send)
	default:
		slog.Warn("unknown desk action", "action", action)
	}
}

// handleView routes view/* commands
func (h *CommandHandler) handleView(action string, send chan<- any) {
	switch action {
	case "back":
		h.desk.Back()
		SendSuccess(send, "view/back", nil)
	default:
		slog.Warn("unknown view action", "action", action)
	}
}

// handleAudio routes audio/* commands
func (h *CommandHandler) handleAudio(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "update":
		h.handleAudioUpdate(cmd, send)
	case "get":
		h.handleAudioGet(send)
	default:
		slog.Warn("unknown audio action", "action", action)
	}
}

// handleNotifications routes notifications/*/* commands
func (h *CommandHandler) handleNotifications(action, subaction string, cmd WSCommand, send chan<- any) {
	switch action {
	case "webhook":
		switch subaction {
		case "update":
			h.handleWebhookUpdate(cmd, send)
		case "test":
			h.handleTest(send, "test_webhook")
		default:
			slog.Warn("unknown webhook action", "subaction", subaction)
		}
	case "email":
		switch subaction {
		case "update":
			h.handleEmailUpdate(cmd, send)
		case "test":
			h.handleTest(send, "test_email")
		default:
			slog.Warn("unknown email action", "subaction", subaction)
		}
	default:
		slog.Warn("unknown notifications action", "action", action)
	}
}

// handleArchive routes archive/* commands
func (h *CommandHandler) handleArchive(action string, send chan<- any) {
	switch action {
	case "test":
		h.handleTest(send, "test_archive")
	default:
		slog.Warn("unknown archive action", "action", action)
	}
}

// handleEvents routes events/* commands
func (h *CommandHandler) handleEvents(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "get":
		h.handleEventsGet(cmd, send)
	default:
		slog.Warn("unknown events action", "action", action)
	}
}

// handleStatus routes status/* commands
func (h *CommandHandler) handleStatus(action string) {
	switch action {
	case "get":
		// Status is sent automatically, but explicit get triggers immediate update
		slog.Debug("status/get received, status update will be triggered")
	default:
		slog.Warn("unknown status action", "action", action)
	}
}
