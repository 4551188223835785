package main

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/oszuidwest/zwfm-voicedesk/internal/audio"
	"github.com/oszuidwest/zwfm-voicedesk/internal/config"
	"github.com/oszuidwest/zwfm-voicedesk/internal/encoder"
	"github.com/oszuidwest/zwfm-voicedesk/internal/notify"
	"github.com/oszuidwest/zwfm-voicedesk/internal/recording"
	"github.com/oszuidwest/zwfm-voicedesk/internal/schedule"
	"github.com/oszuidwest/zwfm-voicedesk/internal/server"
	"github.com/oszuidwest/zwfm-voicedesk/internal/types"
	"github.com/oszuidwest/zwfm-voicedesk/internal/util"
)

const (
	// fullStatusInterval is how often a full status is pushed while idle.
	fullStatusInterval = 3000 * time.Millisecond
	// secretExpiryInterval is how often the Graph secret expiry is refreshed.
	secretExpiryInterval = 1 * time.Hour
)

var indexTmpl = template.Must(template.New("index").Parse(indexHTML))
var faviconTmpl = template.Must(template.New("favicon").Parse(faviconSVG))

type indexData struct {
	Version    string
	Year       int
	DeskName   string
	PrimaryCSS template.CSS
}

// deskAPI is the desk as served over WebSocket and HTTP.
type deskAPI interface {
	server.Desk
	Clip(handle string) (*encoder.Clip, bool)
}

// ServerOptions configures a Server. Archive, Expiry and Version may be nil.
type ServerOptions struct {
	Config          *config.Config
	Desk            deskAPI
	Hub             *server.Hub
	Notifier        server.Notifier
	Archive         server.ArchiveTester
	Expiry          *notify.SecretExpiryChecker
	Version         *VersionChecker
	Devices         func() []audio.Device
	EventsPath      string
	FFmpegAvailable bool
}

// Server is an HTTP server that provides the voice desk web interface.
type Server struct {
	config          *config.Config
	desk            deskAPI
	hub             *server.Hub
	commands        *server.CommandHandler
	expiry          *notify.SecretExpiryChecker
	expiryTask      *schedule.Task
	version         *VersionChecker
	devices         func() []audio.Device
	eventsPath      string
	ffmpegAvailable bool
}

// NewServer returns a new Server for the given desk.
func NewServer(opts ServerOptions) *Server {
	devices := opts.Devices
	if devices == nil {
		devices = audio.Devices
	}
	version := opts.Version
	if version == nil {
		version = NewVersionChecker()
	}
	commands := server.NewCommandHandler(server.Options{
		Config:     opts.Config,
		Desk:       opts.Desk,
		Notifier:   opts.Notifier,
		Archive:    opts.Archive,
		Expiry:     opts.Expiry,
		Devices:    devices,
		EventsPath: opts.EventsPath,
	})

	return &Server{
		config:          opts.Config,
		desk:            opts.Desk,
		hub:             opts.Hub,
		commands:        commands,
		expiry:          opts.Expiry,
		version:         version,
		devices:         devices,
		eventsPath:      opts.EventsPath,
		ffmpegAvailable: opts.FFmpegAvailable,
	}
}

// handleWebSocket handles bidirectional WebSocket communication for real-time updates.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := server.UpgradeConnection(w, r)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	// Only the writer goroutine writes to the connection. The send channel
	// is never closed because asynchronous command handlers may still hold it.
	send := make(chan any, 16)
	done := make(chan struct{})
	statusUpdate := make(chan struct{}, 1)

	go s.runWebSocketWriter(conn, send, done)
	go s.runWebSocketReader(conn, send, done, statusUpdate)

	s.runWebSocketEventLoop(send, done, statusUpdate)
}

// runWebSocketWriter writes messages from the send channel to the connection.
func (s *Server) runWebSocketWriter(conn server.WebSocketConn, send <-chan any, done <-chan struct{}) {
	defer func() {
		if err := conn.Close(); err != nil {
			slog.Debug("WebSocket close error", "error", err)
		}
	}()
	for {
		select {
		case msg := <-send:
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// runWebSocketReader reads commands from the connection and dispatches them.
func (s *Server) runWebSocketReader(conn server.WebSocketConn, send chan<- any, done, statusUpdate chan<- struct{}) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in WebSocket reader", "panic", r)
		}
		close(done)
	}()

	for {
		var cmd server.WSCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		s.commands.Handle(cmd, send, func() {
			select {
			case statusUpdate <- struct{}{}:
			default:
			}
		})
	}
}

// runWebSocketEventLoop pushes status on every desk change, ten times a
// second while recording and every few seconds otherwise.
func (s *Server) runWebSocketEventLoop(send chan<- any, done, statusUpdate <-chan struct{}) {
	changes, unsubscribe := s.hub.Subscribe()
	defer unsubscribe()

	liveTicker := time.NewTicker(types.StatusInterval)
	statusTicker := time.NewTicker(fullStatusInterval)
	defer liveTicker.Stop()
	defer statusTicker.Stop()

	// trySend attempts to send a message, returning false if done is closed
	trySend := func(msg any) bool {
		select {
		case send <- msg:
			return true
		case <-done:
			return false
		}
	}

	if !trySend(s.buildWSStatus()) {
		return
	}

	for {
		select {
		case <-done:
			return
		case <-changes:
			if !trySend(s.buildWSStatus()) {
				return
			}
		case <-statusUpdate:
			if !trySend(s.buildWSStatus()) {
				return
			}
		case <-liveTicker.C:
			if s.desk.Status().Session.State != recording.StateRecording {
				continue
			}
			if !trySend(s.buildWSStatus()) {
				return
			}
		case <-statusTicker.C:
			if !trySend(s.buildWSStatus()) {
				return
			}
		}
	}
}

// buildWSStatus returns the current WebSocket status response.
func (s *Server) buildWSStatus() types.WSStatusResponse {
	cfg := s.config.Snapshot()

	status := types.WSStatusResponse{
		Type:            "status",
		FFmpegAvailable: s.ffmpegAvailable,
		Desk:            s.desk.Status(),
		Delivery: types.DeliveryStatus{
			Submission: cfg.HasSubmission(),
			Archive:    cfg.HasArchive(),
			Webhook:    cfg.HasWebhook(),
			Email:      cfg.HasGraph(),
			EventLog:   cfg.HasEventLog(),
		},
		Settings: types.WSSettings{
			DeskName:           cfg.DeskName,
			AudioInput:         cfg.AudioInput,
			Codec:              cfg.Codec,
			MaxDurationSeconds: int(cfg.MaxDuration / time.Second),
			Platform:           runtime.GOOS,
		},
		Version: s.version.Info(),
	}
	if s.expiry != nil && cfg.HasGraph() {
		status.GraphSecret = s.expiry.Cached()
	}
	return status
}

// refreshSecretExpiry asks Graph when the client secret expires so status
// pushes can read the cached result without blocking.
func (s *Server) refreshSecretExpiry() {
	if s.expiry == nil {
		return
	}
	cfg := s.config.Snapshot()
	if !cfg.HasGraph() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	info := s.expiry.GetInfo(ctx)
	if info.ExpiresSoon {
		slog.Warn("Graph client secret expires soon", "expires_at", info.ExpiresAt, "days_left", info.DaysLeft)
	}
	s.hub.Notify()
}

// SetupRoutes returns an [http.Handler] configured with all application routes.
func (s *Server) SetupRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/favicon.svg", s.handleFavicon)

	// REST API
	mux.HandleFunc("/api/status", s.handleAPIStatus)
	mux.HandleFunc("/api/session/{action}", s.handleAPISession)
	mux.HandleFunc("/api/form", s.handleAPIForm)
	mux.HandleFunc("/api/submit", s.handleAPISubmit)
	mux.HandleFunc("/api/back", s.handleAPIBack)
	mux.HandleFunc("/api/devices", s.handleAPIDevices)
	mux.HandleFunc("/api/events", s.handleAPIEvents)
	mux.HandleFunc("/clip/{handle}", s.handleClip)

	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/", s.handleStatic)

	return securityHeaders(mux)
}

// securityHeaders returns middleware that wraps handlers with security headers.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		// The recorder only ever asks for the microphone.
		w.Header().Set("Permissions-Policy", "camera=(), geolocation=()")
		next.ServeHTTP(w, r)
	})
}

// handleFavicon serves the favicon with the configured desk color.
func (s *Server) handleFavicon(w http.ResponseWriter, r *http.Request) {
	cfg := s.config.Snapshot()
	w.Header().Set("Content-Type", "image/svg+xml")
	if err := faviconTmpl.Execute(w, struct{ Color string }{Color: cfg.ColorLight}); err != nil {
		slog.Error("failed to render favicon", "error", err)
	}
}

// serveStaticFile serves a static file by path and reports whether it was found.
func serveStaticFile(w http.ResponseWriter, path string) bool {
	file, ok := staticFiles[path]
	if !ok {
		return false
	}
	w.Header().Set("Content-Type", file.contentType)
	if _, err := w.Write([]byte(file.content)); err != nil {
		slog.Error("failed to write static file", "file", file.name, "error", err)
	}
	return true
}

// staticFile is an embedded static file with content type and data.
type staticFile struct {
	contentType string
	content     string
	name        string
}

// staticFiles is a map from URL paths to static file definitions.
var staticFiles = map[string]staticFile{
	"/style.css": {
		contentType: "text/css",
		content:     styleCSS,
		name:        "style.css",
	},
	"/app.js": {
		contentType: "application/javascript",
		content:     appJS,
		name:        "app.js",
	},
	// favicon.svg is served dynamically via handleFavicon
}

// handleStatic handles requests for embedded static web interface files.
func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	if path == "/" {
		path = "/index.html"
	}

	// Serve index.html with dynamic placeholders.
	if path == "/index.html" {
		cfg := s.config.Snapshot()
		w.Header().Set("Content-Type", "text/html")
		if err := indexTmpl.Execute(w, indexData{
			Version:    Version,
			Year:       time.Now().Year(),
			DeskName:   cfg.DeskName,
			PrimaryCSS: template.CSS(util.GenerateBrandCSS(cfg.ColorLight, cfg.ColorDark)),
		}); err != nil {
			slog.Error("failed to write index.html", "error", err)
		}
		return
	}

	if serveStaticFile(w, path) {
		return
	}

	http.NotFound(w, r)
}

// Start begins the HTTP server and the background secret expiry refresh.
// Returns an *http.Server that can be used for graceful shutdown.
func (s *Server) Start() *http.Server {
	addr := fmt.Sprintf(":%d", s.config.Snapshot().WebPort)
	slog.Info("starting web server", "addr", addr)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.SetupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.refreshSecretExpiry()
	s.expiryTask = schedule.Every(schedule.Real(), "graph-secret-expiry", secretExpiryInterval, s.refreshSecretExpiry)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	return srv
}

// Close stops background work owned by the server.
func (s *Server) Close() {
	s.version.Stop()
	s.expiryTask.Cancel()
	s.commands.Close()
}
