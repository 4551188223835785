// Package eventlog records recording sessions, tickets and their follow-up
// deliveries in a single rotated JSON lines file.
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// EventType represents the type of event.
type EventType string

// Session event types.
const (
	RecordingStarted EventType = "recording_started"
	RecordingStopped EventType = "recording_stopped"
	RecordingReset   EventType = "recording_reset"
	RecordingFailed  EventType = "recording_failed"
)

// Ticket event types.
const (
	TicketCreated    EventType = "ticket_created"
	SubmissionFailed EventType = "submission_failed"
)

// Delivery event types.
const (
	ArchiveUploaded EventType = "archive_uploaded"
	ArchiveFailed   EventType = "archive_failed"
	NotifySent      EventType = "notify_sent"
	NotifyFailed    EventType = "notify_failed"
)

// Event represents a single log entry with type-specific details.
type Event struct {
	Timestamp time.Time `json:"ts"`
	Type      EventType `json:"type"`
	Message   string    `json:"msg,omitempty"`
	Details   any       `json:"details,omitempty"`
}

// SessionDetails contains recording session details.
type SessionDetails struct {
	ElapsedSeconds int    `json:"elapsed_seconds,omitempty"`
	ClipBytes      int    `json:"clip_bytes,omitempty"`
	MimeType       string `json:"mime_type,omitempty"`
	Reason         string `json:"reason,omitempty"`
	Error          string `json:"error,omitempty"`
}

// TicketDetails contains submission details.
type TicketDetails struct {
	TicketID  string `json:"ticket_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Subject   string `json:"subject,omitempty"`
	ClipBytes int    `json:"clip_bytes,omitempty"`
	Error     string `json:"error,omitempty"`
}

// DeliveryDetails contains archive and notification details.
type DeliveryDetails struct {
	Channel  string `json:"channel"`
	TicketID string `json:"ticket_id,omitempty"`
	S3Key    string `json:"s3_key,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Options controls log rotation.
type Options struct {
	MaxSizeMB  int
	MaxBackups int
}

// Logger writes events to a rotated JSON lines file.
type Logger struct {
	mu       sync.Mutex
	filePath string
	out      *lumberjack.Logger
	encoder  *json.Encoder
}

// DefaultLogPath returns the platform-specific log file path.
func DefaultLogPath(port int) string {
	switch runtime.GOOS {
	case "windows":
		// %PROGRAMDATA% is typically C:\ProgramData
		programData := os.Getenv("PROGRAMDATA")
		if programData == "" {
			programData = `C:\ProgramData`
		}
		return filepath.Join(programData, "voicedesk", "logs", fmt.Sprintf("%d", port), "voicedesk.jsonl")
	default: // linux, darwin
		//nolint:gocritic // Intentional absolute path for Unix systems
		return filepath.Join("/var/log/voicedesk", fmt.Sprintf("%d", port), "voicedesk.jsonl")
	}
}

// NewLogger creates a new event logger at the specified path.
func NewLogger(filePath string, opts Options) (*Logger, error) {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	out := &lumberjack.Logger{
		Filename:   filePath,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
	}
	return &Logger{
		filePath: filePath,
		out:      out,
		encoder:  json.NewEncoder(out),
	}, nil
}

// Log writes an event to the log file.
func (l *Logger) Log(event *Event) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	return l.encoder.Encode(event)
}

// LogSession logs a recording session event.
func (l *Logger) LogSession(eventType EventType, details *SessionDetails) error {
	return l.Log(&Event{Type: eventType, Details: details})
}

// LogTicket logs a submission outcome.
func (l *Logger) LogTicket(eventType EventType, details *TicketDetails) error {
	return l.Log(&Event{Type: eventType, Details: details})
}

// LogDelivery logs an archive or notification outcome.
func (l *Logger) LogDelivery(eventType EventType, channel, ticketID, s3Key, errMsg string) error {
	return l.Log(&Event{
		Type: eventType,
		Details: &DeliveryDetails{
			Channel:  channel,
			TicketID: ticketID,
			S3Key:    s3Key,
			Error:    errMsg,
		},
	})
}

// Close closes the log file.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.out.Close()
}

// Path returns the path to the log file.
func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	return l.filePath
}

// TypeFilter specifies which event types to include when reading.
type TypeFilter string

// Filter constants for ReadLast.
const (
	FilterAll      TypeFilter = ""
	FilterSession  TypeFilter = "session"
	FilterTicket   TypeFilter = "ticket"
	FilterDelivery TypeFilter = "delivery"
)

// MaxReadLimit is the maximum number of events that can be read at once.
const MaxReadLimit = 500

// ReadLast reads events from the current log file with pagination support.
// Returns up to n events starting from offset, filtered by type, newest
// first, and whether older matching events remain.
func ReadLast(filePath string, n, offset int, filter TypeFilter) ([]Event, bool, error) {
	n = min(n, MaxReadLimit)
	if n <= 0 {
		return []Event{}, false, nil
	}

	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []Event{}, false, nil
		}
		return nil, false, err
	}
	defer file.Close() //nolint:errcheck // Read-only operation, close error not critical

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, false, err
	}

	events := make([]Event, 0, n)
	skipped := 0
	for i := len(lines) - 1; i >= 0; i-- {
		var event Event
		if err := json.Unmarshal([]byte(lines[i]), &event); err != nil {
			continue // Skip malformed lines
		}
		if !filter.Matches(event.Type) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if len(events) == n {
			return events, true, nil
		}
		events = append(events, event)
	}

	return events, false, nil
}

// Matches reports whether t passes the filter.
func (f TypeFilter) Matches(t EventType) bool {
	switch f {
	case FilterSession:
		return IsSessionEvent(t)
	case FilterTicket:
		return IsTicketEvent(t)
	case FilterDelivery:
		return IsDeliveryEvent(t)
	default:
		return true
	}
}

// IsSessionEvent returns true if the event type is a recording session event.
func IsSessionEvent(t EventType) bool {
	return t == RecordingStarted || t == RecordingStopped || t == RecordingReset || t == RecordingFailed
}

// IsTicketEvent returns true if the event type is a submission event.
func IsTicketEvent(t EventType) bool {
	return t == TicketCreated || t == SubmissionFailed
}

// IsDeliveryEvent returns true if the event type is an archive or notification event.
func IsDeliveryEvent(t EventType) bool {
	return t == ArchiveUploaded || t == ArchiveFailed || t == NotifySent || t == NotifyFailed
}
