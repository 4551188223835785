package followup

import (
	"sync"

	"github.com/oszuidwest/zwfm-voicedesk/internal/eventlog"
	"github.com/oszuidwest/zwfm-voicedesk/internal/recording"
)

// SessionLog turns session snapshots into event log entries, one per
// state transition.
type SessionLog struct {
	events *eventlog.Logger

	mu   sync.Mutex
	last recording.State
}

// NewSessionLog creates a SessionLog that starts from Idle.
func NewSessionLog(events *eventlog.Logger) *SessionLog {
	return &SessionLog{events: events, last: recording.StateIdle}
}

// Observe records the transition from the previously seen state to snap.
func (l *SessionLog) Observe(snap recording.Snapshot) {
	l.mu.Lock()
	prev := l.last
	l.last = snap.State
	l.mu.Unlock()

	if prev == snap.State {
		return
	}

	var (
		eventType eventlog.EventType
		details   = &eventlog.SessionDetails{ElapsedSeconds: snap.ElapsedSeconds}
	)
	switch {
	case snap.State == recording.StateRecording:
		eventType = eventlog.RecordingStarted
	case snap.State == recording.StateStopped:
		eventType = eventlog.RecordingStopped
		if snap.Clip != nil {
			details.ClipBytes = snap.Clip.SizeBytes
			details.MimeType = snap.Clip.MimeType
		}
		details.Reason = snap.Error
	case snap.Error != "":
		eventType = eventlog.RecordingFailed
		details.Error = snap.Error
	default:
		eventType = eventlog.RecordingReset
	}

	if err := l.events.LogSession(eventType, details); err != nil {
		logWriteError(err)
	}
}
