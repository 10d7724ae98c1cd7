package log

import (
	"time"

	"github.com/google/uuid"
)

// Logger is the interface applications implement to receive protocol log events.
// Pass nil or NoopLogger to disable logging.
type Logger interface {
	// Log records a protocol event. Implementations must be thread-safe.
	// The event should be processed quickly or queued; blocking affects performance.
	Log(event Event)
}

// NoopLogger discards all events. Use when logging is disabled.
// NoopLogger is safe for concurrent use and usable as a zero value.
type NoopLogger struct{}

// Log discards the event.
func (NoopLogger) Log(Event) {}

// Compile-time interface satisfaction check.
var _ Logger = NoopLogger{}

// Recorder stamps events with a session ID, role and timestamp before
// handing them to a Logger. A nil Recorder or one without a Logger drops
// every event.
type Recorder struct {
	Logger    Logger
	SessionID string
	Role      Role
	Now       func() time.Time
}

// NewRecorder returns a Recorder with a fresh random session ID.
func NewRecorder(logger Logger, role Role) *Recorder {
	return &Recorder{
		Logger:    logger,
		SessionID: uuid.NewString(),
		Role:      role,
		Now:       time.Now,
	}
}

// Enabled reports whether events reach a logger.
func (r *Recorder) Enabled() bool {
	if r == nil || r.Logger == nil {
		return false
	}
	_, noop := r.Logger.(NoopLogger)
	return !noop
}

// Log fills in the common fields and records event.
func (r *Recorder) Log(event Event) {
	if !r.Enabled() {
		return
	}
	if event.Timestamp.IsZero() {
		now := r.Now
		if now == nil {
			now = time.Now
		}
		event.Timestamp = now()
	}
	if event.SessionID == "" {
		event.SessionID = r.SessionID
	}
	if event.LocalRole == 0 {
		event.LocalRole = r.Role
	}
	r.Logger.Log(event)
}
