package observability

import (
	"sync"
	"time"
)

// Event is a single audit-facing log entry retained by the recording
// logger so the orchestrator can expose recent activity for inspection.
type Event struct {
	Type     string            `json:"type"`
	Message  string            `json:"message"`
	Security bool              `json:"security,omitempty"`
	Time     time.Time         `json:"time"`
	Attrs    map[string]string `json:"attrs,omitempty"`
}

// EventLog is the audit logging contract consumed by the orchestrator.
// Log entries are forwarded to the structured logger and retained in a
// bounded in-memory ring.
type EventLog interface {
	Log(event Event)
	LogError(err error, attrs map[string]string)
	LogSecurity(event Event)
	Events() []Event
	Clear()
	SetLevel(level string) error
}

// DefaultEventCapacity is the number of events the recording logger
// retains before overwriting the oldest.
const DefaultEventCapacity = 1024

// RecordingLogger implements EventLog on top of a structured Logger.
type RecordingLogger struct {
	logger   Logger
	capacity int

	mu     sync.RWMutex
	events []Event
	next   int
	full   bool
}

// RecordingLoggerOption is a functional option for the recording logger.
type RecordingLoggerOption func(*RecordingLogger)

// WithEventCapacity sets the event ring capacity.
func WithEventCapacity(n int) RecordingLoggerOption {
	return func(r *RecordingLogger) {
		if n > 0 {
			r.capacity = n
		}
	}
}

// NewRecordingLogger creates an EventLog backed by the given logger.
func NewRecordingLogger(logger Logger, opts ...RecordingLoggerOption) *RecordingLogger {
	if logger == nil {
		logger = NopLogger()
	}
	r := &RecordingLogger{
		logger:   logger,
		capacity: DefaultEventCapacity,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.events = make([]Event, r.capacity)
	return r
}

// Log records and forwards an event.
func (r *RecordingLogger) Log(event Event) {
	r.record(event)
	r.logger.Info(event.Message, eventFields(event)...)
}

// LogError records and forwards an error event.
func (r *RecordingLogger) LogError(err error, attrs map[string]string) {
	if err == nil {
		return
	}
	event := Event{
		Type:    "error",
		Message: err.Error(),
		Time:    time.Now(),
		Attrs:   attrs,
	}
	r.record(event)
	r.logger.Error(event.Message, eventFields(event)...)
}

// LogSecurity records and forwards a security event.
func (r *RecordingLogger) LogSecurity(event Event) {
	event.Security = true
	r.record(event)
	r.logger.Warn(event.Message, eventFields(event)...)
}

// Events returns the retained events, oldest first.
func (r *RecordingLogger) Events() []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.full {
		out := make([]Event, r.next)
		copy(out, r.events[:r.next])
		return out
	}
	out := make([]Event, 0, r.capacity)
	out = append(out, r.events[r.next:]...)
	out = append(out, r.events[:r.next]...)
	return out
}

// Clear discards all retained events.
func (r *RecordingLogger) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = make([]Event, r.capacity)
	r.next = 0
	r.full = false
}

// SetLevel adjusts the underlying logger's level.
func (r *RecordingLogger) SetLevel(level string) error {
	return r.logger.SetLevel(level)
}

func (r *RecordingLogger) record(event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	r.mu.Lock()
	r.events[r.next] = event
	r.next = (r.next + 1) % r.capacity
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()
}

func eventFields(event Event) []Field {
	fields := make([]Field, 0, len(event.Attrs)+2)
	fields = append(fields, String("event_type", event.Type))
	if event.Security {
		fields = append(fields, Bool("security", true))
	}
	for k, v := range event.Attrs {
		fields = append(fields, String(k, v))
	}
	return fields
}
