package event

import "time"

// Task lifecycle event types.
const (
	TypeTaskAdded     = "task.added"
	TypeTaskStarted   = "task.started"
	TypeTaskCompleted = "task.completed"
	TypeTaskError     = "task.error"
	TypeTaskCancelled = "task.cancelled"
	TypeTasksCleared  = "tasks.cleared"

	// TypeAll subscribes a handler to every event type.
	TypeAll = "*"
)

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Base provides common fields for all events.
// Embed it in concrete event types to satisfy the Event interface.
type Base struct {
	Type string
	At   time.Time
}

func (e Base) EventType() string    { return e.Type }
func (e Base) Timestamp() time.Time { return e.At }

// NewBase creates a Base stamped with the current time.
func NewBase(eventType string) Base {
	return Base{Type: eventType, At: time.Now()}
}
