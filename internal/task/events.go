package task

import "github.com/Iron-Ham/uplink/internal/event"

// TaskEvent is published for every task transition. Task is a snapshot
// taken at the moment of the transition.
type TaskEvent struct {
	event.Base
	Task Task
}

// NewTaskEvent creates a TaskEvent of the given type.
func NewTaskEvent(eventType string, t Task) TaskEvent {
	return TaskEvent{Base: event.NewBase(eventType), Task: t}
}

// TasksClearedEvent is published once per Registry.Clear call.
type TasksClearedEvent struct {
	event.Base
	Count     int // number of tasks removed
	Uploading int // removed tasks that were still uploading
}

// NewTasksClearedEvent creates a TasksClearedEvent.
func NewTasksClearedEvent(count, uploading int) TasksClearedEvent {
	return TasksClearedEvent{
		Base:      event.NewBase(event.TypeTasksCleared),
		Count:     count,
		Uploading: uploading,
	}
}

// eventTypeFor maps a target status to the event announcing it.
func eventTypeFor(s Status) string {
	switch s {
	case StatusPending:
		return event.TypeTaskAdded
	case StatusUploading:
		return event.TypeTaskStarted
	case StatusCompleted:
		return event.TypeTaskCompleted
	case StatusError:
		return event.TypeTaskError
	default:
		return event.TypeTaskCancelled
	}
}
