package task

import (
	"time"

	"github.com/Iron-Ham/uplink/internal/provider"
)

// Status is the lifecycle state of a task.
type Status string

const (
	// StatusPending is the initial state: created, not yet performing.
	StatusPending Status = "pending"
	// StatusUploading means the adapter's Perform call is in flight.
	StatusUploading Status = "uploading"
	// StatusCompleted means Perform succeeded; Result is set.
	StatusCompleted Status = "completed"
	// StatusError means the pipeline failed; Error is set.
	StatusError Status = "error"
	// StatusCancelled means the task was cancelled explicitly.
	StatusCancelled Status = "cancelled"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsTerminal returns true if no further transitions are permitted.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusCancelled
}

var transitions = map[Status][]Status{
	StatusPending:   {StatusUploading, StatusError, StatusCancelled},
	StatusUploading: {StatusCompleted, StatusError, StatusCancelled},
}

// CanTransitionTo reports whether the state machine allows s -> next.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Spec is the input to Registry.Create.
type Spec struct {
	Payload    provider.Blob
	ProviderID string
	Kind       provider.Kind
	Options    provider.Options
}

// Task is one upload or share request and its lifecycle.
type Task struct {
	ID         string           `json:"id"`
	Payload    provider.Blob    `json:"-"`
	Kind       provider.Kind    `json:"kind"`
	ProviderID string           `json:"provider_id"`
	Options    provider.Options `json:"options,omitempty"`

	Status   Status `json:"status"`
	Progress int    `json:"progress"`

	// Error is set iff Status is StatusError. ErrorKind classifies it, see
	// errors.Kind.
	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`

	// Result is set iff Status is StatusCompleted.
	Result *provider.RemoteResult `json:"result,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// PayloadName returns the name of the payload blob, if any.
func (t Task) PayloadName() string {
	if t.Payload == nil {
		return ""
	}
	return t.Payload.Name()
}

// Duration returns how long the task ran, or has been running as of now.
func (t Task) Duration(now time.Time) time.Duration {
	if t.StartedAt == nil {
		return 0
	}
	if t.CompletedAt != nil {
		return t.CompletedAt.Sub(*t.StartedAt)
	}
	return now.Sub(*t.StartedAt)
}

// clone returns a copy that shares nothing mutable with t. The payload is
// owned by the caller and shared as is.
func (t *Task) clone() Task {
	cp := *t
	cp.Options = provider.CloneOptions(t.Options)
	if t.Result != nil {
		r := t.Result.Clone()
		cp.Result = &r
	}
	if t.StartedAt != nil {
		ts := *t.StartedAt
		cp.StartedAt = &ts
	}
	if t.CompletedAt != nil {
		ts := *t.CompletedAt
		cp.CompletedAt = &ts
	}
	return cp
}

// Counts is a snapshot of how many tasks are in each status.
type Counts struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Uploading int `json:"uploading"`
	Completed int `json:"completed"`
	Error     int `json:"error"`
	Cancelled int `json:"cancelled"`
}

// Active returns the number of non-terminal tasks.
func (c Counts) Active() int {
	return c.Pending + c.Uploading
}
