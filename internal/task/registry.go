package task

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Iron-Ham/uplink/internal/errors"
	"github.com/Iron-Ham/uplink/internal/event"
	"github.com/Iron-Ham/uplink/internal/provider"
)

// idCounter is process-wide so ids are never reused, even across registries.
var idCounter atomic.Uint64

func newID(now time.Time) string {
	return fmt.Sprintf("task_%d_%d", now.UnixMilli(), idCounter.Add(1))
}

// Registry stores tasks and owns their state machine.
// All methods are safe for concurrent use.
type Registry struct {
	mu    sync.Mutex
	tasks map[string]*Task
	order []string // creation order

	bus *event.Bus
	now func() time.Time
}

// NewRegistry creates a Registry publishing on bus. A nil bus publishes
// nowhere.
func NewRegistry(bus *event.Bus) *Registry {
	return &Registry{
		tasks: make(map[string]*Task),
		bus:   bus,
		now:   time.Now,
	}
}

// Create adds a pending task and publishes task.added.
func (r *Registry) Create(spec Spec) Task {
	r.mu.Lock()
	now := r.now()
	t := &Task{
		ID:         newID(now),
		Payload:    spec.Payload,
		Kind:       spec.Kind,
		ProviderID: spec.ProviderID,
		Options:    provider.CloneOptions(spec.Options),
		Status:     StatusPending,
		CreatedAt:  now,
	}
	r.tasks[t.ID] = t
	r.order = append(r.order, t.ID)
	snap := t.clone()
	r.mu.Unlock()

	r.publish(event.TypeTaskAdded, snap)
	return snap
}

// MarkStarted moves a pending task to uploading and publishes task.started.
func (r *Registry) MarkStarted(id string) (Task, error) {
	return r.transition(id, StatusUploading, func(t *Task, now time.Time) {
		t.StartedAt = &now
	})
}

// MarkCompleted moves an uploading task to completed with its result and
// publishes task.completed.
func (r *Registry) MarkCompleted(id string, result provider.RemoteResult) (Task, error) {
	return r.transition(id, StatusCompleted, func(t *Task, now time.Time) {
		res := result.Clone()
		t.Result = &res
		t.Progress = 100
		t.CompletedAt = &now
	})
}

// MarkError moves a pending or uploading task to error and publishes
// task.error. The task's Error is cause's message.
func (r *Registry) MarkError(id string, cause error) (Task, error) {
	if cause == nil {
		cause = errors.New("unknown error")
	}
	return r.transition(id, StatusError, func(t *Task, now time.Time) {
		t.Error = cause.Error()
		t.ErrorKind = errors.Kind(cause)
		t.CompletedAt = &now
	})
}

// Cancel moves a non-terminal task to cancelled and publishes
// task.cancelled. It returns false, publishing nothing, when the task is
// unknown or already terminal.
func (r *Registry) Cancel(id string) bool {
	_, err := r.transition(id, StatusCancelled, func(t *Task, now time.Time) {
		t.CompletedAt = &now
	})
	return err == nil
}

func (r *Registry) transition(id string, next Status, apply func(*Task, time.Time)) (Task, error) {
	r.mu.Lock()
	t, ok := r.tasks[id]
	if !ok {
		r.mu.Unlock()
		return Task{}, fmt.Errorf("%w: %s", errors.ErrTaskNotFound, id)
	}
	if !t.Status.CanTransitionTo(next) {
		status := t.Status
		r.mu.Unlock()
		return Task{}, fmt.Errorf("%w: cannot transition %s from %s to %s", errors.ErrInvalidTransition, id, status, next)
	}
	t.Status = next
	apply(t, r.now())
	snap := t.clone()
	r.mu.Unlock()

	r.publish(eventTypeFor(next), snap)
	return snap, nil
}

// Clear drops every task, publishes a single tasks.cleared event, and
// returns how many tasks were removed. Tasks dropped while uploading never
// publish a terminal event.
func (r *Registry) Clear() int {
	r.mu.Lock()
	n := len(r.tasks)
	uploading := 0
	for _, t := range r.tasks {
		if t.Status == StatusUploading {
			uploading++
		}
	}
	r.tasks = make(map[string]*Task)
	r.order = nil
	r.mu.Unlock()

	if r.bus != nil {
		r.bus.Publish(NewTasksClearedEvent(n, uploading))
	}
	return n
}

// Get returns a copy of the task.
func (r *Registry) Get(id string) (Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return Task{}, false
	}
	return t.clone(), true
}

// List returns copies of all tasks in creation order.
func (r *Registry) List() []Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Task, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.tasks[id].clone())
	}
	return out
}

// Counts returns a snapshot of task counts per status.
func (r *Registry) Counts() Counts {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := Counts{Total: len(r.tasks)}
	for _, t := range r.tasks {
		switch t.Status {
		case StatusPending:
			c.Pending++
		case StatusUploading:
			c.Uploading++
		case StatusCompleted:
			c.Completed++
		case StatusError:
			c.Error++
		case StatusCancelled:
			c.Cancelled++
		}
	}
	return c
}

func (r *Registry) publish(eventType string, snap Task) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(NewTaskEvent(eventType, snap))
}
