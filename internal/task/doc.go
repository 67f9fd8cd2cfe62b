// Package task owns the Task entity and its lifecycle state machine.
//
// The [Registry] is the only component that changes a task's status. It
// creates tasks in [StatusPending] and moves them forward:
//
//	pending ──> uploading ──> completed
//	   │            │
//	   │            ├──────> error
//	   ├────────────┼──────> cancelled
//	   └────────────┴──────> error
//
// Completed, error and cancelled are terminal. Every successful transition
// is published on the event bus as a [TaskEvent] carrying a snapshot of the
// task; [Registry.Clear] publishes a single [TasksClearedEvent].
//
// Readers always receive copies. Events are published after the registry
// lock is released, so handlers may call back into the registry.
package task
