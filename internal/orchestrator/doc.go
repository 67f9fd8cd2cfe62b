// Package orchestrator composes the provider registry, the authentication
// coordinator, the task registry and the event bus into the facade used by
// Uplink's hosts.
//
// Submit validates its arguments, creates a pending task and returns its id
// immediately. The rest of the work runs in a background pipeline per task:
//
//	Resolve adapter -> Ensure session -> adapter.Authenticate ->
//	MarkStarted -> adapter.Perform -> MarkCompleted
//
// Any failure along the way is recorded on the task with MarkError and
// announced as task.error; nothing is returned to the caller of Submit.
// Pipelines are independent: a slow or failing provider never delays tasks
// for another provider, and completion order is unconstrained.
//
// Cancelling a task only changes its status by default. A perform that is
// already running keeps going and its result is discarded. Set
// Config.AbortOnCancel to cancel the pipeline's context as well.
package orchestrator
