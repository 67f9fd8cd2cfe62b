// Package event provides a pub-sub event bus for decoupled communication
// between the task registry and its observers.
//
// The registry publishes lifecycle transitions without knowing who listens;
// presentation layers, metrics and the CLI subscribe without depending on
// the orchestrator's internals.
//
// # Main Types
//
//   - [Event]: interface all events implement, providing EventType() and Timestamp()
//   - [Bus]: synchronous pub-sub dispatcher with thread-safe operations
//   - [Handler]: function type for event handlers (func(Event))
//
// Concrete task lifecycle events live in package task, which owns the Task
// snapshot they carry.
//
// # Event Type Naming Convention
//
// Event types follow the pattern "category.action":
//   - task.added, task.started, task.completed, task.error, task.cancelled
//   - tasks.cleared
//
// # Thread Safety
//
// The [Bus] is safe for concurrent use. Handlers are called synchronously on
// the publishing goroutine. A panicking handler is recovered and logged; it
// neither prevents delivery to the remaining handlers nor propagates to the
// publisher.
//
// # Basic Usage
//
//	bus := event.NewBus(logger)
//	id := bus.Subscribe(event.TypeTaskCompleted, func(e event.Event) {
//	    log.Printf("%s at %v", e.EventType(), e.Timestamp())
//	})
//	defer bus.Unsubscribe(id)
package event
