package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sourcegraph/conc"
	"go.opentelemetry.io/otel/trace"

	"github.com/Iron-Ham/uplink/internal/auth"
	"github.com/Iron-Ham/uplink/internal/errors"
	"github.com/Iron-Ham/uplink/internal/event"
	"github.com/Iron-Ham/uplink/internal/logging"
	"github.com/Iron-Ham/uplink/internal/metrics"
	"github.com/Iron-Ham/uplink/internal/provider"
	"github.com/Iron-Ham/uplink/internal/task"
)

// Orchestrator is the facade over providers, authentication, tasks and
// events. All methods are safe for concurrent use.
type Orchestrator struct {
	cfg     Config
	logger  *logging.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer

	bus       *event.Bus
	tasks     *task.Registry
	providers *provider.Registry
	auth      *auth.Coordinator
	limiter   *limiter

	pipelines conc.WaitGroup

	mu      sync.Mutex
	cancels map[string]context.CancelFunc // task id -> pipeline cancel

	closed atomic.Bool
}

// New creates an Orchestrator.
func New(cfg Config, opts ...Option) (*Orchestrator, error) {
	o := buildOptions(opts)
	logger := o.logger.WithComponent("orchestrator")

	authOpts := cfg.Auth
	if authOpts.Logger == nil {
		authOpts.Logger = o.logger
	}
	if authOpts.Observer == nil && o.metrics != nil {
		authOpts.Observer = o.metrics
	}
	coordinator, err := auth.NewCoordinator(authOpts)
	if err != nil {
		return nil, fmt.Errorf("create auth coordinator: %w", err)
	}

	bus := event.NewBus(o.logger)
	if o.metrics != nil {
		bus.SubscribeAll(o.metrics.HandleEvent)
	}

	return &Orchestrator{
		cfg:       cfg,
		logger:    logger,
		metrics:   o.metrics,
		tracer:    o.tracer,
		bus:       bus,
		tasks:     task.NewRegistry(bus),
		providers: provider.NewRegistry(),
		auth:      coordinator,
		limiter:   newLimiter(cfg.MaxConcurrent),
		cancels:   make(map[string]context.CancelFunc),
	}, nil
}

// RegisterProvider registers adapter under id, replacing any existing one.
func (o *Orchestrator) RegisterProvider(id string, adapter provider.Adapter) {
	o.providers.Register(id, adapter)
	o.logger.Debug("provider registered", "provider_id", id, "variant", string(adapter.Variant()))
}

// RegisterFlow sets the handshake flow for a provider. Providers without a
// flow are served with an anonymous session.
func (o *Orchestrator) RegisterFlow(id string, flow auth.Flow) error {
	return o.auth.RegisterFlow(id, flow)
}

// Providers returns the registered provider ids, sorted.
func (o *Orchestrator) Providers() []string {
	return o.providers.IDs()
}

// Adapter returns the adapter registered for id.
func (o *Orchestrator) Adapter(id string) (provider.Adapter, error) {
	return o.providers.Resolve(id)
}

// Auth returns the authentication coordinator.
func (o *Orchestrator) Auth() *auth.Coordinator {
	return o.auth
}

// Login ensures a session for the provider, running a handshake if needed.
func (o *Orchestrator) Login(ctx context.Context, providerID string) (auth.Session, error) {
	return o.auth.Ensure(ctx, providerID)
}

// Logout forgets the provider's cached and stored session.
func (o *Orchestrator) Logout(ctx context.Context, providerID string) error {
	return o.auth.Forget(ctx, providerID)
}

// Submit validates its arguments, creates a pending task, starts its
// pipeline and returns the task id. Invalid arguments are the only error it
// returns; everything that goes wrong later is recorded on the task.
//
// A nil opts uses the kind's default options.
func (o *Orchestrator) Submit(ctx context.Context, payload provider.Blob, providerID string, kind provider.Kind, opts provider.Options) (string, error) {
	if o.closed.Load() {
		return "", errors.NewValidationError("orchestrator is closed")
	}
	if payload == nil {
		return "", errors.NewValidationError("payload is required").WithField("payload")
	}
	if providerID == "" {
		return "", errors.NewValidationError("provider id is required").WithField("provider_id")
	}
	if _, err := provider.ParseKind(string(kind)); err != nil {
		return "", errors.NewValidationError("unknown task kind").WithField("kind").WithValue(string(kind))
	}
	if opts == nil {
		opts = provider.DefaultOptions(kind)
	} else if opts.Kind() != kind {
		return "", errors.NewValidationError(fmt.Sprintf("%s options given for a %s task", opts.Kind(), kind)).WithField("options")
	}

	t := o.tasks.Create(task.Spec{
		Payload:    payload,
		ProviderID: providerID,
		Kind:       kind,
		Options:    opts,
	})

	// The pipeline outlives the caller's context but keeps its values.
	pctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	o.mu.Lock()
	o.cancels[t.ID] = cancel
	o.mu.Unlock()

	o.pipelines.Go(func() {
		defer o.release(t.ID)
		o.run(pctx, t)
	})
	return t.ID, nil
}

func (o *Orchestrator) release(taskID string) {
	o.mu.Lock()
	cancel, ok := o.cancels[taskID]
	delete(o.cancels, taskID)
	o.mu.Unlock()
	if ok {
		cancel()
	}
}

func (o *Orchestrator) abort(taskID string) {
	o.mu.Lock()
	cancel, ok := o.cancels[taskID]
	o.mu.Unlock()
	if ok {
		cancel()
	}
}

// GetTask returns a snapshot of the task.
func (o *Orchestrator) GetTask(id string) (task.Task, bool) {
	return o.tasks.Get(id)
}

// GetTasks returns snapshots of all tasks in creation order.
func (o *Orchestrator) GetTasks() []task.Task {
	return o.tasks.List()
}

// Counts returns task counts per status.
func (o *Orchestrator) Counts() task.Counts {
	return o.tasks.Counts()
}

// CancelTask cancels a pending or uploading task. It returns false, and
// emits nothing, when the task is unknown or already finished.
func (o *Orchestrator) CancelTask(id string) bool {
	if !o.tasks.Cancel(id) {
		return false
	}
	if o.cfg.AbortOnCancel {
		o.abort(id)
	}
	cause := errors.NewCancellationError(id)
	o.logger.WithTask(id).Info("task cancelled", "abort", o.cfg.AbortOnCancel,
		"reason", cause.Error(), "reason_kind", errors.Kind(cause))
	return true
}

// ClearTasks removes every task and emits a single tasks.cleared event.
// Running pipelines are left to finish; their results are discarded.
func (o *Orchestrator) ClearTasks() {
	n := o.tasks.Clear()
	if o.cfg.AbortOnCancel {
		o.mu.Lock()
		for _, cancel := range o.cancels {
			cancel()
		}
		o.mu.Unlock()
	}
	o.logger.Info("tasks cleared", "count", n)
}

// On subscribes handler to events of eventType, or to every event when
// eventType is event.TypeAll. It returns a subscription id for Off.
func (o *Orchestrator) On(eventType string, handler event.Handler) string {
	if eventType == event.TypeAll {
		return o.bus.SubscribeAll(handler)
	}
	return o.bus.Subscribe(eventType, handler)
}

// Off removes a subscription. It reports whether the id was subscribed.
func (o *Orchestrator) Off(subscriptionID string) bool {
	return o.bus.Unsubscribe(subscriptionID)
}

// SetMaxConcurrent changes the Perform concurrency cap. 0 means unbounded.
func (o *Orchestrator) SetMaxConcurrent(n int) {
	o.limiter.setLimit(n)
}

// WaitTask blocks until the task reaches a terminal status and returns its
// final snapshot. It fails when the task is unknown or cleared, or when ctx
// is done first.
func (o *Orchestrator) WaitTask(ctx context.Context, id string) (task.Task, error) {
	type outcome struct {
		task task.Task
		gone bool
	}
	ch := make(chan outcome, 1)
	send := func(out outcome) {
		select {
		case ch <- out:
		default:
		}
	}
	sub := o.bus.SubscribeAll(func(e event.Event) {
		switch e := e.(type) {
		case task.TaskEvent:
			if e.Task.ID == id && e.Task.Status.IsTerminal() {
				send(outcome{task: e.Task})
			}
		case task.TasksClearedEvent:
			send(outcome{gone: true})
		}
	})
	defer o.bus.Unsubscribe(sub)

	// Check after subscribing so a transition in between is not missed.
	t, ok := o.tasks.Get(id)
	if !ok {
		return task.Task{}, fmt.Errorf("%w: %s", errors.ErrTaskNotFound, id)
	}
	if t.Status.IsTerminal() {
		return t, nil
	}

	select {
	case out := <-ch:
		if out.gone {
			return task.Task{}, fmt.Errorf("%w: %s was cleared", errors.ErrTaskNotFound, id)
		}
		return out.task, nil
	case <-ctx.Done():
		return task.Task{}, ctx.Err()
	}
}

// Wait blocks until every pipeline started so far has returned.
func (o *Orchestrator) Wait() {
	o.pipelines.Wait()
}

// Close stops accepting submissions, cancels every unfinished task and
// aborts its pipeline, then waits for pipelines to return or ctx to end.
func (o *Orchestrator) Close(ctx context.Context) error {
	if !o.closed.CompareAndSwap(false, true) {
		return nil
	}
	for _, t := range o.tasks.List() {
		if !t.Status.IsTerminal() {
			o.tasks.Cancel(t.ID)
		}
	}
	o.mu.Lock()
	for _, cancel := range o.cancels {
		cancel()
	}
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.pipelines.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("waiting for pipelines: %w", ctx.Err())
	}
	o.bus.Clear()
	return nil
}
