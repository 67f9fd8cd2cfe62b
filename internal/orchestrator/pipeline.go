package orchestrator

import (
	"context"
	"fmt"

	"github.com/sourcegraph/conc/panics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Iron-Ham/uplink/internal/errors"
	"github.com/Iron-Ham/uplink/internal/logging"
	"github.com/Iron-Ham/uplink/internal/provider"
	"github.com/Iron-Ham/uplink/internal/task"
)

// Span and attribute names.
const (
	spanTask         = "uplink.task"
	spanAuthenticate = "uplink.authenticate"
	spanPerform      = "uplink.perform"

	attrTaskID   = "uplink.task.id"
	attrProvider = "uplink.provider"
	attrKind     = "uplink.kind"
	attrPayload  = "uplink.payload.name"
	attrURL      = "uplink.result.url"
)

func (o *Orchestrator) run(ctx context.Context, t task.Task) {
	logger := o.logger.WithTask(t.ID).WithProvider(t.ProviderID)
	ctx, span := o.tracer.Start(ctx, spanTask, trace.WithAttributes(
		attribute.String(attrTaskID, t.ID),
		attribute.String(attrProvider, t.ProviderID),
		attribute.String(attrKind, string(t.Kind)),
		attribute.String(attrPayload, t.PayloadName()),
	))
	defer span.End()

	adapter, err := o.providers.Resolve(t.ProviderID)
	if err != nil {
		o.fail(span, logger, t.ID, err)
		return
	}

	if err := o.authenticate(ctx, logger, t.ProviderID, adapter); err != nil {
		o.fail(span, logger, t.ID, err)
		return
	}

	if err := o.limiter.acquire(ctx); err != nil {
		logger.Debug("pipeline aborted while waiting for a perform slot", "error", err)
		return
	}
	defer o.limiter.release()

	// Cancelled or cleared while authenticating.
	if _, err := o.tasks.MarkStarted(t.ID); err != nil {
		logger.Debug("task no longer pending, skipping perform", "error", err)
		return
	}
	logger.Info("upload started", "kind", string(t.Kind), "payload", t.PayloadName())

	result, err := o.perform(ctx, logger, adapter, t)
	if err != nil {
		if current, ok := o.tasks.Get(t.ID); !ok || current.Status.IsTerminal() {
			reason := o.discardReason(t.ID)
			logger.Info("discarding failure of a task that is no longer uploading",
				"error", err.Error(), "reason", reason.Error(), "reason_kind", errors.Kind(reason))
			return
		}
		o.fail(span, logger, t.ID, err)
		return
	}

	span.SetAttributes(attribute.String(attrURL, result.URL))
	if _, err := o.tasks.MarkCompleted(t.ID, result); err != nil {
		reason := o.discardReason(t.ID)
		logger.Info("discarding result of a task that is no longer uploading",
			"url", result.URL, "reason", reason.Error(), "reason_kind", errors.Kind(reason))
		return
	}
	logger.Info("upload completed", "url", result.URL)
}

// authenticate ensures a session and lets the adapter validate it.
func (o *Orchestrator) authenticate(ctx context.Context, logger *logging.Logger, providerID string, adapter provider.Adapter) error {
	ctx, span := o.tracer.Start(ctx, spanAuthenticate, trace.WithAttributes(
		attribute.String(attrProvider, providerID),
	))
	defer span.End()

	session, err := o.auth.Ensure(ctx, providerID)
	if err != nil {
		recordSpanError(span, err)
		return err
	}

	var (
		ok      bool
		authErr error
		pc      panics.Catcher
	)
	pc.Try(func() {
		ok, authErr = adapter.Authenticate(ctx, session)
	})
	if r := pc.Recovered(); r != nil {
		logger.Error("adapter panicked during authenticate", "panic", r.Value, "stack", string(r.Stack))
		authErr = r.AsError()
	}

	switch {
	case authErr != nil:
		err = errors.NewAuthenticationError("adapter error", authErr).WithProvider(providerID)
	case !ok:
		err = errors.NewAuthenticationError("rejected", errors.ErrAuthRejected).WithProvider(providerID)
		// The stored session is no good; the next submission starts over.
		if !session.Anonymous() {
			if ferr := o.auth.Forget(ctx, providerID); ferr != nil {
				logger.Warn("failed to forget rejected session", "error", ferr)
			}
		}
	}
	if err != nil {
		recordSpanError(span, err)
	}
	return err
}

// perform calls the adapter, converting errors and panics to a
// TransportError carrying the adapter's message.
func (o *Orchestrator) perform(ctx context.Context, logger *logging.Logger, adapter provider.Adapter, t task.Task) (provider.RemoteResult, error) {
	if o.cfg.PerformTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.PerformTimeout)
		defer cancel()
	}
	ctx, span := o.tracer.Start(ctx, spanPerform)
	defer span.End()

	var (
		result provider.RemoteResult
		err    error
		pc     panics.Catcher
	)
	pc.Try(func() {
		result, err = adapter.Perform(ctx, t.Payload, t.Options)
	})
	if r := pc.Recovered(); r != nil {
		logger.Error("adapter panicked during perform", "panic", r.Value, "stack", string(r.Stack))
		err = errors.NewTransportError("adapter panicked", r.AsError()).WithRetryable(false)
	}
	if err == nil {
		return result, nil
	}

	var te *errors.TransportError
	if errors.As(err, &te) {
		// Adapters may return shared error values; annotate a copy.
		cp := *te
		te = &cp
	} else {
		te = errors.NewTransportError("", err)
	}
	te = te.WithProvider(t.ProviderID).WithTaskID(t.ID)
	recordSpanError(span, te)
	return provider.RemoteResult{}, te
}

// discardReason reports why a pipeline outcome no longer applies to its
// task: the task was cancelled, or it was cleared from the registry.
func (o *Orchestrator) discardReason(taskID string) error {
	if current, ok := o.tasks.Get(taskID); ok && current.Status == task.StatusCancelled {
		return errors.NewCancellationError(taskID)
	}
	return fmt.Errorf("%w: %s", errors.ErrTaskNotFound, taskID)
}

func (o *Orchestrator) fail(span trace.Span, logger *logging.Logger, taskID string, cause error) {
	recordSpanError(span, cause)
	if _, err := o.tasks.MarkError(taskID, cause); err != nil {
		logger.Debug("task already finished, dropping error", "cause", cause.Error(), "error", err)
		return
	}
	logger.Warn("task failed", "error", cause.Error(), "error_kind", errors.Kind(cause))
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
