package orchestrator

import (
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/Iron-Ham/uplink/internal/auth"
	"github.com/Iron-Ham/uplink/internal/logging"
	"github.com/Iron-Ham/uplink/internal/metrics"
)

const tracerName = "github.com/Iron-Ham/uplink/internal/orchestrator"

// Config holds the orchestrator's tunables. The zero value is valid.
type Config struct {
	// MaxConcurrent caps simultaneous Perform calls. 0 means unbounded.
	MaxConcurrent int
	// AbortOnCancel cancels a task's pipeline context when the task is
	// cancelled or cleared, aborting in-flight I/O.
	AbortOnCancel bool
	// PerformTimeout bounds each Perform call. 0 means no timeout.
	PerformTimeout time.Duration

	// Auth configures the authentication coordinator. Its Observer and
	// Logger default to the orchestrator's metrics and logger.
	Auth auth.Options
}

// Option configures an Orchestrator.
type Option func(*options)

type options struct {
	logger  *logging.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics records task and handshake metrics. Without it nothing is
// recorded.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithTracer sets the tracer for pipeline spans. The default is the global
// OpenTelemetry tracer provider's tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) {
		o.tracer = tracer
	}
}

func buildOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.NopLogger()
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}
	return o
}
