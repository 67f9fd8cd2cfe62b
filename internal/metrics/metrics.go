// Package metrics exposes Prometheus collectors for task and handshake
// activity.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Iron-Ham/uplink/internal/event"
	"github.com/Iron-Ham/uplink/internal/task"
)

const namespace = "uplink"

// Metrics records task lifecycle and handshake activity. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	tasksSubmitted    *prometheus.CounterVec
	tasksFinished     *prometheus.CounterVec
	tasksUploading    prometheus.Gauge
	performDuration   *prometheus.HistogramVec
	handshakes        *prometheus.CounterVec
	handshakeDuration *prometheus.HistogramVec
}

var (
	defaultOnce sync.Once
	shared      *Metrics
)

// Default returns the Metrics registered with the global Prometheus
// registry. Collectors are created once.
func Default() *Metrics {
	defaultOnce.Do(func() {
		shared = MustNew(prometheus.DefaultRegisterer)
	})
	return shared
}

// MustNew creates Metrics registered with reg. Collectors already
// registered under the same name are reused; any other registration error
// panics.
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		tasksSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "submitted_total",
			Help:      "Tasks created, by provider and kind.",
		}, []string{"provider", "kind"}),
		tasksFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "finished_total",
			Help:      "Tasks that reached a terminal status, by provider and status.",
		}, []string{"provider", "status"}),
		tasksUploading: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "uploading",
			Help:      "Tasks currently in the uploading status.",
		}),
		performDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "perform_duration_seconds",
			Help:      "Time from task start to its terminal status.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"provider", "status"}),
		handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "handshakes_total",
			Help:      "Session acquisitions by refresh or interactive handshake, by provider and outcome.",
		}, []string{"provider", "outcome"}),
		handshakeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "handshake_duration_seconds",
			Help:      "Duration of session acquisitions.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"provider"}),
	}

	m.tasksSubmitted = register(reg, m.tasksSubmitted)
	m.tasksFinished = register(reg, m.tasksFinished)
	m.tasksUploading = register(reg, m.tasksUploading)
	m.performDuration = register(reg, m.performDuration)
	m.handshakes = register(reg, m.handshakes)
	m.handshakeDuration = register(reg, m.handshakeDuration)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// HandleEvent updates task metrics from a lifecycle event. Subscribe it to
// the bus with SubscribeAll.
func (m *Metrics) HandleEvent(e event.Event) {
	if m == nil {
		return
	}
	var te task.TaskEvent
	switch ev := e.(type) {
	case task.TaskEvent:
		te = ev
	case task.TasksClearedEvent:
		// Cleared uploads never reach a terminal event.
		m.tasksUploading.Sub(float64(ev.Uploading))
		return
	default:
		return
	}
	t := te.Task

	switch te.EventType() {
	case event.TypeTaskAdded:
		m.tasksSubmitted.WithLabelValues(t.ProviderID, string(t.Kind)).Inc()
		return
	case event.TypeTaskStarted:
		m.tasksUploading.Inc()
		return
	}

	if !t.Status.IsTerminal() {
		return
	}
	m.tasksFinished.WithLabelValues(t.ProviderID, string(t.Status)).Inc()
	if t.StartedAt != nil {
		m.tasksUploading.Dec()
		if t.CompletedAt != nil {
			m.performDuration.WithLabelValues(t.ProviderID, string(t.Status)).
				Observe(t.CompletedAt.Sub(*t.StartedAt).Seconds())
		}
	}
}

// HandshakeFinished implements auth.HandshakeObserver.
func (m *Metrics) HandshakeFinished(providerID, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.handshakes.WithLabelValues(providerID, outcome).Inc()
	m.handshakeDuration.WithLabelValues(providerID).Observe(elapsed.Seconds())
}
