package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "catalogd"

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	gatherer prometheus.Gatherer = prometheus.DefaultGatherer

	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "extract",
			Name:      "runs_total",
			Help:      "Number of finished extraction runs by outcome.",
		}, []string{"outcome"},
	)
	runDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "extract",
			Name:      "run_duration_seconds",
			Help:      "Wall time of extraction runs.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		},
	)
	stepRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "extract",
			Name:      "step_retries_total",
			Help:      "Retries of individual extraction steps.",
		}, []string{"step"},
	)
	runErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "extract",
			Name:      "run_errors_total",
			Help:      "Failed runs by error kind.",
		}, []string{"kind"},
	)
	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "active",
			Help:      "Browser sessions currently in the active set.",
		},
	)
	launchFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "launch_failures_total",
			Help:      "Failed browser launch attempts.",
		},
	)
	storeProducts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "products",
			Help:      "Products currently held by the store.",
		},
	)
	storeMerge = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "merge_total",
			Help:      "Merged records by result.",
		}, []string{"result"},
	)
	backendErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "backend_errors_total",
			Help:      "Failed writes to the persistence backend.",
		},
	)
	schedulerTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "ticks_total",
			Help:      "Scheduler ticks by task and result.",
		}, []string{"task", "result"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{runsTotal, runDuration, stepRetries, runErrors, sessionsActive, launchFailures, storeProducts, storeMerge, backendErrors, schedulerTicks}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	if g, ok := r.(prometheus.Gatherer); ok {
		gatherer = g
	}
	regOK.Store(true)
	return nil
}

// Enabled reports whether Register has succeeded.
func Enabled() bool { return regOK.Load() }

// Handler serves the registry passed to Register (the default gatherer
// otherwise).
func Handler() http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func ObserveRun(outcome string, seconds float64) {
	if regOK.Load() {
		runsTotal.WithLabelValues(outcome).Inc()
		runDuration.Observe(seconds)
	}
}

func IncStepRetry(step string) {
	if regOK.Load() {
		stepRetries.WithLabelValues(step).Inc()
	}
}

func IncRunError(kind string) {
	if regOK.Load() {
		runErrors.WithLabelValues(kind).Inc()
	}
}

func SetActiveSessions(n int) {
	if regOK.Load() {
		sessionsActive.Set(float64(n))
	}
}

func IncLaunchFailure() {
	if regOK.Load() {
		launchFailures.Inc()
	}
}

func SetProducts(n int) {
	if regOK.Load() {
		storeProducts.Set(float64(n))
	}
}

func AddMerge(inserted, replaced, skipped int) {
	if regOK.Load() {
		storeMerge.WithLabelValues("inserted").Add(float64(inserted))
		storeMerge.WithLabelValues("replaced").Add(float64(replaced))
		storeMerge.WithLabelValues("skipped").Add(float64(skipped))
	}
}

func IncBackendError() {
	if regOK.Load() {
		backendErrors.Inc()
	}
}

func IncSchedulerTick(task, result string) {
	if regOK.Load() {
		schedulerTicks.WithLabelValues(task, result).Inc()
	}
}
