package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	launches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clawpanel",
			Subsystem: "service",
			Name:      "launches_total",
			Help:      "Number of service processes spawned.",
		}, []string{"service"},
	)
	launchFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clawpanel",
			Subsystem: "service",
			Name:      "launch_failures_total",
			Help:      "Number of service launches that failed to spawn.",
		}, []string{"service"},
	)
	serviceUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "clawpanel",
			Subsystem: "service",
			Name:      "up",
			Help:      "Last probe result per service (1 = up, 0 = down).",
		}, []string{"service"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clawpanel",
			Subsystem: "service",
			Name:      "state_transitions_total",
			Help:      "Number of observed state changes between refreshes.",
		}, []string{"service", "from", "to"},
	)

	terminations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clawpanel",
			Subsystem: "terminator",
			Name:      "requests_total",
			Help:      "Number of termination requests per target.",
		}, []string{"target"},
	)
	killed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clawpanel",
			Subsystem: "terminator",
			Name:      "killed_total",
			Help:      "Number of processes killed per target, descendants included.",
		}, []string{"target"},
	)

	refreshDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "clawpanel",
			Subsystem: "supervisor",
			Name:      "refresh_duration_seconds",
			Help:      "Wall time of a full status refresh.",
			Buckets:   []float64{.005, .01, .05, .1, .25, .5, 1, 2, 3, 5},
		},
	)
	operations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clawpanel",
			Subsystem: "supervisor",
			Name:      "operations_total",
			Help:      "Number of start/stop operations by result (ok, busy, canceled).",
		}, []string{"op", "result"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{launches, launchFailures, serviceUp, stateTransitions, terminations, killed, refreshDuration, operations}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncLaunch(service string) {
	if regOK.Load() {
		launches.WithLabelValues(service).Inc()
	}
}

func IncLaunchFailure(service string) {
	if regOK.Load() {
		launchFailures.WithLabelValues(service).Inc()
	}
}

func SetServiceUp(service string, up bool) {
	if regOK.Load() {
		var v float64
		if up {
			v = 1
		}
		serviceUp.WithLabelValues(service).Set(v)
	}
}

func RecordStateTransition(service, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(service, from, to).Inc()
	}
}

func IncTermination(target string) {
	if regOK.Load() {
		terminations.WithLabelValues(target).Inc()
	}
}

func AddKilled(target string, n int) {
	if regOK.Load() && n > 0 {
		killed.WithLabelValues(target).Add(float64(n))
	}
}

func ObserveRefreshDuration(seconds float64) {
	if regOK.Load() {
		refreshDuration.Observe(seconds)
	}
}

func IncOperation(op, result string) {
	if regOK.Load() {
		operations.WithLabelValues(op, result).Inc()
	}
}
