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

	serviceStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stackctl",
			Subsystem: "service",
			Name:      "starts_total",
			Help:      "Number of successful service starts.",
		}, []string{"name"},
	)
	serviceStartFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stackctl",
			Subsystem: "service",
			Name:      "start_failures_total",
			Help:      "Number of service starts that failed to bind their port.",
		}, []string{"name"},
	)
	serviceStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stackctl",
			Subsystem: "service",
			Name:      "stops_total",
			Help:      "Number of termination attempts (by PID or by port owner).",
		}, []string{"name"},
	)
	routeSyncs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stackctl",
			Subsystem: "proxy",
			Name:      "route_syncs_total",
			Help:      "Number of route registration passes, by outcome.",
		}, []string{"outcome"},
	)
	servicesRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "stackctl",
			Subsystem: "service",
			Name:      "running",
			Help:      "Services whose port probe succeeded at the last status pass.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{serviceStarts, serviceStartFailures, serviceStops, routeSyncs, servicesRunning}
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
	regOK.Store(true)
	return nil
}

// RegisterDefault registers with the default Prometheus registry.
func RegisterDefault() error { return Register(prometheus.DefaultRegisterer) }

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncStart(name string) {
	if regOK.Load() {
		serviceStarts.WithLabelValues(name).Inc()
	}
}

func IncStartFailure(name string) {
	if regOK.Load() {
		serviceStartFailures.WithLabelValues(name).Inc()
	}
}

func IncStop(name string) {
	if regOK.Load() {
		serviceStops.WithLabelValues(name).Inc()
	}
}

func IncRouteSync(outcome string) {
	if regOK.Load() {
		routeSyncs.WithLabelValues(outcome).Inc()
	}
}

func SetServicesRunning(n int) {
	if regOK.Load() {
		servicesRunning.Set(float64(n))
	}
}
