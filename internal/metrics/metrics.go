// Package metrics provides Prometheus metrics for the router.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RoutesTotal counts routed requests by target and outcome.
	RoutesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainroute_routes_total",
		Help: "Total routed requests by target and outcome",
	}, []string{"target", "outcome"}) // outcome: ok, no_healthy_targets, circuit_open, transport_error

	// RouteDuration tracks end-to-end routing duration in seconds.
	RouteDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chainroute_route_duration_seconds",
		Help:    "Routing duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})

	// SelectionsTotal counts target selections by the balancer.
	SelectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainroute_balancer_selections_total",
		Help: "Total target selections by the balancer",
	}, []string{"algorithm", "target"})

	// NoHealthyTargets counts selection attempts that found no healthy target.
	NoHealthyTargets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chainroute_no_healthy_targets_total",
		Help: "Total selection attempts with no healthy target available",
	})

	// TargetHealth tracks current health per target (1=healthy, 0=unhealthy).
	TargetHealth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "chainroute_target_health",
		Help: "Health status per target (1=healthy, 0=unhealthy)",
	}, []string{"target"})

	// InflightConnections tracks in-flight dispatches per target.
	InflightConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "chainroute_inflight_connections",
		Help: "Current in-flight dispatches per target",
	}, []string{"target"})

	// BreakerState tracks circuit breaker state per target (0=closed, 1=open, 2=half-open).
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "chainroute_breaker_state",
		Help: "Circuit breaker state per target (0=closed, 1=open, 2=half-open)",
	}, []string{"target"})

	// BreakerTransitions counts circuit breaker state transitions.
	BreakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainroute_breaker_transitions_total",
		Help: "Total circuit breaker state transitions by target and new state",
	}, []string{"target", "to"})

	// RetryAttempts counts retry attempts after a failed call.
	RetryAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chainroute_retry_attempts_total",
		Help: "Total retry attempts after a failed call",
	})

	// ProbeTotal counts health probes by target and result.
	ProbeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainroute_health_probe_total",
		Help: "Total health probes by target and result",
	}, []string{"target", "result"}) // result: "success" or "failure"

	// ProbeDuration tracks health probe duration.
	ProbeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chainroute_health_probe_duration_seconds",
		Help:    "Health probe duration in seconds",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
	}, []string{"target"})
)
