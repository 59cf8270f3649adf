// Package router is the composition root tying target selection, circuit
// breaking, and outcome recording together around an injected transport.
package router

import (
	"context"
	"errors"
	"time"

	"github.com/routekit/chainroute/internal/balancer"
	"github.com/routekit/chainroute/internal/breaker"
	"github.com/routekit/chainroute/internal/logger"
	"github.com/routekit/chainroute/internal/metrics"
	"github.com/routekit/chainroute/internal/registry"
)

// DispatchFunc forwards a payload to a target. It is expected to be
// timeout-bounded: the router records failures and applies backpressure but
// does not itself cancel a stalled dispatch.
type DispatchFunc func(ctx context.Context, target registry.Target, payload any) (any, error)

// Request is an inbound routing request. The router is payload-agnostic.
type Request struct {
	// PreferredTargetID pins the request to a specific target when that
	// target is healthy. Empty means no preference.
	PreferredTargetID string `json:"preferred_target_id,omitempty"`
	Payload           any    `json:"payload"`
}

// Response is the structured result of one routing attempt. Exactly one of
// Result and Err is meaningful.
type Response struct {
	RequestID string        `json:"request_id"`
	TargetID  string        `json:"target_id,omitempty"`
	Result    any           `json:"result,omitempty"`
	Err       *Error        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// OK reports whether the request was dispatched successfully.
func (r Response) OK() bool {
	return r.Err == nil
}

// Router routes requests to upstream targets. One Route call touches exactly
// one target; retrying a different target is the caller's responsibility via
// a fresh Route call.
type Router struct {
	registry *registry.Registry
	balancer *balancer.Balancer
	breakers *breaker.Manager
	dispatch DispatchFunc
}

// Config holds the Router's collaborators. Dispatch must not be nil.
type Config struct {
	Registry *registry.Registry
	Balancer *balancer.Balancer
	Breakers *breaker.Manager
	Dispatch DispatchFunc
}

// New creates a Router from its collaborators.
func New(cfg Config) *Router {
	return &Router{
		registry: cfg.Registry,
		balancer: cfg.Balancer,
		breakers: cfg.Breakers,
		dispatch: cfg.Dispatch,
	}
}

// Route selects a target, gates it through its circuit breaker, dispatches,
// and records the outcome on both the breaker and the registry. Dispatch
// failures are never masked: the outcome is recorded before returning.
func (r *Router) Route(ctx context.Context, req Request) Response {
	requestID := RequestIDFromContext(ctx)
	if requestID == "" {
		requestID = GenerateRequestID()
		ctx = ContextWithRequestID(ctx, requestID)
	}
	start := time.Now()

	target, err := r.balancer.SelectTarget(req.PreferredTargetID)
	if err != nil {
		if errors.Is(err, balancer.ErrNoHealthyTargets) {
			return r.finish(requestID, "", nil, &Error{
				Kind:   KindNoHealthyTargets,
				Reason: "no healthy targets available",
				cause:  err,
			}, start)
		}
		return r.finish(requestID, "", nil, &Error{
			Kind:   KindNoHealthyTargets,
			Reason: err.Error(),
			cause:  err,
		}, start)
	}

	br := r.breakers.GetOrCreate(target.ID)
	if err := br.Allow(); err != nil {
		// Single-target-per-request semantics: no silent fallback to a
		// different target.
		return r.finish(requestID, target.ID, nil, &Error{
			Kind:     KindCircuitOpen,
			TargetID: target.ID,
			Reason:   "circuit breaker is open",
			cause:    err,
		}, start)
	}

	r.registry.IncConnections(target.ID)
	metrics.InflightConnections.WithLabelValues(target.ID).Inc()

	result, dispatchErr := r.dispatch(ctx, target, req.Payload)

	r.registry.DecConnections(target.ID)
	metrics.InflightConnections.WithLabelValues(target.ID).Dec()

	if dispatchErr != nil {
		br.RecordFailure()
		r.registry.MarkFailure(target.ID)
		return r.finish(requestID, target.ID, nil, &Error{
			Kind:     KindTransport,
			TargetID: target.ID,
			Reason:   dispatchErr.Error(),
			cause:    dispatchErr,
		}, start)
	}

	br.RecordSuccess()
	r.registry.MarkSuccess(target.ID)
	return r.finish(requestID, target.ID, result, nil, start)
}

// finish assembles the response and emits observability for the outcome.
func (r *Router) finish(requestID, targetID string, result any, rerr *Error, start time.Time) Response {
	duration := time.Since(start)

	outcome := "ok"
	if rerr != nil {
		outcome = string(rerr.Kind)
	}
	metricTarget := targetID
	if metricTarget == "" {
		metricTarget = "none"
	}
	metrics.RoutesTotal.WithLabelValues(metricTarget, outcome).Inc()
	metrics.RouteDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	logger.LogRoute(requestID, targetID, outcome, duration.Milliseconds())

	return Response{
		RequestID: requestID,
		TargetID:  targetID,
		Result:    result,
		Err:       rerr,
		Duration:  duration,
	}
}

// TargetStatus is one target's row in the Status summary.
type TargetStatus struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Healthy     bool   `json:"healthy"`
	Connections int    `json:"connections"`
	Failures    uint64 `json:"failures"`
	Successes   uint64 `json:"successes"`
}

// Status is the observability summary returned by Status().
type Status struct {
	Algorithm      string         `json:"algorithm"`
	TotalTargets   int            `json:"total_targets"`
	HealthyTargets int            `json:"healthy_targets"`
	Targets        []TargetStatus `json:"targets"`
}

// Metrics extends Status with per-target breaker state.
type Metrics struct {
	Status
	Breakers map[string]breaker.Status `json:"breakers"`
}

// Status returns a point-in-time summary of all targets.
func (r *Router) Status() Status {
	targets := r.registry.AllTargets()

	status := Status{
		Algorithm:    string(r.balancer.Algorithm()),
		TotalTargets: len(targets),
		Targets:      make([]TargetStatus, 0, len(targets)),
	}
	for _, t := range targets {
		if t.Healthy {
			status.HealthyTargets++
		}
		status.Targets = append(status.Targets, TargetStatus{
			ID:          t.ID,
			Name:        t.Name,
			Healthy:     t.Healthy,
			Connections: t.Connections,
			Failures:    t.FailureCount,
			Successes:   t.SuccessCount,
		})
	}
	return status
}

// Metrics returns Status plus breaker snapshots.
func (r *Router) Metrics() Metrics {
	return Metrics{
		Status:   r.Status(),
		Breakers: r.breakers.GetStatus(),
	}
}
