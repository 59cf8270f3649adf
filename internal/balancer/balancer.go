// Package balancer provides target selection algorithms over the registry's
// healthy targets.
package balancer

import (
	"errors"
	"math/rand/v2"
	"sync/atomic"

	"github.com/routekit/chainroute/internal/logger"
	"github.com/routekit/chainroute/internal/metrics"
	"github.com/routekit/chainroute/internal/registry"
)

var (
	// ErrNoHealthyTargets is returned when the healthy target set is empty.
	ErrNoHealthyTargets = errors.New("no healthy targets available")
)

// Algorithm identifies a selection algorithm.
type Algorithm string

const (
	// RoundRobin cycles through healthy targets with a shared cursor.
	RoundRobin Algorithm = "round_robin"
	// LeastConnections picks the healthy target with the fewest in-flight
	// dispatches, ties broken by list order.
	LeastConnections Algorithm = "least_connections"
	// WeightedRandom picks healthy targets with probability proportional
	// to their weight.
	WeightedRandom Algorithm = "weighted_random"
)

// Balancer selects targets from a registry.
//
// The round-robin cursor is shared and monotonically increasing; it is never
// reset when targets are added, removed, or change health. The cycle is
// therefore stable only while the healthy set is stable: a membership change
// reshuffles the cycle and may skip or double-visit a target once. Callers
// that need strict fairness across mutations must not rely on the cursor.
type Balancer struct {
	registry  *registry.Registry
	algorithm Algorithm
	cursor    atomic.Uint64
}

// New creates a Balancer using the given algorithm. An unrecognized
// algorithm falls back to first-healthy selection.
func New(reg *registry.Registry, algorithm Algorithm) *Balancer {
	return &Balancer{
		registry:  reg,
		algorithm: algorithm,
	}
}

// Algorithm returns the configured selection algorithm.
func (b *Balancer) Algorithm() Algorithm {
	return b.algorithm
}

// SelectTarget picks a healthy target. A healthy preferredID always wins
// over the configured algorithm; pass "" for no preference.
//
// Every successful selection records a success touch in the registry. This
// is selection bookkeeping only: the caller must still report the real
// outcome of the dispatched call.
func (b *Balancer) SelectTarget(preferredID string) (registry.Target, error) {
	healthy := b.registry.HealthyTargets()
	if len(healthy) == 0 {
		metrics.NoHealthyTargets.Inc()
		return registry.Target{}, ErrNoHealthyTargets
	}

	if preferredID != "" {
		for _, t := range healthy {
			if t.ID == preferredID {
				b.touch(t, "preferred", len(healthy))
				return t, nil
			}
		}
		// Unhealthy or unknown preference falls through to the algorithm.
		logger.Debug("preferred_target_unavailable", "preferred_id", preferredID)
	}

	var selected registry.Target
	switch b.algorithm {
	case RoundRobin:
		selected = b.selectRoundRobin(healthy)
	case LeastConnections:
		selected = b.selectLeastConnections(healthy)
	case WeightedRandom:
		selected = b.selectWeightedRandom(healthy)
	default:
		selected = healthy[0]
	}

	b.touch(selected, string(b.algorithm), len(healthy))
	return selected, nil
}

// touch records selection bookkeeping.
func (b *Balancer) touch(t registry.Target, algorithm string, candidates int) {
	b.registry.MarkSuccess(t.ID)
	metrics.SelectionsTotal.WithLabelValues(algorithm, t.ID).Inc()
	logger.LogSelection(algorithm, t.ID, candidates)
}

// selectRoundRobin advances the shared cursor on every call, including
// repeats, and indexes into the current healthy set.
func (b *Balancer) selectRoundRobin(healthy []registry.Target) registry.Target {
	idx := b.cursor.Add(1) - 1
	return healthy[idx%uint64(len(healthy))]
}

// selectLeastConnections returns the first healthy target with the minimum
// in-flight connection count.
func (b *Balancer) selectLeastConnections(healthy []registry.Target) registry.Target {
	selected := healthy[0]
	for _, t := range healthy[1:] {
		if t.Connections < selected.Connections {
			selected = t
		}
	}
	return selected
}

// selectWeightedRandom draws r uniformly from [0, sum(weight)) and walks the
// list subtracting weights; the target where r first drops below zero wins.
// Over many trials selection frequency converges to weight/totalWeight.
func (b *Balancer) selectWeightedRandom(healthy []registry.Target) registry.Target {
	var total float64
	for _, t := range healthy {
		total += t.Weight
	}

	r := rand.Float64() * total
	for _, t := range healthy {
		r -= t.Weight
		if r <= 0 {
			return t
		}
	}
	// Floating point remainder lands on the last target.
	return healthy[len(healthy)-1]
}
