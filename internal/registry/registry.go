// Package registry holds the set of routable upstream targets and their
// live health and usage state.
package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/routekit/chainroute/internal/logger"
)

// Target is a routable upstream endpoint, e.g. one blockchain RPC provider.
// Endpoints is an ordered list of connection URIs used for fallback within
// the target. Runtime state (Healthy, Connections, counters) is owned by
// the Registry; callers always receive copies.
type Target struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Endpoints []string `json:"endpoints"`
	Weight    float64  `json:"weight"`
	Priority  int      `json:"priority"` // lower = preferred

	Healthy         bool      `json:"healthy"`
	Connections     int       `json:"connections"`
	FailureCount    uint64    `json:"failure_count"`
	SuccessCount    uint64    `json:"success_count"`
	LastUsed        time.Time `json:"last_used"`
	LastFailureTime time.Time `json:"last_failure_time"`
}

// clone returns a deep copy of the target.
func (t *Target) clone() Target {
	c := *t
	c.Endpoints = make([]string, len(t.Endpoints))
	copy(c.Endpoints, t.Endpoints)
	return c
}

// Registry is the shared target registry. All mutations happen under a
// single RWMutex; snapshot reads return copies so callers can iterate
// while the registry is mutated concurrently.
type Registry struct {
	mu      sync.RWMutex
	targets map[string]*Target
	order   []string // insertion order, gives snapshots a stable iteration order
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		targets: make(map[string]*Target),
	}
}

// AddTarget inserts a target. Re-adding an existing id overwrites it.
// Runtime state starts fresh: healthy, no connections, zeroed counters.
func (r *Registry) AddTarget(t Target) error {
	if t.ID == "" {
		return fmt.Errorf("target id must not be empty")
	}
	if t.Weight <= 0 {
		return fmt.Errorf("target %s: weight must be positive, got %v", t.ID, t.Weight)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.targets[t.ID]; !exists {
		r.order = append(r.order, t.ID)
	}
	stored := Target{
		ID:        t.ID,
		Name:      t.Name,
		Endpoints: append([]string(nil), t.Endpoints...),
		Weight:    t.Weight,
		Priority:  t.Priority,
		Healthy:   true,
	}
	r.targets[t.ID] = &stored

	logger.Debug("target_added", "target_id", t.ID, "weight", t.Weight, "endpoints", len(t.Endpoints))
	return nil
}

// RemoveTarget deletes a target. Removing an absent id is a no-op.
func (r *Registry) RemoveTarget(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.targets[id]; !ok {
		return
	}
	delete(r.targets, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	logger.Debug("target_removed", "target_id", id)
}

// UpdateHealth sets the health flag. No-op if the target is absent.
func (r *Registry) UpdateHealth(id string, healthy bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.targets[id]
	if !ok {
		return
	}
	t.Healthy = healthy
}

// UpdateWeight changes a target's weight at runtime. Non-positive weights
// are rejected. No-op if the target is absent.
func (r *Registry) UpdateWeight(id string, weight float64) error {
	if weight <= 0 {
		return fmt.Errorf("target %s: weight must be positive, got %v", id, weight)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.targets[id]
	if !ok {
		return nil
	}
	if t.Weight != weight {
		logger.Info("target_weight_updated", "target_id", id, "old", t.Weight, "new", weight)
		t.Weight = weight
	}
	return nil
}

// MarkSuccess increments the success counter and stamps last use.
func (r *Registry) MarkSuccess(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.targets[id]
	if !ok {
		return
	}
	t.SuccessCount++
	t.LastUsed = time.Now()
}

// MarkFailure increments the failure counter and stamps the failure time.
func (r *Registry) MarkFailure(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.targets[id]
	if !ok {
		return
	}
	t.FailureCount++
	t.LastFailureTime = time.Now()
}

// IncConnections increments the in-flight dispatch count.
func (r *Registry) IncConnections(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.targets[id]; ok {
		t.Connections++
	}
}

// DecConnections decrements the in-flight dispatch count, never below zero.
func (r *Registry) DecConnections(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.targets[id]; ok && t.Connections > 0 {
		t.Connections--
	}
}

// HealthyTargets returns a point-in-time copy of all healthy targets in
// insertion order.
func (r *Registry) HealthyTargets() []Target {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Target, 0, len(r.order))
	for _, id := range r.order {
		if t := r.targets[id]; t.Healthy {
			result = append(result, t.clone())
		}
	}
	return result
}

// AllTargets returns a point-in-time copy of all targets in insertion order.
func (r *Registry) AllTargets() []Target {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Target, 0, len(r.order))
	for _, id := range r.order {
		result = append(result, r.targets[id].clone())
	}
	return result
}

// GetTarget returns a copy of the target with the given id.
func (r *Registry) GetTarget(id string) (Target, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.targets[id]
	if !ok {
		return Target{}, false
	}
	return t.clone(), true
}

// Len returns the number of registered targets.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.targets)
}
