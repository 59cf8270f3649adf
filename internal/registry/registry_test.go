package registry

import (
	"fmt"
	"sync"
	"testing"
)

func testTarget(id string, weight float64) Target {
	return Target{
		ID:        id,
		Name:      "Target " + id,
		Endpoints: []string{"https://" + id + ".example.com/rpc"},
		Weight:    weight,
	}
}

func TestRegistry_AddTarget(t *testing.T) {
	r := New()

	if err := r.AddTarget(testTarget("a", 1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, ok := r.GetTarget("a")
	if !ok {
		t.Fatal("expected target to exist")
	}
	if !got.Healthy {
		t.Error("new target should start healthy")
	}
	if got.Connections != 0 || got.FailureCount != 0 || got.SuccessCount != 0 {
		t.Error("new target should start with zeroed counters")
	}
}

func TestRegistry_AddTarget_Validation(t *testing.T) {
	r := New()

	if err := r.AddTarget(testTarget("", 1)); err == nil {
		t.Error("expected error for empty id")
	}
	if err := r.AddTarget(testTarget("a", 0)); err == nil {
		t.Error("expected error for zero weight")
	}
	if err := r.AddTarget(testTarget("a", -2)); err == nil {
		t.Error("expected error for negative weight")
	}
	if r.Len() != 0 {
		t.Errorf("invalid targets must not be stored, got %d", r.Len())
	}
}

func TestRegistry_AddTarget_OverwriteResetsState(t *testing.T) {
	r := New()
	r.AddTarget(testTarget("a", 1))
	r.MarkFailure("a")
	r.UpdateHealth("a", false)

	// Re-adding the same id overwrites and resets runtime state.
	if err := r.AddTarget(testTarget("a", 3)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _ := r.GetTarget("a")
	if !got.Healthy {
		t.Error("re-added target should be healthy")
	}
	if got.FailureCount != 0 {
		t.Error("re-added target should have zeroed failure count")
	}
	if got.Weight != 3 {
		t.Errorf("expected weight 3, got %v", got.Weight)
	}
	if r.Len() != 1 {
		t.Errorf("expected 1 target, got %d", r.Len())
	}
}

func TestRegistry_RemoveTarget(t *testing.T) {
	r := New()
	r.AddTarget(testTarget("a", 1))
	r.AddTarget(testTarget("b", 1))

	r.RemoveTarget("a")
	if _, ok := r.GetTarget("a"); ok {
		t.Error("expected target to be removed")
	}
	if r.Len() != 1 {
		t.Errorf("expected 1 target, got %d", r.Len())
	}

	// Removing an absent id is a no-op.
	r.RemoveTarget("missing")
	if r.Len() != 1 {
		t.Errorf("expected 1 target after no-op remove, got %d", r.Len())
	}
}

func TestRegistry_UpdateHealth(t *testing.T) {
	r := New()
	r.AddTarget(testTarget("a", 1))

	r.UpdateHealth("a", false)
	got, _ := r.GetTarget("a")
	if got.Healthy {
		t.Error("expected target to be unhealthy")
	}

	r.UpdateHealth("a", true)
	got, _ = r.GetTarget("a")
	if !got.Healthy {
		t.Error("expected target to be healthy again")
	}

	// Absent id is a no-op, not a panic.
	r.UpdateHealth("missing", false)
}

func TestRegistry_MarkSuccessFailure(t *testing.T) {
	r := New()
	r.AddTarget(testTarget("a", 1))

	r.MarkSuccess("a")
	r.MarkSuccess("a")
	r.MarkFailure("a")

	got, _ := r.GetTarget("a")
	if got.SuccessCount != 2 {
		t.Errorf("expected 2 successes, got %d", got.SuccessCount)
	}
	if got.FailureCount != 1 {
		t.Errorf("expected 1 failure, got %d", got.FailureCount)
	}
	if got.LastUsed.IsZero() {
		t.Error("expected LastUsed to be set")
	}
	if got.LastFailureTime.IsZero() {
		t.Error("expected LastFailureTime to be set")
	}
}

func TestRegistry_Connections(t *testing.T) {
	r := New()
	r.AddTarget(testTarget("a", 1))

	r.IncConnections("a")
	r.IncConnections("a")
	r.DecConnections("a")

	got, _ := r.GetTarget("a")
	if got.Connections != 1 {
		t.Errorf("expected 1 connection, got %d", got.Connections)
	}

	// Never below zero.
	r.DecConnections("a")
	r.DecConnections("a")
	got, _ = r.GetTarget("a")
	if got.Connections != 0 {
		t.Errorf("expected 0 connections, got %d", got.Connections)
	}
}

func TestRegistry_HealthyTargets(t *testing.T) {
	r := New()
	r.AddTarget(testTarget("a", 1))
	r.AddTarget(testTarget("b", 1))
	r.AddTarget(testTarget("c", 1))
	r.UpdateHealth("b", false)

	healthy := r.HealthyTargets()
	if len(healthy) != 2 {
		t.Fatalf("expected 2 healthy targets, got %d", len(healthy))
	}
	// Insertion order is preserved.
	if healthy[0].ID != "a" || healthy[1].ID != "c" {
		t.Errorf("expected [a c], got [%s %s]", healthy[0].ID, healthy[1].ID)
	}
}

func TestRegistry_HealthyTargets_SnapshotIsolation(t *testing.T) {
	r := New()
	r.AddTarget(testTarget("a", 1))

	snapshot := r.HealthyTargets()
	snapshot[0].Weight = 999
	snapshot[0].Endpoints[0] = "mutated"

	got, _ := r.GetTarget("a")
	if got.Weight != 1 {
		t.Error("mutating a snapshot must not affect the registry")
	}
	if got.Endpoints[0] == "mutated" {
		t.Error("snapshot endpoints must be copies")
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := New()
	for i := 0; i < 10; i++ {
		r.AddTarget(testTarget(fmt.Sprintf("t%d", i), 1))
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("t%d", n)
			for j := 0; j < 500; j++ {
				r.IncConnections(id)
				r.MarkSuccess(id)
				r.HealthyTargets()
				r.UpdateHealth(id, j%2 == 0)
				r.DecConnections(id)
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < 8; i++ {
		got, _ := r.GetTarget(fmt.Sprintf("t%d", i))
		if got.Connections != 0 {
			t.Errorf("target t%d: expected 0 connections, got %d", i, got.Connections)
		}
		if got.SuccessCount != 500 {
			t.Errorf("target t%d: expected 500 successes, got %d", i, got.SuccessCount)
		}
	}
}
