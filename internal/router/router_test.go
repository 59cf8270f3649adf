package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/routekit/chainroute/internal/balancer"
	"github.com/routekit/chainroute/internal/breaker"
	"github.com/routekit/chainroute/internal/registry"
)

type fixture struct {
	registry *registry.Registry
	breakers *breaker.Manager
	router   *Router
	calls    *[]string
}

func newFixture(t *testing.T, dispatch DispatchFunc, ids ...string) *fixture {
	t.Helper()
	reg := registry.New()
	for _, id := range ids {
		err := reg.AddTarget(registry.Target{
			ID:        id,
			Name:      "Target " + id,
			Endpoints: []string{"https://" + id + ".example.com/rpc"},
			Weight:    1,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	var calls []string
	mgr := breaker.NewManager(breaker.Config{
		FailureThreshold: 2,
		RecoveryTimeout:  time.Minute,
		Window:           time.Minute,
	})
	wrapped := func(ctx context.Context, target registry.Target, payload any) (any, error) {
		calls = append(calls, target.ID)
		return dispatch(ctx, target, payload)
	}
	r := New(Config{
		Registry: reg,
		Balancer: balancer.New(reg, balancer.RoundRobin),
		Breakers: mgr,
		Dispatch: wrapped,
	})
	return &fixture{registry: reg, breakers: mgr, router: r, calls: &calls}
}

func okDispatch(ctx context.Context, target registry.Target, payload any) (any, error) {
	return "result", nil
}

var errDispatch = errors.New("connection refused")

func failDispatch(ctx context.Context, target registry.Target, payload any) (any, error) {
	return nil, errDispatch
}

func TestRoute_Success(t *testing.T) {
	f := newFixture(t, okDispatch, "a")

	resp := f.router.Route(context.Background(), Request{Payload: "ping"})

	if !resp.OK() {
		t.Fatalf("expected success, got %v", resp.Err)
	}
	if resp.TargetID != "a" {
		t.Errorf("expected target a, got %s", resp.TargetID)
	}
	if resp.Result != "result" {
		t.Errorf("expected dispatch result, got %v", resp.Result)
	}
	if resp.RequestID == "" {
		t.Error("expected a request id")
	}

	got, _ := f.registry.GetTarget("a")
	// One selection touch plus one outcome success.
	if got.SuccessCount != 2 {
		t.Errorf("expected 2 recorded successes, got %d", got.SuccessCount)
	}
	if got.Connections != 0 {
		t.Errorf("connections must be balanced after dispatch, got %d", got.Connections)
	}
}

func TestRoute_TransportFailure(t *testing.T) {
	f := newFixture(t, failDispatch, "a")

	resp := f.router.Route(context.Background(), Request{Payload: "ping"})

	if resp.OK() {
		t.Fatal("expected failure")
	}
	if resp.Err.Kind != KindTransport {
		t.Errorf("expected transport_error, got %s", resp.Err.Kind)
	}
	if resp.Err.TargetID != "a" {
		t.Errorf("failure must identify the target, got %q", resp.Err.TargetID)
	}
	if !errors.Is(resp.Err, errDispatch) {
		t.Error("structured error must unwrap to the dispatch error")
	}

	got, _ := f.registry.GetTarget("a")
	if got.FailureCount != 1 {
		t.Errorf("expected 1 recorded failure, got %d", got.FailureCount)
	}
	if got.Connections != 0 {
		t.Errorf("connections must be balanced after failure, got %d", got.Connections)
	}
}

func TestRoute_NoHealthyTargets(t *testing.T) {
	f := newFixture(t, okDispatch, "a")
	f.registry.UpdateHealth("a", false)

	resp := f.router.Route(context.Background(), Request{Payload: "ping"})

	if resp.OK() {
		t.Fatal("expected failure")
	}
	if resp.Err.Kind != KindNoHealthyTargets {
		t.Errorf("expected no_healthy_targets, got %s", resp.Err.Kind)
	}
	if len(*f.calls) != 0 {
		t.Error("transport must not be called without a healthy target")
	}
}

func TestRoute_BreakerOpen(t *testing.T) {
	f := newFixture(t, failDispatch, "a")

	// Threshold is 2: two failing routes open the breaker.
	f.router.Route(context.Background(), Request{})
	f.router.Route(context.Background(), Request{})

	resp := f.router.Route(context.Background(), Request{})
	if resp.Err == nil || resp.Err.Kind != KindCircuitOpen {
		t.Fatalf("expected circuit_open, got %+v", resp.Err)
	}
	if resp.Err.TargetID != "a" {
		t.Errorf("breaker response must be tagged with the target id, got %q", resp.Err.TargetID)
	}
	if len(*f.calls) != 2 {
		t.Errorf("open breaker must not dispatch, got %d calls", len(*f.calls))
	}
}

func TestRoute_NoFallbackWithinOneCall(t *testing.T) {
	f := newFixture(t, failDispatch, "a", "b")

	// Open a's breaker.
	f.router.Route(context.Background(), Request{PreferredTargetID: "a"})
	f.router.Route(context.Background(), Request{PreferredTargetID: "a"})

	resp := f.router.Route(context.Background(), Request{PreferredTargetID: "a"})
	if resp.Err == nil || resp.Err.Kind != KindCircuitOpen {
		t.Fatalf("expected circuit_open for the pinned target, got %+v", resp.Err)
	}
	// The router must not have silently retried b; a fresh Route call is
	// the caller's fallback mechanism.
	for _, id := range *f.calls {
		if id == "b" {
			t.Fatal("router fell through to a different target within one call")
		}
	}
}

func TestRoute_PreferredTarget(t *testing.T) {
	f := newFixture(t, okDispatch, "a", "b", "c")

	for i := 0; i < 4; i++ {
		resp := f.router.Route(context.Background(), Request{PreferredTargetID: "b"})
		if resp.TargetID != "b" {
			t.Errorf("expected preferred target b, got %s", resp.TargetID)
		}
	}
}

func TestRoute_ConnectionsTrackedDuringDispatch(t *testing.T) {
	var seen int
	f := newFixture(t, nil, "a")
	// Dispatch observes its own in-flight count.
	f.router.dispatch = func(ctx context.Context, target registry.Target, payload any) (any, error) {
		got, _ := f.registry.GetTarget("a")
		seen = got.Connections
		return nil, nil
	}

	f.router.Route(context.Background(), Request{})
	if seen != 1 {
		t.Errorf("expected 1 in-flight connection during dispatch, got %d", seen)
	}
}

func TestRoute_RequestIDPropagation(t *testing.T) {
	var insideID string
	f := newFixture(t, nil, "a")
	f.router.dispatch = func(ctx context.Context, target registry.Target, payload any) (any, error) {
		insideID = RequestIDFromContext(ctx)
		return nil, nil
	}

	resp := f.router.Route(context.Background(), Request{})
	if insideID == "" || insideID != resp.RequestID {
		t.Errorf("request id must flow through the dispatch context: %q vs %q", insideID, resp.RequestID)
	}

	// A caller-supplied request id is preserved.
	ctx := ContextWithRequestID(context.Background(), "caller-id")
	resp = f.router.Route(ctx, Request{})
	if resp.RequestID != "caller-id" {
		t.Errorf("expected caller-supplied id, got %q", resp.RequestID)
	}
}

func TestStatus(t *testing.T) {
	f := newFixture(t, okDispatch, "a", "b")
	f.registry.UpdateHealth("b", false)
	f.router.Route(context.Background(), Request{})

	status := f.router.Status()
	if status.Algorithm != "round_robin" {
		t.Errorf("expected round_robin, got %s", status.Algorithm)
	}
	if status.TotalTargets != 2 || status.HealthyTargets != 1 {
		t.Errorf("expected 2 total / 1 healthy, got %d / %d", status.TotalTargets, status.HealthyTargets)
	}
	if len(status.Targets) != 2 {
		t.Fatalf("expected 2 target rows, got %d", len(status.Targets))
	}
}

func TestMetrics_IncludesBreakers(t *testing.T) {
	f := newFixture(t, failDispatch, "a")
	f.router.Route(context.Background(), Request{})
	f.router.Route(context.Background(), Request{})

	m := f.router.Metrics()
	bs, ok := m.Breakers["a"]
	if !ok {
		t.Fatal("expected breaker snapshot for a")
	}
	if bs.State != "open" {
		t.Errorf("expected open breaker, got %s", bs.State)
	}
	if bs.Failures != 2 {
		t.Errorf("expected 2 breaker failures, got %d", bs.Failures)
	}
}

func TestGenerateRequestID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := GenerateRequestID()
		if seen[id] {
			t.Fatalf("duplicate request id: %s", id)
		}
		seen[id] = true
	}
}
