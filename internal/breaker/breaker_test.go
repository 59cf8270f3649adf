package breaker

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		FailureThreshold: 3,
		RecoveryTimeout:  50 * time.Millisecond,
		Window:           time.Second,
	}
}

var errBoom = errors.New("boom")

func TestBreaker_InitialState(t *testing.T) {
	b := New("t1", DefaultConfig())

	if b.State() != StateClosed {
		t.Errorf("expected StateClosed, got %s", b.State())
	}
	if err := b.Allow(); err != nil {
		t.Errorf("closed breaker must allow calls, got %v", err)
	}
}

func TestBreaker_OpensOnThreshold(t *testing.T) {
	b := New("t1", testConfig())

	b.RecordFailure()
	b.RecordFailure()
	if b.State() != StateClosed {
		t.Fatal("breaker must stay closed below threshold")
	}

	b.RecordFailure()
	if b.State() != StateOpen {
		t.Errorf("expected StateOpen at threshold, got %s", b.State())
	}

	// A fourth failure does not change state further.
	b.RecordFailure()
	if b.State() != StateOpen {
		t.Errorf("expected StateOpen after extra failure, got %s", b.State())
	}
}

func TestBreaker_OpenRejects(t *testing.T) {
	b := New("t1", Config{FailureThreshold: 1, RecoveryTimeout: time.Minute, Window: time.Minute})

	b.RecordFailure()
	if err := b.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestBreaker_WindowPrunesOldFailures(t *testing.T) {
	b := New("t1", Config{FailureThreshold: 3, RecoveryTimeout: time.Minute, Window: 40 * time.Millisecond})

	b.RecordFailure()
	b.RecordFailure()
	time.Sleep(60 * time.Millisecond)

	// Earlier failures expired out of the window; this one starts fresh.
	b.RecordFailure()
	if b.State() != StateClosed {
		t.Errorf("expected StateClosed, got %s", b.State())
	}
	if got := b.FailuresInWindow(); got != 1 {
		t.Errorf("expected 1 failure in window, got %d", got)
	}
}

func TestBreaker_HalfOpenRecoverySuccess(t *testing.T) {
	b := New("t1", testConfig())
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	if b.State() != StateOpen {
		t.Fatal("expected open")
	}

	time.Sleep(60 * time.Millisecond)

	// First caller after the recovery timeout is admitted as the trial.
	if err := b.Allow(); err != nil {
		t.Fatalf("expected trial admission, got %v", err)
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("expected StateHalfOpen, got %s", b.State())
	}

	// Concurrent callers are rejected while the trial is in flight.
	if err := b.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected rejection during trial, got %v", err)
	}

	b.RecordSuccess()
	if b.State() != StateClosed {
		t.Errorf("expected StateClosed after trial success, got %s", b.State())
	}
	if got := b.FailuresInWindow(); got != 0 {
		t.Errorf("expected cleared failure history, got %d", got)
	}
	if err := b.Allow(); err != nil {
		t.Errorf("closed breaker must allow calls, got %v", err)
	}
}

func TestBreaker_HalfOpenRecoveryFailure(t *testing.T) {
	b := New("t1", testConfig())
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}

	time.Sleep(60 * time.Millisecond)

	if err := b.Allow(); err != nil {
		t.Fatalf("expected trial admission, got %v", err)
	}
	b.RecordFailure()

	if b.State() != StateOpen {
		t.Errorf("expected StateOpen after trial failure, got %s", b.State())
	}
	if err := b.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected rejection after reopen, got %v", err)
	}
}

func TestBreaker_HalfOpenSingleTrial_Concurrent(t *testing.T) {
	b := New("t1", testConfig())
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	time.Sleep(60 * time.Millisecond)

	const callers = 32
	var admitted int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if b.Allow() == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admitted != 1 {
		t.Errorf("exactly one caller may hold the half-open trial, got %d", admitted)
	}
}

func TestBreaker_Execute(t *testing.T) {
	b := New("t1", Config{FailureThreshold: 2, RecoveryTimeout: time.Minute, Window: time.Minute})

	if err := b.Execute(func() error { return nil }); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	if err := b.Execute(func() error { return errBoom }); !errors.Is(err, errBoom) {
		t.Errorf("expected errBoom, got %v", err)
	}
	if err := b.Execute(func() error { return errBoom }); !errors.Is(err, errBoom) {
		t.Errorf("expected errBoom, got %v", err)
	}

	// Threshold reached: fn must not run anymore.
	ran := false
	err := b.Execute(func() error { ran = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
	if ran {
		t.Error("fn must not run while the circuit is open")
	}
}

func TestBreaker_Reset(t *testing.T) {
	b := New("t1", Config{FailureThreshold: 1, RecoveryTimeout: time.Minute, Window: time.Minute})

	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatal("expected open")
	}

	b.Reset()
	if b.State() != StateClosed {
		t.Errorf("expected StateClosed after reset, got %s", b.State())
	}
	if got := b.FailuresInWindow(); got != 0 {
		t.Errorf("expected empty failure history after reset, got %d", got)
	}
}

func TestBreaker_Counts(t *testing.T) {
	b := New("t1", DefaultConfig())

	b.RecordSuccess()
	b.RecordSuccess()
	b.RecordFailure()

	failures, successes := b.Counts()
	if failures != 1 || successes != 2 {
		t.Errorf("expected 1 failure / 2 successes, got %d / %d", failures, successes)
	}
}

func TestManager_GetOrCreate(t *testing.T) {
	m := NewManager(DefaultConfig())

	b1 := m.GetOrCreate("a")
	b2 := m.GetOrCreate("a")
	if b1 != b2 {
		t.Error("expected the same breaker instance per key")
	}

	b3 := m.GetOrCreate("b")
	if b3 == b1 {
		t.Error("expected distinct breakers per key")
	}
}

func TestManager_GetStatus(t *testing.T) {
	m := NewManager(Config{FailureThreshold: 1, RecoveryTimeout: time.Minute, Window: time.Minute})

	m.GetOrCreate("a").RecordFailure()
	m.GetOrCreate("b").RecordSuccess()

	status := m.GetStatus()
	if status["a"].State != "open" {
		t.Errorf("expected a open, got %s", status["a"].State)
	}
	if status["a"].Failures != 1 {
		t.Errorf("expected 1 failure for a, got %d", status["a"].Failures)
	}
	if status["b"].Successes != 1 {
		t.Errorf("expected 1 success for b, got %d", status["b"].Successes)
	}
}

func TestManager_ResetAll(t *testing.T) {
	m := NewManager(Config{FailureThreshold: 1, RecoveryTimeout: time.Minute, Window: time.Minute})
	m.GetOrCreate("a").RecordFailure()
	m.GetOrCreate("b").RecordFailure()

	m.ResetAll()

	for _, key := range []string{"a", "b"} {
		if s := m.GetOrCreate(key).State(); s != StateClosed {
			t.Errorf("breaker %s: expected closed after ResetAll, got %s", key, s)
		}
	}
}

func TestManager_ConcurrentGetOrCreate(t *testing.T) {
	m := NewManager(DefaultConfig())

	var wg sync.WaitGroup
	results := make([]*Breaker, 16)
	for i := range results {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			results[n] = m.GetOrCreate("shared")
		}(i)
	}
	wg.Wait()

	for i := 1; i < len(results); i++ {
		if results[i] != results[0] {
			t.Fatal("concurrent GetOrCreate must return one instance")
		}
	}
}

func TestBreaker_SetConfig(t *testing.T) {
	b := New("t1", Config{FailureThreshold: 5, RecoveryTimeout: time.Minute, Window: time.Minute})

	b.RecordFailure()
	b.RecordFailure()
	if b.State() != StateClosed {
		t.Fatal("breaker must stay closed below threshold")
	}

	// Lowering the threshold applies to the next failure.
	b.SetConfig(Config{FailureThreshold: 3, RecoveryTimeout: time.Minute, Window: time.Minute})
	b.RecordFailure()
	if b.State() != StateOpen {
		t.Errorf("expected StateOpen after lowered threshold, got %s", b.State())
	}
}

func TestManager_UpdateConfig(t *testing.T) {
	m := NewManager(Config{FailureThreshold: 5, RecoveryTimeout: time.Minute, Window: time.Minute})
	a := m.GetOrCreate("a")

	m.UpdateConfig(Config{FailureThreshold: 1, RecoveryTimeout: time.Minute, Window: time.Minute})

	// Existing breaker picked up the new threshold.
	a.RecordFailure()
	if a.State() != StateOpen {
		t.Errorf("existing breaker: expected StateOpen, got %s", a.State())
	}

	// New breakers get the new config too.
	b := m.GetOrCreate("b")
	b.RecordFailure()
	if b.State() != StateOpen {
		t.Errorf("new breaker: expected StateOpen, got %s", b.State())
	}
}
