// Package health provides periodic target health probing.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/routekit/chainroute/internal/logger"
	"github.com/routekit/chainroute/internal/metrics"
	"github.com/routekit/chainroute/internal/registry"
)

// ProbeFunc checks whether a target is reachable. A non-nil error marks the
// target unhealthy. The context carries the probe timeout.
type ProbeFunc func(ctx context.Context, target registry.Target) error

// MonitorConfig holds configuration for the Monitor.
type MonitorConfig struct {
	Probe    ProbeFunc
	Interval time.Duration
	Timeout  time.Duration
	// FailureThreshold is the number of consecutive probe failures before
	// the registry flag flips to unhealthy. 1 flips on the first failure.
	FailureThreshold int
	// SuccessThreshold is the number of consecutive probe successes before
	// an unhealthy target is marked healthy again.
	SuccessThreshold int
}

// targetStatus tracks consecutive probe outcomes for one target.
type targetStatus struct {
	healthy              bool
	consecutiveFailures  int
	consecutiveSuccesses int
	lastChecked          time.Time
	lastError            error
}

// Monitor probes every registered target on a fixed interval and keeps the
// registry's health flags current. Probes run concurrently, so one slow or
// hanging probe never delays the others. Probe failures are contained: they
// become health-flag updates, never errors visible to callers.
type Monitor struct {
	config   MonitorConfig
	registry *registry.Registry
	statuses map[string]*targetStatus
	stopCh   chan struct{}
	wg       sync.WaitGroup
	mu       sync.RWMutex
}

// HealthStatus is the summary returned by GetHealthStatus.
type HealthStatus struct {
	Healthy     bool            `json:"healthy"`
	Targets     map[string]bool `json:"targets"`
	LastChecked time.Time       `json:"last_checked"`
}

// NewMonitor creates a Monitor over the registry.
func NewMonitor(reg *registry.Registry, cfg MonitorConfig) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 1
	}
	if cfg.SuccessThreshold < 1 {
		cfg.SuccessThreshold = 1
	}

	return &Monitor{
		config:   cfg,
		registry: reg,
		statuses: make(map[string]*targetStatus),
		stopCh:   make(chan struct{}),
	}
}

// Start starts the probe loop.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.probeLoop()
	logger.Info("health_monitor_started",
		"interval", m.config.Interval,
		"timeout", m.config.Timeout,
		"failure_threshold", m.config.FailureThreshold,
		"success_threshold", m.config.SuccessThreshold,
	)
}

// Stop stops the monitor and waits for in-flight probes.
func (m *Monitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
	logger.Info("health_monitor_stopped")
}

// GetHealthStatus returns a point-in-time health summary. Healthy is true
// when at least one target is healthy.
func (m *Monitor) GetHealthStatus() HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := HealthStatus{
		Targets: make(map[string]bool, len(m.statuses)),
	}
	for id, ts := range m.statuses {
		status.Targets[id] = ts.healthy
		if ts.healthy {
			status.Healthy = true
		}
		if ts.lastChecked.After(status.LastChecked) {
			status.LastChecked = ts.lastChecked
		}
	}
	return status
}

// probeLoop runs an initial probe pass immediately, then one per tick.
func (m *Monitor) probeLoop() {
	defer m.wg.Done()

	m.probeAll()

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.probeAll()
		case <-m.stopCh:
			return
		}
	}
}

// probeAll probes every registered target concurrently and waits for the
// pass to finish.
func (m *Monitor) probeAll() {
	targets := m.registry.AllTargets()

	var wg sync.WaitGroup
	for _, t := range targets {
		wg.Add(1)
		go func(t registry.Target) {
			defer wg.Done()
			m.probeTarget(t)
		}(t)
	}
	wg.Wait()
}

// probeTarget runs one probe and records the outcome. A panicking probe is
// treated as a failed probe.
func (m *Monitor) probeTarget(t registry.Target) {
	ctx, cancel := context.WithTimeout(context.Background(), m.config.Timeout)
	defer cancel()

	start := time.Now()
	err := m.runProbe(ctx, t)
	duration := time.Since(start)

	metrics.ProbeDuration.WithLabelValues(t.ID).Observe(duration.Seconds())

	if err != nil {
		metrics.ProbeTotal.WithLabelValues(t.ID, "failure").Inc()
		m.recordFailure(t.ID, err)
	} else {
		metrics.ProbeTotal.WithLabelValues(t.ID, "success").Inc()
		m.recordSuccess(t.ID)
	}
}

// runProbe invokes the probe function, converting a panic into an error so
// a misbehaving probe can never take down the monitor loop.
func (m *Monitor) runProbe(ctx context.Context, t registry.Target) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("probe panicked: %v", r)
		}
	}()
	return m.config.Probe(ctx, t)
}

// getOrCreateStatus returns the tracked status for a target id. New targets
// start healthy, mirroring the registry default.
func (m *Monitor) getOrCreateStatus(id string) *targetStatus {
	if ts, ok := m.statuses[id]; ok {
		return ts
	}
	ts := &targetStatus{healthy: true}
	m.statuses[id] = ts
	return ts
}

func (m *Monitor) recordFailure(id string, probeErr error) {
	m.mu.Lock()
	ts := m.getOrCreateStatus(id)
	ts.lastChecked = time.Now()
	ts.lastError = probeErr
	ts.consecutiveSuccesses = 0
	ts.consecutiveFailures++
	flipped := ts.healthy && ts.consecutiveFailures >= m.config.FailureThreshold
	if flipped {
		ts.healthy = false
	}
	failures := ts.consecutiveFailures
	m.mu.Unlock()

	if flipped {
		m.registry.UpdateHealth(id, false)
		metrics.TargetHealth.WithLabelValues(id).Set(0)
		logger.Warn("target_health_changed",
			"target_id", id,
			"healthy", false,
			"error", probeErr.Error(),
		)
	} else {
		logger.Debug("health_probe_failed",
			"target_id", id,
			"error", probeErr.Error(),
			"consecutive_failures", failures,
		)
	}
}

func (m *Monitor) recordSuccess(id string) {
	m.mu.Lock()
	ts := m.getOrCreateStatus(id)
	ts.lastChecked = time.Now()
	ts.lastError = nil
	ts.consecutiveFailures = 0
	ts.consecutiveSuccesses++
	flipped := !ts.healthy && ts.consecutiveSuccesses >= m.config.SuccessThreshold
	if flipped {
		ts.healthy = true
	}
	m.mu.Unlock()

	if flipped {
		m.registry.UpdateHealth(id, true)
		metrics.TargetHealth.WithLabelValues(id).Set(1)
		logger.Info("target_health_changed", "target_id", id, "healthy", true)
	}
}
