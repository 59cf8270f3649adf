package breaker

import (
	"sync"
)

// Status is a snapshot of a single breaker for observability.
type Status struct {
	State     string `json:"state"`
	Failures  uint64 `json:"failures"`
	Successes uint64 `json:"successes"`
}

// Manager holds one breaker per key, created lazily with a shared config.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	cfg      Config
}

// NewManager creates a Manager that configures new breakers with cfg.
func NewManager(cfg Config) *Manager {
	return &Manager{
		breakers: make(map[string]*Breaker),
		cfg:      cfg,
	}
}

// GetOrCreate returns the breaker for the key, creating it closed if absent.
func (m *Manager) GetOrCreate(key string) *Breaker {
	m.mu.RLock()
	b, exists := m.breakers[key]
	m.mu.RUnlock()

	if exists {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock
	if b, exists := m.breakers[key]; exists {
		return b
	}

	b = New(key, m.cfg)
	m.breakers[key] = b
	return b
}

// UpdateConfig replaces the shared config for new breakers and pushes it to
// every existing breaker.
func (m *Manager) UpdateConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cfg = cfg
	for _, b := range m.breakers {
		b.SetConfig(cfg)
	}
}

// Remove deletes the breaker for the key, if any.
func (m *Manager) Remove(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.breakers, key)
}

// Reset forces the breaker for the key closed. No-op for unknown keys.
func (m *Manager) Reset(key string) {
	m.mu.RLock()
	b, exists := m.breakers[key]
	m.mu.RUnlock()

	if exists {
		b.Reset()
	}
}

// ResetAll forces every known breaker closed.
func (m *Manager) ResetAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, b := range m.breakers {
		b.Reset()
	}
}

// GetStatus returns a snapshot of all breakers keyed by target id.
func (m *Manager) GetStatus() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := make(map[string]Status, len(m.breakers))
	for key, b := range m.breakers {
		failures, successes := b.Counts()
		status[key] = Status{
			State:     b.State().String(),
			Failures:  failures,
			Successes: successes,
		}
	}
	return status
}
