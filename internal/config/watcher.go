package config

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/routekit/chainroute/internal/logger"
)

// ConfigWatcher watches a configuration file for changes and notifies callbacks.
type ConfigWatcher struct {
	path      string
	current   atomic.Value // *Config
	watcher   *fsnotify.Watcher
	callbacks []func(*Config)
	stopCh    chan struct{}
	mu        sync.RWMutex
}

// NewConfigWatcher creates a new ConfigWatcher for the given config file path.
func NewConfigWatcher(path string, initial *Config) (*ConfigWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	cw := &ConfigWatcher{
		path:    path,
		watcher: watcher,
		stopCh:  make(chan struct{}),
	}
	cw.current.Store(initial)

	return cw, nil
}

// Start begins watching the configuration file for changes.
func (w *ConfigWatcher) Start() error {
	if err := w.watcher.Add(w.path); err != nil {
		return err
	}

	go w.watchLoop()
	logger.Info("config_watcher_started", "path", w.path)
	return nil
}

// Stop stops the configuration watcher.
func (w *ConfigWatcher) Stop() {
	close(w.stopCh)
	w.watcher.Close()
	logger.Info("config_watcher_stopped")
}

// Current returns the current configuration.
func (w *ConfigWatcher) Current() *Config {
	return w.current.Load().(*Config)
}

// RegisterCallback adds a callback to be called when configuration changes.
func (w *ConfigWatcher) RegisterCallback(fn func(*Config)) {
	w.mu.Lock()
	w.callbacks = append(w.callbacks, fn)
	w.mu.Unlock()
}

// Reload manually reloads the configuration file.
func (w *ConfigWatcher) Reload() error {
	return w.reload()
}

// watchLoop watches for file changes with debouncing.
func (w *ConfigWatcher) watchLoop() {
	var debounceTimer *time.Timer
	debounceDuration := 100 * time.Millisecond

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			// Only react to write and create events
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				// Debounce: reset timer on each event
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounceDuration, func() {
					if err := w.reload(); err != nil {
						logger.Error("config_reload_failed", "error", err)
					}
				})
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Error("config_watcher_error", "error", err)

		case <-w.stopCh:
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return
		}
	}
}

// reload loads the configuration from file and notifies callbacks.
func (w *ConfigWatcher) reload() error {
	newCfg, err := LoadFromFile(w.path)
	if err != nil {
		return err
	}

	// Validate the new configuration (only reloadable fields matter)
	if err := w.validateReloadable(newCfg); err != nil {
		return err
	}

	oldCfg := w.Current()
	w.current.Store(newCfg)

	// Log what changed
	w.logChanges(oldCfg, newCfg)

	// Notify callbacks
	w.mu.RLock()
	callbacks := make([]func(*Config), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.RUnlock()

	for _, cb := range callbacks {
		cb(newCfg)
	}

	logger.Info("config_reloaded", "path", w.path)
	return nil
}

// validateReloadable validates only the hot-reloadable configuration fields.
func (w *ConfigWatcher) validateReloadable(cfg *Config) error {
	// Validate log level
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.LogLevel] {
		return &ValidationError{Field: "log_level", Message: "must be trace, debug, info, warn, or error"}
	}

	// Validate log format
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.LogFormat] {
		return &ValidationError{Field: "log_format", Message: "must be json or text"}
	}

	// Validate retry settings
	if cfg.RetryMaxAttempts < 1 {
		return &ValidationError{Field: "retry_max_attempts", Message: "must be at least 1"}
	}
	if cfg.RetryBackoffMultiplier < 1 {
		return &ValidationError{Field: "retry_backoff_multiplier", Message: "must be at least 1"}
	}

	// Validate breaker settings
	if cfg.CBFailureThreshold < 1 {
		return &ValidationError{Field: "cb_failure_threshold", Message: "must be at least 1"}
	}
	if cfg.CBRecoveryTimeout <= 0 {
		return &ValidationError{Field: "cb_recovery_timeout", Message: "must be positive"}
	}
	if cfg.CBWindow <= 0 {
		return &ValidationError{Field: "cb_window", Message: "must be positive"}
	}

	// Validate target weights; weight changes are hot-applied
	for i, t := range cfg.Targets {
		if t.Weight <= 0 {
			return &ValidationError{Field: "targets", Message: "invalid weight for target " + cfg.Targets[i].ID}
		}
	}

	return nil
}

// logChanges logs which configuration values changed.
func (w *ConfigWatcher) logChanges(old, new *Config) {
	if old.LogLevel != new.LogLevel {
		logger.Info("config_changed", "field", "log_level", "old", old.LogLevel, "new", new.LogLevel)
	}
	if old.LogFormat != new.LogFormat {
		logger.Info("config_changed", "field", "log_format", "old", old.LogFormat, "new", new.LogFormat)
	}
	if old.RetryMaxAttempts != new.RetryMaxAttempts {
		logger.Info("config_changed", "field", "retry_max_attempts", "old", old.RetryMaxAttempts, "new", new.RetryMaxAttempts)
	}
	if old.RetryInitialDelay != new.RetryInitialDelay {
		logger.Info("config_changed", "field", "retry_initial_delay", "old", old.RetryInitialDelay, "new", new.RetryInitialDelay)
	}
	if old.RetryMaxDelay != new.RetryMaxDelay {
		logger.Info("config_changed", "field", "retry_max_delay", "old", old.RetryMaxDelay, "new", new.RetryMaxDelay)
	}
	if old.RetryBackoffMultiplier != new.RetryBackoffMultiplier {
		logger.Info("config_changed", "field", "retry_backoff_multiplier", "old", old.RetryBackoffMultiplier, "new", new.RetryBackoffMultiplier)
	}
	if old.RetryJitter != new.RetryJitter {
		logger.Info("config_changed", "field", "retry_jitter", "old", old.RetryJitter, "new", new.RetryJitter)
	}
	if old.CBFailureThreshold != new.CBFailureThreshold {
		logger.Info("config_changed", "field", "cb_failure_threshold", "old", old.CBFailureThreshold, "new", new.CBFailureThreshold)
	}
	if old.CBRecoveryTimeout != new.CBRecoveryTimeout {
		logger.Info("config_changed", "field", "cb_recovery_timeout", "old", old.CBRecoveryTimeout, "new", new.CBRecoveryTimeout)
	}
	if old.CBWindow != new.CBWindow {
		logger.Info("config_changed", "field", "cb_window", "old", old.CBWindow, "new", new.CBWindow)
	}

	for _, nt := range new.Targets {
		for _, ot := range old.Targets {
			if ot.ID == nt.ID && ot.Weight != nt.Weight {
				logger.Info("config_changed", "field", "target_weight", "target", nt.ID, "old", ot.Weight, "new", nt.Weight)
			}
		}
	}

	// Warn about non-reloadable fields that changed
	if !targetSetsEqual(old.Targets, new.Targets) {
		logger.Warn("config_change_ignored", "field", "targets", "reason", "adding or removing targets requires restart")
	}
	if old.Algorithm != new.Algorithm {
		logger.Warn("config_change_ignored", "field", "algorithm", "reason", "requires restart")
	}
	if old.MetricsPort != new.MetricsPort {
		logger.Warn("config_change_ignored", "field", "metrics_port", "reason", "requires restart")
	}
	if old.DispatchTimeout != new.DispatchTimeout {
		logger.Warn("config_change_ignored", "field", "dispatch_timeout", "reason", "requires restart")
	}
	if old.HealthCheckEnabled != new.HealthCheckEnabled ||
		old.HealthCheckType != new.HealthCheckType ||
		old.HealthCheckInterval != new.HealthCheckInterval ||
		old.HealthCheckTimeout != new.HealthCheckTimeout {
		logger.Warn("config_change_ignored", "field", "health_check", "reason", "requires restart")
	}
}

// targetSetsEqual compares the set of target IDs in two target lists.
func targetSetsEqual(a, b []TargetConfig) bool {
	if len(a) != len(b) {
		return false
	}
	ids := make(map[string]bool, len(a))
	for _, t := range a {
		ids[t.ID] = true
	}
	for _, t := range b {
		if !ids[t.ID] {
			return false
		}
	}
	return true
}
