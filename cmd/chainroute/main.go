// Package main is the entry point for chainroute.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/routekit/chainroute/internal/balancer"
	"github.com/routekit/chainroute/internal/breaker"
	"github.com/routekit/chainroute/internal/config"
	"github.com/routekit/chainroute/internal/health"
	"github.com/routekit/chainroute/internal/logger"
	"github.com/routekit/chainroute/internal/metrics"
	"github.com/routekit/chainroute/internal/registry"
	"github.com/routekit/chainroute/internal/retry"
	"github.com/routekit/chainroute/internal/router"
	"github.com/routekit/chainroute/internal/transport"
)

// Version information set via ldflags at build time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	// Parse configuration
	cfg, err := config.ParseFlags()
	if err != nil {
		logger.Error("failed to parse configuration", "error", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.Init(cfg.LogLevel, cfg.LogFormat)
	logger.Info("chainroute starting",
		"version", version,
		"commit", commit,
		"date", date,
		"targets", len(cfg.Targets),
		"algorithm", cfg.Algorithm,
		"metrics_port", cfg.MetricsPort,
	)

	// Build the registry. Targets are registered in priority order so that
	// first-healthy fallback and tie-breaking prefer lower priorities.
	reg := registry.New()
	targets := make([]config.TargetConfig, len(cfg.Targets))
	copy(targets, cfg.Targets)
	sort.SliceStable(targets, func(i, j int) bool { return targets[i].Priority < targets[j].Priority })
	for _, tc := range targets {
		t := registry.Target{
			ID:        tc.ID,
			Name:      tc.Name,
			Endpoints: tc.Endpoints,
			Weight:    tc.Weight,
			Priority:  tc.Priority,
		}
		if err := reg.AddTarget(t); err != nil {
			logger.Error("failed to register target", "target", tc.ID, "error", err)
			os.Exit(1)
		}
		metrics.TargetHealth.WithLabelValues(tc.ID).Set(1)
		logger.Info("target_registered", "target", tc.ID, "endpoints", len(tc.Endpoints), "weight", tc.Weight)
	}

	// Create components
	bal := balancer.New(reg, balancer.Algorithm(cfg.Algorithm))
	breakers := breaker.NewManager(breaker.Config{
		FailureThreshold: cfg.CBFailureThreshold,
		RecoveryTimeout:  cfg.CBRecoveryTimeout,
		Window:           cfg.CBWindow,
	})

	// Retry policy is hot-reloadable; dispatch reads the current value.
	var retryCfg atomic.Value // retry.Config
	retryCfg.Store(retryConfigFrom(cfg))

	dispatcher := transport.NewDispatcher(cfg.DispatchTimeout)
	dispatch := func(ctx context.Context, target registry.Target, payload any) (any, error) {
		rc := retryCfg.Load().(retry.Config)
		var result any
		err := retry.Do(ctx, rc, func(ctx context.Context) error {
			var dispatchErr error
			result, dispatchErr = dispatcher.Dispatch(ctx, target, payload)
			return dispatchErr
		})
		return result, err
	}

	rt := router.New(router.Config{
		Registry: reg,
		Balancer: bal,
		Breakers: breakers,
		Dispatch: dispatch,
	})

	// Create health monitor if enabled
	var monitor *health.Monitor
	if cfg.HealthCheckEnabled {
		var probe health.ProbeFunc
		switch cfg.HealthCheckType {
		case "http":
			probe = health.NewHTTPProbe().Check
			logger.Info("health_check_configured", "type", "http", "interval", cfg.HealthCheckInterval)
		default:
			probe = health.NewTCPProbe().Check
			logger.Info("health_check_configured", "type", "tcp", "interval", cfg.HealthCheckInterval)
		}

		monitor = health.NewMonitor(reg, health.MonitorConfig{
			Probe:            probe,
			Interval:         cfg.HealthCheckInterval,
			Timeout:          cfg.HealthCheckTimeout,
			FailureThreshold: cfg.HealthCheckFailureThreshold,
			SuccessThreshold: cfg.HealthCheckSuccessThreshold,
		})
		monitor.Start()
	}

	metricsServer := metrics.NewServer(cfg.MetricsPort, func() any { return rt.Metrics() })

	// Set up config watcher if config file is specified
	var cfgWatcher *config.ConfigWatcher
	if cfg.ConfigFile != "" {
		var watcherErr error
		cfgWatcher, watcherErr = config.NewConfigWatcher(cfg.ConfigFile, cfg)
		if watcherErr != nil {
			logger.Error("failed to create config watcher", "error", watcherErr)
		} else {
			// Register callback for configuration changes
			cfgWatcher.RegisterCallback(func(newCfg *config.Config) {
				// Reconfigure logger
				logger.Reconfigure(newCfg.LogLevel, newCfg.LogFormat)

				// Update retry policy
				retryCfg.Store(retryConfigFrom(newCfg))

				// Update breaker settings
				breakers.UpdateConfig(breaker.Config{
					FailureThreshold: newCfg.CBFailureThreshold,
					RecoveryTimeout:  newCfg.CBRecoveryTimeout,
					Window:           newCfg.CBWindow,
				})

				// Apply target weight changes
				for _, tc := range newCfg.Targets {
					if err := reg.UpdateWeight(tc.ID, tc.Weight); err != nil {
						logger.Warn("weight_update_skipped", "target", tc.ID, "error", err)
					}
				}
			})

			if startErr := cfgWatcher.Start(); startErr != nil {
				logger.Error("failed to start config watcher", "error", startErr)
			}
		}
	}

	// Start metrics server
	go func() {
		logger.Info("starting metrics server", "port", cfg.MetricsPort)
		metricsServer.SetReady(true)
		if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
			os.Exit(1)
		}
	}()

	// Set up signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	// Wait for signals
	for {
		sig := <-sigCh

		// Handle SIGHUP for manual config reload
		if sig == syscall.SIGHUP {
			logger.Info("received SIGHUP, reloading configuration")
			if cfgWatcher != nil {
				if reloadErr := cfgWatcher.Reload(); reloadErr != nil {
					logger.Error("config reload failed", "error", reloadErr)
				}
			} else {
				logger.Warn("config reload requested but no config file specified")
			}
			continue
		}

		// SIGINT or SIGTERM - shutdown
		logger.Info("received shutdown signal", "signal", sig)
		break
	}

	// Graceful shutdown
	if cfgWatcher != nil {
		cfgWatcher.Stop()
	}

	metricsServer.SetReady(false)

	if monitor != nil {
		monitor.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := metricsServer.Shutdown(ctx); err != nil {
		logger.Error("metrics server shutdown error", "error", err)
	}

	logger.Info("chainroute stopped")
}

// retryConfigFrom builds the retry policy from configuration.
func retryConfigFrom(cfg *config.Config) retry.Config {
	rc := retry.DefaultConfig()
	rc.MaxAttempts = cfg.RetryMaxAttempts
	rc.InitialDelay = cfg.RetryInitialDelay
	rc.MaxDelay = cfg.RetryMaxDelay
	rc.BackoffMultiplier = cfg.RetryBackoffMultiplier
	rc.Jitter = cfg.RetryJitter
	return rc
}
