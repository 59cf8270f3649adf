// Package config handles configuration parsing from CLI flags, environment
// variables, and YAML files.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// TargetConfig describes one upstream target at startup.
type TargetConfig struct {
	// ID is the unique target key.
	ID string `yaml:"id"`
	// Name is a human-readable label.
	Name string `yaml:"name"`
	// Endpoints is the ordered list of connection URIs, tried in order.
	Endpoints []string `yaml:"endpoints"`
	// Weight is the relative share for weighted selection. Must be positive.
	Weight float64 `yaml:"weight"`
	// Priority orders targets for preference; lower is preferred.
	Priority int `yaml:"priority"`
}

// Config holds all configuration for the router.
type Config struct {
	// Targets is the list of upstream targets. Only settable via YAML.
	Targets []TargetConfig `yaml:"targets"`
	// Algorithm is the selection algorithm (round_robin, least_connections,
	// weighted_random). An unrecognized value falls back to first-healthy.
	Algorithm string `yaml:"algorithm"`
	// MetricsPort is the metrics server port.
	MetricsPort int `yaml:"metrics_port"`
	// DispatchTimeout bounds each dispatched upstream call.
	DispatchTimeout time.Duration `yaml:"dispatch_timeout"`
	// LogLevel is the logging level (trace, debug, info, warn, error).
	LogLevel string `yaml:"log_level"`
	// LogFormat is the log format (json, text).
	LogFormat string `yaml:"log_format"`
	// ConfigFile is the config file path.
	ConfigFile string `yaml:"-"`

	// Retry configuration
	// RetryMaxAttempts is the total attempts per dispatched call.
	RetryMaxAttempts int `yaml:"retry_max_attempts"`
	// RetryInitialDelay is the delay before the first retry.
	RetryInitialDelay time.Duration `yaml:"retry_initial_delay"`
	// RetryMaxDelay caps the exponential delay growth.
	RetryMaxDelay time.Duration `yaml:"retry_max_delay"`
	// RetryBackoffMultiplier scales delays between retries.
	RetryBackoffMultiplier float64 `yaml:"retry_backoff_multiplier"`
	// RetryJitter inflates delays by up to 25% when true.
	RetryJitter bool `yaml:"retry_jitter"`

	// Circuit breaker configuration
	// CBFailureThreshold is the failure count within the window that opens
	// a target's circuit.
	CBFailureThreshold int `yaml:"cb_failure_threshold"`
	// CBRecoveryTimeout is how long a circuit stays open before half-open.
	CBRecoveryTimeout time.Duration `yaml:"cb_recovery_timeout"`
	// CBWindow is the rolling window over which failures are counted.
	CBWindow time.Duration `yaml:"cb_window"`

	// Health monitor configuration
	// HealthCheckEnabled enables periodic target probing.
	HealthCheckEnabled bool `yaml:"health_check_enabled"`
	// HealthCheckType is the probe type: "http" or "tcp".
	HealthCheckType string `yaml:"health_check_type"`
	// HealthCheckInterval is the interval between probe passes.
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
	// HealthCheckTimeout bounds each individual probe.
	HealthCheckTimeout time.Duration `yaml:"health_check_timeout"`
	// HealthCheckFailureThreshold is the consecutive failures before a
	// target is marked unhealthy.
	HealthCheckFailureThreshold int `yaml:"health_check_failure_threshold"`
	// HealthCheckSuccessThreshold is the consecutive successes before an
	// unhealthy target recovers.
	HealthCheckSuccessThreshold int `yaml:"health_check_success_threshold"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Algorithm:       "round_robin",
		MetricsPort:     9090,
		DispatchTimeout: 30 * time.Second,
		LogLevel:        "info",
		LogFormat:       "json",
		// Retry defaults
		RetryMaxAttempts:       3,
		RetryInitialDelay:      time.Second,
		RetryMaxDelay:          30 * time.Second,
		RetryBackoffMultiplier: 2.0,
		RetryJitter:            true,
		// Circuit breaker defaults
		CBFailureThreshold: 5,
		CBRecoveryTimeout:  60 * time.Second,
		CBWindow:           60 * time.Second,
		// Health check defaults
		HealthCheckEnabled:          true,
		HealthCheckType:             "http",
		HealthCheckInterval:         30 * time.Second,
		HealthCheckTimeout:          5 * time.Second,
		HealthCheckFailureThreshold: 1,
		HealthCheckSuccessThreshold: 1,
	}
}

// ParseFlags parses command line flags and returns a Config.
func ParseFlags() (*Config, error) {
	cfg := DefaultConfig()

	pflag.StringVar(&cfg.Algorithm, "algorithm", cfg.Algorithm, "Selection algorithm (round_robin, least_connections, weighted_random)")
	pflag.IntVar(&cfg.MetricsPort, "metrics-port", cfg.MetricsPort, "Metrics server port")
	pflag.DurationVar(&cfg.DispatchTimeout, "dispatch-timeout", cfg.DispatchTimeout, "Upstream dispatch timeout")
	pflag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (trace, debug, info, warn, error)")
	pflag.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format (json, text)")
	pflag.StringVar(&cfg.ConfigFile, "config", "", "Config file path (YAML)")

	// Retry flags
	pflag.IntVar(&cfg.RetryMaxAttempts, "retry-max-attempts", cfg.RetryMaxAttempts, "Total attempts per dispatched call")
	pflag.DurationVar(&cfg.RetryInitialDelay, "retry-initial-delay", cfg.RetryInitialDelay, "Delay before the first retry")
	pflag.DurationVar(&cfg.RetryMaxDelay, "retry-max-delay", cfg.RetryMaxDelay, "Maximum backoff delay")
	pflag.Float64Var(&cfg.RetryBackoffMultiplier, "retry-backoff-multiplier", cfg.RetryBackoffMultiplier, "Backoff multiplier between retries")
	pflag.BoolVar(&cfg.RetryJitter, "retry-jitter", cfg.RetryJitter, "Add up to 25% jitter to backoff delays")

	// Circuit breaker flags
	pflag.IntVar(&cfg.CBFailureThreshold, "cb-failure-threshold", cfg.CBFailureThreshold, "Failures within the window that open a circuit")
	pflag.DurationVar(&cfg.CBRecoveryTimeout, "cb-recovery-timeout", cfg.CBRecoveryTimeout, "How long a circuit stays open before half-open")
	pflag.DurationVar(&cfg.CBWindow, "cb-window", cfg.CBWindow, "Rolling failure window")

	// Health check flags
	pflag.BoolVar(&cfg.HealthCheckEnabled, "health-check-enabled", cfg.HealthCheckEnabled, "Enable periodic target probing")
	pflag.StringVar(&cfg.HealthCheckType, "health-check-type", cfg.HealthCheckType, "Probe type: http or tcp")
	pflag.DurationVar(&cfg.HealthCheckInterval, "health-check-interval", cfg.HealthCheckInterval, "Interval between probe passes")
	pflag.DurationVar(&cfg.HealthCheckTimeout, "health-check-timeout", cfg.HealthCheckTimeout, "Timeout per probe")
	pflag.IntVar(&cfg.HealthCheckFailureThreshold, "health-check-failure-threshold", cfg.HealthCheckFailureThreshold, "Consecutive failures before marking a target unhealthy")
	pflag.IntVar(&cfg.HealthCheckSuccessThreshold, "health-check-success-threshold", cfg.HealthCheckSuccessThreshold, "Consecutive successes before marking a target healthy")

	pflag.Parse()

	// Env vars take precedence over defaults, CLI flags over env vars.
	loadFromEnv(cfg)

	// If a config file is specified, load it first, then override with flags.
	if cfg.ConfigFile != "" {
		fileCfg, err := LoadFromFile(cfg.ConfigFile)
		if err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
		cfg = mergeConfigs(fileCfg, cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// mergeConfigs merges file config with CLI config. CLI flags take precedence.
func mergeConfigs(file, cli *Config) *Config {
	result := *file
	result.ConfigFile = cli.ConfigFile

	pflag.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "algorithm":
			result.Algorithm = cli.Algorithm
		case "metrics-port":
			result.MetricsPort = cli.MetricsPort
		case "dispatch-timeout":
			result.DispatchTimeout = cli.DispatchTimeout
		case "log-level":
			result.LogLevel = cli.LogLevel
		case "log-format":
			result.LogFormat = cli.LogFormat
		case "retry-max-attempts":
			result.RetryMaxAttempts = cli.RetryMaxAttempts
		case "retry-initial-delay":
			result.RetryInitialDelay = cli.RetryInitialDelay
		case "retry-max-delay":
			result.RetryMaxDelay = cli.RetryMaxDelay
		case "retry-backoff-multiplier":
			result.RetryBackoffMultiplier = cli.RetryBackoffMultiplier
		case "retry-jitter":
			result.RetryJitter = cli.RetryJitter
		case "cb-failure-threshold":
			result.CBFailureThreshold = cli.CBFailureThreshold
		case "cb-recovery-timeout":
			result.CBRecoveryTimeout = cli.CBRecoveryTimeout
		case "cb-window":
			result.CBWindow = cli.CBWindow
		case "health-check-enabled":
			result.HealthCheckEnabled = cli.HealthCheckEnabled
		case "health-check-type":
			result.HealthCheckType = cli.HealthCheckType
		case "health-check-interval":
			result.HealthCheckInterval = cli.HealthCheckInterval
		case "health-check-timeout":
			result.HealthCheckTimeout = cli.HealthCheckTimeout
		case "health-check-failure-threshold":
			result.HealthCheckFailureThreshold = cli.HealthCheckFailureThreshold
		case "health-check-success-threshold":
			result.HealthCheckSuccessThreshold = cli.HealthCheckSuccessThreshold
		}
	})

	return &result
}

// Validate checks that the configuration is valid. Configuration errors are
// not recoverable: registration fails fast and is never retried.
func (c *Config) Validate() error {
	if len(c.Targets) == 0 {
		return &ValidationError{Field: "targets", Message: "at least one target is required"}
	}

	seen := make(map[string]bool, len(c.Targets))
	for i, t := range c.Targets {
		if t.ID == "" {
			return &ValidationError{Field: fmt.Sprintf("targets[%d].id", i), Message: "must not be empty"}
		}
		if seen[t.ID] {
			return &ValidationError{Field: fmt.Sprintf("targets[%d].id", i), Message: "duplicate target id " + t.ID}
		}
		seen[t.ID] = true
		if t.Weight <= 0 {
			return &ValidationError{Field: fmt.Sprintf("targets[%d].weight", i), Message: "must be positive"}
		}
		if len(t.Endpoints) == 0 {
			return &ValidationError{Field: fmt.Sprintf("targets[%d].endpoints", i), Message: "at least one endpoint is required"}
		}
		for _, e := range t.Endpoints {
			u, err := url.Parse(e)
			if err != nil || u.Scheme == "" || u.Host == "" {
				return &ValidationError{Field: fmt.Sprintf("targets[%d].endpoints", i), Message: "invalid endpoint URI " + e}
			}
		}
	}

	if c.MetricsPort < 1 || c.MetricsPort > 65535 {
		return &ValidationError{Field: "metrics_port", Message: fmt.Sprintf("invalid port %d", c.MetricsPort)}
	}

	if c.DispatchTimeout <= 0 {
		return &ValidationError{Field: "dispatch_timeout", Message: "must be positive"}
	}

	if c.RetryMaxAttempts < 1 {
		return &ValidationError{Field: "retry_max_attempts", Message: "must be at least 1"}
	}
	if c.RetryInitialDelay < 0 {
		return &ValidationError{Field: "retry_initial_delay", Message: "must not be negative"}
	}
	if c.RetryBackoffMultiplier < 1 {
		return &ValidationError{Field: "retry_backoff_multiplier", Message: "must be at least 1"}
	}

	if c.CBFailureThreshold < 1 {
		return &ValidationError{Field: "cb_failure_threshold", Message: "must be at least 1"}
	}
	if c.CBRecoveryTimeout <= 0 {
		return &ValidationError{Field: "cb_recovery_timeout", Message: "must be positive"}
	}
	if c.CBWindow <= 0 {
		return &ValidationError{Field: "cb_window", Message: "must be positive"}
	}

	if c.HealthCheckEnabled {
		if c.HealthCheckType != "http" && c.HealthCheckType != "tcp" {
			return &ValidationError{Field: "health_check_type", Message: "must be http or tcp"}
		}
		if c.HealthCheckInterval <= 0 {
			return &ValidationError{Field: "health_check_interval", Message: "must be positive"}
		}
		if c.HealthCheckTimeout <= 0 {
			return &ValidationError{Field: "health_check_timeout", Message: "must be positive"}
		}
		if c.HealthCheckFailureThreshold < 1 {
			return &ValidationError{Field: "health_check_failure_threshold", Message: "must be at least 1"}
		}
		if c.HealthCheckSuccessThreshold < 1 {
			return &ValidationError{Field: "health_check_success_threshold", Message: "must be at least 1"}
		}
	}

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return &ValidationError{Field: "log_level", Message: "must be trace, debug, info, warn, or error"}
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.LogFormat] {
		return &ValidationError{Field: "log_format", Message: "must be json or text"}
	}

	return nil
}

// loadFromEnv loads configuration from environment variables with the
// CHAINROUTE_ prefix. Env vars take precedence over defaults; CLI flags over
// env vars.
func loadFromEnv(cfg *Config) {
	getEnvString := func(key string) (string, bool) {
		v := os.Getenv("CHAINROUTE_" + key)
		return v, v != ""
	}

	getEnvInt := func(key string) (int, bool) {
		if v, ok := getEnvString(key); ok {
			if i, err := strconv.Atoi(v); err == nil {
				return i, true
			}
		}
		return 0, false
	}

	getEnvBool := func(key string) (bool, bool) {
		if v, ok := getEnvString(key); ok {
			if b, err := strconv.ParseBool(v); err == nil {
				return b, true
			}
		}
		return false, false
	}

	getEnvDuration := func(key string) (time.Duration, bool) {
		if v, ok := getEnvString(key); ok {
			if d, err := time.ParseDuration(v); err == nil {
				return d, true
			}
		}
		return 0, false
	}

	// Only apply env vars if the CLI flag was not explicitly set.
	applyIfNotSet := func(flagName string, apply func()) {
		flagSet := false
		pflag.Visit(func(f *pflag.Flag) {
			if f.Name == flagName {
				flagSet = true
			}
		})
		if !flagSet {
			apply()
		}
	}

	if v, ok := getEnvString("ALGORITHM"); ok {
		applyIfNotSet("algorithm", func() { cfg.Algorithm = strings.TrimSpace(v) })
	}
	if v, ok := getEnvInt("METRICS_PORT"); ok {
		applyIfNotSet("metrics-port", func() { cfg.MetricsPort = v })
	}
	if v, ok := getEnvDuration("DISPATCH_TIMEOUT"); ok {
		applyIfNotSet("dispatch-timeout", func() { cfg.DispatchTimeout = v })
	}
	if v, ok := getEnvString("LOG_LEVEL"); ok {
		applyIfNotSet("log-level", func() { cfg.LogLevel = v })
	}
	if v, ok := getEnvString("LOG_FORMAT"); ok {
		applyIfNotSet("log-format", func() { cfg.LogFormat = v })
	}
	if v, ok := getEnvString("CONFIG"); ok {
		applyIfNotSet("config", func() { cfg.ConfigFile = v })
	}

	if v, ok := getEnvInt("RETRY_MAX_ATTEMPTS"); ok {
		applyIfNotSet("retry-max-attempts", func() { cfg.RetryMaxAttempts = v })
	}
	if v, ok := getEnvDuration("RETRY_INITIAL_DELAY"); ok {
		applyIfNotSet("retry-initial-delay", func() { cfg.RetryInitialDelay = v })
	}
	if v, ok := getEnvDuration("RETRY_MAX_DELAY"); ok {
		applyIfNotSet("retry-max-delay", func() { cfg.RetryMaxDelay = v })
	}
	if v, ok := getEnvBool("RETRY_JITTER"); ok {
		applyIfNotSet("retry-jitter", func() { cfg.RetryJitter = v })
	}

	if v, ok := getEnvInt("CB_FAILURE_THRESHOLD"); ok {
		applyIfNotSet("cb-failure-threshold", func() { cfg.CBFailureThreshold = v })
	}
	if v, ok := getEnvDuration("CB_RECOVERY_TIMEOUT"); ok {
		applyIfNotSet("cb-recovery-timeout", func() { cfg.CBRecoveryTimeout = v })
	}
	if v, ok := getEnvDuration("CB_WINDOW"); ok {
		applyIfNotSet("cb-window", func() { cfg.CBWindow = v })
	}

	if v, ok := getEnvBool("HEALTH_CHECK_ENABLED"); ok {
		applyIfNotSet("health-check-enabled", func() { cfg.HealthCheckEnabled = v })
	}
	if v, ok := getEnvString("HEALTH_CHECK_TYPE"); ok {
		applyIfNotSet("health-check-type", func() { cfg.HealthCheckType = v })
	}
	if v, ok := getEnvDuration("HEALTH_CHECK_INTERVAL"); ok {
		applyIfNotSet("health-check-interval", func() { cfg.HealthCheckInterval = v })
	}
	if v, ok := getEnvDuration("HEALTH_CHECK_TIMEOUT"); ok {
		applyIfNotSet("health-check-timeout", func() { cfg.HealthCheckTimeout = v })
	}
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// Recoverable marks configuration errors as never retryable.
func (e *ValidationError) Recoverable() bool {
	return false
}
