package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name   string
		level  string
		format string
	}{
		{"debug json", "debug", "json"},
		{"info json", "info", "json"},
		{"warn json", "warn", "json"},
		{"error json", "error", "json"},
		{"trace json", "trace", "json"},
		{"info text", "info", "text"},
		{"unknown level defaults to info", "unknown", "json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			log := New(tt.level, tt.format, &buf)
			if log == nil {
				t.Error("expected non-nil logger")
			}
		})
	}
}

func TestLogFunctions(t *testing.T) {
	var buf bytes.Buffer
	log := New("debug", "text", &buf)

	// Replace default logger temporarily
	oldDefault := defaultLogger
	defaultLogger = log
	defer func() { defaultLogger = oldDefault }()

	Debug("debug message", "key", "value")
	if !strings.Contains(buf.String(), "debug message") {
		t.Error("expected debug message in output")
	}

	buf.Reset()
	Info("info message", "key", "value")
	if !strings.Contains(buf.String(), "info message") {
		t.Error("expected info message in output")
	}

	buf.Reset()
	Warn("warn message", "key", "value")
	if !strings.Contains(buf.String(), "warn message") {
		t.Error("expected warn message in output")
	}

	buf.Reset()
	Error("error message", "key", "value")
	if !strings.Contains(buf.String(), "error message") {
		t.Error("expected error message in output")
	}
}

func TestDomainHelpers(t *testing.T) {
	var buf bytes.Buffer
	log := New("debug", "text", &buf)
	oldDefault := defaultLogger
	defaultLogger = log
	defer func() { defaultLogger = oldDefault }()

	LogRoute("req-1", "eth-mainnet", "ok", 42)
	if !strings.Contains(buf.String(), "eth-mainnet") {
		t.Error("expected target id in route log")
	}

	buf.Reset()
	LogSelection("round_robin", "eth-mainnet", 3)
	if !strings.Contains(buf.String(), "balancer_selection") {
		t.Error("expected balancer_selection event")
	}

	buf.Reset()
	LogBreakerTransition("eth-mainnet", "closed", "open", 5)
	if !strings.Contains(buf.String(), "breaker_transition") {
		t.Error("expected breaker_transition event")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"trace", "TRACE"},
		{"debug", "DEBUG"},
		{"info", "INFO"},
		{"warn", "WARN"},
		{"error", "ERROR"},
		{"bogus", "INFO"},
	}

	for _, tt := range tests {
		lvl := parseLevel(tt.input)
		if lvl.String() != tt.want && !(tt.input == "trace" && lvl == LevelTrace) {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, lvl, tt.want)
		}
	}
}

func TestWith(t *testing.T) {
	var buf bytes.Buffer
	log := New("info", "text", &buf)
	oldDefault := defaultLogger
	defaultLogger = log
	defer func() { defaultLogger = oldDefault }()

	withLogger := With("component", "test")
	if withLogger == nil {
		t.Error("expected non-nil logger from With")
	}
}
