package main

import (
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"

	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/config"
	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/testutil"
)

type logLine struct {
	level   zapcore.Level
	message string
}

func captureWarnings(cfg *config.Config) []logLine {
	logger, logs := testutil.ObservedLogger()
	logConfigWarnings(logger, cfg)

	var lines []logLine
	for _, e := range logs.All() {
		lines = append(lines, logLine{level: e.Level, message: e.Message})
	}
	return lines
}

func hasLine(lines []logLine, level zapcore.Level, prefix string) bool {
	for _, l := range lines {
		if l.level == level && strings.HasPrefix(l.message, prefix) {
			return true
		}
	}
	return false
}

func hardenedConfig() config.Config {
	return config.Config{
		ReconcileEnabled:        true,
		MetricsEnabled:          true,
		CircuitBreakerThreshold: 5,
		LeaderElectionEnabled:   true,
		RedisAddr:               "localhost:6379",
	}
}

func TestLogConfigWarnings_Hardened(t *testing.T) {
	cfg := hardenedConfig()

	if lines := captureWarnings(&cfg); len(lines) != 0 {
		t.Errorf("expected no output, got %v", lines)
	}
}

func TestLogConfigWarnings_NoReconciler(t *testing.T) {
	cfg := hardenedConfig()
	cfg.ReconcileEnabled = false

	lines := captureWarnings(&cfg)

	if !hasLine(lines, zapcore.WarnLevel, "RECONCILE_ENABLED=false") {
		t.Errorf("expected reconciler warning, got %v", lines)
	}
	if hasLine(lines, zapcore.WarnLevel, "METRICS_ENABLED=false") {
		t.Errorf("did not expect metrics warning, got %v", lines)
	}
}

func TestLogConfigWarnings_MetricsDisabled(t *testing.T) {
	cfg := hardenedConfig()
	cfg.MetricsEnabled = false

	if lines := captureWarnings(&cfg); !hasLine(lines, zapcore.WarnLevel, "METRICS_ENABLED=false") {
		t.Errorf("expected metrics warning, got %v", lines)
	}
}

func TestLogConfigWarnings_InfoOnly(t *testing.T) {
	cfg := hardenedConfig()
	cfg.CircuitBreakerThreshold = 0
	cfg.LeaderElectionEnabled = false
	cfg.RedisAddr = ""

	lines := captureWarnings(&cfg)

	for _, prefix := range []string{"CIRCUIT_BREAKER_THRESHOLD=0", "LEADER_ELECTION_ENABLED=false", "REDIS_ADDR not set"} {
		if !hasLine(lines, zapcore.InfoLevel, prefix) {
			t.Errorf("expected info %q, got %v", prefix, lines)
		}
	}
	for _, l := range lines {
		if l.level >= zapcore.WarnLevel {
			t.Errorf("unexpected warning %q", l.message)
		}
	}
}

func TestLogConfigWarnings_LoadWarnings(t *testing.T) {
	cfg := hardenedConfig()
	cfg.Warnings = []string{`invalid EVENTBUS_BUFFER_SIZE "-1" (must be a positive integer), using default 100`}

	if lines := captureWarnings(&cfg); !hasLine(lines, zapcore.WarnLevel, "config: invalid EVENTBUS_BUFFER_SIZE") {
		t.Errorf("expected load warning, got %v", lines)
	}
}
