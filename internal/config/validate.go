package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/logging"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration. It returns nil or ValidationErrors.
func Validate(cfg Config) error {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if cfg.DatabaseURL == "" {
		add("DATABASE_URL", "required")
	}
	if cfg.MQTTBroker == "" {
		add("MQTT_BROKER", "required")
	}
	if strings.TrimSpace(cfg.CommandTopic) == "" {
		add("COMMAND_TOPIC", "must not be empty")
	}
	if strings.ContainsAny(cfg.CommandTopic, "+#") {
		add("COMMAND_TOPIC", "must not contain MQTT wildcards, got %q", cfg.CommandTopic)
	}

	if _, err := time.LoadLocation(cfg.TriggerTimezone); err != nil {
		add("TRIGGER_TIMEZONE", "unknown timezone %q", cfg.TriggerTimezone)
	}
	if cfg.TurnOnActionRef == "" || cfg.TurnOffActionRef == "" {
		add("TURN_ON_ACTION_REF/TURN_OFF_ACTION_REF", "required")
	}

	for _, d := range cfg.durations() {
		v, err := time.ParseDuration(*d.raw)
		switch {
		case err != nil:
			add(d.env, "invalid duration: %v", err)
		case v <= 0:
			add(d.env, "must be positive")
		}
	}

	if cfg.ReconcileEnabled && cfg.ReconcileThreshold > 0 && cfg.ReconcileThreshold <= cfg.TickInterval {
		add("RECONCILE_THRESHOLD", "must exceed TICK_INTERVAL (%s)", cfg.TickIntervalStr)
	}
	if cfg.ReconcileEnabled && cfg.ReconcileMaxAge > 0 && cfg.ReconcileMaxAge <= cfg.ReconcileThreshold {
		add("RECONCILE_MAX_AGE", "must exceed RECONCILE_THRESHOLD (%s)", cfg.ReconcileThresholdStr)
	}
	if cfg.LeaderElectionEnabled && cfg.LeaderHeartbeatInterval >= cfg.LeaderRetryInterval && cfg.LeaderRetryInterval > 0 {
		add("LEADER_HEARTBEAT_INTERVAL", "must be shorter than LEADER_RETRY_INTERVAL")
	}

	if cfg.MetricsPort != "" {
		if p, err := strconv.Atoi(cfg.MetricsPort); err != nil || p <= 0 || p > 65535 {
			add("METRICS_PORT", "must be a port number, got %q", cfg.MetricsPort)
		}
	}
	if !strings.HasPrefix(cfg.MetricsPath, "/") {
		add("METRICS_PATH", "must start with /")
	}

	if _, err := logging.ParseLevel(cfg.LogLevel); err != nil {
		add("LOG_LEVEL", "%v", err)
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "console" {
		add("LOG_FORMAT", "must be 'json' or 'console', got %q", cfg.LogFormat)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
