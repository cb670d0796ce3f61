package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/config"
	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/cron"
	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/logging"
	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/scheduler"
	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/store/postgres"

	_ "github.com/lib/pq"
)

// cronParserAdapter adapts internal/cron.Parser to scheduler.CronParser interface.
type cronParserAdapter struct {
	parser *cron.Parser
}

func (a *cronParserAdapter) Parse(expression string, timezone string) (scheduler.CronSchedule, error) {
	sched, err := a.parser.Parse(expression, timezone)
	if err != nil {
		return nil, err
	}
	return sched, nil
}

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	cmd := os.Args[1]

	switch cmd {
	case "serve":
		os.Exit(runServe())
	case "migrate":
		os.Exit(runMigrate())
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "version":
		os.Exit(runVersion())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`easyswitch - device scheduling and command dispatch

Usage:
  easyswitch <command>

Commands:
  serve      Start the HTTP API, trigger scheduler and firing worker
  migrate    Apply the database schema
  validate   Validate configuration (no connections made)
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Environment Variables:
  DATABASE_URL              PostgreSQL connection string (required)
  MQTT_BROKER               MQTT broker URL, e.g. tcp://host:1883 (required)
  MQTT_CLIENT_ID            MQTT client ID (default: "easyswitch")
  MQTT_USERNAME             MQTT username (optional)
  MQTT_PASSWORD             MQTT password (optional)
  COMMAND_TOPIC             Command topic template (default: "devices/{device_id}/commands")
  MQTT_PUBLISH_TIMEOUT      Publish acknowledgement timeout (default: "10s")
  REDIS_ADDR                Redis address for command analytics (optional)
  HTTP_ADDR                 HTTP server address (default: ":8080", or ":$PORT")

  TICK_INTERVAL             Trigger scheduler tick interval (default: "30s")
  TRIGGER_TIMEZONE          Timezone trigger expressions are evaluated in (default: "UTC")
  TURN_ON_ACTION_REF        Action invoked by turn-on triggers (default: "turnOnDevice")
  TURN_OFF_ACTION_REF       Action invoked by turn-off triggers (default: "turnOffDevice")
  SCHEDULER_ROLE_REF        Role triggers run as (default: "easyswitch-scheduler")

  DB_OP_TIMEOUT             Database operation timeout (default: "5s")
  DB_MAX_OPEN_CONNS         Max open database connections (default: "25")
  DB_MAX_IDLE_CONNS         Max idle database connections (default: "5")
  DB_CONN_MAX_LIFETIME      Max connection lifetime (default: "30m")
  DB_CONN_MAX_IDLE_TIME     Max connection idle time (default: "5m")

  HTTP_SHUTDOWN_TIMEOUT     Graceful HTTP shutdown timeout (default: "10s")
  DISPATCHER_DRAIN_TIMEOUT  Firing worker drain timeout (default: "30s")
  EVENTBUS_BUFFER_SIZE      Fire event buffer size (default: "100")

  METRICS_ENABLED           Enable Prometheus metrics (default: "false")
  METRICS_PATH              Metrics endpoint path (default: "/metrics")
  METRICS_PORT              Separate metrics port (default: served on HTTP_ADDR)

  ANALYTICS_WINDOW          Analytics counter bucket (default: "1h")
  ANALYTICS_RETENTION       Analytics counter expiry (default: "168h")

  RECONCILE_ENABLED         Re-emit orphaned firings (default: "false")
  RECONCILE_INTERVAL        How often to scan for orphans (default: "5m")
  RECONCILE_THRESHOLD       Age before a firing is orphaned (default: "10m")
  RECONCILE_MAX_AGE         Oldest firing still replayed (default: "1h")
  RECONCILE_BATCH_SIZE      Max orphans per cycle (default: "100")

  CIRCUIT_BREAKER_THRESHOLD Consecutive failures before a device is paused, 0 disables (default: "5")
  CIRCUIT_BREAKER_COOLDOWN  Pause before a probe command (default: "2m")

  LEADER_ELECTION_ENABLED   Run the scheduler on one instance only (default: "false")
  LEADER_LOCK_KEY           Postgres advisory lock key (default: "728379")
  LEADER_RETRY_INTERVAL     Follower acquisition interval (default: "5s")
  LEADER_HEARTBEAT_INTERVAL Leader connection ping interval (default: "2s")

  LOG_LEVEL                 debug, info, warn or error (default: "info")
  LOG_FORMAT                json or console (default: "json")`)
}

// loadValidated loads and validates configuration and builds the logger.
func loadValidated() (config.Config, *zap.Logger, int) {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return cfg, nil, exitInvalidConfig
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, "easyswitch")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		return cfg, nil, exitInvalidConfig
	}
	return cfg, logger, exitSuccess
}

// openDB opens the pool and verifies connectivity.
func openDB(cfg config.Config, logger *zap.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	logger.Info("db pool configured",
		zap.Int("max_open", cfg.DBMaxOpenConns),
		zap.Int("max_idle", cfg.DBMaxIdleConns),
		zap.Duration("max_lifetime", cfg.DBConnMaxLifetime),
		zap.Duration("max_idle_time", cfg.DBConnMaxIdleTime),
	)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DBOpTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return db, nil
}

func runMigrate() int {
	cfg, logger, code := loadValidated()
	if code != exitSuccess {
		return code
	}
	defer logger.Sync()

	db, err := openDB(cfg, logger)
	if err != nil {
		logger.Error("database unavailable", zap.Error(err))
		return exitRuntimeError
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := postgres.Migrate(ctx, db); err != nil {
		logger.Error("migration failed", zap.Error(err))
		return exitRuntimeError
	}

	logger.Info("schema applied")
	return exitSuccess
}

func runValidate() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}
	for _, w := range cfg.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}

	fmt.Println("configuration valid")
	return exitSuccess
}

func runConfig() int {
	cfg := config.Load()

	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}

	fmt.Println(string(data))
	return exitSuccess
}

func runVersion() int {
	fmt.Printf("easyswitch version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
