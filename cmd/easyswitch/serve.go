package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/analytics"
	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/api"
	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/circuitbreaker"
	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/config"
	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/cron"
	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/dispatcher"
	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/leaderelection"
	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/metrics"
	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/reconciler"
	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/schedule"
	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/scheduler"
	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/store/postgres"
	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/transport/channel"
	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/trigger"
)

const queryProbeSchema = `SELECT 1 FROM information_schema.tables WHERE table_name = 'firings'`

// probeSchema returns sql.ErrNoRows if the schema has not been applied.
func probeSchema(ctx context.Context, db *sql.DB) error {
	var one int
	return db.QueryRowContext(ctx, queryProbeSchema).Scan(&one)
}

// logConfigWarnings reports settings that weaken delivery guarantees.
func logConfigWarnings(logger *zap.Logger, cfg *config.Config) {
	for _, w := range cfg.Warnings {
		logger.Warn("config: " + w)
	}
	if !cfg.ReconcileEnabled {
		logger.Warn("RECONCILE_ENABLED=false: firings lost in the event buffer on crash are never re-dispatched",
			zap.String("severity", "P0"))
	}
	if !cfg.MetricsEnabled {
		logger.Warn("METRICS_ENABLED=false: no visibility into tick drift or dispatch failures",
			zap.String("severity", "P1"))
	}
	if cfg.CircuitBreakerThreshold == 0 {
		logger.Info("CIRCUIT_BREAKER_THRESHOLD=0: every firing for an unreachable device is attempted")
	}
	if !cfg.LeaderElectionEnabled {
		logger.Info("LEADER_ELECTION_ENABLED=false: run a single instance, or rely on firing deduplication")
	}
	if cfg.RedisAddr == "" {
		logger.Info("REDIS_ADDR not set; command analytics disabled")
	}
}

func runServe() int {
	cfg, logger, code := loadValidated()
	if code != exitSuccess {
		return code
	}
	defer logger.Sync()

	logConfigWarnings(logger, &cfg)

	db, err := openDB(cfg, logger)
	if err != nil {
		logger.Error("database unavailable", zap.Error(err))
		return exitRuntimeError
	}
	defer db.Close()

	probeCtx, probeCancel := context.WithTimeout(context.Background(), cfg.DBOpTimeout)
	err = probeSchema(probeCtx, db)
	probeCancel()
	if errors.Is(err, sql.ErrNoRows) {
		logger.Error("schema not applied; run `easyswitch migrate` first")
		return exitRuntimeError
	}
	if err != nil {
		logger.Error("schema probe failed", zap.Error(err))
		return exitRuntimeError
	}

	location, err := time.LoadLocation(cfg.TriggerTimezone)
	if err != nil {
		logger.Error("load trigger timezone", zap.Error(err))
		return exitInvalidConfig
	}

	store := postgres.New(db).WithOpTimeout(cfg.DBOpTimeout)
	parser := cron.NewParser()

	var sink metrics.Sink = metrics.NewNoopSink()
	var metricsServer *http.Server
	apiMux := http.NewServeMux()

	if cfg.MetricsEnabled {
		sink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer, logger)
		if cfg.MetricsPort != "" {
			metricsMux := http.NewServeMux()
			metricsMux.Handle(cfg.MetricsPath, promhttp.Handler())
			metricsServer = &http.Server{
				Addr:              ":" + cfg.MetricsPort,
				Handler:           metricsMux,
				ReadHeaderTimeout: 5 * time.Second,
			}
			go func() {
				logger.Info("metrics server listening", zap.String("addr", metricsServer.Addr), zap.String("path", cfg.MetricsPath))
				if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("metrics server error", zap.Error(err))
				}
			}()
		} else {
			apiMux.Handle(cfg.MetricsPath, promhttp.Handler())
			logger.Info("metrics served on api listener", zap.String("path", cfg.MetricsPath))
		}
	} else {
		logger.Info("METRICS_ENABLED not set; metrics disabled")
	}

	publisher, err := dispatcher.NewMQTTPublisher(dispatcher.MQTTConfig{
		Broker:         cfg.MQTTBroker,
		ClientID:       cfg.MQTTClientID,
		Username:       cfg.MQTTUsername,
		Password:       cfg.MQTTPassword,
		TopicTemplate:  cfg.CommandTopic,
		PublishTimeout: cfg.MQTTPublishTimeout,
	}, logger)
	if err != nil {
		logger.Error("command channel unavailable", zap.Error(err))
		return exitRuntimeError
	}
	defer publisher.Close()

	disp := dispatcher.New(publisher, store, logger).WithMetrics(sink)

	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		disp = disp.WithAnalytics(analytics.NewRedisSink(redisClient, analytics.Config{
			Window:    cfg.AnalyticsWindow,
			Retention: cfg.AnalyticsRetention,
		}, logger))
		logger.Info("analytics enabled", zap.String("redis", cfg.RedisAddr))
	}

	authority := trigger.NewLocalAuthority(store, parser, cfg.TriggerTimezone, logger)
	registry := trigger.NewRegistry(authority, trigger.Targets{
		TurnOnActionRef:  cfg.TurnOnActionRef,
		TurnOffActionRef: cfg.TurnOffActionRef,
		RoleRef:          cfg.SchedulerRoleRef,
	}, logger).WithMetrics(sink)

	schedules := schedule.NewService(store, registry, disp, location, logger).WithMetrics(sink)

	bus := channel.NewEventBus(cfg.EventBusBufferSize, channel.WithMetrics(sink))

	worker := dispatcher.NewWorker(store, disp, logger).
		WithMetrics(sink).
		WithDrainTimeout(cfg.DispatcherDrainTimeout)
	if cfg.CircuitBreakerThreshold > 0 {
		worker = worker.WithCircuitBreaker(circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown))
	}

	sched := scheduler.New(
		scheduler.Config{TickInterval: cfg.TickInterval, Timezone: cfg.TriggerTimezone},
		store,
		&cronParserAdapter{parser: parser},
		bus,
		logger,
	).WithMetrics(sink)

	var recon *reconciler.Reconciler
	if cfg.ReconcileEnabled {
		recon = reconciler.New(
			reconciler.Config{
				Interval:  cfg.ReconcileInterval,
				Threshold: cfg.ReconcileThreshold,
				MaxAge:    cfg.ReconcileMaxAge,
				BatchSize: cfg.ReconcileBatchSize,
			},
			store,
			bus,
			logger,
		).WithMetrics(sink)
	}

	apiMux.Handle("/", api.NewHandler(schedules, disp, logger).WithHealthChecker(store))
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           apiMux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", zap.Error(err))
		}
	}()

	// Scheduling (scheduler + reconciler) and the worker get separate
	// contexts so shutdown can stop emitting before draining.
	schedulingCtx, cancelScheduling := context.WithCancel(context.Background())
	workerCtx, cancelWorker := context.WithCancel(context.Background())

	var schedulingWg sync.WaitGroup
	var workerWg sync.WaitGroup

	workerWg.Add(1)
	go func() {
		defer workerWg.Done()
		worker.Run(workerCtx, bus.Channel())
	}()

	if cfg.LeaderElectionEnabled {
		elector := leaderelection.New(db,
			leaderelection.Config{
				LockKey:           cfg.LeaderLockKey,
				RetryInterval:     cfg.LeaderRetryInterval,
				HeartbeatInterval: cfg.LeaderHeartbeatInterval,
			},
			func(ctx context.Context) { runScheduling(ctx, sched, recon) },
			func() { logger.Info("demoted; scheduling paused") },
			logger,
		).WithMetrics(sink)

		schedulingWg.Add(1)
		go func() {
			defer schedulingWg.Done()
			elector.Run(schedulingCtx)
		}()
	} else {
		sink.LeaderStatus(true)
		schedulingWg.Add(1)
		go func() {
			defer schedulingWg.Done()
			runScheduling(schedulingCtx, sched, recon)
		}()
	}

	logger.Info("started",
		zap.String("version", version),
		zap.Duration("tick", cfg.TickInterval),
		zap.String("timezone", cfg.TriggerTimezone),
		zap.String("http", cfg.HTTPAddr),
		zap.Bool("reconciler", recon != nil),
		zap.Bool("leader_election", cfg.LeaderElectionEnabled),
	)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	logger.Info("shutting down", zap.String("signal", received.String()))

	// Phase 1: stop emitting fire events (scheduler, reconciler, election)
	cancelScheduling()
	schedulingWg.Wait()
	logger.Info("scheduling stopped")

	// Phase 2: stop the HTTP API so no new commands or schedules arrive
	httpShutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer httpShutdownCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}
	logger.Info("http server stopped")

	// Phase 3: drain buffered fire events
	cancelWorker()
	workerWg.Wait()
	logger.Info("firing worker stopped")

	// Phase 4: metrics last, so shutdown itself is observable
	if metricsServer != nil {
		metricsShutdownCtx, metricsShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
		defer metricsShutdownCancel()
		if err := metricsServer.Shutdown(metricsShutdownCtx); err != nil {
			logger.Error("metrics server shutdown error", zap.Error(err))
		}
		logger.Info("metrics server stopped")
	}

	logger.Info("stopped")
	return exitSuccess
}

// runScheduling runs the scheduler and, when configured, the reconciler
// until ctx is cancelled.
func runScheduling(ctx context.Context, sched *scheduler.Scheduler, recon *reconciler.Reconciler) {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = sched.Run(ctx)
	}()

	if recon != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			recon.Run(ctx)
		}()
	}

	wg.Wait()
}
