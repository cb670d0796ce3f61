// Command worker runs the trigger scheduler and firing worker without the
// HTTP API. Schedules are managed by an easyswitch serve instance sharing
// the same database.
package main

import (
	"context"
	"database/sql"
	"fmt"
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
	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/circuitbreaker"
	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/config"
	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/cron"
	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/dispatcher"
	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/leaderelection"
	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/logging"
	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/metrics"
	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/reconciler"
	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/scheduler"
	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/store/postgres"
	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/transport/channel"

	_ "github.com/lib/pq"
)

type cronParser struct {
	parser *cron.Parser
}

func (p cronParser) Parse(expression string, timezone string) (scheduler.CronSchedule, error) {
	return p.parser.Parse(expression, timezone)
}

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.Load()
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 2
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, "easyswitch-worker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		return 2
	}
	defer logger.Sync()
	for _, w := range cfg.Warnings {
		logger.Warn("config: " + w)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Error("open database", zap.Error(err))
		return 1
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	store := postgres.New(db).WithOpTimeout(cfg.DBOpTimeout)
	if err := store.Ping(context.Background()); err != nil {
		logger.Error("connect to database", zap.Error(err))
		return 1
	}

	var sink metrics.Sink = metrics.NewNoopSink()
	if cfg.MetricsEnabled && cfg.MetricsPort != "" {
		sink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer, logger)
		mux := http.NewServeMux()
		mux.Handle(cfg.MetricsPath, promhttp.Handler())
		srv := &http.Server{Addr: ":" + cfg.MetricsPort, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", zap.Error(err))
			}
		}()
		defer srv.Close()
	}

	publisher, err := dispatcher.NewMQTTPublisher(dispatcher.MQTTConfig{
		Broker:         cfg.MQTTBroker,
		ClientID:       cfg.MQTTClientID + "-worker",
		Username:       cfg.MQTTUsername,
		Password:       cfg.MQTTPassword,
		TopicTemplate:  cfg.CommandTopic,
		PublishTimeout: cfg.MQTTPublishTimeout,
	}, logger)
	if err != nil {
		logger.Error("command channel unavailable", zap.Error(err))
		return 1
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
	}

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
		cronParser{parser: cron.NewParser()},
		bus,
		logger,
	).WithMetrics(sink)

	recon := reconciler.New(
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

	scheduling := func(ctx context.Context) {
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = sched.Run(ctx)
		}()
		if cfg.ReconcileEnabled {
			wg.Add(1)
			go func() {
				defer wg.Done()
				recon.Run(ctx)
			}()
		}
		wg.Wait()
	}

	schedulingCtx, cancelScheduling := context.WithCancel(context.Background())
	workerCtx, cancelWorker := context.WithCancel(context.Background())

	var schedulingWg sync.WaitGroup
	var workerWg sync.WaitGroup

	workerWg.Add(1)
	go func() {
		defer workerWg.Done()
		worker.Run(workerCtx, bus.Channel())
	}()

	schedulingWg.Add(1)
	go func() {
		defer schedulingWg.Done()
		if !cfg.LeaderElectionEnabled {
			scheduling(schedulingCtx)
			return
		}
		leaderelection.New(db,
			leaderelection.Config{
				LockKey:           cfg.LeaderLockKey,
				RetryInterval:     cfg.LeaderRetryInterval,
				HeartbeatInterval: cfg.LeaderHeartbeatInterval,
			},
			scheduling,
			func() { logger.Info("demoted; scheduling paused") },
			logger,
		).WithMetrics(sink).Run(schedulingCtx)
	}()

	logger.Info("worker started", zap.Duration("tick", cfg.TickInterval), zap.Bool("leader_election", cfg.LeaderElectionEnabled))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig
	logger.Info("shutting down", zap.String("signal", received.String()))

	// Stop emitting before draining buffered events.
	cancelScheduling()
	schedulingWg.Wait()
	cancelWorker()
	workerWg.Wait()

	logger.Info("worker stopped")
	return 0
}
