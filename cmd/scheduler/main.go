package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Matschula1987/heiba-rms-sub001/config"
	"github.com/Matschula1987/heiba-rms-sub001/internal/health"
	"github.com/Matschula1987/heiba-rms-sub001/internal/infrastructure/postgres"
	ctxlog "github.com/Matschula1987/heiba-rms-sub001/internal/log"
	"github.com/Matschula1987/heiba-rms-sub001/internal/metrics"
	"github.com/Matschula1987/heiba-rms-sub001/internal/pipeline"
	"github.com/Matschula1987/heiba-rms-sub001/internal/scheduler"
	"github.com/Matschula1987/heiba-rms-sub001/internal/syncer"
	"github.com/jonboulle/clockwork"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		stop()
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		stop()
		log.Fatalf("schema: %v", err)
	}

	logger.Info("db connected")

	metrics.Register()
	checker := health.NewChecker(pool, logger, prometheus.DefaultRegisterer)

	clock := clockwork.NewRealClock()

	taskRepo := postgres.NewTaskRepository(pool)
	logRepo := postgres.NewLogRepository(pool)
	pipelineRepo := postgres.NewPipelineRepository(pool)
	syncRepo := postgres.NewSyncRepository(pool)

	sched := scheduler.NewScheduler(taskRepo, logRepo, clock, logger, time.Duration(cfg.LeaseSeconds)*time.Second)
	dispatcher := pipeline.NewDispatcher(pipelineRepo, sched, clock, logger)
	coordinator := syncer.NewCoordinator(syncRepo, sched, clock, logger)

	syncExec := syncer.NewSyncExecutor(syncRepo, clock, syncer.NewLogRunner(logger))

	registry := scheduler.NewRegistry()
	registerExecutors(ctx, registry, dispatcher, coordinator, syncExec, logger)

	worker := scheduler.NewWorker(
		sched,
		registry,
		logger,
		time.Duration(cfg.PollIntervalSec)*time.Second,
		time.Duration(cfg.ExecTimeoutSec)*time.Second,
		cfg.WorkerCount,
	)
	go worker.Start(ctx)

	reaper := scheduler.NewReaper(taskRepo, clock, logger, time.Duration(cfg.ReapIntervalSec)*time.Second)
	go reaper.Start(ctx)

	go dispatcher.Start(ctx, time.Duration(cfg.DispatchIntervalSec)*time.Second)

	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, checker)
	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}

	logger.Info("scheduler shut down")
}

// registerExecutors binds every task type the scheduler may claim. Pipeline
// and sync task types are derived from their settings tables at startup; a
// destination added at runtime needs a process restart to get its executor.
func registerExecutors(
	ctx context.Context,
	registry *scheduler.Registry,
	dispatcher *pipeline.Dispatcher,
	coordinator *syncer.Coordinator,
	syncExec *syncer.SyncExecutor,
	logger *slog.Logger,
) {
	publisher := pipeline.NewLogPublisher(logger)
	postExec := pipeline.NewPostExecutor(dispatcher, publisher)

	settings, err := dispatcher.ListSettings(ctx)
	if err != nil {
		log.Fatalf("list pipeline settings: %v", err)
	}
	for _, s := range settings {
		registry.Register(pipeline.TaskTypeFor(s.PipelineType), postExec)
	}

	syncSettings, err := coordinator.List(ctx, 1000)
	if err != nil {
		log.Fatalf("list sync settings: %v", err)
	}
	for _, s := range syncSettings {
		registry.Register(s.TaskType, syncExec)
	}
}

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}
