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
	httptransport "github.com/Matschula1987/heiba-rms-sub001/internal/transport/http"
	"github.com/Matschula1987/heiba-rms-sub001/internal/transport/http/handler"
	"github.com/gin-gonic/gin"
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

	if cfg.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}

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

	clock := clockwork.NewRealClock()

	taskRepo := postgres.NewTaskRepository(pool)
	logRepo := postgres.NewLogRepository(pool)
	pipelineRepo := postgres.NewPipelineRepository(pool)
	syncRepo := postgres.NewSyncRepository(pool)

	sched := scheduler.NewScheduler(taskRepo, logRepo, clock, logger, time.Duration(cfg.LeaseSeconds)*time.Second)
	dispatcher := pipeline.NewDispatcher(pipelineRepo, sched, clock, logger)
	coordinator := syncer.NewCoordinator(syncRepo, sched, clock, logger)

	taskHandler := handler.NewTaskHandler(sched, logger)
	pipelineHandler := handler.NewPipelineHandler(dispatcher, logger)
	syncHandler := handler.NewSyncHandler(coordinator, logger)

	metrics.Register()
	checker := health.NewChecker(pool, logger, prometheus.DefaultRegisterer)

	srv := http.Server{
		Addr:    ":" + cfg.Port,
		Handler: httptransport.NewRouter(logger, taskHandler, pipelineHandler, syncHandler),
	}

	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, checker)

	go func() {
		logger.Info("server started", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
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
