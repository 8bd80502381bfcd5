package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/Matschula1987/heiba-rms-sub001/internal/domain"
	"github.com/Matschula1987/heiba-rms-sub001/internal/metrics"
)

// Worker polls for due tasks, executes them through the registry and reports
// the outcome back into the scheduler. Multiple workers may run against the
// same database; the atomic claim keeps them from double-executing a task.
type Worker struct {
	id           string
	scheduler    *Scheduler
	registry     *Registry
	logger       *slog.Logger
	pollInterval time.Duration
	execTimeout  time.Duration
	concurrency  int
	sem          chan struct{}
}

func NewWorker(
	scheduler *Scheduler,
	registry *Registry,
	logger *slog.Logger,
	pollInterval time.Duration,
	execTimeout time.Duration,
	concurrency int,
) *Worker {
	hostname, _ := os.Hostname()
	id := fmt.Sprintf("%s-%d", hostname, os.Getpid())
	return &Worker{
		id:           id,
		scheduler:    scheduler,
		registry:     registry,
		logger:       logger.With("worker_id", id),
		pollInterval: pollInterval,
		execTimeout:  execTimeout,
		concurrency:  concurrency,
		sem:          make(chan struct{}, concurrency),
	}
}

func (w *Worker) ID() string { return w.id }

func (w *Worker) Start(ctx context.Context) {
	metrics.WorkerStartTime.SetToCurrentTime()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.logger.Info("worker started", "concurrency", w.concurrency, "poll_interval", w.pollInterval)

	for {
		select {
		case <-ctx.Done():
			metrics.WorkerShutdownsTotal.Inc()
			w.logger.Info("worker shut down")
			return
		case <-ticker.C:
			w.processBatch(ctx)
		}
	}
}

func (w *Worker) processBatch(ctx context.Context) {
	available := cap(w.sem) - len(w.sem)
	if available == 0 {
		return
	}

	tasks, err := w.scheduler.ClaimDue(ctx, w.id, available)
	if err != nil {
		w.logger.Error("claim due tasks", "error", err)
		return
	}
	if len(tasks) == 0 {
		return
	}
	metrics.TasksClaimedTotal.Add(float64(len(tasks)))

	w.logger.Info("claimed tasks", "count", len(tasks), "slots_used", len(w.sem)+len(tasks), "slots_total", cap(w.sem))

	for _, task := range tasks {
		w.sem <- struct{}{}
		go func(t *domain.ScheduledTask) {
			metrics.TasksInFlight.Inc()
			defer metrics.TasksInFlight.Dec()
			defer func() { <-w.sem }()
			w.runTask(ctx, t)
		}(task)
	}
}

func (w *Worker) runTask(ctx context.Context, task *domain.ScheduledTask) {
	if task.NextRun != nil {
		metrics.TaskPickupLatency.Observe(time.Since(*task.NextRun).Seconds())
	}

	executor, ok := w.registry.Resolve(task.TaskType)
	if !ok {
		// Configuration error: never silently dropped, recorded on the task.
		msg := fmt.Sprintf("%v: %q", domain.ErrUnknownTaskType, task.TaskType)
		w.logger.Error("no executor for task type", "task_id", task.ID, "task_type", task.TaskType)
		if err := w.scheduler.Fail(ctx, task.ID, w.id, msg); err != nil {
			w.logger.Error("mark task failed", "task_id", task.ID, "error", err)
		}
		metrics.TasksCompletedTotal.WithLabelValues("failed").Inc()
		return
	}

	w.logger.Info("executing task", "task_id", task.ID, "task_type", task.TaskType)

	execCtx, cancel := context.WithTimeout(ctx, w.execTimeout)
	defer cancel()

	start := time.Now()
	result, err := executor.Execute(execCtx, task)
	duration := time.Since(start)

	if err != nil {
		metrics.TaskExecutionDuration.WithLabelValues("failure").Observe(duration.Seconds())
		metrics.TasksCompletedTotal.WithLabelValues("failed").Inc()
		if failErr := w.scheduler.Fail(ctx, task.ID, w.id, err.Error()); failErr != nil {
			w.logger.Error("mark task failed", "task_id", task.ID, "error", failErr)
		}
		w.logger.Warn("task failed", "task_id", task.ID, "task_type", task.TaskType, "error", err, "duration", duration)
		return
	}

	metrics.TaskExecutionDuration.WithLabelValues("success").Observe(duration.Seconds())
	metrics.TasksCompletedTotal.WithLabelValues("success").Inc()
	if err := w.scheduler.Complete(ctx, task.ID, w.id, result); err != nil {
		w.logger.Error("mark task complete", "task_id", task.ID, "error", err)
		return
	}
	w.logger.Info("task completed", "task_id", task.ID, "task_type", task.TaskType, "duration", duration)
}
