package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/Matschula1987/heiba-rms-sub001/internal/metrics"
	"github.com/Matschula1987/heiba-rms-sub001/internal/repository"
	"github.com/jonboulle/clockwork"
)

// Reaper recovers tasks whose worker crashed mid-run: an expired lease on a
// running task either resets it to pending (another worker will pick it up)
// or, once the failure budget is spent, parks it as failed.
type Reaper struct {
	tasks    repository.TaskRepository
	clock    clockwork.Clock
	logger   *slog.Logger
	interval time.Duration
}

func NewReaper(tasks repository.TaskRepository, clock clockwork.Clock, logger *slog.Logger, interval time.Duration) *Reaper {
	return &Reaper{
		tasks:    tasks,
		clock:    clock,
		logger:   logger.With("component", "reaper"),
		interval: interval,
	}
}

func (r *Reaper) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("reaper started", "interval", r.interval)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reaper shut down")
			return
		case <-ticker.C:
			r.reap(ctx)
		}
	}
}

func (r *Reaper) reap(ctx context.Context) {
	start := time.Now()
	cutoff := r.clock.Now()

	reclaimed, err := r.tasks.ReclaimExpired(ctx, cutoff, 100)
	if err != nil {
		r.logger.Error("reclaim expired leases", "error", err)
	} else if reclaimed > 0 {
		metrics.ReaperReclaimedTotal.WithLabelValues("reclaimed").Add(float64(reclaimed))
		r.logger.Warn("reclaimed expired task leases", "count", reclaimed)
	}

	failed, err := r.tasks.FailExpired(ctx, cutoff, 100)
	if err != nil {
		r.logger.Error("fail expired leases", "error", err)
	} else if failed > 0 {
		metrics.ReaperReclaimedTotal.WithLabelValues("failed").Add(float64(failed))
		r.logger.Warn("failed tasks with exhausted attempts", "count", failed)
	}

	metrics.ReaperCycleDuration.Observe(time.Since(start).Seconds())
}
