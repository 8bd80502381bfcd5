package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Matschula1987/heiba-rms-sub001/internal/domain"
	"github.com/Matschula1987/heiba-rms-sub001/internal/recurrence"
	"github.com/Matschula1987/heiba-rms-sub001/internal/repository"
	"github.com/jonboulle/clockwork"
)

// Runner performs the actual data pull for one sync settings row and
// returns an opaque result summary.
type Runner interface {
	Run(ctx context.Context, s *domain.SyncSettings) (string, error)
}

// SyncExecutor is the scheduled-task executor for sync task types. It
// resolves the settings row via the task's back-reference, delegates to the
// Runner and records last_sync/next_sync on success. The task itself is
// re-armed by the scheduler when the run completes.
type SyncExecutor struct {
	settings repository.SyncRepository
	clock    clockwork.Clock
	runner   Runner
}

func NewSyncExecutor(settings repository.SyncRepository, clock clockwork.Clock, runner Runner) *SyncExecutor {
	return &SyncExecutor{settings: settings, clock: clock, runner: runner}
}

func (e *SyncExecutor) Execute(ctx context.Context, task *domain.ScheduledTask) (string, error) {
	if task.EntityType == nil || *task.EntityType != domain.SyncEntityType || task.EntityID == nil {
		return "", errors.New("sync task has no settings reference")
	}

	s, err := e.settings.GetByID(ctx, *task.EntityID)
	if err != nil {
		return "", fmt.Errorf("resolve sync settings: %w", err)
	}

	result, err := e.runner.Run(ctx, s)
	if err != nil {
		return "", err
	}

	now := e.clock.Now()
	var nextSync *time.Time
	next, ok, calcErr := recurrence.Next(s.Recurrence(), now, now)
	if calcErr == nil && ok {
		nextSync = &next
	}
	if err := e.settings.SetLastSync(ctx, s.ID, now, nextSync); err != nil {
		return "", fmt.Errorf("record sync run: %w", err)
	}
	return result, nil
}

// LogRunner is the stand-in sync implementation used until a real
// integration is wired in: it logs the settings row and reports success.
type LogRunner struct {
	logger *slog.Logger
}

func NewLogRunner(logger *slog.Logger) *LogRunner {
	return &LogRunner{logger: logger.With("component", "sync_runner")}
}

func (r *LogRunner) Run(_ context.Context, s *domain.SyncSettings) (string, error) {
	r.logger.Info("running sync", "entity", s.EntityType+"/"+s.EntityID, "task_type", s.TaskType)
	return "synced:" + s.EntityType + "/" + s.EntityID, nil
}
