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
	"github.com/Matschula1987/heiba-rms-sub001/internal/scheduler"
	"github.com/jonboulle/clockwork"
)

// Coordinator keeps sync settings and their scheduled tasks in lockstep.
// Each settings row owns at most one recurring task, linked through the
// task's (entity_type, entity_id) back-reference; enabling settings creates
// or re-points the task, disabling deletes it.
type Coordinator struct {
	settings repository.SyncRepository
	tasks    *scheduler.Scheduler
	clock    clockwork.Clock
	logger   *slog.Logger
}

func NewCoordinator(
	settings repository.SyncRepository,
	tasks *scheduler.Scheduler,
	clock clockwork.Clock,
	logger *slog.Logger,
) *Coordinator {
	return &Coordinator{
		settings: settings,
		tasks:    tasks,
		clock:    clock,
		logger:   logger.With("component", "syncer"),
	}
}

// SaveSettings upserts the settings row and reconciles its task: enabled
// settings end up with exactly one pending task due at the recomputed next
// sync time, disabled settings with none.
func (c *Coordinator) SaveSettings(ctx context.Context, s *domain.SyncSettings) (*domain.SyncSettings, error) {
	spec := s.Recurrence()
	if err := recurrence.Validate(spec); err != nil {
		return nil, err
	}

	now := c.clock.Now()
	s.NextSync = nil
	if s.Enabled {
		next, ok, err := recurrence.Next(spec, now, now)
		if err != nil {
			return nil, fmt.Errorf("compute next sync: %w", err)
		}
		if ok {
			s.NextSync = &next
		}
	}

	saved, err := c.settings.Upsert(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("save sync settings: %w", err)
	}

	if err := c.reconcileTask(ctx, saved); err != nil {
		return nil, err
	}
	return saved, nil
}

func (c *Coordinator) reconcileTask(ctx context.Context, s *domain.SyncSettings) error {
	existing, err := c.tasks.FindByEntity(ctx, domain.SyncEntityType, s.ID)
	if err != nil && !errors.Is(err, domain.ErrTaskNotFound) {
		return err
	}

	if !s.Enabled || s.NextSync == nil {
		if existing == nil {
			return nil
		}
		if err := c.tasks.Delete(ctx, existing.ID); err != nil {
			return fmt.Errorf("delete sync task: %w", err)
		}
		c.logger.Info("sync task removed",
			"entity", s.EntityType+"/"+s.EntityID, "task_id", existing.ID)
		return nil
	}

	if existing == nil {
		entityType := domain.SyncEntityType
		var cronExpr string
		if s.CronExpr != nil {
			cronExpr = *s.CronExpr
		}
		task, err := c.tasks.Create(ctx, scheduler.CreateTaskInput{
			TaskType:      s.TaskType,
			ScheduledFor:  *s.NextSync,
			IntervalType:  s.IntervalType,
			IntervalValue: s.IntervalValue,
			CronExpr:      cronExpr,
			Custom:        s.Custom,
			Config:        s.Config,
			EntityType:    &entityType,
			EntityID:      &s.ID,
		})
		if err != nil {
			return fmt.Errorf("create sync task: %w", err)
		}
		c.logger.Info("sync task created",
			"entity", s.EntityType+"/"+s.EntityID, "task_id", task.ID, "next_sync", *s.NextSync)
		return nil
	}

	status := domain.StatusPending
	_, err = c.tasks.Update(ctx, existing.ID, repository.TaskPatch{
		Status:        &status,
		ScheduledFor:  s.NextSync,
		IntervalType:  &s.IntervalType,
		IntervalValue: &s.IntervalValue,
		CronExpr:      s.CronExpr,
		Custom:        s.Custom,
		Config:        s.Config,
		NextRun:       s.NextSync,
	})
	if err != nil {
		return fmt.Errorf("update sync task: %w", err)
	}
	return nil
}

// UpdateLastSync records a completed sync run and moves the settings row
// and its task to the next occurrence computed from the run time.
func (c *Coordinator) UpdateLastSync(ctx context.Context, entityType, entityID string, at time.Time) (*domain.SyncSettings, error) {
	s, err := c.settings.GetByEntity(ctx, entityType, entityID)
	if err != nil {
		return nil, err
	}

	var nextSync *time.Time
	if s.Enabled {
		next, ok, err := recurrence.Next(s.Recurrence(), at, c.clock.Now())
		if err != nil {
			return nil, fmt.Errorf("compute next sync: %w", err)
		}
		if ok {
			nextSync = &next
		}
	}

	if err := c.settings.SetLastSync(ctx, s.ID, at, nextSync); err != nil {
		return nil, fmt.Errorf("record last sync: %w", err)
	}
	s.LastSync = &at
	s.NextSync = nextSync

	// Keep the task's next_run aligned; the task may already have re-armed
	// itself, in which case this is a harmless overwrite with the same value.
	if nextSync != nil {
		existing, err := c.tasks.FindByEntity(ctx, domain.SyncEntityType, s.ID)
		if err != nil && !errors.Is(err, domain.ErrTaskNotFound) {
			return nil, err
		}
		if existing != nil && !existing.Status.Terminal() {
			if _, err := c.tasks.Update(ctx, existing.ID, repository.TaskPatch{NextRun: nextSync}); err != nil {
				return nil, fmt.Errorf("align sync task: %w", err)
			}
		}
	}
	return s, nil
}

func (c *Coordinator) Get(ctx context.Context, entityType, entityID string) (*domain.SyncSettings, error) {
	return c.settings.GetByEntity(ctx, entityType, entityID)
}

func (c *Coordinator) List(ctx context.Context, limit int) ([]*domain.SyncSettings, error) {
	return c.settings.List(ctx, limit)
}

// Delete removes the settings row and its task, if any.
func (c *Coordinator) Delete(ctx context.Context, entityType, entityID string) error {
	s, err := c.settings.GetByEntity(ctx, entityType, entityID)
	if err != nil {
		return err
	}

	existing, err := c.tasks.FindByEntity(ctx, domain.SyncEntityType, s.ID)
	if err != nil && !errors.Is(err, domain.ErrTaskNotFound) {
		return err
	}
	if existing != nil {
		if err := c.tasks.Delete(ctx, existing.ID); err != nil {
			return fmt.Errorf("delete sync task: %w", err)
		}
	}
	return c.settings.Delete(ctx, entityType, entityID)
}
