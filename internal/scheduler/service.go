package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Matschula1987/heiba-rms-sub001/internal/domain"
	"github.com/Matschula1987/heiba-rms-sub001/internal/recurrence"
	"github.com/Matschula1987/heiba-rms-sub001/internal/repository"
	"github.com/jonboulle/clockwork"
)

// Scheduler owns the lifecycle state machine of scheduled tasks:
// pending → running → completed/failed, with recurring tasks reset to
// pending on every outcome. It holds no state of its own; all mutation goes
// through the task repository's conditional updates.
type Scheduler struct {
	tasks  repository.TaskRepository
	logs   repository.LogRepository
	clock  clockwork.Clock
	logger *slog.Logger
	lease  time.Duration
}

func NewScheduler(
	tasks repository.TaskRepository,
	logs repository.LogRepository,
	clock clockwork.Clock,
	logger *slog.Logger,
	lease time.Duration,
) *Scheduler {
	return &Scheduler{
		tasks:  tasks,
		logs:   logs,
		clock:  clock,
		logger: logger.With("component", "scheduler"),
		lease:  lease,
	}
}

type CreateTaskInput struct {
	TaskType      string
	ScheduledFor  time.Time
	IntervalType  domain.IntervalType
	IntervalValue int
	CronExpr      string
	Custom        *domain.CustomSchedule
	Config        json.RawMessage
	EntityType    *string
	EntityID      *string
	MaxAttempts   int
}

// Create persists a pending task with next_run = scheduled_for and writes a
// start audit entry. Malformed recurrence specs are rejected here so the
// poll path never sees one.
func (s *Scheduler) Create(ctx context.Context, input CreateTaskInput) (*domain.ScheduledTask, error) {
	if input.IntervalType == "" {
		input.IntervalType = domain.IntervalOnce
	}
	spec := domain.RecurrenceSpec{
		IntervalType:  input.IntervalType,
		IntervalValue: input.IntervalValue,
		CronExpr:      input.CronExpr,
		Custom:        input.Custom,
	}
	if err := recurrence.Validate(spec); err != nil {
		return nil, err
	}

	scheduledFor := input.ScheduledFor
	if scheduledFor.IsZero() {
		scheduledFor = s.clock.Now()
	}

	task := &domain.ScheduledTask{
		TaskType:      input.TaskType,
		Status:        domain.StatusPending,
		ScheduledFor:  scheduledFor,
		IntervalType:  input.IntervalType,
		IntervalValue: input.IntervalValue,
		Custom:        input.Custom,
		Config:        input.Config,
		EntityType:    input.EntityType,
		EntityID:      input.EntityID,
		NextRun:       &scheduledFor,
		MaxAttempts:   input.MaxAttempts,
	}
	if input.CronExpr != "" {
		task.CronExpr = &input.CronExpr
	}

	created, err := s.tasks.Create(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	s.audit(ctx, created, domain.LogActionStart, "task created")
	return created, nil
}

// ClaimDue atomically claims up to limit due tasks for workerID, ordered
// earliest-due-first with the task id as deterministic tie-break.
func (s *Scheduler) ClaimDue(ctx context.Context, workerID string, limit int) ([]*domain.ScheduledTask, error) {
	tasks, err := s.tasks.Claim(ctx, workerID, s.clock.Now(), s.lease, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due tasks: %w", err)
	}
	return tasks, nil
}

// Complete records a successful run. A one-shot task becomes terminal; a
// recurring task is reset to pending with a fresh next_run computed from
// this run's timestamp.
func (s *Scheduler) Complete(ctx context.Context, id, workerID, result string) error {
	task, err := s.tasks.GetByID(ctx, id)
	if err != nil {
		return err
	}
	now := s.clock.Now()

	if !task.Recurring() {
		if err := s.tasks.Complete(ctx, id, workerID, now, result); err != nil {
			return err
		}
		task.Status = domain.StatusCompleted
		s.audit(ctx, task, domain.LogActionComplete, result)
		return nil
	}

	next, ok, err := recurrence.Next(task.Recurrence(), now, now)
	if err != nil || !ok {
		// Fail closed: a recurring task whose spec can no longer produce an
		// occurrence must not sit pending forever with a stale next_run.
		msg := "recurrence exhausted"
		if err != nil {
			msg = fmt.Sprintf("recurrence calculation: %v", err)
		}
		if failErr := s.tasks.Fail(ctx, id, workerID, now, msg); failErr != nil {
			return failErr
		}
		task.Status = domain.StatusFailed
		s.audit(ctx, task, domain.LogActionFail, msg)
		return err
	}

	if err := s.tasks.Rearm(ctx, id, repository.RearmInput{
		WorkerID: workerID,
		LastRun:  now,
		NextRun:  next,
		Result:   &result,
	}); err != nil {
		return err
	}
	task.Status = domain.StatusPending
	s.audit(ctx, task, domain.LogActionComplete, result)
	return nil
}

// Fail records a failed run. The scheduler does not retry execution itself;
// its only obligation is to re-arm recurring tasks so one failure does not
// stall the schedule. A recurring task that reaches its consecutive-failure
// budget is parked as failed instead.
func (s *Scheduler) Fail(ctx context.Context, id, workerID, errMsg string) error {
	task, err := s.tasks.GetByID(ctx, id)
	if err != nil {
		return err
	}
	now := s.clock.Now()

	exhausted := task.MaxAttempts > 0 && task.Attempts+1 >= task.MaxAttempts
	if !task.Recurring() || exhausted {
		if err := s.tasks.Fail(ctx, id, workerID, now, errMsg); err != nil {
			return err
		}
		task.Status = domain.StatusFailed
		if exhausted && task.Recurring() {
			s.audit(ctx, task, domain.LogActionFail, fmt.Sprintf("%s (max attempts reached)", errMsg))
		} else {
			s.audit(ctx, task, domain.LogActionFail, errMsg)
		}
		return nil
	}

	next, ok, calcErr := recurrence.Next(task.Recurrence(), now, now)
	if calcErr != nil || !ok {
		msg := errMsg
		if calcErr != nil {
			msg = fmt.Sprintf("%s; recurrence calculation: %v", errMsg, calcErr)
		}
		if failErr := s.tasks.Fail(ctx, id, workerID, now, msg); failErr != nil {
			return failErr
		}
		task.Status = domain.StatusFailed
		s.audit(ctx, task, domain.LogActionFail, msg)
		return calcErr
	}

	if err := s.tasks.Rearm(ctx, id, repository.RearmInput{
		WorkerID: workerID,
		LastRun:  now,
		NextRun:  next,
		Error:    &errMsg,
	}); err != nil {
		return err
	}
	task.Status = domain.StatusPending
	s.audit(ctx, task, domain.LogActionFail, errMsg)
	return nil
}

// Cancel is terminal and idempotent: cancelling an already-terminal task is
// a no-op, not an error.
func (s *Scheduler) Cancel(ctx context.Context, id string) error {
	cancelled, err := s.tasks.Cancel(ctx, id)
	if err != nil {
		return err
	}
	if !cancelled {
		return nil
	}
	task, err := s.tasks.GetByID(ctx, id)
	if err != nil {
		return err
	}
	s.audit(ctx, task, domain.LogActionCancel, "task cancelled")
	return nil
}

// Update applies a partial field patch. Every update writes a start audit
// entry, not just status changes — kept as an intentional audit-trail quirk.
func (s *Scheduler) Update(ctx context.Context, id string, patch repository.TaskPatch) (*domain.ScheduledTask, error) {
	if patch.IntervalType != nil || patch.CronExpr != nil || patch.Custom != nil {
		existing, err := s.tasks.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		spec := existing.Recurrence()
		if patch.IntervalType != nil {
			spec.IntervalType = *patch.IntervalType
		}
		if patch.IntervalValue != nil {
			spec.IntervalValue = *patch.IntervalValue
		}
		if patch.CronExpr != nil {
			spec.CronExpr = *patch.CronExpr
		}
		if patch.Custom != nil {
			spec.Custom = patch.Custom
		}
		if err := recurrence.Validate(spec); err != nil {
			return nil, err
		}
	}

	updated, err := s.tasks.Patch(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	s.audit(ctx, updated, domain.LogActionStart, "task updated")
	return updated, nil
}

// Delete removes a task row entirely (used by callers that own the task,
// such as the sync coordinator when settings are disabled).
func (s *Scheduler) Delete(ctx context.Context, id string) error {
	return s.tasks.Delete(ctx, id)
}

func (s *Scheduler) Get(ctx context.Context, id string) (*domain.ScheduledTask, error) {
	return s.tasks.GetByID(ctx, id)
}

func (s *Scheduler) FindByEntity(ctx context.Context, entityType, entityID string) (*domain.ScheduledTask, error) {
	return s.tasks.FindByEntity(ctx, entityType, entityID)
}

func (s *Scheduler) List(ctx context.Context, input repository.ListTasksInput) ([]*domain.ScheduledTask, error) {
	return s.tasks.List(ctx, input)
}

func (s *Scheduler) Logs(ctx context.Context, taskID string, limit int) ([]*domain.SchedulerLog, error) {
	return s.logs.ListByTask(ctx, taskID, limit)
}

// audit appends one write-once log row per transition. A failed append is
// logged and swallowed: the task transition itself has already committed.
func (s *Scheduler) audit(ctx context.Context, task *domain.ScheduledTask, action domain.LogAction, details string) {
	err := s.logs.Append(ctx, &domain.SchedulerLog{
		TaskID:   task.ID,
		TaskType: task.TaskType,
		Action:   action,
		Status:   task.Status,
		Details:  details,
	})
	if err != nil {
		s.logger.Error("append audit log", "task_id", task.ID, "action", action, "error", err)
	}
}
