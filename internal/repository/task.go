package repository

import (
	"context"
	"time"

	"github.com/Matschula1987/heiba-rms-sub001/internal/domain"
)

type ListTasksInput struct {
	Status     domain.Status // empty = all statuses
	TaskType   string        // empty = all types
	CursorTime *time.Time    // nil = first page
	CursorID   string        // used only when CursorTime is non-nil
	Limit      int
}

// TaskPatch is a partial update; nil fields are left untouched.
type TaskPatch struct {
	Status        *domain.Status
	ScheduledFor  *time.Time
	IntervalType  *domain.IntervalType
	IntervalValue *int
	CronExpr      *string
	Custom        *domain.CustomSchedule
	Config        []byte
	NextRun       *time.Time
	MaxAttempts   *int
}

// RearmInput carries the outcome of one run of a recurring task. The row is
// reset to pending with a fresh next_run; an Error outcome increments the
// consecutive-failure counter, a Result outcome resets it.
type RearmInput struct {
	WorkerID string
	LastRun  time.Time
	NextRun  time.Time
	Result   *string
	Error    *string
}

// TaskRepository is the persistence contract for scheduled tasks. Claim,
// Complete, Fail and Rearm are the only writes on the execution path, and
// each is a single conditional update so two workers can never act on the
// same claim.
type TaskRepository interface {
	Create(ctx context.Context, t *domain.ScheduledTask) (*domain.ScheduledTask, error)
	GetByID(ctx context.Context, id string) (*domain.ScheduledTask, error)
	List(ctx context.Context, input ListTasksInput) ([]*domain.ScheduledTask, error)
	// FindByEntity resolves the soft back-reference (entityType, entityID).
	FindByEntity(ctx context.Context, entityType, entityID string) (*domain.ScheduledTask, error)
	Patch(ctx context.Context, id string, patch TaskPatch) (*domain.ScheduledTask, error)
	Delete(ctx context.Context, id string) error

	// Claim atomically moves up to limit due pending tasks to running,
	// ordered by (next_run ASC, id ASC), stamping the worker's lease.
	Claim(ctx context.Context, workerID string, now time.Time, leaseFor time.Duration, limit int) ([]*domain.ScheduledTask, error)
	// Complete and Fail set a terminal status; both require the caller to
	// hold the lease and return ErrLeaseMismatch otherwise.
	Complete(ctx context.Context, id, workerID string, completedAt time.Time, result string) error
	Fail(ctx context.Context, id, workerID string, failedAt time.Time, errMsg string) error
	Rearm(ctx context.Context, id string, in RearmInput) error
	// Cancel is idempotent: cancelling an already-terminal task reports
	// false without error.
	Cancel(ctx context.Context, id string) (bool, error)

	// Reaper methods — recover tasks whose worker stopped renewing the lease.
	ReclaimExpired(ctx context.Context, cutoff time.Time, limit int) (int, error)
	FailExpired(ctx context.Context, cutoff time.Time, limit int) (int, error)
}
