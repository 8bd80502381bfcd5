package scheduler_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Matschula1987/heiba-rms-sub001/internal/domain"
	"github.com/Matschula1987/heiba-rms-sub001/internal/repository"
	"github.com/Matschula1987/heiba-rms-sub001/internal/scheduler"
	"github.com/jonboulle/clockwork"
)

// ---- fakes ----

type fakeTaskRepo struct {
	create         func(ctx context.Context, t *domain.ScheduledTask) (*domain.ScheduledTask, error)
	getByID        func(ctx context.Context, id string) (*domain.ScheduledTask, error)
	list           func(ctx context.Context, input repository.ListTasksInput) ([]*domain.ScheduledTask, error)
	findByEntity   func(ctx context.Context, entityType, entityID string) (*domain.ScheduledTask, error)
	patch          func(ctx context.Context, id string, patch repository.TaskPatch) (*domain.ScheduledTask, error)
	del            func(ctx context.Context, id string) error
	claim          func(ctx context.Context, workerID string, now time.Time, leaseFor time.Duration, limit int) ([]*domain.ScheduledTask, error)
	complete       func(ctx context.Context, id, workerID string, completedAt time.Time, result string) error
	fail           func(ctx context.Context, id, workerID string, failedAt time.Time, errMsg string) error
	rearm          func(ctx context.Context, id string, in repository.RearmInput) error
	cancel         func(ctx context.Context, id string) (bool, error)
	reclaimExpired func(ctx context.Context, cutoff time.Time, limit int) (int, error)
	failExpired    func(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

func (r *fakeTaskRepo) Create(ctx context.Context, t *domain.ScheduledTask) (*domain.ScheduledTask, error) {
	return r.create(ctx, t)
}
func (r *fakeTaskRepo) GetByID(ctx context.Context, id string) (*domain.ScheduledTask, error) {
	return r.getByID(ctx, id)
}
func (r *fakeTaskRepo) List(ctx context.Context, input repository.ListTasksInput) ([]*domain.ScheduledTask, error) {
	return r.list(ctx, input)
}
func (r *fakeTaskRepo) FindByEntity(ctx context.Context, entityType, entityID string) (*domain.ScheduledTask, error) {
	return r.findByEntity(ctx, entityType, entityID)
}
func (r *fakeTaskRepo) Patch(ctx context.Context, id string, patch repository.TaskPatch) (*domain.ScheduledTask, error) {
	return r.patch(ctx, id, patch)
}
func (r *fakeTaskRepo) Delete(ctx context.Context, id string) error { return r.del(ctx, id) }
func (r *fakeTaskRepo) Claim(ctx context.Context, workerID string, now time.Time, leaseFor time.Duration, limit int) ([]*domain.ScheduledTask, error) {
	return r.claim(ctx, workerID, now, leaseFor, limit)
}
func (r *fakeTaskRepo) Complete(ctx context.Context, id, workerID string, completedAt time.Time, result string) error {
	return r.complete(ctx, id, workerID, completedAt, result)
}
func (r *fakeTaskRepo) Fail(ctx context.Context, id, workerID string, failedAt time.Time, errMsg string) error {
	return r.fail(ctx, id, workerID, failedAt, errMsg)
}
func (r *fakeTaskRepo) Rearm(ctx context.Context, id string, in repository.RearmInput) error {
	return r.rearm(ctx, id, in)
}
func (r *fakeTaskRepo) Cancel(ctx context.Context, id string) (bool, error) {
	return r.cancel(ctx, id)
}
func (r *fakeTaskRepo) ReclaimExpired(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	return r.reclaimExpired(ctx, cutoff, limit)
}
func (r *fakeTaskRepo) FailExpired(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	return r.failExpired(ctx, cutoff, limit)
}

type fakeLogRepo struct {
	entries []*domain.SchedulerLog
}

func (r *fakeLogRepo) Append(_ context.Context, entry *domain.SchedulerLog) error {
	r.entries = append(r.entries, entry)
	return nil
}

func (r *fakeLogRepo) ListByTask(_ context.Context, taskID string, _ int) ([]*domain.SchedulerLog, error) {
	var out []*domain.SchedulerLog
	for _, e := range r.entries {
		if e.TaskID == taskID {
			out = append(out, e)
		}
	}
	return out, nil
}

// ---- helpers ----

const workerID = "worker-test-1"

func newScheduler(tasks *fakeTaskRepo, logs *fakeLogRepo, clock clockwork.Clock) *scheduler.Scheduler {
	return scheduler.NewScheduler(tasks, logs, clock, slog.New(slog.NewTextHandler(io.Discard, nil)), 5*time.Minute)
}

func dailyTask() *domain.ScheduledTask {
	return &domain.ScheduledTask{
		ID:           "task-1",
		TaskType:     "posting_sync",
		Status:       domain.StatusRunning,
		ScheduledFor: time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC),
		IntervalType: domain.IntervalDaily,
	}
}

// ---- Create ----

func TestCreate_PendingWithNextRunAndStartLog(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC))
	scheduledFor := time.Date(2025, 1, 2, 9, 0, 0, 0, time.UTC)

	var captured *domain.ScheduledTask
	tasks := &fakeTaskRepo{
		create: func(_ context.Context, task *domain.ScheduledTask) (*domain.ScheduledTask, error) {
			task.ID = "task-1"
			captured = task
			return task, nil
		},
	}
	logs := &fakeLogRepo{}

	_, err := newScheduler(tasks, logs, clock).Create(context.Background(), scheduler.CreateTaskInput{
		TaskType:     "posting_sync",
		ScheduledFor: scheduledFor,
		IntervalType: domain.IntervalDaily,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if captured.Status != domain.StatusPending {
		t.Errorf("status = %s, want pending", captured.Status)
	}
	if captured.NextRun == nil || !captured.NextRun.Equal(scheduledFor) {
		t.Errorf("next_run = %v, want %v", captured.NextRun, scheduledFor)
	}
	if len(logs.entries) != 1 || logs.entries[0].Action != domain.LogActionStart {
		t.Errorf("want exactly one start log entry, got %+v", logs.entries)
	}
}

func TestCreate_RejectsInvalidSpecBeforePersisting(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tasks := &fakeTaskRepo{
		create: func(_ context.Context, _ *domain.ScheduledTask) (*domain.ScheduledTask, error) {
			t.Fatal("create must not be called for an invalid spec")
			return nil, nil
		},
	}

	_, err := newScheduler(tasks, &fakeLogRepo{}, clock).Create(context.Background(), scheduler.CreateTaskInput{
		TaskType:     "posting_sync",
		IntervalType: domain.IntervalCron,
		CronExpr:     "not a cron",
	})
	if !errors.Is(err, domain.ErrInvalidCronExpr) {
		t.Errorf("want ErrInvalidCronExpr, got %v", err)
	}
}

// ---- Complete ----

func TestComplete_RecurringRearmsFromThisRunNotScheduledFor(t *testing.T) {
	// Daily task scheduled for 09:00; the run completes at 09:05, so the
	// next occurrence is 09:05 tomorrow, anchored on this run.
	now := time.Date(2025, 1, 1, 9, 5, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(now)

	task := dailyTask()
	var rearmed *repository.RearmInput
	tasks := &fakeTaskRepo{
		getByID: func(_ context.Context, _ string) (*domain.ScheduledTask, error) { return task, nil },
		rearm: func(_ context.Context, _ string, in repository.RearmInput) error {
			rearmed = &in
			return nil
		},
	}
	logs := &fakeLogRepo{}

	if err := newScheduler(tasks, logs, clock).Complete(context.Background(), task.ID, workerID, "ok"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if rearmed == nil {
		t.Fatal("recurring task was not re-armed")
	}
	if want := time.Date(2025, 1, 2, 9, 5, 0, 0, time.UTC); !rearmed.NextRun.Equal(want) {
		t.Errorf("next_run = %v, want %v", rearmed.NextRun, want)
	}
	if !rearmed.LastRun.Equal(now) {
		t.Errorf("last_run = %v, want %v", rearmed.LastRun, now)
	}
	if rearmed.Result == nil || *rearmed.Result != "ok" {
		t.Errorf("result = %v, want ok", rearmed.Result)
	}
	if len(logs.entries) != 1 || logs.entries[0].Action != domain.LogActionComplete {
		t.Errorf("want one complete log entry, got %+v", logs.entries)
	}
}

func TestComplete_OnceTaskIsTerminalAndNeverRearmed(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 1, 1, 9, 5, 0, 0, time.UTC))
	task := dailyTask()
	task.IntervalType = domain.IntervalOnce

	completed := false
	tasks := &fakeTaskRepo{
		getByID: func(_ context.Context, _ string) (*domain.ScheduledTask, error) { return task, nil },
		complete: func(_ context.Context, _, _ string, _ time.Time, _ string) error {
			completed = true
			return nil
		},
		rearm: func(_ context.Context, _ string, _ repository.RearmInput) error {
			t.Fatal("a once task must never be re-armed")
			return nil
		},
	}

	if err := newScheduler(tasks, &fakeLogRepo{}, clock).Complete(context.Background(), task.ID, workerID, "ok"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !completed {
		t.Error("terminal complete was not applied")
	}
}

func TestComplete_NextRunAlwaysStrictlyAfterNow(t *testing.T) {
	// The naive hourly calculation from a run far in the past would land
	// before now; the grace bump must keep next_run in the future.
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(now)

	task := dailyTask()
	task.IntervalType = domain.IntervalHourly

	var rearmed *repository.RearmInput
	tasks := &fakeTaskRepo{
		getByID: func(_ context.Context, _ string) (*domain.ScheduledTask, error) { return task, nil },
		rearm: func(_ context.Context, _ string, in repository.RearmInput) error {
			rearmed = &in
			return nil
		},
	}

	if err := newScheduler(tasks, &fakeLogRepo{}, clock).Complete(context.Background(), task.ID, workerID, "ok"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rearmed == nil || !rearmed.NextRun.After(now) {
		t.Errorf("next_run %v is not strictly after now %v", rearmed, now)
	}
}

// ---- Fail ----

func TestFail_RecurringIsStillRearmed(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 1, 1, 9, 5, 0, 0, time.UTC))
	task := dailyTask()

	var rearmed *repository.RearmInput
	tasks := &fakeTaskRepo{
		getByID: func(_ context.Context, _ string) (*domain.ScheduledTask, error) { return task, nil },
		rearm: func(_ context.Context, _ string, in repository.RearmInput) error {
			rearmed = &in
			return nil
		},
	}
	logs := &fakeLogRepo{}

	if err := newScheduler(tasks, logs, clock).Fail(context.Background(), task.ID, workerID, "portal unreachable"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if rearmed == nil {
		t.Fatal("one failure must not stall a recurring schedule")
	}
	if rearmed.Error == nil || *rearmed.Error != "portal unreachable" {
		t.Errorf("error = %v, want portal unreachable", rearmed.Error)
	}
	if len(logs.entries) != 1 || logs.entries[0].Action != domain.LogActionFail {
		t.Errorf("want one fail log entry, got %+v", logs.entries)
	}
}

func TestFail_ParksRecurringTaskAfterMaxAttempts(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 1, 1, 9, 5, 0, 0, time.UTC))
	task := dailyTask()
	task.Attempts = 2
	task.MaxAttempts = 3

	failed := false
	tasks := &fakeTaskRepo{
		getByID: func(_ context.Context, _ string) (*domain.ScheduledTask, error) { return task, nil },
		fail: func(_ context.Context, _, _ string, _ time.Time, _ string) error {
			failed = true
			return nil
		},
		rearm: func(_ context.Context, _ string, _ repository.RearmInput) error {
			t.Fatal("task at its failure budget must not be re-armed")
			return nil
		},
	}

	if err := newScheduler(tasks, &fakeLogRepo{}, clock).Fail(context.Background(), task.ID, workerID, "portal unreachable"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !failed {
		t.Error("task was not parked as failed")
	}
}

// ---- Cancel ----

func TestCancel_AlreadyTerminalIsANoOp(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tasks := &fakeTaskRepo{
		cancel: func(_ context.Context, _ string) (bool, error) { return false, nil },
	}
	logs := &fakeLogRepo{}

	if err := newScheduler(tasks, logs, clock).Cancel(context.Background(), "task-1"); err != nil {
		t.Fatalf("cancel of a terminal task must not error, got %v", err)
	}
	if len(logs.entries) != 0 {
		t.Errorf("no-op cancel must not write an audit entry, got %+v", logs.entries)
	}
}

// ---- Update ----

func TestUpdate_WritesStartAuditEntryForAnyFieldChange(t *testing.T) {
	clock := clockwork.NewFakeClock()
	task := dailyTask()

	maxAttempts := 5
	tasks := &fakeTaskRepo{
		patch: func(_ context.Context, _ string, _ repository.TaskPatch) (*domain.ScheduledTask, error) {
			return task, nil
		},
	}
	logs := &fakeLogRepo{}

	_, err := newScheduler(tasks, logs, clock).Update(context.Background(), task.ID, repository.TaskPatch{
		MaxAttempts: &maxAttempts,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(logs.entries) != 1 || logs.entries[0].Action != domain.LogActionStart {
		t.Errorf("any update must produce a start audit row, got %+v", logs.entries)
	}
}

func TestUpdate_RejectsInvalidRecurrencePatch(t *testing.T) {
	clock := clockwork.NewFakeClock()
	task := dailyTask()

	bad := "61 61 * * *"
	tasks := &fakeTaskRepo{
		getByID: func(_ context.Context, _ string) (*domain.ScheduledTask, error) { return task, nil },
		patch: func(_ context.Context, _ string, _ repository.TaskPatch) (*domain.ScheduledTask, error) {
			t.Fatal("patch must not be applied when the merged spec is invalid")
			return nil, nil
		},
	}

	cronType := domain.IntervalCron
	_, err := newScheduler(tasks, &fakeLogRepo{}, clock).Update(context.Background(), task.ID, repository.TaskPatch{
		IntervalType: &cronType,
		CronExpr:     &bad,
	})
	if !errors.Is(err, domain.ErrInvalidCronExpr) {
		t.Errorf("want ErrInvalidCronExpr, got %v", err)
	}
}
