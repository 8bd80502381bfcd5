package syncer_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"testing"
	"time"

	"github.com/Matschula1987/heiba-rms-sub001/internal/domain"
	"github.com/Matschula1987/heiba-rms-sub001/internal/repository"
	"github.com/Matschula1987/heiba-rms-sub001/internal/scheduler"
	"github.com/Matschula1987/heiba-rms-sub001/internal/syncer"
	"github.com/jonboulle/clockwork"
)

// ---- fakes ----

type fakeSyncRepo struct {
	rows map[string]*domain.SyncSettings // keyed by entityType/entityID
}

func newFakeSyncRepo() *fakeSyncRepo {
	return &fakeSyncRepo{rows: make(map[string]*domain.SyncSettings)}
}

func syncKey(entityType, entityID string) string { return entityType + "/" + entityID }

func (r *fakeSyncRepo) Upsert(_ context.Context, s *domain.SyncSettings) (*domain.SyncSettings, error) {
	key := syncKey(s.EntityType, s.EntityID)
	if existing, ok := r.rows[key]; ok {
		s.ID = existing.ID
	} else if s.ID == "" {
		s.ID = "sync-" + strconv.Itoa(len(r.rows)+1)
	}
	r.rows[key] = s
	return s, nil
}

func (r *fakeSyncRepo) GetByID(_ context.Context, id string) (*domain.SyncSettings, error) {
	for _, s := range r.rows {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, domain.ErrSyncSettingsNotFound
}

func (r *fakeSyncRepo) GetByEntity(_ context.Context, entityType, entityID string) (*domain.SyncSettings, error) {
	if s, ok := r.rows[syncKey(entityType, entityID)]; ok {
		return s, nil
	}
	return nil, domain.ErrSyncSettingsNotFound
}

func (r *fakeSyncRepo) List(_ context.Context, _ int) ([]*domain.SyncSettings, error) {
	var out []*domain.SyncSettings
	for _, s := range r.rows {
		out = append(out, s)
	}
	return out, nil
}

func (r *fakeSyncRepo) Delete(_ context.Context, entityType, entityID string) error {
	key := syncKey(entityType, entityID)
	if _, ok := r.rows[key]; !ok {
		return domain.ErrSyncSettingsNotFound
	}
	delete(r.rows, key)
	return nil
}

func (r *fakeSyncRepo) SetLastSync(_ context.Context, id string, lastSync time.Time, nextSync *time.Time) error {
	for _, s := range r.rows {
		if s.ID == id {
			s.LastSync = &lastSync
			s.NextSync = nextSync
			return nil
		}
	}
	return domain.ErrSyncSettingsNotFound
}

// memTaskRepo stores tasks in memory with just the behavior the
// coordinator exercises: create, find by back-reference, patch, delete.
type memTaskRepo struct {
	tasks map[string]*domain.ScheduledTask
	seq   int
}

func newMemTaskRepo() *memTaskRepo {
	return &memTaskRepo{tasks: make(map[string]*domain.ScheduledTask)}
}

func (r *memTaskRepo) Create(_ context.Context, t *domain.ScheduledTask) (*domain.ScheduledTask, error) {
	r.seq++
	t.ID = "task-" + strconv.Itoa(r.seq)
	r.tasks[t.ID] = t
	return t, nil
}

func (r *memTaskRepo) GetByID(_ context.Context, id string) (*domain.ScheduledTask, error) {
	if t, ok := r.tasks[id]; ok {
		return t, nil
	}
	return nil, domain.ErrTaskNotFound
}

func (r *memTaskRepo) List(context.Context, repository.ListTasksInput) ([]*domain.ScheduledTask, error) {
	return nil, nil
}

func (r *memTaskRepo) FindByEntity(_ context.Context, entityType, entityID string) (*domain.ScheduledTask, error) {
	for _, t := range r.tasks {
		if t.EntityType != nil && *t.EntityType == entityType &&
			t.EntityID != nil && *t.EntityID == entityID {
			return t, nil
		}
	}
	return nil, domain.ErrTaskNotFound
}

func (r *memTaskRepo) Patch(_ context.Context, id string, patch repository.TaskPatch) (*domain.ScheduledTask, error) {
	t, ok := r.tasks[id]
	if !ok {
		return nil, domain.ErrTaskNotFound
	}
	if patch.Status != nil {
		t.Status = *patch.Status
	}
	if patch.ScheduledFor != nil {
		t.ScheduledFor = *patch.ScheduledFor
	}
	if patch.IntervalType != nil {
		t.IntervalType = *patch.IntervalType
	}
	if patch.IntervalValue != nil {
		t.IntervalValue = *patch.IntervalValue
	}
	if patch.CronExpr != nil {
		t.CronExpr = patch.CronExpr
	}
	if patch.Custom != nil {
		t.Custom = patch.Custom
	}
	if patch.NextRun != nil {
		t.NextRun = patch.NextRun
	}
	return t, nil
}

func (r *memTaskRepo) Delete(_ context.Context, id string) error {
	if _, ok := r.tasks[id]; !ok {
		return domain.ErrTaskNotFound
	}
	delete(r.tasks, id)
	return nil
}

func (r *memTaskRepo) Claim(context.Context, string, time.Time, time.Duration, int) ([]*domain.ScheduledTask, error) {
	return nil, nil
}
func (r *memTaskRepo) Complete(context.Context, string, string, time.Time, string) error {
	return nil
}
func (r *memTaskRepo) Fail(context.Context, string, string, time.Time, string) error { return nil }
func (r *memTaskRepo) Rearm(context.Context, string, repository.RearmInput) error    { return nil }
func (r *memTaskRepo) Cancel(context.Context, string) (bool, error)                  { return false, nil }
func (r *memTaskRepo) ReclaimExpired(context.Context, time.Time, int) (int, error)   { return 0, nil }
func (r *memTaskRepo) FailExpired(context.Context, time.Time, int) (int, error)      { return 0, nil }

type memLogRepo struct{}

func (memLogRepo) Append(context.Context, *domain.SchedulerLog) error { return nil }
func (memLogRepo) ListByTask(context.Context, string, int) ([]*domain.SchedulerLog, error) {
	return nil, nil
}

// ---- helpers ----

func newCoordinator(settings *fakeSyncRepo, tasks *memTaskRepo, clock clockwork.Clock) *syncer.Coordinator {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sched := scheduler.NewScheduler(tasks, memLogRepo{}, clock, logger, 5*time.Minute)
	return syncer.NewCoordinator(settings, sched, clock, logger)
}

func dailySettings(enabled bool) *domain.SyncSettings {
	return &domain.SyncSettings{
		EntityType:   "job",
		EntityID:     "job-42",
		TaskType:     "job_sync",
		IntervalType: domain.IntervalDaily,
		Enabled:      enabled,
	}
}

// ---- tests ----

func TestSaveSettings_EnabledCreatesLinkedTask(t *testing.T) {
	now := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(now)
	settings := newFakeSyncRepo()
	tasks := newMemTaskRepo()

	saved, err := newCoordinator(settings, tasks, clock).SaveSettings(context.Background(), dailySettings(true))
	if err != nil {
		t.Fatalf("SaveSettings() error = %v", err)
	}

	wantNext := now.Add(24 * time.Hour)
	if saved.NextSync == nil || !saved.NextSync.Equal(wantNext) {
		t.Errorf("NextSync = %v, want %v", saved.NextSync, wantNext)
	}

	if len(tasks.tasks) != 1 {
		t.Fatalf("task count = %d, want exactly 1", len(tasks.tasks))
	}
	task, err := tasks.FindByEntity(context.Background(), domain.SyncEntityType, saved.ID)
	if err != nil {
		t.Fatalf("no task linked to settings %q: %v", saved.ID, err)
	}
	if task.TaskType != "job_sync" {
		t.Errorf("task type = %q, want job_sync", task.TaskType)
	}
	if task.NextRun == nil || !task.NextRun.Equal(wantNext) {
		t.Errorf("task next run = %v, want %v", task.NextRun, wantNext)
	}
}

func TestSaveSettings_DisabledDeletesLinkedTask(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC))
	settings := newFakeSyncRepo()
	tasks := newMemTaskRepo()
	coord := newCoordinator(settings, tasks, clock)

	if _, err := coord.SaveSettings(context.Background(), dailySettings(true)); err != nil {
		t.Fatalf("enable: %v", err)
	}

	saved, err := coord.SaveSettings(context.Background(), dailySettings(false))
	if err != nil {
		t.Fatalf("disable: %v", err)
	}
	if saved.NextSync != nil {
		t.Errorf("NextSync = %v after disable, want nil", saved.NextSync)
	}
	if len(tasks.tasks) != 0 {
		t.Errorf("task count = %d after disable, want 0", len(tasks.tasks))
	}
}

func TestSaveSettings_ReenableNeverDuplicatesTask(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC))
	settings := newFakeSyncRepo()
	tasks := newMemTaskRepo()
	coord := newCoordinator(settings, tasks, clock)

	for i := 0; i < 3; i++ {
		if _, err := coord.SaveSettings(context.Background(), dailySettings(true)); err != nil {
			t.Fatalf("save #%d: %v", i+1, err)
		}
	}
	if len(tasks.tasks) != 1 {
		t.Errorf("task count = %d after repeated saves, want exactly 1", len(tasks.tasks))
	}
}

func TestSaveSettings_UpdatesExistingTaskSchedule(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC))
	settings := newFakeSyncRepo()
	tasks := newMemTaskRepo()
	coord := newCoordinator(settings, tasks, clock)

	saved, err := coord.SaveSettings(context.Background(), dailySettings(true))
	if err != nil {
		t.Fatalf("initial save: %v", err)
	}

	hourly := dailySettings(true)
	hourly.IntervalType = domain.IntervalHourly
	if _, err := coord.SaveSettings(context.Background(), hourly); err != nil {
		t.Fatalf("reschedule: %v", err)
	}

	task, err := tasks.FindByEntity(context.Background(), domain.SyncEntityType, saved.ID)
	if err != nil {
		t.Fatalf("linked task gone: %v", err)
	}
	if task.IntervalType != domain.IntervalHourly {
		t.Errorf("task interval = %q, want hourly", task.IntervalType)
	}
	wantNext := clock.Now().Add(time.Hour)
	if task.NextRun == nil || !task.NextRun.Equal(wantNext) {
		t.Errorf("task next run = %v, want %v", task.NextRun, wantNext)
	}
}

func TestSaveSettings_RejectsInvalidRecurrence(t *testing.T) {
	s := dailySettings(true)
	s.IntervalType = domain.IntervalCron
	bad := "61 61 * * *"
	s.CronExpr = &bad

	_, err := newCoordinator(newFakeSyncRepo(), newMemTaskRepo(), clockwork.NewFakeClock()).
		SaveSettings(context.Background(), s)
	if !errors.Is(err, domain.ErrInvalidCronExpr) {
		t.Errorf("SaveSettings() error = %v, want ErrInvalidCronExpr", err)
	}
}

func TestUpdateLastSync_RecomputesAndAlignsTask(t *testing.T) {
	now := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(now)
	settings := newFakeSyncRepo()
	tasks := newMemTaskRepo()
	coord := newCoordinator(settings, tasks, clock)

	saved, err := coord.SaveSettings(context.Background(), dailySettings(true))
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	ranAt := now.Add(25 * time.Hour)
	clock.Advance(25 * time.Hour)
	updated, err := coord.UpdateLastSync(context.Background(), "job", "job-42", ranAt)
	if err != nil {
		t.Fatalf("UpdateLastSync() error = %v", err)
	}

	if updated.LastSync == nil || !updated.LastSync.Equal(ranAt) {
		t.Errorf("LastSync = %v, want %v", updated.LastSync, ranAt)
	}
	wantNext := ranAt.Add(24 * time.Hour)
	if updated.NextSync == nil || !updated.NextSync.Equal(wantNext) {
		t.Errorf("NextSync = %v, want %v", updated.NextSync, wantNext)
	}

	task, err := tasks.FindByEntity(context.Background(), domain.SyncEntityType, saved.ID)
	if err != nil {
		t.Fatalf("linked task gone: %v", err)
	}
	if task.NextRun == nil || !task.NextRun.Equal(wantNext) {
		t.Errorf("task next run = %v, want %v", task.NextRun, wantNext)
	}
}

func TestDelete_RemovesSettingsAndTask(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC))
	settings := newFakeSyncRepo()
	tasks := newMemTaskRepo()
	coord := newCoordinator(settings, tasks, clock)

	if _, err := coord.SaveSettings(context.Background(), dailySettings(true)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := coord.Delete(context.Background(), "job", "job-42"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if len(tasks.tasks) != 0 {
		t.Errorf("task count = %d after delete, want 0", len(tasks.tasks))
	}
	if _, err := coord.Get(context.Background(), "job", "job-42"); !errors.Is(err, domain.ErrSyncSettingsNotFound) {
		t.Errorf("Get() error = %v, want ErrSyncSettingsNotFound", err)
	}
}
