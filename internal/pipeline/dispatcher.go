package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Matschula1987/heiba-rms-sub001/internal/domain"
	"github.com/Matschula1987/heiba-rms-sub001/internal/metrics"
	"github.com/Matschula1987/heiba-rms-sub001/internal/repository"
	"github.com/Matschula1987/heiba-rms-sub001/internal/scheduler"
	"github.com/jonboulle/clockwork"
)

// defaultDispatchBatch caps how many items one dispatch cycle plans per
// destination; the daily limit usually cuts this down further.
const defaultDispatchBatch = 50

// maxDispatchAttempts is the failure budget given to each materialized
// one-shot posting task.
const maxDispatchAttempts = 3

// Dispatcher converts pending pipeline items into one-shot scheduled tasks
// while honoring each destination's throttle policy: daily cap, posting
// window and minimum spacing.
type Dispatcher struct {
	repo   repository.PipelineRepository
	tasks  *scheduler.Scheduler
	clock  clockwork.Clock
	logger *slog.Logger
}

func NewDispatcher(
	repo repository.PipelineRepository,
	tasks *scheduler.Scheduler,
	clock clockwork.Clock,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		repo:   repo,
		tasks:  tasks,
		clock:  clock,
		logger: logger.With("component", "dispatcher"),
	}
}

// TaskTypeFor derives the scheduled-task type from a pipeline type, so an
// executor registration covers every item of that pipeline.
func TaskTypeFor(pipelineType string) string {
	return "pipeline:" + pipelineType
}

type EnqueueInput struct {
	PipelineType    string
	Platform        *string
	EntityType      string
	EntityID        string
	Priority        int
	ScheduledFor    *time.Time
	ContentTemplate string
	ContentParams   json.RawMessage
}

// Enqueue adds a pending item to the pipeline. The destination must have
// settings and be enabled; a missing or disabled destination is surfaced
// synchronously instead of leaving the item to rot.
func (d *Dispatcher) Enqueue(ctx context.Context, input EnqueueInput) (*domain.PipelineItem, error) {
	settings, err := d.repo.GetSettings(ctx, input.PipelineType, input.Platform)
	if err != nil {
		return nil, err
	}
	if !settings.Enabled {
		return nil, domain.ErrPipelineDisabled
	}

	item, err := d.repo.CreateItem(ctx, &domain.PipelineItem{
		PipelineType:    input.PipelineType,
		Platform:        input.Platform,
		EntityType:      input.EntityType,
		EntityID:        input.EntityID,
		Status:          domain.ItemPending,
		Priority:        input.Priority,
		ScheduledFor:    input.ScheduledFor,
		ContentTemplate: input.ContentTemplate,
		ContentParams:   input.ContentParams,
	})
	if err != nil {
		return nil, fmt.Errorf("enqueue pipeline item: %w", err)
	}
	return item, nil
}

// NextDispatchable returns the pending items a dispatch cycle may schedule
// right now, capped by whatever remains of today's daily limit. A disabled
// destination yields an empty slice, not an error: the poll loop treats
// "nothing to do" and "switched off" the same way.
func (d *Dispatcher) NextDispatchable(ctx context.Context, pipelineType string, platform *string, limit int) ([]*domain.PipelineItem, error) {
	settings, err := d.repo.GetSettings(ctx, pipelineType, platform)
	if err != nil {
		return nil, err
	}
	return d.nextDispatchable(ctx, settings, limit)
}

func (d *Dispatcher) nextDispatchable(ctx context.Context, settings *domain.PipelineSettings, limit int) ([]*domain.PipelineItem, error) {
	if !settings.Enabled {
		return nil, nil
	}
	if limit <= 0 {
		limit = defaultDispatchBatch
	}

	if settings.DailyLimit > 0 {
		posted, err := d.repo.CountPostedSince(ctx, settings.PipelineType, settings.Platform, startOfDay(d.clock.Now()))
		if err != nil {
			return nil, fmt.Errorf("count posted today: %w", err)
		}
		budget := settings.DailyLimit - posted
		if budget <= 0 {
			return nil, nil
		}
		if budget < limit {
			limit = budget
		}
	}

	return d.repo.PendingItems(ctx, settings.PipelineType, settings.Platform, limit)
}

// Schedule materializes one pending item into a one-shot scheduled task due
// at the given time and links the two records. Only a pending item can be
// scheduled; concurrent dispatchers lose the race cleanly.
func (d *Dispatcher) Schedule(ctx context.Context, itemID string, at time.Time) (*domain.ScheduledTask, error) {
	item, err := d.repo.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.Status != domain.ItemPending {
		return nil, domain.ErrItemNotPending
	}

	entityType := domain.PipelineItemEntityType
	task, err := d.tasks.Create(ctx, scheduler.CreateTaskInput{
		TaskType:     TaskTypeFor(item.PipelineType),
		ScheduledFor: at,
		IntervalType: domain.IntervalOnce,
		Config:       item.ContentParams,
		EntityType:   &entityType,
		EntityID:     &item.ID,
		MaxAttempts:  maxDispatchAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("materialize dispatch task: %w", err)
	}

	if err := d.repo.MarkScheduled(ctx, item.ID, task.ID, at); err != nil {
		// The task row exists but the item could not be linked; delete the
		// orphan so the next cycle can schedule the item again.
		if delErr := d.tasks.Delete(ctx, task.ID); delErr != nil {
			d.logger.Error("delete orphaned dispatch task", "task_id", task.ID, "error", delErr)
		}
		return nil, err
	}

	metrics.PipelineItemsScheduledTotal.WithLabelValues(item.PipelineType).Inc()
	d.logger.Info("pipeline item scheduled",
		"item_id", item.ID, "task_id", task.ID, "dispatch_at", at)
	return task, nil
}

// DispatchPending runs one planning cycle for a destination: select the
// dispatchable items, assign window-compliant timestamps and materialize
// each into a task. Returns the number of items scheduled.
func (d *Dispatcher) DispatchPending(ctx context.Context, pipelineType string, platform *string, limit int) (int, error) {
	settings, err := d.repo.GetSettings(ctx, pipelineType, platform)
	if err != nil {
		return 0, err
	}
	return d.dispatchPending(ctx, settings, limit)
}

func (d *Dispatcher) dispatchPending(ctx context.Context, settings *domain.PipelineSettings, limit int) (int, error) {
	items, err := d.nextDispatchable(ctx, settings, limit)
	if err != nil {
		return 0, err
	}
	if len(items) == 0 {
		return 0, nil
	}

	plan, err := PlanDispatchTimes(items, settings, d.clock.Now())
	if err != nil {
		return 0, err
	}

	scheduled := 0
	for _, p := range plan {
		if _, err := d.Schedule(ctx, p.Item.ID, p.At); err != nil {
			// Lost races and per-item failures must not sink the whole batch.
			d.logger.Warn("schedule pipeline item", "item_id", p.Item.ID, "error", err)
			continue
		}
		scheduled++
	}
	return scheduled, nil
}

// MarkPosted records a successful post for an item.
func (d *Dispatcher) MarkPosted(ctx context.Context, itemID, result string) error {
	item, err := d.repo.GetItem(ctx, itemID)
	if err != nil {
		return err
	}
	if err := d.repo.MarkPosted(ctx, itemID, d.clock.Now(), result); err != nil {
		return err
	}
	metrics.PipelineItemsPostedTotal.WithLabelValues(item.PipelineType, "success").Inc()
	return nil
}

// MarkFailed records a failed post for an item.
func (d *Dispatcher) MarkFailed(ctx context.Context, itemID, errMsg string) error {
	item, err := d.repo.GetItem(ctx, itemID)
	if err != nil {
		return err
	}
	if err := d.repo.MarkFailed(ctx, itemID, errMsg); err != nil {
		return err
	}
	metrics.PipelineItemsPostedTotal.WithLabelValues(item.PipelineType, "failure").Inc()
	return nil
}

func (d *Dispatcher) GetItem(ctx context.Context, id string) (*domain.PipelineItem, error) {
	return d.repo.GetItem(ctx, id)
}

func (d *Dispatcher) ListItems(ctx context.Context, input repository.ListItemsInput) ([]*domain.PipelineItem, error) {
	return d.repo.ListItems(ctx, input)
}

func (d *Dispatcher) SettingsFor(ctx context.Context, pipelineType string, platform *string) (*domain.PipelineSettings, error) {
	return d.repo.GetSettings(ctx, pipelineType, platform)
}

func (d *Dispatcher) UpsertSettings(ctx context.Context, s *domain.PipelineSettings) (*domain.PipelineSettings, error) {
	if err := validateWindow(s); err != nil {
		return nil, err
	}
	return d.repo.UpsertSettings(ctx, s)
}

func (d *Dispatcher) ListSettings(ctx context.Context) ([]*domain.PipelineSettings, error) {
	return d.repo.ListSettings(ctx)
}

// Start polls every destination on a fixed interval and dispatches whatever
// the throttle allows. Blocks until ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context, interval time.Duration) {
	d.logger.Info("dispatcher started", "poll_interval", interval)
	ticker := d.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopped")
			return
		case <-ticker.Chan():
			d.cycle(ctx)
		}
	}
}

func (d *Dispatcher) cycle(ctx context.Context) {
	all, err := d.repo.ListSettings(ctx)
	if err != nil {
		d.logger.Error("list pipeline settings", "error", err)
		return
	}
	for _, settings := range all {
		if !settings.Enabled {
			continue
		}
		n, err := d.dispatchPending(ctx, settings, defaultDispatchBatch)
		if err != nil {
			d.logger.Error("dispatch cycle",
				"pipeline", settings.PipelineType, "error", err)
			continue
		}
		if n > 0 {
			d.logger.Info("dispatch cycle scheduled items",
				"pipeline", settings.PipelineType, "count", n)
		}
	}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
