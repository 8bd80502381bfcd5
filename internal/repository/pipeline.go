package repository

import (
	"context"
	"time"

	"github.com/Matschula1987/heiba-rms-sub001/internal/domain"
)

type ListItemsInput struct {
	PipelineType string
	Platform     *string
	Status       domain.ItemStatus // empty = all statuses
	Limit        int
}

// PipelineRepository persists pipeline items and per-destination throttle
// settings.
type PipelineRepository interface {
	CreateItem(ctx context.Context, item *domain.PipelineItem) (*domain.PipelineItem, error)
	GetItem(ctx context.Context, id string) (*domain.PipelineItem, error)
	ListItems(ctx context.Context, input ListItemsInput) ([]*domain.PipelineItem, error)
	// PendingItems returns pending items for one destination ordered by
	// (priority DESC, scheduled_for ASC NULLS LAST, id ASC).
	PendingItems(ctx context.Context, pipelineType string, platform *string, limit int) ([]*domain.PipelineItem, error)

	// MarkScheduled links the item to its materialized one-shot task; only a
	// pending item can be scheduled.
	MarkScheduled(ctx context.Context, itemID, taskID string, at time.Time) error
	MarkPosted(ctx context.Context, itemID string, postedAt time.Time, result string) error
	MarkFailed(ctx context.Context, itemID string, errMsg string) error

	// CountPostedSince counts items posted for a destination at or after
	// since — the input to the daily-cap check.
	CountPostedSince(ctx context.Context, pipelineType string, platform *string, since time.Time) (int, error)

	GetSettings(ctx context.Context, pipelineType string, platform *string) (*domain.PipelineSettings, error)
	UpsertSettings(ctx context.Context, s *domain.PipelineSettings) (*domain.PipelineSettings, error)
	ListSettings(ctx context.Context) ([]*domain.PipelineSettings, error)
}
