package domain

import (
	"encoding/json"
	"errors"
	"time"
)

type ItemStatus string

const (
	ItemPending   ItemStatus = "pending"
	ItemScheduled ItemStatus = "scheduled"
	ItemPosted    ItemStatus = "posted"
	ItemFailed    ItemStatus = "failed"
)

var (
	ErrItemNotFound     = errors.New("pipeline item not found")
	ErrSettingsNotFound = errors.New("pipeline settings not found")
	ErrPipelineDisabled = errors.New("pipeline is disabled")
	ErrItemNotPending   = errors.New("pipeline item is not pending")
	ErrInvalidSettings  = errors.New("invalid pipeline settings")
)

// PipelineItemEntityType is the back-reference tag linking a one-shot
// ScheduledTask to the pipeline item it dispatches.
const PipelineItemEntityType = "pipeline_item"

// PipelineItem is a unit of content awaiting throttled conversion into a
// one-shot scheduled task. ScheduledTaskID is set exactly when the item
// leaves the pending status.
type PipelineItem struct {
	ID           string
	PipelineType string
	Platform     *string // nil for multi-target pipelines
	EntityType   string
	EntityID     string
	Status       ItemStatus
	Priority     int

	ScheduledFor    *time.Time
	ScheduledTaskID *string

	ContentTemplate string
	ContentParams   json.RawMessage

	PostedAt *time.Time
	Result   *string
	Error    *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PipelineSettings is the throttle policy for one (pipelineType, platform)
// destination: daily cap, allowed posting window and minimum spacing.
type PipelineSettings struct {
	ID                 string
	PipelineType       string
	Platform           *string
	DailyLimit         int
	PostingHours       []int          // nil/empty = any hour
	PostingDays        []time.Weekday // nil/empty = any day
	MinIntervalMinutes int
	Enabled            bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
