package domain

import (
	"encoding/json"
	"errors"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether a task in this status can never run again.
// A recurring task cycles pending → running → pending, so only once-tasks
// and cancelled tasks ever reach a terminal status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

type IntervalType string

const (
	IntervalOnce    IntervalType = "once"
	IntervalHourly  IntervalType = "hourly"
	IntervalDaily   IntervalType = "daily"
	IntervalWeekly  IntervalType = "weekly"
	IntervalMonthly IntervalType = "monthly"
	IntervalCustom  IntervalType = "custom"
	IntervalCron    IntervalType = "cron"
)

var (
	ErrTaskNotFound          = errors.New("task not found")
	ErrLeaseMismatch         = errors.New("task is not claimed by this worker")
	ErrInvalidInterval       = errors.New("invalid interval specification")
	ErrInvalidCronExpr       = errors.New("invalid cron expression")
	ErrInvalidCustomSchedule = errors.New("invalid custom schedule")
	ErrScheduleUnsatisfiable = errors.New("custom schedule has no satisfiable occurrence")
	ErrUnknownTaskType       = errors.New("no executor registered for task type")
)

// CustomSchedule is a calendar rule: allowed hours of day, allowed weekdays,
// explicit override dates and excluded calendar days. Stored as JSONB.
type CustomSchedule struct {
	Hours         []int          `json:"hours,omitempty"`
	Days          []time.Weekday `json:"days,omitempty"` // 0 = Sunday .. 6 = Saturday
	SpecificDates []time.Time    `json:"specific_dates,omitempty"`
	ExcludeDates  []time.Time    `json:"exclude_dates,omitempty"`
}

// RecurrenceSpec is the shape shared by ScheduledTask and SyncSettings.
type RecurrenceSpec struct {
	IntervalType  IntervalType
	IntervalValue int
	CronExpr      string
	Custom        *CustomSchedule
}

// ScheduledTask is a unit of deferred work. One row is reused for the entire
// lifetime of a recurring task; the scheduler never creates a row per
// occurrence.
type ScheduledTask struct {
	ID       string
	TaskType string
	Status   Status

	ScheduledFor  time.Time
	IntervalType  IntervalType
	IntervalValue int
	CronExpr      *string
	Custom        *CustomSchedule

	// Config is an opaque, executor-specific payload. The core never parses it.
	Config json.RawMessage

	EntityType *string
	EntityID   *string

	NextRun   *time.Time
	LastRun   *time.Time
	Result    *string
	LastError *string

	// Attempts counts consecutive failed runs; reset to zero on success.
	// MaxAttempts = 0 means the task is re-armed forever.
	Attempts    int
	MaxAttempts int

	ClaimedBy      *string
	ClaimedAt      *time.Time
	LeaseExpiresAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (t *ScheduledTask) Recurring() bool {
	return t.IntervalType != IntervalOnce
}

func (t *ScheduledTask) Recurrence() RecurrenceSpec {
	spec := RecurrenceSpec{
		IntervalType:  t.IntervalType,
		IntervalValue: t.IntervalValue,
		Custom:        t.Custom,
	}
	if t.CronExpr != nil {
		spec.CronExpr = *t.CronExpr
	}
	return spec
}
