package domain

import (
	"encoding/json"
	"errors"
	"time"
)

var ErrSyncSettingsNotFound = errors.New("sync settings not found")

// SyncEntityType is the back-reference tag linking a ScheduledTask to the
// SyncSettings row that owns it.
const SyncEntityType = "sync_settings"

// SyncSettings keeps one recurring scheduled task in lockstep with an
// external sync configuration per (entityType, entityID).
type SyncSettings struct {
	ID         string
	EntityType string
	EntityID   string

	TaskType string
	Config   json.RawMessage

	IntervalType  IntervalType
	IntervalValue int
	CronExpr      *string
	Custom        *CustomSchedule

	LastSync *time.Time
	NextSync *time.Time
	Enabled  bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s *SyncSettings) Recurrence() RecurrenceSpec {
	spec := RecurrenceSpec{
		IntervalType:  s.IntervalType,
		IntervalValue: s.IntervalValue,
		Custom:        s.Custom,
	}
	if s.CronExpr != nil {
		spec.CronExpr = *s.CronExpr
	}
	return spec
}
