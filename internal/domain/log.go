package domain

import "time"

type LogAction string

const (
	LogActionStart    LogAction = "start"
	LogActionComplete LogAction = "complete"
	LogActionFail     LogAction = "fail"
	LogActionCancel   LogAction = "cancel"
)

// SchedulerLog is an append-only audit record of one task transition.
// Rows are never mutated or deleted by the core.
type SchedulerLog struct {
	ID        string
	TaskID    string
	TaskType  string
	Action    LogAction
	Status    Status
	Details   string
	CreatedAt time.Time
}
