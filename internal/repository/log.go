package repository

import (
	"context"

	"github.com/Matschula1987/heiba-rms-sub001/internal/domain"
)

// LogRepository is append-only: the core writes one row per task transition
// and never mutates or deletes existing rows.
type LogRepository interface {
	Append(ctx context.Context, entry *domain.SchedulerLog) error
	// ListByTask returns the newest entries first, for operator inspection
	// of failed runs.
	ListByTask(ctx context.Context, taskID string, limit int) ([]*domain.SchedulerLog, error)
}
