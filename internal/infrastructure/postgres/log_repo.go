package postgres

import (
	"context"
	"fmt"

	"github.com/Matschula1987/heiba-rms-sub001/internal/domain"
	"github.com/Matschula1987/heiba-rms-sub001/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type LogRepository struct {
	pool *pgxpool.Pool
}

func NewLogRepository(pool *pgxpool.Pool) *LogRepository {
	return &LogRepository{pool: pool}
}

var _ repository.LogRepository = (*LogRepository)(nil)

func (r *LogRepository) Append(ctx context.Context, entry *domain.SchedulerLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO scheduler_logs (id, task_id, task_type, action, status, details)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID, entry.TaskID, entry.TaskType, entry.Action, entry.Status, entry.Details)
	if err != nil {
		return fmt.Errorf("append scheduler log: %w", err)
	}
	return nil
}

func (r *LogRepository) ListByTask(ctx context.Context, taskID string, limit int) ([]*domain.SchedulerLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, task_id, task_type, action, status, details, created_at
		FROM scheduler_logs
		WHERE task_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("list scheduler logs: %w", err)
	}
	defer rows.Close()

	var entries []*domain.SchedulerLog
	for rows.Next() {
		var e domain.SchedulerLog
		if err := rows.Scan(&e.ID, &e.TaskID, &e.TaskType, &e.Action, &e.Status, &e.Details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan scheduler log: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
