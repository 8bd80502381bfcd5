package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Matschula1987/heiba-rms-sub001/internal/domain"
	"github.com/Matschula1987/heiba-rms-sub001/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const taskCols = `id, task_type, status, scheduled_for, interval_type, interval_value,
	cron_expr, custom_schedule, config, entity_type, entity_id,
	next_run, last_run, result, last_error, attempts, max_attempts,
	claimed_by, claimed_at, lease_expires_at, created_at, updated_at`

type TaskRepository struct {
	pool *pgxpool.Pool
}

func NewTaskRepository(pool *pgxpool.Pool) *TaskRepository {
	return &TaskRepository{pool: pool}
}

var _ repository.TaskRepository = (*TaskRepository)(nil)

func (r *TaskRepository) Create(ctx context.Context, t *domain.ScheduledTask) (*domain.ScheduledTask, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	custom, err := encodeCustom(t.Custom)
	if err != nil {
		return nil, fmt.Errorf("encode custom schedule: %w", err)
	}

	query := `
		INSERT INTO scheduled_tasks (
			id, task_type, status, scheduled_for, interval_type, interval_value,
			cron_expr, custom_schedule, config, entity_type, entity_id,
			next_run, max_attempts
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING ` + taskCols

	row := r.pool.QueryRow(ctx, query,
		t.ID,
		t.TaskType,
		t.Status,
		t.ScheduledFor,
		t.IntervalType,
		t.IntervalValue,
		t.CronExpr,
		custom,
		[]byte(t.Config),
		t.EntityType,
		t.EntityID,
		t.NextRun,
		t.MaxAttempts,
	)
	return scanTask(row)
}

func (r *TaskRepository) GetByID(ctx context.Context, id string) (*domain.ScheduledTask, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+taskCols+` FROM scheduled_tasks WHERE id = $1`, id)
	return scanTask(row)
}

func (r *TaskRepository) FindByEntity(ctx context.Context, entityType, entityID string) (*domain.ScheduledTask, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+taskCols+` FROM scheduled_tasks
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at ASC
		LIMIT 1`, entityType, entityID)
	return scanTask(row)
}

func (r *TaskRepository) List(ctx context.Context, input repository.ListTasksInput) ([]*domain.ScheduledTask, error) {
	if input.Limit <= 0 || input.Limit > 500 {
		input.Limit = 50
	}

	args := []any{}
	where := []string{"TRUE"}

	if input.Status != "" {
		args = append(args, input.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if input.TaskType != "" {
		args = append(args, input.TaskType)
		where = append(where, fmt.Sprintf("task_type = $%d", len(args)))
	}
	if input.CursorTime != nil {
		args = append(args, *input.CursorTime, input.CursorID)
		where = append(where, fmt.Sprintf("(created_at, id) < ($%d, $%d)", len(args)-1, len(args)))
	}
	args = append(args, input.Limit)

	query := fmt.Sprintf(`
		SELECT `+taskCols+`
		FROM scheduled_tasks
		WHERE %s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d`,
		strings.Join(where, " AND "), len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*domain.ScheduledTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (r *TaskRepository) Patch(ctx context.Context, id string, patch repository.TaskPatch) (*domain.ScheduledTask, error) {
	set := []string{"updated_at = NOW()"}
	args := []any{id}

	add := func(col string, v any) {
		args = append(args, v)
		set = append(set, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if patch.Status != nil {
		add("status", *patch.Status)
	}
	if patch.ScheduledFor != nil {
		add("scheduled_for", *patch.ScheduledFor)
	}
	if patch.IntervalType != nil {
		add("interval_type", *patch.IntervalType)
	}
	if patch.IntervalValue != nil {
		add("interval_value", *patch.IntervalValue)
	}
	if patch.CronExpr != nil {
		add("cron_expr", *patch.CronExpr)
	}
	if patch.Custom != nil {
		custom, err := encodeCustom(patch.Custom)
		if err != nil {
			return nil, fmt.Errorf("encode custom schedule: %w", err)
		}
		add("custom_schedule", custom)
	}
	if patch.Config != nil {
		add("config", patch.Config)
	}
	if patch.NextRun != nil {
		add("next_run", *patch.NextRun)
	}
	if patch.MaxAttempts != nil {
		add("max_attempts", *patch.MaxAttempts)
	}

	query := fmt.Sprintf(`
		UPDATE scheduled_tasks SET %s
		WHERE id = $1
		RETURNING `+taskCols,
		strings.Join(set, ", "))

	row := r.pool.QueryRow(ctx, query, args...)
	return scanTask(row)
}

func (r *TaskRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM scheduled_tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTaskNotFound
	}
	return nil
}

func (r *TaskRepository) Claim(ctx context.Context, workerID string, now time.Time, leaseFor time.Duration, limit int) ([]*domain.ScheduledTask, error) {
	// FOR UPDATE SKIP LOCKED prevents double-execution across workers.
	query := `
		UPDATE scheduled_tasks
		SET    status           = 'running',
		       claimed_by       = $1,
		       claimed_at       = $2,
		       lease_expires_at = $3,
		       updated_at       = $2
		WHERE id IN (
			SELECT id FROM scheduled_tasks
			WHERE  status   = 'pending'
			  AND  next_run <= $2
			ORDER BY next_run ASC, id ASC
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + taskCols

	rows, err := r.pool.Query(ctx, query, workerID, now, now.Add(leaseFor), limit)
	if err != nil {
		return nil, fmt.Errorf("claim tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*domain.ScheduledTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (r *TaskRepository) Complete(ctx context.Context, id, workerID string, completedAt time.Time, result string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE scheduled_tasks
		SET    status           = 'completed',
		       last_run         = $3,
		       result           = $4,
		       last_error       = NULL,
		       attempts         = 0,
		       next_run         = NULL,
		       claimed_by       = NULL,
		       claimed_at       = NULL,
		       lease_expires_at = NULL,
		       updated_at       = $3
		WHERE id = $1 AND claimed_by = $2 AND status = 'running'`,
		id, workerID, completedAt, result)
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	return r.checkLease(ctx, tag.RowsAffected(), id)
}

func (r *TaskRepository) Fail(ctx context.Context, id, workerID string, failedAt time.Time, errMsg string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE scheduled_tasks
		SET    status           = 'failed',
		       last_run         = $3,
		       last_error       = $4,
		       attempts         = attempts + 1,
		       next_run         = NULL,
		       claimed_by       = NULL,
		       claimed_at       = NULL,
		       lease_expires_at = NULL,
		       updated_at       = $3
		WHERE id = $1 AND claimed_by = $2 AND status = 'running'`,
		id, workerID, failedAt, errMsg)
	if err != nil {
		return fmt.Errorf("fail task: %w", err)
	}
	return r.checkLease(ctx, tag.RowsAffected(), id)
}

func (r *TaskRepository) Rearm(ctx context.Context, id string, in repository.RearmInput) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE scheduled_tasks
		SET    status           = 'pending',
		       last_run         = $3,
		       next_run         = $4,
		       result           = $5,
		       last_error       = $6,
		       attempts         = CASE WHEN $6::TEXT IS NULL THEN 0 ELSE attempts + 1 END,
		       claimed_by       = NULL,
		       claimed_at       = NULL,
		       lease_expires_at = NULL,
		       updated_at       = $3
		WHERE id = $1 AND claimed_by = $2 AND status = 'running'`,
		id, in.WorkerID, in.LastRun, in.NextRun, in.Result, in.Error)
	if err != nil {
		return fmt.Errorf("rearm task: %w", err)
	}
	return r.checkLease(ctx, tag.RowsAffected(), id)
}

func (r *TaskRepository) Cancel(ctx context.Context, id string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE scheduled_tasks
		SET    status           = 'cancelled',
		       next_run         = NULL,
		       claimed_by       = NULL,
		       claimed_at       = NULL,
		       lease_expires_at = NULL,
		       updated_at       = NOW()
		WHERE id = $1 AND status IN ('pending', 'running')`, id)
	if err != nil {
		return false, fmt.Errorf("cancel task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Already terminal is a no-op; missing is an error.
		if _, err := r.GetByID(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (r *TaskRepository) ReclaimExpired(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE scheduled_tasks
		SET    status           = 'pending',
		       attempts         = attempts + 1,
		       last_error       = 'worker lease expired',
		       claimed_by       = NULL,
		       claimed_at       = NULL,
		       lease_expires_at = NULL,
		       updated_at       = NOW()
		WHERE id IN (
			SELECT id FROM scheduled_tasks
			WHERE  status           = 'running'
			  AND  lease_expires_at < $1
			  AND  (max_attempts = 0 OR attempts < max_attempts)
			ORDER BY lease_expires_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)`, cutoff, limit)
	return int(tag.RowsAffected()), err
}

func (r *TaskRepository) FailExpired(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE scheduled_tasks
		SET    status           = 'failed',
		       last_error       = 'worker lease expired: max attempts exceeded',
		       next_run         = NULL,
		       claimed_by       = NULL,
		       claimed_at       = NULL,
		       lease_expires_at = NULL,
		       updated_at       = NOW()
		WHERE id IN (
			SELECT id FROM scheduled_tasks
			WHERE  status           = 'running'
			  AND  lease_expires_at < $1
			  AND  max_attempts > 0
			  AND  attempts >= max_attempts
			ORDER BY lease_expires_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)`, cutoff, limit)
	return int(tag.RowsAffected()), err
}

// checkLease turns a zero-row conditional update into the right sentinel:
// the task is either gone or claimed by someone else.
func (r *TaskRepository) checkLease(ctx context.Context, affected int64, id string) error {
	if affected > 0 {
		return nil
	}
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return domain.ErrLeaseMismatch
}

// pgx.Row and pgx.Rows both implement this.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.ScheduledTask, error) {
	var t domain.ScheduledTask
	var custom, config []byte
	err := row.Scan(
		&t.ID, &t.TaskType, &t.Status, &t.ScheduledFor, &t.IntervalType, &t.IntervalValue,
		&t.CronExpr, &custom, &config, &t.EntityType, &t.EntityID,
		&t.NextRun, &t.LastRun, &t.Result, &t.LastError, &t.Attempts, &t.MaxAttempts,
		&t.ClaimedBy, &t.ClaimedAt, &t.LeaseExpiresAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTaskNotFound
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}
	if len(custom) > 0 {
		var cs domain.CustomSchedule
		if err := json.Unmarshal(custom, &cs); err != nil {
			return nil, fmt.Errorf("decode custom schedule: %w", err)
		}
		t.Custom = &cs
	}
	t.Config = config
	return &t, nil
}

func encodeCustom(cs *domain.CustomSchedule) ([]byte, error) {
	if cs == nil {
		return nil, nil
	}
	return json.Marshal(cs)
}
