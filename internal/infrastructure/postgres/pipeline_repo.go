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

const itemCols = `id, pipeline_type, platform, entity_type, entity_id, status, priority,
	scheduled_for, scheduled_task_id, content_template, content_params,
	posted_at, result, error, created_at, updated_at`

const settingsCols = `id, pipeline_type, platform, daily_limit, posting_hours, posting_days,
	min_interval_minutes, enabled, created_at, updated_at`

type PipelineRepository struct {
	pool *pgxpool.Pool
}

func NewPipelineRepository(pool *pgxpool.Pool) *PipelineRepository {
	return &PipelineRepository{pool: pool}
}

var _ repository.PipelineRepository = (*PipelineRepository)(nil)

func (r *PipelineRepository) CreateItem(ctx context.Context, item *domain.PipelineItem) (*domain.PipelineItem, error) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	query := `
		INSERT INTO pipeline_items (
			id, pipeline_type, platform, entity_type, entity_id, status,
			priority, scheduled_for, content_template, content_params
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING ` + itemCols

	row := r.pool.QueryRow(ctx, query,
		item.ID,
		item.PipelineType,
		item.Platform,
		item.EntityType,
		item.EntityID,
		item.Status,
		item.Priority,
		item.ScheduledFor,
		item.ContentTemplate,
		[]byte(item.ContentParams),
	)
	return scanItem(row)
}

func (r *PipelineRepository) GetItem(ctx context.Context, id string) (*domain.PipelineItem, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+itemCols+` FROM pipeline_items WHERE id = $1`, id)
	return scanItem(row)
}

func (r *PipelineRepository) ListItems(ctx context.Context, input repository.ListItemsInput) ([]*domain.PipelineItem, error) {
	if input.Limit <= 0 || input.Limit > 500 {
		input.Limit = 50
	}

	args := []any{input.PipelineType}
	where := []string{"pipeline_type = $1"}

	if input.Platform != nil {
		args = append(args, *input.Platform)
		where = append(where, fmt.Sprintf("platform = $%d", len(args)))
	}
	if input.Status != "" {
		args = append(args, input.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	args = append(args, input.Limit)

	query := fmt.Sprintf(`
		SELECT `+itemCols+`
		FROM pipeline_items
		WHERE %s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d`,
		strings.Join(where, " AND "), len(args))

	return r.queryItems(ctx, query, args...)
}

func (r *PipelineRepository) PendingItems(ctx context.Context, pipelineType string, platform *string, limit int) ([]*domain.PipelineItem, error) {
	// Dispatch order is enforced here, not left to storage order.
	query := `
		SELECT ` + itemCols + `
		FROM pipeline_items
		WHERE pipeline_type = $1
		  AND ($2::TEXT IS NULL OR platform = $2)
		  AND status = 'pending'
		ORDER BY priority DESC, scheduled_for ASC NULLS LAST, id ASC
		LIMIT $3`
	return r.queryItems(ctx, query, pipelineType, platform, limit)
}

func (r *PipelineRepository) MarkScheduled(ctx context.Context, itemID, taskID string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE pipeline_items
		SET    status            = 'scheduled',
		       scheduled_task_id = $2,
		       scheduled_for     = $3,
		       updated_at        = NOW()
		WHERE id = $1 AND status = 'pending'`,
		itemID, taskID, at)
	if err != nil {
		return fmt.Errorf("mark item scheduled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetItem(ctx, itemID); err != nil {
			return err
		}
		return domain.ErrItemNotPending
	}
	return nil
}

func (r *PipelineRepository) MarkPosted(ctx context.Context, itemID string, postedAt time.Time, result string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE pipeline_items
		SET    status     = 'posted',
		       posted_at  = $2,
		       result     = $3,
		       error      = NULL,
		       updated_at = NOW()
		WHERE id = $1`, itemID, postedAt, result)
	if err != nil {
		return fmt.Errorf("mark item posted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrItemNotFound
	}
	return nil
}

func (r *PipelineRepository) MarkFailed(ctx context.Context, itemID string, errMsg string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE pipeline_items
		SET    status     = 'failed',
		       error      = $2,
		       updated_at = NOW()
		WHERE id = $1`, itemID, errMsg)
	if err != nil {
		return fmt.Errorf("mark item failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrItemNotFound
	}
	return nil
}

func (r *PipelineRepository) CountPostedSince(ctx context.Context, pipelineType string, platform *string, since time.Time) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM pipeline_items
		WHERE pipeline_type = $1
		  AND ($2::TEXT IS NULL OR platform = $2)
		  AND status = 'posted'
		  AND posted_at >= $3`,
		pipelineType, platform, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count posted items: %w", err)
	}
	return count, nil
}

func (r *PipelineRepository) GetSettings(ctx context.Context, pipelineType string, platform *string) (*domain.PipelineSettings, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+settingsCols+`
		FROM pipeline_settings
		WHERE pipeline_type = $1 AND COALESCE(platform, '') = COALESCE($2, '')`,
		pipelineType, platform)
	return scanSettings(row)
}

func (r *PipelineRepository) UpsertSettings(ctx context.Context, s *domain.PipelineSettings) (*domain.PipelineSettings, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	hours, err := json.Marshal(s.PostingHours)
	if err != nil {
		return nil, fmt.Errorf("encode posting hours: %w", err)
	}
	days, err := json.Marshal(s.PostingDays)
	if err != nil {
		return nil, fmt.Errorf("encode posting days: %w", err)
	}

	query := `
		INSERT INTO pipeline_settings (
			id, pipeline_type, platform, daily_limit, posting_hours,
			posting_days, min_interval_minutes, enabled
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (pipeline_type, COALESCE(platform, '')) DO UPDATE SET
			daily_limit          = EXCLUDED.daily_limit,
			posting_hours        = EXCLUDED.posting_hours,
			posting_days         = EXCLUDED.posting_days,
			min_interval_minutes = EXCLUDED.min_interval_minutes,
			enabled              = EXCLUDED.enabled,
			updated_at           = NOW()
		RETURNING ` + settingsCols

	row := r.pool.QueryRow(ctx, query,
		s.ID, s.PipelineType, s.Platform, s.DailyLimit, hours, days,
		s.MinIntervalMinutes, s.Enabled)
	return scanSettings(row)
}

func (r *PipelineRepository) ListSettings(ctx context.Context) ([]*domain.PipelineSettings, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+settingsCols+` FROM pipeline_settings ORDER BY pipeline_type, platform`)
	if err != nil {
		return nil, fmt.Errorf("list pipeline settings: %w", err)
	}
	defer rows.Close()

	var all []*domain.PipelineSettings
	for rows.Next() {
		s, err := scanSettings(rows)
		if err != nil {
			return nil, err
		}
		all = append(all, s)
	}
	return all, rows.Err()
}

func (r *PipelineRepository) queryItems(ctx context.Context, query string, args ...any) ([]*domain.PipelineItem, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query pipeline items: %w", err)
	}
	defer rows.Close()

	var items []*domain.PipelineItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanItem(row rowScanner) (*domain.PipelineItem, error) {
	var item domain.PipelineItem
	var params []byte
	err := row.Scan(
		&item.ID, &item.PipelineType, &item.Platform, &item.EntityType, &item.EntityID,
		&item.Status, &item.Priority, &item.ScheduledFor, &item.ScheduledTaskID,
		&item.ContentTemplate, &params, &item.PostedAt, &item.Result, &item.Error,
		&item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrItemNotFound
		}
		return nil, fmt.Errorf("scan pipeline item: %w", err)
	}
	item.ContentParams = params
	return &item, nil
}

func scanSettings(row rowScanner) (*domain.PipelineSettings, error) {
	var s domain.PipelineSettings
	var hours, days []byte
	err := row.Scan(
		&s.ID, &s.PipelineType, &s.Platform, &s.DailyLimit, &hours, &days,
		&s.MinIntervalMinutes, &s.Enabled, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSettingsNotFound
		}
		return nil, fmt.Errorf("scan pipeline settings: %w", err)
	}
	if len(hours) > 0 {
		if err := json.Unmarshal(hours, &s.PostingHours); err != nil {
			return nil, fmt.Errorf("decode posting hours: %w", err)
		}
	}
	if len(days) > 0 {
		if err := json.Unmarshal(days, &s.PostingDays); err != nil {
			return nil, fmt.Errorf("decode posting days: %w", err)
		}
	}
	return &s, nil
}
