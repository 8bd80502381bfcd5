package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Matschula1987/heiba-rms-sub001/internal/domain"
	"github.com/Matschula1987/heiba-rms-sub001/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const syncCols = `id, entity_type, entity_id, task_type, config, interval_type, interval_value,
	cron_expr, custom_schedule, last_sync, next_sync, enabled, created_at, updated_at`

type SyncRepository struct {
	pool *pgxpool.Pool
}

func NewSyncRepository(pool *pgxpool.Pool) *SyncRepository {
	return &SyncRepository{pool: pool}
}

var _ repository.SyncRepository = (*SyncRepository)(nil)

func (r *SyncRepository) Upsert(ctx context.Context, s *domain.SyncSettings) (*domain.SyncSettings, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	custom, err := encodeCustom(s.Custom)
	if err != nil {
		return nil, fmt.Errorf("encode custom schedule: %w", err)
	}

	// The id of an existing row is preserved so the task back-reference
	// (entity_id = settings id) stays valid across updates.
	query := `
		INSERT INTO sync_settings (
			id, entity_type, entity_id, task_type, config, interval_type,
			interval_value, cron_expr, custom_schedule, next_sync, enabled
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (entity_type, entity_id) DO UPDATE SET
			task_type       = EXCLUDED.task_type,
			config          = EXCLUDED.config,
			interval_type   = EXCLUDED.interval_type,
			interval_value  = EXCLUDED.interval_value,
			cron_expr       = EXCLUDED.cron_expr,
			custom_schedule = EXCLUDED.custom_schedule,
			next_sync       = EXCLUDED.next_sync,
			enabled         = EXCLUDED.enabled,
			updated_at      = NOW()
		RETURNING ` + syncCols

	row := r.pool.QueryRow(ctx, query,
		s.ID, s.EntityType, s.EntityID, s.TaskType, []byte(s.Config),
		s.IntervalType, s.IntervalValue, s.CronExpr, custom, s.NextSync, s.Enabled)
	return scanSync(row)
}

func (r *SyncRepository) GetByID(ctx context.Context, id string) (*domain.SyncSettings, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+syncCols+` FROM sync_settings WHERE id = $1`, id)
	return scanSync(row)
}

func (r *SyncRepository) GetByEntity(ctx context.Context, entityType, entityID string) (*domain.SyncSettings, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+syncCols+` FROM sync_settings WHERE entity_type = $1 AND entity_id = $2`,
		entityType, entityID)
	return scanSync(row)
}

func (r *SyncRepository) List(ctx context.Context, limit int) ([]*domain.SyncSettings, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+syncCols+` FROM sync_settings ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sync settings: %w", err)
	}
	defer rows.Close()

	var all []*domain.SyncSettings
	for rows.Next() {
		s, err := scanSync(rows)
		if err != nil {
			return nil, err
		}
		all = append(all, s)
	}
	return all, rows.Err()
}

func (r *SyncRepository) Delete(ctx context.Context, entityType, entityID string) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM sync_settings WHERE entity_type = $1 AND entity_id = $2`,
		entityType, entityID)
	if err != nil {
		return fmt.Errorf("delete sync settings: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSyncSettingsNotFound
	}
	return nil
}

func (r *SyncRepository) SetLastSync(ctx context.Context, id string, lastSync time.Time, nextSync *time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE sync_settings
		SET last_sync = $2, next_sync = $3, updated_at = NOW()
		WHERE id = $1`, id, lastSync, nextSync)
	if err != nil {
		return fmt.Errorf("set last sync: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSyncSettingsNotFound
	}
	return nil
}

func scanSync(row rowScanner) (*domain.SyncSettings, error) {
	var s domain.SyncSettings
	var custom, config []byte
	err := row.Scan(
		&s.ID, &s.EntityType, &s.EntityID, &s.TaskType, &config,
		&s.IntervalType, &s.IntervalValue, &s.CronExpr, &custom,
		&s.LastSync, &s.NextSync, &s.Enabled, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSyncSettingsNotFound
		}
		return nil, fmt.Errorf("scan sync settings: %w", err)
	}
	if len(custom) > 0 {
		var cs domain.CustomSchedule
		if err := json.Unmarshal(custom, &cs); err != nil {
			return nil, fmt.Errorf("decode custom schedule: %w", err)
		}
		s.Custom = &cs
	}
	s.Config = config
	return &s, nil
}
