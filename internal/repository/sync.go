package repository

import (
	"context"
	"time"

	"github.com/Matschula1987/heiba-rms-sub001/internal/domain"
)

// SyncRepository persists per-entity sync settings. The associated scheduled
// task is not stored here; it is found through the task back-reference
// (entity_type = 'sync_settings', entity_id = settings id).
type SyncRepository interface {
	// Upsert inserts or updates the row keyed by (entityType, entityID).
	Upsert(ctx context.Context, s *domain.SyncSettings) (*domain.SyncSettings, error)
	GetByID(ctx context.Context, id string) (*domain.SyncSettings, error)
	GetByEntity(ctx context.Context, entityType, entityID string) (*domain.SyncSettings, error)
	List(ctx context.Context, limit int) ([]*domain.SyncSettings, error)
	Delete(ctx context.Context, entityType, entityID string) error
	SetLastSync(ctx context.Context, id string, lastSync time.Time, nextSync *time.Time) error
}
