package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureSchema creates the four scheduler tables if they do not exist.
// Links between tables are soft string ids, deliberately not foreign keys.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	schema := `
CREATE TABLE IF NOT EXISTS scheduled_tasks (
  id               TEXT PRIMARY KEY,
  task_type        TEXT NOT NULL,
  status           TEXT NOT NULL CHECK (status IN ('pending','running','completed','failed','cancelled')),
  scheduled_for    TIMESTAMPTZ NOT NULL,
  interval_type    TEXT NOT NULL DEFAULT 'once',
  interval_value   INT NOT NULL DEFAULT 1,
  cron_expr        TEXT,
  custom_schedule  JSONB,
  config           JSONB,
  entity_type      TEXT,
  entity_id        TEXT,
  next_run         TIMESTAMPTZ,
  last_run         TIMESTAMPTZ,
  result           TEXT,
  last_error       TEXT,
  attempts         INT NOT NULL DEFAULT 0,
  max_attempts     INT NOT NULL DEFAULT 0,
  claimed_by       TEXT,
  claimed_at       TIMESTAMPTZ,
  lease_expires_at TIMESTAMPTZ,
  created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_tasks_due ON scheduled_tasks (next_run, id) WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS idx_tasks_lease ON scheduled_tasks (lease_expires_at) WHERE status = 'running';
CREATE INDEX IF NOT EXISTS idx_tasks_entity ON scheduled_tasks (entity_type, entity_id);

CREATE TABLE IF NOT EXISTS scheduler_logs (
  id         TEXT PRIMARY KEY,
  task_id    TEXT NOT NULL,
  task_type  TEXT NOT NULL,
  action     TEXT NOT NULL CHECK (action IN ('start','complete','fail','cancel')),
  status     TEXT NOT NULL,
  details    TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_logs_task ON scheduler_logs (task_id, created_at DESC);

CREATE TABLE IF NOT EXISTS pipeline_items (
  id                TEXT PRIMARY KEY,
  pipeline_type     TEXT NOT NULL,
  platform          TEXT,
  entity_type       TEXT NOT NULL,
  entity_id         TEXT NOT NULL,
  status            TEXT NOT NULL CHECK (status IN ('pending','scheduled','posted','failed')),
  priority          INT NOT NULL DEFAULT 0,
  scheduled_for     TIMESTAMPTZ,
  scheduled_task_id TEXT,
  content_template  TEXT NOT NULL DEFAULT '',
  content_params    JSONB,
  posted_at         TIMESTAMPTZ,
  result            TEXT,
  error             TEXT,
  created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_items_pending ON pipeline_items (pipeline_type, platform, priority DESC, scheduled_for ASC) WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS idx_items_posted ON pipeline_items (pipeline_type, platform, posted_at) WHERE status = 'posted';

CREATE TABLE IF NOT EXISTS pipeline_settings (
  id                   TEXT PRIMARY KEY,
  pipeline_type        TEXT NOT NULL,
  platform             TEXT,
  daily_limit          INT NOT NULL DEFAULT 10,
  posting_hours        JSONB,
  posting_days         JSONB,
  min_interval_minutes INT NOT NULL DEFAULT 30,
  enabled              BOOLEAN NOT NULL DEFAULT TRUE,
  created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_settings_dest ON pipeline_settings (pipeline_type, COALESCE(platform, ''));

CREATE TABLE IF NOT EXISTS sync_settings (
  id              TEXT PRIMARY KEY,
  entity_type     TEXT NOT NULL,
  entity_id       TEXT NOT NULL,
  task_type       TEXT NOT NULL,
  config          JSONB,
  interval_type   TEXT NOT NULL DEFAULT 'daily',
  interval_value  INT NOT NULL DEFAULT 1,
  cron_expr       TEXT,
  custom_schedule JSONB,
  last_sync       TIMESTAMPTZ,
  next_sync       TIMESTAMPTZ,
  enabled         BOOLEAN NOT NULL DEFAULT TRUE,
  created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  UNIQUE (entity_type, entity_id)
);
`
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
