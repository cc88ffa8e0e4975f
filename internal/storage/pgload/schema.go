package pgload

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS loads (
  id UUID PRIMARY KEY,
  owner_id TEXT NOT NULL,
  assigned_agent_id TEXT NULL,
  waste_type TEXT NOT NULL,
  quantity DOUBLE PRECISION NOT NULL CHECK (quantity > 0),
  lat DOUBLE PRECISION NULL,
  lon DOUBLE PRECISION NULL,
  status TEXT NOT NULL,
  title TEXT NOT NULL DEFAULT '',
  address TEXT NOT NULL DEFAULT '',
  notes TEXT NOT NULL DEFAULT '',
  price_per_ton DOUBLE PRECISION NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  terminal_at TIMESTAMPTZ NULL,
  CHECK ((lat IS NULL) = (lon IS NULL))
)`,
		`CREATE INDEX IF NOT EXISTS idx_loads_open_lat_lon ON loads(lat, lon) WHERE status = 'PENDING' AND lat IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS idx_loads_owner_created ON loads(owner_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_loads_agent_created ON loads(assigned_agent_id, created_at DESC) WHERE assigned_agent_id IS NOT NULL`,
		`
CREATE TABLE IF NOT EXISTS load_events (
  id BIGSERIAL PRIMARY KEY,
  load_id UUID NOT NULL REFERENCES loads(id),
  from_status TEXT NOT NULL,
  to_status TEXT NOT NULL,
  trigger_name TEXT NOT NULL,
  actor_id TEXT NOT NULL,
  actor_role TEXT NOT NULL,
  owner_id TEXT NOT NULL,
  assigned_agent_id TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  published_at TIMESTAMPTZ NULL,
  publish_attempts INT NOT NULL DEFAULT 0,
  next_attempt_at TIMESTAMPTZ NOT NULL,
  last_error TEXT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_load_events_load_id ON load_events(load_id, id)`,
		// outbox: только неопубликованные
		`CREATE INDEX IF NOT EXISTS idx_load_events_unpublished ON load_events(next_attempt_at) WHERE published_at IS NULL`,
		`
CREATE TABLE IF NOT EXISTS carbon_credits (
  load_id UUID PRIMARY KEY REFERENCES loads(id),
  user_id TEXT NOT NULL,
  waste_type TEXT NOT NULL,
  quantity DOUBLE PRECISION NOT NULL,
  offset_kg DOUBLE PRECISION NOT NULL,
  reward_points BIGINT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_carbon_credits_user ON carbon_credits(user_id, created_at DESC)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
