package pgload

import (
	"context"
	"time"

	"github.com/BearBump/StubbleTrack/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const loadColumns = `
  id, owner_id, assigned_agent_id, waste_type, quantity,
  lat, lon, status, title, address, notes, price_per_ton,
  created_at, updated_at, terminal_at`

func (s *Storage) CreateLoad(ctx context.Context, l *models.Load) error {
	lat, lon := splitCoordinate(l.Coordinates)
	_, err := s.db.Exec(ctx, `
INSERT INTO loads (`+loadColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
`, l.ID, l.OwnerID, l.AssignedAgentID, l.WasteType, l.Quantity,
		lat, lon, l.Status, l.Title, l.Address, l.Notes, l.PricePerTon,
		l.CreatedAt.UTC(), l.UpdatedAt.UTC(), utcPtr(l.TerminalAt))
	return errors.Wrap(err, "insert load")
}

func (s *Storage) GetLoadByID(ctx context.Context, id uuid.UUID) (*models.Load, error) {
	row := s.db.QueryRow(ctx, `SELECT `+loadColumns+` FROM loads WHERE id = $1`, id)
	l, err := scanLoad(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &models.NotFoundError{Entity: "load", ID: id.String()}
	}
	if err != nil {
		return nil, errors.Wrap(err, "select load")
	}
	return l, nil
}

// UpdateLoadIfStatus пишет новое состояние только если в базе всё ещё
// expected статус и expectedUpdatedAt. Событие (outbox) пишется в той же транзакции.
func (s *Storage) UpdateLoadIfStatus(ctx context.Context, next *models.Load, expected models.LoadStatus, expectedUpdatedAt time.Time, ev *models.LoadEvent) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
UPDATE loads
SET
  status = $2,
  assigned_agent_id = $3,
  updated_at = $4,
  terminal_at = $5
WHERE id = $1
  AND status = $6
  AND updated_at = $7
`, next.ID, next.Status, next.AssignedAgentID, next.UpdatedAt.UTC(), utcPtr(next.TerminalAt),
		expected, expectedUpdatedAt.UTC())
	if err != nil {
		return errors.Wrap(err, "update load")
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM loads WHERE id = $1)`, next.ID).Scan(&exists); err != nil {
			return errors.Wrap(err, "check load exists")
		}
		if !exists {
			return &models.NotFoundError{Entity: "load", ID: next.ID.String()}
		}
		return &models.ConflictError{LoadID: next.ID.String(), ExpectedStatus: expected}
	}

	if ev != nil {
		if ev.NextAttemptAt.IsZero() {
			ev.NextAttemptAt = ev.CreatedAt
		}
		err := tx.QueryRow(ctx, `
INSERT INTO load_events (
  load_id, from_status, to_status, trigger_name, actor_id, actor_role,
  owner_id, assigned_agent_id, created_at, next_attempt_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
RETURNING id
`, ev.LoadID, ev.FromStatus, ev.ToStatus, ev.Trigger, ev.ActorID, ev.ActorRole,
			ev.OwnerID, ev.AssignedAgentID, ev.CreatedAt.UTC(), ev.NextAttemptAt.UTC()).Scan(&ev.ID)
		if err != nil {
			return errors.Wrap(err, "insert load event")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}

// ListOpenLoadsInBound отдаёт PENDING грузы с координатами внутри b.
// Бокс через антимеридиан разбивается на два диапазона долготы.
// Ближние к центру бокса идут первыми, поэтому limit отрезает дальние.
func (s *Storage) ListOpenLoadsInBound(ctx context.Context, b models.Bound, limit int) ([]*models.Load, error) {
	if limit <= 0 {
		limit = 1000
	}
	lonCond := `lon BETWEEN $3 AND $4`
	if b.WrapsAntimeridian() {
		lonCond = `(lon >= $3 OR lon <= $4)`
	}

	ctr := b.Center()
	rows, err := s.db.Query(ctx, `
SELECT `+loadColumns+`
FROM loads
WHERE status = $5
  AND lat IS NOT NULL
  AND lat BETWEEN $1 AND $2
  AND `+lonCond+`
ORDER BY
  power(lat - $7, 2) + power($9 * least(abs(lon - $8), 360 - abs(lon - $8)), 2) ASC,
  created_at ASC, id ASC
LIMIT $6
`, b.MinLat, b.MaxLat, b.MinLon, b.MaxLon, models.LoadStatusPending, limit, ctr.Lat, ctr.Lon, b.LonScale())
	if err != nil {
		return nil, errors.Wrap(err, "select open loads")
	}
	return collectLoads(rows)
}

func (s *Storage) ListLoadsByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*models.Load, error) {
	limit, offset = normalizePage(limit, offset)
	rows, err := s.db.Query(ctx, `
SELECT `+loadColumns+`
FROM loads
WHERE owner_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2 OFFSET $3
`, ownerID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select loads by owner")
	}
	return collectLoads(rows)
}

func (s *Storage) ListLoadsByAgent(ctx context.Context, agentID string, limit, offset int) ([]*models.Load, error) {
	limit, offset = normalizePage(limit, offset)
	rows, err := s.db.Query(ctx, `
SELECT `+loadColumns+`
FROM loads
WHERE assigned_agent_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2 OFFSET $3
`, agentID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select loads by agent")
	}
	return collectLoads(rows)
}

func (s *Storage) ListLoadEvents(ctx context.Context, loadID uuid.UUID, limit, offset int) ([]*models.LoadEvent, error) {
	limit, offset = normalizePage(limit, offset)
	rows, err := s.db.Query(ctx, `
SELECT `+eventColumns+`
FROM load_events
WHERE load_id = $1
ORDER BY id ASC
LIMIT $2 OFFSET $3
`, loadID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select load events")
	}
	return collectEvents(rows)
}

func scanLoad(row pgx.Row) (*models.Load, error) {
	var l models.Load
	var lat, lon *float64
	var terminalAt *time.Time
	if err := row.Scan(
		&l.ID, &l.OwnerID, &l.AssignedAgentID, &l.WasteType, &l.Quantity,
		&lat, &lon, &l.Status, &l.Title, &l.Address, &l.Notes, &l.PricePerTon,
		&l.CreatedAt, &l.UpdatedAt, &terminalAt,
	); err != nil {
		return nil, err
	}
	if lat != nil && lon != nil {
		l.Coordinates = &models.Coordinate{Lat: *lat, Lon: *lon}
	}
	l.CreatedAt = l.CreatedAt.UTC()
	l.UpdatedAt = l.UpdatedAt.UTC()
	l.TerminalAt = utcPtr(terminalAt)
	return &l, nil
}

func collectLoads(rows pgx.Rows) ([]*models.Load, error) {
	defer rows.Close()
	out := []*models.Load{}
	for rows.Next() {
		l, err := scanLoad(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan load")
		}
		out = append(out, l)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func splitCoordinate(c *models.Coordinate) (*float64, *float64) {
	if c == nil {
		return nil, nil
	}
	lat, lon := c.Lat, c.Lon
	return &lat, &lon
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
