package pgload

import (
	"context"
	"time"

	"github.com/BearBump/StubbleTrack/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const eventColumns = `
  id, load_id, from_status, to_status, trigger_name, actor_id, actor_role,
  owner_id, assigned_agent_id, created_at,
  published_at, publish_attempts, next_attempt_at, last_error`

// ClaimUnpublishedEvents бронирует на lease события, готовые к публикации.
// Груз попадает в пачку только через свою "голову" (самое раннее
// неопубликованное событие): если голова ждёт backoff или занята другим
// воркером, более поздние события этого груза не выдаются. limit ограничивает
// число грузов; за головой идут следующие события груза в порядке id.
func (s *Storage) ClaimUnpublishedEvents(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.LoadEvent, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
WITH heads AS (
  SELECT e.load_id
  FROM load_events e
  WHERE e.published_at IS NULL
    AND e.next_attempt_at <= $1
    AND NOT EXISTS (
      SELECT 1 FROM load_events p
      WHERE p.load_id = e.load_id
        AND p.published_at IS NULL
        AND p.id < e.id
    )
  ORDER BY e.id ASC
  LIMIT $2
  FOR UPDATE SKIP LOCKED
)
SELECT `+eventColumns+`
FROM load_events
WHERE load_id IN (SELECT load_id FROM heads)
  AND published_at IS NULL
ORDER BY id ASC
FOR UPDATE
`, now.UTC(), limit)
	if err != nil {
		return nil, errors.Wrap(err, "select unpublished events")
	}
	all, err := collectEvents(rows)
	if err != nil {
		return nil, err
	}
	picked := dueInOrder(all, now.UTC())

	leaseUntil := now.UTC().Add(lease)
	for _, e := range picked {
		if _, err := tx.Exec(ctx, `UPDATE load_events SET next_attempt_at = $2 WHERE id = $1`, e.ID, leaseUntil); err != nil {
			return nil, errors.Wrap(err, "lease load event")
		}
		e.NextAttemptAt = leaseUntil
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return picked, nil
}

// dueInOrder keeps, per load, the id-ordered prefix of events that are due.
// Everything after the first event still waiting stays unclaimed.
func dueInOrder(events []*models.LoadEvent, now time.Time) []*models.LoadEvent {
	blocked := map[uuid.UUID]bool{}
	out := []*models.LoadEvent{}
	for _, e := range events {
		if blocked[e.LoadID] {
			continue
		}
		if e.NextAttemptAt.After(now) {
			blocked[e.LoadID] = true
			continue
		}
		out = append(out, e)
	}
	return out
}

func (s *Storage) MarkEventPublished(ctx context.Context, id uint64, at time.Time) error {
	_, err := s.db.Exec(ctx, `
UPDATE load_events
SET published_at = $2, last_error = NULL
WHERE id = $1
`, id, at.UTC())
	return errors.Wrap(err, "mark event published")
}

func (s *Storage) MarkEventFailed(ctx context.Context, id uint64, errText string, nextAttemptAt time.Time) error {
	_, err := s.db.Exec(ctx, `
UPDATE load_events
SET publish_attempts = publish_attempts + 1,
    last_error = $2,
    next_attempt_at = $3
WHERE id = $1
`, id, errText, nextAttemptAt.UTC())
	return errors.Wrap(err, "mark event failed")
}

func collectEvents(rows pgx.Rows) ([]*models.LoadEvent, error) {
	defer rows.Close()
	out := []*models.LoadEvent{}
	for rows.Next() {
		var e models.LoadEvent
		var publishedAt *time.Time
		if err := rows.Scan(
			&e.ID, &e.LoadID, &e.FromStatus, &e.ToStatus, &e.Trigger, &e.ActorID, &e.ActorRole,
			&e.OwnerID, &e.AssignedAgentID, &e.CreatedAt,
			&publishedAt, &e.PublishAttempts, &e.NextAttemptAt, &e.LastError,
		); err != nil {
			return nil, errors.Wrap(err, "scan load event")
		}
		e.CreatedAt = e.CreatedAt.UTC()
		e.NextAttemptAt = e.NextAttemptAt.UTC()
		e.PublishedAt = utcPtr(publishedAt)
		out = append(out, &e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
