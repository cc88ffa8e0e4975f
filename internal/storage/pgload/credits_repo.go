package pgload

import (
	"context"

	"github.com/BearBump/StubbleTrack/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const creditColumns = `load_id, user_id, waste_type, quantity, offset_kg, reward_points, created_at`

// InsertCreditIfAbsent опирается на PK load_id: второй вызов ничего не пишет
// и возвращает уже сохранённую запись.
func (s *Storage) InsertCreditIfAbsent(ctx context.Context, c models.CarbonCredit) (models.CarbonCredit, bool, error) {
	tag, err := s.db.Exec(ctx, `
INSERT INTO carbon_credits (`+creditColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (load_id) DO NOTHING
`, c.LoadID, c.UserID, c.WasteType, c.Quantity, c.OffsetKg, c.RewardPoints, c.CreatedAt.UTC())
	if err != nil {
		return models.CarbonCredit{}, false, errors.Wrap(err, "insert carbon credit")
	}

	stored, err := s.GetCreditByLoadID(ctx, c.LoadID)
	if err != nil {
		return models.CarbonCredit{}, false, err
	}
	return *stored, tag.RowsAffected() == 1, nil
}

func (s *Storage) GetCreditByLoadID(ctx context.Context, loadID uuid.UUID) (*models.CarbonCredit, error) {
	row := s.db.QueryRow(ctx, `SELECT `+creditColumns+` FROM carbon_credits WHERE load_id = $1`, loadID)
	c, err := scanCredit(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &models.NotFoundError{Entity: "carbon credit", ID: loadID.String()}
	}
	if err != nil {
		return nil, errors.Wrap(err, "select carbon credit")
	}
	return c, nil
}

func (s *Storage) ListCreditsByUser(ctx context.Context, userID string) ([]*models.CarbonCredit, error) {
	rows, err := s.db.Query(ctx, `
SELECT `+creditColumns+`
FROM carbon_credits
WHERE user_id = $1
ORDER BY created_at DESC, load_id ASC
`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "select carbon credits")
	}
	defer rows.Close()

	out := []*models.CarbonCredit{}
	for rows.Next() {
		c, err := scanCredit(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan carbon credit")
		}
		out = append(out, c)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func scanCredit(row pgx.Row) (*models.CarbonCredit, error) {
	var c models.CarbonCredit
	if err := row.Scan(&c.LoadID, &c.UserID, &c.WasteType, &c.Quantity, &c.OffsetKg, &c.RewardPoints, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}
