// Package carbon turns recycled loads into immutable carbon-offset credits.
package carbon

import (
	"context"
	"time"

	"github.com/BearBump/StubbleTrack/internal/models"
	"github.com/google/uuid"
)

// CreditStore appends credits keyed by load id.
type CreditStore interface {
	// InsertCreditIfAbsent stores c unless a credit for c.LoadID exists. It
	// returns the stored credit and whether this call created it.
	InsertCreditIfAbsent(ctx context.Context, c models.CarbonCredit) (models.CarbonCredit, bool, error)
	GetCreditByLoadID(ctx context.Context, loadID uuid.UUID) (*models.CarbonCredit, error)
	ListCreditsByUser(ctx context.Context, userID string) ([]*models.CarbonCredit, error)
}

type Ledger struct {
	store       CreditStore
	factors     *EmissionFactors
	pointsPerKg float64
	now         func() time.Time
}

func NewLedger(store CreditStore, factors *EmissionFactors, pointsPerKg float64) *Ledger {
	if factors == nil {
		factors = DefaultEmissionFactors()
	}
	if !(pointsPerKg > 0) {
		pointsPerKg = DefaultPointsPerKg
	}
	return &Ledger{
		store:       store,
		factors:     factors,
		pointsPerKg: pointsPerKg,
		now:         func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// Compute derives the credit for a load without storing it. The owner earns it.
func (l *Ledger) Compute(load *models.Load) models.CarbonCredit {
	offset := OffsetKg(l.factors.Factor(load.WasteType), load.Quantity)
	return models.CarbonCredit{
		LoadID:       load.ID,
		UserID:       load.OwnerID,
		WasteType:    load.WasteType,
		Quantity:     load.Quantity,
		OffsetKg:     offset,
		RewardPoints: RewardPoints(offset, l.pointsPerKg),
		CreatedAt:    l.now(),
	}
}

// OnRecycled appends the credit for a RECYCLED load. Calling it again for the
// same load returns the first credit unchanged.
func (l *Ledger) OnRecycled(ctx context.Context, load *models.Load) (models.CarbonCredit, error) {
	if load == nil {
		return models.CarbonCredit{}, &models.NotFoundError{Entity: "load"}
	}
	if load.Status != models.LoadStatusRecycled {
		return models.CarbonCredit{}, &models.InvalidStateError{
			Trigger: models.TriggerRecycle,
			Status:  load.Status,
			Reason:  "credits are issued only for recycled loads",
		}
	}
	credit, _, err := l.store.InsertCreditIfAbsent(ctx, l.Compute(load))
	if err != nil {
		return models.CarbonCredit{}, err
	}
	return credit, nil
}

func (l *Ledger) GetCredit(ctx context.Context, loadID uuid.UUID) (*models.CarbonCredit, error) {
	return l.store.GetCreditByLoadID(ctx, loadID)
}

func (l *Ledger) ListCredits(ctx context.Context, userID string) ([]*models.CarbonCredit, error) {
	return l.store.ListCreditsByUser(ctx, userID)
}

func (l *Ledger) UserRewards(ctx context.Context, userID string) (models.RewardSummary, error) {
	credits, err := l.store.ListCreditsByUser(ctx, userID)
	if err != nil {
		return models.RewardSummary{}, err
	}
	sum := models.RewardSummary{UserID: userID, Credits: len(credits)}
	for _, c := range credits {
		sum.TotalOffsetKg += c.OffsetKg
		sum.TotalPoints += c.RewardPoints
	}
	sum.TotalOffsetKg = OffsetKg(1, sum.TotalOffsetKg)
	return sum, nil
}
