// Package loads is the application service for the custody chain: it reads a
// load, runs the state machine, writes conditionally and issues credits.
package loads

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/BearBump/StubbleTrack/internal/cache"
	"github.com/BearBump/StubbleTrack/internal/geo"
	"github.com/BearBump/StubbleTrack/internal/models"
	"github.com/BearBump/StubbleTrack/internal/services/custody"
	"github.com/BearBump/StubbleTrack/internal/services/proximity"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type Repository interface {
	CreateLoad(ctx context.Context, l *models.Load) error
	GetLoadByID(ctx context.Context, id uuid.UUID) (*models.Load, error)
	UpdateLoadIfStatus(ctx context.Context, next *models.Load, expected models.LoadStatus, expectedUpdatedAt time.Time, ev *models.LoadEvent) error
	ListOpenLoadsInBound(ctx context.Context, b models.Bound, limit int) ([]*models.Load, error)
	ListLoadsByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*models.Load, error)
	ListLoadsByAgent(ctx context.Context, agentID string, limit, offset int) ([]*models.Load, error)
	ListLoadEvents(ctx context.Context, loadID uuid.UUID, limit, offset int) ([]*models.LoadEvent, error)
}

// Ledger is the carbon ledger as seen by the service.
type Ledger interface {
	OnRecycled(ctx context.Context, load *models.Load) (models.CarbonCredit, error)
	GetCredit(ctx context.Context, loadID uuid.UUID) (*models.CarbonCredit, error)
	ListCredits(ctx context.Context, userID string) ([]*models.CarbonCredit, error)
	UserRewards(ctx context.Context, userID string) (models.RewardSummary, error)
}

const (
	defaultNearbyRadiusKm = 25.0
	defaultNearbyMaxKm    = 200.0
	defaultNearbyResults  = 50
	// потолок выборки кандидатов из bbox до точной фильтрации
	maxNearbyCandidates = 5000
)

type Service struct {
	repo       Repository
	machine    *custody.Machine
	ledger     Ledger
	cache      cache.BytesCache
	currentTTL time.Duration

	rl              cache.Limiter
	nearbyPerMinute int64

	nearbyDefaultKm float64
	nearbyMaxKm     float64
	nearbyMaxResult int

	now func() time.Time
}

func New(repo Repository, ledger Ledger, c cache.BytesCache, currentTTL time.Duration) *Service {
	return &Service{
		repo:            repo,
		machine:         custody.New(),
		ledger:          ledger,
		cache:           c,
		currentTTL:      currentTTL,
		nearbyDefaultKm: defaultNearbyRadiusKm,
		nearbyMaxKm:     defaultNearbyMaxKm,
		nearbyMaxResult: defaultNearbyResults,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) WithNearbySettings(defaultRadiusKm, maxRadiusKm float64, maxResults int) *Service {
	if defaultRadiusKm > 0 {
		s.nearbyDefaultKm = defaultRadiusKm
	}
	if maxRadiusKm > 0 {
		s.nearbyMaxKm = maxRadiusKm
	}
	if maxResults > 0 {
		s.nearbyMaxResult = maxResults
	}
	return s
}

func (s *Service) WithRateLimiter(rl cache.Limiter, perMinute int64) *Service {
	s.rl = rl
	s.nearbyPerMinute = perMinute
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// clock: Postgres хранит микросекунды, иначе условная запись не совпадёт.
func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func (s *Service) DefaultNearbyRadiusKm() float64 {
	return s.nearbyDefaultKm
}

func (s *Service) CreateLoad(ctx context.Context, actor models.Actor, in models.LoadCreateInput) (*models.Load, error) {
	if actor.ID == "" {
		return nil, &models.ForbiddenError{Trigger: "create", Reason: "actor id is required"}
	}
	switch actor.Role {
	case models.RoleFarmer, models.RoleSeller, models.RoleAdmin:
	default:
		return nil, &models.ForbiddenError{Trigger: "create", ActorID: actor.ID, Reason: "role " + string(actor.Role) + " may not report loads"}
	}

	wasteType := strings.TrimSpace(in.WasteType)
	if wasteType == "" {
		return nil, &models.ValidationError{Field: "wasteType", Reason: "is required"}
	}
	if !(in.Quantity > 0) || math.IsInf(in.Quantity, 0) {
		return nil, &models.ValidationError{Field: "quantity", Reason: "must be a positive number of tons"}
	}
	if in.Coordinates != nil {
		if err := geo.ValidateCoordinate(*in.Coordinates); err != nil {
			return nil, err
		}
	}
	if in.PricePerTon != nil && (*in.PricePerTon < 0 || math.IsNaN(*in.PricePerTon) || math.IsInf(*in.PricePerTon, 0)) {
		return nil, &models.ValidationError{Field: "pricePerTon", Reason: "must be a non-negative number"}
	}

	now := s.clock()
	l := &models.Load{
		ID:          uuid.New(),
		OwnerID:     actor.ID,
		WasteType:   wasteType,
		Quantity:    in.Quantity,
		Coordinates: in.Coordinates,
		Status:      models.LoadStatusPending,
		Title:       strings.TrimSpace(in.Title),
		Address:     strings.TrimSpace(in.Address),
		Notes:       in.Notes,
		PricePerTon: in.PricePerTon,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.CreateLoad(ctx, l); err != nil {
		return nil, err
	}
	s.storeCurrent(ctx, l)
	slog.Info("load reported", "load_id", l.ID.String(), "owner_id", l.OwnerID, "waste_type", l.WasteType)
	return l, nil
}

// GetLoad reads through the snapshot cache. The cache is best effort.
// A miss is filled with SetNX: a snapshot read before a concurrent transition
// must not overwrite the one that transition already wrote.
func (s *Service) GetLoad(ctx context.Context, id uuid.UUID) (*models.Load, error) {
	if s.cacheEnabled() {
		b, ok, err := s.cache.Get(ctx, currentKey(id))
		if err != nil {
			slog.Warn("load cache get", "load_id", id.String(), "error", err.Error())
		}
		if err == nil && ok {
			var l models.Load
			if json.Unmarshal(b, &l) == nil && l.ID == id {
				return &l, nil
			}
		}
	}

	l, err := s.repo.GetLoadByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.fillCurrent(ctx, l)
	return l, nil
}

type TransitionResult struct {
	Load  *models.Load
	Event *models.LoadEvent
	// Credit is set only when the load became RECYCLED.
	Credit *models.CarbonCredit
}

// Transition fires trigger on the load as actor. The write is conditional on
// the status and updatedAt that were read; a lost race is a ConflictError and
// is never retried here.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, trigger models.Trigger, actor models.Actor) (*TransitionResult, error) {
	// читаем мимо кэша: решение принимается по актуальной записи
	cur, err := s.repo.GetLoadByID(ctx, id)
	if err != nil {
		return nil, err
	}

	next, err := s.machine.Apply(cur, trigger, actor, s.clock())
	if err != nil {
		return nil, err
	}

	ev := &models.LoadEvent{
		LoadID:          next.ID,
		FromStatus:      cur.Status,
		ToStatus:        next.Status,
		Trigger:         trigger,
		ActorID:         actor.ID,
		ActorRole:       actor.Role,
		OwnerID:         next.OwnerID,
		AssignedAgentID: cur.AssignedAgentID,
		CreatedAt:       next.UpdatedAt,
		NextAttemptAt:   next.UpdatedAt,
	}
	if next.AssignedAgentID != nil {
		ev.AssignedAgentID = next.AssignedAgentID
	}

	if err := s.repo.UpdateLoadIfStatus(ctx, next, cur.Status, cur.UpdatedAt, ev); err != nil {
		if errors.Is(err, models.ErrConflict) {
			slog.Warn("transition lost race", "load_id", id.String(), "trigger", string(trigger), "actor_id", actor.ID)
			s.dropCurrent(ctx, id)
		}
		return nil, err
	}
	if !s.storeCurrent(ctx, next) {
		// старый снимок не должен пережить переход
		s.dropCurrent(ctx, id)
	}
	slog.Info("transition accepted",
		"load_id", id.String(),
		"trigger", string(trigger),
		"from", string(cur.Status),
		"to", string(next.Status),
		"actor_id", actor.ID,
	)

	res := &TransitionResult{Load: next, Event: ev}
	if next.Status == models.LoadStatusRecycled {
		credit, err := s.ledger.OnRecycled(ctx, next)
		if err != nil {
			// переход уже записан; кредит доначислит воркер через SettleCredit
			slog.Error("issue carbon credit", "load_id", id.String(), "error", err.Error())
			return nil, errors.Wrap(err, "issue carbon credit")
		}
		res.Credit = &credit
	}
	return res, nil
}

// SettleCredit makes sure a RECYCLED load has its credit. It is safe to call
// any number of times.
func (s *Service) SettleCredit(ctx context.Context, id uuid.UUID) (models.CarbonCredit, error) {
	l, err := s.repo.GetLoadByID(ctx, id)
	if err != nil {
		return models.CarbonCredit{}, err
	}
	return s.ledger.OnRecycled(ctx, l)
}

// FindNearby returns open loads within radiusKm of origin, nearest first.
// A zero or negative radius yields an empty result.
func (s *Service) FindNearby(ctx context.Context, actor models.Actor, origin models.Coordinate, radiusKm float64, limit int) ([]models.LoadWithDistance, error) {
	if err := geo.ValidateCoordinate(origin); err != nil {
		return nil, err
	}
	if math.IsNaN(radiusKm) {
		return nil, &models.ValidationError{Field: "radiusKm", Reason: "must be a number"}
	}
	if radiusKm > s.nearbyMaxKm {
		return nil, &models.ValidationError{Field: "radiusKm", Reason: fmt.Sprintf("must not exceed %g", s.nearbyMaxKm)}
	}
	if err := s.allowNearby(ctx, actor); err != nil {
		return nil, err
	}
	if !(radiusKm > 0) {
		return []models.LoadWithDistance{}, nil
	}

	candidates, err := s.repo.ListOpenLoadsInBound(ctx, geo.BoundAround(origin, radiusKm), maxNearbyCandidates)
	if err != nil {
		return nil, err
	}
	out, err := proximity.FindNearby(origin, radiusKm, candidates)
	if err != nil {
		return nil, err
	}

	if limit <= 0 || limit > s.nearbyMaxResult {
		limit = s.nearbyMaxResult
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Service) allowNearby(ctx context.Context, actor models.Actor) error {
	if s.rl == nil || s.nearbyPerMinute <= 0 {
		return nil
	}
	who := actor.ID
	if who == "" {
		who = "anonymous"
	}
	ok, n, err := s.rl.Allow(ctx, "rl:nearby:"+who, s.nearbyPerMinute, time.Minute)
	if err != nil {
		// лимитер недоступен: не блокируем поиск
		slog.Warn("nearby rate limiter", "actor_id", who, "error", err.Error())
		return nil
	}
	if !ok {
		slog.Warn("nearby rate limited", "actor_id", who, "count", n)
		return errors.Wrapf(models.ErrRateLimited, "more than %d searches per minute", s.nearbyPerMinute)
	}
	return nil
}

func (s *Service) ListLoadEvents(ctx context.Context, loadID uuid.UUID, limit, offset int) ([]*models.LoadEvent, error) {
	if _, err := s.repo.GetLoadByID(ctx, loadID); err != nil {
		return nil, err
	}
	return s.repo.ListLoadEvents(ctx, loadID, limit, offset)
}

func (s *Service) ListLoadsByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*models.Load, error) {
	if ownerID == "" {
		return nil, &models.ValidationError{Field: "userId", Reason: "is required"}
	}
	return s.repo.ListLoadsByOwner(ctx, ownerID, limit, offset)
}

func (s *Service) ListLoadsByAgent(ctx context.Context, agentID string, limit, offset int) ([]*models.Load, error) {
	if agentID == "" {
		return nil, &models.ValidationError{Field: "userId", Reason: "is required"}
	}
	return s.repo.ListLoadsByAgent(ctx, agentID, limit, offset)
}

func (s *Service) GetCredit(ctx context.Context, loadID uuid.UUID) (*models.CarbonCredit, error) {
	return s.ledger.GetCredit(ctx, loadID)
}

func (s *Service) ListCredits(ctx context.Context, userID string) ([]*models.CarbonCredit, error) {
	return s.ledger.ListCredits(ctx, userID)
}

func (s *Service) UserRewards(ctx context.Context, userID string) (models.RewardSummary, error) {
	return s.ledger.UserRewards(ctx, userID)
}

// AvailableActions lists the triggers actor could fire on l right now.
func (s *Service) AvailableActions(l *models.Load, actor models.Actor) []models.Trigger {
	out := []models.Trigger{}
	for _, t := range s.machine.AllowedTriggers(l.Status) {
		if s.machine.CanApply(l, t, actor) {
			out = append(out, t)
		}
	}
	return out
}

func (s *Service) cacheEnabled() bool {
	return s.cache != nil && s.currentTTL > 0
}

func (s *Service) storeCurrent(ctx context.Context, l *models.Load) bool {
	if !s.cacheEnabled() {
		return true
	}
	b, err := json.Marshal(l)
	if err != nil {
		return false
	}
	if err := s.cache.Set(ctx, currentKey(l.ID), b, s.currentTTL); err != nil {
		slog.Warn("load cache set", "load_id", l.ID.String(), "error", err.Error())
		return false
	}
	return true
}

func (s *Service) fillCurrent(ctx context.Context, l *models.Load) {
	if !s.cacheEnabled() {
		return
	}
	b, err := json.Marshal(l)
	if err != nil {
		return
	}
	if _, err := s.cache.SetNX(ctx, currentKey(l.ID), b, s.currentTTL); err != nil {
		slog.Warn("load cache fill", "load_id", l.ID.String(), "error", err.Error())
	}
}

func (s *Service) dropCurrent(ctx context.Context, id uuid.UUID) {
	if !s.cacheEnabled() {
		return
	}
	if err := s.cache.Delete(ctx, currentKey(id)); err != nil {
		slog.Warn("load cache delete", "load_id", id.String(), "error", err.Error())
	}
}

func currentKey(id uuid.UUID) string {
	return fmt.Sprintf("load:%s:current", id)
}
