// Package memload is a mutex-guarded in-memory store with the same conditional
// write semantics as pgload. It backs tests and local runs without Postgres.
package memload

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BearBump/StubbleTrack/internal/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type Store struct {
	mu      sync.Mutex
	loads   map[uuid.UUID]*models.Load
	events  []*models.LoadEvent
	credits map[uuid.UUID]*models.CarbonCredit
	nextID  uint64
}

func New() *Store {
	return &Store{
		loads:   map[uuid.UUID]*models.Load{},
		credits: map[uuid.UUID]*models.CarbonCredit{},
	}
}

func (s *Store) CreateLoad(ctx context.Context, l *models.Load) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.loads[l.ID]; ok {
		return errors.Errorf("load %s already exists", l.ID)
	}
	s.loads[l.ID] = l.Clone()
	return nil
}

func (s *Store) GetLoadByID(ctx context.Context, id uuid.UUID) (*models.Load, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.loads[id]
	if !ok {
		return nil, &models.NotFoundError{Entity: "load", ID: id.String()}
	}
	return l.Clone(), nil
}

// UpdateLoadIfStatus writes next only if the stored load still has the
// expected status and updatedAt. The event is appended in the same step.
func (s *Store) UpdateLoadIfStatus(ctx context.Context, next *models.Load, expected models.LoadStatus, expectedUpdatedAt time.Time, ev *models.LoadEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.loads[next.ID]
	if !ok {
		return &models.NotFoundError{Entity: "load", ID: next.ID.String()}
	}
	if cur.Status != expected || !cur.UpdatedAt.Equal(expectedUpdatedAt) {
		return &models.ConflictError{LoadID: next.ID.String(), ExpectedStatus: expected}
	}
	s.loads[next.ID] = next.Clone()

	if ev != nil {
		s.nextID++
		ev.ID = s.nextID
		if ev.NextAttemptAt.IsZero() {
			ev.NextAttemptAt = ev.CreatedAt
		}
		cp := *ev
		s.events = append(s.events, &cp)
	}
	return nil
}

func (s *Store) ListOpenLoadsInBound(ctx context.Context, b models.Bound, limit int) ([]*models.Load, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Load
	for _, l := range s.loads {
		if l.Status != models.LoadStatusPending || l.Coordinates == nil || !b.Contains(*l.Coordinates) {
			continue
		}
		out = append(out, l.Clone())
	}
	sortByCreated(out)
	sort.SliceStable(out, func(i, j int) bool {
		return b.SquaredDegrees(*out[i].Coordinates) < b.SquaredDegrees(*out[j].Coordinates)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListLoadsByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*models.Load, error) {
	return s.listBy(func(l *models.Load) bool { return l.OwnerID == ownerID }, limit, offset), nil
}

func (s *Store) ListLoadsByAgent(ctx context.Context, agentID string, limit, offset int) ([]*models.Load, error) {
	return s.listBy(func(l *models.Load) bool {
		return l.AssignedAgentID != nil && *l.AssignedAgentID == agentID
	}, limit, offset), nil
}

func (s *Store) listBy(match func(*models.Load) bool, limit, offset int) []*models.Load {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Load
	for _, l := range s.loads {
		if match(l) {
			out = append(out, l.Clone())
		}
	}
	// новые сверху, как в pgload
	sortByCreated(out)
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return page(out, limit, offset)
}

func (s *Store) ListLoadEvents(ctx context.Context, loadID uuid.UUID, limit, offset int) ([]*models.LoadEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.LoadEvent
	for _, e := range s.events {
		if e.LoadID == loadID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return page(out, limit, offset), nil
}

func (s *Store) ClaimUnpublishedEvents(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.LoadEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.LoadEvent
	// груз блокируется первым же неопубликованным событием, которое не готово
	blocked := map[uuid.UUID]bool{}
	taken := map[uuid.UUID]bool{}
	for _, e := range s.events {
		if e.PublishedAt != nil || blocked[e.LoadID] {
			continue
		}
		if e.NextAttemptAt.After(now) {
			blocked[e.LoadID] = true
			continue
		}
		if !taken[e.LoadID] {
			if len(taken) >= limit {
				blocked[e.LoadID] = true
				continue
			}
			taken[e.LoadID] = true
		}
		e.NextAttemptAt = now.Add(lease)
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) MarkEventPublished(ctx context.Context, id uint64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.findEvent(id)
	if e == nil {
		return &models.NotFoundError{Entity: "load event"}
	}
	t := at
	e.PublishedAt = &t
	e.LastError = nil
	return nil
}

func (s *Store) MarkEventFailed(ctx context.Context, id uint64, errText string, nextAttemptAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.findEvent(id)
	if e == nil {
		return &models.NotFoundError{Entity: "load event"}
	}
	e.PublishAttempts++
	e.LastError = &errText
	e.NextAttemptAt = nextAttemptAt
	return nil
}

func (s *Store) findEvent(id uint64) *models.LoadEvent {
	for _, e := range s.events {
		if e.ID == id {
			return e
		}
	}
	return nil
}

func (s *Store) InsertCreditIfAbsent(ctx context.Context, c models.CarbonCredit) (models.CarbonCredit, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.credits[c.LoadID]; ok {
		return *cur, false, nil
	}
	cp := c
	s.credits[c.LoadID] = &cp
	return c, true, nil
}

func (s *Store) GetCreditByLoadID(ctx context.Context, loadID uuid.UUID) (*models.CarbonCredit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.credits[loadID]
	if !ok {
		return nil, &models.NotFoundError{Entity: "carbon credit", ID: loadID.String()}
	}
	cp := *c
	return &cp, nil
}

func (s *Store) ListCreditsByUser(ctx context.Context, userID string) ([]*models.CarbonCredit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*models.CarbonCredit{}
	for _, c := range s.credits {
		if c.UserID == userID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].LoadID.String() < out[j].LoadID.String()
	})
	return out, nil
}

func sortByCreated(ls []*models.Load) {
	sort.Slice(ls, func(i, j int) bool {
		if !ls[i].CreatedAt.Equal(ls[j].CreatedAt) {
			return ls[i].CreatedAt.Before(ls[j].CreatedAt)
		}
		return ls[i].ID.String() < ls[j].ID.String()
	})
}

func page[T any](items []T, limit, offset int) []T {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
