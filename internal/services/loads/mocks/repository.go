package mocks

import (
	"context"
	"time"

	"github.com/BearBump/StubbleTrack/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) CreateLoad(ctx context.Context, l *models.Load) error {
	args := m.Called(ctx, l)
	return args.Error(0)
}

func (m *MockRepository) GetLoadByID(ctx context.Context, id uuid.UUID) (*models.Load, error) {
	args := m.Called(ctx, id)
	var l *models.Load
	if v := args.Get(0); v != nil {
		l = v.(*models.Load)
	}
	return l, args.Error(1)
}

func (m *MockRepository) UpdateLoadIfStatus(ctx context.Context, next *models.Load, expected models.LoadStatus, expectedUpdatedAt time.Time, ev *models.LoadEvent) error {
	args := m.Called(ctx, next, expected, expectedUpdatedAt, ev)
	return args.Error(0)
}

func (m *MockRepository) ListOpenLoadsInBound(ctx context.Context, b models.Bound, limit int) ([]*models.Load, error) {
	args := m.Called(ctx, b, limit)
	var out []*models.Load
	if v := args.Get(0); v != nil {
		out = v.([]*models.Load)
	}
	return out, args.Error(1)
}

func (m *MockRepository) ListLoadsByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*models.Load, error) {
	args := m.Called(ctx, ownerID, limit, offset)
	var out []*models.Load
	if v := args.Get(0); v != nil {
		out = v.([]*models.Load)
	}
	return out, args.Error(1)
}

func (m *MockRepository) ListLoadsByAgent(ctx context.Context, agentID string, limit, offset int) ([]*models.Load, error) {
	args := m.Called(ctx, agentID, limit, offset)
	var out []*models.Load
	if v := args.Get(0); v != nil {
		out = v.([]*models.Load)
	}
	return out, args.Error(1)
}

func (m *MockRepository) ListLoadEvents(ctx context.Context, loadID uuid.UUID, limit, offset int) ([]*models.LoadEvent, error) {
	args := m.Called(ctx, loadID, limit, offset)
	var out []*models.LoadEvent
	if v := args.Get(0); v != nil {
		out = v.([]*models.LoadEvent)
	}
	return out, args.Error(1)
}

type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) OnRecycled(ctx context.Context, load *models.Load) (models.CarbonCredit, error) {
	args := m.Called(ctx, load)
	return args.Get(0).(models.CarbonCredit), args.Error(1)
}

func (m *MockLedger) GetCredit(ctx context.Context, loadID uuid.UUID) (*models.CarbonCredit, error) {
	args := m.Called(ctx, loadID)
	var c *models.CarbonCredit
	if v := args.Get(0); v != nil {
		c = v.(*models.CarbonCredit)
	}
	return c, args.Error(1)
}

func (m *MockLedger) ListCredits(ctx context.Context, userID string) ([]*models.CarbonCredit, error) {
	args := m.Called(ctx, userID)
	var out []*models.CarbonCredit
	if v := args.Get(0); v != nil {
		out = v.([]*models.CarbonCredit)
	}
	return out, args.Error(1)
}

func (m *MockLedger) UserRewards(ctx context.Context, userID string) (models.RewardSummary, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(models.RewardSummary), args.Error(1)
}
