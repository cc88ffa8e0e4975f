package relay

import (
	"testing"
	"time"

	relaymocks "github.com/BearBump/StubbleTrack/internal/services/relay/mocks"
	"github.com/stretchr/testify/suite"
)

type PlannerSuite struct {
	suite.Suite
}

func (s *PlannerSuite) TestBackoffDelay() {
	s.Equal(2*time.Second, BackoffDelay(0))
	s.Equal(2*time.Second, BackoffDelay(1))
	s.Equal(10*time.Second, BackoffDelay(2))
	s.Equal(1*time.Minute, BackoffDelay(3))
	s.Equal(5*time.Minute, BackoffDelay(4))
	s.Equal(5*time.Minute, BackoffDelay(100))
}

func (s *PlannerSuite) TestBackoffDelay_Jitter() {
	m := &relaymocks.Rand{}
	m.On("Intn", 4).Return(3).Once()

	p := NewPlanner(PlannerConfig{Jitter: 3 * time.Second}, m)
	s.Equal(5*time.Second, p.BackoffDelay(1))
	m.AssertExpectations(s.T())
}

func (s *PlannerSuite) TestBackoffDelay_NoJitterNoRand() {
	m := &relaymocks.Rand{}
	p := NewPlanner(PlannerConfig{Backoff1: time.Second}, m)
	s.Equal(time.Second, p.BackoffDelay(1))
	m.AssertNotCalled(s.T(), "Intn", 0)
}

func TestPlannerSuite(t *testing.T) {
	suite.Run(t, new(PlannerSuite))
}
