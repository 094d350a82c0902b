package poller

import (
	"testing"
	"time"

	"github.com/BearBump/FreightTrack/internal/models"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type mockRand struct{ mock.Mock }

func (m *mockRand) Intn(n int) int { return m.Called(n).Int(0) }

type PlannerSuite struct {
	suite.Suite
	r *mockRand
	p *Planner
}

func (s *PlannerSuite) SetupTest() {
	s.r = &mockRand{}
	s.p = NewPlanner(PlannerConfig{}, s.r)
}

func (s *PlannerSuite) TestBackoffDelay() {
	s.Equal(5*time.Minute, s.p.BackoffDelay(1))
	s.Equal(15*time.Minute, s.p.BackoffDelay(2))
	s.Equal(30*time.Minute, s.p.BackoffDelay(3))
	s.Equal(60*time.Minute, s.p.BackoffDelay(4))
	s.Equal(60*time.Minute, s.p.BackoffDelay(100))
}

func (s *PlannerSuite) TestNextCheckDelay_Delivered() {
	s.Equal(365*24*time.Hour, s.p.NextCheckDelay(models.StatusDelivered))
	s.r.AssertNotCalled(s.T(), "Intn", mock.Anything)
}

func (s *PlannerSuite) TestNextCheckDelay_InTransitUsesRand() {
	// 30..120 минут: 5400 секунд разброса
	s.r.On("Intn", 5401).Return(600).Once()

	s.Equal(40*time.Minute, s.p.NextCheckDelay("EM ROTA DE ENTREGA"))
	s.r.AssertExpectations(s.T())
}

func (s *PlannerSuite) TestNextCheckDelay_Unknown() {
	s.Equal(90*time.Minute, s.p.NextCheckDelay(models.StatusUnknown))
	s.Equal(90*time.Minute, s.p.NextCheckDelay(""))
}

func (s *PlannerSuite) TestNextCheckDelay_FixedInTransit() {
	p := NewPlanner(PlannerConfig{InTransitMinDelay: time.Minute, InTransitMaxDelay: time.Second}, s.r)
	s.Equal(time.Minute, p.NextCheckDelay("X"))
}

func TestPlannerSuite(t *testing.T) {
	suite.Run(t, new(PlannerSuite))
}
