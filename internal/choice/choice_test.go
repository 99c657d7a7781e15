package choice

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/transitworks/assign_core/internal/config"
	"github.com/transitworks/assign_core/internal/models"
)

func twoPathSet(costA, costB float64) *models.PathSet {
	return &models.PathSet{PersonTripID: 1, Paths: []models.Path{
		{Cost: costA}, {Cost: costB},
	}}
}

func TestProbabilitiesLogit(t *testing.T) {
	c := NewChooser(config.ModeDeterministic, 1.0, 0)
	ps := twoPathSet(10, 12)
	c.Probabilities(ps)

	// p = exp(-10) / (exp(-10) + exp(-12)) = 1 / (1 + exp(-2))
	assert.InDelta(t, 0.8808, ps.Paths[0].Probability, 1e-4)
	assert.InDelta(t, 0.1192, ps.Paths[1].Probability, 1e-4)
	assert.InDelta(t, 1.0, ps.Paths[0].Probability+ps.Paths[1].Probability, 1e-12)
}

func TestProbabilitiesLargeCosts(t *testing.T) {
	// naive exponentiation would underflow both terms to zero
	c := NewChooser(config.ModeDeterministic, 1.0, 0)
	ps := twoPathSet(5000, 5002)
	c.Probabilities(ps)
	assert.InDelta(t, 0.8808, ps.Paths[0].Probability, 1e-4)
	assert.InDelta(t, 0.1192, ps.Paths[1].Probability, 1e-4)
}

func TestProbabilitiesOverlapCorrection(t *testing.T) {
	c := NewChooser(config.ModeDeterministic, 1.0, 0)
	ps := twoPathSet(10, 10)
	ps.Paths[1].LogPathSize = math.Log(0.5)
	c.Probabilities(ps)
	// the overlapped path counts at half strength
	assert.InDelta(t, 2.0/3.0, ps.Paths[0].Probability, 1e-9)
	assert.InDelta(t, 1.0/3.0, ps.Paths[1].Probability, 1e-9)
}

func TestChooseDeterministic(t *testing.T) {
	c := NewChooser(config.ModeDeterministic, 1.0, 0)
	ps := twoPathSet(12, 10)
	c.Choose(ps)
	assert.Equal(t, models.StatusRejected, ps.Paths[0].Chosen)
	assert.Equal(t, models.StatusChosen, ps.Paths[1].Chosen)
}

func TestChooseReplayKeepsSurvivor(t *testing.T) {
	c := NewChooser(config.ModeReplay, 1.0, 0)
	ps := twoPathSet(10, 12)
	ps.Paths[1].Chosen = models.StatusChosen
	c.Choose(ps)
	// the previously chosen path survives even though it costs more
	assert.Equal(t, 1, ps.Chosen())

	ClearChoice(ps)
	c.Choose(ps)
	// with no survivor, replay falls back to the cheapest path
	assert.Equal(t, 0, ps.Chosen())
}

func TestChooseStochasticReproducible(t *testing.T) {
	a := NewChooser(config.ModeStochastic, 1.0, 42)
	b := NewChooser(config.ModeStochastic, 1.0, 42)
	for i := 0; i < 20; i++ {
		psA := twoPathSet(10, 10.5)
		psB := twoPathSet(10, 10.5)
		a.Choose(psA)
		b.Choose(psB)
		assert.Equal(t, psA.Chosen(), psB.Chosen())
		assert.GreaterOrEqual(t, psA.Chosen(), 0)
	}
}

func TestChooseEmptySet(t *testing.T) {
	c := NewChooser(config.ModeDeterministic, 1.0, 0)
	ps := &models.PathSet{PersonTripID: 9}
	c.Choose(ps)
	assert.Equal(t, -1, ps.Chosen())
}
