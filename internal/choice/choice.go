package choice

import (
	"math"
	"math/rand"

	"github.com/transitworks/assign_core/internal/config"
	"github.com/transitworks/assign_core/internal/models"
)

// Chooser selects one path per traveler per round from the costed,
// overlap-corrected pathset.
type Chooser struct {
	mode       string
	dispersion float64
	rng        *rand.Rand
}

// NewChooser builds a chooser for the configured pathfinding mode and
// dispersion parameter. The seed makes stochastic runs reproducible.
func NewChooser(mode string, dispersion float64, seed int64) *Chooser {
	return &Chooser{
		mode:       mode,
		dispersion: dispersion,
		rng:        rand.New(rand.NewSource(seed)),
	}
}

// Probabilities fills each path's logit probability:
//
//	p_i = exp(-beta*cost_i + lnPS_i) / sum_j exp(-beta*cost_j + lnPS_j)
//
// Utilities are shifted by their maximum before exponentiating so
// large costs cannot underflow the whole set.
func (c *Chooser) Probabilities(ps *models.PathSet) {
	n := len(ps.Paths)
	if n == 0 {
		return
	}
	utils := make([]float64, n)
	maxU := math.Inf(-1)
	for i := range ps.Paths {
		utils[i] = -c.dispersion*ps.Paths[i].Cost + ps.Paths[i].LogPathSize
		if utils[i] > maxU {
			maxU = utils[i]
		}
	}
	sum := 0.0
	for i := range utils {
		utils[i] = math.Exp(utils[i] - maxU)
		sum += utils[i]
	}
	for i := range ps.Paths {
		if sum > 0 {
			ps.Paths[i].Probability = utils[i] / sum
		} else {
			ps.Paths[i].Probability = 0
		}
	}
}

// Choose computes probabilities and selects a path, marking it chosen
// and its siblings rejected. An empty set is left untouched.
func (c *Chooser) Choose(ps *models.PathSet) {
	if len(ps.Paths) == 0 {
		return
	}
	c.Probabilities(ps)

	pick := -1
	switch c.mode {
	case config.ModeDeterministic:
		pick = c.minCost(ps)
	case config.ModeReplay:
		// keep a previously chosen path when one survives
		if i := ps.Chosen(); i >= 0 {
			pick = i
		} else {
			pick = c.minCost(ps)
		}
	default: // stochastic
		pick = c.draw(ps)
	}

	for i := range ps.Paths {
		if i == pick {
			ps.Paths[i].Chosen = models.StatusChosen
		} else {
			ps.Paths[i].Chosen = models.StatusRejected
		}
	}
}

// ClearChoice resets every path in the set to unchosen, for travelers
// not selected this round.
func ClearChoice(ps *models.PathSet) {
	for i := range ps.Paths {
		ps.Paths[i].Chosen = models.StatusUnchosen
	}
}

func (c *Chooser) minCost(ps *models.PathSet) int {
	best := 0
	for i := 1; i < len(ps.Paths); i++ {
		if ps.Paths[i].Cost < ps.Paths[best].Cost {
			best = i
		}
	}
	return best
}

func (c *Chooser) draw(ps *models.PathSet) int {
	r := c.rng.Float64()
	acc := 0.0
	for i := range ps.Paths {
		acc += ps.Paths[i].Probability
		if r <= acc {
			return i
		}
	}
	return len(ps.Paths) - 1
}
