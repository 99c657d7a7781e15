package choice

import (
	"fmt"
	"math"

	"github.com/transitworks/assign_core/internal/config"
	"github.com/transitworks/assign_core/internal/models"
)

// pathSizeTolerance bounds the contract check on computed path sizes:
// exp(ln PS) must land in [0,1]; anything outside [-tol, 1+tol] is an
// estimator bug, not rounding noise.
const pathSizeTolerance = 1e-4

type linkKey struct {
	From string
	To   string
	Mode string
	Trip string // vehicle trip id; boarding a different vehicle is a different link
}

// LogPathSizes computes the path-size overlap correction for every
// path in one traveler's set. The sharing measure is one of
// none/count/distance/time; gamma is the configured scale parameter.
//
// For every link a of path i, the link's share l_a/L_i is discounted
// by the lengths of all paths j sharing that link:
//
//	PS_i = sum_a (l_a/L_i) / sum_j match(a,j) * (L_i/L_j)^gamma
//
// and the stored correction is ln(PS_i).
func LogPathSizes(ps *models.PathSet, variable string, gamma float64) error {
	if variable == config.OverlapNone {
		for i := range ps.Paths {
			ps.Paths[i].LogPathSize = 0
		}
		return nil
	}

	n := len(ps.Paths)
	totals := make([]float64, n)
	memberships := make([]map[linkKey]float64, n)
	for i := range ps.Paths {
		memberships[i] = make(map[linkKey]float64)
		for j := range ps.Paths[i].Links {
			l := &ps.Paths[i].Links[j]
			v := measure(l, variable)
			memberships[i][keyOf(l)] += v
			totals[i] += v
		}
	}

	for i := range ps.Paths {
		if totals[i] <= 0 {
			ps.Paths[i].LogPathSize = 0
			continue
		}
		size := 0.0
		for j := range ps.Paths[i].Links {
			l := &ps.Paths[i].Links[j]
			share := measure(l, variable) / totals[i]
			denom := 0.0
			for k := 0; k < n; k++ {
				if totals[k] <= 0 {
					continue
				}
				if _, shared := memberships[k][keyOf(l)]; shared {
					denom += math.Pow(totals[i]/totals[k], gamma)
				}
			}
			if denom > 0 {
				size += share / denom
			}
		}
		if size < -pathSizeTolerance || size > 1+pathSizeTolerance {
			return &models.ConsistencyError{Context: fmt.Sprintf(
				"trip %d path %d: path size %.6f outside [0,1]",
				ps.PersonTripID, i, size)}
		}
		if size > 1 {
			size = 1
		}
		if size <= 0 {
			// fully dominated path; make its correction prohibitive
			ps.Paths[i].LogPathSize = math.Inf(-1)
			continue
		}
		ps.Paths[i].LogPathSize = math.Log(size)
	}
	return nil
}

func keyOf(l *models.PathLink) linkKey {
	return linkKey{From: l.FromID, To: l.ToID, Mode: l.Mode, Trip: l.TripID}
}

func measure(l *models.PathLink, variable string) float64 {
	switch variable {
	case config.OverlapDistance:
		return l.DistanceKM
	case config.OverlapTime:
		return l.TimeMin
	default: // count
		return 1
	}
}
