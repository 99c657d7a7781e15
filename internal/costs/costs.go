package costs

import (
	"fmt"
	"log"
	"math"

	"github.com/transitworks/assign_core/internal/config"
	"github.com/transitworks/assign_core/internal/models"
)

// ProhibitiveCost replaces the computed cost of a link that must never
// be chosen: a missed transfer or a boarding from a bumped iteration.
const ProhibitiveCost = 999999.0

// AnyMode matches every supply mode in a weight row.
const AnyMode = "*"

type weightKey struct {
	UserClass string
	Purpose   string
	LinkKind  models.LinkKind
	Mode      string
}

// Model turns raw per-link attributes into generalized costs using the
// configured weight table. Costing is a pure function of the link
// attributes and the table: recosting unchanged inputs yields
// identical results.
type Model struct {
	weights map[weightKey][]config.Weight
}

// NewModel indexes the weight rows for lookup by
// (user class, purpose, link kind, mode).
func NewModel(rows []config.Weight) *Model {
	m := &Model{weights: make(map[weightKey][]config.Weight)}
	for _, w := range rows {
		k := weightKey{
			UserClass: w.UserClass,
			Purpose:   w.Purpose,
			LinkKind:  models.LinkKind(w.LinkKind),
			Mode:      w.Mode,
		}
		m.weights[k] = append(m.weights[k], w)
	}
	return m
}

// Verify checks that every (user class, purpose) combination present
// in the demand has weight rows. Missing combinations abort the run
// before any round starts.
func (m *Model) Verify(demand []models.PersonTrip) error {
	type classPurpose struct{ class, purpose string }
	seen := make(map[classPurpose]bool)
	for i := range demand {
		seen[classPurpose{demand[i].UserClass, demand[i].Purpose}] = true
	}
	for cp := range seen {
		found := false
		for k := range m.weights {
			if k.UserClass == cp.class && k.Purpose == cp.purpose {
				found = true
				break
			}
		}
		if !found {
			return &config.ConfigError{Reason: fmt.Sprintf(
				"no weights configured for user class %q purpose %q", cp.class, cp.purpose)}
		}
	}
	return nil
}

// lookup returns the weight rows for a link, falling back to the
// wildcard mode.
func (m *Model) lookup(trip *models.PersonTrip, link *models.PathLink) ([]config.Weight, error) {
	k := weightKey{trip.UserClass, trip.Purpose, link.Kind, link.Mode}
	if rows, ok := m.weights[k]; ok {
		return rows, nil
	}
	k.Mode = AnyMode
	if rows, ok := m.weights[k]; ok {
		return rows, nil
	}
	return nil, &config.ConfigError{Reason: fmt.Sprintf(
		"no weight for user class %q purpose %q link kind %q mode %q",
		trip.UserClass, trip.Purpose, link.Kind, link.Mode)}
}

// LinkCost computes the generalized cost of one link for one traveler.
// A link with a missed transfer (negative wait after re-simulated
// timing) or a non-nil bump iteration is forced to ProhibitiveCost.
func (m *Model) LinkCost(trip *models.PersonTrip, link *models.PathLink) (float64, error) {
	if link.BumpIter != nil {
		return ProhibitiveCost, nil
	}
	if link.Kind == models.LinkTrip && wait(link) < 0 {
		return ProhibitiveCost, nil
	}
	rows, err := m.lookup(trip, link)
	if err != nil {
		return 0, err
	}
	total := 0.0
	for _, w := range rows {
		total += grow(w, attribute(link, w.Attribute))
	}
	if total < 0 {
		log.Printf("clamping negative cost %.4f to zero for trip %d link %s>%s",
			total, trip.ID, link.FromID, link.ToID)
		total = 0
	}
	return total, nil
}

// CostPathSet costs every link of every path in the set and sums link
// costs and fares into the path totals.
func (m *Model) CostPathSet(trip *models.PersonTrip, ps *models.PathSet) error {
	for i := range ps.Paths {
		p := &ps.Paths[i]
		p.Cost = 0
		p.Fare = 0
		for j := range p.Links {
			c, err := m.LinkCost(trip, &p.Links[j])
			if err != nil {
				return err
			}
			p.Links[j].Cost = c
			p.Cost += c
			p.Fare += p.Links[j].Fare
		}
	}
	return nil
}

// wait is the minutes spent waiting before the link departs; negative
// means the connection was missed under re-simulated timing.
func wait(link *models.PathLink) float64 {
	return link.DepartMin - link.ArriveMin
}

func attribute(link *models.PathLink, name string) float64 {
	switch name {
	case "time":
		return link.TimeMin
	case "fare":
		return link.Fare
	case "distance":
		return link.DistanceKM
	case "wait":
		return wait(link)
	}
	return 0
}

// grow applies the configured growth function f(weight, value).
func grow(w config.Weight, value float64) float64 {
	switch w.Growth {
	case "exponential":
		return (math.Pow(1+w.Value, value) - 1) / math.Log(1+w.Value)
	case "logarithmic":
		return w.Value * ((value+1)*math.Log(value+1) - value) / math.Log(w.LogBase)
	case "logistic":
		return (w.LogisticMax / w.Value) *
			(math.Log(math.Exp(w.Value*value)+math.Exp(w.Value*w.LogisticMid)) -
				math.Log(1+math.Exp(w.Value*w.LogisticMid)))
	default: // constant
		return w.Value * value
	}
}
