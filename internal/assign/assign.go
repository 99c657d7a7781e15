package assign

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/transitworks/assign_core/internal/choice"
	"github.com/transitworks/assign_core/internal/config"
	"github.com/transitworks/assign_core/internal/costs"
	"github.com/transitworks/assign_core/internal/dispatch"
	"github.com/transitworks/assign_core/internal/load"
	"github.com/transitworks/assign_core/internal/models"
	"github.com/transitworks/assign_core/internal/network"
)

// RoundReport describes one pathfinding round for observers.
type RoundReport struct {
	Outer      int
	Round      int
	ScopeSize  int
	PathsFound int
	Failures   int
	Bumped     int
	Duration   time.Duration
	Sets       map[int64]*models.PathSet
	Vehicles   *load.VehicleTable
	Telemetry  map[int64]dispatch.Telemetry
}

// IterationReport describes one completed outer iteration.
type IterationReport struct {
	Outer       int
	Arrived     int
	Missed      int
	Changed     int
	CapacityGap float64
}

// Observer receives progress callbacks during a run. Callbacks fire on
// the controller goroutine; observers must not mutate the tables they
// are handed.
type Observer interface {
	RoundDone(RoundReport)
	IterationDone(IterationReport)
}

// NopObserver ignores every callback.
type NopObserver struct{}

func (NopObserver) RoundDone(RoundReport)         {}
func (NopObserver) IterationDone(IterationReport) {}

// MultiObserver fans callbacks out to several observers.
type MultiObserver []Observer

func (m MultiObserver) RoundDone(r RoundReport) {
	for _, o := range m {
		o.RoundDone(r)
	}
}

func (m MultiObserver) IterationDone(r IterationReport) {
	for _, o := range m {
		o.IterationDone(r)
	}
}

// Result is the outcome of a full assignment run.
type Result struct {
	Iterations  int     `json:"iterations"`
	CapacityGap float64 `json:"capacity_gap"`
	Arrived     int     `json:"arrived"`
	Missed      int     `json:"missed"`
	DemandSize  int     `json:"demand_size"`
	PathsFound  int     `json:"paths_found"`
	Failures    int     `json:"failures"`

	Sets     map[int64]*models.PathSet `json:"-"`
	Vehicles *load.VehicleTable        `json:"-"`
}

// Controller drives the outer convergence loop: pathfinding rounds,
// costing, path choice and capacity loading until the share of
// travelers with unstable or missing journeys drops under the
// configured gap.
type Controller struct {
	cfg     *config.Config
	model   *costs.Model
	chooser *choice.Chooser
	oracle  dispatch.Oracle
	obs     Observer
}

// New validates the configuration and builds a controller. A nil
// observer gets the no-op one.
func New(cfg *config.Config, oracle dispatch.Oracle, obs Observer) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if obs == nil {
		obs = NopObserver{}
	}
	return &Controller{
		cfg:     cfg,
		model:   costs.NewModel(cfg.Weights),
		chooser: choice.NewChooser(cfg.Run.PathfindingMode, cfg.Run.Dispersion, cfg.Run.RandomSeed),
		oracle:  oracle,
		obs:     obs,
	}, nil
}

// Run executes the assignment over the given demand and network.
// Configuration and consistency errors abort the run; per-traveler
// search failures are retried on the next round and reported in the
// result.
func (c *Controller) Run(ctx context.Context, demand []models.PersonTrip, net *network.Network) (*Result, error) {
	if err := c.model.Verify(demand); err != nil {
		return nil, err
	}
	vehicles, err := load.NewVehicleTable(net.Stops)
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]*models.PersonTrip, len(demand))
	for i := range demand {
		byID[demand[i].ID] = &demand[i]
	}

	bumps := models.NewBumpRecordTable()
	loader := load.NewLoader(c.cfg.Run, vehicles, bumps)
	dispatcher := dispatch.New(c.oracle, c.cfg.Run)

	res := &Result{
		DemandSize: len(demand),
		Sets:       make(map[int64]*models.PathSet, len(demand)),
		Vehicles:   vehicles,
	}
	prevChosen := make(map[int64]string)

	for outer := 1; outer <= c.cfg.Run.MaxOuterIterations; outer++ {
		res.Iterations = outer

		for round := 1; round <= c.cfg.Run.MaxPathfindingIterations; round++ {
			scope := c.scope(demand, res.Sets, outer == 1 && round == 1)
			if len(scope) == 0 {
				break
			}

			snap := network.NewSnapshot(vehicles.Stops, net.Connectors, net.Transfers, bumps, network.Params{
				TimeWindowMin: c.cfg.Run.TimeWindowMin,
				Dispersion:    c.cfg.Run.Dispersion,
				MaxPaths:      c.cfg.Run.MaxPaths,
				Hyperpath:     c.cfg.Run.Hyperpath,
			})

			started := time.Now()
			found, telemetry, failures, err := dispatcher.FindPaths(ctx, scope, snap)
			if err != nil {
				return nil, err
			}
			res.Failures += len(failures)
			if len(found) == 0 {
				log.Printf("iteration %d round %d: no new paths for %d travelers, stopping rounds",
					outer, round, len(scope))
				break
			}
			inScope := make(map[int64]bool, len(scope))
			for _, trip := range scope {
				inScope[trip.ID] = true
			}
			for id, ps := range found {
				res.Sets[id] = ps
			}
			res.PathsFound = len(res.Sets)

			if err := c.evaluate(res.Sets, byID, inScope); err != nil {
				return nil, err
			}

			report := RoundReport{
				Outer:      outer,
				Round:      round,
				ScopeSize:  len(scope),
				PathsFound: len(found),
				Failures:   len(failures),
				Duration:   time.Since(started),
				Sets:       res.Sets,
				Vehicles:   vehicles,
				Telemetry:  telemetry,
			}
			if c.cfg.Run.SimulationEnabled {
				lr, err := loader.Load(byID, res.Sets)
				if err != nil {
					return nil, err
				}
				report.Bumped = lr.Bumped
			}
			c.obs.RoundDone(report)
		}

		arrived, missed, changed := c.tally(demand, res.Sets, prevChosen)
		res.Arrived, res.Missed = arrived, missed
		res.CapacityGap = float64(changed+missed) / float64(max(len(demand), 1))

		c.obs.IterationDone(IterationReport{
			Outer:       outer,
			Arrived:     arrived,
			Missed:      missed,
			Changed:     changed,
			CapacityGap: res.CapacityGap,
		})
		log.Printf("iteration %d: arrived=%d missed=%d changed=%d gap=%.4f",
			outer, arrived, missed, changed, res.CapacityGap)

		if res.CapacityGap < c.cfg.Run.ConvergenceGap {
			break
		}
	}
	return res, nil
}

// scope returns the travelers to search this round: everyone on the
// very first round, later only those without a usable chosen path.
func (c *Controller) scope(demand []models.PersonTrip, sets map[int64]*models.PathSet, all bool) []models.PersonTrip {
	if all {
		return demand
	}
	var out []models.PersonTrip
	for _, trip := range demand {
		if !arrivedIn(sets[trip.ID]) {
			out = append(out, trip)
		}
	}
	return out
}

// evaluate re-costs and recomputes probabilities over the full
// accumulated path table so they reflect every known alternative.
// Selection is narrower: travelers searched this round get their
// statuses reset and a fresh choice; everyone else keeps an existing
// valid choice and is re-chosen only when it has been invalidated.
func (c *Controller) evaluate(sets map[int64]*models.PathSet, byID map[int64]*models.PersonTrip, inScope map[int64]bool) error {
	for id, ps := range sets {
		trip := byID[id]
		if trip == nil {
			return &models.ConsistencyError{Context: "path table references unknown traveler"}
		}
		if err := c.model.CostPathSet(trip, ps); err != nil {
			return err
		}
		if err := choice.LogPathSizes(ps, c.cfg.Run.OverlapVariable, c.cfg.Run.OverlapScaleParameter); err != nil {
			return err
		}
		c.chooser.Probabilities(ps)
		if inScope[id] {
			choice.ClearChoice(ps)
		}
		if !arrivedIn(ps) {
			c.chooser.Choose(ps)
		}
	}
	return nil
}

// tally counts travelers with a usable chosen path (arrived), those
// holding a pathset but no usable choice (missed), and those whose
// chosen path differs from the previous iteration's (changed).
// Travelers the search never served count as neither, so
// missed = paths found - arrived.
func (c *Controller) tally(demand []models.PersonTrip, sets map[int64]*models.PathSet, prevChosen map[int64]string) (arrived, missed, changed int) {
	for _, trip := range demand {
		ps := sets[trip.ID]
		if ps == nil {
			delete(prevChosen, trip.ID)
			continue
		}
		if !arrivedIn(ps) {
			missed++
			delete(prevChosen, trip.ID)
			continue
		}
		arrived++
		desc := ps.Paths[ps.Chosen()].Describe()
		if prev, ok := prevChosen[trip.ID]; ok && prev != desc {
			changed++
		}
		prevChosen[trip.ID] = desc
	}
	return arrived, missed, changed
}

// arrivedIn reports whether a traveler holds a chosen, unbumped path.
func arrivedIn(ps *models.PathSet) bool {
	if ps == nil {
		return false
	}
	i := ps.Chosen()
	return i >= 0 && !ps.Paths[i].Bumped()
}

// ErrNoDemand is returned by RunAll when the demand table is empty.
var ErrNoDemand = errors.New("assign: empty demand table")

// RunAll is the convenience entry point used by the CLI and API: it
// refuses empty demand and otherwise delegates to Run.
func (c *Controller) RunAll(ctx context.Context, demand []models.PersonTrip, net *network.Network) (*Result, error) {
	if len(demand) == 0 {
		return nil, ErrNoDemand
	}
	return c.Run(ctx, demand, net)
}
