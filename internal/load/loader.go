package load

import (
	"fmt"
	"sort"

	"github.com/transitworks/assign_core/internal/config"
	"github.com/transitworks/assign_core/internal/models"
)

// Loader loads chosen paths onto the vehicle schedule and iteratively
// evicts excess boardings until the schedule is capacity-feasible.
// Single-threaded; owns the vehicle table and the bump record table
// for the duration of a run.
type Loader struct {
	cfg      config.Run
	vehicles *VehicleTable
	bumps    *models.BumpRecordTable
	bumpIter int
}

// Result summarizes one invocation of the pass loop.
type Result struct {
	Passes int
	Bumped int // travelers newly bumped across all passes
}

// NewLoader builds a loader over the schedule. The bump record table
// is run-scoped state passed in by the controller.
func NewLoader(cfg config.Run, vehicles *VehicleTable, bumps *models.BumpRecordTable) *Loader {
	return &Loader{cfg: cfg, vehicles: vehicles, bumps: bumps}
}

// Vehicles exposes the mutated schedule for export.
func (ld *Loader) Vehicles() *VehicleTable { return ld.vehicles }

// boarder is one traveler attempting one boarding.
type boarder struct {
	set  *models.PathSet
	path int
	link int
}

// Load runs the capacity pass loop over the currently chosen paths
// until no trip-stop is over capacity. It mutates board states, bump
// iterations, link times and the vehicle loading counters, and
// appends to the bump record table.
func (ld *Loader) Load(demand map[int64]*models.PersonTrip, sets map[int64]*models.PathSet) (Result, error) {
	if err := ld.checkConsistency(sets); err != nil {
		return Result{}, err
	}

	var res Result
	for {
		res.Passes++

		// 1-2. aggregate boards/alights and cumulative onboard
		ld.vehicles.resetCounts()
		active := ld.activeBoarders(sets)
		for _, b := range active {
			l := &b.set.Paths[b.path].Links[b.link]
			if cell, ok := ld.vehicles.At(l.TripID, l.BoardSeq); ok {
				cell.Boards++
			}
			if cell, ok := ld.vehicles.At(l.TripID, l.AlightSeq); ok {
				cell.Alights++
			}
		}
		ld.vehicles.accumulate()

		if !ld.cfg.CapacityEnforced {
			for _, b := range active {
				b.set.Paths[b.path].Links[b.link].BoardState = models.BoardEasy
			}
			return res, nil
		}

		// 3. re-derive link times from the updated vehicle state and
		// classify the easy cases
		newBumps := 0
		overCapacity := false
		for _, b := range active {
			if err := ld.updatePathTimes(&b.set.Paths[b.path]); err != nil {
				return res, err
			}
			l := &b.set.Paths[b.path].Links[b.link]
			cell, ok := ld.vehicles.At(l.TripID, l.BoardSeq)
			if !ok {
				return res, &models.ConsistencyError{Context: fmt.Sprintf(
					"trip %d: chosen boarding references unknown (trip %s, seq %d)",
					b.set.PersonTripID, l.TripID, l.BoardSeq)}
			}
			if wait, known := ld.bumps.Lookup(l.TripID, cell.StopID); known && l.ArriveMin >= wait {
				// the boarding was already full before this traveler
				// ever chose it
				ld.stamp(l, models.BumpedUnchosen)
				ld.bumps.Record(l.TripID, cell.StopID, l.ArriveMin)
				newBumps++
				continue
			}
			switch {
			case cell.Overcap < 0:
				l.BoardState = models.BoardEasy
			case cell.Overcap == 0:
				l.BoardState = models.Boarded
			default:
				overCapacity = true
			}
		}

		if !overCapacity && newBumps == 0 {
			return res, nil
		}

		// 4-5. pick the contested stops and run the boarding contest
		for _, sel := range ld.selectStops() {
			newBumps += ld.resolveStop(sel, sets)
		}

		// 6. a bumped trip link invalidates its whole path
		for _, ps := range sets {
			ld.propagate(ps)
		}

		res.Bumped += newBumps
		if newBumps == 0 {
			return res, nil
		}
		ld.bumpIter++
	}
}

// activeBoarders collects the trip links of every chosen, not-yet-
// bumped path, in deterministic traveler order.
func (ld *Loader) activeBoarders(sets map[int64]*models.PathSet) []boarder {
	ids := make([]int64, 0, len(sets))
	for id := range sets {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []boarder
	for _, id := range ids {
		ps := sets[id]
		ci := ps.Chosen()
		if ci < 0 {
			continue
		}
		p := &ps.Paths[ci]
		if p.Bumped() {
			continue
		}
		for _, li := range p.TripLinks() {
			out = append(out, boarder{set: ps, path: ci, link: li})
		}
	}
	return out
}

// checkConsistency fails fast on impossible input states rather than
// loading them.
func (ld *Loader) checkConsistency(sets map[int64]*models.PathSet) error {
	for _, ps := range sets {
		if err := ps.Validate(); err != nil {
			return err
		}
		ci := ps.Chosen()
		if ci < 0 {
			continue
		}
		p := &ps.Paths[ci]
		if len(p.TripLinks()) == 0 && p.Bumped() {
			return &models.ConsistencyError{Context: fmt.Sprintf(
				"trip %d: chosen path has no trip links but carries a bump iteration",
				ps.PersonTripID)}
		}
	}
	return nil
}

// updatePathTimes walks the path's links in order, re-deriving clock
// times from the current vehicle state. A vehicle departing before the
// traveler reaches the stop shows up as a negative wait on the trip
// link, which the cost model treats as a missed transfer.
func (ld *Loader) updatePathTimes(p *models.Path) error {
	if len(p.Links) == 0 {
		return nil
	}
	t := p.Links[0].SchedDepartMin
	for i := range p.Links {
		l := &p.Links[i]
		if l.Kind != models.LinkTrip {
			l.DepartMin = t
			l.ArriveMin = t + l.TimeMin
			t = l.ArriveMin
			continue
		}
		board, ok := ld.vehicles.At(l.TripID, l.BoardSeq)
		if !ok {
			return &models.ConsistencyError{Context: fmt.Sprintf(
				"path references unknown boarding (trip %s, seq %d)", l.TripID, l.BoardSeq)}
		}
		alight, ok := ld.vehicles.At(l.TripID, l.AlightSeq)
		if !ok {
			return &models.ConsistencyError{Context: fmt.Sprintf(
				"path references unknown alighting (trip %s, seq %d)", l.TripID, l.AlightSeq)}
		}
		l.ArriveMin = t // traveler ready to board
		l.DepartMin = board.DepartMin
		l.TimeMin = alight.ArriveMin - board.DepartMin
		t = alight.ArriveMin
	}
	return nil
}

// selectStops picks the over-capacity stops to resolve this pass:
// the single globally earliest-arriving one when bumping one at a
// time, otherwise the earliest per vehicle trip.
func (ld *Loader) selectStops() []tripSeq {
	var selected []tripSeq
	if ld.cfg.BumpOneAtATime {
		best := tripSeq{}
		bestArrive := 0.0
		found := false
		for _, tripID := range ld.vehicles.TripIDs() {
			for _, s := range ld.vehicles.TripStops(tripID) {
				if s.Overcap <= 0 {
					continue
				}
				if !found || s.ArriveMin < bestArrive {
					best = tripSeq{s.TripID, s.StopSeq}
					bestArrive = s.ArriveMin
					found = true
				}
			}
		}
		if found {
			selected = append(selected, best)
		}
		return selected
	}
	for _, tripID := range ld.vehicles.TripIDs() {
		for _, s := range ld.vehicles.TripStops(tripID) {
			if s.Overcap > 0 {
				selected = append(selected, tripSeq{s.TripID, s.StopSeq})
				break
			}
		}
	}
	return selected
}

// resolveStop ranks the travelers attempting to board at one
// over-capacity stop and admits them up to the residual capacity.
// Ranking: arrival-at-stop ascending, then scheduled stop arrival
// descending, then traveler id descending, so later-arriving
// duplicates lose ties.
func (ld *Loader) resolveStop(sel tripSeq, sets map[int64]*models.PathSet) int {
	cell, ok := ld.vehicles.At(sel.TripID, sel.StopSeq)
	if !ok {
		return 0
	}
	var contenders []boarder
	for _, b := range ld.activeBoarders(sets) {
		l := &b.set.Paths[b.path].Links[b.link]
		if l.TripID == sel.TripID && l.BoardSeq == sel.StopSeq {
			contenders = append(contenders, b)
		}
	}
	sort.SliceStable(contenders, func(i, j int) bool {
		li := &contenders[i].set.Paths[contenders[i].path].Links[contenders[i].link]
		lj := &contenders[j].set.Paths[contenders[j].path].Links[contenders[j].link]
		if li.ArriveMin != lj.ArriveMin {
			return li.ArriveMin < lj.ArriveMin
		}
		if li.SchedArriveMin != lj.SchedArriveMin {
			return li.SchedArriveMin > lj.SchedArriveMin
		}
		return contenders[i].set.PersonTripID > contenders[j].set.PersonTripID
	})

	residual := cell.Capacity - (cell.Onboard - cell.Boards)
	if residual < 0 {
		residual = 0
	}
	bumped := 0
	for i, b := range contenders {
		l := &b.set.Paths[b.path].Links[b.link]
		if i < residual {
			l.BoardState = models.Boarded
			continue
		}
		ld.stamp(l, models.Bumped)
		ld.bumps.Record(l.TripID, cell.StopID, l.ArriveMin)
		bumped++
	}
	return bumped
}

// stamp marks a link bumped with the current bump iteration.
func (ld *Loader) stamp(l *models.PathLink, state models.BoardState) {
	iter := ld.bumpIter
	l.BoardState = state
	l.BumpIter = &iter
}

// propagate copies a freshly stamped bump iteration onto every other
// link of the same path, recategorizing still-boardable links as
// bumped on another trip.
func (ld *Loader) propagate(ps *models.PathSet) {
	for pi := range ps.Paths {
		p := &ps.Paths[pi]
		iter := -1
		for li := range p.Links {
			l := &p.Links[li]
			if l.Kind == models.LinkTrip && l.BumpIter != nil &&
				(l.BoardState == models.Bumped || l.BoardState == models.BumpedUnchosen) &&
				*l.BumpIter == ld.bumpIter {
				iter = *l.BumpIter
				break
			}
		}
		if iter < 0 {
			continue
		}
		for li := range p.Links {
			l := &p.Links[li]
			if l.BumpIter == nil {
				v := iter
				l.BumpIter = &v
			}
			if l.Kind == models.LinkTrip {
				switch l.BoardState {
				case models.BoardUnset, models.BoardEasy, models.Boarded:
					l.BoardState = models.BumpedOtherTrip
				}
			}
		}
	}
}
