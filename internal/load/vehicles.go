package load

import (
	"fmt"
	"sort"

	"github.com/transitworks/assign_core/internal/models"
)

type tripSeq struct {
	TripID  string
	StopSeq int
}

// VehicleTable holds the full vehicle schedule with per-stop loading
// state, indexed by vehicle trip and stop sequence. Owned and mutated
// exclusively by the single-threaded loader.
type VehicleTable struct {
	Stops  []models.VehicleTripStop
	byTrip map[string][]int // indices ordered by stop sequence
	bySeq  map[tripSeq]int
}

// NewVehicleTable indexes a schedule. Rows are sorted by
// (trip, stop sequence); estimated times start at the scheduled times.
func NewVehicleTable(stops []models.VehicleTripStop) (*VehicleTable, error) {
	t := &VehicleTable{
		Stops:  append([]models.VehicleTripStop(nil), stops...),
		byTrip: make(map[string][]int),
		bySeq:  make(map[tripSeq]int),
	}
	sort.SliceStable(t.Stops, func(i, j int) bool {
		if t.Stops[i].TripID != t.Stops[j].TripID {
			return t.Stops[i].TripID < t.Stops[j].TripID
		}
		return t.Stops[i].StopSeq < t.Stops[j].StopSeq
	})
	for i := range t.Stops {
		s := &t.Stops[i]
		if s.StopID == "" || s.TripID == "" {
			return nil, &models.ConsistencyError{Context: fmt.Sprintf(
				"vehicle table row %d: missing trip or stop id", i)}
		}
		if s.ArriveMin == 0 && s.SchedArriveMin != 0 {
			s.ArriveMin = s.SchedArriveMin
		}
		if s.DepartMin == 0 && s.SchedDepartMin != 0 {
			s.DepartMin = s.SchedDepartMin
		}
		k := tripSeq{s.TripID, s.StopSeq}
		if _, dup := t.bySeq[k]; dup {
			return nil, &models.ConsistencyError{Context: fmt.Sprintf(
				"vehicle table: duplicate (trip %s, seq %d)", s.TripID, s.StopSeq)}
		}
		t.bySeq[k] = i
		t.byTrip[s.TripID] = append(t.byTrip[s.TripID], i)
	}
	return t, nil
}

// At returns the stop cell for (trip, stop sequence).
func (t *VehicleTable) At(tripID string, seq int) (*models.VehicleTripStop, bool) {
	i, ok := t.bySeq[tripSeq{tripID, seq}]
	if !ok {
		return nil, false
	}
	return &t.Stops[i], true
}

// TripStops returns the trip's stop cells in sequence order.
func (t *VehicleTable) TripStops(tripID string) []*models.VehicleTripStop {
	idx := t.byTrip[tripID]
	out := make([]*models.VehicleTripStop, len(idx))
	for i, j := range idx {
		out[i] = &t.Stops[j]
	}
	return out
}

// TripIDs returns the trips in deterministic order.
func (t *VehicleTable) TripIDs() []string {
	ids := make([]string, 0, len(t.byTrip))
	for id := range t.byTrip {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// resetCounts zeroes the loading counters on every stop cell.
func (t *VehicleTable) resetCounts() {
	for i := range t.Stops {
		s := &t.Stops[i]
		s.Boards = 0
		s.Alights = 0
		s.Onboard = 0
		s.Overcap = -s.Capacity
	}
}

// accumulate computes the cumulative onboard and overcapacity counts
// along every trip's stop sequence. Boards minus alights, cumulatively
// summed, must equal onboard at every stop.
func (t *VehicleTable) accumulate() {
	for _, idx := range t.byTrip {
		onboard := 0
		for _, i := range idx {
			s := &t.Stops[i]
			onboard += s.Boards - s.Alights
			s.Onboard = onboard
			s.Overcap = onboard - s.Capacity
		}
	}
}
