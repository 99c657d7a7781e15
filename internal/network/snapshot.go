package network

import (
	"sort"

	"github.com/transitworks/assign_core/internal/models"
)

// Connector is a walk link between a demand zone and a stop, usable
// for access at the origin and egress at the destination.
type Connector struct {
	Zone       string
	StopID     string
	TimeMin    float64
	DistanceKM float64
}

// Transfer is a walk link between two stops.
type Transfer struct {
	FromStop   string
	ToStop     string
	TimeMin    float64
	DistanceKM float64
}

// Params are the scalar search parameters handed to the oracle with
// the snapshot.
type Params struct {
	TimeWindowMin float64
	Dispersion    float64
	MaxPaths      int
	Hyperpath     bool
}

// Snapshot is the frozen network state a pathfinding round reads:
// vehicle schedule arrays, walk connectivity, the known-full boardings
// from previous rounds, and the scalar search parameters. Workers
// share it read-only; nothing here is mutated after construction.
type Snapshot struct {
	Params Params

	stops     []models.VehicleTripStop
	byTrip    map[string][]int
	byStop    map[string][]int // departures indexed by stop id
	access    map[string][]Connector
	egress    map[string][]Connector // keyed by stop id
	transfers map[string][]Transfer

	fullBoardings map[string]float64 // tripID|stopID -> earliest bumped wait
}

// NewSnapshot freezes the schedule, walk links and bump records for
// one pathfinding round.
func NewSnapshot(stops []models.VehicleTripStop, connectors []Connector, transfers []Transfer,
	bumps *models.BumpRecordTable, params Params) *Snapshot {

	s := &Snapshot{
		Params:        params,
		stops:         append([]models.VehicleTripStop(nil), stops...),
		byTrip:        make(map[string][]int),
		byStop:        make(map[string][]int),
		access:        make(map[string][]Connector),
		egress:        make(map[string][]Connector),
		transfers:     make(map[string][]Transfer),
		fullBoardings: make(map[string]float64),
	}
	sort.SliceStable(s.stops, func(i, j int) bool {
		if s.stops[i].TripID != s.stops[j].TripID {
			return s.stops[i].TripID < s.stops[j].TripID
		}
		return s.stops[i].StopSeq < s.stops[j].StopSeq
	})
	for i := range s.stops {
		row := &s.stops[i]
		s.byTrip[row.TripID] = append(s.byTrip[row.TripID], i)
		s.byStop[row.StopID] = append(s.byStop[row.StopID], i)
	}
	for _, c := range connectors {
		s.access[c.Zone] = append(s.access[c.Zone], c)
		s.egress[c.StopID] = append(s.egress[c.StopID], c)
	}
	for _, t := range transfers {
		s.transfers[t.FromStop] = append(s.transfers[t.FromStop], t)
	}
	if bumps != nil {
		for i := range s.stops {
			row := &s.stops[i]
			if wait, ok := bumps.Lookup(row.TripID, row.StopID); ok {
				s.fullBoardings[row.TripID+"|"+row.StopID] = wait
			}
		}
	}
	return s
}

// Access returns the walk connectors leaving a zone.
func (s *Snapshot) Access(zone string) []Connector { return s.access[zone] }

// Egress returns the walk connectors from a stop to zones.
func (s *Snapshot) Egress(stopID string) []Connector { return s.egress[stopID] }

// Transfers returns the walk transfers leaving a stop.
func (s *Snapshot) Transfers(stopID string) []Transfer { return s.transfers[stopID] }

// DeparturesFrom returns the schedule rows departing a stop.
func (s *Snapshot) DeparturesFrom(stopID string) []*models.VehicleTripStop {
	idx := s.byStop[stopID]
	out := make([]*models.VehicleTripStop, len(idx))
	for i, j := range idx {
		out[i] = &s.stops[j]
	}
	return out
}

// TripStopsAfter returns the rows of a trip strictly after the given
// stop sequence, in order.
func (s *Snapshot) TripStopsAfter(tripID string, seq int) []*models.VehicleTripStop {
	var out []*models.VehicleTripStop
	for _, i := range s.byTrip[tripID] {
		if s.stops[i].StopSeq > seq {
			out = append(out, &s.stops[i])
		}
	}
	return out
}

// KnownFull reports whether boarding (trip, stop) at arriveMin is
// already known infeasible from earlier rounds' bumping.
func (s *Snapshot) KnownFull(tripID, stopID string, arriveMin float64) bool {
	wait, ok := s.fullBoardings[tripID+"|"+stopID]
	return ok && arriveMin >= wait
}
