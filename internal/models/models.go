package models

import "fmt"

// Direction indicates which end of the trip the preferred time anchors
type Direction string

const (
	// DirOutbound trips target an arrival time at the destination
	DirOutbound Direction = "outbound"
	// DirInbound trips target a departure time at the origin
	DirInbound Direction = "inbound"
)

// LinkKind classifies one leg of a path
type LinkKind string

const (
	LinkAccess   LinkKind = "access"
	LinkEgress   LinkKind = "egress"
	LinkTransfer LinkKind = "transfer"
	LinkTrip     LinkKind = "trip"
)

// ChosenStatus is the selection state of a Path within its PathSet.
// The values are ordered: chosen compares greater than rejected, which
// compares greater than unchosen.
type ChosenStatus int8

const (
	StatusUnchosen ChosenStatus = iota
	StatusRejected
	StatusChosen
)

func (s ChosenStatus) String() string {
	switch s {
	case StatusChosen:
		return "chosen"
	case StatusRejected:
		return "rejected"
	default:
		return "unchosen"
	}
}

// BoardState is the per-pass boarding outcome of a trip link.
// BoardUnset means no loading pass has classified the link yet.
type BoardState int8

const (
	BoardUnset BoardState = iota
	BoardEasy             // boarded with slack capacity remaining
	Boarded               // boarded, vehicle exactly at capacity
	Bumped                // lost the boarding contest at an over-capacity stop
	BumpedOtherTrip       // a sibling link of the same path was bumped
	BumpedUnchosen        // chose a boarding already known to be full
)

func (b BoardState) String() string {
	switch b {
	case BoardEasy:
		return "board_easy"
	case Boarded:
		return "boarded"
	case Bumped:
		return "bumped"
	case BumpedOtherTrip:
		return "bumped_othertrip"
	case BumpedUnchosen:
		return "bumped_unchosen"
	default:
		return "unset"
	}
}

// IsBumped reports whether the state is any of the bumped variants.
func (b BoardState) IsBumped() bool {
	return b == Bumped || b == BumpedOtherTrip || b == BumpedUnchosen
}

// PersonTrip is one travel request. Immutable once created; the core
// only reads it.
type PersonTrip struct {
	ID            int64
	OriginZone    string
	DestZone      string
	Direction     Direction
	PreferredMin  float64 // preferred clock time, minutes after midnight
	UserClass     string
	Purpose       string
	ValueOfTime   float64
	Trace         bool
}

// PathLink is one leg of a candidate path. Times are minutes after
// midnight. Trip links additionally reference a vehicle trip and carry
// the mutable board state.
type PathLink struct {
	Kind      LinkKind
	FromID    string // stop or zone id
	ToID      string
	Mode      string

	TripID    string // vehicle trip, trip links only
	BoardSeq  int    // in-trip stop sequence at boarding
	AlightSeq int

	SchedArriveMin float64
	SchedDepartMin float64
	ArriveMin      float64 // estimated, updated by the loader
	DepartMin      float64
	TimeMin        float64 // link travel time
	Fare           float64
	DistanceKM     float64

	Cost float64 // generalized cost, set by the cost model

	BoardState BoardState
	BumpIter   *int // nil = never bumped
}

// Path is one candidate within a PathSet.
type Path struct {
	Links       []PathLink
	Cost        float64
	Fare        float64
	LogPathSize float64 // ln PS overlap correction
	Probability float64
	Chosen      ChosenStatus
}

// Describe returns a canonical description of the path: the ordered
// link sequence keyed by kind, endpoints and vehicle trip. Two paths
// with equal descriptions board the same vehicles at the same stops.
func (p *Path) Describe() string {
	desc := ""
	for i := range p.Links {
		l := &p.Links[i]
		if i > 0 {
			desc += " "
		}
		if l.Kind == LinkTrip {
			desc += fmt.Sprintf("%s:%s>%s@%s", l.Kind, l.FromID, l.ToID, l.TripID)
		} else {
			desc += fmt.Sprintf("%s:%s>%s", l.Kind, l.FromID, l.ToID)
		}
	}
	return desc
}

// TripLinks returns the indices of the path's trip-kind links.
func (p *Path) TripLinks() []int {
	var idx []int
	for i := range p.Links {
		if p.Links[i].Kind == LinkTrip {
			idx = append(idx, i)
		}
	}
	return idx
}

// Bumped reports whether any link of the path carries a bump iteration.
func (p *Path) Bumped() bool {
	for i := range p.Links {
		if p.Links[i].BumpIter != nil {
			return true
		}
	}
	return false
}

// PathSet is the candidate-path collection owned by one PersonTrip for
// one pathfinding round. Replaced wholesale whenever the oracle is
// invoked for the traveler.
type PathSet struct {
	PersonTripID int64
	Paths        []Path
}

// Chosen returns the index of the chosen path, or -1.
func (ps *PathSet) Chosen() int {
	for i := range ps.Paths {
		if ps.Paths[i].Chosen == StatusChosen {
			return i
		}
	}
	return -1
}

// Validate checks the single-chosen-path and bump-state invariants.
func (ps *PathSet) Validate() error {
	chosen := 0
	for i := range ps.Paths {
		p := &ps.Paths[i]
		if p.Chosen == StatusChosen {
			chosen++
		}
		for j := range p.Links {
			l := &p.Links[j]
			if l.BoardState == Bumped && l.BumpIter == nil {
				return &ConsistencyError{Context: fmt.Sprintf(
					"trip %d path %d link %d: board state bumped without bump iteration",
					ps.PersonTripID, i, j)}
			}
		}
	}
	if chosen > 1 {
		return &ConsistencyError{Context: fmt.Sprintf(
			"trip %d: %d paths marked chosen", ps.PersonTripID, chosen)}
	}
	return nil
}

// VehicleTripStop is one (vehicle trip, stop sequence) cell of the
// schedule. Mutated by every loading pass.
type VehicleTripStop struct {
	TripID    string
	StopSeq   int
	StopID    string
	Route     string
	Mode      string

	SchedArriveMin float64
	SchedDepartMin float64
	ArriveMin      float64 // updated by re-simulation
	DepartMin      float64
	DistanceKM     float64

	Capacity int
	Boards   int
	Alights  int
	Onboard  int
	Overcap  int // Onboard - Capacity; negative means slack
}

// ConsistencyError reports an invariant violation in the shared
// traveler/vehicle tables. Always fatal to the run.
type ConsistencyError struct {
	Context string
}

func (e *ConsistencyError) Error() string {
	return "data consistency error: " + e.Context
}
