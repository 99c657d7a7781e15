package oracle

import (
	"container/heap"
	"context"
	"fmt"

	"github.com/transitworks/assign_core/internal/dispatch"
	"github.com/transitworks/assign_core/internal/models"
	"github.com/transitworks/assign_core/internal/network"
)

const (
	maxExploredLabels = 50000
	maxBoardings      = 3
	// revisitSlackMin lets a later-but-different label through so the
	// candidate set has route diversity instead of one best path
	revisitSlackMin = 10.0
)

// ScheduleOracle is the default in-process search implementation: a
// time-ordered label search over the frozen schedule snapshot. It
// honors the known-full boardings recorded by earlier rounds and
// returns up to MaxPaths distinct candidate paths.
type ScheduleOracle struct{}

// New returns a schedule oracle.
func New() *ScheduleOracle { return &ScheduleOracle{} }

var _ dispatch.Oracle = (*ScheduleOracle)(nil)

// FindPathSet searches for candidate paths for one traveler.
func (o *ScheduleOracle) FindPathSet(ctx context.Context, trip models.PersonTrip, snap *network.Snapshot, opts dispatch.Options) (*models.PathSet, dispatch.Telemetry, error) {
	telem := dispatch.Telemetry{Status: "no_paths"}

	startMin := trip.PreferredMin
	if trip.Direction == models.DirOutbound {
		startMin = trip.PreferredMin - snap.Params.TimeWindowMin
	}
	deadline := startMin + 2*snap.Params.TimeWindowMin

	open := &labelQueue{}
	heap.Init(open)

	for _, c := range snap.Access(trip.OriginZone) {
		l := walkLink(models.LinkAccess, c.Zone, c.StopID, startMin, c.TimeMin, c.DistanceKM)
		heap.Push(open, &label{
			stopID: c.StopID,
			time:   l.ArriveMin,
			links:  []models.PathLink{l},
		})
	}
	if open.Len() == 0 {
		return nil, telem, fmt.Errorf("origin zone %q has no access connectors", trip.OriginZone)
	}

	// dominance is tracked per (stop, last boarded trip) so journeys
	// riding different vehicles to the same stop both survive
	best := make(map[stopTrip]float64)
	seen := make(map[string]bool) // path descriptions already collected
	ps := &models.PathSet{PersonTripID: trip.ID}
	explored := 0

	for open.Len() > 0 && len(ps.Paths) < snap.Params.MaxPaths {
		select {
		case <-ctx.Done():
			return nil, telem, ctx.Err()
		default:
		}
		if explored > maxExploredLabels {
			break
		}
		cur := heap.Pop(open).(*label)
		explored++

		key := stopTrip{cur.stopID, cur.lastTrip}
		if b, ok := best[key]; ok && cur.time > b+revisitSlackMin {
			continue
		}
		if b, ok := best[key]; !ok || cur.time < b {
			best[key] = cur.time
		}

		// complete the journey when an egress connector reaches the
		// destination zone
		if cur.boardings > 0 {
			for _, c := range snap.Egress(cur.stopID) {
				if c.Zone != trip.DestZone {
					continue
				}
				links := append(append([]models.PathLink{}, cur.links...),
					walkLink(models.LinkEgress, cur.stopID, c.Zone, cur.time, c.TimeMin, c.DistanceKM))
				if trip.Direction == models.DirOutbound &&
					links[len(links)-1].ArriveMin > trip.PreferredMin+snap.Params.TimeWindowMin {
					continue
				}
				p := models.Path{Links: links}
				if desc := p.Describe(); !seen[desc] {
					seen[desc] = true
					ps.Paths = append(ps.Paths, p)
					if opts.Trace {
						fmt.Printf("trace trip %d: candidate %s arrives %.1f\n", trip.ID, desc, cur.time+c.TimeMin)
					}
				}
			}
		}

		if cur.boardings < maxBoardings {
			// board any departure from this stop inside the window
			for _, row := range snap.DeparturesFrom(cur.stopID) {
				if row.SchedDepartMin < cur.time || row.SchedDepartMin > deadline {
					continue
				}
				if snap.KnownFull(row.TripID, row.StopID, cur.time) {
					continue
				}
				for _, dest := range snap.TripStopsAfter(row.TripID, row.StopSeq) {
					l := models.PathLink{
						Kind:           models.LinkTrip,
						FromID:         row.StopID,
						ToID:           dest.StopID,
						Mode:           row.Mode,
						TripID:         row.TripID,
						BoardSeq:       row.StopSeq,
						AlightSeq:      dest.StopSeq,
						SchedArriveMin: cur.time,
						SchedDepartMin: row.SchedDepartMin,
						ArriveMin:      cur.time,
						DepartMin:      row.SchedDepartMin,
						TimeMin:        dest.SchedArriveMin - row.SchedDepartMin,
						DistanceKM:     dest.DistanceKM - row.DistanceKM,
					}
					heap.Push(open, &label{
						stopID:    dest.StopID,
						lastTrip:  row.TripID,
						time:      dest.SchedArriveMin,
						boardings: cur.boardings + 1,
						links:     append(append([]models.PathLink{}, cur.links...), l),
					})
				}
			}
		}

		// walk transfers
		if cur.boardings > 0 && cur.boardings < maxBoardings {
			for _, x := range snap.Transfers(cur.stopID) {
				l := walkLink(models.LinkTransfer, x.FromStop, x.ToStop, cur.time, x.TimeMin, x.DistanceKM)
				heap.Push(open, &label{
					stopID:    x.ToStop,
					lastTrip:  cur.lastTrip,
					time:      l.ArriveMin,
					boardings: cur.boardings,
					links:     append(append([]models.PathLink{}, cur.links...), l),
				})
			}
		}
	}

	telem.LabelIterations = explored
	if len(ps.Paths) == 0 {
		return nil, telem, fmt.Errorf("no path found for trip %d after %d labels", trip.ID, explored)
	}
	telem.Status = "ok"
	return ps, telem, nil
}

func walkLink(kind models.LinkKind, from, to string, startMin, timeMin, distKM float64) models.PathLink {
	return models.PathLink{
		Kind:           kind,
		FromID:         from,
		ToID:           to,
		Mode:           "walk",
		SchedDepartMin: startMin,
		SchedArriveMin: startMin + timeMin,
		DepartMin:      startMin,
		ArriveMin:      startMin + timeMin,
		TimeMin:        timeMin,
		DistanceKM:     distKM,
	}
}

// label is one partial journey during the search.
type label struct {
	stopID    string
	lastTrip  string // vehicle trip of the most recent boarding
	time      float64
	boardings int
	links     []models.PathLink
	index     int // for heap
}

type stopTrip struct {
	StopID string
	TripID string
}

// labelQueue implements heap.Interface ordered by clock time.
type labelQueue []*label

func (q labelQueue) Len() int            { return len(q) }
func (q labelQueue) Less(i, j int) bool  { return q[i].time < q[j].time }
func (q labelQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *labelQueue) Push(x interface{}) {
	l := x.(*label)
	l.index = len(*q)
	*q = append(*q, l)
}

func (q *labelQueue) Pop() interface{} {
	old := *q
	n := len(old)
	l := old[n-1]
	old[n-1] = nil
	l.index = -1
	*q = old[:n-1]
	return l
}
