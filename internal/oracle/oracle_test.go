package oracle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/transitworks/assign_core/internal/dispatch"
	"github.com/transitworks/assign_core/internal/models"
	"github.com/transitworks/assign_core/internal/network"
)

func schedule() []models.VehicleTripStop {
	return []models.VehicleTripStop{
		{TripID: "T1", StopSeq: 1, StopID: "S1", Mode: "bus",
			SchedArriveMin: 10, SchedDepartMin: 10, Capacity: 40},
		{TripID: "T1", StopSeq: 2, StopID: "S2", Mode: "bus",
			SchedArriveMin: 20, SchedDepartMin: 20, DistanceKM: 4, Capacity: 40},
		{TripID: "T2", StopSeq: 1, StopID: "S1", Mode: "bus",
			SchedArriveMin: 25, SchedDepartMin: 25, Capacity: 40},
		{TripID: "T2", StopSeq: 2, StopID: "S2", Mode: "bus",
			SchedArriveMin: 35, SchedDepartMin: 35, DistanceKM: 4, Capacity: 40},
	}
}

func connectors() []network.Connector {
	return []network.Connector{
		{Zone: "Z1", StopID: "S1", TimeMin: 5, DistanceKM: 0.4},
		{Zone: "Z2", StopID: "S2", TimeMin: 3, DistanceKM: 0.2},
	}
}

func snapshot(bumps *models.BumpRecordTable) *network.Snapshot {
	return network.NewSnapshot(schedule(), connectors(), nil, bumps, network.Params{
		TimeWindowMin: 60,
		MaxPaths:      5,
	})
}

func inbound(id int64) models.PersonTrip {
	return models.PersonTrip{
		ID: id, OriginZone: "Z1", DestZone: "Z2",
		Direction: models.DirInbound, PreferredMin: 0,
	}
}

func TestFindPathSetBasic(t *testing.T) {
	o := New()
	ps, telem, err := o.FindPathSet(context.Background(), inbound(1), snapshot(nil), dispatch.Options{})
	assert.NoError(t, err)
	assert.Equal(t, "ok", telem.Status)
	assert.Greater(t, telem.LabelIterations, 0)
	assert.Equal(t, int64(1), ps.PersonTripID)
	assert.Len(t, ps.Paths, 2) // one per departure

	p := ps.Paths[0]
	if assert.Len(t, p.Links, 3) {
		assert.Equal(t, models.LinkAccess, p.Links[0].Kind)
		assert.Equal(t, models.LinkTrip, p.Links[1].Kind)
		assert.Equal(t, models.LinkEgress, p.Links[2].Kind)

		// access leaves at the preferred departure time
		assert.Equal(t, 0.0, p.Links[0].SchedDepartMin)
		assert.Equal(t, 5.0, p.Links[0].SchedArriveMin)

		// the first path rides the earlier vehicle
		assert.Equal(t, "T1", p.Links[1].TripID)
		assert.Equal(t, 5.0, p.Links[1].SchedArriveMin)  // at the stop
		assert.Equal(t, 10.0, p.Links[1].SchedDepartMin) // vehicle leaves
		assert.Equal(t, 10.0, p.Links[1].TimeMin)

		assert.Equal(t, 20.0, p.Links[2].SchedDepartMin)
		assert.Equal(t, 23.0, p.Links[2].SchedArriveMin)
	}

	// distinct vehicles yield distinct descriptions
	assert.NotEqual(t, ps.Paths[0].Describe(), ps.Paths[1].Describe())
}

func TestFindPathSetSkipsKnownFullBoardings(t *testing.T) {
	bumps := models.NewBumpRecordTable()
	bumps.Record("T1", "S1", 3.0) // full for arrivals at or after minute 3

	o := New()
	ps, _, err := o.FindPathSet(context.Background(), inbound(2), snapshot(bumps), dispatch.Options{})
	assert.NoError(t, err)
	// the traveler reaches S1 at minute 5, so only T2 remains
	if assert.Len(t, ps.Paths, 1) {
		assert.Equal(t, "T2", ps.Paths[0].Links[1].TripID)
	}
}

func TestFindPathSetRespectsTimeWindow(t *testing.T) {
	snap := network.NewSnapshot(schedule(), connectors(), nil, nil, network.Params{
		TimeWindowMin: 8, // departures after minute 16 are out of reach
		MaxPaths:      5,
	})
	o := New()
	ps, _, err := o.FindPathSet(context.Background(), inbound(3), snap, dispatch.Options{})
	assert.NoError(t, err)
	if assert.Len(t, ps.Paths, 1) {
		assert.Equal(t, "T1", ps.Paths[0].Links[1].TripID)
	}
}

func TestFindPathSetNoAccess(t *testing.T) {
	o := New()
	trip := inbound(4)
	trip.OriginZone = "Z9"
	_, telem, err := o.FindPathSet(context.Background(), trip, snapshot(nil), dispatch.Options{})
	assert.Error(t, err)
	assert.Equal(t, "no_paths", telem.Status)
}

func TestFindPathSetOutboundWindow(t *testing.T) {
	o := New()
	trip := models.PersonTrip{
		ID: 5, OriginZone: "Z1", DestZone: "Z2",
		Direction: models.DirOutbound, PreferredMin: 25,
	}
	snap := network.NewSnapshot(schedule(), connectors(), nil, nil, network.Params{
		TimeWindowMin: 15,
		MaxPaths:      5,
	})
	ps, _, err := o.FindPathSet(context.Background(), trip, snap, dispatch.Options{})
	assert.NoError(t, err)
	// the search starts at 25-15=10, reaching S1 at 15 after T1 has
	// left; only T2 fits, and nothing may arrive after minute 40
	for _, p := range ps.Paths {
		last := p.Links[len(p.Links)-1]
		assert.LessOrEqual(t, last.SchedArriveMin, 40.0)
	}
	assert.NotEmpty(t, ps.Paths)
}

func TestFindPathSetTransfer(t *testing.T) {
	stops := append(schedule(),
		models.VehicleTripStop{TripID: "T3", StopSeq: 1, StopID: "S3", Mode: "bus",
			SchedArriveMin: 30, SchedDepartMin: 30, Capacity: 40},
		models.VehicleTripStop{TripID: "T3", StopSeq: 2, StopID: "S4", Mode: "bus",
			SchedArriveMin: 45, SchedDepartMin: 45, Capacity: 40},
	)
	conns := []network.Connector{
		{Zone: "Z1", StopID: "S1", TimeMin: 5},
		{Zone: "Z3", StopID: "S4", TimeMin: 2},
	}
	transfers := []network.Transfer{
		{FromStop: "S2", ToStop: "S3", TimeMin: 4},
	}
	snap := network.NewSnapshot(stops, conns, transfers, nil, network.Params{
		TimeWindowMin: 60,
		MaxPaths:      5,
	})

	trip := models.PersonTrip{
		ID: 6, OriginZone: "Z1", DestZone: "Z3",
		Direction: models.DirInbound, PreferredMin: 0,
	}
	o := New()
	ps, _, err := o.FindPathSet(context.Background(), trip, snap, dispatch.Options{})
	assert.NoError(t, err)
	assert.NotEmpty(t, ps.Paths)

	p := ps.Paths[0]
	kinds := make([]models.LinkKind, len(p.Links))
	for i := range p.Links {
		kinds[i] = p.Links[i].Kind
	}
	assert.Equal(t, []models.LinkKind{
		models.LinkAccess, models.LinkTrip, models.LinkTransfer,
		models.LinkTrip, models.LinkEgress,
	}, kinds)
}
