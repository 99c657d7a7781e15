package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/transitworks/assign_core/internal/config"
	"github.com/transitworks/assign_core/internal/models"
	"github.com/transitworks/assign_core/internal/network"
)

// scriptedOracle fails or panics for scripted traveler ids and returns
// a one-path set for everyone else.
type scriptedOracle struct {
	failOn  map[int64]bool
	panicOn map[int64]bool
}

func (o *scriptedOracle) FindPathSet(ctx context.Context, trip models.PersonTrip, snap *network.Snapshot, opts Options) (*models.PathSet, Telemetry, error) {
	if o.panicOn[trip.ID] {
		panic(fmt.Sprintf("scripted panic for trip %d", trip.ID))
	}
	if o.failOn[trip.ID] {
		return nil, Telemetry{Status: "no_paths"}, errors.New("scripted failure")
	}
	return &models.PathSet{
		PersonTripID: trip.ID,
		Paths:        []models.Path{{Links: []models.PathLink{{Kind: models.LinkAccess}}}},
	}, Telemetry{Status: "ok", LabelIterations: 1}, nil
}

func scope(n int) []models.PersonTrip {
	trips := make([]models.PersonTrip, n)
	for i := range trips {
		trips[i] = models.PersonTrip{ID: int64(i + 1)}
	}
	return trips
}

func emptySnapshot() *network.Snapshot {
	return network.NewSnapshot(nil, nil, nil, nil, network.Params{MaxPaths: 3})
}

func TestFindPathsSingleThreaded(t *testing.T) {
	// two travelers cannot feed a pool; the dispatcher runs inline
	d := New(&scriptedOracle{}, config.Run{WorkerCount: 8})
	sets, telem, failures, err := d.FindPaths(context.Background(), scope(2), emptySnapshot())
	assert.NoError(t, err)
	assert.Empty(t, failures)
	assert.Len(t, sets, 2)
	assert.Equal(t, "ok", telem[1].Status)
	assert.Equal(t, int64(2), sets[2].PersonTripID)
}

func TestFindPathsWorkerPool(t *testing.T) {
	d := New(&scriptedOracle{}, config.Run{WorkerCount: 4})
	trips := scope(40)
	sets, telem, failures, err := d.FindPaths(context.Background(), trips, emptySnapshot())
	assert.NoError(t, err)
	assert.Empty(t, failures)
	assert.Len(t, sets, 40)
	assert.Len(t, telem, 40)
	for _, trip := range trips {
		if assert.NotNil(t, sets[trip.ID]) {
			assert.Equal(t, trip.ID, sets[trip.ID].PersonTripID)
		}
	}
}

func TestFindPathsContainsFailures(t *testing.T) {
	oracle := &scriptedOracle{failOn: map[int64]bool{5: true, 17: true}}
	d := New(oracle, config.Run{WorkerCount: 4})
	sets, _, failures, err := d.FindPaths(context.Background(), scope(40), emptySnapshot())
	assert.NoError(t, err)
	assert.Len(t, sets, 38)
	assert.Len(t, failures, 2)
	failed := map[int64]bool{}
	for _, f := range failures {
		failed[f.TripID] = true
		assert.Error(t, f.Err)
	}
	assert.True(t, failed[5])
	assert.True(t, failed[17])
}

func TestFindPathsContainsPanics(t *testing.T) {
	oracle := &scriptedOracle{panicOn: map[int64]bool{9: true}}
	d := New(oracle, config.Run{WorkerCount: 4})
	sets, _, failures, err := d.FindPaths(context.Background(), scope(40), emptySnapshot())
	assert.NoError(t, err)
	// the panicking call costs exactly one traveler
	assert.Len(t, sets, 39)
	if assert.Len(t, failures, 1) {
		assert.Equal(t, int64(9), failures[0].TripID)
	}
}

func TestFindPathsEmptyScope(t *testing.T) {
	d := New(&scriptedOracle{}, config.Run{WorkerCount: 4})
	sets, telem, failures, err := d.FindPaths(context.Background(), nil, emptySnapshot())
	assert.NoError(t, err)
	assert.Empty(t, sets)
	assert.Empty(t, telem)
	assert.Empty(t, failures)
}

// gateOracle blocks inside the search until released, so a test can
// inspect worker state mid-flight.
type gateOracle struct {
	entered chan struct{}
	release chan struct{}
}

func (o *gateOracle) FindPathSet(ctx context.Context, trip models.PersonTrip, snap *network.Snapshot, opts Options) (*models.PathSet, Telemetry, error) {
	o.entered <- struct{}{}
	<-o.release
	return &models.PathSet{PersonTripID: trip.ID}, Telemetry{Status: "ok"}, nil
}

func TestWorkerTracksTripZeroInProgress(t *testing.T) {
	oracle := &gateOracle{entered: make(chan struct{}), release: make(chan struct{})}
	d := New(oracle, config.Run{WorkerCount: 1})

	tasks := make(chan models.PersonTrip, 1)
	results := make(chan result, 4)
	var current atomic.Int64
	current.Store(idleTrip)
	go d.worker(context.Background(), 0, emptySnapshot(), tasks, results, &current)

	// id 0 is a legal traveler id and must register as in progress,
	// distinguishable from the idle sentinel
	tasks <- models.PersonTrip{ID: 0}
	<-oracle.entered
	assert.Equal(t, int64(0), current.Load())
	assert.NotEqual(t, idleTrip, current.Load())
	close(oracle.release)

	r := <-results
	assert.Equal(t, kindPathSet, r.kind)
	assert.Equal(t, int64(0), r.tripID)

	close(tasks)
	r = <-results
	assert.Equal(t, kindDone, r.kind)
	assert.Equal(t, idleTrip, current.Load())
}

func TestFindPathsCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := New(&scriptedOracle{}, config.Run{WorkerCount: 1})
	_, _, _, err := d.FindPaths(ctx, scope(2), emptySnapshot())
	assert.ErrorIs(t, err, context.Canceled)
}
