package dispatch

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/transitworks/assign_core/internal/config"
	"github.com/transitworks/assign_core/internal/models"
	"github.com/transitworks/assign_core/internal/network"
)

// minTasksPerWorker caps the worker count so each worker handles a
// useful amount of work; tiny scopes run single-threaded.
const minTasksPerWorker = 3

// idleTrip marks a worker with no task in flight. Any non-negative
// value is a valid traveler id, so the sentinel sits outside the id
// space.
const idleTrip int64 = -1

// Options select the oracle's search behavior for one call.
type Options struct {
	Hyperpath bool
	Trace     bool
}

// Telemetry is the per-traveler search report the oracle returns.
// Opaque to the dispatcher; forwarded for reporting.
type Telemetry struct {
	Status          string
	LabelIterations int
	Elapsed         time.Duration
	AllocBytes      uint64
}

// Oracle is the external path search: given one traveler and a frozen
// network snapshot, it returns that traveler's candidate pathset.
type Oracle interface {
	FindPathSet(ctx context.Context, trip models.PersonTrip, snap *network.Snapshot, opts Options) (*models.PathSet, Telemetry, error)
}

// Failure records one traveler who received no path this round, with
// the worker that was processing it. Non-fatal: the traveler is
// retried next round.
type Failure struct {
	TripID   int64
	WorkerID int
	Err      error
}

// result is the typed message a worker pushes back. Exactly one of
// the variants is set; done and crashed are per-worker terminal
// messages.
type result struct {
	kind     resultKind
	workerID int
	tripID   int64
	pathset  *models.PathSet
	telem    Telemetry
	err      error
}

type resultKind int

const (
	kindPathSet resultKind = iota
	kindFailure
	kindDone
	kindCrashed
)

// Dispatcher fans traveler search requests out to the oracle, either
// synchronously or across a worker pool.
type Dispatcher struct {
	oracle Oracle
	cfg    config.Run
}

// New builds a dispatcher around an oracle.
func New(oracle Oracle, cfg config.Run) *Dispatcher {
	return &Dispatcher{oracle: oracle, cfg: cfg}
}

// FindPaths runs one pathfinding round over the scope. Results are
// keyed by traveler id and invariant to worker completion order.
// Worker and oracle failures are contained to their traveler and
// returned, never raised.
func (d *Dispatcher) FindPaths(ctx context.Context, scope []models.PersonTrip, snap *network.Snapshot) (map[int64]*models.PathSet, map[int64]Telemetry, []Failure, error) {
	sets := make(map[int64]*models.PathSet, len(scope))
	telemetry := make(map[int64]Telemetry, len(scope))
	var failures []Failure

	if len(scope) == 0 {
		return sets, telemetry, failures, nil
	}

	workers := d.cfg.Workers()
	if max := len(scope) / minTasksPerWorker; workers > max {
		workers = max
	}
	if workers < 2 {
		// single-threaded mode
		for _, trip := range scope {
			if err := ctx.Err(); err != nil {
				return sets, telemetry, failures, err
			}
			ps, telem, err := d.callOracle(ctx, trip, snap)
			telemetry[trip.ID] = telem
			if err != nil {
				failures = append(failures, Failure{TripID: trip.ID, Err: err})
				continue
			}
			sets[trip.ID] = ps
		}
		return sets, telemetry, failures, nil
	}

	tasks := make(chan models.PersonTrip)
	results := make(chan result, workers*2)
	inProgress := make([]atomic.Int64, workers)

	for w := 0; w < workers; w++ {
		inProgress[w].Store(idleTrip)
		go d.worker(ctx, w, snap, tasks, results, &inProgress[w])
	}

	go func() {
		defer close(tasks)
		for _, trip := range scope {
			select {
			case tasks <- trip:
			case <-ctx.Done():
				return
			}
		}
	}()

	// drain until every worker has reported done or crashed
	finished := 0
	for finished < workers {
		r := <-results
		switch r.kind {
		case kindPathSet:
			sets[r.tripID] = r.pathset
			telemetry[r.tripID] = r.telem
		case kindFailure:
			telemetry[r.tripID] = r.telem
			failures = append(failures, Failure{TripID: r.tripID, WorkerID: r.workerID, Err: r.err})
		case kindDone:
			finished++
		case kindCrashed:
			finished++
			if r.tripID != idleTrip {
				log.Printf("pathfinding worker %d died while processing trip %d; trip will be retried next round", r.workerID, r.tripID)
				failures = append(failures, Failure{TripID: r.tripID, WorkerID: r.workerID, Err: r.err})
			} else {
				log.Printf("pathfinding worker %d died while idle", r.workerID)
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return sets, telemetry, failures, err
	}
	return sets, telemetry, failures, nil
}

// worker pulls one task at a time until the channel closes, then
// reports done. A panic escaping the call loop is reported as a crash
// with the last in-progress traveler.
func (d *Dispatcher) worker(ctx context.Context, id int, snap *network.Snapshot, tasks <-chan models.PersonTrip, results chan<- result, current *atomic.Int64) {
	defer func() {
		if r := recover(); r != nil {
			results <- result{
				kind:     kindCrashed,
				workerID: id,
				tripID:   current.Load(),
				err:      fmt.Errorf("worker panic: %v", r),
			}
			return
		}
		results <- result{kind: kindDone, workerID: id}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case trip, ok := <-tasks:
			if !ok {
				return
			}
			current.Store(trip.ID)
			ps, telem, err := d.callOracle(ctx, trip, snap)
			if err != nil {
				results <- result{kind: kindFailure, workerID: id, tripID: trip.ID, telem: telem, err: err}
			} else {
				results <- result{kind: kindPathSet, workerID: id, tripID: trip.ID, pathset: ps, telem: telem}
			}
			current.Store(idleTrip)
		}
	}
}

// callOracle invokes the oracle with panic containment: a panicking
// call is converted into a per-traveler failure.
func (d *Dispatcher) callOracle(ctx context.Context, trip models.PersonTrip, snap *network.Snapshot) (ps *models.PathSet, telem Telemetry, err error) {
	defer func() {
		if r := recover(); r != nil {
			ps = nil
			err = fmt.Errorf("oracle panic for trip %d: %v", trip.ID, r)
		}
	}()
	start := time.Now()
	ps, telem, err = d.oracle.FindPathSet(ctx, trip, snap, Options{
		Hyperpath: d.cfg.Hyperpath,
		Trace:     trip.Trace,
	})
	telem.Elapsed = time.Since(start)
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	telem.AllocBytes = ms.Alloc
	if err != nil {
		return nil, telem, fmt.Errorf("oracle failed for trip %d: %w", trip.ID, err)
	}
	return ps, telem, nil
}
