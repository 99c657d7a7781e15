package models

// BumpRecordTable is the run-scoped record of known-full boardings:
// for each (vehicle trip, stop) where travelers were bumped, the
// earliest time a bumped traveler began waiting there. The next
// pathfinding round's oracle calls read it so they do not re-offer
// infeasible boardings.
//
// Lifecycle: created fresh at run start, appended after each bumping
// pass, read-only to the dispatcher. Owned by the single-threaded
// iteration controller; never shared across runs.
type BumpRecordTable struct {
	waits map[bumpKey]float64
}

type bumpKey struct {
	TripID string
	StopID string
}

// NewBumpRecordTable returns an empty table.
func NewBumpRecordTable() *BumpRecordTable {
	return &BumpRecordTable{waits: make(map[bumpKey]float64)}
}

// Record notes that a bumped traveler began waiting at (trip, stop) at
// waitMin. Deduplicated by (trip, stop), keeping the earliest time.
func (t *BumpRecordTable) Record(tripID, stopID string, waitMin float64) {
	k := bumpKey{TripID: tripID, StopID: stopID}
	if cur, ok := t.waits[k]; !ok || waitMin < cur {
		t.waits[k] = waitMin
	}
}

// Lookup returns the earliest bumped-wait time at (trip, stop), if any.
func (t *BumpRecordTable) Lookup(tripID, stopID string) (float64, bool) {
	v, ok := t.waits[bumpKey{TripID: tripID, StopID: stopID}]
	return v, ok
}

// Len returns the number of distinct (trip, stop) entries.
func (t *BumpRecordTable) Len() int { return len(t.waits) }

// Reset clears the table for a new run.
func (t *BumpRecordTable) Reset() {
	t.waits = make(map[bumpKey]float64)
}
