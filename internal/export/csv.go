package export

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/transitworks/assign_core/internal/assign"
	"github.com/transitworks/assign_core/internal/models"
)

// CSVWriter dumps the traveler path table and the vehicle load table
// after every pathfinding round. It implements assign.Observer; write
// errors are logged, not fatal, so a full disk never kills a run.
type CSVWriter struct {
	dir string
}

func NewCSVWriter(dir string) (*CSVWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output dir %s: %w", dir, err)
	}
	return &CSVWriter{dir: dir}, nil
}

var _ assign.Observer = (*CSVWriter)(nil)

func (w *CSVWriter) RoundDone(r assign.RoundReport) {
	name := fmt.Sprintf("paths_it%02d_round%02d.csv", r.Outer, r.Round)
	if err := w.writePaths(filepath.Join(w.dir, name), r.Sets); err != nil {
		log.Printf("export: %v", err)
	}
	name = fmt.Sprintf("vehicles_it%02d_round%02d.csv", r.Outer, r.Round)
	if err := w.writeVehicles(filepath.Join(w.dir, name), r.Vehicles.Stops); err != nil {
		log.Printf("export: %v", err)
	}
}

func (w *CSVWriter) IterationDone(assign.IterationReport) {}

func (w *CSVWriter) writePaths(path string, sets map[int64]*models.PathSet) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	defer cw.Flush()

	header := []string{
		"person_trip_id", "path_index", "chosen", "probability", "cost",
		"fare", "ln_path_size", "bumped", "description",
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	ids := make([]int64, 0, len(sets))
	for id := range sets {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		ps := sets[id]
		for i := range ps.Paths {
			p := &ps.Paths[i]
			row := []string{
				strconv.FormatInt(id, 10),
				strconv.Itoa(i),
				strconv.FormatBool(p.Chosen == models.StatusChosen),
				strconv.FormatFloat(p.Probability, 'f', 6, 64),
				strconv.FormatFloat(p.Cost, 'f', 4, 64),
				strconv.FormatFloat(p.Fare, 'f', 2, 64),
				strconv.FormatFloat(p.LogPathSize, 'f', 6, 64),
				strconv.FormatBool(p.Bumped()),
				p.Describe(),
			}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
	}
	return cw.Error()
}

func (w *CSVWriter) writeVehicles(path string, stops []models.VehicleTripStop) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	defer cw.Flush()

	header := []string{
		"trip_id", "stop_seq", "stop_id", "route", "mode",
		"sched_arrive_min", "sched_depart_min", "arrive_min", "depart_min",
		"capacity", "boards", "alights", "onboard", "overcap",
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for i := range stops {
		s := &stops[i]
		row := []string{
			s.TripID,
			strconv.Itoa(s.StopSeq),
			s.StopID,
			s.Route,
			s.Mode,
			strconv.FormatFloat(s.SchedArriveMin, 'f', 2, 64),
			strconv.FormatFloat(s.SchedDepartMin, 'f', 2, 64),
			strconv.FormatFloat(s.ArriveMin, 'f', 2, 64),
			strconv.FormatFloat(s.DepartMin, 'f', 2, 64),
			strconv.Itoa(s.Capacity),
			strconv.Itoa(s.Boards),
			strconv.Itoa(s.Alights),
			strconv.Itoa(s.Onboard),
			strconv.Itoa(s.Overcap),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	return cw.Error()
}
