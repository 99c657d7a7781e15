package network

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/transitworks/assign_core/internal/models"
)

// Network bundles the loaded supply-side tables.
type Network struct {
	Stops      []models.VehicleTripStop
	Connectors []Connector
	Transfers  []Transfer
}

// LoadCSV reads the schedule, connector and transfer tables from flat
// CSV files in dir (vehicles.csv, connectors.csv, transfers.csv).
// Transfers are optional.
func LoadCSV(dir string) (*Network, error) {
	n := &Network{}

	stops, err := readCSV(dir+"/vehicles.csv", parseVehicleRow)
	if err != nil {
		return nil, fmt.Errorf("failed to load vehicle schedule: %w", err)
	}
	n.Stops = stops
	log.Printf("Loaded %d vehicle trip-stops", len(stops))

	conns, err := readCSV(dir+"/connectors.csv", parseConnectorRow)
	if err != nil {
		return nil, fmt.Errorf("failed to load connectors: %w", err)
	}
	n.Connectors = conns
	log.Printf("Loaded %d access/egress connectors", len(conns))

	if transfers, err := readCSV(dir+"/transfers.csv", parseTransferRow); err == nil {
		n.Transfers = transfers
		log.Printf("Loaded %d transfers", len(transfers))
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load transfers: %w", err)
	}

	return n, nil
}

// LoadPG loads the same tables from Postgres.
func LoadPG(ctx context.Context, pool *pgxpool.Pool) (*Network, error) {
	n := &Network{}

	rows, err := pool.Query(ctx, `
		SELECT trip_id, stop_seq, stop_id, route, mode,
		       arrive_min, depart_min, distance_km, capacity
		FROM vehicle_trip_stop
		ORDER BY trip_id, stop_seq
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query vehicle schedule: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var s models.VehicleTripStop
		if err := rows.Scan(&s.TripID, &s.StopSeq, &s.StopID, &s.Route, &s.Mode,
			&s.SchedArriveMin, &s.SchedDepartMin, &s.DistanceKM, &s.Capacity); err != nil {
			log.Printf("Warning: failed to scan vehicle row: %v", err)
			continue
		}
		n.Stops = append(n.Stops, s)
	}

	connRows, err := pool.Query(ctx, `
		SELECT zone, stop_id, time_min, distance_km FROM connector
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query connectors: %w", err)
	}
	defer connRows.Close()
	for connRows.Next() {
		var c Connector
		if err := connRows.Scan(&c.Zone, &c.StopID, &c.TimeMin, &c.DistanceKM); err != nil {
			log.Printf("Warning: failed to scan connector row: %v", err)
			continue
		}
		n.Connectors = append(n.Connectors, c)
	}

	xferRows, err := pool.Query(ctx, `
		SELECT from_stop, to_stop, time_min, distance_km FROM transfer
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query transfers: %w", err)
	}
	defer xferRows.Close()
	for xferRows.Next() {
		var t Transfer
		if err := xferRows.Scan(&t.FromStop, &t.ToStop, &t.TimeMin, &t.DistanceKM); err != nil {
			log.Printf("Warning: failed to scan transfer row: %v", err)
			continue
		}
		n.Transfers = append(n.Transfers, t)
	}

	log.Printf("Loaded %d trip-stops, %d connectors, %d transfers from database",
		len(n.Stops), len(n.Connectors), len(n.Transfers))
	return n, nil
}

func parseVehicleRow(rec []string, col map[string]int) (models.VehicleTripStop, error) {
	var s models.VehicleTripStop
	s.TripID = field(rec, col, "trip_id")
	s.StopID = field(rec, col, "stop_id")
	s.Route = field(rec, col, "route")
	s.Mode = field(rec, col, "mode")
	if s.TripID == "" || s.StopID == "" {
		return s, fmt.Errorf("missing trip_id or stop_id")
	}
	var err error
	if s.StopSeq, err = strconv.Atoi(field(rec, col, "stop_seq")); err != nil {
		return s, fmt.Errorf("bad stop_seq: %w", err)
	}
	if s.SchedArriveMin, err = strconv.ParseFloat(field(rec, col, "arrive_min"), 64); err != nil {
		return s, fmt.Errorf("bad arrive_min: %w", err)
	}
	if s.SchedDepartMin, err = strconv.ParseFloat(field(rec, col, "depart_min"), 64); err != nil {
		return s, fmt.Errorf("bad depart_min: %w", err)
	}
	s.DistanceKM, _ = strconv.ParseFloat(field(rec, col, "distance_km"), 64)
	if s.Capacity, err = strconv.Atoi(field(rec, col, "capacity")); err != nil {
		return s, fmt.Errorf("bad capacity: %w", err)
	}
	return s, nil
}

func parseConnectorRow(rec []string, col map[string]int) (Connector, error) {
	c := Connector{
		Zone:   field(rec, col, "zone"),
		StopID: field(rec, col, "stop_id"),
	}
	if c.Zone == "" || c.StopID == "" {
		return c, fmt.Errorf("missing zone or stop_id")
	}
	var err error
	if c.TimeMin, err = strconv.ParseFloat(field(rec, col, "time_min"), 64); err != nil {
		return c, fmt.Errorf("bad time_min: %w", err)
	}
	c.DistanceKM, _ = strconv.ParseFloat(field(rec, col, "distance_km"), 64)
	return c, nil
}

func parseTransferRow(rec []string, col map[string]int) (Transfer, error) {
	t := Transfer{
		FromStop: field(rec, col, "from_stop"),
		ToStop:   field(rec, col, "to_stop"),
	}
	if t.FromStop == "" || t.ToStop == "" {
		return t, fmt.Errorf("missing from_stop or to_stop")
	}
	var err error
	if t.TimeMin, err = strconv.ParseFloat(field(rec, col, "time_min"), 64); err != nil {
		return t, fmt.Errorf("bad time_min: %w", err)
	}
	t.DistanceKM, _ = strconv.ParseFloat(field(rec, col, "distance_km"), 64)
	return t, nil
}

// readCSV parses one header-mapped CSV file, skipping malformed rows
// with a warning.
func readCSV[T any](path string, parse func([]string, map[string]int) (T, error)) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	col := columnMap(header)

	var out []T
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Printf("Warning: skipping malformed row in %s: %v", path, err)
			continue
		}
		v, err := parse(rec, col)
		if err != nil {
			log.Printf("Warning: skipping row in %s: %v", path, err)
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

func columnMap(header []string) map[string]int {
	m := make(map[string]int, len(header))
	for i, h := range header {
		m[strings.TrimSpace(strings.ToLower(h))] = i
	}
	return m
}

func field(rec []string, col map[string]int, name string) string {
	if i, ok := col[name]; ok && i < len(rec) {
		return strings.TrimSpace(rec[i])
	}
	return ""
}
