package demand

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

// LoadCSV reads the person-trip list from a flat CSV file. Expected
// columns: person_trip_id, origin_zone, dest_zone, direction,
// preferred_min, user_class, purpose, value_of_time, trace.
func LoadCSV(path string) ([]models.PersonTrip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open demand file: %w", err)
	}
	defer f.Close()
	return parse(f, path)
}

func parse(r io.Reader, name string) ([]models.PersonTrip, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.TrimSpace(strings.ToLower(h))] = i
	}
	get := func(rec []string, name string) string {
		if i, ok := col[name]; ok && i < len(rec) {
			return strings.TrimSpace(rec[i])
		}
		return ""
	}

	var trips []models.PersonTrip
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Printf("Warning: skipping malformed demand row in %s: %v", name, err)
			continue
		}
		id, err := strconv.ParseInt(get(rec, "person_trip_id"), 10, 64)
		if err != nil || id < 0 {
			log.Printf("Warning: skipping demand row with bad person_trip_id %q", get(rec, "person_trip_id"))
			continue
		}
		preferred, err := strconv.ParseFloat(get(rec, "preferred_min"), 64)
		if err != nil {
			log.Printf("Warning: skipping demand row %d with bad preferred_min: %v", id, err)
			continue
		}
		dir := models.Direction(get(rec, "direction"))
		if dir != models.DirOutbound && dir != models.DirInbound {
			log.Printf("Warning: skipping demand row %d with bad direction %q", id, dir)
			continue
		}
		vot, _ := strconv.ParseFloat(get(rec, "value_of_time"), 64)
		trips = append(trips, models.PersonTrip{
			ID:           id,
			OriginZone:   get(rec, "origin_zone"),
			DestZone:     get(rec, "dest_zone"),
			Direction:    dir,
			PreferredMin: preferred,
			UserClass:    get(rec, "user_class"),
			Purpose:      get(rec, "purpose"),
			ValueOfTime:  vot,
			Trace:        get(rec, "trace") == "true" || get(rec, "trace") == "1",
		})
	}
	log.Printf("Loaded %d person-trips from %s", len(trips), name)
	return trips, nil
}

// LoadPG reads the person-trip list from Postgres.
func LoadPG(ctx context.Context, pool *pgxpool.Pool) ([]models.PersonTrip, error) {
	rows, err := pool.Query(ctx, `
		SELECT person_trip_id, origin_zone, dest_zone, direction,
		       preferred_min, user_class, purpose, value_of_time, trace
		FROM person_trip
		ORDER BY person_trip_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query demand: %w", err)
	}
	defer rows.Close()

	var trips []models.PersonTrip
	for rows.Next() {
		var t models.PersonTrip
		var dir string
		if err := rows.Scan(&t.ID, &t.OriginZone, &t.DestZone, &dir,
			&t.PreferredMin, &t.UserClass, &t.Purpose, &t.ValueOfTime, &t.Trace); err != nil {
			log.Printf("Warning: failed to scan demand row: %v", err)
			continue
		}
		t.Direction = models.Direction(dir)
		if t.ID < 0 {
			log.Printf("Warning: skipping demand row with negative person_trip_id %d", t.ID)
			continue
		}
		trips = append(trips, t)
	}
	log.Printf("Loaded %d person-trips from database", len(trips))
	return trips, nil
}
