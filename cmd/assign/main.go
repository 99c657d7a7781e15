package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/transitworks/assign_core/internal/assign"
	"github.com/transitworks/assign_core/internal/config"
	"github.com/transitworks/assign_core/internal/db"
	"github.com/transitworks/assign_core/internal/demand"
	"github.com/transitworks/assign_core/internal/export"
	"github.com/transitworks/assign_core/internal/metrics"
	"github.com/transitworks/assign_core/internal/models"
	"github.com/transitworks/assign_core/internal/network"
	"github.com/transitworks/assign_core/internal/oracle"
)

func main() {
	// Command-line flags
	configPath := flag.String("config", "", "Path to run configuration YAML (required)")
	demandCSV := flag.String("demand", "", "Path to person trip CSV (CSV mode)")
	networkDir := flag.String("network", "", "Directory with vehicles/connectors/transfers CSVs (CSV mode)")
	fromDB := flag.Bool("from-db", false, "Load demand and network from Postgres (DATABASE_URL)")
	outputDir := flag.String("output", "", "Directory for per-round CSV exports (default $OUTPUT_DIR)")
	publish := flag.Bool("publish", false, "Publish round summaries to NATS ($NATS_URL)")

	flag.Parse()

	if *configPath == "" || (!*fromDB && (*demandCSV == "" || *networkDir == "")) {
		fmt.Println("Usage: assign --config=<run.yaml> (--demand=<trips.csv> --network=<dir> | --from-db) [--output=<dir>] [--publish]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	infra := config.LoadInfra()
	if *outputDir == "" {
		*outputDir = infra.OutputDir
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		log.Println("Interrupt received, cancelling run...")
		cancel()
	}()

	trips, net, err := loadInputs(ctx, *fromDB, *demandCSV, *networkDir)
	if err != nil {
		log.Fatalf("Failed to load inputs: %v", err)
	}
	log.Printf("Loaded %d person trips, %d schedule rows", len(trips), len(net.Stops))

	runID := uuid.NewString()
	var observers assign.MultiObserver

	collector := metrics.NewCollector()
	if infra.MetricsAddr != "" {
		collector.Serve(infra.MetricsAddr)
	}
	observers = append(observers, collector)

	if *outputDir != "" {
		csvw, err := export.NewCSVWriter(*outputDir)
		if err != nil {
			log.Fatalf("Failed to prepare output dir: %v", err)
		}
		observers = append(observers, csvw)
	}
	if *publish {
		pub, err := export.NewNATSPublisher(infra.NATSURL, runID)
		if err != nil {
			log.Fatalf("Failed to connect to NATS: %v", err)
		}
		defer pub.Close()
		observers = append(observers, pub)
	}

	ctrl, err := assign.New(cfg, oracle.New(), observers)
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	log.Printf("Run %s starting: %d outer iterations max, gap target %.4f",
		runID, cfg.Run.MaxOuterIterations, cfg.Run.ConvergenceGap)
	started := time.Now()

	result, err := ctrl.RunAll(ctx, trips, net)
	if err != nil {
		log.Fatalf("Run failed: %v", err)
	}

	log.Printf("Run %s finished in %s", runID, time.Since(started).Round(time.Millisecond))
	log.Printf("  iterations:   %d", result.Iterations)
	log.Printf("  capacity gap: %.4f", result.CapacityGap)
	log.Printf("  arrived:      %d / %d", result.Arrived, result.DemandSize)
	log.Printf("  missed:       %d", result.Missed)
	log.Printf("  paths found:  %d", result.PathsFound)
	if result.Failures > 0 {
		log.Printf("  search failures: %d", result.Failures)
	}
}

func loadInputs(ctx context.Context, fromDB bool, demandCSV, networkDir string) ([]models.PersonTrip, *network.Network, error) {
	if !fromDB {
		trips, err := demand.LoadCSV(demandCSV)
		if err != nil {
			return nil, nil, err
		}
		net, err := network.LoadCSV(networkDir)
		if err != nil {
			return nil, nil, err
		}
		return trips, net, nil
	}

	pool, err := db.GetDB()
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	trips, err := demand.LoadPG(ctx, pool)
	if err != nil {
		return nil, nil, err
	}
	net, err := network.LoadPG(ctx, pool)
	if err != nil {
		return nil, nil, err
	}
	return trips, net, nil
}
