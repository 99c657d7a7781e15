package api

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/transitworks/assign_core/internal/assign"
	"github.com/transitworks/assign_core/internal/cache"
	"github.com/transitworks/assign_core/internal/config"
	"github.com/transitworks/assign_core/internal/demand"
	"github.com/transitworks/assign_core/internal/export"
	"github.com/transitworks/assign_core/internal/network"
	"github.com/transitworks/assign_core/internal/oracle"
)

// RunRequest is the POST /v1/runs body. Paths are resolved on the
// server host.
type RunRequest struct {
	ConfigPath string `json:"config_path"`
	DemandCSV  string `json:"demand_csv"`
	NetworkDir string `json:"network_dir"`
	OutputDir  string `json:"output_dir"`
}

// RunResponse is returned when a run is accepted.
type RunResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

// Handlers serves the run registry endpoints. Extra observers (the
// Prometheus collector in practice) are attached to every run.
type Handlers struct {
	infra     *config.Infra
	observers []assign.Observer
}

func NewHandlers(infra *config.Infra, observers ...assign.Observer) *Handlers {
	return &Handlers{infra: infra, observers: observers}
}

// Health handles GET /health
func (h *Handlers) Health(c *fiber.Ctx) error {
	status := fiber.Map{
		"status": "ok",
		"time":   time.Now().UTC(),
	}
	if err := cache.HealthCheck(c.Context()); err != nil {
		status["status"] = "degraded"
		status["redis"] = err.Error()
		return c.Status(fiber.StatusServiceUnavailable).JSON(status)
	}
	return c.JSON(status)
}

// CreateRun handles POST /v1/runs: validate the request, register the
// run as queued and execute it on a background goroutine.
func (h *Handlers) CreateRun(c *fiber.Ctx) error {
	var req RunRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": fmt.Sprintf("invalid request body: %v", err),
		})
	}
	if req.ConfigPath == "" || req.DemandCSV == "" || req.NetworkDir == "" {
		return c.Status(400).JSON(fiber.Map{
			"error": "missing required fields: config_path, demand_csv and network_dir",
		})
	}
	if req.OutputDir == "" {
		req.OutputDir = h.infra.OutputDir
	}

	runID := uuid.NewString()
	state := &cache.RunState{
		RunID:     runID,
		Status:    "queued",
		StartedAt: time.Now().UTC(),
	}
	if err := cache.SetRun(c.Context(), state); err != nil {
		return c.Status(500).JSON(fiber.Map{
			"error": fmt.Sprintf("registering run: %v", err),
		})
	}

	go h.execute(runID, req)

	return c.Status(fiber.StatusAccepted).JSON(RunResponse{
		RunID:  runID,
		Status: "queued",
	})
}

// GetRun handles GET /v1/runs/:id
func (h *Handlers) GetRun(c *fiber.Ctx) error {
	runID := c.Params("id")
	if _, err := uuid.Parse(runID); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "invalid run id",
		})
	}

	state, err := cache.GetRun(c.Context(), runID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if state == nil {
		return c.Status(404).JSON(fiber.Map{
			"error": "run not found",
		})
	}
	return c.JSON(state)
}

func (h *Handlers) execute(runID string, req RunRequest) {
	ctx := context.Background()
	update := func(state *cache.RunState) {
		if err := cache.SetRun(ctx, state); err != nil {
			log.Printf("run %s: storing state: %v", runID, err)
		}
	}
	fail := func(state *cache.RunState, err error) {
		log.Printf("run %s failed: %v", runID, err)
		now := time.Now().UTC()
		state.Status = "failed"
		state.Error = err.Error()
		state.FinishedAt = &now
		update(state)
	}

	state := &cache.RunState{RunID: runID, Status: "running", StartedAt: time.Now().UTC()}
	update(state)

	cfg, err := config.Load(req.ConfigPath)
	if err != nil {
		fail(state, err)
		return
	}

	trips, err := demand.LoadCSV(req.DemandCSV)
	if err != nil {
		fail(state, err)
		return
	}
	net, err := network.LoadCSV(req.NetworkDir)
	if err != nil {
		fail(state, err)
		return
	}

	observers := append([]assign.Observer{}, h.observers...)
	if req.OutputDir != "" {
		csvw, err := export.NewCSVWriter(req.OutputDir)
		if err != nil {
			fail(state, err)
			return
		}
		observers = append(observers, csvw)
	}
	if h.infra.NATSURL != "" {
		pub, err := export.NewNATSPublisher(h.infra.NATSURL, runID)
		if err != nil {
			log.Printf("run %s: nats unavailable, continuing without: %v", runID, err)
		} else {
			defer pub.Close()
			observers = append(observers, pub)
		}
	}

	ctrl, err := assign.New(cfg, oracle.New(), assign.MultiObserver(observers))
	if err != nil {
		fail(state, err)
		return
	}

	result, err := ctrl.RunAll(ctx, trips, net)
	if err != nil {
		fail(state, err)
		return
	}

	now := time.Now().UTC()
	state.Status = "done"
	state.Result = result
	state.FinishedAt = &now
	update(state)
	log.Printf("run %s done: gap=%.4f arrived=%d missed=%d",
		runID, result.CapacityGap, result.Arrived, result.Missed)
}
