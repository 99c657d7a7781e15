package export

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/transitworks/assign_core/internal/assign"
)

// RoundMessage is the JSON summary published after each round. Search
// telemetry is aggregated over the round's travelers.
type RoundMessage struct {
	RunID          string    `json:"runId"`
	Outer          int       `json:"outerIteration"`
	Round          int       `json:"round"`
	ScopeSize      int       `json:"scopeSize"`
	PathsFound     int       `json:"pathsFound"`
	Failures       int       `json:"failures"`
	Bumped         int       `json:"bumped"`
	DurationMS     int64     `json:"durationMs"`
	MeanSearchMS   float64   `json:"meanSearchMs"`
	LabelsExplored int       `json:"labelsExplored"`
	Timestamp      time.Time `json:"timestamp"`
}

// IterationMessage is the JSON summary published after each outer
// iteration.
type IterationMessage struct {
	RunID       string    `json:"runId"`
	Outer       int       `json:"outerIteration"`
	Arrived     int       `json:"arrived"`
	Missed      int       `json:"missed"`
	Changed     int       `json:"changed"`
	CapacityGap float64   `json:"capacityGap"`
	Timestamp   time.Time `json:"timestamp"`
}

// NATSPublisher streams run progress to NATS subjects
// assign.<runID>.round and assign.<runID>.iteration. It implements
// assign.Observer; publish errors are logged and never fail the run.
type NATSPublisher struct {
	nc    *nats.Conn
	runID string
}

func NewNATSPublisher(url, runID string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("assign-core"),
		nats.DisconnectHandler(func(_ *nats.Conn) {
			log.Printf("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Printf("nats reconnected")
		}),
	)
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{nc: nc, runID: subjectToken(runID)}, nil
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		p.nc.Close()
	}
}

var _ assign.Observer = (*NATSPublisher)(nil)

func (p *NATSPublisher) RoundDone(r assign.RoundReport) {
	var searchMS float64
	labels := 0
	for _, tm := range r.Telemetry {
		searchMS += float64(tm.Elapsed.Milliseconds())
		labels += tm.LabelIterations
	}
	if n := len(r.Telemetry); n > 0 {
		searchMS /= float64(n)
	}
	p.publish(fmt.Sprintf("assign.%s.round", p.runID), RoundMessage{
		RunID:          p.runID,
		Outer:          r.Outer,
		Round:          r.Round,
		ScopeSize:      r.ScopeSize,
		PathsFound:     r.PathsFound,
		Failures:       r.Failures,
		Bumped:         r.Bumped,
		DurationMS:     r.Duration.Milliseconds(),
		MeanSearchMS:   searchMS,
		LabelsExplored: labels,
		Timestamp:      time.Now().UTC(),
	})
}

func (p *NATSPublisher) IterationDone(r assign.IterationReport) {
	p.publish(fmt.Sprintf("assign.%s.iteration", p.runID), IterationMessage{
		RunID:       p.runID,
		Outer:       r.Outer,
		Arrived:     r.Arrived,
		Missed:      r.Missed,
		Changed:     r.Changed,
		CapacityGap: r.CapacityGap,
		Timestamp:   time.Now().UTC(),
	})
}

func (p *NATSPublisher) publish(subject string, msg interface{}) {
	b, err := json.Marshal(msg)
	if err != nil {
		log.Printf("nats marshal %s: %v", subject, err)
		return
	}
	if err := p.nc.Publish(subject, b); err != nil {
		log.Printf("nats publish %s: %v", subject, err)
	}
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
