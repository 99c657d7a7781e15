package metrics

import (
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/transitworks/assign_core/internal/assign"
)

// Collector exposes run progress as Prometheus metrics. It implements
// assign.Observer so the controller feeds it directly.
type Collector struct {
	reg *prometheus.Registry

	OuterIteration prometheus.Gauge
	CapacityGap    prometheus.Gauge
	ArrivedShare   prometheus.Gauge

	PathSetsFound   prometheus.Counter
	SearchFailures  prometheus.Counter
	TravelersBumped prometheus.Counter

	RoundDuration   prometheus.Histogram
	ScopeSize       prometheus.Histogram
	SearchDuration  prometheus.Histogram
	SearchLabelIter prometheus.Histogram
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		OuterIteration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "assign_outer_iteration",
			Help: "Outer iteration currently running.",
		}),
		CapacityGap: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "assign_capacity_gap",
			Help: "Share of travelers with unstable or missing journeys.",
		}),
		ArrivedShare: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "assign_arrived_share",
			Help: "Share of travelers holding a feasible chosen path.",
		}),
		PathSetsFound: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "assign_pathsets_found_total",
			Help: "Total path sets returned by the search oracle.",
		}),
		SearchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "assign_search_failures_total",
			Help: "Total per-traveler search failures, including worker crashes.",
		}),
		TravelersBumped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "assign_travelers_bumped_total",
			Help: "Total travelers bumped by capacity loading.",
		}),
		RoundDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "assign_round_duration_seconds",
			Help:    "Duration of one pathfinding round including loading.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
		}),
		ScopeSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "assign_round_scope_size",
			Help:    "Travelers dispatched per pathfinding round.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		}),
		SearchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "assign_search_duration_seconds",
			Help:    "Per-traveler path search duration.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 12),
		}),
		SearchLabelIter: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "assign_search_label_iterations",
			Help:    "Labels explored per path search.",
			Buckets: prometheus.ExponentialBuckets(10, 4, 10),
		}),
	}

	reg.MustRegister(
		c.OuterIteration, c.CapacityGap, c.ArrivedShare,
		c.PathSetsFound, c.SearchFailures, c.TravelersBumped,
		c.RoundDuration, c.ScopeSize,
		c.SearchDuration, c.SearchLabelIter,
	)
	return c
}

var _ assign.Observer = (*Collector)(nil)

func (c *Collector) RoundDone(r assign.RoundReport) {
	c.OuterIteration.Set(float64(r.Outer))
	c.PathSetsFound.Add(float64(r.PathsFound))
	c.SearchFailures.Add(float64(r.Failures))
	c.TravelersBumped.Add(float64(r.Bumped))
	c.RoundDuration.Observe(r.Duration.Seconds())
	c.ScopeSize.Observe(float64(r.ScopeSize))
	for _, t := range r.Telemetry {
		c.SearchDuration.Observe(t.Elapsed.Seconds())
		c.SearchLabelIter.Observe(float64(t.LabelIterations))
	}
}

func (c *Collector) IterationDone(r assign.IterationReport) {
	c.CapacityGap.Set(r.CapacityGap)
	if total := r.Arrived + r.Missed; total > 0 {
		c.ArrivedShare.Set(float64(r.Arrived) / float64(total))
	}
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()
	log.Printf("metrics listening on %s", addr)
	return srv
}
