// Package metrics exports planning and navigation counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"voxelpilot.ai/internal/runs"
)

const namespace = "voxelpilot"

// Collector owns a private registry so several instances can coexist in one process.
type Collector struct {
	reg *prometheus.Registry

	runs         *prometheus.CounterVec
	plans        *prometheus.CounterVec
	expansions   prometheus.Histogram
	planSeconds  prometheus.Histogram
	waypoints    *prometheus.CounterVec
	waypointSecs prometheus.Histogram
	cleared      prometheus.Counter
	secured      prometheus.Counter
}

var _ runs.Sink = (*Collector)(nil)

func New() *Collector {
	c := &Collector{
		reg: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished goto runs by result.",
		}, []string{"result"}),
		plans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plans_total",
			Help:      "Planner searches by result.",
		}, []string{"result"}),
		expansions: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "planner_expansions",
			Help:      "Nodes expanded per search.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 12),
		}),
		planSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "planner_duration_seconds",
			Help:      "Wall time of one search, snapshot excluded.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		waypoints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "waypoints_total",
			Help:      "Waypoints finished by terminal phase.",
		}, []string{"result"}),
		waypointSecs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "waypoint_duration_seconds",
			Help:      "Time from waypoint start to its terminal phase.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		}),
		cleared: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_cleared_total",
			Help:      "Obstacles broken out of the way.",
		}),
		secured: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_secured_total",
			Help:      "Support blocks placed under waypoints.",
		}),
	}
	c.reg.MustRegister(
		c.runs, c.plans, c.expansions, c.planSeconds,
		c.waypoints, c.waypointSecs, c.cleared, c.secured,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry { return c.reg }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{Registry: c.reg})
}

// GaugeFunc exports a gauge read from fn at scrape time.
func (c *Collector) GaugeFunc(name, help string, fn func() float64) {
	c.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

func (c *Collector) RunStarted(runs.Start) {}

func (c *Collector) Planned(e runs.Plan) {
	result := "found"
	switch {
	case e.Found:
	case e.Stats.Capped:
		result = "capped"
	default:
		result = "not_found"
	}
	c.plans.WithLabelValues(result).Inc()
	c.expansions.Observe(float64(e.Stats.Expanded))
	c.planSeconds.Observe(e.Duration.Seconds())
}

func (c *Collector) Waypoint(e runs.Waypoint) {
	c.waypoints.WithLabelValues(e.Result).Inc()
	c.waypointSecs.Observe(e.Elapsed.Seconds())
	c.cleared.Add(float64(e.Cleared))
	c.secured.Add(float64(e.Secured))
}

func (c *Collector) RunFinished(e runs.End) {
	result := "ok"
	if !e.OK {
		result = "error"
	}
	c.runs.WithLabelValues(result).Inc()
}
