// Package metrics exposes watcher counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"postwatch/internal/watcher"
)

// Collectors implements watcher.Recorder.
type Collectors struct {
	reg *prometheus.Registry

	Cycles        *prometheus.CounterVec
	Attempts      *prometheus.CounterVec
	CycleDuration prometheus.Histogram
	LastCycle     prometheus.Gauge
}

// New registers collectors on a private registry, plus the Go and process
// collectors.
func New() *Collectors {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Collectors{
		reg: reg,
		Cycles: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "postwatch_cycles_total",
				Help: "Polling cycles by decision",
			},
			[]string{"decision"},
		),
		Attempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "postwatch_attempts_total",
				Help: "Fetch, notify, load and save attempts by outcome",
			},
			[]string{"op", "outcome"},
		),
		CycleDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "postwatch_cycle_duration_seconds",
				Help:    "Wall time of one polling cycle, retries included",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
			},
		),
		LastCycle: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "postwatch_last_cycle_timestamp_seconds",
				Help: "Unix time the last cycle finished",
			},
		),
	}
}

func (c *Collectors) Registry() *prometheus.Registry { return c.reg }

func (c *Collectors) Attempt(op string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	c.Attempts.WithLabelValues(op, outcome).Inc()
}

func (c *Collectors) Cycle(r watcher.CycleResult) {
	c.Cycles.WithLabelValues(string(r.Decision)).Inc()
	c.CycleDuration.Observe(r.Duration().Seconds())
	c.LastCycle.Set(float64(r.Finished.Unix()))
}

var _ watcher.Recorder = (*Collectors)(nil)
