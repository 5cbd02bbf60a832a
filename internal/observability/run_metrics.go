package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RunCollector exposes per-run pipeline metrics: how many beams were loaded,
// how many failed at each stage, and how long the run took.
type RunCollector struct {
	BeamsLoaded  prometheus.Gauge
	BeamFailures *prometheus.CounterVec
	RunDuration  prometheus.Gauge
}

// NewRunCollector registers run metrics against the provided registerer.
func NewRunCollector(reg prometheus.Registerer) (*RunCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	loaded, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "askapmetry_beams_loaded",
		Help: "Beam catalogues loaded by the latest run.",
	}), "askapmetry_beams_loaded")
	if err != nil {
		return nil, err
	}

	failures, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "askapmetry_beam_failures_total",
		Help: "Beams dropped from a run, labeled by the stage that failed.",
	}, []string{"stage"}), "askapmetry_beam_failures_total")
	if err != nil {
		return nil, err
	}

	duration, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "askapmetry_run_duration_seconds",
		Help: "Wall time of the latest run in seconds.",
	}), "askapmetry_run_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &RunCollector{
		BeamsLoaded:  loaded,
		BeamFailures: failures,
		RunDuration:  duration,
	}, nil
}

// SetBeamsLoaded records how many beam catalogues were usable.
func (c *RunCollector) SetBeamsLoaded(n int) {
	if c == nil || c.BeamsLoaded == nil {
		return
	}
	c.BeamsLoaded.Set(float64(n))
}

// AddBeamFailures counts n beams dropped at stage (load, alignment, estimate).
func (c *RunCollector) AddBeamFailures(stage string, n int) {
	if c == nil || c.BeamFailures == nil || n <= 0 {
		return
	}
	c.BeamFailures.WithLabelValues(stage).Add(float64(n))
}

// ObserveRun records the total run time.
func (c *RunCollector) ObserveRun(d time.Duration) {
	if c == nil || c.RunDuration == nil {
		return
	}
	c.RunDuration.Set(d.Seconds())
}
