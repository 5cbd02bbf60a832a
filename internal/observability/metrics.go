package observability

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/signalsfoundry/askapmetry/model"
)

// SearchCollector bundles Prometheus metrics for grid searches. It satisfies
// core.SearchRecorder.
type SearchCollector struct {
	gatherer prometheus.Gatherer

	Searches       *prometheus.CounterVec
	Durations      *prometheus.HistogramVec
	CellsEvaluated prometheus.Counter
	BeamOffsets    *prometheus.GaugeVec
}

// NewSearchCollector registers search metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewSearchCollector(reg prometheus.Registerer) (*SearchCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	searches, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "askapmetry_grid_searches_total",
		Help: "Completed offset grid searches, labeled by pass and outcome.",
	}, []string{"pass", "status"}), "askapmetry_grid_searches_total")
	if err != nil {
		return nil, err
	}

	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "askapmetry_grid_search_duration_seconds",
		Help:    "Wall time of one offset grid search in seconds.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"pass"}), "askapmetry_grid_search_duration_seconds")
	if err != nil {
		return nil, err
	}

	cells, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "askapmetry_grid_cells_evaluated_total",
		Help: "Trial offsets evaluated across all successful grid searches.",
	}), "askapmetry_grid_cells_evaluated_total")
	if err != nil {
		return nil, err
	}

	offsets, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "askapmetry_beam_offset_arcsec",
		Help: "Latest best-fit offset per beam in arcseconds.",
	}, []string{"pass", "beam", "axis"}), "askapmetry_beam_offset_arcsec")
	if err != nil {
		return nil, err
	}

	return &SearchCollector{
		gatherer:       gatherer,
		Searches:       searches,
		Durations:      durations,
		CellsEvaluated: cells,
		BeamOffsets:    offsets,
	}, nil
}

// ObserveSearch records one finished search.
func (c *SearchCollector) ObserveSearch(pass string, cells int, d time.Duration, err error) {
	if c == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	if c.Searches != nil {
		c.Searches.WithLabelValues(pass, status).Inc()
	}
	if c.Durations != nil {
		c.Durations.WithLabelValues(pass).Observe(d.Seconds())
	}
	if err == nil && c.CellsEvaluated != nil {
		c.CellsEvaluated.Add(float64(cells))
	}
}

// SetBeamOffset publishes the best-fit offset of one beam.
func (c *SearchCollector) SetBeamOffset(pass string, beam int, off model.Offset) {
	if c == nil || c.BeamOffsets == nil {
		return
	}
	label := BeamLabel(beam)
	c.BeamOffsets.WithLabelValues(pass, label, "ra").Set(off.RA)
	c.BeamOffsets.WithLabelValues(pass, label, "dec").Set(off.Dec)
}

// Handler exposes a ready-to-use /metrics handler.
func (c *SearchCollector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// BeamLabel renders a beam number as a metric label value. The survey
// pseudo-beam is labeled "survey".
func BeamLabel(beam int) string {
	if beam == model.SurveyBeam {
		return "survey"
	}
	if beam < 10 {
		return "0" + strconv.Itoa(beam)
	}
	return strconv.Itoa(beam)
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
