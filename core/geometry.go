package core

import (
	"fmt"
	"math"
	"strings"

	"github.com/golang/geo/s2"

	"github.com/signalsfoundry/askapmetry/model"
)

// Metric selects how angular separations are measured.
type Metric int

const (
	// MetricPlanar is the flat-sky small-angle approximation. RA differences
	// are scaled by the cosine of the pair's mean declination.
	MetricPlanar Metric = iota
	// MetricGreatCircle is the exact haversine distance on the sphere.
	MetricGreatCircle
)

func (m Metric) String() string {
	switch m {
	case MetricPlanar:
		return "planar"
	case MetricGreatCircle:
		return "great-circle"
	default:
		return fmt.Sprintf("Metric(%d)", int(m))
	}
}

// ParseMetric maps a config/flag value onto a Metric.
func ParseMetric(s string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "planar", "flat", "flat-sky":
		return MetricPlanar, nil
	case "great-circle", "greatcircle", "sphere", "haversine":
		return MetricGreatCircle, nil
	default:
		return MetricPlanar, fmt.Errorf("unknown separation metric %q", s)
	}
}

// Separation returns the angular distance between two positions given in
// degrees, in arcseconds.
func (m Metric) Separation(ra1, dec1, ra2, dec2 float64) float64 {
	if m == MetricGreatCircle {
		a := s2.LatLngFromDegrees(dec1, ra1)
		b := s2.LatLngFromDegrees(dec2, ra2)
		return a.Distance(b).Degrees() * model.ArcsecPerDegree
	}
	return planarSeparation(ra1, dec1, ra2, dec2)
}

func planarSeparation(ra1, dec1, ra2, dec2 float64) float64 {
	dRA := wrapDegrees(ra1 - ra2)
	meanDec := (dec1 + dec2) / 2 * math.Pi / 180
	x := dRA * math.Cos(meanDec)
	y := dec1 - dec2
	return math.Hypot(x, y) * model.ArcsecPerDegree
}

// wrapDegrees folds an RA difference into [-180, 180).
func wrapDegrees(d float64) float64 {
	d = math.Mod(d+180, 360)
	if d < 0 {
		d += 360
	}
	return d - 180
}
