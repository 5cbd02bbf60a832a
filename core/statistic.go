package core

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Goal says which direction of a statistic is better.
type Goal int

const (
	Maximize Goal = iota
	Minimize
)

func (g Goal) String() string {
	if g == Minimize {
		return "minimize"
	}
	return "maximize"
}

func (g Goal) better(a, b float64) bool {
	if g == Minimize {
		return a < b
	}
	return a > b
}

// Statistic reduces the nearest-neighbour separations (arcsec) of one trial
// offset to a single score. Implementations must be safe for concurrent use.
type Statistic interface {
	Name() string
	Goal() Goal
	Reduce(separations []float64) float64
	Validate() error
}

// MatchCount counts matches closer than Cutoff arcsec.
type MatchCount struct {
	Cutoff float64
}

func (s MatchCount) Name() string { return "count" }
func (s MatchCount) Goal() Goal   { return Maximize }

func (s MatchCount) Reduce(seps []float64) float64 {
	n := 0
	for _, sep := range seps {
		if sep < s.Cutoff {
			n++
		}
	}
	return float64(n)
}

func (s MatchCount) Validate() error {
	if !(s.Cutoff > 0) || math.IsInf(s.Cutoff, 0) {
		return fmt.Errorf("count cutoff %g must be positive and finite: %w", s.Cutoff, ErrBadStatistic)
	}
	return nil
}

// MeanSeparation is the mean separation of matches closer than Cutoff, or of
// every match when Cutoff is zero. No qualifying match yields +Inf.
type MeanSeparation struct {
	Cutoff float64
}

func (s MeanSeparation) Name() string    { return "mean" }
func (s MeanSeparation) Goal() Goal      { return Minimize }
func (s MeanSeparation) Validate() error { return validateCutoff("mean", s.Cutoff) }

func (s MeanSeparation) Reduce(seps []float64) float64 {
	kept := below(seps, s.Cutoff)
	if len(kept) == 0 {
		return math.Inf(1)
	}
	return stat.Mean(kept, nil)
}

// MedianSeparation is the median of matches closer than Cutoff (all matches
// when Cutoff is zero).
type MedianSeparation struct {
	Cutoff float64
}

func (s MedianSeparation) Name() string    { return "median" }
func (s MedianSeparation) Goal() Goal      { return Minimize }
func (s MedianSeparation) Validate() error { return validateCutoff("median", s.Cutoff) }

func (s MedianSeparation) Reduce(seps []float64) float64 {
	kept := below(seps, s.Cutoff)
	if len(kept) == 0 {
		return math.Inf(1)
	}
	sort.Float64s(kept)
	return stat.Quantile(0.5, stat.Empirical, kept, nil)
}

// SumSeparation is the total separation with each match clipped at Cutoff,
// so distant non-counterparts contribute a constant penalty.
type SumSeparation struct {
	Cutoff float64
}

func (s SumSeparation) Name() string    { return "sum" }
func (s SumSeparation) Goal() Goal      { return Minimize }
func (s SumSeparation) Validate() error { return validateCutoff("sum", s.Cutoff) }

func (s SumSeparation) Reduce(seps []float64) float64 {
	if s.Cutoff <= 0 {
		return floats.Sum(seps)
	}
	clipped := make([]float64, len(seps))
	for i, sep := range seps {
		clipped[i] = math.Min(sep, s.Cutoff)
	}
	return floats.Sum(clipped)
}

// ParseStatistic builds a Statistic from its config name.
func ParseStatistic(name string, cutoff float64) (Statistic, error) {
	var s Statistic
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "count", "match-count":
		s = MatchCount{Cutoff: cutoff}
	case "mean", "mean-separation":
		s = MeanSeparation{Cutoff: cutoff}
	case "median", "median-separation":
		s = MedianSeparation{Cutoff: cutoff}
	case "", "sum", "sum-separation":
		s = SumSeparation{Cutoff: cutoff}
	default:
		return nil, fmt.Errorf("unknown statistic %q: %w", name, ErrBadStatistic)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func validateCutoff(name string, cutoff float64) error {
	if cutoff < 0 || math.IsNaN(cutoff) || math.IsInf(cutoff, 0) {
		return fmt.Errorf("%s cutoff %g must be zero or positive: %w", name, cutoff, ErrBadStatistic)
	}
	return nil
}

// below returns a fresh slice of the separations under cutoff; cutoff <= 0
// keeps everything.
func below(seps []float64, cutoff float64) []float64 {
	out := make([]float64, 0, len(seps))
	for _, sep := range seps {
		if cutoff <= 0 || sep < cutoff {
			out = append(out, sep)
		}
	}
	return out
}
