package core

import (
	"fmt"
	"math"
	"sort"

	"github.com/signalsfoundry/askapmetry/model"
)

// ReferenceIndex answers nearest-neighbour queries against a fixed
// reference catalogue. It is read-only after construction and safe for
// concurrent use.
//
// Entries are kept sorted by declination; a query walks outwards from the
// query declination and stops once the declination gap alone exceeds the
// best separation found so far. No radius cutoff is applied, so every query
// against a non-empty index returns a match.
type ReferenceIndex struct {
	ref    model.Catalogue
	metric Metric

	order []int     // reference indices sorted by Dec
	decs  []float64 // Dec values in the same order
}

// NewReferenceIndex builds an index over ref.
func NewReferenceIndex(ref model.Catalogue, metric Metric) (*ReferenceIndex, error) {
	if ref.IsEmpty() {
		return nil, fmt.Errorf("reference %s: %w", ref.Label(), ErrEmptyCatalogue)
	}
	if err := checkCoordinates(ref); err != nil {
		return nil, fmt.Errorf("reference %s: %w", ref.Label(), err)
	}

	n := len(ref.Sources)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return ref.Sources[order[a]].Dec < ref.Sources[order[b]].Dec
	})

	decs := make([]float64, n)
	for k, i := range order {
		decs[k] = ref.Sources[i].Dec
	}

	return &ReferenceIndex{
		ref:    ref,
		metric: metric,
		order:  order,
		decs:   decs,
	}, nil
}

// Len returns the number of indexed reference sources.
func (idx *ReferenceIndex) Len() int { return len(idx.order) }

// Catalogue returns the indexed reference catalogue.
func (idx *ReferenceIndex) Catalogue() model.Catalogue { return idx.ref }

// Nearest returns the index (into the reference catalogue) of the closest
// reference source to (ra, dec) and its separation in arcseconds. Ties go to
// the lowest reference index.
func (idx *ReferenceIndex) Nearest(ra, dec float64) (int, float64) {
	return idx.nearest(ra, dec, -1)
}

// NearestExcept is Nearest ignoring the reference source at index skip. It
// returns (-1, +Inf) when no other source exists.
func (idx *ReferenceIndex) NearestExcept(ra, dec float64, skip int) (int, float64) {
	return idx.nearest(ra, dec, skip)
}

func (idx *ReferenceIndex) nearest(ra, dec float64, skip int) (int, float64) {
	n := len(idx.decs)
	best, bestSep := -1, math.Inf(1)

	hi := sort.SearchFloat64s(idx.decs, dec)
	lo := hi - 1

	for {
		var k int
		var gap float64
		switch {
		case lo >= 0 && hi < n:
			below, above := dec-idx.decs[lo], idx.decs[hi]-dec
			if below <= above {
				k, gap = lo, below
				lo--
			} else {
				k, gap = hi, above
				hi++
			}
		case lo >= 0:
			k, gap = lo, dec-idx.decs[lo]
			lo--
		case hi < n:
			k, gap = hi, idx.decs[hi]-dec
			hi++
		default:
			return best, bestSep
		}

		// Gaps are visited in increasing order; equal gaps are still checked
		// so that ties resolve by reference index.
		if gap*model.ArcsecPerDegree > bestSep {
			return best, bestSep
		}

		i := idx.order[k]
		if i == skip {
			continue
		}
		s := idx.ref.Sources[i]
		sep := idx.metric.Separation(ra, dec, s.RA, s.Dec)
		if sep < bestSep || (sep == bestSep && i < best) {
			best, bestSep = i, sep
		}
	}
}

// Match pairs every source with its nearest reference source. The result
// has exactly len(sources) entries in source order. A source that cannot be
// placed on the sky fails the whole match with ErrInvalidCoordinate.
func (idx *ReferenceIndex) Match(sources []model.Source) ([]model.MatchResult, error) {
	out := make([]model.MatchResult, len(sources))
	for i, s := range sources {
		j, sep := idx.Nearest(s.RA, s.Dec)
		if j < 0 {
			return nil, fmt.Errorf("source %q at (%g, %g): %w", s.ID, s.RA, s.Dec, ErrInvalidCoordinate)
		}
		out[i] = model.MatchResult{
			SourceID:       s.ID,
			ReferenceID:    idx.ref.Sources[j].ID,
			ReferenceIndex: j,
			Separation:     sep,
		}
	}
	return out, nil
}

// matchCorrected matches sources after removing off from each of them.
func (idx *ReferenceIndex) matchCorrected(sources []model.Source, off model.Offset) ([]model.MatchResult, error) {
	corrected := make([]model.Source, len(sources))
	for i, s := range sources {
		corrected[i] = off.Correct(s)
	}
	return idx.Match(corrected)
}

// separations fills buf with the nearest-neighbour separation of every
// source after the trial offset has been removed. It is the allocation-free
// path used inside grid searches.
func (idx *ReferenceIndex) separations(sources []model.Source, trial model.Offset, buf []float64) []float64 {
	buf = buf[:0]
	for _, s := range sources {
		shifted := trial.Correct(s)
		_, sep := idx.Nearest(shifted.RA, shifted.Dec)
		buf = append(buf, sep)
	}
	return buf
}

// Match cross-matches sources against ref using a fresh index.
func Match(sources, ref model.Catalogue, metric Metric) ([]model.MatchResult, error) {
	if sources.IsEmpty() {
		return nil, fmt.Errorf("sources %s: %w", sources.Label(), ErrEmptyCatalogue)
	}
	idx, err := NewReferenceIndex(ref, metric)
	if err != nil {
		return nil, err
	}
	if err := checkCoordinates(sources); err != nil {
		return nil, fmt.Errorf("sources %s: %w", sources.Label(), err)
	}
	return idx.Match(sources.Sources)
}

// CheckPosition reports whether (ra, dec) in degrees is a finite sky
// position with |dec| <= 90.
func CheckPosition(ra, dec float64) error {
	if math.IsNaN(ra) || math.IsInf(ra, 0) || math.IsNaN(dec) || math.IsInf(dec, 0) {
		return fmt.Errorf("non-finite position (%g, %g): %w", ra, dec, ErrInvalidCoordinate)
	}
	if dec < -90 || dec > 90 {
		return fmt.Errorf("declination %g outside [-90, 90]: %w", dec, ErrInvalidCoordinate)
	}
	return nil
}

func checkCoordinates(c model.Catalogue) error {
	for _, s := range c.Sources {
		if err := CheckPosition(s.RA, s.Dec); err != nil {
			return fmt.Errorf("source %q: %w", s.ID, err)
		}
	}
	return nil
}

// ValidateCatalogue checks that every source in c has a valid sky position
// and belongs to c's beam. Survey-wide catalogues accept sources from any
// beam.
func ValidateCatalogue(c model.Catalogue) error {
	if err := checkCoordinates(c); err != nil {
		return fmt.Errorf("%s: %w", c.Label(), err)
	}
	if c.Beam == model.SurveyBeam {
		return nil
	}
	for _, s := range c.Sources {
		if s.Beam != c.Beam {
			return fmt.Errorf("source %q declares beam %d in %s: %w", s.ID, s.Beam, c.Label(), ErrMismatchedBeam)
		}
	}
	return nil
}
