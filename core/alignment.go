package core

import (
	"context"
	"fmt"

	"github.com/signalsfoundry/askapmetry/internal/logging"
	"github.com/signalsfoundry/askapmetry/model"
)

// AlignmentResult is the outcome of a Beam Alignment Pass.
type AlignmentResult struct {
	ReferenceBeam int

	// Offsets holds the removed offset of every successfully aligned beam.
	// The reference beam maps to the zero offset.
	Offsets map[int]model.Offset
	Grids   map[int]*StatisticGrid
	// Matches holds each searched beam's matches at its best offset.
	Matches map[int][]model.MatchResult

	// Aligned holds the corrected catalogues in input order. Beams that
	// failed are left out.
	Aligned  []model.Catalogue
	Failures []*BeamError
}

// Beams returns the successfully aligned beam ids in ascending order.
func (r *AlignmentResult) Beams() []int { return sortedBeams(r.Offsets) }

// AlignBeams brings every beam onto the pointing of referenceBeam. Each
// other beam is grid-searched against the reference beam's catalogue and
// its best-fit offset is removed from all of its sources. The reference beam
// passes through unchanged.
//
// A failed beam is recorded in Failures and omitted from Aligned; the
// remaining beams are still processed. An error is returned only when the
// reference beam is missing or unusable.
func (s *Searcher) AlignBeams(ctx context.Context, beams []model.Catalogue, referenceBeam int) (*AlignmentResult, error) {
	if err := checkDistinctBeams(beams); err != nil {
		return nil, err
	}
	refIdx := -1
	for i, c := range beams {
		if c.Beam == referenceBeam {
			refIdx = i
			break
		}
	}
	if refIdx < 0 {
		return nil, fmt.Errorf("reference beam %d: %w", referenceBeam, ErrUnknownBeam)
	}
	ref := beams[refIdx]
	if ref.IsEmpty() {
		return nil, fmt.Errorf("reference beam %d: %w", referenceBeam, ErrEmptyCatalogue)
	}
	if err := ValidateCatalogue(ref); err != nil {
		return nil, fmt.Errorf("reference beam %d: %w", referenceBeam, err)
	}

	others := make([]model.Catalogue, 0, len(beams)-1)
	for i, c := range beams {
		if i != refIdx {
			others = append(others, c)
		}
	}

	s.log.Info(ctx, "aligning beams",
		logging.Int("reference_beam", referenceBeam),
		logging.Int("beams", len(others)),
	)

	outcomes := s.runBeams(ctx, PassAlignment, others, func(model.Catalogue) model.Catalogue { return ref })

	res := &AlignmentResult{
		ReferenceBeam: referenceBeam,
		Offsets:       map[int]model.Offset{referenceBeam: model.Zero},
		Grids:         make(map[int]*StatisticGrid, len(others)),
		Matches:       make(map[int][]model.MatchResult, len(others)),
		Aligned:       make([]model.Catalogue, 0, len(beams)),
	}

	next := 0
	for i, c := range beams {
		if i == refIdx {
			res.Aligned = append(res.Aligned, c)
			continue
		}
		o := outcomes[next]
		next++
		if o.grid != nil {
			res.Grids[c.Beam] = o.grid
		}
		if o.err != nil {
			res.Failures = append(res.Failures, &BeamError{Beam: c.Beam, Pass: PassAlignment, Err: o.err})
			s.log.Warn(ctx, "beam alignment failed",
				logging.Int("beam", c.Beam),
				logging.Err(o.err),
			)
			continue
		}
		res.Offsets[c.Beam] = o.best.Offset
		res.Matches[c.Beam] = o.matches
		res.Aligned = append(res.Aligned, o.best.Offset.CorrectCatalogue(c))
		s.log.Info(ctx, "beam aligned",
			logging.Int("beam", c.Beam),
			logging.Float("offset_ra_arcsec", o.best.Offset.RA),
			logging.Float("offset_dec_arcsec", o.best.Offset.Dec),
		)
	}
	return res, nil
}
