package core

import (
	"context"
	"fmt"

	"github.com/signalsfoundry/askapmetry/internal/logging"
	"github.com/signalsfoundry/askapmetry/model"
)

// EstimateResult holds one best-fit offset per beam against the external
// reference catalogue.
type EstimateResult struct {
	Offsets  map[int]model.Offset
	Values   map[int]float64
	Grids    map[int]*StatisticGrid
	Matches  map[int][]model.MatchResult
	Failures []*BeamError
}

// Beams returns the beams with an offset in ascending order.
func (r *EstimateResult) Beams() []int { return sortedBeams(r.Offsets) }

// EstimateOption customises a single EstimateOffsets call.
type EstimateOption func(*estimateConfig)

type estimateConfig struct {
	pass Pass
}

// WithPass labels the estimate pass in metrics, spans and BeamErrors, so
// that several estimate passes in one run stay distinguishable.
func WithPass(p Pass) EstimateOption {
	return func(c *estimateConfig) {
		if p != "" {
			c.pass = p
		}
	}
}

// EstimateOffsets grid-searches every beam independently against ir. The
// catalogues may be aligned output from AlignBeams or raw per-beam
// catalogues. Beams run concurrently up to BeamWorkers; the result does not
// depend on the worker count.
func (s *Searcher) EstimateOffsets(ctx context.Context, beams []model.Catalogue, ir model.Catalogue, opts ...EstimateOption) (*EstimateResult, error) {
	cfg := estimateConfig{pass: PassEstimate}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	if ir.IsEmpty() {
		return nil, fmt.Errorf("reference %s: %w", ir.Label(), ErrEmptyCatalogue)
	}
	if err := checkCoordinates(ir); err != nil {
		return nil, fmt.Errorf("reference %s: %w", ir.Label(), err)
	}
	if err := checkDistinctBeams(beams); err != nil {
		return nil, err
	}

	s.log.Info(ctx, "estimating per-beam offsets",
		logging.String("pass", string(cfg.pass)),
		logging.Int("beams", len(beams)),
		logging.Int("reference_sources", ir.Len()),
	)

	outcomes := s.runBeams(ctx, cfg.pass, beams, func(model.Catalogue) model.Catalogue { return ir })

	res := &EstimateResult{
		Offsets: make(map[int]model.Offset, len(beams)),
		Values:  make(map[int]float64, len(beams)),
		Grids:   make(map[int]*StatisticGrid, len(beams)),
		Matches: make(map[int][]model.MatchResult, len(beams)),
	}
	for _, o := range outcomes {
		if o.grid != nil {
			res.Grids[o.beam] = o.grid
		}
		if o.err != nil {
			res.Failures = append(res.Failures, &BeamError{Beam: o.beam, Pass: cfg.pass, Err: o.err})
			s.log.Warn(ctx, "beam offset estimate failed",
				logging.Int("beam", o.beam),
				logging.Err(o.err),
			)
			continue
		}
		res.Offsets[o.beam] = o.best.Offset
		res.Values[o.beam] = o.best.Value
		res.Matches[o.beam] = o.matches
	}
	return res, nil
}
