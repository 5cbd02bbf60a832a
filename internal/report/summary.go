// Package report aggregates alignment and estimate results into per-beam
// rows and writes them as JSON, tables, grid CSVs or Redis hashes.
package report

import (
	"sort"

	"github.com/signalsfoundry/askapmetry/core"
	"github.com/signalsfoundry/askapmetry/model"
)

// BeamRow is the final record for one beam.
type BeamRow struct {
	Beam int `json:"beam"`

	// Centre is the beam centre estimated from its unfiltered components,
	// which places the beam's offsets on the sky.
	Centre *model.Position `json:"centre,omitempty"`

	// Alignment is the offset removed to bring the beam onto the reference
	// beam. Residual is the aligned beam's offset against the external
	// reference; Raw is the unaligned beam's offset against it.
	Alignment *model.Offset `json:"alignment,omitempty"`
	Residual  *model.Offset `json:"residual,omitempty"`
	Raw       *model.Offset `json:"raw,omitempty"`

	// Total is Alignment + Residual: the beam's full displacement from the
	// external reference reached through the reference beam.
	Total *model.Offset `json:"total,omitempty"`

	Errors []string `json:"errors,omitempty"`
}

// OK reports whether the beam produced at least one offset and no errors.
func (r BeamRow) OK() bool {
	return len(r.Errors) == 0 && (r.Alignment != nil || r.Residual != nil || r.Raw != nil)
}

// Summary is the aggregated outcome of a run, rows in ascending beam order.
type Summary struct {
	RunID         string    `json:"run_id,omitempty"`
	ReferenceBeam *int      `json:"reference_beam,omitempty"`
	Rows          []BeamRow `json:"beams"`
}

// Failed returns the number of beams carrying at least one error.
func (s Summary) Failed() int {
	n := 0
	for _, r := range s.Rows {
		if len(r.Errors) > 0 {
			n++
		}
	}
	return n
}

// AllFailed reports whether no beam produced a clean result.
func (s Summary) AllFailed() bool {
	for _, r := range s.Rows {
		if r.OK() {
			return false
		}
	}
	return true
}

// Summarize merges the results of the three passes. Any of them may be nil.
// aligned is the estimate over AlignBeams output; unaligned the estimate over
// raw catalogues.
func Summarize(alignment *core.AlignmentResult, aligned, unaligned *core.EstimateResult) Summary {
	rows := make(map[int]*BeamRow)
	row := func(beam int) *BeamRow {
		r, ok := rows[beam]
		if !ok {
			r = &BeamRow{Beam: beam}
			rows[beam] = r
		}
		return r
	}

	var sum Summary
	if alignment != nil {
		ref := alignment.ReferenceBeam
		sum.ReferenceBeam = &ref
		for beam, off := range alignment.Offsets {
			row(beam).Alignment = offsetPtr(off)
		}
		for _, f := range alignment.Failures {
			r := row(f.Beam)
			r.Errors = append(r.Errors, f.Error())
		}
	}
	if aligned != nil {
		for beam, off := range aligned.Offsets {
			row(beam).Residual = offsetPtr(off)
		}
		for _, f := range aligned.Failures {
			r := row(f.Beam)
			r.Errors = append(r.Errors, f.Error())
		}
	}
	if unaligned != nil {
		for beam, off := range unaligned.Offsets {
			row(beam).Raw = offsetPtr(off)
		}
		for _, f := range unaligned.Failures {
			r := row(f.Beam)
			r.Errors = append(r.Errors, "raw "+f.Error())
		}
	}

	beams := make([]int, 0, len(rows))
	for b := range rows {
		beams = append(beams, b)
	}
	sort.Ints(beams)

	sum.Rows = make([]BeamRow, 0, len(beams))
	for _, b := range beams {
		r := rows[b]
		if r.Alignment != nil && r.Residual != nil {
			r.Total = offsetPtr(r.Alignment.Add(*r.Residual))
		}
		sum.Rows = append(sum.Rows, *r)
	}
	return sum
}

// SetCentres copies the centre of every catalogue onto its beam's row.
// Catalogues without a row or without a centre are ignored.
func (s *Summary) SetCentres(catalogues []model.Catalogue) {
	for _, c := range catalogues {
		if c.Centre == nil {
			continue
		}
		for i := range s.Rows {
			if s.Rows[i].Beam == c.Beam {
				centre := *c.Centre
				s.Rows[i].Centre = &centre
				break
			}
		}
	}
}

// AddLoadFailure records a beam that never reached a search.
func (s *Summary) AddLoadFailure(beam int, err error) {
	for i := range s.Rows {
		if s.Rows[i].Beam == beam {
			s.Rows[i].Errors = append(s.Rows[i].Errors, err.Error())
			return
		}
	}
	s.Rows = append(s.Rows, BeamRow{Beam: beam, Errors: []string{err.Error()}})
	sort.SliceStable(s.Rows, func(i, j int) bool { return s.Rows[i].Beam < s.Rows[j].Beam })
}

func offsetPtr(o model.Offset) *model.Offset { return &o }
