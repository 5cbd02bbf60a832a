// Package catalogue reads radio and reference catalogues from disk and
// selects the compact, isolated components used for offset searches.
package catalogue

import (
	"fmt"
	"math"

	"github.com/signalsfoundry/askapmetry/core"
	"github.com/signalsfoundry/askapmetry/model"
)

// Component is one row of a source-finder component catalogue.
type Component struct {
	ID       string
	RA       float64 // deg
	Dec      float64 // deg
	IntFlux  float64
	PeakFlux float64
}

// FilterOptions selects unresolved and isolated components.
type FilterOptions struct {
	// MinRatio and MaxRatio bound int_flux/peak_flux, exclusive.
	MinRatio float64 `yaml:"min_ratio" json:"min_ratio"`
	MaxRatio float64 `yaml:"max_ratio" json:"max_ratio"`
	// IsolationDeg is the minimum distance to the nearest other component.
	IsolationDeg float64 `yaml:"isolation_deg" json:"isolation_deg"`
}

// DefaultFilterOptions keeps components with 0.8 < int/peak < 1.2 and no
// neighbour within 0.01 deg.
func DefaultFilterOptions() FilterOptions {
	return FilterOptions{MinRatio: 0.8, MaxRatio: 1.2, IsolationDeg: 0.01}
}

// Validate checks that the thresholds describe a non-empty selection.
func (o FilterOptions) Validate() error {
	if !(o.MinRatio < o.MaxRatio) {
		return fmt.Errorf("flux ratio window (%g, %g) is empty", o.MinRatio, o.MaxRatio)
	}
	if o.IsolationDeg < 0 || math.IsNaN(o.IsolationDeg) {
		return fmt.Errorf("isolation distance %g must not be negative", o.IsolationDeg)
	}
	return nil
}

// Filter returns the components that are both compact and isolated, in input
// order. Isolation is measured against every input component, not just the
// compact ones.
func Filter(components []Component, opts FilterOptions) ([]Component, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if len(components) == 0 {
		return nil, nil
	}

	all := make([]model.Source, len(components))
	for i, c := range components {
		all[i] = model.Source{ID: c.ID, Beam: model.SurveyBeam, RA: c.RA, Dec: c.Dec}
	}
	idx, err := core.NewReferenceIndex(model.Catalogue{Beam: model.SurveyBeam, Sources: all}, core.MetricGreatCircle)
	if err != nil {
		return nil, err
	}

	isolation := opts.IsolationDeg * model.ArcsecPerDegree
	out := make([]Component, 0, len(components))
	for i, c := range components {
		if !compact(c, opts) {
			continue
		}
		if _, sep := idx.NearestExcept(c.RA, c.Dec, i); sep <= isolation {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func compact(c Component, opts FilterOptions) bool {
	if c.PeakFlux == 0 {
		return false
	}
	ratio := c.IntFlux / c.PeakFlux
	return opts.MinRatio < ratio && ratio < opts.MaxRatio
}

// ToCatalogue converts components into a catalogue for beam.
func ToCatalogue(beam int, components []Component) model.Catalogue {
	sources := make([]model.Source, len(components))
	for i, c := range components {
		sources[i] = model.Source{ID: c.ID, Beam: beam, RA: c.RA, Dec: c.Dec}
	}
	return model.Catalogue{Beam: beam, Sources: sources}
}
