package model

import "fmt"

// Catalogue is an ordered set of sources scoped to one beam, or to the
// whole survey when Beam == SurveyBeam.
type Catalogue struct {
	Beam    int
	Sources []Source

	// Path is the file the catalogue was read from, if any.
	Path string
	// Centre is a rough beam centre derived from the unfiltered components.
	Centre *Position
}

// Position is a sky position in degrees.
type Position struct {
	RA  float64 `json:"ra" yaml:"ra"`
	Dec float64 `json:"dec" yaml:"dec"`
}

// Len returns the number of sources.
func (c Catalogue) Len() int { return len(c.Sources) }

// IsEmpty reports whether the catalogue holds no sources.
func (c Catalogue) IsEmpty() bool { return len(c.Sources) == 0 }

// Label returns a short human-readable name for logs.
func (c Catalogue) Label() string {
	if c.Beam == SurveyBeam {
		return "survey"
	}
	return fmt.Sprintf("beam%02d", c.Beam)
}

// WithSources returns a copy of c carrying the given sources. The receiver
// is left untouched.
func (c Catalogue) WithSources(sources []Source) Catalogue {
	out := c
	out.Sources = sources
	return out
}

// Clone returns a deep copy of the catalogue.
func (c Catalogue) Clone() Catalogue {
	out := c
	out.Sources = append([]Source(nil), c.Sources...)
	if c.Centre != nil {
		centre := *c.Centre
		out.Centre = &centre
	}
	return out
}

// String implements fmt.Stringer.
func (c Catalogue) String() string {
	return fmt.Sprintf("Catalogue(%s, %d sources, path=%q)", c.Label(), len(c.Sources), c.Path)
}
