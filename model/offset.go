package model

import (
	"fmt"
	"math"
)

// ArcsecPerDegree converts between degrees and arcseconds.
const ArcsecPerDegree = 3600.0

// Offset is an on-sky displacement in arcseconds. RA is measured along the
// great circle, so shifting a source by RA moves its right ascension by
// RA / cos(Dec).
//
// An Offset found by a grid search describes how far a catalogue sits from
// its reference; Correct removes it and Displace induces it.
type Offset struct {
	RA  float64 `json:"ra" yaml:"ra"`
	Dec float64 `json:"dec" yaml:"dec"`
}

// Zero is the null offset.
var Zero = Offset{}

// IsZero reports whether both components are zero.
func (o Offset) IsZero() bool { return o.RA == 0 && o.Dec == 0 }

// Add returns o + other.
func (o Offset) Add(other Offset) Offset {
	return Offset{RA: o.RA + other.RA, Dec: o.Dec + other.Dec}
}

// Neg returns -o.
func (o Offset) Neg() Offset { return Offset{RA: -o.RA, Dec: -o.Dec} }

// Norm returns the offset length in arcseconds.
func (o Offset) Norm() float64 { return math.Hypot(o.RA, o.Dec) }

// Displace returns s moved by o.
func (o Offset) Displace(s Source) Source {
	return shift(s, o.RA, o.Dec)
}

// Correct returns s moved by -o.
func (o Offset) Correct(s Source) Source {
	return shift(s, -o.RA, -o.Dec)
}

// DisplaceCatalogue returns a new catalogue with every source displaced by o.
func (o Offset) DisplaceCatalogue(c Catalogue) Catalogue {
	return mapSources(c, o.Displace)
}

// CorrectCatalogue returns a new catalogue with o removed from every source.
func (o Offset) CorrectCatalogue(c Catalogue) Catalogue {
	return mapSources(c, o.Correct)
}

func (o Offset) String() string {
	return fmt.Sprintf("(%+.3f\", %+.3f\")", o.RA, o.Dec)
}

// shift scales the RA step by cos of the midpoint Dec, which is the same for
// a shift and its inverse, so Correct exactly undoes Displace.
func shift(s Source, dRA, dDec float64) Source {
	mid := s.Dec + dDec/2/ArcsecPerDegree
	cosDec := math.Cos(mid * math.Pi / 180)
	if cosDec < 1e-9 {
		cosDec = 1e-9
	}
	s.RA += dRA / ArcsecPerDegree / cosDec
	s.Dec += dDec / ArcsecPerDegree
	s.RA = math.Mod(s.RA, 360)
	if s.RA < 0 {
		s.RA += 360
	}
	return s
}

func mapSources(c Catalogue, fn func(Source) Source) Catalogue {
	out := make([]Source, len(c.Sources))
	for i, s := range c.Sources {
		out[i] = fn(s)
	}
	return c.WithSources(out)
}
