package model

// SurveyBeam marks a catalogue that is not scoped to a single beam, such as
// the full survey or an external reference catalogue.
const SurveyBeam = -1

// Source is a single catalogue entry. Positions are in degrees.
type Source struct {
	ID   string
	Beam int

	RA  float64
	Dec float64
}

// Position returns the source's RA and Dec in degrees.
func (s Source) Position() (ra, dec float64) {
	return s.RA, s.Dec
}
