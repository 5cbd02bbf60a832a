package model

// MatchResult is the nearest reference counterpart of one source for one
// trial offset. Separation is in arcseconds.
type MatchResult struct {
	SourceID       string
	ReferenceID    string
	ReferenceIndex int
	Separation     float64
}
