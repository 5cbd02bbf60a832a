package core

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyCatalogue = errors.New("empty catalogue")
	ErrInvalidGrid    = errors.New("invalid offset grid")
	ErrMismatchedBeam = errors.New("source beam does not match catalogue beam")
	ErrUnknownBeam    = errors.New("beam not found")
	ErrDuplicateBeam  = errors.New("beam listed more than once")
	ErrNoMatches      = errors.New("no trial offset produced a usable statistic")
	ErrBadStatistic   = errors.New("invalid statistic")

	ErrInvalidCoordinate = errors.New("invalid sky coordinate")
)

// Pass names the stage a beam search ran in.
type Pass string

const (
	PassAlignment Pass = "alignment"
	PassEstimate  Pass = "estimate"
)

// BeamError reports a search that failed for one beam. Other beams in the
// same pass are unaffected.
type BeamError struct {
	Beam int
	Pass Pass
	Err  error
}

// Sub returns p qualified by label, for example "estimate_aligned".
func (p Pass) Sub(label string) Pass {
	if label == "" {
		return p
	}
	return p + "_" + Pass(label)
}

func (e *BeamError) Error() string {
	return fmt.Sprintf("beam %02d %s search: %v", e.Beam, e.Pass, e.Err)
}

func (e *BeamError) Unwrap() error { return e.Err }
