package core

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/askapmetry/model"
)

// beamOutcome is the result of one beam's search within a pass.
type beamOutcome struct {
	beam    int
	grid    *StatisticGrid
	best    BestFit
	matches []model.MatchResult
	err     error
}

// runBeams searches every catalogue against the reference returned by refFor,
// using up to BeamWorkers goroutines. Outcomes are returned in input order,
// so concurrency never changes the result.
func (s *Searcher) runBeams(ctx context.Context, pass Pass, beams []model.Catalogue, refFor func(model.Catalogue) model.Catalogue) []beamOutcome {
	out := make([]beamOutcome, len(beams))

	workers := s.BeamWorkers
	if workers <= 0 {
		workers = 1
	}
	if workers > len(beams) {
		workers = len(beams)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				c := beams[i]
				o := beamOutcome{beam: c.Beam}
				if err := ValidateCatalogue(c); err != nil {
					o.err = err
				} else {
					o.grid, o.best, o.matches, o.err = s.bestOffset(ctx, pass, c, refFor(c))
				}
				out[i] = o
			}
		}()
	}
	for i := range beams {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return out
}

func checkDistinctBeams(beams []model.Catalogue) error {
	seen := make(map[int]struct{}, len(beams))
	for _, c := range beams {
		if _, dup := seen[c.Beam]; dup {
			return fmt.Errorf("beam %d: %w", c.Beam, ErrDuplicateBeam)
		}
		seen[c.Beam] = struct{}{}
	}
	return nil
}

func sortedBeams(m map[int]model.Offset) []int {
	beams := make([]int, 0, len(m))
	for b := range m {
		beams = append(beams, b)
	}
	sort.Ints(beams)
	return beams
}
