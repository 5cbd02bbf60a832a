package core

import (
	"fmt"
	"math/rand"

	"github.com/signalsfoundry/askapmetry/model"
)

// fieldSources returns n sources on a loose lattice around (ra0, dec0) with
// a small deterministic jitter. Neighbours sit roughly 0.02 deg apart, far
// beyond any trial offset used in tests.
func fieldSources(prefix string, beam int, ra0, dec0 float64, n int, seed int64) []model.Source {
	rng := rand.New(rand.NewSource(seed))
	out := make([]model.Source, n)
	for i := range out {
		row, col := i/4, i%4
		out[i] = model.Source{
			ID:   fmt.Sprintf("%s-%03d", prefix, i),
			Beam: beam,
			RA:   ra0 + float64(col)*0.02 + rng.Float64()*0.004,
			Dec:  dec0 + float64(row)*0.02 + rng.Float64()*0.004,
		}
	}
	return out
}

func catalogue(beam int, sources []model.Source) model.Catalogue {
	return model.Catalogue{Beam: beam, Sources: sources}
}

// rebeam copies sources into another beam with fresh IDs.
func rebeam(sources []model.Source, beam int, prefix string) []model.Source {
	out := make([]model.Source, len(sources))
	for i, s := range sources {
		s.Beam = beam
		s.ID = fmt.Sprintf("%s-%03d", prefix, i)
		out[i] = s
	}
	return out
}

func testSearcher(opts ...SearchOption) *Searcher {
	base := []SearchOption{
		WithGrid(SymmetricGrid(5, 0.5)),
		WithStatistic(SumSeparation{Cutoff: 5}),
		WithWorkers(2),
	}
	return NewSearcher(append(base, opts...)...)
}
