package core

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/signalsfoundry/askapmetry/model"
)

func TestSearch_Deterministic(t *testing.T) {
	ref := catalogue(model.SurveyBeam, fieldSources("ir", model.SurveyBeam, 150, -30, 16, 7))
	radio := model.Offset{RA: 1.2, Dec: -0.7}.DisplaceCatalogue(catalogue(2, rebeam(ref.Sources[:10], 2, "r")))

	s := testSearcher()
	first, err := s.Search(context.Background(), radio, ref)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	second, err := s.Search(context.Background(), radio, ref)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !first.Equal(second) {
		t.Fatalf("repeated searches produced different grids")
	}
}

func TestSearch_WorkerCountDoesNotChangeGrid(t *testing.T) {
	ref := catalogue(model.SurveyBeam, fieldSources("ir", model.SurveyBeam, 150, -30, 16, 3))
	radio := model.Offset{RA: -2, Dec: 0.5}.DisplaceCatalogue(catalogue(1, rebeam(ref.Sources, 1, "r")))

	serial, err := testSearcher(WithWorkers(1)).Search(context.Background(), radio, ref)
	if err != nil {
		t.Fatalf("serial Search: %v", err)
	}
	parallel, err := testSearcher(WithWorkers(8)).Search(context.Background(), radio, ref)
	if err != nil {
		t.Fatalf("parallel Search: %v", err)
	}
	if !serial.Equal(parallel) {
		t.Fatalf("worker count changed the statistic grid")
	}
}

func TestSearch_ZeroOffsetForIdenticalCatalogues(t *testing.T) {
	sources := fieldSources("s", 0, 150, -30, 12, 11)
	radio := catalogue(0, sources)
	ref := catalogue(model.SurveyBeam, rebeam(sources, model.SurveyBeam, "ref"))

	stats := []Statistic{
		MatchCount{Cutoff: 1}, // plateau around the origin; tie-break must pick (0,0)
		MeanSeparation{},
		MedianSeparation{},
		SumSeparation{Cutoff: 5},
	}
	for _, st := range stats {
		res, err := testSearcher(WithStatistic(st)).SearchWithMatches(context.Background(), radio, ref)
		if err != nil {
			t.Fatalf("%s: SearchWithMatches: %v", st.Name(), err)
		}
		if !res.Best.Offset.IsZero() {
			t.Fatalf("%s: best offset %v, want (0,0)", st.Name(), res.Best.Offset)
		}
		if len(res.Matches) != radio.Len() {
			t.Fatalf("%s: got %d matches, want %d", st.Name(), len(res.Matches), radio.Len())
		}
		for i, m := range res.Matches {
			if m.ReferenceIndex != i || m.Separation > 1e-9 {
				t.Fatalf("%s: match %d = %+v, want self-match", st.Name(), i, m)
			}
		}
	}
}

// countingStatistic returns a distinct positive value for each call.
type countingStatistic struct {
	calls *atomic.Int64
}

func (c countingStatistic) Name() string    { return "counting" }
func (c countingStatistic) Goal() Goal      { return Maximize }
func (c countingStatistic) Validate() error { return nil }
func (c countingStatistic) Reduce([]float64) float64 {
	return float64(c.calls.Add(1))
}

func TestSearch_EveryCellComputedExactlyOnce(t *testing.T) {
	ref := catalogue(model.SurveyBeam, fieldSources("ir", model.SurveyBeam, 150, -30, 4, 1))
	radio := catalogue(0, rebeam(ref.Sources, 0, "r"))
	spec := GridSpec{RA: Axis{-3, 3, 0.5}, Dec: Axis{-1, 2, 0.25}}

	calls := &atomic.Int64{}
	s := testSearcher(WithGrid(spec), WithStatistic(countingStatistic{calls: calls}), WithWorkers(6))
	grid, err := s.Search(context.Background(), radio, ref)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	rows, cols := grid.Dims()
	if rows != spec.Dec.Len() || cols != spec.RA.Len() {
		t.Fatalf("grid dims %dx%d, want %dx%d", rows, cols, spec.Dec.Len(), spec.RA.Len())
	}
	if got := calls.Load(); got != int64(spec.Cells()) {
		t.Fatalf("statistic evaluated %d times, want %d", got, spec.Cells())
	}
	seen := make(map[float64]bool, spec.Cells())
	for _, c := range grid.Cells() {
		if c.Value == 0 {
			t.Fatalf("cell (%d,%d) never populated", c.Row, c.Col)
		}
		if seen[c.Value] {
			t.Fatalf("value %v written to more than one cell", c.Value)
		}
		seen[c.Value] = true
	}
}

func TestSearch_EmptyCatalogue(t *testing.T) {
	ref := catalogue(model.SurveyBeam, fieldSources("ir", model.SurveyBeam, 150, -30, 4, 1))
	calls := &atomic.Int64{}
	s := testSearcher(WithStatistic(countingStatistic{calls: calls}))

	grid, err := s.Search(context.Background(), catalogue(0, nil), ref)
	if !errors.Is(err, ErrEmptyCatalogue) {
		t.Fatalf("empty radio: got %v, want ErrEmptyCatalogue", err)
	}
	if grid != nil {
		t.Fatalf("expected no grid on failure")
	}
	if calls.Load() != 0 {
		t.Fatalf("statistic evaluated %d times before failing", calls.Load())
	}

	if _, err := s.Search(context.Background(), catalogue(0, ref.Sources), catalogue(model.SurveyBeam, nil)); !errors.Is(err, ErrEmptyCatalogue) {
		t.Fatalf("empty reference: got %v, want ErrEmptyCatalogue", err)
	}
}

func TestSearch_InvalidGrid(t *testing.T) {
	ref := catalogue(model.SurveyBeam, fieldSources("ir", model.SurveyBeam, 150, -30, 4, 1))
	s := testSearcher(WithGrid(GridSpec{RA: Axis{-1, 1, 0.5}, Dec: Axis{0, 0, 0.5}}))
	grid, err := s.Search(context.Background(), catalogue(0, ref.Sources), ref)
	if !errors.Is(err, ErrInvalidGrid) {
		t.Fatalf("got %v, want ErrInvalidGrid", err)
	}
	if grid != nil {
		t.Fatalf("expected no grid on failure")
	}
}

func TestSearch_OversizedGridFailsBeforeAllocating(t *testing.T) {
	ref := catalogue(model.SurveyBeam, fieldSources("ir", model.SurveyBeam, 150, -30, 4, 1))
	for _, g := range []GridSpec{SymmetricGrid(2e6, 0.001), SymmetricGrid(1e308, 1e-300)} {
		grid, err := testSearcher(WithGrid(g)).Search(context.Background(), catalogue(0, ref.Sources), ref)
		if !errors.Is(err, ErrInvalidGrid) {
			t.Fatalf("%+v: got %v, want ErrInvalidGrid", g, err)
		}
		if grid != nil {
			t.Fatalf("%+v: expected no grid on failure", g)
		}
	}
}

func TestSearch_RejectsNonFiniteRadioSource(t *testing.T) {
	ref := catalogue(model.SurveyBeam, fieldSources("ir", model.SurveyBeam, 150, -30, 4, 1))
	radio := catalogue(0, rebeam(ref.Sources, 0, "r"))
	radio.Sources[2].Dec = math.NaN()
	if _, err := testSearcher().Search(context.Background(), radio, ref); !errors.Is(err, ErrInvalidCoordinate) {
		t.Fatalf("got %v, want ErrInvalidCoordinate", err)
	}
}

func TestSearch_Cancelled(t *testing.T) {
	ref := catalogue(model.SurveyBeam, fieldSources("ir", model.SurveyBeam, 150, -30, 4, 1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := testSearcher().Search(ctx, catalogue(0, ref.Sources), ref); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}

type recorderStub struct {
	mu       sync.Mutex
	searches int
	failures int
	offsets  map[int]model.Offset
}

func (r *recorderStub) ObserveSearch(_ string, _ int, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.searches++
	if err != nil {
		r.failures++
	}
}

func (r *recorderStub) SetBeamOffset(_ string, beam int, off model.Offset) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offsets[beam] = off
}

func TestSearch_RecordsMetrics(t *testing.T) {
	rec := &recorderStub{offsets: map[int]model.Offset{}}
	ref := catalogue(model.SurveyBeam, fieldSources("ir", model.SurveyBeam, 150, -30, 8, 1))
	radio := model.Offset{RA: 1, Dec: 1}.DisplaceCatalogue(catalogue(6, rebeam(ref.Sources, 6, "r")))

	s := testSearcher(WithRecorder(rec))
	if _, err := s.EstimateOffsets(context.Background(), []model.Catalogue{radio}, ref); err != nil {
		t.Fatalf("EstimateOffsets: %v", err)
	}
	if _, err := s.Search(context.Background(), catalogue(0, nil), ref); err == nil {
		t.Fatalf("expected empty catalogue error")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.searches != 2 || rec.failures != 1 {
		t.Fatalf("recorded %d searches / %d failures, want 2 / 1", rec.searches, rec.failures)
	}
	if got := rec.offsets[6]; got != (model.Offset{RA: 1, Dec: 1}) {
		t.Fatalf("recorded offset %v for beam 6, want (1,1)", got)
	}
}

func TestSearch_BestFitFailureRecordedAsError(t *testing.T) {
	rec := &recorderStub{offsets: map[int]model.Offset{}}
	ref := catalogue(model.SurveyBeam, fieldSources("ir", model.SurveyBeam, 150, -30, 8, 1))
	// Nowhere near the reference, so no trial offset yields a match under
	// the count cutoff.
	far := catalogue(3, fieldSources("r", 3, 10, 40, 8, 2))

	s := testSearcher(WithRecorder(rec), WithStatistic(MatchCount{Cutoff: 1}))
	res, err := s.EstimateOffsets(context.Background(), []model.Catalogue{far}, ref)
	if err != nil {
		t.Fatalf("EstimateOffsets: %v", err)
	}
	if len(res.Failures) != 1 || !errors.Is(res.Failures[0], ErrNoMatches) {
		t.Fatalf("failures %v, want one ErrNoMatches", res.Failures)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.searches != 1 || rec.failures != 1 {
		t.Fatalf("recorded %d searches / %d failures, want 1 / 1", rec.searches, rec.failures)
	}
	if _, ok := rec.offsets[3]; ok {
		t.Fatalf("offset recorded for a beam without a best fit")
	}
}
