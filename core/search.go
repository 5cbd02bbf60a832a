package core

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/askapmetry/internal/logging"
	"github.com/signalsfoundry/askapmetry/model"
)

const tracerName = "github.com/signalsfoundry/askapmetry/core"

// PassSearch labels grid searches run directly rather than as part of the
// alignment or estimate passes.
const PassSearch Pass = "search"

// SearchRecorder receives measurements from grid searches.
type SearchRecorder interface {
	ObserveSearch(pass string, cells int, d time.Duration, err error)
	SetBeamOffset(pass string, beam int, off model.Offset)
}

// Searcher runs exhaustive offset grid searches. A Searcher holds no
// per-search state and may be shared between goroutines.
type Searcher struct {
	Grid      GridSpec
	Statistic Statistic
	Metric    Metric

	// Workers bounds the number of grid cells evaluated concurrently.
	Workers int
	// BeamWorkers bounds the number of beams searched concurrently.
	BeamWorkers int

	log     logging.Logger
	metrics SearchRecorder
	tracer  trace.Tracer
}

// SearchOption customises Searcher construction.
type SearchOption func(*Searcher)

// WithGrid sets the trial offset grid.
func WithGrid(g GridSpec) SearchOption {
	return func(s *Searcher) { s.Grid = g }
}

// WithStatistic sets the aggregation rule.
func WithStatistic(st Statistic) SearchOption {
	return func(s *Searcher) { s.Statistic = st }
}

// WithMetric sets the separation metric.
func WithMetric(m Metric) SearchOption {
	return func(s *Searcher) { s.Metric = m }
}

// WithWorkers sets cell-level parallelism. n <= 0 means GOMAXPROCS.
func WithWorkers(n int) SearchOption {
	return func(s *Searcher) { s.Workers = n }
}

// WithBeamWorkers sets beam-level parallelism. n <= 0 means one beam at a time.
func WithBeamWorkers(n int) SearchOption {
	return func(s *Searcher) { s.BeamWorkers = n }
}

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) SearchOption {
	return func(s *Searcher) { s.log = l }
}

// WithRecorder attaches an optional metrics recorder.
func WithRecorder(r SearchRecorder) SearchOption {
	return func(s *Searcher) { s.metrics = r }
}

// NewSearcher returns a Searcher using the default ±5" / 0.5" grid and a
// clipped-sum statistic unless overridden.
func NewSearcher(opts ...SearchOption) *Searcher {
	s := &Searcher{
		Grid:        DefaultGrid(),
		Statistic:   SumSeparation{Cutoff: 5},
		Metric:      MetricPlanar,
		BeamWorkers: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.log == nil {
		s.log = logging.Noop()
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(tracerName)
	}
	return s
}

// Search evaluates the statistic at every trial offset of the grid. For each
// trial offset the radio catalogue is shifted back by that offset and
// matched against ref, so the best-fit cell estimates how far radio sits
// from ref. Inputs are validated before any cell is computed.
func (s *Searcher) Search(ctx context.Context, radio, ref model.Catalogue) (grid *StatisticGrid, err error) {
	start := time.Now()
	defer func() { s.observe(PassSearch, start, err) }()

	grid, _, err = s.search(ctx, PassSearch, radio, ref, false)
	return grid, err
}

// SearchResult carries a grid together with its best cell and the
// per-source matches at that cell.
type SearchResult struct {
	Grid    *StatisticGrid
	Best    BestFit
	Matches []model.MatchResult
}

// SearchWithMatches is Search followed by best-fit extraction. It also
// returns the individual matches at the best offset for diagnostics.
func (s *Searcher) SearchWithMatches(ctx context.Context, radio, ref model.Catalogue) (res *SearchResult, err error) {
	start := time.Now()
	defer func() { s.observe(PassSearch, start, err) }()

	grid, idx, err := s.search(ctx, PassSearch, radio, ref, true)
	if err != nil {
		return nil, err
	}
	best, err := grid.Best()
	if err != nil {
		return &SearchResult{Grid: grid}, err
	}
	matches, err := idx.matchCorrected(radio.Sources, best.Offset)
	if err != nil {
		return &SearchResult{Grid: grid, Best: best}, err
	}
	return &SearchResult{Grid: grid, Best: best, Matches: matches}, nil
}

// bestOffset runs one search and extracts its best fit together with the
// matches at that offset. The search is recorded as failed when no best fit
// exists.
func (s *Searcher) bestOffset(ctx context.Context, pass Pass, radio, ref model.Catalogue) (grid *StatisticGrid, best BestFit, matches []model.MatchResult, err error) {
	start := time.Now()
	defer func() { s.observe(pass, start, err) }()

	grid, idx, err := s.search(ctx, pass, radio, ref, true)
	if err != nil {
		return nil, BestFit{}, nil, err
	}
	best, err = grid.Best()
	if err != nil {
		return grid, BestFit{}, nil, err
	}
	matches, err = idx.matchCorrected(radio.Sources, best.Offset)
	if err != nil {
		return grid, BestFit{}, nil, err
	}
	if s.metrics != nil {
		s.metrics.SetBeamOffset(string(pass), radio.Beam, best.Offset)
	}
	return grid, best, matches, nil
}

func (s *Searcher) observe(pass Pass, start time.Time, err error) {
	if s.metrics != nil {
		s.metrics.ObserveSearch(string(pass), s.Grid.Cells(), time.Since(start), err)
	}
}

func (s *Searcher) search(ctx context.Context, pass Pass, radio, ref model.Catalogue, keepIndex bool) (grid *StatisticGrid, idx *ReferenceIndex, err error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "core.Search", trace.WithAttributes(
		attribute.String("pass", string(pass)),
		attribute.Int("beam", radio.Beam),
		attribute.Int("radio_sources", radio.Len()),
		attribute.Int("reference_sources", ref.Len()),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := s.validate(radio, ref); err != nil {
		return nil, nil, err
	}

	idx, err = NewReferenceIndex(ref, s.Metric)
	if err != nil {
		return nil, nil, err
	}

	grid = newStatisticGrid(s.Grid, s.Statistic)
	if err := s.fill(ctx, grid, radio.Sources, idx); err != nil {
		return nil, nil, err
	}

	s.log.Debug(ctx, "grid search complete",
		logging.String("pass", string(pass)),
		logging.String("catalogue", radio.Label()),
		logging.Int("cells", s.Grid.Cells()),
		logging.Duration("elapsed", time.Since(start)),
	)
	if !keepIndex {
		idx = nil
	}
	return grid, idx, nil
}

func (s *Searcher) validate(radio, ref model.Catalogue) error {
	if s.Statistic == nil {
		return fmt.Errorf("no statistic configured: %w", ErrBadStatistic)
	}
	if err := s.Statistic.Validate(); err != nil {
		return err
	}
	if err := s.Grid.Validate(); err != nil {
		return err
	}
	if radio.IsEmpty() {
		return fmt.Errorf("radio %s: %w", radio.Label(), ErrEmptyCatalogue)
	}
	if ref.IsEmpty() {
		return fmt.Errorf("reference %s: %w", ref.Label(), ErrEmptyCatalogue)
	}
	if err := checkCoordinates(radio); err != nil {
		return fmt.Errorf("radio %s: %w", radio.Label(), err)
	}
	return nil
}

// fill computes every cell exactly once. Workers pull cell indices from a
// shared channel and write only to the cell they pulled.
func (s *Searcher) fill(ctx context.Context, grid *StatisticGrid, sources []model.Source, idx *ReferenceIndex) error {
	rows, cols := grid.Dims()
	cells := rows * cols

	workers := s.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > cells {
		workers = cells
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			buf := make([]float64, 0, len(sources))
			for k := range jobs {
				i, j := k/cols, k%cols
				buf = idx.separations(sources, grid.OffsetAt(i, j), buf)
				grid.set(i, j, s.Statistic.Reduce(buf))
			}
		}()
	}

	var err error
	for k := 0; k < cells; k++ {
		if err = ctx.Err(); err != nil {
			break
		}
		jobs <- k
	}
	close(jobs)
	wg.Wait()
	return err
}
