package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/askapmetry/core"
	"github.com/signalsfoundry/askapmetry/internal/catalogue"
	"github.com/signalsfoundry/askapmetry/internal/config"
	"github.com/signalsfoundry/askapmetry/internal/logging"
	"github.com/signalsfoundry/askapmetry/internal/observability"
	"github.com/signalsfoundry/askapmetry/internal/printer"
	"github.com/signalsfoundry/askapmetry/internal/report"
	"github.com/signalsfoundry/askapmetry/kb"
	"github.com/signalsfoundry/askapmetry/model"
)

const tracerName = "github.com/signalsfoundry/askapmetry/cmd/askapmetry"

// pipeline carries everything one command invocation needs: the resolved
// config, the catalogue store, a searcher wired to metrics and tracing, and
// the output sinks.
type pipeline struct {
	cfg   *config.Config
	log   logging.Logger
	print *printer.Printer
	runID string

	store    *kb.Store
	searcher *core.Searcher
	search   *observability.SearchCollector
	run      *observability.RunCollector

	loadFailures []*catalogue.LoadError
	started      time.Time
	span         trace.Span
	closers      []func()
}

// newPipeline wires logging, metrics, tracing and the searcher. The returned
// context carries the run id and logger. Call close when done.
func newPipeline(ctx context.Context, name string, cfg *config.Config, opts *options, p *printer.Printer) (context.Context, *pipeline, error) {
	base := logging.New(logging.Config{
		Level:  firstNonEmpty(opts.logLevel, os.Getenv("LOG_LEVEL")),
		Format: firstNonEmpty(opts.logFormat, os.Getenv("LOG_FORMAT")),
		Output: p.Err,
	})
	if opts.runID != "" {
		ctx = logging.ContextWithRunID(ctx, opts.runID)
	}
	ctx, log := logging.WithRunLogger(ctx, base)
	ctx = logging.ContextWithLogger(ctx, log)

	pl := &pipeline{
		cfg:     cfg,
		log:     log,
		print:   p,
		runID:   logging.RunIDFromContext(ctx),
		store:   kb.NewStore(),
		started: time.Now(),
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	var err error
	if pl.search, err = observability.NewSearchCollector(reg); err != nil {
		return ctx, nil, fmt.Errorf("failed to initialise search metrics: %w", err)
	}
	if pl.run, err = observability.NewRunCollector(reg); err != nil {
		return ctx, nil, fmt.Errorf("failed to initialise run metrics: %w", err)
	}
	if cfg.MetricsAddr != "" {
		srv := serveMetrics(cfg.MetricsAddr, pl.search.Handler(), log)
		pl.closers = append(pl.closers, func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		})
	}

	shutdown, err := observability.InitTracing(ctx, cfg.Tracing, log)
	if err != nil {
		pl.close()
		return ctx, nil, fmt.Errorf("failed to initialise tracing: %w", err)
	}
	pl.closers = append(pl.closers, func() {
		observability.ShutdownWithTimeout(context.Background(), shutdown, log)
	})

	searchOpts, err := cfg.Search.SearchOptions()
	if err != nil {
		pl.close()
		return ctx, nil, err
	}
	searchOpts = append(searchOpts, core.WithLogger(log), core.WithRecorder(pl.search))
	pl.searcher = core.NewSearcher(searchOpts...)

	unsubscribe := pl.store.Subscribe(func(ev kb.Event) {
		log.Debug(ctx, "catalogue store updated",
			logging.String("event", ev.Type.String()),
			logging.Beam(ev.Beam),
			logging.Int("sources", ev.Sources),
		)
	})
	pl.closers = append(pl.closers, unsubscribe)

	ctx, pl.span = otel.Tracer(tracerName).Start(ctx, "askapmetry."+name, trace.WithAttributes(
		attribute.String("run_id", pl.runID),
		attribute.Int("sbid", cfg.Input.SBID),
	))
	pl.closers = append(pl.closers, func() { pl.span.End() })

	log.Info(ctx, "run started",
		logging.String("command", name),
		logging.Int("sbid", cfg.Input.SBID),
		logging.Int("beams", len(cfg.Input.Beams)),
		logging.String("statistic", pl.searcher.Statistic.Name()),
		logging.String("metric", pl.searcher.Metric.String()),
	)
	return ctx, pl, nil
}

// close releases resources in reverse order of acquisition.
func (pl *pipeline) close() {
	for i := len(pl.closers) - 1; i >= 0; i-- {
		pl.closers[i]()
	}
	pl.closers = nil
}

// loadBeams reads every configured beam into the store. Beams that cannot
// be read are remembered for the summary; an error is returned only when
// none could be loaded.
func (pl *pipeline) loadBeams(ctx context.Context) error {
	pl.print.Step("Loading %d beam catalogues from %s", len(pl.cfg.Input.Beams), pl.cfg.Input.Dir)

	cats, failures := catalogue.LoadBeams(ctx, pl.cfg.LoadOptions())
	for _, c := range cats {
		if err := pl.store.AddCatalogue(c); err != nil {
			failures = append(failures, &catalogue.LoadError{Beam: c.Beam, Path: c.Path, Err: err})
		}
	}
	pl.loadFailures = failures

	for _, f := range failures {
		pl.print.Warning("%v", f)
		pl.log.Warn(ctx, "beam catalogue not loaded", logging.Beam(f.Beam), logging.Err(f.Err))
	}
	loaded := len(pl.store.Beams())
	pl.run.SetBeamsLoaded(loaded)
	pl.run.AddBeamFailures("load", len(failures))

	if loaded == 0 {
		return pl.print.Error(
			"No beam catalogues loaded",
			fmt.Sprintf("None of the %d requested beams could be read.", len(pl.cfg.Input.Beams)),
			"check --dir and --sbid point at the component catalogues",
			fmt.Sprintf("check --pattern (currently %q)", pl.cfg.Input.Pattern),
		)
	}
	pl.print.Success("Loaded %d beam catalogues", loaded)
	return nil
}

// loadReference reads the external reference catalogue into the store.
func (pl *pipeline) loadReference(ctx context.Context) (model.Catalogue, error) {
	path := pl.cfg.Input.Reference
	if path == "" {
		return model.Catalogue{}, pl.print.Error(
			"No reference catalogue",
			"Offsets are measured against an external reference catalogue.",
			"pass --reference or set input.reference in the config",
		)
	}
	ref, err := catalogue.LoadReference(path)
	if err != nil {
		return model.Catalogue{}, pl.print.Error("Failed to load reference catalogue", err.Error())
	}
	if ref.IsEmpty() {
		return model.Catalogue{}, pl.print.Error("Reference catalogue is empty", path)
	}
	pl.store.SetReference(ref)
	pl.log.Info(ctx, "reference catalogue loaded", logging.String("path", path), logging.Int("sources", ref.Len()))
	stored, _ := pl.store.Reference()
	return stored, nil
}

func (pl *pipeline) align(ctx context.Context) (*core.AlignmentResult, error) {
	pl.print.Step("Aligning beams onto beam %02d", pl.cfg.ReferenceBeam)
	res, err := pl.searcher.AlignBeams(ctx, pl.store.Catalogues(), pl.cfg.ReferenceBeam)
	if err != nil {
		if errors.Is(err, core.ErrUnknownBeam) || errors.Is(err, core.ErrEmptyCatalogue) {
			return nil, pl.print.Error(
				"Reference beam unusable",
				err.Error(),
				"choose another --reference-beam",
				"or pass --skip-alignment",
			)
		}
		return nil, err
	}
	pl.run.AddBeamFailures(string(core.PassAlignment), len(res.Failures))
	if err := pl.writeGrids(ctx, core.PassAlignment, res.Grids, res.Matches); err != nil {
		return nil, err
	}
	return res, nil
}

// estimate runs one labelled estimate pass. The label keeps metrics, grid
// files and failures of the aligned and raw passes apart.
func (pl *pipeline) estimate(ctx context.Context, label string, beams []model.Catalogue, ref model.Catalogue) (*core.EstimateResult, error) {
	pass := core.PassEstimate.Sub(label)
	pl.print.Step("Estimating %s offsets for %d beams against %d reference sources", label, len(beams), ref.Len())
	res, err := pl.searcher.EstimateOffsets(ctx, beams, ref, core.WithPass(pass))
	if err != nil {
		return nil, err
	}
	pl.run.AddBeamFailures(string(pass), len(res.Failures))
	if err := pl.writeGrids(ctx, pass, res.Grids, res.Matches); err != nil {
		return nil, err
	}
	return res, nil
}

// writeGrids writes each beam's statistic grid and best-fit matches when a
// grid directory is configured.
func (pl *pipeline) writeGrids(ctx context.Context, pass core.Pass, grids map[int]*core.StatisticGrid, matches map[int][]model.MatchResult) error {
	if pl.cfg.Output.GridDir == "" || len(grids) == 0 {
		return nil
	}
	paths, err := report.WriteGridFiles(pl.cfg.Output.GridDir, pass, grids)
	if err != nil {
		return fmt.Errorf("failed to write %s grids: %w", pass, err)
	}
	matchPaths, err := report.WriteMatchFiles(pl.cfg.Output.GridDir, pass, matches)
	if err != nil {
		return fmt.Errorf("failed to write %s matches: %w", pass, err)
	}
	pl.log.Debug(ctx, "statistic grids written",
		logging.String("pass", string(pass)),
		logging.Int("grid_files", len(paths)),
		logging.Int("match_files", len(matchPaths)),
	)
	return nil
}

// finish writes the summary to every configured sink and decides the exit
// status: an error only when no beam produced a clean result.
func (pl *pipeline) finish(ctx context.Context, out io.Writer, sum report.Summary) error {
	sum.RunID = pl.runID
	sum.SetCentres(pl.store.Catalogues())
	for _, f := range pl.loadFailures {
		sum.AddLoadFailure(f.Beam, f)
	}

	if pl.cfg.Output.Table {
		if err := report.WriteTable(out, sum); err != nil {
			return fmt.Errorf("failed to render table: %w", err)
		}
	}
	if err := pl.writeJSON(out, sum); err != nil {
		return err
	}
	if pl.cfg.Redis != nil {
		if err := pl.publish(ctx, sum); err != nil {
			pl.print.Warning("Redis publication failed: %v", err)
			pl.log.Warn(ctx, "redis publication failed", logging.Err(err))
		}
	}

	elapsed := time.Since(pl.started)
	pl.run.ObserveRun(elapsed)
	pl.log.Info(ctx, "run finished",
		logging.Int("beams", len(sum.Rows)),
		logging.Int("failed", sum.Failed()),
		logging.Duration("elapsed", elapsed),
	)

	if sum.AllFailed() {
		return pl.print.Error(
			"All beams failed",
			fmt.Sprintf("None of the %d beams produced an offset.", len(sum.Rows)),
			"rerun with --log-level=debug for per-beam detail",
		)
	}
	if n := sum.Failed(); n > 0 {
		pl.print.Warning("%d of %d beams reported errors", n, len(sum.Rows))
	} else {
		pl.print.Success("All %d beams succeeded", len(sum.Rows))
	}
	return nil
}

func (pl *pipeline) writeJSON(out io.Writer, sum report.Summary) error {
	switch path := pl.cfg.Output.JSON; path {
	case "":
		return nil
	case "-":
		return report.WriteJSON(out, sum)
	default:
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", path, err)
		}
		if err := report.WriteJSON(f, sum); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}
}

func (pl *pipeline) publish(ctx context.Context, sum report.Summary) error {
	pub := report.NewRedisPublisher(&redis.Options{
		Addr:     pl.cfg.Redis.Addr,
		Password: pl.cfg.Redis.Password,
		DB:       pl.cfg.Redis.DB,
	}, pl.cfg.Redis.TTL)
	defer pub.Close()

	if err := pub.Publish(ctx, pl.runID, sum); err != nil {
		return err
	}
	pl.print.Success("Published run %s to Redis at %s", pl.runID, pl.cfg.Redis.Addr)
	return nil
}

func serveMetrics(addr string, handler http.Handler, log logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
