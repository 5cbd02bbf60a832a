package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/askapmetry/internal/config"
	"github.com/signalsfoundry/askapmetry/internal/printer"
)

var versionString = "dev"

// SetVersionInfo sets the version reported by --version.
func SetVersionInfo(v, c, d string) {
	versionString = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

// Execute builds the command tree on stdout/stderr and runs it until it
// finishes or the process is interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return NewRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx)
}

// options holds flag values shared by every subcommand. Only flags the user
// actually set override the config file.
type options struct {
	configPath string
	logLevel   string
	logFormat  string

	dir         string
	sbid        int
	beams       string
	pattern     string
	reference   string
	refBeam     int
	skipAlign   bool
	statistic   string
	cutoff      float64
	extent      float64
	step        float64
	metric      string
	workers     int
	beamWorkers int

	jsonOut     string
	table       bool
	gridDir     string
	metricsAddr string
	redisAddr   string
	redisTTL    time.Duration
	runID       string
}

// NewRootCmd returns the askapmetry command tree writing reports to out and
// status/logs to errOut.
func NewRootCmd(out, errOut io.Writer) *cobra.Command {
	opts := &options{}
	p := printer.New(out, errOut)

	root := &cobra.Command{
		Use:   "askapmetry",
		Short: "Per-beam astrometric offsets for ASKAP component catalogues",
		Long: `askapmetry measures the astrometric offset of every beam of an ASKAP
observation. Beams are first aligned onto a reference beam and then compared
against an external reference catalogue with an exhaustive offset grid search.`,
		Version:       versionString,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "YAML config file (flags override it)")
	pf.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error (default LOG_LEVEL or info)")
	pf.StringVar(&opts.logFormat, "log-format", "", "Log format: text or json (default LOG_FORMAT or text)")

	pf.StringVarP(&opts.dir, "dir", "d", "", "Directory holding the per-beam component catalogues")
	pf.IntVar(&opts.sbid, "sbid", 0, "Scheduling block id used in catalogue file names")
	pf.StringVar(&opts.beams, "beams", "", `Beams to process, e.g. "0-35" or "0,3,5-7"`)
	pf.StringVar(&opts.pattern, "pattern", "", "Catalogue file pattern with {sbid} and {beam} placeholders")

	pf.StringVar(&opts.statistic, "statistic", "", "Aggregation rule: count, mean, median or sum")
	pf.Float64Var(&opts.cutoff, "cutoff", 0, "Separation cutoff for the statistic (arcsec)")
	pf.Float64Var(&opts.extent, "extent", 0, "Grid half-width on both axes (arcsec)")
	pf.Float64Var(&opts.step, "step", 0, "Grid spacing (arcsec)")
	pf.StringVar(&opts.metric, "metric", "", "Separation metric: planar or great-circle")
	pf.IntVar(&opts.workers, "workers", 0, "Grid cells evaluated concurrently (0 = GOMAXPROCS)")
	pf.IntVar(&opts.beamWorkers, "beam-workers", 0, "Beams searched concurrently")

	pf.StringVar(&opts.jsonOut, "json", "", `Write the JSON summary to this path ("-" for stdout)`)
	pf.BoolVar(&opts.table, "table", true, "Print the summary table on stdout")
	pf.StringVar(&opts.gridDir, "grid-dir", "", "Write every statistic grid as CSV into this directory")
	pf.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus /metrics on this address while running")

	root.AddCommand(
		newAlignCmd(opts, p),
		newEstimateCmd(opts, p),
		newRunCmd(opts, p),
	)
	return root
}

// loadConfig resolves the effective configuration: defaults, then the
// config file and environment, then explicitly set flags, then adjust.
func loadConfig(cmd *cobra.Command, opts *options, adjust ...func(*config.Config)) (*config.Config, error) {
	var cfg *config.Config
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.Default()
		if err := cfg.ApplyEnv(); err != nil {
			return nil, err
		}
	}

	flags := cmd.Flags()
	set := flags.Changed
	if set("dir") {
		cfg.Input.Dir = opts.dir
	}
	if set("sbid") {
		cfg.Input.SBID = opts.sbid
	}
	if set("beams") {
		beams, err := config.ParseBeams(opts.beams)
		if err != nil {
			return nil, fmt.Errorf("--beams: %w", err)
		}
		cfg.Input.Beams = beams
	}
	if set("pattern") {
		cfg.Input.Pattern = opts.pattern
	}
	if flags.Lookup("reference") != nil && set("reference") {
		cfg.Input.Reference = opts.reference
	}
	if flags.Lookup("reference-beam") != nil && set("reference-beam") {
		cfg.ReferenceBeam = opts.refBeam
	}
	if flags.Lookup("skip-alignment") != nil && set("skip-alignment") {
		cfg.SkipAlignment = opts.skipAlign
	}
	if set("statistic") {
		cfg.Search.Statistic = opts.statistic
	}
	if set("cutoff") {
		cfg.Search.Cutoff = opts.cutoff
	}
	if set("extent") {
		cfg.Search.Extent = opts.extent
		cfg.Search.RA, cfg.Search.Dec = nil, nil
	}
	if set("step") {
		cfg.Search.Step = opts.step
		cfg.Search.RA, cfg.Search.Dec = nil, nil
	}
	if set("metric") {
		cfg.Search.Metric = opts.metric
	}
	if set("workers") {
		cfg.Search.Workers = opts.workers
	}
	if set("beam-workers") {
		cfg.Search.BeamWorkers = opts.beamWorkers
	}
	if set("json") {
		cfg.Output.JSON = opts.jsonOut
	}
	if set("table") {
		cfg.Output.Table = opts.table
	}
	if set("grid-dir") {
		cfg.Output.GridDir = opts.gridDir
	}
	if set("metrics-addr") {
		cfg.MetricsAddr = opts.metricsAddr
	}
	if flags.Lookup("redis-addr") != nil && set("redis-addr") {
		if cfg.Redis == nil {
			cfg.Redis = &config.RedisConfig{}
		}
		cfg.Redis.Addr = opts.redisAddr
	}
	if flags.Lookup("redis-ttl") != nil && set("redis-ttl") && cfg.Redis != nil {
		cfg.Redis.TTL = opts.redisTTL
	}

	for _, fn := range adjust {
		fn(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
