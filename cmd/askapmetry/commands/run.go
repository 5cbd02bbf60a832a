package commands

import (
	"github.com/spf13/cobra"

	"github.com/signalsfoundry/askapmetry/core"
	"github.com/signalsfoundry/askapmetry/internal/printer"
	"github.com/signalsfoundry/askapmetry/internal/report"
)

func newRunCmd(opts *options, p *printer.Printer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Align beams, then estimate aligned and raw offsets against the reference",
		Long: `Run the full pipeline:

  1. load and filter every beam catalogue
  2. align all beams onto the reference beam (unless --skip-alignment)
  3. estimate the aligned beams' residual offsets against the reference
  4. estimate the raw beams' offsets against the reference

The summary lists all three per beam. With --redis-addr the rows are also
published as Redis hashes under askapmetry:{run-id}:beam:{NN}.

Examples:
  askapmetry run --dir /data/SB51234 --sbid 51234 --reference wise.csv
  askapmetry run -c askapmetry.yml --redis-addr localhost:6379 --metrics-addr :9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return p.Error("Invalid configuration", err.Error())
			}
			ctx, pl, err := newPipeline(cmd.Context(), "run", cfg, opts, p)
			if err != nil {
				return p.Error("Failed to start", err.Error())
			}
			defer pl.close()

			if err := pl.loadBeams(ctx); err != nil {
				return err
			}
			ref, err := pl.loadReference(ctx)
			if err != nil {
				return err
			}

			raw := pl.store.Catalogues()
			var (
				alignment *core.AlignmentResult
				aligned   *core.EstimateResult
			)
			if !cfg.SkipAlignment {
				if alignment, err = pl.align(ctx); err != nil {
					return err
				}
				if aligned, err = pl.estimate(ctx, "aligned", alignment.Aligned, ref); err != nil {
					return err
				}
			}
			unaligned, err := pl.estimate(ctx, "raw", raw, ref)
			if err != nil {
				return err
			}
			return pl.finish(ctx, cmd.OutOrStdout(), report.Summarize(alignment, aligned, unaligned))
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.reference, "reference", "r", "", "Reference catalogue (CSV or JSON)")
	f.IntVar(&opts.refBeam, "reference-beam", 0, "Beam the others are aligned onto")
	f.BoolVar(&opts.skipAlign, "skip-alignment", false, "Only estimate raw per-beam offsets")
	f.StringVar(&opts.redisAddr, "redis-addr", "", "Publish per-beam results to this Redis server")
	f.DurationVar(&opts.redisTTL, "redis-ttl", 0, "Expiry of published results (default 7 days)")
	f.StringVar(&opts.runID, "run-id", "", "Run id used in logs and Redis keys (default random UUID)")
	return cmd
}
