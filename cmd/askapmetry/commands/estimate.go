package commands

import (
	"github.com/spf13/cobra"

	"github.com/signalsfoundry/askapmetry/internal/config"
	"github.com/signalsfoundry/askapmetry/internal/printer"
	"github.com/signalsfoundry/askapmetry/internal/report"
)

func newEstimateCmd(opts *options, p *printer.Printer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Estimate each beam's offset against an external reference catalogue",
		Long: `Grid-search every beam independently against the external reference
catalogue without aligning the beams first.

Examples:
  askapmetry estimate --dir /data/SB51234 --sbid 51234 --reference wise.csv
  askapmetry estimate -c askapmetry.yml --json - --table=false`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts, func(c *config.Config) { c.SkipAlignment = true })
			if err != nil {
				return p.Error("Invalid configuration", err.Error())
			}
			ctx, pl, err := newPipeline(cmd.Context(), "estimate", cfg, opts, p)
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
			res, err := pl.estimate(ctx, "raw", pl.store.Catalogues(), ref)
			if err != nil {
				return err
			}
			return pl.finish(ctx, cmd.OutOrStdout(), report.Summarize(nil, nil, res))
		},
	}
	cmd.Flags().StringVarP(&opts.reference, "reference", "r", "", "Reference catalogue (CSV or JSON)")
	return cmd
}
