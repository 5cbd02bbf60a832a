package commands

import (
	"github.com/spf13/cobra"

	"github.com/signalsfoundry/askapmetry/internal/printer"
	"github.com/signalsfoundry/askapmetry/internal/report"
)

func newAlignCmd(opts *options, p *printer.Printer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "align",
		Short: "Align every beam onto a reference beam",
		Long: `Grid-search every beam against the reference beam's catalogue and report
the offset that brings each beam onto it. No external reference is needed.

Examples:
  # Align all 36 beams of SB51234 onto beam 0
  askapmetry align --dir /data/SB51234 --sbid 51234

  # Align a subset onto beam 10 and keep the grids
  askapmetry align --sbid 51234 --beams 8-12 --reference-beam 10 --grid-dir grids/`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return p.Error("Invalid configuration", err.Error())
			}
			ctx, pl, err := newPipeline(cmd.Context(), "align", cfg, opts, p)
			if err != nil {
				return p.Error("Failed to start", err.Error())
			}
			defer pl.close()

			if err := pl.loadBeams(ctx); err != nil {
				return err
			}
			res, err := pl.align(ctx)
			if err != nil {
				return err
			}
			return pl.finish(ctx, cmd.OutOrStdout(), report.Summarize(res, nil, nil))
		},
	}
	cmd.Flags().IntVar(&opts.refBeam, "reference-beam", 0, "Beam the others are aligned onto")
	return cmd
}
