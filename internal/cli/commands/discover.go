package commands

import (
	"github.com/spf13/cobra"

	"github.com/driftpatch/driftpatch/internal/cli/ui"
	"github.com/driftpatch/driftpatch/internal/session"
)

// NewDiscoverCommand creates the discover command
func NewDiscoverCommand(g *Globals) *cobra.Command {
	var (
		build  buildFlags
		output string
	)

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Resolve every role and print the build manifest",
		Long: `Resolve every role of the catalog against the build without changing it.

The resolved roles, bound symbols and the evidence behind each resolution
are printed. With --output the manifest is written for later use by
'driftpatch apply --legacy-manifest' or by external installer steps.`,
		Example: `  driftpatch discover --archive /opt/App/resources/app.asar
  driftpatch discover --output .driftpatch/manifest.json
  driftpatch discover --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			build.apply(g)
			if err := build.check(g); err != nil {
				return err
			}
			cat, err := loadCatalog(g)
			if err != nil {
				return err
			}
			opts, err := sessionOptions(g, &build, session.ModeDiscover)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			out := cmd.OutOrStdout()
			spinner := ui.NewSpinner(cmd.ErrOrStderr(), "discovering...", g.NoColor || g.JSON)
			deps := sessionDeps(g)
			deps.Observer = stageObserver(spinner)
			if !g.JSON {
				spinner.Start()
			}
			summary, err := session.New(cat, opts, deps).Run(ctx)
			spinner.Stop()
			if err != nil {
				reportFailure(cmd.ErrOrStderr(), g, summary)
				return err
			}

			if output != "" {
				if err := summary.Manifest.Save(output); err != nil {
					return err
				}
			}
			if g.JSON {
				return g.writeJSON(out, summary.Manifest)
			}

			ui.RenderSummary(out, summary, g.NoColor)
			ui.RenderResolution(out, summary.Resolution, g.NoColor)
			if g.Verbose {
				ui.RenderEvidence(out, summary.Resolution, g.NoColor)
			}
			ui.WriteEngineErrors(cmd.ErrOrStderr(), summary.Resolution.Errors, g.NoColor)
			if output != "" {
				ui.WriteSuccess(out, "manifest written to "+output, g.NoColor)
			}
			return nil
		},
	}

	build.register(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the manifest to this file")
	return cmd
}
