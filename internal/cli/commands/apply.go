package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/driftpatch/driftpatch/internal/cli/ui"
	"github.com/driftpatch/driftpatch/internal/session"
	"github.com/driftpatch/driftpatch/internal/verify"
)

type applyFlags struct {
	dryRun         bool
	skipInstall    bool
	legacyManifest string
	permissive     bool
	yes            bool
	threshold      string
	output         string
	diff           bool
}

// NewApplyCommand creates the apply command
func NewApplyCommand(g *Globals) *cobra.Command {
	var (
		build buildFlags
		f     applyFlags
	)

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Patch, verify, repack and install the build",
		Long: `Run a full patch session against the build.

The session resolves every role, applies the catalog's patches, verifies
the result against the catalog's assertions and, when the pass threshold
is met, repacks the build and hands it to install.command. Patched
artifacts are restored when verification falls short.

A dry run reads the container in place, applies patches in memory and
prints them as unified diffs. Nothing on disk changes.`,
		Example: `  driftpatch apply --dry-run
  driftpatch apply --yes
  driftpatch apply --legacy-manifest .driftpatch/manifest.json
  driftpatch apply --threshold 90% --permissive`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			build.apply(g)
			if f.threshold != "" {
				g.Config.Verify.Threshold = f.threshold
			}
			if f.permissive {
				g.Config.Patch.Strict = false
			}
			if err := build.check(g); err != nil {
				return err
			}
			cat, err := loadCatalog(g)
			if err != nil {
				return err
			}

			mode := session.ModeFull
			if f.legacyManifest != "" {
				mode = session.ModeLegacy
			}
			opts, err := sessionOptions(g, &build, mode)
			if err != nil {
				return err
			}
			opts.LegacyManifest = f.legacyManifest
			opts.OutputPath = f.output
			opts.DryRun = f.dryRun
			opts.SkipInstall = f.skipInstall

			deps := sessionDeps(g)
			if g.Config.Install.Command != "" {
				installer := &session.CommandInstaller{
					Command: g.Config.Install.Command,
					Timeout: g.Config.Install.Timeout,
					Stdout:  cmd.OutOrStdout(),
					Stderr:  cmd.ErrOrStderr(),
					Logger:  g.logger(),
				}
				if !f.yes {
					installer.Confirm = session.SurveyConfirm
				}
				deps.Installer = installer
			}
			if journal := openJournal(g); journal != nil {
				defer journal.Close()
				deps.Journal = journal
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			out := cmd.OutOrStdout()
			quiet := g.JSON || (!f.yes && !f.dryRun && !f.skipInstall && deps.Installer != nil)
			spinner := ui.NewSpinner(cmd.ErrOrStderr(), "discovering...", g.NoColor)
			if !quiet {
				deps.Observer = stageObserver(spinner)
				spinner.Start()
			}
			summary, runErr := session.New(cat, opts, deps).Run(ctx)
			switch {
			case g.JSON:
			case runErr != nil:
				spinner.Fail(string(summary.Stage))
			default:
				spinner.Success(string(summary.Stage))
			}

			if g.JSON {
				if err := g.writeJSON(out, applyReport(summary)); err != nil {
					return err
				}
				return runErr
			}

			ui.RenderSummary(out, summary, g.NoColor)
			ui.RenderOutcomes(out, summary, g.NoColor)
			ui.RenderReport(out, summary.Report, summary.Threshold, g.NoColor)
			if (f.dryRun || f.diff) && len(summary.Records) > 0 {
				if err := ui.RenderDiffs(out, summary.Records, g.NoColor); err != nil {
					return err
				}
			}
			reportFailure(cmd.ErrOrStderr(), g, summary)
			if runErr == nil && !f.dryRun {
				ui.WriteSuccess(out, fmt.Sprintf("build %s patched", summary.Version), g.NoColor)
			}
			return runErr
		},
	}

	build.register(cmd)
	flags := cmd.Flags()
	flags.BoolVar(&f.dryRun, "dry-run", false, "apply in memory and print diffs; change nothing")
	flags.BoolVar(&f.skipInstall, "skip-install", false, "repack but do not run the installer")
	flags.StringVar(&f.legacyManifest, "legacy-manifest", "", "use a saved manifest instead of resolving")
	flags.BoolVar(&f.permissive, "permissive", false, "keep patches that leave syntax errors behind")
	flags.BoolVarP(&f.yes, "yes", "y", false, "install without asking")
	flags.StringVar(&f.threshold, "threshold", "", "verification pass threshold: all, a count or a percentage")
	flags.StringVarP(&f.output, "output", "o", "", "write the repacked archive here")
	flags.BoolVar(&f.diff, "diff", false, "print diffs of applied patches")
	return cmd
}

// applyJSON is the machine-readable apply result
type applyJSON struct {
	Session   string            `json:"session"`
	Mode      string            `json:"mode"`
	DryRun    bool              `json:"dry_run"`
	Stage     session.Stage     `json:"stage"`
	Version   string            `json:"version"`
	Output    string            `json:"output,omitempty"`
	Patches   []patchJSON       `json:"patches"`
	Verify    *verify.Report    `json:"verification,omitempty"`
	Threshold string            `json:"threshold"`
	Manifest  *session.Manifest `json:"manifest,omitempty"`
	Error     string            `json:"error,omitempty"`
}

type patchJSON struct {
	Spec     string `json:"spec"`
	Role     string `json:"role,omitempty"`
	Artifact string `json:"artifact,omitempty"`
	Status   string `json:"status"`
	Reverted bool   `json:"reverted,omitempty"`
	Error    string `json:"error,omitempty"`
}

func applyReport(s *session.Summary) applyJSON {
	r := applyJSON{
		Session:   s.ID,
		Mode:      s.Mode.String(),
		DryRun:    s.DryRun,
		Stage:     s.Stage,
		Version:   s.Version,
		Output:    s.Output,
		Patches:   []patchJSON{},
		Verify:    s.Report,
		Threshold: s.Threshold.String(),
		Manifest:  s.Manifest,
	}
	if s.Err != nil {
		r.Error = s.Err.Error()
	}
	for _, rec := range s.Records {
		for _, o := range rec.Outcomes {
			r.Patches = append(r.Patches, patchJSON{
				Spec: o.SpecID, Role: rec.Role, Artifact: rec.Artifact,
				Status: string(o.Status), Reverted: o.Reverted, Error: o.Error(),
			})
		}
	}
	for _, o := range s.Unbound {
		r.Patches = append(r.Patches, patchJSON{Spec: o.SpecID, Status: string(o.Status), Error: o.Error()})
	}
	return r
}
