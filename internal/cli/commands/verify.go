package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/driftpatch/driftpatch/internal/archive"
	"github.com/driftpatch/driftpatch/internal/catalog"
	"github.com/driftpatch/driftpatch/internal/cli/ui"
	engerrors "github.com/driftpatch/driftpatch/internal/errors"
	"github.com/driftpatch/driftpatch/internal/resolve"
	"github.com/driftpatch/driftpatch/internal/session"
	"github.com/driftpatch/driftpatch/internal/verify"
)

// NewVerifyCommand creates the verify command
func NewVerifyCommand(g *Globals) *cobra.Command {
	var (
		build     buildFlags
		manifest  string
		threshold string
	)

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check the catalog's assertions against the installed build",
		Long: `Evaluate every assertion of the catalog against the build as it is now,
without patching anything. Use it after an update to see whether the
installed build still carries the patches.

Roles are resolved afresh unless --manifest names a saved manifest.`,
		Example: `  driftpatch verify
  driftpatch verify --manifest .driftpatch/manifest.json --threshold 80%`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			build.apply(g)
			if threshold != "" {
				g.Config.Verify.Threshold = threshold
			}
			if err := build.check(g); err != nil {
				return err
			}
			cat, err := loadCatalog(g)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			tree, err := inspectBuild(g, &build)
			if err != nil {
				return err
			}
			res, err := resolveBuild(ctx, g, cat, tree, manifest)
			if err != nil {
				if res != nil {
					ui.WriteEngineErrors(cmd.ErrOrStderr(), res.Errors, g.NoColor)
				}
				return err
			}

			plan := cat.Bind(res)
			want := plan.Threshold
			if t, err := g.Config.Threshold(); err != nil {
				return err
			} else if t != nil {
				want = *t
			}
			report := verify.NewVerifier(verify.NewTreeSitterChecker(), g.logger()).
				Verify(ctx, session.TreeStore{Tree: tree}, plan.Assertions)
			for _, u := range plan.Unverifiable {
				report.Fail(u.Assertion, u.Reason)
			}

			out := cmd.OutOrStdout()
			if g.JSON {
				if err := g.writeJSON(out, report); err != nil {
					return err
				}
			} else {
				ui.RenderReport(out, report, want, g.NoColor)
				ui.WriteEngineErrors(cmd.ErrOrStderr(), res.Errors, g.NoColor)
			}
			if !report.Meets(want) {
				return engerrors.New("verify", engerrors.ErrThresholdNotMet,
					fmt.Sprintf("%d of %d assertions passed, %d required", report.Passed, report.Total, want.Required(report.Total)),
					engerrors.Error)
			}
			return nil
		},
	}

	build.register(cmd)
	cmd.Flags().StringVar(&manifest, "manifest", "", "bind roles from a saved manifest instead of resolving")
	cmd.Flags().StringVar(&threshold, "threshold", "", "verification pass threshold: all, a count or a percentage")
	return cmd
}

// inspectBuild maps the extracted directory or the live container
func inspectBuild(g *Globals, f *buildFlags) (*archive.Tree, error) {
	sideStore := g.Config.Archive.SideStore
	if f.extractedDir != "" {
		if sideStore != "" {
			if _, err := os.Stat(sideStore); err != nil {
				sideStore = ""
			}
		}
		return archive.InspectDir(f.extractedDir, sideStore)
	}
	return archive.Inspect(g.Config.Archive.Path, archive.Options{SideStoreDir: sideStore})
}

// resolveBuild binds roles from manifestPath when set, by resolution otherwise
func resolveBuild(ctx context.Context, g *Globals, cat *catalog.Catalog, tree *archive.Tree, manifestPath string) (*resolve.Result, error) {
	if manifestPath != "" {
		m, err := session.LoadManifest(manifestPath)
		if err != nil {
			return nil, err
		}
		if err := m.Validate(tree); err != nil {
			return nil, err
		}
		return m.Result(tree), nil
	}
	r := resolve.New(resolve.Options{Workers: g.Config.Resolve.Workers, CacheSize: g.Config.Resolve.CacheSize, Logger: g.logger()})
	res, err := r.Resolve(ctx, tree, cat.ResolverRoles())
	if err != nil {
		return res, err
	}
	for _, e := range res.Errors {
		if e.IsError() {
			return res, res.Err()
		}
	}
	return res, nil
}
