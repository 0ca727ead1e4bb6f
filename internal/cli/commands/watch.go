package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/driftpatch/driftpatch/internal/catalog"
	"github.com/driftpatch/driftpatch/internal/cli/ui"
	"github.com/driftpatch/driftpatch/internal/session"
	"github.com/driftpatch/driftpatch/internal/watch"
)

// NewWatchCommand creates the watch command
func NewWatchCommand(g *Globals) *cobra.Command {
	var (
		build        buildFlags
		debounce     time.Duration
		noRediscover bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the role manifest in step with the installed build",
		Long: `Watch the installed build and react when an update replaces it.

When the build changes, the saved manifest is checked against it. A
manifest written for another version, or naming artifacts that are gone,
is renamed with a .stale suffix and a fresh one is discovered in its
place. Nothing is patched; run 'driftpatch apply' once the new manifest
looks right.`,
		Example: `  driftpatch watch
  driftpatch watch --debounce 2s --no-rediscover`,
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
			manifestPath := g.Config.Manifest.Path

			out := cmd.OutOrStdout()
			m := &watch.Monitor{
				ArchivePath:  g.Config.Archive.Path,
				SideStoreDir: g.Config.Archive.SideStore,
				ExtractedDir: build.extractedDir,
				ManifestPath: manifestPath,
				Debounce:     debounce,
				Logger:       g.logger(),
				OnEvent: func(ev watch.Event) {
					if g.JSON {
						_ = g.writeJSON(out, eventReport(ev))
						return
					}
					printEvent(out, ev, g.NoColor)
				},
			}
			if !noRediscover {
				m.Discover = discoverer(g, cat, opts)
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			if !g.JSON {
				banner := color.New(color.FgCyan, color.Bold)
				banner.Fprintln(out, "Watching build")
				for _, t := range m.Targets() {
					fmt.Fprintf(out, "   %s\n", t)
				}
				fmt.Fprintf(out, "   manifest: %s\n", manifestPath)
				color.New(color.FgYellow).Fprintln(out, "   Press Ctrl+C to stop")
				fmt.Fprintln(out)
			}

			if err := m.Run(ctx); err != nil {
				return fmt.Errorf("failed to watch build: %w", err)
			}
			if !g.JSON {
				fmt.Fprintln(out, "\nstopped")
			}
			return nil
		},
	}

	build.register(cmd)
	cmd.Flags().DurationVar(&debounce, "debounce", watch.DefaultDebounce, "quiet period before reacting to a change")
	cmd.Flags().BoolVar(&noRediscover, "no-rediscover", false, "only invalidate stale manifests")
	return cmd
}

// discoverer runs a discovery session and returns its manifest
func discoverer(g *Globals, cat *catalog.Catalog, opts session.Options) watch.Discoverer {
	return func(ctx context.Context) (*session.Manifest, error) {
		summary, err := session.New(cat, opts, sessionDeps(g)).Run(ctx)
		if err != nil {
			return nil, err
		}
		return summary.Manifest, nil
	}
}

func printEvent(w io.Writer, ev watch.Event, noColor bool) {
	stamp := ev.At.Local().Format("15:04:05")
	switch ev.Kind {
	case watch.EventCurrent:
		ui.WriteSuccess(w, fmt.Sprintf("%s manifest current for %s", stamp, ev.ToVersion), noColor)
	case watch.EventInvalidated:
		ui.WriteWarning(w, fmt.Sprintf("%s manifest invalidated (build %s)", stamp, ev.ToVersion), noColor)
	case watch.EventRediscovered:
		msg := fmt.Sprintf("%s manifest rediscovered for %s", stamp, ev.ToVersion)
		if ev.FromVersion != "" && ev.FromVersion != ev.ToVersion {
			msg = fmt.Sprintf("%s manifest rediscovered: %s -> %s", stamp, ev.FromVersion, ev.ToVersion)
		}
		ui.WriteSuccess(w, msg, noColor)
	case watch.EventFailed:
		msg := ui.Message{Level: ui.LevelError, Title: stamp + " check failed", NoColor: noColor}
		if ev.Err != nil {
			msg.Detail = ev.Err.Error()
		}
		fmt.Fprint(w, msg.Format())
		ui.WriteEngineErrors(w, engineErrors(ev.Err), noColor)
	}
}

type eventJSON struct {
	Kind        watch.EventKind `json:"kind"`
	Files       []string        `json:"files,omitempty"`
	FromVersion string          `json:"from_version,omitempty"`
	ToVersion   string          `json:"to_version,omitempty"`
	Manifest    string          `json:"manifest,omitempty"`
	Error       string          `json:"error,omitempty"`
	At          time.Time       `json:"at"`
}

func eventReport(ev watch.Event) eventJSON {
	r := eventJSON{Kind: ev.Kind, Files: ev.Files, FromVersion: ev.FromVersion, ToVersion: ev.ToVersion, Manifest: ev.Manifest, At: ev.At}
	if ev.Err != nil {
		r.Error = ev.Err.Error()
	}
	return r
}
