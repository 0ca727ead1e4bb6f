package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/driftpatch/driftpatch/internal/cli/ui"
	"github.com/driftpatch/driftpatch/internal/history"
	"github.com/driftpatch/driftpatch/internal/patch"
)

// NewHistoryCommand creates the history command and its subcommands
func NewHistoryCommand(g *Globals) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List journaled patch sessions",
		Long: `List the patch sessions recorded in the history journal, newest first.
Dry runs are marked with '*'.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := history.Open(g.Config.History.Path)
			if err != nil {
				return err
			}
			defer j.Close()

			entries, err := j.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if g.JSON {
				return g.writeJSON(cmd.OutOrStdout(), entries)
			}
			if len(entries) == 0 {
				ui.WriteWarning(cmd.OutOrStdout(), "no sessions journaled yet", g.NoColor)
				return nil
			}
			ui.RenderHistory(cmd.OutOrStdout(), entries, g.NoColor)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of sessions to list (0 for all)")

	cmd.AddCommand(newHistoryShowCommand(g))
	cmd.AddCommand(newHistoryDriftCommand(g))
	return cmd
}

func newHistoryShowCommand(g *Globals) *cobra.Command {
	return &cobra.Command{
		Use:   "show <session>",
		Short: "Show the outcomes and role bindings of one session",
		Long:  "Show one journaled session. The session may be given by a unique prefix of its id.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := history.Open(g.Config.History.Path)
			if err != nil {
				return err
			}
			defer j.Close()

			ctx := cmd.Context()
			entries, err := j.List(ctx, 0)
			if err != nil {
				return err
			}
			entry, err := findSession(entries, args[0])
			if err != nil {
				return err
			}
			outcomes, err := j.Outcomes(ctx, entry.ID)
			if err != nil {
				return err
			}
			bindings, err := j.Bindings(ctx, entry.ID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if g.JSON {
				return g.writeJSON(out, struct {
					Session  history.Entry         `json:"session"`
					Outcomes []history.SpecOutcome `json:"outcomes"`
					Bindings []history.RoleBinding `json:"bindings"`
				}{*entry, outcomes, bindings})
			}

			kv := ui.NewKeyValueTable(out, g.NoColor)
			kv.AddRow("Session", entry.ID)
			kv.AddRow("Mode", entry.Mode)
			kv.AddRow("Version", entry.Version)
			kv.AddRow("Stage", entry.Stage)
			kv.AddRow("Verified", fmt.Sprintf("%d/%d (threshold %s)", entry.Passed, entry.Total, entry.Threshold))
			kv.AddRow("Started", entry.StartedAt.Local().Format("2006-01-02 15:04:05"))
			kv.AddRow("Error", entry.Error)
			kv.Render()
			fmt.Fprintln(out)

			if len(bindings) > 0 {
				ui.Header(out, "Roles", g.NoColor)
				t := ui.NewTable(out, []string{"Role", "Artifact", "Method", "Confidence"}, g.NoColor)
				for _, b := range bindings {
					t.AddRow(b.Role, b.Path, b.Method, b.Confidence)
				}
				t.Render()
				fmt.Fprintln(out)
			}
			if len(outcomes) > 0 {
				ui.Header(out, "Patches", g.NoColor)
				t := ui.NewTable(out, []string{"Spec", "Role", "Status", "Detail"}, g.NoColor)
				for _, o := range outcomes {
					t.AddCells(ui.Plain(o.SpecID), ui.Plain(o.Role),
						ui.Cell{Text: o.Status, Color: ui.StatusColor(patch.Status(o.Status))}, ui.Plain(o.Error))
				}
				t.Render()
			}
			return nil
		},
	}
}

func newHistoryDriftCommand(g *Globals) *cobra.Command {
	return &cobra.Command{
		Use:   "drift",
		Short: "Show specs and roles that changed between build versions",
		Long: `Compare the journaled sessions of consecutive build versions and list
every spec whose status changed and every role that moved to another
artifact. A spec that went from applied to anchor-not-found is the usual
sign that an update rewrote the code it patches.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := history.Open(g.Config.History.Path)
			if err != nil {
				return err
			}
			defer j.Close()

			report, err := j.Drift(cmd.Context())
			if err != nil {
				return err
			}
			if g.JSON {
				return g.writeJSON(cmd.OutOrStdout(), report)
			}
			ui.RenderDrift(cmd.OutOrStdout(), report, g.NoColor)
			return nil
		},
	}
}

// findSession resolves a session id or unique id prefix
func findSession(entries []history.Entry, ref string) (*history.Entry, error) {
	var match []history.Entry
	for _, e := range entries {
		if e.ID == ref {
			return &e, nil
		}
		if strings.HasPrefix(e.ID, ref) {
			match = append(match, e)
		}
	}
	switch len(match) {
	case 0:
		return nil, fmt.Errorf("no session %q in history", ref)
	case 1:
		return &match[0], nil
	default:
		return nil, fmt.Errorf("session prefix %q is ambiguous: %d sessions match", ref, len(match))
	}
}
