package ui

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/driftpatch/driftpatch/internal/history"
	"github.com/driftpatch/driftpatch/internal/patch"
	"github.com/driftpatch/driftpatch/internal/resolve"
	"github.com/driftpatch/driftpatch/internal/session"
	"github.com/driftpatch/driftpatch/internal/verify"
)

// StatusColor picks the color of a spec status
func StatusColor(status patch.Status) *color.Color {
	switch status {
	case patch.StatusApplied:
		return color.New(color.FgGreen)
	case patch.StatusAlreadyApplied:
		return color.New(color.FgHiBlack)
	case patch.StatusBlocked, patch.StatusUnresolved:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed)
	}
}

func confidenceColor(c resolve.Confidence) *color.Color {
	switch c {
	case resolve.Certain:
		return color.New(color.FgGreen)
	case resolve.Probable:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed)
	}
}

// RenderResolution lists each role with its artifact and bound symbols
func RenderResolution(w io.Writer, res *resolve.Result, noColor bool) {
	if res == nil {
		return
	}
	Header(w, "Roles", noColor)
	roles := make([]string, 0, len(res.Roles))
	for id := range res.Roles {
		roles = append(roles, id)
	}
	sort.Strings(roles)

	t := NewTable(w, []string{"Role", "Artifact", "Storage", "Method", "Confidence"}, noColor)
	for _, id := range roles {
		a := res.Roles[id]
		t.AddCells(Plain(id), Plain(a.Path), Plain(a.Storage.String()), Plain(string(a.Method)),
			Cell{Text: a.Confidence.String(), Color: confidenceColor(a.Confidence)})
	}
	t.Render()

	symbols := NewTable(w, []string{"Role", "Symbol", "Local", "Method", "Confidence"}, noColor)
	for _, id := range roles {
		a := res.Roles[id]
		names := make([]string, 0, len(a.Aliases))
		for s := range a.Aliases {
			names = append(names, s)
		}
		sort.Strings(names)
		for _, s := range names {
			al := a.Aliases[s]
			local := al.Local
			if al.Meaning == resolve.MeaningUnresolved {
				local = "?"
			}
			symbols.AddCells(Plain(id), Plain(s), Plain(local), Plain(string(al.Method)),
				Cell{Text: al.Confidence.String(), Color: confidenceColor(al.Confidence)})
		}
	}
	if symbols.Len() > 0 {
		fmt.Fprintln(w)
		symbols.Render()
	}
	fmt.Fprintln(w)
}

// RenderEvidence lists the secondary checks behind each resolution
func RenderEvidence(w io.Writer, res *resolve.Result, noColor bool) {
	if res == nil {
		return
	}
	roles := make([]string, 0, len(res.Roles))
	for id := range res.Roles {
		roles = append(roles, id)
	}
	sort.Strings(roles)

	t := NewTable(w, []string{"Role", "Method", "Agrees", "Detail"}, noColor)
	for _, id := range roles {
		for _, ev := range res.Roles[id].Evidence {
			agrees := Cell{Text: "yes", Color: color.New(color.FgGreen)}
			if !ev.Agrees {
				agrees = Cell{Text: "no", Color: color.New(color.FgRed)}
			}
			t.AddCells(Plain(id), Plain(string(ev.Method)), agrees, Plain(ev.Detail))
		}
	}
	if t.Len() == 0 {
		return
	}
	Header(w, "Evidence", noColor)
	t.Render()
	fmt.Fprintln(w)
}

// RenderOutcomes lists the status every spec reached
func RenderOutcomes(w io.Writer, s *session.Summary, noColor bool) {
	if len(s.Records) == 0 && len(s.Unbound) == 0 {
		return
	}
	Header(w, "Patches", noColor)
	t := NewTable(w, []string{"Spec", "Role", "Status", "Detail"}, noColor)
	add := func(role string, o patch.Outcome) {
		status := string(o.Status)
		if o.Reverted {
			status += " (reverted)"
		}
		t.AddCells(Plain(o.SpecID), Plain(role), Cell{Text: status, Color: StatusColor(o.Status)}, Plain(firstLine(o.Error())))
	}
	for _, r := range s.Records {
		for _, o := range r.Outcomes {
			add(r.Role, o)
		}
	}
	for _, o := range s.Unbound {
		add("", o)
	}
	t.Render()
	fmt.Fprintln(w)
}

// RenderReport lists failing assertions and the pass tally
func RenderReport(w io.Writer, rep *verify.Report, threshold verify.Threshold, noColor bool) {
	if rep == nil {
		return
	}
	Header(w, "Verification", noColor)
	if failed := rep.Failed(); len(failed) > 0 {
		t := NewTable(w, []string{"Assertion", "Role", "Detail"}, noColor)
		for _, r := range failed {
			t.AddCells(Cell{Text: r.Assertion.ID, Color: color.New(color.FgRed)}, Plain(r.Assertion.Role), Plain(firstLine(r.Detail)))
		}
		t.Render()
	}
	tally := fmt.Sprintf("%d/%d assertions passed (threshold %s, %d required)",
		rep.Passed, rep.Total, threshold, threshold.Required(rep.Total))
	if rep.Meets(threshold) {
		WriteSuccess(w, tally, noColor)
	} else {
		WriteWarning(w, tally, noColor)
	}
	fmt.Fprintln(w)
}

// RenderDiffs prints a unified diff per changed artifact
func RenderDiffs(w io.Writer, records []*patch.Record, noColor bool) error {
	add := palette(noColor, color.FgGreen)
	del := palette(noColor, color.FgRed)
	hunk := palette(noColor, color.FgCyan)
	for _, r := range records {
		out, err := patch.RenderDiff(r.Artifact, r.Changes())
		if err != nil {
			return fmt.Errorf("failed to render diff of %s: %w", r.Artifact, err)
		}
		for _, line := range strings.SplitAfter(out, "\n") {
			switch {
			case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
				fmt.Fprint(w, line)
			case strings.HasPrefix(line, "+"):
				add.Fprint(w, line)
			case strings.HasPrefix(line, "-"):
				del.Fprint(w, line)
			case strings.HasPrefix(line, "@@"):
				hunk.Fprint(w, line)
			default:
				fmt.Fprint(w, line)
			}
		}
	}
	return nil
}

// RenderSummary prints the session header
func RenderSummary(w io.Writer, s *session.Summary, noColor bool) {
	kv := NewKeyValueTable(w, noColor)
	kv.AddRow("Session", s.ID)
	mode := s.Mode.String()
	if s.DryRun {
		mode += " (dry run)"
	}
	kv.AddRow("Mode", mode)
	kv.AddRow("Version", s.Version)
	kv.AddRow("Stage", string(s.Stage))
	kv.AddRow("Extracted", s.Extracted)
	kv.AddRow("Output", s.Output)
	if !s.Finished.IsZero() {
		kv.AddRow("Duration", s.Finished.Sub(s.Started).Round(time.Millisecond).String())
	}
	kv.Render()
	fmt.Fprintln(w)
}

// RenderHistory lists journaled sessions
func RenderHistory(w io.Writer, entries []history.Entry, noColor bool) {
	t := NewTable(w, []string{"Started", "Session", "Version", "Mode", "Stage", "Passed"}, noColor)
	for _, e := range entries {
		stage := Cell{Text: e.Stage, Color: color.New(color.FgGreen)}
		if e.Stage != string(session.StageCommitted) && e.Stage != string(session.StageDiscovered) {
			stage.Color = color.New(color.FgRed)
		}
		mode := e.Mode
		if e.DryRun {
			mode += "*"
		}
		t.AddCells(Plain(e.StartedAt.Local().Format("2006-01-02 15:04")), Plain(shortID(e.ID)), Plain(e.Version),
			Plain(mode), stage, Plain(strconv.Itoa(e.Passed)+"/"+strconv.Itoa(e.Total)))
	}
	t.Render()
}

// RenderDrift lists specs and roles that changed between versions
func RenderDrift(w io.Writer, r *history.DriftReport, noColor bool) {
	if r.Empty() {
		WriteSuccess(w, fmt.Sprintf("no drift across %d version(s)", len(r.Versions)), noColor)
		return
	}
	if len(r.Specs) > 0 {
		Header(w, "Spec drift", noColor)
		t := NewTable(w, []string{"Spec", "From", "To"}, noColor)
		for _, d := range r.Specs {
			t.AddCells(Plain(d.SpecID),
				Cell{Text: d.FromVersion + " " + d.FromStatus, Color: StatusColor(patch.Status(d.FromStatus))},
				Cell{Text: d.ToVersion + " " + d.ToStatus, Color: StatusColor(patch.Status(d.ToStatus))})
		}
		t.Render()
		fmt.Fprintln(w)
	}
	if len(r.Roles) > 0 {
		Header(w, "Role drift", noColor)
		t := NewTable(w, []string{"Role", "From", "To"}, noColor)
		for _, d := range r.Roles {
			t.AddRow(d.Role, d.FromVersion+" "+d.FromPath, d.ToVersion+" "+d.ToPath)
		}
		t.Render()
		fmt.Fprintln(w)
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
