package patch

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/sourcegraph/go-diff/diff"
)

// diffContext is how many bytes around a change an excerpt keeps
const diffContext = 40

// Change describes one applied replacement
type Change struct {
	Offset int    `json:"offset"`
	Before string `json:"before"`
	After  string `json:"after"`
	Line   int    `json:"line"`

	context [2]string
}

func newChange(content string, span Span, replacement string) Change {
	lo := max(0, span.Start-diffContext)
	hi := min(len(content), span.End+diffContext)
	return Change{
		Offset:  span.Start,
		Before:  content[span.Start:span.End],
		After:   replacement,
		Line:    strings.Count(content[:span.Start], "\n") + 1,
		context: [2]string{content[lo:span.Start], content[span.End:hi]},
	}
}

// FileDiff renders changes to artifact as a unified diff. Build artifacts
// are often a single very long line, so each hunk is an excerpt of the
// changed region with a bounded amount of surrounding text rather than
// whole lines.
func FileDiff(artifact string, changes []Change) *diff.FileDiff {
	fd := &diff.FileDiff{
		OrigName: "a/" + artifact,
		NewName:  "b/" + artifact,
	}
	for _, c := range changes {
		before := splitLines(c.context[0] + c.Before + c.context[1])
		after := splitLines(c.context[0] + c.After + c.context[1])

		var body bytes.Buffer
		for _, l := range before {
			body.WriteString("-" + l + "\n")
		}
		for _, l := range after {
			body.WriteString("+" + l + "\n")
		}

		fd.Hunks = append(fd.Hunks, &diff.Hunk{
			OrigStartLine: int32(c.Line),
			OrigLines:     int32(len(before)),
			NewStartLine:  int32(c.Line),
			NewLines:      int32(len(after)),
			Section:       "offset " + strconv.Itoa(c.Offset),
			Body:          body.Bytes(),
		})
	}
	return fd
}

// RenderDiff prints the unified diff of changes to artifact
func RenderDiff(artifact string, changes []Change) (string, error) {
	if len(changes) == 0 {
		return "", nil
	}
	out, err := diff.PrintFileDiff(FileDiff(artifact, changes))
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func splitLines(s string) []string {
	if s == "" {
		return []string{""}
	}
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}
