package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	engerrors "github.com/driftpatch/driftpatch/internal/errors"
)

// Level is the severity of a message block
type Level int

const (
	LevelError Level = iota
	LevelWarning
	LevelInfo
)

// Message is a titled block with optional suggestions and follow-up commands
//
// Example output:
//
//	✗ R002 ambiguous role: store
//	   3 candidates match every signature
//
//	   Candidates: dist/a.js, dist/b.js, dist/c.js
//	   Hint: add a signature or an import dependency to the role
//
//	   → driftpatch discover --verbose
type Message struct {
	Level      Level
	Title      string
	Detail     string
	Candidates []string
	Hint       string
	Commands   []string
	NoColor    bool
}

// Format renders the message block
func (m Message) Format() string {
	var b strings.Builder

	var head, body *color.Color
	var symbol string
	switch m.Level {
	case LevelWarning:
		head, body, symbol = palette(m.NoColor, color.FgYellow, color.Bold), palette(m.NoColor, color.FgYellow), "!"
	case LevelInfo:
		head, body, symbol = palette(m.NoColor, color.FgCyan, color.Bold), palette(m.NoColor, color.FgCyan), "i"
	default:
		head, body, symbol = palette(m.NoColor, color.FgRed, color.Bold), palette(m.NoColor, color.FgRed), "✗"
	}

	head.Fprintf(&b, "%s %s\n", symbol, m.Title)
	if m.Detail != "" {
		body.Fprintf(&b, "   %s\n", m.Detail)
	}
	if len(m.Candidates) > 0 || m.Hint != "" {
		b.WriteString("\n")
		yellow := palette(m.NoColor, color.FgYellow)
		if len(m.Candidates) > 0 {
			yellow.Fprintf(&b, "   Candidates: %s\n", strings.Join(m.Candidates, ", "))
		}
		if m.Hint != "" {
			yellow.Fprintf(&b, "   Hint: %s\n", m.Hint)
		}
	}
	if len(m.Commands) > 0 {
		b.WriteString("\n")
		cyan := palette(m.NoColor, color.FgCyan)
		for _, cmd := range m.Commands {
			cyan.Fprintf(&b, "   → %s\n", cmd)
		}
	}
	return b.String()
}

// EngineMessage turns an engine error into a message block
func EngineMessage(e engerrors.EngineError, noColor bool) Message {
	m := Message{Level: LevelError, NoColor: noColor}
	switch {
	case e.IsWarning():
		m.Level = LevelWarning
	case e.Severity == engerrors.Info:
		m.Level = LevelInfo
	}

	var where []string
	if e.Location.Role != "" {
		where = append(where, "role "+e.Location.Role)
	}
	if e.Location.Spec != "" {
		where = append(where, "spec "+e.Location.Spec)
	}
	if e.Location.Artifact != "" {
		where = append(where, e.Location.Artifact)
	}
	m.Title = fmt.Sprintf("%s %s", e.Code, e.Message)
	if len(where) > 0 {
		m.Detail = strings.Join(where, ", ")
	}
	if e.Cause != nil {
		if m.Detail != "" {
			m.Detail += ": "
		}
		m.Detail += e.Cause.Error()
	}
	if e.Suggestion != nil {
		m.Hint = e.Suggestion.Description
		m.Candidates = e.Suggestion.Candidates
	}
	switch e.Code {
	case engerrors.ErrRoleUnresolved, engerrors.ErrRoleAmbiguous, engerrors.ErrAnchorNotFound:
		m.Commands = []string{"driftpatch discover --verbose", "driftpatch history drift"}
	case engerrors.ErrManifestStale:
		m.Commands = []string{"driftpatch discover --output <manifest>"}
	}
	return m
}

// WriteEngineErrors writes one block per error, errors before warnings
func WriteEngineErrors(w io.Writer, errs []engerrors.EngineError, noColor bool) {
	for _, pass := range []bool{true, false} {
		for _, e := range errs {
			if e.IsError() == pass {
				fmt.Fprintln(w, EngineMessage(e, noColor).Format())
			}
		}
	}
}

// WriteSuccess writes a success line
func WriteSuccess(w io.Writer, message string, noColor bool) {
	palette(noColor, color.FgGreen, color.Bold).Fprintf(w, "✓ %s\n", message)
}

// WriteWarning writes a warning line
func WriteWarning(w io.Writer, message string, noColor bool) {
	palette(noColor, color.FgYellow, color.Bold).Fprintf(w, "! %s\n", message)
}
