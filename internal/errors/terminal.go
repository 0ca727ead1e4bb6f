package errors

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
)

var (
	bold   = color.New(color.Bold)
	cyan   = color.New(color.FgCyan)
	gray   = color.New(color.FgHiBlack)
	red    = color.New(color.FgRed)
	yellow = color.New(color.FgYellow)
	blue   = color.New(color.FgBlue)
	help   = color.New(color.FgCyan, color.Bold)
)

// FormatForTerminal formats an EngineError for terminal output
func (e EngineError) FormatForTerminal() string {
	var sb strings.Builder

	label := strings.ToUpper(e.Severity.String()[:1]) + e.Severity.String()[1:]
	sb.WriteString(fmt.Sprintf("%s %s: %s\n",
		severityColor(e.Severity).Sprint(label),
		gray.Sprintf("[%s]", e.Code),
		e.Message))

	if loc := e.Location.String(); loc != "" {
		sb.WriteString(fmt.Sprintf("  %s %s\n", cyan.Sprint("-->"), loc))
	}
	if e.Cause != nil {
		sb.WriteString(fmt.Sprintf("  %s %s\n", gray.Sprint("caused by:"), e.Cause))
	}
	if e.Suggestion != nil {
		sb.WriteString(fmt.Sprintf("  %s %s\n", help.Sprint("help:"), e.Suggestion.Description))
		for _, c := range e.Suggestion.Candidates {
			sb.WriteString(fmt.Sprintf("    - %s\n", c))
		}
	}

	return sb.String()
}

func severityColor(severity Severity) *color.Color {
	switch severity {
	case Info:
		return blue
	case Warning:
		return yellow
	case Error:
		return red
	case Fatal:
		return color.New(color.FgRed, color.Bold)
	default:
		return bold
	}
}

// FormatSummary formats a summary of errors and warnings
func FormatSummary(errorCount, warningCount int) string {
	var parts []string
	if errorCount > 0 {
		parts = append(parts, red.Sprintf("%d error(s)", errorCount))
	}
	if warningCount > 0 {
		parts = append(parts, yellow.Sprintf("%d warning(s)", warningCount))
	}
	if len(parts) == 0 {
		return blue.Sprint("No errors or warnings") + "\n"
	}
	return "\n" + bold.Sprintf("Finished with %s", strings.Join(parts, " and ")) + "\n"
}
