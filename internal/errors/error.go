// Package errors defines the engine's error taxonomy. Every failure the
// engine reports carries a stage, a stable code and a severity so that the
// CLI can render it for terminals or as JSON.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
)

// Severity represents the severity level of an error
type Severity int

const (
	Info Severity = iota
	Warning
	Error
	Fatal
)

// String returns the string representation of the severity
func (s Severity) String() string {
	switch s {
	case Info:
		return "info"
	case Warning:
		return "warning"
	case Error:
		return "error"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// MarshalJSON implements json.Marshaler for Severity
func (s Severity) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler for Severity
func (s *Severity) UnmarshalJSON(data []byte) error {
	str := strings.Trim(string(data), `"`)
	switch str {
	case "info":
		*s = Info
	case "warning":
		*s = Warning
	case "error":
		*s = Error
	case "fatal":
		*s = Fatal
	default:
		*s = Error
	}
	return nil
}

// Location pins an error to the part of the build it concerns.
type Location struct {
	Role     string `json:"role,omitempty"`
	Artifact string `json:"artifact,omitempty"`
	Spec     string `json:"spec,omitempty"`
}

func (l Location) String() string {
	var parts []string
	if l.Role != "" {
		parts = append(parts, "role="+l.Role)
	}
	if l.Artifact != "" {
		parts = append(parts, "artifact="+l.Artifact)
	}
	if l.Spec != "" {
		parts = append(parts, "spec="+l.Spec)
	}
	return strings.Join(parts, " ")
}

// Suggestion is a hint attached to an error
type Suggestion struct {
	Description string   `json:"description"`
	Candidates  []string `json:"candidates,omitempty"`
}

// EngineError is the structured error produced by every engine stage
type EngineError struct {
	Stage      string      // "archive", "resolve", "patch", "verify", "manifest", "catalog"
	Code       string      // "A001", "R002", etc.
	Message    string      // Human-readable message
	Location   Location    // Role, artifact and spec the error concerns
	Severity   Severity    // Error, Warning, Info, Fatal
	Suggestion *Suggestion // Optional hint
	Cause      error       // Underlying error, if any
}

// Error implements the error interface
func (e EngineError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Code)
	if loc := e.Location.String(); loc != "" {
		sb.WriteString(" [" + loc + "]")
	}
	sb.WriteString(": ")
	sb.WriteString(e.Message)
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

// Unwrap returns the underlying cause
func (e EngineError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an EngineError with the same code. A target
// without a code matches any EngineError.
func (e EngineError) Is(target error) bool {
	var t EngineError
	if !stderrors.As(target, &t) {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// New creates a new EngineError. The default message for the code is used
// when message is empty.
func New(stage, code, message string, severity Severity) EngineError {
	if message == "" {
		message = ErrorMessages[code]
	}
	return EngineError{
		Stage:    stage,
		Code:     code,
		Message:  message,
		Severity: severity,
	}
}

// Wrap creates a new EngineError around cause
func Wrap(stage, code string, cause error, format string, args ...any) EngineError {
	e := New(stage, code, fmt.Sprintf(format, args...), Error)
	e.Cause = cause
	return e
}

// At sets the error's location
func (e EngineError) At(loc Location) EngineError {
	e.Location = loc
	return e
}

// WithSuggestion attaches a hint to the error
func (e EngineError) WithSuggestion(s Suggestion) EngineError {
	e.Suggestion = &s
	return e
}

// WithSeverity overrides the error's severity
func (e EngineError) WithSeverity(s Severity) EngineError {
	e.Severity = s
	return e
}

// MarshalJSON implements json.Marshaler
func (e EngineError) MarshalJSON() ([]byte, error) {
	var cause string
	if e.Cause != nil {
		cause = e.Cause.Error()
	}
	return json.Marshal(struct {
		Stage      string      `json:"stage"`
		Code       string      `json:"code"`
		Message    string      `json:"message"`
		Severity   Severity    `json:"severity"`
		Location   Location    `json:"location"`
		Suggestion *Suggestion `json:"suggestion,omitempty"`
		Cause      string      `json:"cause,omitempty"`
	}{
		Stage:      e.Stage,
		Code:       e.Code,
		Message:    e.Message,
		Severity:   e.Severity,
		Location:   e.Location,
		Suggestion: e.Suggestion,
		Cause:      cause,
	})
}

// IsError returns true if the error is at Error or Fatal severity
func (e EngineError) IsError() bool {
	return e.Severity == Error || e.Severity == Fatal
}

// IsWarning returns true if the error is at Warning severity
func (e EngineError) IsWarning() bool {
	return e.Severity == Warning
}

// IsFatal returns true if the error is at Fatal severity
func (e EngineError) IsFatal() bool {
	return e.Severity == Fatal
}

// HasCode reports whether err, or any error it wraps, is an EngineError
// with the given code.
func HasCode(err error, code string) bool {
	return stderrors.Is(err, EngineError{Code: code})
}

// CodeOf returns the code of the first EngineError in err's chain
func CodeOf(err error) string {
	var e EngineError
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ""
}
