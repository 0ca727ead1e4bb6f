// Package verify checks patched artifacts against their postconditions.
// A verification run never stops at the first failure: every assertion is
// evaluated and reported.
package verify

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Kind is the type of an assertion
type Kind string

const (
	KindContains Kind = "contains"
	KindAbsent   Kind = "absent"
	KindSyntax   Kind = "syntax"
	KindOrder    Kind = "order"
)

// Assertion is a postcondition over one artifact
type Assertion struct {
	ID          string   `json:"id"`
	Description string   `json:"description,omitempty"`
	Role        string   `json:"role"`
	Artifact    string   `json:"artifact"`
	Kind        Kind     `json:"kind"`
	Text        string   `json:"text,omitempty"`
	Sequence    []string `json:"sequence,omitempty"`
}

func (a Assertion) String() string {
	if a.Description != "" {
		return a.Description
	}
	switch a.Kind {
	case KindContains:
		return fmt.Sprintf("%s contains %q", a.Role, abbreviate(a.Text))
	case KindAbsent:
		return fmt.Sprintf("%s lacks %q", a.Role, abbreviate(a.Text))
	case KindSyntax:
		return fmt.Sprintf("%s parses", a.Role)
	case KindOrder:
		return fmt.Sprintf("%s orders %d texts", a.Role, len(a.Sequence))
	default:
		return a.ID
	}
}

// Result is the outcome of one assertion
type Result struct {
	Assertion Assertion `json:"assertion"`
	Passed    bool      `json:"passed"`
	Detail    string    `json:"detail,omitempty"`
}

// Source reads artifact content by path
type Source interface {
	Read(ctx context.Context, artifact string) ([]byte, error)
}

// Verifier evaluates assertions
type Verifier struct {
	syntax SyntaxChecker
	logger *zap.Logger
}

// NewVerifier creates a Verifier. A nil checker makes syntax assertions
// pass vacuously.
func NewVerifier(syntax SyntaxChecker, logger *zap.Logger) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{syntax: syntax, logger: logger}
}

// Verify evaluates every assertion against src. It never returns early:
// unreadable artifacts fail their assertions and cancellation marks the
// remaining ones failed.
func (v *Verifier) Verify(ctx context.Context, src Source, assertions []Assertion) *Report {
	report := &Report{Results: make([]Result, 0, len(assertions))}
	cache := make(map[string][]byte)
	readErrs := make(map[string]error)

	for _, a := range assertions {
		if err := ctx.Err(); err != nil {
			report.add(Result{Assertion: a, Detail: "not evaluated: " + err.Error()})
			continue
		}

		content, ok := cache[a.Artifact]
		if !ok {
			if err, failed := readErrs[a.Artifact]; failed {
				report.add(Result{Assertion: a, Detail: "artifact unreadable: " + err.Error()})
				continue
			}
			data, err := src.Read(ctx, a.Artifact)
			if err != nil {
				readErrs[a.Artifact] = err
				report.add(Result{Assertion: a, Detail: "artifact unreadable: " + err.Error()})
				continue
			}
			cache[a.Artifact] = data
			content = data
		}

		r := Check(ctx, v.syntax, a, content)
		if !r.Passed {
			v.logger.Debug("assertion failed", zap.String("assertion", a.ID), zap.String("artifact", a.Artifact), zap.String("detail", r.Detail))
		}
		report.add(r)
	}

	v.logger.Info("verification finished", zap.Int("passed", report.Passed), zap.Int("total", report.Total))
	return report
}

// Check evaluates a single assertion against content
func Check(ctx context.Context, checker SyntaxChecker, a Assertion, content []byte) Result {
	text := string(content)
	r := Result{Assertion: a}

	switch a.Kind {
	case KindContains:
		r.Passed = strings.Contains(text, a.Text)
		if !r.Passed {
			r.Detail = fmt.Sprintf("%q not found", abbreviate(a.Text))
		}
	case KindAbsent:
		if idx := strings.Index(text, a.Text); idx >= 0 {
			r.Detail = fmt.Sprintf("%q still present at offset %d", abbreviate(a.Text), idx)
		} else {
			r.Passed = true
		}
	case KindOrder:
		r.Passed, r.Detail = checkOrder(text, a.Sequence)
	case KindSyntax:
		if checker == nil {
			r.Passed = true
			return r
		}
		issues, err := checker.Check(ctx, a.Artifact, content)
		switch {
		case err != nil:
			r.Detail = err.Error()
		case len(issues) > 0:
			r.Detail = fmt.Sprintf("%d syntax issue(s), first at %s", len(issues), issues[0])
		default:
			r.Passed = true
		}
	default:
		r.Detail = fmt.Sprintf("unknown assertion kind %q", a.Kind)
	}
	return r
}

func checkOrder(text string, seq []string) (bool, string) {
	if len(seq) == 0 {
		return false, "empty sequence"
	}
	prev := -1
	for i, s := range seq {
		idx := strings.Index(text, s)
		if idx < 0 {
			return false, fmt.Sprintf("%q not found", abbreviate(s))
		}
		if idx <= prev {
			return false, fmt.Sprintf("%q appears before %q", abbreviate(s), abbreviate(seq[i-1]))
		}
		prev = idx
	}
	return true, ""
}

func abbreviate(s string) string {
	const limit = 60
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
