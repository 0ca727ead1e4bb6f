// Package patch applies anchor-based textual transformations to build
// artifacts. Each artifact is patched under its own lock, every write is
// atomic and a pre-session snapshot allows the whole artifact to be rolled
// back.
package patch

import (
	"strings"

	"github.com/driftpatch/driftpatch/internal/verify"
)

// ReplaceFunc computes the replacement for the matched text. It must be
// pure.
type ReplaceFunc func(matched string) (string, error)

// AppliedFunc reports whether an artifact already carries the patch
type AppliedFunc func(content string) bool

// Spec is one transformation of one artifact
type Spec struct {
	ID          string
	Description string
	Role        string
	Anchor      Anchor
	Replacement string
	Replace     ReplaceFunc
	Applied     AppliedFunc
	After       []string
	Assertions  []verify.Assertion

	// Invalid is set when the spec could not be bound to the current build,
	// typically because a symbol it references is unresolved.
	Invalid error
}

// replacement returns the replacement for matched
func (s Spec) replacement(matched string) (string, error) {
	if s.Replace != nil {
		return s.Replace(matched)
	}
	return s.Replacement, nil
}

// IsApplied evaluates the spec's idempotency predicate. Without an explicit
// predicate a deletion counts as applied once its anchor is gone and a
// replacement once its text is present and the anchor is gone or contained
// in the replacement.
func (s Spec) IsApplied(content string) bool {
	if s.Applied != nil {
		return s.Applied(content)
	}
	key := s.Anchor.Key()
	if s.Replace != nil && s.Replacement == "" {
		return false
	}
	if s.Replacement == "" {
		return key != "" && !strings.Contains(content, key)
	}
	if !strings.Contains(content, s.Replacement) {
		return false
	}
	return !strings.Contains(content, key) || strings.Contains(s.Replacement, key)
}

// Contains is an AppliedFunc true when every marker is present
func Contains(markers ...string) AppliedFunc {
	return func(content string) bool {
		for _, m := range markers {
			if !strings.Contains(content, m) {
				return false
			}
		}
		return len(markers) > 0
	}
}

// Absent is an AppliedFunc true when no marker is present
func Absent(markers ...string) AppliedFunc {
	return func(content string) bool {
		for _, m := range markers {
			if strings.Contains(content, m) {
				return false
			}
		}
		return len(markers) > 0
	}
}
