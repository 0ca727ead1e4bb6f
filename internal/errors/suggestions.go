package errors

import (
	"fmt"
	"sort"
)

// maxSuggestionDistance bounds how different a candidate may be from the
// unknown name and still be offered.
const maxSuggestionDistance = 3

// SuggestNames returns the known names closest to name, nearest first
func SuggestNames(name string, known []string) []string {
	type scored struct {
		name string
		dist int
	}
	var matches []scored
	for _, k := range known {
		d := levenshtein(name, k)
		if d <= maxSuggestionDistance && d < len(k) {
			matches = append(matches, scored{k, d})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].dist != matches[j].dist {
			return matches[i].dist < matches[j].dist
		}
		return matches[i].name < matches[j].name
	})
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.name
	}
	return out
}

// UnknownName builds an error for a reference to an undeclared role or
// spec, with a "did you mean" hint when a close name exists.
func UnknownName(stage, code, kind, name string, known []string) EngineError {
	e := New(stage, code, fmt.Sprintf("unknown %s %q", kind, name), Error)
	if similar := SuggestNames(name, known); len(similar) > 0 {
		e = e.WithSuggestion(Suggestion{
			Description: fmt.Sprintf("did you mean %q?", similar[0]),
			Candidates:  similar,
		})
	}
	return e
}

// suggestionFor returns the default hint for a code
func suggestionFor(code string) *Suggestion {
	var desc string
	switch code {
	case ErrAnchorNotFound:
		desc = "the build may already diverge from the catalog; run `driftpatch discover` and review the anchor"
	case ErrAmbiguousMatch:
		desc = "extend the anchor with surrounding context until it is unique"
	case ErrUnbalancedDelimiters:
		desc = "use a literal anchor or move the prefix closer to the block"
	case ErrRoleAmbiguous:
		desc = "add a signature or an import dependency to the role"
	case ErrRoleUnresolved:
		desc = "check the role signatures against the current build"
	case ErrManifestStale:
		desc = "rerun `driftpatch discover` to regenerate the manifest"
	case ErrSideStoreMissing:
		desc = "restore the side-store directory next to the archive"
	default:
		return nil
	}
	return &Suggestion{Description: desc}
}

// WithDefaultSuggestion attaches the code's default hint when the error has
// none
func (e EngineError) WithDefaultSuggestion() EngineError {
	if e.Suggestion == nil {
		e.Suggestion = suggestionFor(e.Code)
	}
	return e
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}
