package patch

import (
	"fmt"
	"strings"

	engerrors "github.com/driftpatch/driftpatch/internal/errors"
)

// Anchor locates the text a patch replaces. A literal anchor matches its
// text exactly once. A structural anchor matches a unique prefix and
// extends through the balanced block that follows it.
type Anchor struct {
	Literal string `json:"literal,omitempty"`
	Prefix  string `json:"prefix,omitempty"`
	Open    string `json:"open,omitempty"`
	Close   string `json:"close,omitempty"`
}

// Structural reports whether the anchor is prefix plus balanced block
func (a Anchor) Structural() bool {
	return a.Prefix != ""
}

// Key returns the text whose presence identifies the anchor
func (a Anchor) Key() string {
	if a.Structural() {
		return a.Prefix
	}
	return a.Literal
}

func (a Anchor) String() string {
	if a.Structural() {
		return fmt.Sprintf("%s%s...%s", a.Prefix, a.Open, a.Close)
	}
	return a.Literal
}

// Span is a half-open byte range of an artifact
type Span struct {
	Start int
	End   int
}

// Find locates the anchor in content
func (a Anchor) Find(content string) (Span, error) {
	if a.Structural() {
		open, close := a.Open, a.Close
		if open == "" {
			open, close = "{", "}"
		}
		return FindStructural(content, a.Prefix, open, close)
	}
	return FindLiteral(content, a.Literal)
}

// FindLiteral returns the span of the single occurrence of lit
func FindLiteral(content, lit string) (Span, error) {
	if lit == "" {
		return Span{}, engerrors.New("patch", engerrors.ErrAnchorNotFound, "empty anchor", engerrors.Error)
	}
	idx, err := uniqueIndex(content, lit)
	if err != nil {
		return Span{}, err
	}
	return Span{Start: idx, End: idx + len(lit)}, nil
}

// FindStructural returns the span from the single occurrence of prefix
// through the delimiter that closes the first block opened after it.
// Delimiters inside comments, string, template and regular expression
// literals are ignored.
func FindStructural(content, prefix, open, close string) (Span, error) {
	start, err := uniqueIndex(content, prefix)
	if err != nil {
		return Span{}, err
	}

	depth := 0
	for i := start + len(prefix); i < len(content); {
		next, kind, ok := skipNonCode(content, i)
		if !ok {
			return Span{}, unbalanced(prefix, "unterminated "+kind)
		}
		if next > i {
			i = next
			continue
		}
		switch {
		case strings.HasPrefix(content[i:], open):
			depth++
			i += len(open)
			continue
		case depth > 0 && strings.HasPrefix(content[i:], close):
			depth--
			i += len(close)
			if depth == 0 {
				return Span{Start: start, End: i}, nil
			}
			continue
		}
		i++
	}

	if depth == 0 {
		return Span{}, unbalanced(prefix, fmt.Sprintf("no %q follows the prefix", open))
	}
	return Span{}, unbalanced(prefix, fmt.Sprintf("%d block(s) left open", depth))
}

func uniqueIndex(content, needle string) (int, error) {
	idx := strings.Index(content, needle)
	if idx < 0 {
		return -1, engerrors.New("patch", engerrors.ErrAnchorNotFound,
			fmt.Sprintf("anchor %q not found", abbreviate(needle)), engerrors.Error)
	}
	if n := strings.Count(content, needle); n > 1 {
		return -1, engerrors.New("patch", engerrors.ErrAmbiguousMatch,
			fmt.Sprintf("anchor %q occurs %d times", abbreviate(needle), n), engerrors.Error)
	}
	return idx, nil
}

func unbalanced(prefix, detail string) error {
	return engerrors.New("patch", engerrors.ErrUnbalancedDelimiters,
		fmt.Sprintf("block after %q: %s", abbreviate(prefix), detail), engerrors.Error)
}

// skipNonCode returns the index after the comment or literal starting at
// i, and what it skipped. It returns i when code starts there, and ok false
// when the comment or literal is unterminated.
func skipNonCode(s string, i int) (next int, kind string, ok bool) {
	switch c := s[i]; {
	case c == '"' || c == '\'':
		next, ok = skipQuoted(s, i)
		return next, "string literal", ok
	case c == '`':
		next, ok = skipTemplate(s, i)
		return next, "template literal", ok
	case strings.HasPrefix(s[i:], "//"):
		if end := strings.IndexByte(s[i:], '\n'); end >= 0 {
			return i + end + 1, "comment", true
		}
		return len(s), "comment", true
	case strings.HasPrefix(s[i:], "/*"):
		if end := strings.Index(s[i+2:], "*/"); end >= 0 {
			return i + 2 + end + 2, "comment", true
		}
		return 0, "comment", false
	case c == '/' && regexAllowed(s, i):
		// a slash with no closing slash on its line is division
		if next, ok := skipRegex(s, i); ok {
			return next, "regular expression", true
		}
	}
	return i, "", true
}

// regexKeywords may directly precede a regular expression literal
var regexKeywords = map[string]bool{
	"return": true, "typeof": true, "case": true, "do": true, "else": true,
	"in": true, "of": true, "new": true, "delete": true, "void": true,
	"throw": true, "instanceof": true, "yield": true, "await": true,
}

// regexAllowed reports whether a "/" at i starts a regular expression
// rather than a division, judged by the token before it
func regexAllowed(s string, i int) bool {
	j := i - 1
	for j >= 0 && (s[j] == ' ' || s[j] == '\t' || s[j] == '\n' || s[j] == '\r') {
		j--
	}
	if j < 0 {
		return true
	}
	if strings.IndexByte("(,=:[!&|?{};+-*%<>~^", s[j]) >= 0 {
		return true
	}
	end := j + 1
	for j >= 0 && isIdentByte(s[j]) {
		j--
	}
	return end > j+1 && regexKeywords[s[j+1:end]]
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '$' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

// skipRegex returns the index after the regular expression literal starting
// at i. A "/" inside a character class does not end it.
func skipRegex(s string, i int) (int, bool) {
	inClass := false
	for j := i + 1; j < len(s); j++ {
		switch s[j] {
		case '\\':
			j++
		case '[':
			inClass = true
		case ']':
			inClass = false
		case '/':
			if !inClass {
				return j + 1, true
			}
		case '\n':
			return 0, false
		}
	}
	return 0, false
}

// skipQuoted returns the index after the string literal starting at i
func skipQuoted(s string, i int) (int, bool) {
	quote := s[i]
	for j := i + 1; j < len(s); j++ {
		switch s[j] {
		case '\\':
			j++
		case quote:
			return j + 1, true
		case '\n':
			return 0, false
		}
	}
	return 0, false
}

// skipTemplate returns the index after the template literal starting at i,
// descending into ${...} substitutions.
func skipTemplate(s string, i int) (int, bool) {
	for j := i + 1; j < len(s); j++ {
		switch {
		case s[j] == '\\':
			j++
		case s[j] == '`':
			return j + 1, true
		case s[j] == '$' && j+1 < len(s) && s[j+1] == '{':
			next, ok := skipSubstitution(s, j+2)
			if !ok {
				return 0, false
			}
			j = next - 1
		}
	}
	return 0, false
}

// skipSubstitution returns the index after the "}" closing a substitution
// whose body starts at i.
func skipSubstitution(s string, i int) (int, bool) {
	depth := 1
	for j := i; j < len(s); {
		next, _, ok := skipNonCode(s, j)
		if !ok {
			return 0, false
		}
		if next > j {
			j = next
			continue
		}
		switch s[j] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return j + 1, true
			}
		}
		j++
	}
	return 0, false
}

func abbreviate(s string) string {
	const limit = 48
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
