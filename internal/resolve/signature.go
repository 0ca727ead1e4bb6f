package resolve

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// SignatureKind selects how a signature is matched
type SignatureKind string

const (
	// SigLiteral matches raw text
	SigLiteral SignatureKind = "literal"
	// SigString matches a string literal in any quote style
	SigString SignatureKind = "string"
	// SigProperty matches a property access or an object key
	SigProperty SignatureKind = "property"
	// SigExport matches a name in an export clause
	SigExport SignatureKind = "export"
)

// Signature is a structural fingerprint that survives renaming
type Signature struct {
	Kind  SignatureKind
	Value string
}

func (s Signature) String() string {
	return fmt.Sprintf("%s:%s", s.Kind, s.Value)
}

// Match reports whether content carries the signature
func (s Signature) Match(content string) bool {
	switch s.Kind {
	case SigString:
		for _, q := range []string{`"`, `'`, "`"} {
			if strings.Contains(content, q+s.Value+q) {
				return true
			}
		}
		return false
	case SigProperty:
		return propertyPattern(s.Value).MatchString(content)
	case SigExport:
		for _, e := range ParseExports(content) {
			if e.Name == s.Value {
				return true
			}
		}
		return false
	default:
		return strings.Contains(content, s.Value)
	}
}

var propertyPatterns sync.Map

func propertyPattern(name string) *regexp.Regexp {
	if re, ok := propertyPatterns.Load(name); ok {
		return re.(*regexp.Regexp)
	}
	q := regexp.QuoteMeta(name)
	re := regexp.MustCompile(`\.` + q + `\b|[{,]\s*["']?` + q + `["']?\s*:`)
	propertyPatterns.Store(name, re)
	return re
}

// score counts the signatures content carries
func score(content string, sigs []Signature) int {
	n := 0
	for _, s := range sigs {
		if s.Match(content) {
			n++
		}
	}
	return n
}
