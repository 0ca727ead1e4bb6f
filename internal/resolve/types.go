// Package resolve re-derives, for each build, which renamed artifact plays
// which semantic role and which renamed local identifiers inside it carry
// which meaning.
package resolve

import (
	"fmt"
	"sort"
	"strings"

	"github.com/driftpatch/driftpatch/internal/archive"
	engerrors "github.com/driftpatch/driftpatch/internal/errors"
)

// Confidence grades a resolution
type Confidence int

const (
	Unconfirmed Confidence = iota
	Probable
	Certain
)

func (c Confidence) String() string {
	switch c {
	case Certain:
		return "certain"
	case Probable:
		return "probable"
	default:
		return "unconfirmed"
	}
}

// MarshalText implements encoding.TextMarshaler
func (c Confidence) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (c *Confidence) UnmarshalText(text []byte) error {
	parsed, err := ParseConfidence(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseConfidence parses a confidence name
func ParseConfidence(s string) (Confidence, error) {
	switch strings.ToLower(s) {
	case "certain":
		return Certain, nil
	case "probable":
		return Probable, nil
	case "unconfirmed", "":
		return Unconfirmed, nil
	default:
		return Unconfirmed, fmt.Errorf("unknown confidence %q", s)
	}
}

// Method names the technique that produced a resolution
type Method string

const (
	MethodStringAnchor  Method = "string-anchor"
	MethodImportGraph   Method = "import-graph"
	MethodUsageContext  Method = "usage-context"
	MethodCrossArtifact Method = "cross-artifact"
	MethodDeclaredPath  Method = "declared-path"
	MethodManifest      Method = "manifest"
)

// Meaning classifies what a bound local name stands for
type Meaning string

const (
	MeaningRole       Meaning = "role"
	MeaningImport     Meaning = "import"
	MeaningUnresolved Meaning = "unresolved"
)

// Role describes a semantic piece of the build in terms that survive
// renaming.
type Role struct {
	ID          string
	Description string
	// Path pins the role to a non-renamed artifact
	Path       string
	Candidates []string
	Signatures []Signature
	// Imports lists roles whose artifacts this role's artifact imports
	Imports     []string
	Usage       []string
	Counterpart *Counterpart
	Symbols     []SymbolRule
	Required    bool
}

// Counterpart pairs a role with a readable sibling that imports from the
// same shared dependency.
type Counterpart struct {
	Role string
	Via  string
}

// Dependencies returns the roles that must be resolved before r, sorted
func (r Role) Dependencies() []string {
	seen := map[string]bool{}
	add := func(id string) {
		if id != "" && id != r.ID {
			seen[id] = true
		}
	}
	for _, id := range r.Imports {
		add(id)
	}
	if r.Counterpart != nil {
		add(r.Counterpart.Role)
		add(r.Counterpart.Via)
	}
	for _, s := range r.Symbols {
		if s.Import != nil {
			add(s.Import.From)
		}
		if s.Counterpart != nil {
			add(s.Counterpart.Role)
			add(s.Counterpart.Via)
		}
	}
	deps := make([]string, 0, len(seen))
	for id := range seen {
		deps = append(deps, id)
	}
	sort.Strings(deps)
	return deps
}

// SymbolRule binds one renamed local identifier. Exactly one strategy is
// set.
type SymbolRule struct {
	ID          string
	Description string
	Required    bool

	// ExportShape is a regular expression over the artifact with a
	// {{local}} placeholder; the single exported local it matches binds.
	ExportShape string
	Import      *ImportRule
	Usage       []UsagePattern
	Counterpart *CounterpartRule
}

// ImportRule binds the local alias under which the artifact imports an
// export of another role's artifact.
type ImportRule struct {
	From   string
	Symbol string
	Export string
}

// Pick selects among usage matches
type Pick string

const (
	PickUnique     Pick = "unique"
	PickMostCommon Pick = "most_common"
)

// UsagePattern is a regular expression whose "local" group, or first
// group, captures the identifier. Patterns are tried in order; later ones
// are fallbacks, typically matching already-patched code.
type UsagePattern struct {
	Pattern string
	Pick    Pick
}

// CounterpartRule binds the alias this artifact uses for the export that a
// readable counterpart imports under Name from the shared dependency.
type CounterpartRule struct {
	Role string
	Via  string
	Name string
}

// Alias is a bound local identifier
type Alias struct {
	Symbol     string     `json:"symbol"`
	Local      string     `json:"local"`
	Export     string     `json:"export,omitempty"`
	Meaning    Meaning    `json:"meaning"`
	Method     Method     `json:"method"`
	Confidence Confidence `json:"confidence"`
}

// Evidence records how a secondary method judged a resolution
type Evidence struct {
	Method Method `json:"method"`
	Agrees bool   `json:"agrees"`
	Detail string `json:"detail,omitempty"`
}

// ResolvedArtifact is the artifact bound to a role
type ResolvedArtifact struct {
	Role       string           `json:"role"`
	Path       string           `json:"path"`
	Storage    archive.Storage  `json:"storage"`
	Method     Method           `json:"method"`
	Confidence Confidence       `json:"confidence"`
	Aliases    map[string]Alias `json:"aliases,omitempty"`
	Evidence   []Evidence       `json:"evidence,omitempty"`
}

// Alias returns the alias bound to symbol
func (r *ResolvedArtifact) Alias(symbol string) (Alias, bool) {
	a, ok := r.Aliases[symbol]
	if !ok || a.Meaning == MeaningUnresolved {
		return Alias{}, false
	}
	return a, true
}

// Result is the outcome of a resolution run
type Result struct {
	Roles  map[string]*ResolvedArtifact
	Errors []engerrors.EngineError
}

// NewResult creates an empty Result
func NewResult() *Result {
	return &Result{Roles: make(map[string]*ResolvedArtifact)}
}

// Artifact returns the artifact resolved for role
func (r *Result) Artifact(role string) (*ResolvedArtifact, bool) {
	a, ok := r.Roles[role]
	return a, ok
}

// Mapping returns role id to artifact path
func (r *Result) Mapping() map[string]string {
	m := make(map[string]string, len(r.Roles))
	for id, a := range r.Roles {
		m[id] = a.Path
	}
	return m
}

// RoleIDs returns the resolved role ids, sorted
func (r *Result) RoleIDs() []string {
	ids := make([]string, 0, len(r.Roles))
	for id := range r.Roles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Err returns the resolution errors as one error, or nil
func (r *Result) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	c := engerrors.NewCollector()
	c.AddAll(r.Errors)
	return c.Err()
}
