// Package catalog loads patch catalogs: the roles to resolve, the patches
// to apply and the assertions that prove them, all keyed by semantic role
// rather than by build-specific names.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	engerrors "github.com/driftpatch/driftpatch/internal/errors"
	"github.com/driftpatch/driftpatch/internal/verify"
)

// Catalog is the parsed catalog file
type Catalog struct {
	Name          string      `yaml:"name" validate:"required"`
	Description   string      `yaml:"description"`
	PassThreshold string      `yaml:"pass_threshold"`
	Roles         []RoleDef   `yaml:"roles" validate:"required,min=1,dive"`
	Patches       []PatchDef  `yaml:"patches" validate:"dive"`
	Assertions    []AssertDef `yaml:"assertions" validate:"dive"`
}

// RoleDef declares a semantic role
type RoleDef struct {
	ID          string          `yaml:"id" validate:"required"`
	Description string          `yaml:"description"`
	Path        string          `yaml:"path"`
	Candidates  []string        `yaml:"candidates"`
	Signatures  []SignatureDef  `yaml:"signatures" validate:"dive"`
	Imports     []string        `yaml:"imports"`
	Usage       []string        `yaml:"usage"`
	Counterpart *CounterpartDef `yaml:"counterpart"`
	Symbols     []SymbolDef     `yaml:"symbols" validate:"dive"`
	Required    *bool           `yaml:"required"`
}

// SignatureDef is a fingerprint of a role's artifact
type SignatureDef struct {
	Kind  string `yaml:"kind" validate:"required,oneof=literal string property export"`
	Value string `yaml:"value" validate:"required"`
}

// CounterpartDef pairs a role with a readable sibling
type CounterpartDef struct {
	Role string `yaml:"role" validate:"required"`
	Via  string `yaml:"via" validate:"required"`
	Name string `yaml:"name"`
}

// SymbolDef binds a renamed local identifier
type SymbolDef struct {
	ID          string          `yaml:"id" validate:"required"`
	Description string          `yaml:"description"`
	Required    bool            `yaml:"required"`
	ExportShape string          `yaml:"export_shape"`
	Import      *ImportDef      `yaml:"import"`
	Usage       []UsageDef      `yaml:"usage" validate:"dive"`
	Counterpart *CounterpartDef `yaml:"counterpart"`
}

// ImportDef binds an imported alias
type ImportDef struct {
	From   string `yaml:"from" validate:"required"`
	Symbol string `yaml:"symbol" validate:"required_without=Export"`
	Export string `yaml:"export" validate:"required_without=Symbol"`
}

// UsageDef is one usage pattern
type UsageDef struct {
	Pattern string `yaml:"pattern" validate:"required"`
	Pick    string `yaml:"pick" validate:"omitempty,oneof=unique most_common"`
}

// PatchDef is one transformation
type PatchDef struct {
	ID          string      `yaml:"id" validate:"required"`
	Description string      `yaml:"description"`
	Role        string      `yaml:"role" validate:"required"`
	After       []string    `yaml:"after"`
	Anchor      AnchorDef   `yaml:"anchor"`
	Replacement string      `yaml:"replacement"`
	Rewrite     *RewriteDef `yaml:"rewrite"`
	AppliedWhen *AppliedDef `yaml:"applied_when"`
	Assertions  []AssertDef `yaml:"assertions" validate:"dive"`
}

// AnchorDef is either a literal or a structural anchor
type AnchorDef struct {
	Literal string `yaml:"literal" validate:"required_without=Prefix"`
	Prefix  string `yaml:"prefix" validate:"required_without=Literal"`
	Open    string `yaml:"open"`
	Close   string `yaml:"close"`
}

// RewriteDef rewrites the matched span with a regular expression
type RewriteDef struct {
	Pattern string `yaml:"pattern" validate:"required"`
	With    string `yaml:"with"`
}

// AppliedDef is an explicit idempotency predicate
type AppliedDef struct {
	Contains []string `yaml:"contains"`
	Absent   []string `yaml:"absent"`
}

// AssertDef is a postcondition
type AssertDef struct {
	ID          string   `yaml:"id"`
	Description string   `yaml:"description"`
	Role        string   `yaml:"role"`
	Kind        string   `yaml:"kind" validate:"required,oneof=contains absent syntax order"`
	Text        string   `yaml:"text" validate:"required_if=Kind contains,required_if=Kind absent"`
	Sequence    []string `yaml:"sequence" validate:"required_if=Kind order"`
}

// Load reads and validates a catalog file
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, engerrors.Wrap("catalog", engerrors.ErrCatalogInvalid, err, "read catalog %s", path).WithSeverity(engerrors.Fatal)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Parse decodes and validates catalog YAML
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return nil, engerrors.Wrap("catalog", engerrors.ErrCatalogInvalid, err, "decode catalog").WithSeverity(engerrors.Fatal)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	c.fillAssertionIDs()
	return &c, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and cross references. Every problem is
// reported, not just the first.
func (c *Catalog) Validate() error {
	collector := engerrors.NewCollector()
	fail := func(format string, args ...any) engerrors.EngineError {
		return engerrors.New("catalog", engerrors.ErrCatalogInvalid, fmt.Sprintf(format, args...), engerrors.Fatal)
	}

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return engerrors.Wrap("catalog", engerrors.ErrCatalogInvalid, err, "validate catalog").WithSeverity(engerrors.Fatal)
		}
		for _, fe := range verrs {
			collector.Add(fail("%s fails %q", strings.TrimPrefix(fe.Namespace(), "Catalog."), fe.Tag()))
		}
	}

	if c.PassThreshold != "" {
		if _, err := verify.ParseThreshold(c.PassThreshold); err != nil {
			collector.Add(fail("pass_threshold: %v", err))
		}
	}

	roleIDs := make([]string, 0, len(c.Roles))
	roles := map[string]bool{}
	for _, r := range c.Roles {
		if roles[r.ID] {
			collector.Add(fail("duplicate role %q", r.ID).At(engerrors.Location{Role: r.ID}))
		}
		roles[r.ID] = true
		roleIDs = append(roleIDs, r.ID)
	}
	sort.Strings(roleIDs)
	checkRole := func(ref string, loc engerrors.Location) {
		if ref != "" && !roles[ref] {
			collector.Add(engerrors.UnknownName("catalog", engerrors.ErrCatalogInvalid, "role", ref, roleIDs).
				WithSeverity(engerrors.Fatal).At(loc))
		}
	}

	for _, r := range c.Roles {
		loc := engerrors.Location{Role: r.ID}
		if r.Path == "" && len(r.Signatures) == 0 && len(r.Imports) == 0 && len(r.Usage) == 0 && r.Counterpart == nil {
			collector.Add(fail("role %s has neither a path nor any evidence to resolve it", r.ID).At(loc))
		}
		for _, dep := range r.Imports {
			checkRole(dep, loc)
		}
		if r.Counterpart != nil {
			checkRole(r.Counterpart.Role, loc)
			checkRole(r.Counterpart.Via, loc)
		}
		symbols := map[string]bool{}
		for _, s := range r.Symbols {
			if symbols[s.ID] {
				collector.Add(fail("duplicate symbol %s:%s", r.ID, s.ID).At(loc))
			}
			symbols[s.ID] = true
			if n := s.strategies(); n != 1 {
				collector.Add(fail("symbol %s:%s must use exactly one strategy, has %d", r.ID, s.ID, n).At(loc))
			}
			if s.Import != nil {
				checkRole(s.Import.From, loc)
			}
			if s.Counterpart != nil {
				checkRole(s.Counterpart.Role, loc)
				checkRole(s.Counterpart.Via, loc)
				if s.Counterpart.Name == "" {
					collector.Add(fail("symbol %s:%s counterpart needs a name", r.ID, s.ID).At(loc))
				}
			}
		}
	}

	patchIDs := make([]string, 0, len(c.Patches))
	patches := map[string]bool{}
	for _, p := range c.Patches {
		if patches[p.ID] {
			collector.Add(fail("duplicate patch %q", p.ID).At(engerrors.Location{Spec: p.ID}))
		}
		patches[p.ID] = true
		patchIDs = append(patchIDs, p.ID)
	}
	sort.Strings(patchIDs)

	for _, p := range c.Patches {
		loc := engerrors.Location{Role: p.Role, Spec: p.ID}
		checkRole(p.Role, loc)
		for _, dep := range p.After {
			if !patches[dep] {
				collector.Add(engerrors.UnknownName("catalog", engerrors.ErrCatalogInvalid, "patch", dep, patchIDs).
					WithSeverity(engerrors.Fatal).At(loc))
			}
		}
		if p.Anchor.Literal != "" && p.Anchor.Prefix != "" {
			collector.Add(fail("patch %s sets both a literal and a structural anchor", p.ID).At(loc))
		}
		if p.Rewrite != nil && p.Replacement != "" {
			collector.Add(fail("patch %s sets both replacement and rewrite", p.ID).At(loc))
		}
		for _, a := range p.Assertions {
			checkRole(a.Role, loc)
		}
	}
	for _, a := range c.Assertions {
		if a.Role == "" {
			collector.Add(fail("assertion %q needs a role", a.ID))
			continue
		}
		checkRole(a.Role, engerrors.Location{Role: a.Role})
	}

	return collector.Err()
}

func (s SymbolDef) strategies() int {
	n := 0
	if s.ExportShape != "" {
		n++
	}
	if s.Import != nil {
		n++
	}
	if len(s.Usage) > 0 {
		n++
	}
	if s.Counterpart != nil {
		n++
	}
	return n
}

// fillAssertionIDs names anonymous assertions after their position
func (c *Catalog) fillAssertionIDs() {
	for i := range c.Patches {
		p := &c.Patches[i]
		for j := range p.Assertions {
			if p.Assertions[j].ID == "" {
				p.Assertions[j].ID = fmt.Sprintf("%s#%d", p.ID, j+1)
			}
			if p.Assertions[j].Role == "" {
				p.Assertions[j].Role = p.Role
			}
		}
	}
	for i := range c.Assertions {
		if c.Assertions[i].ID == "" {
			c.Assertions[i].ID = fmt.Sprintf("%s#%d", c.Assertions[i].Role, i+1)
		}
	}
}

// Threshold returns the catalog's pass threshold, or all when unset
func (c *Catalog) Threshold() verify.Threshold {
	t, err := verify.ParseThreshold(c.PassThreshold)
	if err != nil {
		return verify.AllPass
	}
	return t
}

// RoleIDs returns the declared role ids, sorted
func (c *Catalog) RoleIDs() []string {
	ids := make([]string, 0, len(c.Roles))
	for _, r := range c.Roles {
		ids = append(ids, r.ID)
	}
	sort.Strings(ids)
	return ids
}
