package catalog

import (
	"github.com/driftpatch/driftpatch/internal/resolve"
)

// ResolverRoles converts the role declarations for the resolver. Roles
// are required unless they say otherwise.
func (c *Catalog) ResolverRoles() []resolve.Role {
	roles := make([]resolve.Role, 0, len(c.Roles))
	for _, d := range c.Roles {
		r := resolve.Role{
			ID:          d.ID,
			Description: d.Description,
			Path:        d.Path,
			Candidates:  d.Candidates,
			Imports:     d.Imports,
			Usage:       d.Usage,
			Required:    d.Required == nil || *d.Required,
		}
		for _, s := range d.Signatures {
			r.Signatures = append(r.Signatures, resolve.Signature{Kind: resolve.SignatureKind(s.Kind), Value: s.Value})
		}
		if d.Counterpart != nil {
			r.Counterpart = &resolve.Counterpart{Role: d.Counterpart.Role, Via: d.Counterpart.Via}
		}
		for _, s := range d.Symbols {
			r.Symbols = append(r.Symbols, s.rule())
		}
		roles = append(roles, r)
	}
	return roles
}

func (s SymbolDef) rule() resolve.SymbolRule {
	rule := resolve.SymbolRule{
		ID:          s.ID,
		Description: s.Description,
		Required:    s.Required,
		ExportShape: s.ExportShape,
	}
	if s.Import != nil {
		rule.Import = &resolve.ImportRule{From: s.Import.From, Symbol: s.Import.Symbol, Export: s.Import.Export}
	}
	for _, u := range s.Usage {
		pick := resolve.PickUnique
		if u.Pick != "" {
			pick = resolve.Pick(u.Pick)
		}
		rule.Usage = append(rule.Usage, resolve.UsagePattern{Pattern: u.Pattern, Pick: pick})
	}
	if s.Counterpart != nil {
		rule.Counterpart = &resolve.CounterpartRule{Role: s.Counterpart.Role, Via: s.Counterpart.Via, Name: s.Counterpart.Name}
	}
	return rule
}
