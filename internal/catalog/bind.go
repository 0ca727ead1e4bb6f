package catalog

import (
	"bytes"
	"fmt"
	"path"
	"regexp"
	"strings"
	"text/template"

	engerrors "github.com/driftpatch/driftpatch/internal/errors"
	"github.com/driftpatch/driftpatch/internal/patch"
	"github.com/driftpatch/driftpatch/internal/resolve"
	"github.com/driftpatch/driftpatch/internal/verify"
)

// Plan is a catalog bound to one build's resolutions
type Plan struct {
	Targets    []PlanTarget
	Assertions []verify.Assertion
	// Unbound lists patches whose role did not resolve
	Unbound []patch.Outcome
	// Unverifiable lists assertions that could not be bound, with the reason
	Unverifiable []Unverifiable
	Threshold    verify.Threshold
}

// PlanTarget groups the specs of one artifact in catalog order
type PlanTarget struct {
	patch.Target
	Specs []patch.Spec
}

// Unverifiable is an assertion that fails without being evaluated
type Unverifiable struct {
	Assertion verify.Assertion
	Reason    string
}

// SpecCount returns the number of patches in the plan
func (p *Plan) SpecCount() int {
	n := len(p.Unbound)
	for _, t := range p.Targets {
		n += len(t.Specs)
	}
	return n
}

// Bind renders the catalog's templates against res. Template problems
// never fail the whole plan: the affected spec or assertion is marked
// instead.
func (c *Catalog) Bind(res *resolve.Result) *Plan {
	plan := &Plan{Threshold: c.Threshold()}
	targets := map[string]int{}

	for _, d := range c.Patches {
		art, ok := res.Artifact(d.Role)
		if !ok {
			plan.Unbound = append(plan.Unbound, patch.Outcome{
				SpecID: d.ID,
				Status: patch.StatusUnresolved,
				Err: engerrors.New("patch", engerrors.ErrSpecUnresolved,
					fmt.Sprintf("role %s is unresolved", d.Role), engerrors.Error).
					At(engerrors.Location{Role: d.Role, Spec: d.ID}),
			})
			for _, a := range d.Assertions {
				plan.Unverifiable = append(plan.Unverifiable, Unverifiable{
					Assertion: a.unbound(),
					Reason:    fmt.Sprintf("role %s is unresolved", a.Role),
				})
			}
			continue
		}

		r := &renderer{res: res, role: d.Role}
		spec := d.spec(r)
		for _, a := range d.Assertions {
			bound, err := a.bind(r)
			if err != nil {
				plan.Unverifiable = append(plan.Unverifiable, Unverifiable{Assertion: a.unbound(), Reason: err.Error()})
				continue
			}
			plan.Assertions = append(plan.Assertions, bound)
			if bound.Role == d.Role {
				spec.Assertions = append(spec.Assertions, bound)
			}
		}

		i, ok := targets[art.Path]
		if !ok {
			i = len(plan.Targets)
			targets[art.Path] = i
			plan.Targets = append(plan.Targets, PlanTarget{Target: patch.Target{Role: d.Role, Artifact: art.Path}})
		}
		plan.Targets[i].Specs = append(plan.Targets[i].Specs, spec)
	}

	for _, a := range c.Assertions {
		bound, err := a.bind(&renderer{res: res, role: a.Role})
		if err != nil {
			plan.Unverifiable = append(plan.Unverifiable, Unverifiable{Assertion: a.unbound(), Reason: err.Error()})
			continue
		}
		plan.Assertions = append(plan.Assertions, bound)
	}
	return plan
}

func (d PatchDef) spec(r *renderer) patch.Spec {
	s := patch.Spec{
		ID:          d.ID,
		Description: d.Description,
		Role:        d.Role,
		After:       d.After,
	}
	fields := []struct {
		dst *string
		src string
	}{
		{&s.Anchor.Literal, d.Anchor.Literal},
		{&s.Anchor.Prefix, d.Anchor.Prefix},
		{&s.Anchor.Open, d.Anchor.Open},
		{&s.Anchor.Close, d.Anchor.Close},
		{&s.Replacement, d.Replacement},
	}
	for _, f := range fields {
		out, err := r.render(f.src)
		if err != nil {
			s.Invalid = err
			return s
		}
		*f.dst = out
	}

	if d.Rewrite != nil {
		pattern, err := r.render(d.Rewrite.Pattern)
		if err == nil {
			var with string
			if with, err = r.render(d.Rewrite.With); err == nil {
				var re *regexp.Regexp
				if re, err = regexp.Compile(pattern); err == nil {
					s.Replace = rewrite(re, with)
					s.Applied = rewritten(s.Anchor, re)
				}
			}
		}
		if err != nil {
			s.Invalid = err
			return s
		}
	}

	if d.AppliedWhen != nil {
		contains, err := r.renderAll(d.AppliedWhen.Contains)
		if err != nil {
			s.Invalid = err
			return s
		}
		absent, err := r.renderAll(d.AppliedWhen.Absent)
		if err != nil {
			s.Invalid = err
			return s
		}
		s.Applied = appliedWhen(contains, absent)
	}
	return s
}

func rewrite(re *regexp.Regexp, with string) patch.ReplaceFunc {
	return func(matched string) (string, error) {
		if !re.MatchString(matched) {
			return "", fmt.Errorf("rewrite pattern %q does not match the anchored text", re)
		}
		return re.ReplaceAllString(matched, with), nil
	}
}

// rewritten is applied when the anchored text no longer matches the
// rewrite pattern
func rewritten(anchor patch.Anchor, re *regexp.Regexp) patch.AppliedFunc {
	return func(content string) bool {
		span, err := anchor.Find(content)
		if err != nil {
			return false
		}
		return !re.MatchString(content[span.Start:span.End])
	}
}

func appliedWhen(contains, absent []string) patch.AppliedFunc {
	return func(content string) bool {
		if len(contains) == 0 && len(absent) == 0 {
			return false
		}
		for _, m := range contains {
			if !strings.Contains(content, m) {
				return false
			}
		}
		for _, m := range absent {
			if strings.Contains(content, m) {
				return false
			}
		}
		return true
	}
}

func (a AssertDef) unbound() verify.Assertion {
	return verify.Assertion{
		ID:          a.ID,
		Description: a.Description,
		Role:        a.Role,
		Kind:        verify.Kind(a.Kind),
		Text:        a.Text,
		Sequence:    a.Sequence,
	}
}

func (a AssertDef) bind(r *renderer) (verify.Assertion, error) {
	out := a.unbound()
	art, ok := r.res.Artifact(a.Role)
	if !ok {
		return out, fmt.Errorf("role %s is unresolved", a.Role)
	}
	out.Artifact = art.Path

	var err error
	if out.Text, err = r.render(a.Text); err != nil {
		return out, err
	}
	if len(a.Sequence) > 0 {
		if out.Sequence, err = r.renderAll(a.Sequence); err != nil {
			return out, err
		}
	}
	return out, nil
}

// renderer expands {{sym}}, {{file}} and {{path}} references against a
// resolution result from the point of view of one role
type renderer struct {
	res  *resolve.Result
	role string
}

func (r *renderer) render(src string) (string, error) {
	if !strings.Contains(src, "{{") {
		return src, nil
	}
	tmpl, err := template.New("catalog").Funcs(template.FuncMap{
		"sym":  r.sym,
		"file": r.file,
		"path": r.path,
	}).Parse(src)
	if err != nil {
		return "", engerrors.Wrap("catalog", engerrors.ErrTemplateFailed, err, "parse template")
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, nil); err != nil {
		return "", engerrors.Wrap("catalog", engerrors.ErrTemplateFailed, err, "render template")
	}
	return buf.String(), nil
}

func (r *renderer) renderAll(srcs []string) ([]string, error) {
	out := make([]string, 0, len(srcs))
	for _, s := range srcs {
		v, err := r.render(s)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// sym returns the local bound to "symbol" in the current role or to
// "role:symbol" elsewhere
func (r *renderer) sym(ref string) (string, error) {
	role, symbol, found := strings.Cut(ref, ":")
	if !found {
		role, symbol = r.role, ref
	}
	art, ok := r.res.Artifact(role)
	if !ok {
		return "", fmt.Errorf("role %s is unresolved", role)
	}
	a, ok := art.Alias(symbol)
	if !ok {
		return "", fmt.Errorf("symbol %s:%s is unresolved", role, symbol)
	}
	return a.Local, nil
}

func (r *renderer) path(role string) (string, error) {
	art, ok := r.res.Artifact(role)
	if !ok {
		return "", fmt.Errorf("role %s is unresolved", role)
	}
	return art.Path, nil
}

func (r *renderer) file(role string) (string, error) {
	p, err := r.path(role)
	if err != nil {
		return "", err
	}
	return path.Base(p), nil
}
