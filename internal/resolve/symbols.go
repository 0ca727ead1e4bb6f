package resolve

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"text/template"

	"go.uber.org/zap"

	"github.com/driftpatch/driftpatch/internal/archive"
	engerrors "github.com/driftpatch/driftpatch/internal/errors"
)

// identifier captures a JavaScript identifier as the "local" group
const identifier = `(?P<local>[A-Za-z_$][\w$]*)`

// binder binds the symbol rules of one role
type binder struct {
	r       *Resolver
	tree    *archive.Tree
	role    Role
	art     *ResolvedArtifact
	content string
	st      *state
	aliases map[string]Alias
}

func (r *Resolver) resolveSymbols(ctx context.Context, tree *archive.Tree, role Role, art *ResolvedArtifact, content string, st *state) (map[string]Alias, []engerrors.EngineError) {
	b := &binder{r: r, tree: tree, role: role, art: art, content: content, st: st, aliases: map[string]Alias{}}

	var errs []engerrors.EngineError
	for _, rule := range role.Symbols {
		if ctx.Err() != nil {
			break
		}
		alias, err := b.bind(rule)
		if err == nil {
			b.aliases[rule.ID] = alias
			continue
		}

		loc := engerrors.Location{Role: role.ID, Artifact: art.Path}
		if rule.Required {
			errs = append(errs, engerrors.Wrap("resolve", engerrors.ErrSymbolUnresolved, err, "symbol %s", rule.ID).At(loc))
			continue
		}
		errs = append(errs, engerrors.Wrap("resolve", engerrors.ErrSymbolUnresolved, err, "symbol %s", rule.ID).
			WithSeverity(engerrors.Warning).At(loc))
		b.aliases[rule.ID] = Alias{Symbol: rule.ID, Meaning: MeaningUnresolved}
		r.logger.Debug("optional symbol unresolved", zap.String("role", role.ID), zap.String("symbol", rule.ID), zap.Error(err))
	}
	return b.aliases, errs
}

func (b *binder) bind(rule SymbolRule) (Alias, error) {
	switch {
	case rule.ExportShape != "":
		return b.bindExportShape(rule)
	case rule.Import != nil:
		return b.bindImport(rule)
	case len(rule.Usage) > 0:
		return b.bindUsage(rule)
	case rule.Counterpart != nil:
		return b.bindCounterpart(rule)
	default:
		return Alias{}, fmt.Errorf("symbol %s has no binding strategy", rule.ID)
	}
}

// pattern renders a rule pattern and compiles it. {{local}} expands to the
// capture group; {{sym "id"}} and {{sym "role:id"}} expand to already-bound
// locals.
func (b *binder) pattern(src string) (*regexp.Regexp, error) {
	tmpl, err := template.New("pattern").Option("missingkey=error").Funcs(template.FuncMap{
		"local": func() string { return identifier },
		"sym":   b.sym,
	}).Parse(src)
	if err != nil {
		return nil, err
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, nil); err != nil {
		return nil, err
	}
	return regexp.Compile(sb.String())
}

func (b *binder) sym(ref string) (string, error) {
	roleID, symbol, found := strings.Cut(ref, ":")
	if !found {
		symbol = roleID
		if a, ok := b.aliases[symbol]; ok && a.Meaning != MeaningUnresolved {
			return regexp.QuoteMeta(a.Local), nil
		}
		return "", fmt.Errorf("symbol %s is not bound yet", symbol)
	}
	other, ok := b.st.get(roleID)
	if !ok {
		return "", fmt.Errorf("role %s is not resolved", roleID)
	}
	a, ok := other.Alias(symbol)
	if !ok {
		return "", fmt.Errorf("symbol %s is not bound", ref)
	}
	return regexp.QuoteMeta(a.Local), nil
}

func (b *binder) bindExportShape(rule SymbolRule) (Alias, error) {
	re, err := b.pattern(rule.ExportShape)
	if err != nil {
		return Alias{}, err
	}
	exported := map[string]string{}
	for _, e := range ParseExports(b.content) {
		exported[e.Local] = e.Name
	}

	group := captureGroup(re)
	found := map[string]bool{}
	for _, m := range re.FindAllStringSubmatch(b.content, -1) {
		if _, ok := exported[m[group]]; ok {
			found[m[group]] = true
		}
	}
	locals := sortedKeys(found)
	switch len(locals) {
	case 0:
		return Alias{}, fmt.Errorf("no exported local matches the export shape")
	case 1:
		return Alias{
			Symbol:     rule.ID,
			Local:      locals[0],
			Export:     exported[locals[0]],
			Meaning:    MeaningRole,
			Method:     MethodUsageContext,
			Confidence: Probable,
		}, nil
	default:
		return Alias{}, fmt.Errorf("export shape matches %d exported locals: %s", len(locals), strings.Join(locals, ", "))
	}
}

func (b *binder) bindImport(rule SymbolRule) (Alias, error) {
	from, ok := b.st.get(rule.Import.From)
	if !ok {
		return Alias{}, fmt.Errorf("role %s is not resolved", rule.Import.From)
	}
	export := rule.Import.Export
	if rule.Import.Symbol != "" {
		a, ok := from.Alias(rule.Import.Symbol)
		if !ok {
			return Alias{}, fmt.Errorf("symbol %s:%s is not bound", rule.Import.From, rule.Import.Symbol)
		}
		export = a.Export
		if export == "" {
			return Alias{}, fmt.Errorf("symbol %s:%s is not exported", rule.Import.From, rule.Import.Symbol)
		}
	}
	local, ok := importedNames(b.art.Path, b.content, from.Path)[export]
	if !ok {
		return Alias{}, fmt.Errorf("%s does not import %q from %s", b.art.Path, export, from.Path)
	}
	conf := Probable
	if from.Confidence == Certain {
		conf = Certain
	}
	return Alias{
		Symbol:     rule.ID,
		Local:      local,
		Export:     export,
		Meaning:    MeaningImport,
		Method:     MethodImportGraph,
		Confidence: conf,
	}, nil
}

func (b *binder) bindUsage(rule SymbolRule) (Alias, error) {
	var reasons []string
	for i, u := range rule.Usage {
		re, err := b.pattern(u.Pattern)
		if err != nil {
			reasons = append(reasons, fmt.Sprintf("pattern %d: %v", i+1, err))
			continue
		}
		group := captureGroup(re)
		if group < 0 {
			reasons = append(reasons, fmt.Sprintf("pattern %d has no capture group", i+1))
			continue
		}
		counts := map[string]int{}
		for _, m := range re.FindAllStringSubmatch(b.content, -1) {
			if m[group] != "" {
				counts[m[group]]++
			}
		}
		if len(counts) == 0 {
			reasons = append(reasons, fmt.Sprintf("pattern %d matches nothing", i+1))
			continue
		}

		alias := Alias{Symbol: rule.ID, Meaning: MeaningRole, Method: MethodUsageContext, Confidence: Probable}
		if u.Pick == PickMostCommon {
			local, tied := mostCommon(counts)
			alias.Local = local
			if tied {
				alias.Confidence = Unconfirmed
			}
			return alias, nil
		}
		if len(counts) > 1 {
			reasons = append(reasons, fmt.Sprintf("pattern %d matches %d locals", i+1, len(counts)))
			continue
		}
		for local := range counts {
			alias.Local = local
		}
		return alias, nil
	}
	return Alias{}, fmt.Errorf("no usage pattern bound: %s", strings.Join(reasons, "; "))
}

func (b *binder) bindCounterpart(rule SymbolRule) (Alias, error) {
	cp, ok := b.st.get(rule.Counterpart.Role)
	if !ok {
		return Alias{}, fmt.Errorf("role %s is not resolved", rule.Counterpart.Role)
	}
	via, ok := b.st.get(rule.Counterpart.Via)
	if !ok {
		return Alias{}, fmt.Errorf("role %s is not resolved", rule.Counterpart.Via)
	}

	var export string
	for name, local := range b.r.counterpartNames(b.tree, cp, via) {
		if local == rule.Counterpart.Name {
			export = name
			break
		}
	}
	if export == "" {
		return Alias{}, fmt.Errorf("%s does not import %q from %s", cp.Path, rule.Counterpart.Name, via.Path)
	}
	local, ok := importedNames(b.art.Path, b.content, via.Path)[export]
	if !ok {
		return Alias{}, fmt.Errorf("%s does not import %q from %s", b.art.Path, export, via.Path)
	}
	return Alias{
		Symbol:     rule.ID,
		Local:      local,
		Export:     export,
		Meaning:    MeaningImport,
		Method:     MethodCrossArtifact,
		Confidence: Probable,
	}, nil
}

// captureGroup returns the index of the "local" group, or 1
func captureGroup(re *regexp.Regexp) int {
	if i := re.SubexpIndex("local"); i > 0 {
		return i
	}
	if re.NumSubexp() >= 1 {
		return 1
	}
	return -1
}

// mostCommon returns the most frequent local and whether it tied. Ties
// break toward the lexicographically smallest local.
func mostCommon(counts map[string]int) (string, bool) {
	locals := sortedKeys(counts)
	best, tied := "", false
	for _, l := range locals {
		switch {
		case best == "" || counts[l] > counts[best]:
			best, tied = l, false
		case counts[l] == counts[best]:
			tied = true
		}
	}
	return best, tied
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
