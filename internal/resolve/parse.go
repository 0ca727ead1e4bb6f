package resolve

import (
	"path"
	"regexp"
	"strings"
)

var (
	exportClause = regexp.MustCompile(`export\s*\{([^}]*)\}`)
	importClause = regexp.MustCompile(`import\s*\{([^}]*)\}\s*from\s*["']([^"']+)["']`)
	importSpec   = regexp.MustCompile(`(?:\bfrom\s*|\bimport\s*\(?\s*)["']([^"']+)["']`)
)

// Binding is one "local as name" pair of an import or export clause
type Binding struct {
	Local string
	Name  string
}

// ParseExports returns the bindings of every export clause in content
func ParseExports(content string) []Binding {
	var out []Binding
	for _, m := range exportClause.FindAllStringSubmatch(content, -1) {
		out = append(out, splitBindings(m[1])...)
	}
	return out
}

// Import is one named import clause
type Import struct {
	From     string
	Bindings []Binding
}

// ParseImports returns the named import clauses in content. In an import
// binding Name is the exported name and Local the alias.
func ParseImports(content string) []Import {
	var out []Import
	for _, m := range importClause.FindAllStringSubmatch(content, -1) {
		imp := Import{From: m[2]}
		for _, b := range splitBindings(m[1]) {
			// import{name as local}: splitBindings yields the left side as Local
			imp.Bindings = append(imp.Bindings, Binding{Local: b.Name, Name: b.Local})
		}
		out = append(out, imp)
	}
	return out
}

// ImportSpecifiers returns every module specifier content imports,
// including side-effect and dynamic imports.
func ImportSpecifiers(content string) []string {
	var out []string
	for _, m := range importSpec.FindAllStringSubmatch(content, -1) {
		out = append(out, m[1])
	}
	return out
}

// splitBindings parses "a as b, c" into {a b} {c c}
func splitBindings(list string) []Binding {
	var out []Binding
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		left, right, found := strings.Cut(part, " as ")
		left, right = strings.TrimSpace(left), strings.TrimSpace(right)
		if !found {
			right = left
		}
		out = append(out, Binding{Local: left, Name: right})
	}
	return out
}

// resolveSpecifier maps a module specifier used by the artifact at from to
// a tree path. Bare specifiers resolve to "".
func resolveSpecifier(from, spec string) string {
	if !strings.HasPrefix(spec, "./") && !strings.HasPrefix(spec, "../") && !strings.HasPrefix(spec, "/") {
		return ""
	}
	if strings.HasPrefix(spec, "/") {
		return strings.TrimPrefix(path.Clean(spec), "/")
	}
	return path.Join(path.Dir(from), spec)
}

// importsArtifact reports whether content, located at from, imports target
func importsArtifact(from, content, target string) bool {
	for _, spec := range ImportSpecifiers(content) {
		if resolveSpecifier(from, spec) == target {
			return true
		}
	}
	return false
}

// importedNames returns the export names content imports from target
func importedNames(from, content, target string) map[string]string {
	names := map[string]string{}
	for _, imp := range ParseImports(content) {
		if resolveSpecifier(from, imp.From) != target {
			continue
		}
		for _, b := range imp.Bindings {
			names[b.Name] = b.Local
		}
	}
	return names
}
