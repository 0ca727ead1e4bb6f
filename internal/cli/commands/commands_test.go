package commands

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/lithammer/dedent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	engerrors "github.com/driftpatch/driftpatch/internal/errors"
	"github.com/driftpatch/driftpatch/internal/history"
	"github.com/driftpatch/driftpatch/internal/session"
)

const (
	storeJS = `"model-store-cache-key";class Q{constructor(){this.activeId=null}}export{Q as M};`
	viewJS  = `import{M as X}from"./store-Ab12.js";function pick(e){const cond=X.activeId===e&&Y;console.log("Using active provider");return cond}export{pick as p};`
)

var catalogYAML = dedent.Dedent(`
	name: provider-switch
	roles:
	  - id: model-store
	    candidates: ["assets/*.js"]
	    signatures:
	      - {kind: string, value: model-store-cache-key}
	    symbols:
	      - id: store-class
	        required: true
	        export_shape: 'class {{local}}\{'
	  - id: provider-view
	    candidates: ["assets/*.js"]
	    signatures:
	      - {kind: literal, value: 'console.log("Using active provider")'}
	    imports: [model-store]
	    symbols:
	      - id: store
	        required: true
	        import: {from: model-store, symbol: store-class}
	patches:
	  - id: drop-active-guard
	    role: provider-view
	    anchor:
	      literal: '{{sym "store"}}.activeId===e&&'
	    assertions:
	      - kind: absent
	        text: '{{sym "store"}}.activeId===e&&'
	      - kind: syntax
	  - id: log-derived
	    role: provider-view
	    after: [drop-active-guard]
	    anchor:
	      literal: 'console.log("Using active provider")'
	    replacement: 'console.log("Derived provider");console.log("Using active provider")'
	assertions:
	  - role: provider-view
	    kind: order
	    sequence: ["Derived provider", "Using active provider"]
`)

// project is a work directory with a config, a catalog and an extracted build
type project struct {
	dir    string
	config string
	build  string
}

func newProject(t *testing.T, version string) *project {
	t.Helper()
	noColor(t)
	dir := t.TempDir()
	p := &project{dir: dir, config: filepath.Join(dir, "driftpatch.yml"), build: filepath.Join(dir, "build")}

	writeFile(t, filepath.Join(dir, "catalog.yml"), catalogYAML)
	writeFile(t, p.config, dedent.Dedent(`
		workdir: `+filepath.Join(dir, "work")+`
		catalog: `+filepath.Join(dir, "catalog.yml")+`
		log:
		  level: error
	`))
	p.writeBuild(t, version)
	return p
}

func (p *project) writeBuild(t *testing.T, version string) {
	t.Helper()
	writeFile(t, filepath.Join(p.build, "package.json"), `{"name":"app","version":"`+version+`"}`)
	writeFile(t, filepath.Join(p.build, "assets", "store-Ab12.js"), storeJS)
	writeFile(t, filepath.Join(p.build, "assets", "view-Cd34.js"), viewJS)
	writeFile(t, filepath.Join(p.build, "assets", "other-Ef56.js"), `console.log("unrelated")`)
}

// run executes the CLI with args and returns stdout, stderr and the error
func (p *project) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", p.config, "--no-color"}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func noColor(t *testing.T) {
	t.Helper()
	old := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = old })
}

func TestDiscoverJSON(t *testing.T) {
	p := newProject(t, "1.0.0")

	stdout, _, err := p.run(t, "discover", "--extracted-dir", p.build, "--json")
	require.NoError(t, err)

	var m session.Manifest
	require.NoError(t, json.Unmarshal([]byte(stdout), &m))
	assert.Equal(t, "1.0.0", m.Version)
	assert.Equal(t, "provider-switch", m.Catalog)
	assert.Equal(t, "assets/store-Ab12.js", m.Roles["model-store"].Path)
	assert.Equal(t, "assets/view-Cd34.js", m.Roles["provider-view"].Path)
	assert.Equal(t, "X", m.Roles["provider-view"].Symbols["store"])

	assert.NoFileExists(t, filepath.Join(p.dir, "work", "manifest.json"))
}

func TestDiscoverWritesManifest(t *testing.T) {
	p := newProject(t, "1.0.0")
	out := filepath.Join(p.dir, "saved.json")

	stdout, _, err := p.run(t, "discover", "--extracted-dir", p.build, "--output", out)
	require.NoError(t, err)
	assert.Contains(t, stdout, "model-store")
	assert.Contains(t, stdout, "manifest written to "+out)

	m, err := session.LoadManifest(out)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", m.Version)
}

func TestApplyDryRunLeavesBuild(t *testing.T) {
	p := newProject(t, "1.0.0")

	stdout, _, err := p.run(t, "apply", "--extracted-dir", p.build, "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, stdout, "full (dry run)")
	assert.Contains(t, stdout, "drop-active-guard")
	assert.Contains(t, stdout, "applied")
	assert.Contains(t, stdout, "+++ b/assets/view-Cd34.js")
	assert.Contains(t, stdout, "Derived provider")

	data, err := os.ReadFile(filepath.Join(p.build, "assets", "view-Cd34.js"))
	require.NoError(t, err)
	assert.Equal(t, viewJS, string(data))
}

func TestApplyPatchesVerifiesAndJournals(t *testing.T) {
	p := newProject(t, "1.0.0")

	_, _, err := p.run(t, "verify", "--extracted-dir", p.build)
	require.Error(t, err)
	assert.Equal(t, 3, ExitCode(err))

	stdout, _, err := p.run(t, "apply", "--extracted-dir", p.build, "--skip-install")
	require.NoError(t, err)
	assert.Contains(t, stdout, "build 1.0.0 patched")

	data, err := os.ReadFile(filepath.Join(p.build, "assets", "view-Cd34.js"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `console.log("Derived provider");console.log("Using active provider")`)
	assert.NotContains(t, string(data), "X.activeId===e&&")
	assert.FileExists(t, filepath.Join(p.dir, "work", "manifest.json"))

	stdout, _, err = p.run(t, "verify", "--extracted-dir", p.build)
	require.NoError(t, err)
	assert.Contains(t, stdout, "assertions passed")

	stdout, _, err = p.run(t, "verify", "--extracted-dir", p.build, "--manifest", filepath.Join(p.dir, "work", "manifest.json"), "--json")
	require.NoError(t, err)
	assert.Contains(t, stdout, `"passed"`)

	stdout, _, err = p.run(t, "apply", "--extracted-dir", p.build, "--skip-install", "--json")
	require.NoError(t, err)
	assert.Contains(t, stdout, `"already-applied"`)

	stdout, _, err = p.run(t, "history", "--json")
	require.NoError(t, err)
	var entries []history.Entry
	require.NoError(t, json.Unmarshal([]byte(stdout), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "committed", entries[0].Stage)

	stdout, _, err = p.run(t, "history", "show", entries[1].ID[:8])
	require.NoError(t, err)
	assert.Contains(t, stdout, "drop-active-guard")
	assert.Contains(t, stdout, "assets/view-Cd34.js")

	stdout, _, err = p.run(t, "history", "drift")
	require.NoError(t, err)
	assert.Contains(t, stdout, "no drift across 1 version(s)")
}

func TestExampleCatalogReappliesCleanly(t *testing.T) {
	p := newProject(t, "1.0.0")
	catalogPath, err := filepath.Abs(filepath.Join("..", "..", "..", "examples", "provider-switch", "catalog.yml"))
	require.NoError(t, err)
	writeFile(t, p.config, dedent.Dedent(`
		workdir: `+filepath.Join(p.dir, "work")+`
		catalog: `+catalogPath+`
		log:
		  level: error
	`))
	build := filepath.Join(p.dir, "app")
	writeFile(t, filepath.Join(build, "package.json"), `{"name":"app","version":"1.0.0"}`)
	writeFile(t, filepath.Join(build, ".vite", "renderer", "assets", "store-Ab12.js"), storeJS)
	writeFile(t, filepath.Join(build, ".vite", "renderer", "assets", "view-Cd34.js"), viewJS)
	writeFile(t, filepath.Join(build, ".vite", "build", "main.js"), `require("electron")`)

	statuses := func(stdout string) map[string]string {
		var r applyJSON
		require.NoError(t, json.Unmarshal([]byte(stdout), &r))
		out := make(map[string]string)
		for _, p := range r.Patches {
			out[p.Spec] = p.Status
		}
		return out
	}

	stdout, _, err := p.run(t, "apply", "--extracted-dir", build, "--skip-install", "--json")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"drop-active-guard": "applied", "log-derived": "applied", "pick-from-model": "applied"}, statuses(stdout))

	data, err := os.ReadFile(filepath.Join(build, ".vite", "renderer", "assets", "view-Cd34.js"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "return cond??Y}")

	stdout, _, err = p.run(t, "apply", "--extracted-dir", build, "--skip-install", "--json")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"drop-active-guard": "already-applied", "log-derived": "already-applied", "pick-from-model": "already-applied"}, statuses(stdout))
}

func TestApplyStaleLegacyManifest(t *testing.T) {
	p := newProject(t, "1.0.0")
	manifest := filepath.Join(p.dir, "old.json")
	_, _, err := p.run(t, "discover", "--extracted-dir", p.build, "--output", manifest)
	require.NoError(t, err)

	p.writeBuild(t, "1.1.0")
	_, stderr, err := p.run(t, "apply", "--extracted-dir", p.build, "--legacy-manifest", manifest, "--dry-run")
	require.Error(t, err)
	assert.True(t, engerrors.HasCode(err, engerrors.ErrManifestStale))
	assert.Equal(t, 2, ExitCode(err))
	assert.Contains(t, stderr, "M001")
}

func TestApplyRequiresArchive(t *testing.T) {
	p := newProject(t, "1.0.0")
	_, _, err := p.run(t, "apply", "--dry-run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archive.path is not set")
}

func TestHistoryEmpty(t *testing.T) {
	p := newProject(t, "1.0.0")
	stdout, _, err := p.run(t, "history")
	require.NoError(t, err)
	assert.Contains(t, stdout, "no sessions journaled yet")

	_, _, err = p.run(t, "history", "show", "nope")
	require.Error(t, err)
}

func TestFindSession(t *testing.T) {
	entries := []history.Entry{{ID: "abc123"}, {ID: "abd456"}, {ID: "ff"}}

	e, err := findSession(entries, "ff")
	require.NoError(t, err)
	assert.Equal(t, "ff", e.ID)

	e, err = findSession(entries, "abc")
	require.NoError(t, err)
	assert.Equal(t, "abc123", e.ID)

	_, err = findSession(entries, "ab")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "ambiguous"))

	_, err = findSession(entries, "zz")
	require.Error(t, err)
}
