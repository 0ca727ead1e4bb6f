package patch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	engerrors "github.com/driftpatch/driftpatch/internal/errors"
	"github.com/driftpatch/driftpatch/internal/verify"
)

func newMemStore(files map[string]string) *OverlayStore {
	s := NewOverlayStore(nil)
	for k, v := range files {
		_ = s.Write(context.Background(), k, []byte(v))
	}
	return s
}

func read(t *testing.T, s Store, artifact string) string {
	t.Helper()
	data, err := s.Read(context.Background(), artifact)
	require.NoError(t, err)
	return string(data)
}

func TestApply_DeletionScenario(t *testing.T) {
	store := newMemStore(map[string]string{"store.js": "let r;cond = X.activeId===e&&Y;done()"})
	a := NewApplier(store, Options{Strict: true, Logger: zaptest.NewLogger(t)})
	spec := Spec{ID: "drop-active-guard", Anchor: Anchor{Literal: "X.activeId===e&&"}}

	rec := a.Apply(context.Background(), Target{Role: "model-store", Artifact: "store.js"}, []Spec{spec})
	require.Len(t, rec.Outcomes, 1)
	assert.Equal(t, StatusApplied, rec.Outcomes[0].Status)
	assert.Equal(t, StateCommitted, rec.State)
	assert.Equal(t, "let r;cond = Y;done()", read(t, store, "store.js"))

	rec = a.Apply(context.Background(), Target{Role: "model-store", Artifact: "store.js"}, []Spec{spec})
	assert.Equal(t, StatusAlreadyApplied, rec.Outcomes[0].Status)
	assert.Equal(t, StateUnchanged, rec.State)
	assert.Equal(t, "let r;cond = Y;done()", read(t, store, "store.js"))
}

func TestApply_AmbiguousScenario(t *testing.T) {
	original := "foo();bar();foo()"
	store := newMemStore(map[string]string{"a.js": original})
	a := NewApplier(store, Options{})

	rec := a.Apply(context.Background(), Target{Artifact: "a.js"}, []Spec{{ID: "s", Anchor: Anchor{Literal: "foo()"}, Replacement: "baz()"}})
	assert.Equal(t, StatusAmbiguousMatch, rec.Outcomes[0].Status)
	assert.True(t, engerrors.HasCode(rec.Outcomes[0].Err, engerrors.ErrAmbiguousMatch))
	assert.Equal(t, original, read(t, store, "a.js"))
}

func TestApply_Idempotent(t *testing.T) {
	original := `function pick(e){return e.id}const k="v1";`
	specs := []Spec{
		{ID: "version", Anchor: Anchor{Literal: `const k="v1"`}, Replacement: `const k="v2"`},
		{ID: "pick", Anchor: Anchor{Prefix: "function pick("}, Replacement: `function pick(e){return e.activeId??e.id}`},
		{ID: "tag", Anchor: Anchor{Literal: "const k="}, Replacement: "/*patched*/const k=", Applied: Contains("/*patched*/")},
	}

	store := newMemStore(map[string]string{"a.js": original})
	a := NewApplier(store, Options{Strict: true, Syntax: verify.NewTreeSitterChecker()})

	first := a.Apply(context.Background(), Target{Artifact: "a.js"}, specs)
	for _, o := range first.Outcomes {
		assert.Equal(t, StatusApplied, o.Status, o.SpecID)
	}
	once := read(t, store, "a.js")
	assert.Equal(t, `function pick(e){return e.activeId??e.id}/*patched*/const k="v2";`, once)

	second := a.Apply(context.Background(), Target{Artifact: "a.js"}, specs)
	for _, o := range second.Outcomes {
		assert.Equal(t, StatusAlreadyApplied, o.Status, o.SpecID)
	}
	assert.Equal(t, once, read(t, store, "a.js"))
}

func TestApply_StrictRollsBack(t *testing.T) {
	original := "alpha();beta();"
	store := newMemStore(map[string]string{"a.js": original})
	a := NewApplier(store, Options{Strict: true})

	rec := a.Apply(context.Background(), Target{Artifact: "a.js"}, []Spec{
		{ID: "one", Anchor: Anchor{Literal: "alpha()"}, Replacement: "ALPHA()"},
		{ID: "two", Anchor: Anchor{Literal: "gamma()"}, Replacement: "GAMMA()"},
	})

	assert.Equal(t, StateRolledBack, rec.State)
	assert.Equal(t, StatusApplied, rec.Outcomes[0].Status)
	assert.True(t, rec.Outcomes[0].Reverted)
	assert.Equal(t, StatusAnchorNotFound, rec.Outcomes[1].Status)
	assert.Equal(t, original, read(t, store, "a.js"))
	assert.Empty(t, rec.Changes())
}

func TestApply_PermissiveKeepsProgress(t *testing.T) {
	store := newMemStore(map[string]string{"a.js": "alpha();beta();"})
	a := NewApplier(store, Options{Strict: false})

	rec := a.Apply(context.Background(), Target{Artifact: "a.js"}, []Spec{
		{ID: "one", Anchor: Anchor{Literal: "alpha()"}, Replacement: "ALPHA()"},
		{ID: "two", Anchor: Anchor{Literal: "gamma()"}, Replacement: "GAMMA()"},
	})

	assert.Equal(t, StateCommitted, rec.State)
	assert.True(t, rec.Failed())
	assert.Equal(t, "ALPHA();beta();", read(t, store, "a.js"))
	require.Len(t, rec.Errors(), 1)
	assert.Equal(t, "two", rec.Errors()[0].Location.Spec)
}

func TestApply_DependenciesAndUnresolved(t *testing.T) {
	store := newMemStore(map[string]string{"a.js": "a();b();c();"})
	a := NewApplier(store, Options{})

	rec := a.Apply(context.Background(), Target{Artifact: "a.js"}, []Spec{
		{ID: "missing", Anchor: Anchor{Literal: "z()"}, Replacement: "Z()"},
		{ID: "dependent", Anchor: Anchor{Literal: "b()"}, Replacement: "B()", After: []string{"missing"}},
		{ID: "unbound", Anchor: Anchor{Literal: "c()"}, Replacement: "C()", Invalid: errors.New("symbol activeStore unresolved")},
		{ID: "fine", Anchor: Anchor{Literal: "a()"}, Replacement: "A()"},
		{ID: "after-fine", Anchor: Anchor{Literal: "A()"}, Replacement: "AA()", After: []string{"fine"}},
	})

	got := map[string]Status{}
	for _, o := range rec.Outcomes {
		got[o.SpecID] = o.Status
	}
	assert.Equal(t, map[string]Status{
		"missing":    StatusAnchorNotFound,
		"dependent":  StatusBlocked,
		"unbound":    StatusUnresolved,
		"fine":       StatusApplied,
		"after-fine": StatusApplied,
	}, got)
	assert.Equal(t, "AA();b();c();", read(t, store, "a.js"))
}

func TestApply_SpecAssertionRevertsSpec(t *testing.T) {
	store := newMemStore(map[string]string{"a.js": "x=1;y=2;"})
	a := NewApplier(store, Options{})

	rec := a.Apply(context.Background(), Target{Artifact: "a.js"}, []Spec{
		{
			ID:          "bad",
			Anchor:      Anchor{Literal: "x=1"},
			Replacement: "x=3",
			Assertions:  []verify.Assertion{{ID: "keeps-y", Artifact: "a.js", Kind: verify.KindAbsent, Text: "x=3"}},
		},
		{ID: "good", Anchor: Anchor{Literal: "y=2"}, Replacement: "y=4"},
	})

	assert.Equal(t, StatusFailedVerification, rec.Outcomes[0].Status)
	require.Len(t, rec.Outcomes[0].Failures, 1)
	assert.Equal(t, StatusApplied, rec.Outcomes[1].Status)
	assert.Equal(t, "x=1;y=4;", read(t, store, "a.js"))
}

func TestApply_SyntaxFailureRollsBackInStrictMode(t *testing.T) {
	original := "function f(){return 1}"
	store := newMemStore(map[string]string{"a.js": original})
	a := NewApplier(store, Options{Strict: true, Syntax: verify.NewTreeSitterChecker()})

	rec := a.Apply(context.Background(), Target{Artifact: "a.js"}, []Spec{
		{ID: "breaks", Anchor: Anchor{Literal: "return 1}"}, Replacement: "return 1"},
	})

	assert.Equal(t, StateRolledBack, rec.State)
	assert.True(t, engerrors.HasCode(rec.Err, engerrors.ErrSyntaxValidation))
	assert.NotEmpty(t, rec.SyntaxIssues)
	assert.Equal(t, original, read(t, store, "a.js"))
}

func TestApply_ReplaceFunc(t *testing.T) {
	store := newMemStore(map[string]string{"a.js": "call(a,b);"})
	a := NewApplier(store, Options{})

	rec := a.Apply(context.Background(), Target{Artifact: "a.js"}, []Spec{{
		ID:      "wrap",
		Anchor:  Anchor{Prefix: "call", Open: "(", Close: ")"},
		Replace: func(m string) (string, error) { return "guard(" + m + ")", nil },
		Applied: Contains("guard("),
	}, {
		ID:      "fails",
		Anchor:  Anchor{Literal: ";"},
		Replace: func(string) (string, error) { return "", errors.New("boom") },
	}})

	assert.Equal(t, StatusApplied, rec.Outcomes[0].Status)
	assert.Equal(t, StatusFailed, rec.Outcomes[1].Status)
	assert.True(t, engerrors.HasCode(rec.Outcomes[1].Err, engerrors.ErrReplacementFailed))
	assert.Equal(t, "guard(call(a,b));", read(t, store, "a.js"))
}

func TestRestore(t *testing.T) {
	store := newMemStore(map[string]string{"a.js": "one;two"})
	a := NewApplier(store, Options{})
	rec := a.Apply(context.Background(), Target{Artifact: "a.js"}, []Spec{{ID: "s", Anchor: Anchor{Literal: "two"}, Replacement: "2"}})
	require.Equal(t, StateCommitted, rec.State)
	assert.Equal(t, "one;2", read(t, store, "a.js"))

	require.NoError(t, a.Restore(context.Background(), rec))
	assert.Equal(t, StateRolledBack, rec.State)
	assert.True(t, rec.Outcomes[0].Reverted)
	assert.Equal(t, "one;two", read(t, store, "a.js"))

	// restoring twice is a no-op
	require.NoError(t, a.Restore(context.Background(), rec))
}

func TestApply_MissingArtifact(t *testing.T) {
	a := NewApplier(NewOverlayStore(nil), Options{})
	rec := a.Apply(context.Background(), Target{Artifact: "gone.js"}, []Spec{{ID: "s", Anchor: Anchor{Literal: "x"}}})
	require.Error(t, rec.Err)
	assert.Equal(t, StatusFailed, rec.Outcomes[0].Status)
	assert.Equal(t, StateUnchanged, rec.State)
}

func TestApply_Canceled(t *testing.T) {
	store := newMemStore(map[string]string{"a.js": "a"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := NewApplier(store, Options{}).Apply(ctx, Target{Artifact: "a.js"}, []Spec{{ID: "s", Anchor: Anchor{Literal: "a"}, Replacement: "b"}})
	assert.ErrorIs(t, rec.Outcomes[0].Err, context.Canceled)
	assert.Equal(t, "a", read(t, store, "a.js"))
}

func TestApply_ConcurrentArtifacts(t *testing.T) {
	defer goleak.VerifyNone(t)

	files := map[string]string{}
	for i := 0; i < 8; i++ {
		files[fmt.Sprintf("chunk-%d.js", i)] = fmt.Sprintf("init(%d);", i)
	}
	store := newMemStore(files)
	a := NewApplier(store, Options{Strict: true})

	var wg sync.WaitGroup
	for artifact := range files {
		for j := 0; j < 3; j++ {
			wg.Add(1)
			go func(artifact string) {
				defer wg.Done()
				a.Apply(context.Background(), Target{Artifact: artifact}, []Spec{
					{ID: "s", Anchor: Anchor{Literal: "init("}, Replacement: "boot("},
				})
			}(artifact)
		}
	}
	wg.Wait()

	for artifact, original := range files {
		want := "boot(" + original[len("init("):]
		assert.Equal(t, want, read(t, store, artifact))
	}
}

func TestDirStore_AtomicWritePreservesMode(t *testing.T) {
	root := t.TempDir()
	p := filepath.Join(root, "bin", "run.js")
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte("old"), 0o755))

	s := NewDirStore(root)
	require.NoError(t, s.Write(context.Background(), "bin/run.js", []byte("new")))

	info, err := os.Stat(p)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
	assert.Equal(t, "new", read(t, s, "bin/run.js"))
	assert.NoFileExists(t, p+".tmp")
}

func TestOverlayStore_DoesNotTouchBase(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.js"), []byte("disk"), 0o644))

	overlay := NewOverlayStore(NewDirStore(root))
	assert.Equal(t, "disk", read(t, overlay, "a.js"))
	require.NoError(t, overlay.Write(context.Background(), "a.js", []byte("memory")))
	assert.Equal(t, "memory", read(t, overlay, "a.js"))
	assert.Equal(t, []string{"a.js"}, overlay.Written())

	data, err := os.ReadFile(filepath.Join(root, "a.js"))
	require.NoError(t, err)
	assert.Equal(t, "disk", string(data))
}

func TestRenderDiff(t *testing.T) {
	content := "prefix;cond = X.activeId===e&&Y;suffix"
	span, err := FindLiteral(content, "X.activeId===e&&")
	require.NoError(t, err)

	out, err := RenderDiff("chunks/store.js", []Change{newChange(content, span, "")})
	require.NoError(t, err)
	assert.Contains(t, out, "--- a/chunks/store.js")
	assert.Contains(t, out, "+++ b/chunks/store.js")
	assert.Contains(t, out, "-prefix;cond = X.activeId===e&&Y;suffix")
	assert.Contains(t, out, "+prefix;cond = Y;suffix")

	empty, err := RenderDiff("x.js", nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
