package verify

import (
	"context"
	"testing"

	"github.com/lithammer/dedent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var storeSource = dedent.Dedent(`
	import{a as X,b as Y}from"./ModelStore-Ab12.js";
	function pick(e){const cond=Y;console.log("Derived provider from model");console.log("Using active provider");return cond}
	export{pick as p};
`)

func TestVerify_AllKinds(t *testing.T) {
	src := MapSource{
		"chunks/Store.js":  []byte(storeSource),
		"chunks/Broken.js": []byte("function ("),
		"package.json":     []byte(`{"version":"1.2.3"}`),
	}
	assertions := []Assertion{
		{ID: "guard-removed", Artifact: "chunks/Store.js", Kind: KindAbsent, Text: "X.activeId===e&&"},
		{ID: "cond-kept", Artifact: "chunks/Store.js", Kind: KindContains, Text: "const cond=Y"},
		{ID: "log-order", Artifact: "chunks/Store.js", Kind: KindOrder, Sequence: []string{"Derived provider", "Using active provider"}},
		{ID: "store-parses", Artifact: "chunks/Store.js", Kind: KindSyntax},
		{ID: "broken-parses", Artifact: "chunks/Broken.js", Kind: KindSyntax},
		{ID: "manifest-json", Artifact: "package.json", Kind: KindSyntax},
		{ID: "missing-file", Artifact: "chunks/Gone.js", Kind: KindContains, Text: "x"},
	}

	v := NewVerifier(NewTreeSitterChecker(), zaptest.NewLogger(t))
	report := v.Verify(context.Background(), src, assertions)

	assert.Equal(t, 7, report.Total)
	assert.Equal(t, 5, report.Passed)

	var failed []string
	for _, r := range report.Failed() {
		failed = append(failed, r.Assertion.ID)
	}
	assert.Equal(t, []string{"broken-parses", "missing-file"}, failed)
	assert.Contains(t, report.Failed()[1].Detail, "artifact unreadable")
}

func TestVerify_DoesNotStopOnFailure(t *testing.T) {
	src := MapSource{"a.js": []byte("alpha")}
	assertions := []Assertion{
		{ID: "1", Artifact: "a.js", Kind: KindContains, Text: "beta"},
		{ID: "2", Artifact: "a.js", Kind: KindContains, Text: "alpha"},
		{ID: "3", Artifact: "a.js", Kind: KindAbsent, Text: "alpha"},
	}
	report := NewVerifier(nil, nil).Verify(context.Background(), src, assertions)
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 1, report.Passed)
}

func TestVerify_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report := NewVerifier(nil, nil).Verify(ctx, MapSource{}, []Assertion{{ID: "a", Kind: KindContains}})
	require.Len(t, report.Results, 1)
	assert.False(t, report.Results[0].Passed)
	assert.Contains(t, report.Results[0].Detail, "not evaluated")
}

func TestCheck_Order(t *testing.T) {
	a := Assertion{Kind: KindOrder, Sequence: []string{"second", "first"}}
	r := Check(context.Background(), nil, a, []byte("first then second"))
	assert.False(t, r.Passed)
	assert.Contains(t, r.Detail, "appears before")

	a.Sequence = []string{"first", "second"}
	assert.True(t, Check(context.Background(), nil, a, []byte("first then second")).Passed)
}

func TestTreeSitterChecker(t *testing.T) {
	c := NewTreeSitterChecker()
	ctx := context.Background()

	tests := []struct {
		name    string
		file    string
		content string
		valid   bool
	}{
		{"valid js", "a.js", "const a = {b: [1, 2, 3]}; function f(){ return `x${a.b}` }", true},
		{"unbalanced js", "a.js", "function f(){ if (x) { return 1 }", false},
		{"valid ts", "a.ts", "let n: number = 1;", true},
		{"invalid json", "a.json", "{\n  \"a\": ,\n}", false},
		{"valid json", "a.json", `{"a": [1]}`, true},
		{"unknown extension", "a.css", "{{{{", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issues, err := c.Check(ctx, tt.file, []byte(tt.content))
			require.NoError(t, err)
			if tt.valid {
				assert.Empty(t, issues)
			} else {
				assert.NotEmpty(t, issues)
			}
		})
	}
}

func TestCheckJSON_Position(t *testing.T) {
	issues := checkJSON([]byte("{\n  \"a\": ,\n}"))
	require.Len(t, issues, 1)
	assert.Equal(t, 2, issues[0].Line)
}

func TestThreshold(t *testing.T) {
	tests := []struct {
		in     string
		passed int
		total  int
		met    bool
	}{
		{"all", 10, 10, true},
		{"all", 9, 10, false},
		{"", 0, 0, true},
		{"8", 8, 10, true},
		{"8", 7, 10, false},
		{"90%", 9, 10, true},
		{"90%", 8, 10, false},
		{"75%", 3, 4, true},
	}
	for _, tt := range tests {
		th, err := ParseThreshold(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.met, th.Met(tt.passed, tt.total), "%s with %d/%d", tt.in, tt.passed, tt.total)
	}

	for _, bad := range []string{"abc", "-1", "120%", "x%"} {
		_, err := ParseThreshold(bad)
		assert.Error(t, err, bad)
	}

	th, _ := ParseThreshold("90%")
	assert.Equal(t, 9, th.Required(10))
	assert.Equal(t, "90%", th.String())
	assert.Equal(t, "all", AllPass.String())
}
