package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// maxSyntaxIssues bounds how many issues are collected per artifact
const maxSyntaxIssues = 50

// maxSyntaxDepth guards the walk against pathological nesting
const maxSyntaxDepth = 4000

// SyntaxIssue is one parse error found in an artifact
type SyntaxIssue struct {
	Line    int    `json:"line"`
	Column  int    `json:"column"`
	Message string `json:"message"`
}

func (i SyntaxIssue) String() string {
	return fmt.Sprintf("%d:%d: %s", i.Line, i.Column, i.Message)
}

// SyntaxChecker reports parse errors of an artifact. name selects the
// grammar by extension.
type SyntaxChecker interface {
	Check(ctx context.Context, name string, content []byte) ([]SyntaxIssue, error)
}

// TreeSitterChecker parses script artifacts with tree-sitter and JSON
// artifacts with encoding/json. Unknown extensions pass unchecked.
type TreeSitterChecker struct{}

// NewTreeSitterChecker creates a syntax checker
func NewTreeSitterChecker() *TreeSitterChecker {
	return &TreeSitterChecker{}
}

// Check implements SyntaxChecker
func (c *TreeSitterChecker) Check(ctx context.Context, name string, content []byte) ([]SyntaxIssue, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == ".json" {
		return checkJSON(content), nil
	}

	lang := languageFor(ext)
	if lang == nil {
		return nil, nil
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(lang)

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	defer tree.Close()

	var issues []SyntaxIssue
	collectIssues(tree.RootNode(), content, &issues, 0)
	return issues, nil
}

func languageFor(ext string) *sitter.Language {
	switch ext {
	case ".js", ".mjs", ".cjs", ".jsx":
		return javascript.GetLanguage()
	case ".ts", ".mts", ".cts":
		return typescript.GetLanguage()
	default:
		return nil
	}
}

func collectIssues(node *sitter.Node, content []byte, issues *[]SyntaxIssue, depth int) {
	if node == nil || depth > maxSyntaxDepth || len(*issues) >= maxSyntaxIssues {
		return
	}
	if !node.HasError() && !node.IsMissing() {
		return
	}

	if node.IsError() || node.IsMissing() {
		p := node.StartPoint()
		msg := "syntax error"
		if node.IsMissing() {
			msg = fmt.Sprintf("missing %s", node.Type())
		} else {
			start, end := node.StartByte(), min(node.EndByte(), uint32(len(content)))
			if end > start && end-start < 60 {
				msg = fmt.Sprintf("unexpected %q", content[start:end])
			}
		}
		*issues = append(*issues, SyntaxIssue{Line: int(p.Row) + 1, Column: int(p.Column) + 1, Message: msg})
	}

	for i := 0; i < int(node.ChildCount()); i++ {
		collectIssues(node.Child(i), content, issues, depth+1)
	}
}

func checkJSON(content []byte) []SyntaxIssue {
	var v any
	err := json.Unmarshal(content, &v)
	if err == nil {
		return nil
	}
	issue := SyntaxIssue{Line: 1, Column: 1, Message: err.Error()}
	if se, ok := err.(*json.SyntaxError); ok {
		issue.Line, issue.Column = position(content, int(se.Offset))
	}
	return []SyntaxIssue{issue}
}

func position(content []byte, offset int) (int, int) {
	offset = min(offset, len(content))
	line, col := 1, 1
	for _, b := range content[:offset] {
		if b == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}
	return line, col
}
