package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	color.NoColor = true
}

func TestError_Creation(t *testing.T) {
	err := New("patch", ErrAnchorNotFound, "", Error).
		At(Location{Role: "model-store", Artifact: "a1b2.js", Spec: "drop-guard"})

	assert.Equal(t, "patch", err.Stage)
	assert.Equal(t, ErrAnchorNotFound, err.Code)
	assert.Equal(t, "Anchor not found", err.Message)
	assert.Equal(t, "P001 [role=model-store artifact=a1b2.js spec=drop-guard]: Anchor not found", err.Error())
}

func TestError_IsMatchesCode(t *testing.T) {
	base := Wrap("archive", ErrArchiveFormat, fmt.Errorf("short read"), "header of %s", "app.asar")
	wrapped := fmt.Errorf("inspect: %w", base)

	assert.True(t, stderrors.Is(wrapped, EngineError{Code: ErrArchiveFormat}))
	assert.False(t, stderrors.Is(wrapped, EngineError{Code: ErrArchiveIO}))
	assert.True(t, stderrors.Is(wrapped, EngineError{}))
	assert.True(t, HasCode(wrapped, ErrArchiveFormat))
	assert.Equal(t, ErrArchiveFormat, CodeOf(wrapped))
	assert.Equal(t, "", CodeOf(fmt.Errorf("plain")))
	assert.Contains(t, wrapped.Error(), "short read")
}

func TestError_UnwrapCause(t *testing.T) {
	cause := stderrors.New("permission denied")
	err := Wrap("archive", ErrArchiveIO, cause, "read header")
	assert.True(t, stderrors.Is(err, cause))
}

func TestError_JSON(t *testing.T) {
	err := New("resolve", ErrRoleAmbiguous, "", Error).
		At(Location{Role: "model-picker"}).
		WithDefaultSuggestion()

	data, marshalErr := json.Marshal(err)
	require.NoError(t, marshalErr)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "R002", decoded["code"])
	assert.Equal(t, "error", decoded["severity"])
	assert.Equal(t, "model-picker", decoded["location"].(map[string]any)["role"])
	assert.NotNil(t, decoded["suggestion"])
}

func TestFormatErrorsAsJSON_Status(t *testing.T) {
	tests := []struct {
		name   string
		errs   []EngineError
		status string
	}{
		{"empty", nil, "success"},
		{"warning only", []EngineError{New("patch", ErrAnchorNotFound, "", Warning)}, "warning"},
		{"error", []EngineError{New("patch", ErrAnchorNotFound, "", Error), New("patch", ErrAmbiguousMatch, "", Warning)}, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := FormatErrorsAsJSON(tt.errs)
			require.NoError(t, err)
			var decoded JSONOutput
			require.NoError(t, json.Unmarshal([]byte(out), &decoded))
			assert.Equal(t, tt.status, decoded.Status)
			assert.Equal(t, len(tt.errs), decoded.Summary.TotalCount)
		})
	}
}

func TestSeverity_RoundTrip(t *testing.T) {
	for _, s := range []Severity{Info, Warning, Error, Fatal} {
		data, err := json.Marshal(s)
		require.NoError(t, err)
		var got Severity
		require.NoError(t, json.Unmarshal(data, &got))
		assert.Equal(t, s, got)
	}
}

func TestError_TerminalFormat(t *testing.T) {
	err := New("resolve", ErrUnknownRole, "unknown role \"model-stor\"", Error).
		At(Location{Role: "model-stor"}).
		WithSuggestion(Suggestion{Description: `did you mean "model-store"?`})

	out := err.FormatForTerminal()
	assert.True(t, strings.HasPrefix(out, "Error [R005]: unknown role"))
	assert.Contains(t, out, "--> role=model-stor")
	assert.Contains(t, out, `help: did you mean "model-store"?`)
}

func TestCollector(t *testing.T) {
	c := NewCollector()
	assert.NoError(t, c.Err())

	c.Add(New("resolve", ErrRoleUnresolved, "", Error).At(Location{Role: "store"}))
	c.Add(New("resolve", ErrRoleAmbiguous, "", Error).At(Location{Role: "picker"}))
	c.Add(New("resolve", ErrSymbolUnresolved, "", Warning).At(Location{Role: "picker"}))

	require.Error(t, c.Err())
	assert.Len(t, c.Errors(), 2)
	assert.Len(t, c.Warnings(), 1)
	assert.Len(t, c.ByRole("picker"), 2)
	assert.Len(t, c.ByCode(ErrRoleUnresolved), 1)
	assert.True(t, HasCode(c.Err(), ErrRoleAmbiguous))
	assert.Contains(t, c.FormatForTerminal(), "2 error(s) and 1 warning(s)")
}

func TestCollector_MaxCount(t *testing.T) {
	c := NewCollectorWithMax(2)
	for i := 0; i < 5; i++ {
		c.Add(New("patch", ErrAnchorNotFound, "", Error))
	}
	assert.Len(t, c.Errors(), 2)
}

func TestSuggestNames(t *testing.T) {
	known := []string{"model-store", "model-picker", "settings"}
	assert.Equal(t, []string{"model-store"}, SuggestNames("model-stor", known))
	assert.Empty(t, SuggestNames("completely-different", known))

	err := UnknownName("catalog", ErrUnknownRole, "role", "modle-picker", known)
	require.NotNil(t, err.Suggestion)
	assert.Equal(t, []string{"model-picker"}, err.Suggestion.Candidates)
}

func TestStageForCode(t *testing.T) {
	assert.Equal(t, "archive", StageForCode(ErrSideStoreMissing))
	assert.Equal(t, "verify", StageForCode(ErrSyntaxValidation))
	assert.Equal(t, "", StageForCode(""))
}
