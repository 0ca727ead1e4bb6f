package commands

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	engerrors "github.com/driftpatch/driftpatch/internal/errors"
	"github.com/driftpatch/driftpatch/internal/session"
)

func TestRootCommandRegistersSubcommands(t *testing.T) {
	cmd := NewRootCommand()
	assert.Equal(t, "driftpatch", cmd.Use)

	names := map[string]bool{}
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"version", "discover", "apply", "verify", "history", "watch"} {
		assert.True(t, names[want], "missing command %s", want)
	}
}

func TestVersionCommand(t *testing.T) {
	noColor(t)
	Version = "1.0.0-test"
	t.Cleanup(func() { Version = "dev" })

	cmd := NewVersionCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.Run(cmd, nil)
	assert.Contains(t, out.String(), "driftpatch version: 1.0.0-test")
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"catalog", engerrors.New("catalog", engerrors.ErrCatalogInvalid, "bad", engerrors.Fatal), 2},
		{"stale manifest", &session.StageError{Stage: session.StageResolving,
			Err: engerrors.New("manifest", engerrors.ErrManifestStale, "stale", engerrors.Fatal)}, 2},
		{"threshold", engerrors.New("verify", engerrors.ErrThresholdNotMet, "short", engerrors.Error), 3},
		{"other", os.ErrPermission, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}
