package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	oldWd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(oldWd) })
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ".driftpatch", cfg.WorkDir)
	assert.Equal(t, "catalog.yml", cfg.Catalog)
	assert.Equal(t, filepath.Join(".driftpatch", "manifest.json"), cfg.Manifest.Path)
	assert.Equal(t, filepath.Join(".driftpatch", "history.db"), cfg.History.Path)
	assert.True(t, cfg.Patch.Strict)
	assert.Equal(t, 4, cfg.Resolve.Workers)
	assert.Equal(t, 256, cfg.Resolve.CacheSize)
	assert.Equal(t, 5*time.Minute, cfg.Install.Timeout)
	assert.Equal(t, "console", cfg.Log.Format)

	threshold, err := cfg.Threshold()
	require.NoError(t, err)
	assert.Nil(t, threshold)
}

func TestLoadWithConfigFile(t *testing.T) {
	chdir(t, t.TempDir())

	content := `
archive:
  path: /opt/app/resources/app.asar
  side_store: /opt/app/resources/app.asar.unpacked
workdir: state
catalog: patches/catalog.yml
patch:
  strict: false
resolve:
  workers: 8
verify:
  threshold: 90%
install:
  command: ./install.sh
  timeout: 30s
log:
  level: debug
  format: json
`
	require.NoError(t, os.WriteFile("driftpatch.yml", []byte(content), 0o644))

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/opt/app/resources/app.asar", cfg.Archive.Path)
	assert.Equal(t, "/opt/app/resources/app.asar.unpacked", cfg.Archive.SideStore)
	assert.Equal(t, filepath.Join("state", "manifest.json"), cfg.Manifest.Path)
	assert.False(t, cfg.Patch.Strict)
	assert.Equal(t, 8, cfg.Resolve.Workers)
	assert.Equal(t, "./install.sh", cfg.Install.Command)
	assert.Equal(t, 30*time.Second, cfg.Install.Timeout)
	assert.Equal(t, "debug", cfg.Log.Level)

	threshold, err := cfg.Threshold()
	require.NoError(t, err)
	require.NotNil(t, threshold)
	assert.Equal(t, "90%", threshold.String())
}

func TestLoadExplicitPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workdir: elsewhere\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "elsewhere", cfg.WorkDir)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("DRIFTPATCH_ARCHIVE_PATH", "/env/app.asar")
	t.Setenv("DRIFTPATCH_RESOLVE_WORKERS", "2")
	t.Setenv("DRIFTPATCH_INSTALL_COMMAND", "true")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/env/app.asar", cfg.Archive.Path)
	assert.Equal(t, 2, cfg.Resolve.Workers)
	assert.Equal(t, "true", cfg.Install.Command)
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"bad threshold", "verify:\n  threshold: lots\n", "verify.threshold"},
		{"no workers", "resolve:\n  workers: 0\n", "resolve.workers"},
		{"bad format", "log:\n  format: xml\n", "log.format"},
		{"empty workdir", "workdir: \"\"\n", "workdir"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chdir(t, t.TempDir())
			require.NoError(t, os.WriteFile("driftpatch.yml", []byte(tt.content), 0o644))

			_, err := Load("")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRequireArchive(t *testing.T) {
	cfg := &Config{}
	assert.ErrorContains(t, cfg.RequireArchive(), "archive.path is not set")

	cfg.Archive.Path = filepath.Join(t.TempDir(), "app.asar")
	assert.Error(t, cfg.RequireArchive())

	require.NoError(t, os.WriteFile(cfg.Archive.Path, []byte("x"), 0o644))
	assert.NoError(t, cfg.RequireArchive())
}
