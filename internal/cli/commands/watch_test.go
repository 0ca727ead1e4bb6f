package commands

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	engerrors "github.com/driftpatch/driftpatch/internal/errors"
	"github.com/driftpatch/driftpatch/internal/session"
	"github.com/driftpatch/driftpatch/internal/watch"
)

func TestWatchCommandFlags(t *testing.T) {
	cmd := NewWatchCommand(&Globals{})
	assert.Equal(t, "watch", cmd.Use)

	debounce := cmd.Flags().Lookup("debounce")
	require.NotNil(t, debounce)
	assert.Equal(t, watch.DefaultDebounce.String(), debounce.DefValue)
	assert.NotNil(t, cmd.Flags().Lookup("no-rediscover"))
	assert.NotNil(t, cmd.Flags().Lookup("extracted-dir"))
}

func TestPrintEvent(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.Local)
	tests := []struct {
		name string
		ev   watch.Event
		want []string
	}{
		{"current", watch.Event{Kind: watch.EventCurrent, ToVersion: "1.0.0", At: at}, []string{"✓ 12:00:00 manifest current for 1.0.0"}},
		{"invalidated", watch.Event{Kind: watch.EventInvalidated, ToVersion: "1.1.0", At: at}, []string{"! 12:00:00 manifest invalidated (build 1.1.0)"}},
		{"rediscovered", watch.Event{Kind: watch.EventRediscovered, FromVersion: "1.0.0", ToVersion: "1.1.0", At: at}, []string{"1.0.0 -> 1.1.0"}},
		{"failed", watch.Event{Kind: watch.EventFailed, At: at,
			Err: engerrors.New("manifest", engerrors.ErrManifestInvalid, "path gone", engerrors.Fatal)},
			[]string{"✗ 12:00:00 check failed", "M002 path gone"}},
		{"failed plain", watch.Event{Kind: watch.EventFailed, At: at, Err: errors.New("disk full")}, []string{"disk full"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			printEvent(&buf, tt.ev, true)
			for _, w := range tt.want {
				assert.Contains(t, buf.String(), w)
			}
		})
	}
}

func TestEventReport(t *testing.T) {
	r := eventReport(watch.Event{Kind: watch.EventFailed, Err: errors.New("boom"), Files: []string{"a"}})
	assert.Equal(t, watch.EventFailed, r.Kind)
	assert.Equal(t, "boom", r.Error)
	assert.Equal(t, []string{"a"}, r.Files)

	assert.Empty(t, eventReport(watch.Event{Kind: watch.EventCurrent}).Error)
}

func TestDiscovererRediscoversStaleManifest(t *testing.T) {
	p := newProject(t, "1.0.0")
	manifest := filepath.Join(p.dir, "work", "manifest.json")
	_, _, err := p.run(t, "discover", "--extracted-dir", p.build, "--output", manifest)
	require.NoError(t, err)
	p.writeBuild(t, "1.1.0")

	g := &Globals{ConfigPath: p.config}
	require.NoError(t, loadGlobals(g))
	cat, err := loadCatalog(g)
	require.NoError(t, err)
	opts, err := sessionOptions(g, &buildFlags{extractedDir: p.build}, session.ModeDiscover)
	require.NoError(t, err)

	m := &watch.Monitor{
		ExtractedDir: p.build,
		ManifestPath: manifest,
		Discover:     discoverer(g, cat, opts),
	}
	ev := m.Check(context.Background(), nil)
	require.NoError(t, ev.Err)
	assert.Equal(t, watch.EventRediscovered, ev.Kind)
	assert.Equal(t, "1.0.0", ev.FromVersion)
	assert.Equal(t, "1.1.0", ev.ToVersion)
	assert.FileExists(t, manifest+watch.StaleSuffix)

	fresh, err := session.LoadManifest(manifest)
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", fresh.Version)
}
