package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/driftpatch/driftpatch/internal/resolve"
	"github.com/driftpatch/driftpatch/internal/session"
)

func writeBuild(t *testing.T, dir, version string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "dist"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{"version":"`+version+`"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dist", "store.js"), []byte(`const k="model-store-cache-key";`), 0o644))
}

func manifestFor(version string) *session.Manifest {
	return &session.Manifest{
		Format:  session.ManifestFormat,
		Version: version,
		Created: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Roles: map[string]session.ManifestEntry{
			"store": {Path: "dist/store.js", Confidence: resolve.Certain, Method: resolve.MethodStringAnchor},
		},
	}
}

func newMonitor(t *testing.T, discover Discoverer) (*Monitor, string) {
	t.Helper()
	root := t.TempDir()
	build := filepath.Join(root, "build")
	return &Monitor{
		ExtractedDir: build,
		ManifestPath: filepath.Join(root, "manifest.json"),
		Discover:     discover,
		Logger:       zaptest.NewLogger(t),
	}, build
}

func TestMonitorCurrentManifest(t *testing.T) {
	m, build := newMonitor(t, nil)
	writeBuild(t, build, "1.0.0")
	require.NoError(t, manifestFor("1.0.0").Save(m.ManifestPath))

	ev := m.Check(context.Background(), nil)
	assert.Equal(t, EventCurrent, ev.Kind)
	assert.Equal(t, "1.0.0", ev.FromVersion)
	assert.Equal(t, "1.0.0", ev.ToVersion)
	assert.FileExists(t, m.ManifestPath)
}

func TestMonitorInvalidatesStaleManifest(t *testing.T) {
	m, build := newMonitor(t, nil)
	writeBuild(t, build, "1.1.0")
	require.NoError(t, manifestFor("1.0.0").Save(m.ManifestPath))

	ev := m.Check(context.Background(), []string{filepath.Join(build, "package.json")})
	require.NoError(t, ev.Err)
	assert.Equal(t, EventInvalidated, ev.Kind)
	assert.Equal(t, "1.0.0", ev.FromVersion)
	assert.Equal(t, "1.1.0", ev.ToVersion)
	assert.Equal(t, m.ManifestPath+StaleSuffix, ev.Manifest)
	assert.NoFileExists(t, m.ManifestPath)
	assert.FileExists(t, m.ManifestPath+StaleSuffix)
}

func TestMonitorRediscovers(t *testing.T) {
	calls := 0
	m, build := newMonitor(t, func(context.Context) (*session.Manifest, error) {
		calls++
		return manifestFor("1.1.0"), nil
	})
	writeBuild(t, build, "1.1.0")
	require.NoError(t, manifestFor("1.0.0").Save(m.ManifestPath))

	var events []Event
	m.OnEvent = func(ev Event) { events = append(events, ev) }

	ev := m.Check(context.Background(), nil)
	require.NoError(t, ev.Err)
	assert.Equal(t, EventRediscovered, ev.Kind)
	assert.Equal(t, 1, calls)
	require.Len(t, events, 1)

	fresh, err := session.LoadManifest(m.ManifestPath)
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", fresh.Version)

	// the fresh manifest is current, so a second check does nothing
	assert.Equal(t, EventCurrent, m.Check(context.Background(), nil).Kind)
	assert.Equal(t, 1, calls)
}

func TestMonitorMissingManifestDiscovers(t *testing.T) {
	m, build := newMonitor(t, func(context.Context) (*session.Manifest, error) {
		return manifestFor("1.0.0"), nil
	})
	writeBuild(t, build, "1.0.0")

	ev := m.Check(context.Background(), nil)
	require.NoError(t, ev.Err)
	assert.Equal(t, EventRediscovered, ev.Kind)
	assert.FileExists(t, m.ManifestPath)
}

func TestMonitorMovedArtifactInvalidates(t *testing.T) {
	m, build := newMonitor(t, nil)
	writeBuild(t, build, "1.0.0")
	stale := manifestFor("1.0.0")
	stale.Roles["store"] = session.ManifestEntry{Path: "dist/gone.js"}
	require.NoError(t, stale.Save(m.ManifestPath))

	ev := m.Check(context.Background(), nil)
	assert.Equal(t, EventInvalidated, ev.Kind)
}

func TestMonitorFailures(t *testing.T) {
	t.Run("missing build", func(t *testing.T) {
		m, _ := newMonitor(t, nil)
		ev := m.Check(context.Background(), nil)
		assert.Equal(t, EventFailed, ev.Kind)
		assert.Error(t, ev.Err)
	})

	t.Run("discovery fails", func(t *testing.T) {
		m, build := newMonitor(t, func(context.Context) (*session.Manifest, error) {
			return nil, errors.New("role store unresolved")
		})
		writeBuild(t, build, "1.0.0")

		ev := m.Check(context.Background(), nil)
		assert.Equal(t, EventFailed, ev.Kind)
		assert.EqualError(t, ev.Err, "role store unresolved")
		assert.NoFileExists(t, m.ManifestPath)
	})
}

func TestMonitorRunStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	m, build := newMonitor(t, nil)
	writeBuild(t, build, "1.0.0")
	require.NoError(t, manifestFor("1.0.0").Save(m.ManifestPath))
	m.Debounce = 20 * time.Millisecond

	events := make(chan Event, 4)
	m.OnEvent = func(ev Event) { events <- ev }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	first := <-events
	assert.Equal(t, EventCurrent, first.Kind)

	time.Sleep(100 * time.Millisecond)
	writeBuild(t, build, "1.1.0")

	select {
	case ev := <-events:
		assert.Equal(t, EventInvalidated, ev.Kind)
		assert.Equal(t, "1.1.0", ev.ToVersion)
	case <-time.After(2 * time.Second):
		t.Fatal("no event after build change")
	}

	cancel()
	require.NoError(t, <-done)
}
