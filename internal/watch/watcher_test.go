package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestBuildWatcherBatchesReplacement(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "app.asar")
	require.NoError(t, os.WriteFile(target, []byte("v1"), 0o644))

	bw, err := newBuildWatcher([]string{target}, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	batches := make(chan []string, 4)
	done := make(chan error, 1)
	go func() {
		done <- bw.run(ctx, 50*time.Millisecond, func(files []string) { batches <- files })
	}()

	// installers usually write a sibling and rename it into place
	staged := filepath.Join(dir, "app.asar.new")
	require.NoError(t, os.WriteFile(staged, []byte("v2"), 0o644))
	require.NoError(t, os.Rename(staged, target))
	require.NoError(t, os.WriteFile(target, []byte("v2!"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "unrelated.txt"), []byte("x"), 0o644))

	select {
	case files := <-batches:
		assert.Equal(t, []string{target}, files)
	case <-time.After(2 * time.Second):
		t.Fatal("no batch delivered")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("run did not return after cancel")
	}
}

func TestBuildWatcherSeesSideStoreContents(t *testing.T) {
	dir := t.TempDir()
	side := filepath.Join(dir, "app.asar.unpacked")
	require.NoError(t, os.MkdirAll(side, 0o755))

	bw, err := newBuildWatcher([]string{filepath.Join(dir, "app.asar"), side}, nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	batches := make(chan []string, 4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		bw.run(ctx, 30*time.Millisecond, func(files []string) { batches <- files })
	}()
	defer func() {
		cancel()
		<-done
	}()

	native := filepath.Join(side, "native.node")
	require.NoError(t, os.WriteFile(native, []byte("elf"), 0o644))

	select {
	case files := <-batches:
		assert.Contains(t, files, native)
	case <-time.After(2 * time.Second):
		t.Fatal("no batch delivered")
	}
}

func TestBuildWatcherRelevant(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "app.asar")
	side := filepath.Join(dir, "app.asar.unpacked")
	bw := &buildWatcher{
		targets: map[string]bool{target: true, side: true},
		ignored: []string{"*.swp"},
	}

	tests := []struct {
		name  string
		event fsnotify.Event
		want  bool
	}{
		{"write to target", fsnotify.Event{Name: target, Op: fsnotify.Write}, true},
		{"rename onto target", fsnotify.Event{Name: target, Op: fsnotify.Rename}, true},
		{"inside side store", fsnotify.Event{Name: filepath.Join(side, "native.node"), Op: fsnotify.Create}, true},
		{"chmod only", fsnotify.Event{Name: target, Op: fsnotify.Chmod}, false},
		{"backup sibling", fsnotify.Event{Name: filepath.Join(dir, "app.asar.backup"), Op: fsnotify.Write}, false},
		{"temp file", fsnotify.Event{Name: filepath.Join(side, "x.tmp"), Op: fsnotify.Write}, false},
		{"ignored glob", fsnotify.Event{Name: filepath.Join(side, "x.swp"), Op: fsnotify.Write}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, bw.relevant(tt.event))
		})
	}
}

func TestBuildWatcherDirectories(t *testing.T) {
	bw := &buildWatcher{targets: map[string]bool{
		"/opt/app/resources/app.asar":          true,
		"/opt/app/resources/app.asar.unpacked": true,
		"/tmp/extracted/package.json":          true,
	}}
	assert.Equal(t, []string{"/opt/app/resources", "/tmp/extracted"}, bw.directories())
}

func TestDrain(t *testing.T) {
	pending := map[string]struct{}{"b.asar": {}, "a.asar": {}}
	assert.Equal(t, []string{"a.asar", "b.asar"}, drain(pending))
	assert.Empty(t, pending)
}

func TestNewBuildWatcherMissingDirectory(t *testing.T) {
	_, err := newBuildWatcher([]string{filepath.Join(t.TempDir(), "gone", "app.asar")}, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to watch")
}
