package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/driftpatch/driftpatch/internal/archive"
	engerrors "github.com/driftpatch/driftpatch/internal/errors"
	"github.com/driftpatch/driftpatch/internal/session"
)

// StaleSuffix is appended to a manifest that no longer matches the build
const StaleSuffix = ".stale"

// EventKind classifies what a Monitor did about a change
type EventKind string

const (
	// EventCurrent means the manifest still matches the build
	EventCurrent EventKind = "current"
	// EventInvalidated means a stale manifest was moved aside
	EventInvalidated EventKind = "invalidated"
	// EventRediscovered means a fresh manifest was written
	EventRediscovered EventKind = "rediscovered"
	// EventFailed means the build could not be inspected or rediscovered
	EventFailed EventKind = "failed"
)

// Event is one reaction to a build change
type Event struct {
	Kind        EventKind
	Files       []string
	FromVersion string
	ToVersion   string
	Manifest    string
	Err         error
	At          time.Time
}

// Discoverer produces a manifest for the build currently installed
type Discoverer func(ctx context.Context) (*session.Manifest, error)

// Monitor keeps a role manifest in step with the build it describes
type Monitor struct {
	// ArchivePath is the live container; ignored when ExtractedDir is set
	ArchivePath  string
	SideStoreDir string
	ExtractedDir string
	ManifestPath string
	// Discover rebuilds the manifest; nil only invalidates
	Discover Discoverer
	// OnEvent is called after each reaction
	OnEvent func(Event)
	Debounce time.Duration
	Logger   *zap.Logger

	// serializes Check between the initial pass and debounced callbacks
	mu sync.Mutex
}

// Targets returns the files whose change means the build was replaced
func (m *Monitor) Targets() []string {
	if m.ExtractedDir != "" {
		return []string{filepath.Join(m.ExtractedDir, "package.json")}
	}
	return []string{m.ArchivePath}
}

func (m *Monitor) inspect() (*archive.Tree, error) {
	if m.ExtractedDir != "" {
		return archive.InspectDir(m.ExtractedDir, m.SideStoreDir)
	}
	return archive.Inspect(m.ArchivePath, archive.Options{SideStoreDir: m.SideStoreDir})
}

func (m *Monitor) logger() *zap.Logger {
	if m.Logger == nil {
		return zap.NewNop()
	}
	return m.Logger
}

// Check compares the manifest with the build on disk. A stale or missing
// manifest is moved aside and, when Discover is set, regenerated.
func (m *Monitor) Check(ctx context.Context, files []string) Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev := m.check(ctx)
	ev.Files = files
	ev.At = time.Now()
	log := m.logger().With(zap.String("event", string(ev.Kind)), zap.String("manifest", ev.Manifest))
	if ev.Err != nil {
		log.Warn("manifest check", zap.Error(ev.Err))
	} else {
		log.Info("manifest check", zap.String("from", ev.FromVersion), zap.String("to", ev.ToVersion))
	}
	if m.OnEvent != nil {
		m.OnEvent(ev)
	}
	return ev
}

func (m *Monitor) check(ctx context.Context) Event {
	tree, err := m.inspect()
	if err != nil {
		return Event{Kind: EventFailed, Err: err}
	}
	version, err := tree.Version()
	if err != nil {
		return Event{Kind: EventFailed, Err: err}
	}

	ev := Event{Kind: EventCurrent, ToVersion: version, Manifest: m.ManifestPath}
	current, err := session.LoadManifest(m.ManifestPath)
	switch {
	case err == nil:
		ev.FromVersion = current.Version
		verr := current.Validate(tree)
		if verr == nil {
			return ev
		}
		if !engerrors.HasCode(verr, engerrors.ErrManifestStale) && !engerrors.HasCode(verr, engerrors.ErrManifestInvalid) {
			return Event{Kind: EventFailed, Err: verr, Manifest: m.ManifestPath}
		}
		stale := m.ManifestPath + StaleSuffix
		if err := os.Rename(m.ManifestPath, stale); err != nil {
			return Event{Kind: EventFailed, Err: fmt.Errorf("failed to invalidate manifest: %w", err)}
		}
		ev.Kind = EventInvalidated
		ev.Manifest = stale
	case errors.Is(err, os.ErrNotExist):
		ev.Kind = EventInvalidated
		ev.Manifest = ""
	default:
		return Event{Kind: EventFailed, Err: err, Manifest: m.ManifestPath}
	}

	if m.Discover == nil {
		return ev
	}
	fresh, err := m.Discover(ctx)
	if err != nil {
		ev.Kind = EventFailed
		ev.Err = err
		return ev
	}
	if err := fresh.Save(m.ManifestPath); err != nil {
		ev.Kind = EventFailed
		ev.Err = err
		return ev
	}
	ev.Kind = EventRediscovered
	ev.ToVersion = fresh.Version
	ev.Manifest = m.ManifestPath
	return ev
}

// Run checks once, then watches the build until ctx is done
func (m *Monitor) Run(ctx context.Context) error {
	m.Check(ctx, nil)

	bw, err := newBuildWatcher(m.Targets(), nil, m.logger())
	if err != nil {
		return err
	}
	m.logger().Info("watching build", zap.Strings("targets", m.Targets()))

	return bw.run(ctx, m.Debounce, func(files []string) {
		if ctx.Err() == nil {
			m.Check(ctx, files)
		}
	})
}
