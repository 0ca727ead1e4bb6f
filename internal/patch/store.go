package patch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Store reads and writes artifact content by slash-separated path
type Store interface {
	Read(ctx context.Context, artifact string) ([]byte, error)
	Write(ctx context.Context, artifact string, data []byte) error
}

// DirStore stores artifacts under a root directory. Writes go to a
// temporary file that is renamed over the target, so readers never see a
// partially written artifact.
type DirStore struct {
	Root string
}

// NewDirStore creates a DirStore rooted at root
func NewDirStore(root string) *DirStore {
	return &DirStore{Root: root}
}

func (s *DirStore) path(artifact string) string {
	return filepath.Join(s.Root, filepath.FromSlash(artifact))
}

// Read implements Store
func (s *DirStore) Read(_ context.Context, artifact string) ([]byte, error) {
	return os.ReadFile(s.path(artifact))
}

// Write implements Store
func (s *DirStore) Write(_ context.Context, artifact string, data []byte) error {
	target := s.path(artifact)
	mode := os.FileMode(0o644)
	if info, err := os.Stat(target); err == nil {
		mode = info.Mode().Perm()
	}

	tmpPath := target + ".tmp"
	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", artifact, err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write %s: %w", artifact, err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync %s: %w", artifact, err)
	}
	file.Close()

	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace %s: %w", artifact, err)
	}
	return nil
}

// OverlayStore layers in-memory writes over a read-only base. Dry runs
// patch through an overlay so nothing touches disk.
type OverlayStore struct {
	base Store

	mu      sync.RWMutex
	written map[string][]byte
}

// NewOverlayStore creates an overlay over base. A nil base serves only
// what has been written.
func NewOverlayStore(base Store) *OverlayStore {
	return &OverlayStore{base: base, written: make(map[string][]byte)}
}

// Read implements Store
func (s *OverlayStore) Read(ctx context.Context, artifact string) ([]byte, error) {
	s.mu.RLock()
	data, ok := s.written[artifact]
	s.mu.RUnlock()
	if ok {
		return append([]byte(nil), data...), nil
	}
	if s.base == nil {
		return nil, fmt.Errorf("%s: %w", artifact, os.ErrNotExist)
	}
	return s.base.Read(ctx, artifact)
}

// Write implements Store
func (s *OverlayStore) Write(_ context.Context, artifact string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.written[artifact] = append([]byte(nil), data...)
	return nil
}

// Written returns the paths written through the overlay
func (s *OverlayStore) Written() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.written))
	for k := range s.written {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
