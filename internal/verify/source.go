package verify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// DirSource reads artifacts relative to a directory
type DirSource struct {
	Root string
}

// Read implements Source
func (s DirSource) Read(_ context.Context, artifact string) ([]byte, error) {
	return os.ReadFile(filepath.Join(s.Root, filepath.FromSlash(artifact)))
}

// MapSource serves artifacts from memory
type MapSource map[string][]byte

// Read implements Source
func (s MapSource) Read(_ context.Context, artifact string) ([]byte, error) {
	data, ok := s[artifact]
	if !ok {
		return nil, fmt.Errorf("%s: %w", artifact, os.ErrNotExist)
	}
	return data, nil
}
