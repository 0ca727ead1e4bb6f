package session

import (
	"context"
	"fmt"

	"github.com/driftpatch/driftpatch/internal/archive"
)

// TreeStore reads artifacts straight out of a build tree. It backs dry
// runs over a packed container, always under an overlay.
type TreeStore struct {
	Tree *archive.Tree
}

// Read implements patch.Store
func (s TreeStore) Read(_ context.Context, artifact string) ([]byte, error) {
	n, ok := s.Tree.Lookup(artifact)
	if !ok {
		return nil, fmt.Errorf("%s is not in the build", artifact)
	}
	return n.Content()
}

// Write implements patch.Store
func (s TreeStore) Write(_ context.Context, artifact string, _ []byte) error {
	return fmt.Errorf("%s: build tree is read-only", artifact)
}
