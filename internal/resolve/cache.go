package resolve

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/driftpatch/driftpatch/internal/archive"
)

// DefaultCacheSize is the number of artifacts kept in memory
const DefaultCacheSize = 512

// contentCache keeps recently read artifact text. Roles scan overlapping
// candidate sets, so each artifact is read from the container once.
type contentCache struct {
	entries *lru.Cache[string, string]
}

func newContentCache(size int) *contentCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c, err := lru.New[string, string](size)
	if err != nil {
		panic(err)
	}
	return &contentCache{entries: c}
}

func (c *contentCache) get(n *archive.Node) (string, error) {
	if s, ok := c.entries.Get(n.Rel()); ok {
		return s, nil
	}
	data, err := n.Content()
	if err != nil {
		return "", err
	}
	s := string(data)
	c.entries.Add(n.Rel(), s)
	return s, nil
}
