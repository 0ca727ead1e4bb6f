// Package archive maps a packed application build into a tree of nodes and
// tells inline-stored artifacts apart from side-stored ones.
package archive

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	engerrors "github.com/driftpatch/driftpatch/internal/errors"
)

// Storage tells where a node's bytes live
type Storage int

const (
	// Inline nodes live inside the container's content region
	Inline Storage = iota
	// SideStored nodes live in the side-store directory next to the container
	SideStored
)

func (s Storage) String() string {
	if s == SideStored {
		return "side-stored"
	}
	return "inline"
}

// MarshalText implements encoding.TextMarshaler
func (s Storage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Node is a single file entry of a build tree
type Node struct {
	Path       []string
	Size       int64
	Storage    Storage
	Offset     int64
	Executable bool
	Link       string

	tree *Tree
}

// Rel returns the node's slash-separated path relative to the tree root
func (n *Node) Rel() string {
	return strings.Join(n.Path, "/")
}

// Name returns the node's base name
func (n *Node) Name() string {
	if len(n.Path) == 0 {
		return ""
	}
	return n.Path[len(n.Path)-1]
}

// IsLink reports whether the node is a symbolic link entry
func (n *Node) IsLink() bool {
	return n.Link != ""
}

// Content reads the node's bytes. Reads are lazy and never cached here.
func (n *Node) Content() ([]byte, error) {
	return n.tree.read(n)
}

// Tree is the file tree of one build, backed either by a container file or
// by a directory.
type Tree struct {
	archivePath  string
	sideStoreDir string
	dir          string
	contentBase  int64
	header       []byte

	nodes map[string]*Node
	order []string
}

func newTree() *Tree {
	return &Tree{nodes: make(map[string]*Node)}
}

func (t *Tree) add(n *Node) {
	n.tree = t
	rel := n.Rel()
	if _, exists := t.nodes[rel]; !exists {
		t.order = append(t.order, rel)
	}
	t.nodes[rel] = n
}

func (t *Tree) seal() {
	sort.Strings(t.order)
}

// ArchivePath returns the container path, or "" for directory trees
func (t *Tree) ArchivePath() string { return t.archivePath }

// SideStoreDir returns the side-store directory
func (t *Tree) SideStoreDir() string { return t.sideStoreDir }

// Dir returns the directory the tree reads from, if any
func (t *Tree) Dir() string { return t.dir }

// Lookup returns the node at rel
func (t *Tree) Lookup(rel string) (*Node, bool) {
	n, ok := t.nodes[strings.TrimPrefix(filepath.ToSlash(rel), "/")]
	return n, ok
}

// Files returns every non-link node in path order
func (t *Tree) Files() []*Node {
	out := make([]*Node, 0, len(t.order))
	for _, rel := range t.order {
		if n := t.nodes[rel]; !n.IsLink() {
			out = append(out, n)
		}
	}
	return out
}

// SideStored returns the side-stored nodes in path order
func (t *Tree) SideStored() []*Node {
	var out []*Node
	for _, n := range t.Files() {
		if n.Storage == SideStored {
			out = append(out, n)
		}
	}
	return out
}

// Glob returns the files matching any of patterns, in path order. A pattern
// starting with "**/" matches its remainder at any depth.
func (t *Tree) Glob(patterns ...string) []*Node {
	var out []*Node
	for _, n := range t.Files() {
		for _, p := range patterns {
			if MatchGlob(p, n.Rel()) {
				out = append(out, n)
				break
			}
		}
	}
	return out
}

// MatchGlob matches a slash-separated path against a glob pattern. A "**"
// segment matches any number of directories.
func MatchGlob(pattern, rel string) bool {
	head, tail, ok := strings.Cut(pattern, "**/")
	if !ok || (head != "" && !strings.HasSuffix(head, "/")) {
		ok, err := path.Match(pattern, rel)
		return err == nil && ok
	}
	parts := strings.Split(rel, "/")
	n := strings.Count(head, "/")
	if len(parts) <= n {
		return false
	}
	if n > 0 {
		if ok, err := path.Match(strings.TrimSuffix(head, "/"), strings.Join(parts[:n], "/")); err != nil || !ok {
			return false
		}
	}
	for i := n; i < len(parts); i++ {
		if MatchGlob(tail, strings.Join(parts[i:], "/")) {
			return true
		}
	}
	return false
}

// Version returns the build version declared in the root package.json
func (t *Tree) Version() (string, error) {
	n, ok := t.Lookup("package.json")
	if !ok {
		return "", engerrors.New("archive", engerrors.ErrNodeNotFound, "package.json not found at tree root", engerrors.Error)
	}
	data, err := n.Content()
	if err != nil {
		return "", err
	}
	var pkg struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return "", engerrors.Wrap("archive", engerrors.ErrArchiveFormat, err, "package.json is not valid JSON")
	}
	if pkg.Version == "" {
		return "", engerrors.New("archive", engerrors.ErrArchiveFormat, "package.json declares no version", engerrors.Error)
	}
	return pkg.Version, nil
}

// Fingerprint returns a SHA-256 digest identifying the build. Container
// trees hash the header, directory trees hash package.json.
func (t *Tree) Fingerprint() (string, error) {
	data := t.header
	if data == nil {
		n, ok := t.Lookup("package.json")
		if !ok {
			return "", engerrors.New("archive", engerrors.ErrNodeNotFound, "package.json not found at tree root", engerrors.Error)
		}
		var err error
		if data, err = n.Content(); err != nil {
			return "", err
		}
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Attach returns a copy of the tree that reads every node from dir, an
// extracted copy of the same build. Storage classes are preserved.
func (t *Tree) Attach(dir string) (*Tree, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, engerrors.Wrap("archive", engerrors.ErrArchiveIO, err, "extracted tree %s", dir)
	}
	if !info.IsDir() {
		return nil, engerrors.New("archive", engerrors.ErrArchiveIO, fmt.Sprintf("%s is not a directory", dir), engerrors.Error)
	}
	attached := newTree()
	attached.archivePath = t.archivePath
	attached.sideStoreDir = t.sideStoreDir
	attached.header = t.header
	attached.dir = dir
	for _, rel := range t.order {
		n := *t.nodes[rel]
		attached.add(&n)
	}
	attached.seal()
	return attached, nil
}

// SideStorePath returns where a side-stored node lives on disk
func (t *Tree) SideStorePath(n *Node) string {
	return filepath.Join(t.sideStoreDir, filepath.FromSlash(n.Rel()))
}

func (t *Tree) read(n *Node) ([]byte, error) {
	if n.IsLink() {
		return nil, engerrors.New("archive", engerrors.ErrArchiveIO, fmt.Sprintf("%s is a link", n.Rel()), engerrors.Error)
	}
	var (
		data []byte
		err  error
	)
	switch {
	case t.dir != "":
		data, err = os.ReadFile(filepath.Join(t.dir, filepath.FromSlash(n.Rel())))
	case n.Storage == SideStored:
		data, err = os.ReadFile(t.SideStorePath(n))
	default:
		data, err = t.readInline(n)
	}
	if err != nil {
		return nil, engerrors.Wrap("archive", engerrors.ErrArchiveIO, err, "read %s", n.Rel())
	}
	return data, nil
}

func (t *Tree) readInline(n *Node) ([]byte, error) {
	f, err := os.Open(t.archivePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, n.Size)
	if _, err := f.ReadAt(buf, t.contentBase+n.Offset); err != nil {
		return nil, err
	}
	return buf, nil
}
