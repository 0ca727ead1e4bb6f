package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/driftpatch/driftpatch/internal/archive"
	engerrors "github.com/driftpatch/driftpatch/internal/errors"
	"github.com/driftpatch/driftpatch/internal/resolve"
)

// ManifestFormat is the current manifest schema version
const ManifestFormat = 1

// Manifest records which artifact plays which role in one build version.
// External installer steps read it to know what to copy where.
type Manifest struct {
	Format      int                      `json:"format"`
	Version     string                   `json:"version"`
	Fingerprint string                   `json:"fingerprint,omitempty"`
	SessionID   string                   `json:"session_id"`
	Catalog     string                   `json:"catalog,omitempty"`
	Created     time.Time                `json:"created"`
	Verified    bool                     `json:"verified"`
	Roles       map[string]ManifestEntry `json:"roles"`
}

// ManifestEntry is the resolution of one role
type ManifestEntry struct {
	Path string `json:"path"`
	// SideStored entries must be written to the container and to the side
	// store
	SideStored bool `json:"side_stored"`
	// ContainerRoot is the archive for inline entries and the side-store
	// directory for side-stored ones
	ContainerRoot string             `json:"container_root"`
	Confidence    resolve.Confidence `json:"confidence"`
	Method        resolve.Method     `json:"method,omitempty"`
	Symbols       map[string]string  `json:"symbols,omitempty"`
}

// NewManifest builds a manifest from a resolution over tree. Inline
// entries name archivePath as their container root, or the tree's own
// container when archivePath is empty.
func NewManifest(tree *archive.Tree, res *resolve.Result, archivePath, sessionID string, created time.Time) (*Manifest, error) {
	version, err := tree.Version()
	if err != nil {
		return nil, err
	}
	fingerprint, err := tree.Fingerprint()
	if err != nil {
		return nil, err
	}

	m := &Manifest{
		Format:      ManifestFormat,
		Version:     version,
		Fingerprint: fingerprint,
		SessionID:   sessionID,
		Created:     created.UTC(),
		Roles:       make(map[string]ManifestEntry, len(res.Roles)),
	}
	if archivePath == "" {
		archivePath = tree.ArchivePath()
	}
	if archivePath == "" {
		archivePath = tree.Dir()
	}
	for _, id := range res.RoleIDs() {
		art := res.Roles[id]
		entry := ManifestEntry{
			Path:          art.Path,
			SideStored:    art.Storage == archive.SideStored,
			ContainerRoot: archivePath,
			Confidence:    art.Confidence,
			Method:        art.Method,
		}
		if entry.SideStored {
			entry.ContainerRoot = tree.SideStoreDir()
		}
		for symbol, alias := range art.Aliases {
			if alias.Meaning == resolve.MeaningUnresolved {
				continue
			}
			if entry.Symbols == nil {
				entry.Symbols = map[string]string{}
			}
			entry.Symbols[symbol] = alias.Local
		}
		m.Roles[id] = entry
	}
	return m, nil
}

// SideStored returns the paths that need the dual write, sorted
func (m *Manifest) SideStored() []string {
	var out []string
	for _, e := range m.Roles {
		if e.SideStored {
			out = append(out, e.Path)
		}
	}
	sort.Strings(out)
	return out
}

// Validate checks the manifest against the build it is about to be used
// with. A manifest from another version is stale.
func (m *Manifest) Validate(tree *archive.Tree) error {
	version, err := tree.Version()
	if err != nil {
		return err
	}
	if m.Version != version {
		return engerrors.New("manifest", engerrors.ErrManifestStale,
			fmt.Sprintf("manifest is for version %s, build is %s", m.Version, version), engerrors.Fatal).WithDefaultSuggestion()
	}
	if len(m.Roles) == 0 {
		return engerrors.New("manifest", engerrors.ErrManifestInvalid, "manifest binds no roles", engerrors.Fatal)
	}

	collector := engerrors.NewCollector()
	ids := make([]string, 0, len(m.Roles))
	for id := range m.Roles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if _, ok := tree.Lookup(m.Roles[id].Path); !ok {
			collector.Add(engerrors.New("manifest", engerrors.ErrManifestInvalid,
				fmt.Sprintf("path %s is not in the build", m.Roles[id].Path), engerrors.Fatal).
				At(engerrors.Location{Role: id, Artifact: m.Roles[id].Path}))
		}
	}
	return collector.Err()
}

// Result turns the manifest back into a resolution
func (m *Manifest) Result(tree *archive.Tree) *resolve.Result {
	res := resolve.NewResult()
	for id, e := range m.Roles {
		storage := archive.Inline
		if n, ok := tree.Lookup(e.Path); ok {
			storage = n.Storage
		}
		art := &resolve.ResolvedArtifact{
			Role:       id,
			Path:       e.Path,
			Storage:    storage,
			Method:     resolve.MethodManifest,
			Confidence: e.Confidence,
			Aliases:    make(map[string]resolve.Alias, len(e.Symbols)),
		}
		for symbol, local := range e.Symbols {
			art.Aliases[symbol] = resolve.Alias{
				Symbol:     symbol,
				Local:      local,
				Meaning:    resolve.MeaningRole,
				Method:     resolve.MethodManifest,
				Confidence: e.Confidence,
			}
		}
		res.Roles[id] = art
	}
	return res
}

// LoadManifest reads a manifest file
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, engerrors.Wrap("manifest", engerrors.ErrManifestInvalid, err, "read manifest %s", path).WithSeverity(engerrors.Fatal)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, engerrors.Wrap("manifest", engerrors.ErrManifestInvalid, err, "decode manifest %s", path).WithSeverity(engerrors.Fatal)
	}
	if m.Format > ManifestFormat {
		return nil, engerrors.New("manifest", engerrors.ErrManifestInvalid,
			fmt.Sprintf("manifest format %d is newer than supported %d", m.Format, ManifestFormat), engerrors.Fatal)
	}
	return &m, nil
}

// Save writes the manifest atomically
func (m *Manifest) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create temp manifest file: %w", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(m); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close manifest: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save manifest: %w", err)
	}
	return nil
}
