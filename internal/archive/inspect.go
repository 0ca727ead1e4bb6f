package archive

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	engerrors "github.com/driftpatch/driftpatch/internal/errors"
)

// SideStoreSuffix names the side-store directory collocated with a container
const SideStoreSuffix = ".unpacked"

// maxHeaderSize bounds the header a container may declare
const maxHeaderSize = 256 << 20

// Options configures inspection
type Options struct {
	// SideStoreDir overrides the default "<archive>.unpacked" location
	SideStoreDir string
}

// entry is one record of the container's JSON header
type entry struct {
	Files      map[string]*entry `json:"files,omitempty"`
	Size       *int64            `json:"size,omitempty"`
	Offset     string            `json:"offset,omitempty"`
	Unpacked   bool              `json:"unpacked,omitempty"`
	Executable bool              `json:"executable,omitempty"`
	Link       string            `json:"link,omitempty"`
	Integrity  *Integrity        `json:"integrity,omitempty"`
}

// Integrity is the per-file digest block of the header
type Integrity struct {
	Algorithm string   `json:"algorithm"`
	Hash      string   `json:"hash"`
	BlockSize int      `json:"blockSize"`
	Blocks    []string `json:"blocks"`
}

// Inspect reads the container header at archivePath and returns its tree.
// Nothing is extracted and nothing is written.
func Inspect(archivePath string, opts Options) (*Tree, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, engerrors.Wrap("archive", engerrors.ErrArchiveIO, err, "open %s", archivePath)
	}
	defer f.Close()

	headerJSON, headerSize, err := readHeader(f)
	if err != nil {
		return nil, err
	}

	var root entry
	if err := json.Unmarshal(headerJSON, &root); err != nil {
		return nil, formatError(err, "header JSON does not parse")
	}
	if root.Files == nil {
		return nil, formatError(nil, "header has no root \"files\" table")
	}

	t := newTree()
	t.archivePath = archivePath
	t.header = headerJSON
	t.contentBase = 8 + int64(headerSize)
	t.sideStoreDir = opts.SideStoreDir
	if t.sideStoreDir == "" {
		t.sideStoreDir = archivePath + SideStoreSuffix
	}

	info, err := f.Stat()
	if err != nil {
		return nil, engerrors.Wrap("archive", engerrors.ErrArchiveIO, err, "stat %s", archivePath)
	}
	if info.Size() < t.contentBase {
		return nil, formatError(nil, fmt.Sprintf("container ends inside its %d-byte header", t.contentBase))
	}

	if err := walkEntries(t, nil, &root, info.Size()-t.contentBase); err != nil {
		return nil, err
	}
	t.seal()

	if len(t.SideStored()) > 0 {
		if info, err := os.Stat(t.sideStoreDir); err != nil || !info.IsDir() {
			return nil, engerrors.New("archive", engerrors.ErrSideStoreMissing,
				fmt.Sprintf("%d entries are side-stored but %s is missing", len(t.SideStored()), t.sideStoreDir),
				engerrors.Fatal).WithDefaultSuggestion()
		}
	}

	return t, nil
}

// readHeader validates the pickle framing and returns the JSON header and
// the declared header size.
func readHeader(r io.ReaderAt) ([]byte, uint32, error) {
	var prefix [16]byte
	if _, err := r.ReadAt(prefix[:], 0); err != nil {
		return nil, 0, formatError(err, "container shorter than its 16-byte prefix")
	}

	sizeField := binary.LittleEndian.Uint32(prefix[0:4])
	headerSize := binary.LittleEndian.Uint32(prefix[4:8])
	payloadSize := binary.LittleEndian.Uint32(prefix[8:12])
	jsonLen := binary.LittleEndian.Uint32(prefix[12:16])

	switch {
	case sizeField != 4:
		return nil, 0, formatError(nil, fmt.Sprintf("size pickle declares %d bytes, want 4", sizeField))
	case headerSize > maxHeaderSize:
		return nil, 0, formatError(nil, fmt.Sprintf("header size %d exceeds limit", headerSize))
	case payloadSize < 4 || payloadSize > maxHeaderSize:
		return nil, 0, formatError(nil, fmt.Sprintf("header pickle payload %d out of range", payloadSize))
	case payloadSize+4 != headerSize:
		return nil, 0, formatError(nil, fmt.Sprintf("header pickle payload %d does not match header size %d", payloadSize, headerSize))
	case jsonLen > payloadSize-4:
		return nil, 0, formatError(nil, fmt.Sprintf("header string length %d overruns payload %d", jsonLen, payloadSize))
	}

	headerJSON := make([]byte, jsonLen)
	if _, err := r.ReadAt(headerJSON, 16); err != nil {
		return nil, 0, formatError(err, "header truncated")
	}
	return headerJSON, headerSize, nil
}

// walkEntries adds the entries under dir to t. Inline entries must lie
// within the contentSize bytes that follow the header.
func walkEntries(t *Tree, prefix []string, dir *entry, contentSize int64) error {
	for name, e := range dir.Files {
		if name == "" || name == "." || name == ".." || strings.Contains(name, "/") {
			return formatError(nil, fmt.Sprintf("invalid entry name %q under %q", name, strings.Join(prefix, "/")))
		}
		p := append(append([]string(nil), prefix...), name)

		switch {
		case e.Files != nil:
			if err := walkEntries(t, p, e, contentSize); err != nil {
				return err
			}
		case e.Link != "":
			t.add(&Node{Path: p, Link: e.Link})
		case e.Size != nil:
			rel := strings.Join(p, "/")
			if *e.Size < 0 {
				return formatError(nil, fmt.Sprintf("entry %s has negative size %d", rel, *e.Size))
			}
			n := &Node{Path: p, Size: *e.Size, Executable: e.Executable}
			if e.Unpacked {
				n.Storage = SideStored
			} else {
				off, err := strconv.ParseInt(e.Offset, 10, 64)
				if err != nil || off < 0 {
					return formatError(err, fmt.Sprintf("entry %s has invalid offset %q", rel, e.Offset))
				}
				if off > contentSize || n.Size > contentSize-off {
					return formatError(nil, fmt.Sprintf("entry %s spans bytes %d+%d beyond the %d-byte content region", rel, off, n.Size, contentSize))
				}
				n.Offset = off
			}
			t.add(n)
		default:
			// empty directory
		}
	}
	return nil
}

func formatError(cause error, msg string) error {
	e := engerrors.New("archive", engerrors.ErrArchiveFormat, msg, engerrors.Fatal)
	e.Cause = cause
	return e
}

// InspectDir builds a tree over an already-extracted build. A file counts as
// side-stored when sideStoreDir holds the same relative path.
func InspectDir(dir, sideStoreDir string) (*Tree, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, engerrors.Wrap("archive", engerrors.ErrArchiveIO, err, "extracted tree %s", dir)
	}
	if !info.IsDir() {
		return nil, engerrors.New("archive", engerrors.ErrArchiveIO, fmt.Sprintf("%s is not a directory", dir), engerrors.Error)
	}

	t := newTree()
	t.dir = dir
	t.sideStoreDir = sideStoreDir

	err = filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == dir {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")

		if d.Type()&os.ModeSymlink != 0 {
			target, err := os.Readlink(p)
			if err != nil {
				return err
			}
			t.add(&Node{Path: parts, Link: target})
			return nil
		}
		if d.IsDir() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		n := &Node{Path: parts, Size: fi.Size(), Executable: fi.Mode()&0o111 != 0}
		if sideStoreDir != "" {
			if _, err := os.Stat(filepath.Join(sideStoreDir, rel)); err == nil {
				n.Storage = SideStored
			}
		}
		t.add(n)
		return nil
	})
	if err != nil {
		return nil, engerrors.Wrap("archive", engerrors.ErrArchiveIO, err, "walk %s", dir)
	}
	t.seal()
	return t, nil
}
