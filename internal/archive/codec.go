package archive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	engerrors "github.com/driftpatch/driftpatch/internal/errors"
)

// Codec packs and unpacks whole containers. PackAll keeps every file named
// in sideStored (slash-separated, relative to src) in the side-store.
type Codec interface {
	ExtractAll(ctx context.Context, archivePath, dest string) error
	PackAll(ctx context.Context, src, archivePath string, sideStored ...string) error
}

// integrityBlockSize is the block size used for per-file digests
const integrityBlockSize = 4 << 20

// NativeCodec reads and writes containers without external tooling
type NativeCodec struct {
	// Unpack lists glob patterns of files stored in the side-store on pack
	Unpack []string
	Logger *zap.Logger
}

// ExtractAll writes every file of the container, side-stored ones included,
// under dest.
func (c *NativeCodec) ExtractAll(ctx context.Context, archivePath, dest string) error {
	t, err := Inspect(archivePath, Options{})
	if err != nil {
		return err
	}
	for _, rel := range t.order {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := t.nodes[rel]
		target := filepath.Join(dest, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return engerrors.Wrap("archive", engerrors.ErrCodecFailed, err, "extract %s", rel)
		}
		if n.IsLink() {
			if err := os.Symlink(n.Link, target); err != nil && !os.IsExist(err) {
				return engerrors.Wrap("archive", engerrors.ErrCodecFailed, err, "extract link %s", rel)
			}
			continue
		}
		data, err := n.Content()
		if err != nil {
			return err
		}
		mode := os.FileMode(0o644)
		if n.Executable {
			mode = 0o755
		}
		if err := os.WriteFile(target, data, mode); err != nil {
			return engerrors.Wrap("archive", engerrors.ErrCodecFailed, err, "extract %s", rel)
		}
	}
	c.logger().Debug("extracted container", zap.String("archive", archivePath), zap.String("dest", dest), zap.Int("entries", len(t.order)))
	return nil
}

// PackAll builds a container at archivePath from the tree under src. Files
// listed in sideStored or matching Unpack go to "<archivePath>.unpacked",
// which is rebuilt from scratch.
func (c *NativeCodec) PackAll(ctx context.Context, src, archivePath string, sideStored ...string) error {
	root := &entry{Files: map[string]*entry{}}
	var content bytes.Buffer
	sideStore := archivePath + SideStoreSuffix
	keep := make(map[string]bool, len(sideStored))
	for _, rel := range sideStored {
		keep[rel] = true
	}
	if err := os.RemoveAll(sideStore); err != nil {
		return engerrors.Wrap("archive", engerrors.ErrCodecFailed, err, "clear %s", sideStore)
	}

	err := filepath.WalkDir(src, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p == src {
			return nil
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")
		parent := root
		for _, part := range parts[:len(parts)-1] {
			parent = parent.Files[part]
		}
		name := parts[len(parts)-1]

		switch {
		case d.Type()&os.ModeSymlink != 0:
			target, err := os.Readlink(p)
			if err != nil {
				return err
			}
			parent.Files[name] = &entry{Link: target}
		case d.IsDir():
			parent.Files[name] = &entry{Files: map[string]*entry{}}
		default:
			data, err := os.ReadFile(p)
			if err != nil {
				return err
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			size := int64(len(data))
			e := &entry{Size: &size, Executable: info.Mode()&0o111 != 0, Integrity: integrityOf(data)}
			if slashRel := filepath.ToSlash(rel); keep[slashRel] || c.unpacked(slashRel) {
				e.Unpacked = true
				dst := filepath.Join(sideStore, rel)
				if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
					return err
				}
				if err := os.WriteFile(dst, data, info.Mode().Perm()); err != nil {
					return err
				}
			} else {
				e.Offset = strconv.FormatInt(int64(content.Len()), 10)
				content.Write(data)
			}
			parent.Files[name] = e
		}
		return nil
	})
	if err != nil {
		return engerrors.Wrap("archive", engerrors.ErrCodecFailed, err, "pack %s", src)
	}

	headerJSON, err := json.Marshal(root)
	if err != nil {
		return engerrors.Wrap("archive", engerrors.ErrCodecFailed, err, "encode header")
	}

	tmp := archivePath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return engerrors.Wrap("archive", engerrors.ErrCodecFailed, err, "create %s", tmp)
	}
	if err := writeContainer(f, headerJSON, content.Bytes()); err != nil {
		f.Close()
		os.Remove(tmp)
		return engerrors.Wrap("archive", engerrors.ErrCodecFailed, err, "write %s", tmp)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return engerrors.Wrap("archive", engerrors.ErrCodecFailed, err, "close %s", tmp)
	}
	if err := os.Rename(tmp, archivePath); err != nil {
		os.Remove(tmp)
		return engerrors.Wrap("archive", engerrors.ErrCodecFailed, err, "rename %s", tmp)
	}
	c.logger().Debug("packed container", zap.String("src", src), zap.String("archive", archivePath),
		zap.Int("content_bytes", content.Len()), zap.Int("side_stored", len(sideStored)))
	return nil
}

func (c *NativeCodec) unpacked(rel string) bool {
	for _, p := range c.Unpack {
		if MatchGlob(p, rel) {
			return true
		}
	}
	return false
}

func (c *NativeCodec) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

// writeContainer writes the pickle-framed header followed by content
func writeContainer(w io.Writer, headerJSON, content []byte) error {
	aligned := (len(headerJSON) + 3) &^ 3
	headerSize := 8 + aligned

	var prefix [16]byte
	binary.LittleEndian.PutUint32(prefix[0:4], 4)
	binary.LittleEndian.PutUint32(prefix[4:8], uint32(headerSize))
	binary.LittleEndian.PutUint32(prefix[8:12], uint32(headerSize-4))
	binary.LittleEndian.PutUint32(prefix[12:16], uint32(len(headerJSON)))

	for _, chunk := range [][]byte{prefix[:], headerJSON, make([]byte, aligned-len(headerJSON)), content} {
		if _, err := w.Write(chunk); err != nil {
			return err
		}
	}
	return nil
}

func integrityOf(data []byte) *Integrity {
	sum := sha256.Sum256(data)
	in := &Integrity{Algorithm: "SHA256", Hash: hex.EncodeToString(sum[:]), BlockSize: integrityBlockSize, Blocks: []string{}}
	for off := 0; off < len(data) || off == 0; off += integrityBlockSize {
		end := min(off+integrityBlockSize, len(data))
		block := sha256.Sum256(data[off:end])
		in.Blocks = append(in.Blocks, hex.EncodeToString(block[:]))
		if end == len(data) {
			break
		}
	}
	return in
}

// NPXCodec delegates to the asar command-line tool through npx
type NPXCodec struct {
	Command string
	Timeout time.Duration
	// Unpack lists glob patterns of files stored in the side-store on pack
	Unpack []string
	Logger *zap.Logger
}

// ExtractAll runs "asar extract"
func (c *NPXCodec) ExtractAll(ctx context.Context, archivePath, dest string) error {
	return c.run(ctx, "extract", archivePath, dest)
}

// PackAll runs "asar pack", passing side-stored files and Unpack globs as
// one --unpack expression
func (c *NPXCodec) PackAll(ctx context.Context, src, archivePath string, sideStored ...string) error {
	args := []string{"pack", src, archivePath}
	if expr := unpackExpr(append(append([]string(nil), c.Unpack...), sideStored...)); expr != "" {
		args = append(args, "--unpack", expr)
	}
	return c.run(ctx, args...)
}

// unpackExpr joins patterns into a single brace expression
func unpackExpr(patterns []string) string {
	switch len(patterns) {
	case 0:
		return ""
	case 1:
		return patterns[0]
	}
	return "{" + strings.Join(patterns, ",") + "}"
}

func (c *NPXCodec) run(ctx context.Context, args ...string) error {
	command := c.Command
	if command == "" {
		command = "npx"
	}
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	argv := append([]string{"--yes", "asar"}, args...)
	cmd := exec.CommandContext(ctx, command, argv...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	if err := cmd.Run(); err != nil {
		return engerrors.Wrap("archive", engerrors.ErrCodecFailed, err, "%s %s: %s", command, strings.Join(argv, " "), strings.TrimSpace(out.String()))
	}
	if c.Logger != nil {
		c.Logger.Debug("codec command finished",
			zap.String("command", fmt.Sprintf("%s %s", command, strings.Join(argv, " "))),
			zap.Duration("elapsed", time.Since(start)))
	}
	return nil
}
