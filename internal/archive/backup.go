package archive

import (
	"io"
	"os"

	engerrors "github.com/driftpatch/driftpatch/internal/errors"
)

// EnsureBackup copies archivePath to backupPath unless a backup already
// exists. It reports whether a new backup was written.
func EnsureBackup(archivePath, backupPath string) (bool, error) {
	if _, err := os.Stat(backupPath); err == nil {
		return false, nil
	}
	if err := copyFile(archivePath, backupPath); err != nil {
		return false, engerrors.Wrap("archive", engerrors.ErrArchiveIO, err, "back up %s", archivePath)
	}
	return true, nil
}

// PristineSource returns the container to extract from: the backup when one
// exists, the live container otherwise. When the backup is used and has no
// side-store of its own, a link to the live side-store is created for the
// duration of the extraction; release removes it.
func PristineSource(archivePath, backupPath string) (source string, release func(), err error) {
	release = func() {}
	if backupPath == "" {
		return archivePath, release, nil
	}
	if _, err := os.Stat(backupPath); err != nil {
		return archivePath, release, nil
	}

	link := backupPath + SideStoreSuffix
	live := archivePath + SideStoreSuffix
	if _, err := os.Lstat(link); err == nil {
		return backupPath, release, nil
	}
	if info, err := os.Stat(live); err != nil || !info.IsDir() {
		return backupPath, release, nil
	}
	if err := os.Symlink(live, link); err != nil {
		return "", release, engerrors.Wrap("archive", engerrors.ErrArchiveIO, err, "link side-store for %s", backupPath)
	}
	return backupPath, func() { os.Remove(link) }, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	tmp := dst + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}
