// Package workspace gives the index tree access to a live working
// directory: kind checks, content reads and physical renames, plus a
// change watcher.
package workspace

import (
	"os"
	"path/filepath"

	"brig/internal/errors"
	shared "brig/shared/types"
)

// Dir exposes one working directory through slash-separated, root-relative
// paths.
type Dir struct {
	root string
}

func NewDir(root string) *Dir {
	return &Dir{root: root}
}

func (d *Dir) Root() string { return d.root }

func (d *Dir) abs(path string) string {
	return filepath.Join(d.root, filepath.FromSlash(path))
}

func (d *Dir) Exists(path string) bool {
	_, err := os.Lstat(d.abs(path))
	return err == nil
}

func (d *Dir) Kind(path string) (shared.Kind, error) {
	info, err := os.Lstat(d.abs(path))
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.NoSuchPath(path)
		}
		return "", err
	}
	switch {
	case info.Mode()&os.ModeSymlink != 0:
		return shared.KindSymlink, nil
	case info.IsDir():
		return shared.KindDirectory, nil
	default:
		return shared.KindFile, nil
	}
}

func (d *Dir) IsExecutable(path string) (bool, error) {
	info, err := os.Lstat(d.abs(path))
	if err != nil {
		if os.IsNotExist(err) {
			return false, errors.NoSuchPath(path)
		}
		return false, err
	}
	return info.Mode().IsRegular() && info.Mode()&0o100 != 0, nil
}

func (d *Dir) ReadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(d.abs(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NoSuchPath(path)
		}
		return nil, err
	}
	return data, nil
}

func (d *Dir) ReadLink(path string) (string, error) {
	target, err := os.Readlink(d.abs(path))
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.NoSuchPath(path)
		}
		return "", err
	}
	return target, nil
}

func (d *Dir) Rename(from, to string) error {
	if err := os.MkdirAll(filepath.Dir(d.abs(to)), 0755); err != nil {
		return err
	}
	return os.Rename(d.abs(from), d.abs(to))
}
