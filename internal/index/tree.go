// Package index implements the working-copy tree: a flat, path-sorted
// staging index with implied directories, durable identities and the
// add/rename/move/unversion mutations.
package index

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"brig/internal/errors"
	"brig/internal/identity"
	"brig/internal/object"
	shared "brig/shared/types"
	"brig/shared/utils"
)

// Flags carries per-row state bits.
type Flags uint16

// FlagConflicted marks a row with two candidate versions pending
// resolution.
const FlagConflicted Flags = 1 << 0

// Row is one index entry: an encoded path mapped to content hash, size,
// mode bits and flags. Directories are never stored as rows.
type Row struct {
	Path  string      `json:"path"`
	Hash  string      `json:"hash"`
	Size  int64       `json:"size"`
	Mode  shared.Mode `json:"mode"`
	Flags Flags       `json:"flags,omitempty"`
}

// Filesystem is the working-directory accessor the index consults for
// kind checks, content reads and physical renames.
type Filesystem interface {
	Exists(path string) bool
	Kind(path string) (shared.Kind, error)
	IsExecutable(path string) (bool, error)
	ReadFile(path string) ([]byte, error)
	ReadLink(path string) (string, error)
	Rename(from, to string) error
}

// Options configures an index tree.
type Options struct {
	Special func(path string) bool
	Donors  []identity.Lookup // identity donors for add/rename, in order
	Logger  *zap.Logger
}

// Tree is the mutable, index-backed working-copy tree. Single-threaded by
// contract: callers serialize mutations and must not mutate while a lazy
// sequence derived from the tree is still being consumed.
type Tree struct {
	store   object.Store
	fs      Filesystem
	ids     *identity.Map
	donors  []identity.Lookup
	special func(string) bool
	logger  *zap.Logger

	rows []Row // sorted by Path

	// versionedDirs is the lazily built implied-directory set; nil means
	// stale. Invalidated or incrementally updated on every mutation.
	versionedDirs map[string]struct{}

	dirty       bool
	fullyMapped bool
}

// Attach builds a tree over existing index state. The rows are copied;
// persistence of the index belongs to the caller.
func Attach(store object.Store, fs Filesystem, gen identity.Generator, rows []Row, opts Options) *Tree {
	if opts.Special == nil {
		opts.Special = func(string) bool { return false }
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	sorted := append([]Row(nil), rows...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })
	return &Tree{
		store:   store,
		fs:      fs,
		ids:     identity.NewMap(gen),
		donors:  opts.Donors,
		special: opts.Special,
		logger:  opts.Logger,
		rows:    sorted,
	}
}

// Rows returns a copy of the current index rows, sorted by path.
func (t *Tree) Rows() []Row {
	return append([]Row(nil), t.rows...)
}

// Dirty reports whether the index changed since attach or ClearDirty.
func (t *Tree) Dirty() bool { return t.dirty }

func (t *Tree) ClearDirty() { t.dirty = false }

// row lookup and prefix ranges over the sorted table

func (t *Tree) find(path string) (int, bool) {
	i := sort.Search(len(t.rows), func(i int) bool { return t.rows[i].Path >= path })
	return i, i < len(t.rows) && t.rows[i].Path == path
}

// prefixRange returns the half-open row range of paths strictly under
// dir ("dir/..."). Rows are path-sorted, so the range is contiguous and
// the lookup stays logarithmic: the upper bound is the first path at or
// past dir+"0", the immediate successor of the dir+"/" prefix.
func (t *Tree) prefixRange(dir string) (int, int) {
	if dir == "" {
		return 0, len(t.rows)
	}
	lo := sort.Search(len(t.rows), func(i int) bool { return t.rows[i].Path >= dir+"/" })
	hi := sort.Search(len(t.rows), func(i int) bool { return t.rows[i].Path >= dir+"0" })
	return lo, hi
}

func (t *Tree) insertRow(row Row) {
	i, ok := t.find(row.Path)
	if ok {
		t.rows[i] = row
	} else {
		t.rows = append(t.rows, Row{})
		copy(t.rows[i+1:], t.rows[i:])
		t.rows[i] = row
	}
	t.dirty = true
	if t.versionedDirs != nil {
		t.ensureVersionedDir(parentOf(row.Path))
	}
}

func (t *Tree) deleteRowAt(i int) {
	t.rows = append(t.rows[:i], t.rows[i+1:]...)
	t.dirty = true
	t.versionedDirs = nil
}

func parentOf(path string) string {
	dir, _ := utils.SplitPath(path)
	return dir
}

// implied directory membership

func (t *Tree) loadDirs() {
	t.versionedDirs = map[string]struct{}{"": {}}
	for _, row := range t.rows {
		t.ensureVersionedDir(parentOf(row.Path))
	}
}

func (t *Tree) ensureVersionedDir(dir string) {
	for dir != "" {
		if _, ok := t.versionedDirs[dir]; ok {
			return
		}
		t.versionedDirs[dir] = struct{}{}
		dir = parentOf(dir)
	}
}

func (t *Tree) hasDir(path string) bool {
	if path == "" {
		return true
	}
	if t.versionedDirs == nil {
		t.loadDirs()
	}
	_, ok := t.versionedDirs[path]
	return ok
}

// IsVersioned reports whether path has an index row or is implied by a
// versioned descendant. Directories are never indexed directly.
func (t *Tree) IsVersioned(path string) bool {
	path = strings.TrimSuffix(path, "/")
	if _, ok := t.find(path); ok {
		return true
	}
	return t.hasDir(path)
}

// normalizePath enforces the index's canonical (NFC) path form.
func normalizePath(path string) (string, error) {
	path = strings.TrimSuffix(path, "/")
	if normalized := norm.NFC.String(path); normalized != path {
		return "", errors.InvalidNormalization(path)
	}
	return path, nil
}

// Add normalizes and stages the given paths with their declared kinds.
// Directories produce no row; their versioned state is implied by
// descendants staged later.
func (t *Tree) Add(paths []string, kinds []shared.Kind) error {
	if len(paths) != len(kinds) {
		return fmt.Errorf("got %d paths but %d kinds", len(paths), len(kinds))
	}
	for i, path := range paths {
		path, err := normalizePath(path)
		if err != nil {
			return err
		}
		kind := kinds[i]
		if t.fs != nil && t.fs.Exists(path) {
			actual, err := t.fs.Kind(path)
			if err != nil {
				return err
			}
			if actual != kind {
				return fmt.Errorf("cannot add %s as %s: working copy has a %s", path, kind, actual)
			}
		}
		if err := t.addEntry(path, kind, 0); err != nil {
			return err
		}
		if _, err := t.ids.ResolveAndBind(path, nil, t.donors); err != nil {
			return err
		}
	}
	return nil
}

// addEntry writes one index row for a non-directory path, hashing working
// content into the store when readable and falling back to the hash
// already on record otherwise.
func (t *Tree) addEntry(path string, kind shared.Kind, flags Flags) error {
	if kind == shared.KindDirectory {
		// Directories are implied, never indexed.
		return nil
	}
	prev, hadPrev := t.lookupRow(path)

	var hash string
	var size int64
	mode := shared.ModeForKind(kind)
	switch kind {
	case shared.KindFile:
		var content []byte
		var readable bool
		if t.fs != nil {
			if data, err := t.fs.ReadFile(path); err == nil {
				content, readable = data, true
			}
		}
		if readable {
			h, err := t.store.AddBlob(content)
			if err != nil {
				return fmt.Errorf("storing content for %s: %w", path, err)
			}
			hash, size = h, int64(len(content))
			if exec, err := t.fs.IsExecutable(path); err == nil && exec {
				mode = shared.ModeExecutable
			}
		} else if hadPrev {
			hash, size, mode = prev.Hash, prev.Size, prev.Mode
		} else {
			h, err := t.store.AddBlob(nil)
			if err != nil {
				return fmt.Errorf("storing content for %s: %w", path, err)
			}
			hash = h
		}
	case shared.KindSymlink:
		var target string
		var readable bool
		if t.fs != nil {
			if tgt, err := t.fs.ReadLink(path); err == nil {
				target, readable = tgt, true
			}
		}
		if !readable && hadPrev {
			hash, size = prev.Hash, prev.Size
			break
		}
		h, err := t.store.AddBlob([]byte(target))
		if err != nil {
			return fmt.Errorf("storing link target for %s: %w", path, err)
		}
		hash, size = h, int64(len(target))
	case shared.KindSubmodule:
		if !hadPrev {
			return fmt.Errorf("cannot determine submodule reference for %s", path)
		}
		hash = prev.Hash
	default:
		return fmt.Errorf("unknown kind %q for %s", kind, path)
	}

	t.insertRow(Row{Path: path, Hash: hash, Size: size, Mode: mode, Flags: flags})
	return nil
}

func (t *Tree) lookupRow(path string) (Row, bool) {
	i, ok := t.find(path)
	if !ok {
		return Row{}, false
	}
	return t.rows[i], true
}

// Unversion removes the exact row and every descendant row for each path.
// A path with zero matching rows fails with NOT_VERSIONED.
func (t *Tree) Unversion(paths []string) error {
	for _, path := range paths {
		path = strings.TrimSuffix(path, "/")
		count := 0
		if i, ok := t.find(path); ok {
			t.ids.Unbind(t.rows[i].Path)
			t.deleteRowAt(i)
			count++
		}
		lo, hi := t.prefixRange(path)
		for i := hi - 1; i >= lo; i-- {
			t.ids.Unbind(t.rows[i].Path)
			t.deleteRowAt(i)
			count++
		}
		if count == 0 {
			return errors.NotVersioned(path)
		}
		// Directory bindings have no rows of their own; drop every binding
		// at or under the path so dead ids stop resolving.
		var bound []string
		for bp := range t.ids.Paths() {
			if utils.IsInside(path, bp) {
				bound = append(bound, bp)
			}
		}
		for _, bp := range bound {
			t.ids.Unbind(bp)
		}
	}
	t.versionedDirs = nil
	return nil
}

// SetConflicted flips the staged-conflict flag on an existing row.
func (t *Tree) SetConflicted(path string, conflicted bool) error {
	i, ok := t.find(path)
	if !ok {
		return errors.NotVersioned(path)
	}
	if conflicted {
		t.rows[i].Flags |= FlagConflicted
	} else {
		t.rows[i].Flags &^= FlagConflicted
	}
	t.dirty = true
	return nil
}

// IsConflicted reports whether the row at path is marked conflicted.
func (t *Tree) IsConflicted(path string) bool {
	i, ok := t.find(path)
	return ok && t.rows[i].Flags&FlagConflicted != 0
}
