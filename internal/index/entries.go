package index

import (
	"sort"
	"strings"

	"brig/internal/errors"
	shared "brig/shared/types"
	"brig/shared/utils"
)

// Read-only tree surface over the index, so the comparator and callers can
// treat the working copy like any other tree.

func (t *Tree) Kind(path string) (shared.Kind, error) {
	path = strings.TrimSuffix(path, "/")
	if i, ok := t.find(path); ok {
		return t.rows[i].Mode.Kind(), nil
	}
	if t.hasDir(path) {
		return shared.KindDirectory, nil
	}
	return "", errors.NoSuchPath(path)
}

func (t *Tree) IsExecutable(path string) (bool, error) {
	if i, ok := t.find(path); ok {
		return t.rows[i].Mode.IsExecutable(), nil
	}
	if t.hasDir(path) {
		return false, nil
	}
	return false, errors.NoSuchPath(path)
}

// SymlinkTarget reads the link text from the working copy when possible,
// falling back to the content hash on record.
func (t *Tree) SymlinkTarget(path string) (string, error) {
	i, ok := t.find(path)
	if !ok {
		if t.hasDir(path) {
			return "", nil
		}
		return "", errors.NoSuchPath(path)
	}
	row := t.rows[i]
	if row.Mode.Kind() != shared.KindSymlink {
		return "", nil
	}
	if t.fs != nil {
		if target, err := t.fs.ReadLink(path); err == nil {
			return target, nil
		}
	}
	data, err := t.store.GetBlob(row.Hash)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (t *Tree) LookupID(path string) (shared.ID, error) {
	path = strings.TrimSuffix(path, "/")
	if !t.IsVersioned(path) {
		// A binding can outlive the rows that implied it; prune it so the
		// dead path stops resolving.
		t.ids.Unbind(path)
		return "", errors.NoSuchPath(path)
	}
	if id, err := t.ids.LookupID(path); err == nil {
		return id, nil
	}
	return t.ids.ResolveAndBind(path, nil, t.donors)
}

func (t *Tree) LookupPath(id shared.ID) (string, error) {
	if path, err := t.ids.LookupPath(id); err == nil {
		return path, nil
	}
	if !t.fullyMapped {
		if _, err := t.AllIDs(); err != nil {
			return "", err
		}
		if path, err := t.ids.LookupPath(id); err == nil {
			return path, nil
		}
	}
	return "", errors.NoSuchID(string(id))
}

// AllPaths returns the root, every indexed row and every implied parent
// directory.
func (t *Tree) AllPaths() (map[string]struct{}, error) {
	ret := map[string]struct{}{"": {}}
	for _, row := range t.rows {
		ret[row.Path] = struct{}{}
		for _, dir := range utils.ParentDirectories(row.Path) {
			ret[dir] = struct{}{}
		}
	}
	return ret, nil
}

func (t *Tree) AllIDs() (map[shared.ID]struct{}, error) {
	paths, err := t.AllPaths()
	if err != nil {
		return nil, err
	}
	ret := make(map[shared.ID]struct{}, len(paths))
	for path := range paths {
		id, err := t.LookupID(path)
		if err != nil {
			return nil, err
		}
		ret[id] = struct{}{}
	}
	t.fullyMapped = true
	return ret, nil
}

// Entry materializes the resolved entry at path.
func (t *Tree) Entry(path string) (shared.Entry, error) {
	path = strings.TrimSuffix(path, "/")
	if i, ok := t.find(path); ok {
		return t.rowEntry(t.rows[i])
	}
	if t.hasDir(path) {
		return t.dirEntry(path)
	}
	return shared.Entry{}, errors.NoSuchPath(path)
}

func (t *Tree) dirEntry(path string) (shared.Entry, error) {
	id, err := t.LookupID(path)
	if err != nil {
		return shared.Entry{}, err
	}
	parent, name := utils.SplitPath(path)
	entry := shared.Entry{ID: id, Name: name, Kind: shared.KindDirectory}
	if path != "" {
		parentID, err := t.LookupID(parent)
		if err != nil {
			return shared.Entry{}, err
		}
		entry.ParentID = parentID
	}
	return entry, nil
}

// rowEntry resolves one index row to an entry, reading working data when
// available and falling back to the content hash already on record. The
// revision marker stays empty: working content is not committed anywhere
// yet, so no revision has last changed it.
func (t *Tree) rowEntry(row Row) (shared.Entry, error) {
	id, err := t.LookupID(row.Path)
	if err != nil {
		return shared.Entry{}, err
	}
	parent, name := utils.SplitPath(row.Path)
	parentID, err := t.LookupID(parent)
	if err != nil {
		return shared.Entry{}, err
	}
	entry := shared.Entry{
		ID:       id,
		Name:     name,
		ParentID: parentID,
		Kind:     row.Mode.Kind(),
		Hash:     row.Hash,
	}
	switch entry.Kind {
	case shared.KindFile:
		entry.Executable = row.Mode.IsExecutable()
		var data []byte
		var readable bool
		if t.fs != nil {
			if d, err := t.fs.ReadFile(row.Path); err == nil {
				data, readable = d, true
			}
		}
		if readable {
			entry.Size = int64(len(data))
			entry.Hash = utils.HashContent(data)
		} else {
			entry.Size = row.Size
		}
	case shared.KindSymlink:
		target, err := t.SymlinkTarget(row.Path)
		if err != nil {
			return shared.Entry{}, err
		}
		entry.Target = target
	case shared.KindSubmodule:
		entry.Reference = row.Hash
	}
	return entry, nil
}

// IterEntries yields the root, every indexed row and every implied parent
// directory as resolved entries, sorted by path. With specificPaths set,
// only exact matches (plus versioned directories named explicitly) are
// yielded.
func (t *Tree) IterEntries(specificPaths []string) (*shared.EntryIter, error) {
	var specific map[string]struct{}
	if specificPaths != nil {
		specific = make(map[string]struct{}, len(specificPaths))
		for _, p := range specificPaths {
			specific[strings.TrimSuffix(p, "/")] = struct{}{}
		}
	}

	entries := make(map[string]shared.Entry)
	include := func(path string) bool {
		if specific == nil {
			return true
		}
		_, ok := specific[path]
		return ok
	}

	if include("") {
		root, err := t.dirEntry("")
		if err != nil {
			return nil, err
		}
		entries[""] = root
	}
	for _, row := range t.rows {
		if t.special(row.Path) {
			continue
		}
		if !include(row.Path) {
			continue
		}
		entry, err := t.rowEntry(row)
		if err != nil {
			return nil, err
		}
		entries[row.Path] = entry
		if specific == nil {
			for _, dir := range utils.ParentDirectories(row.Path) {
				if dir == "" {
					continue
				}
				if _, ok := entries[dir]; ok {
					continue
				}
				dirEntry, err := t.dirEntry(dir)
				if err != nil {
					return nil, err
				}
				entries[dir] = dirEntry
			}
		}
	}
	// Directories named explicitly are still reported if versioned.
	for path := range specific {
		if _, ok := entries[path]; ok {
			continue
		}
		if path != "" && t.IsVersioned(path) {
			dirEntry, err := t.dirEntry(path)
			if err != nil {
				return nil, err
			}
			entries[path] = dirEntry
		}
	}

	paths := make([]string, 0, len(entries))
	for path := range entries {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	ret := make([]shared.PathEntry, 0, len(paths))
	for _, path := range paths {
		ret = append(ret, shared.PathEntry{Path: path, Entry: entries[path]})
	}
	return shared.NewSliceEntryIter(ret), nil
}

// ListEntries implements the shared tree surface on top of IterEntries,
// scoped to fromPath.
func (t *Tree) ListEntries(fromPath string, recursive, includeRoot bool) (*shared.EntryIter, error) {
	fromPath = strings.TrimSuffix(fromPath, "/")
	if !t.IsVersioned(fromPath) {
		return nil, errors.NoSuchPath(fromPath)
	}
	all, err := t.IterEntries(nil)
	if err != nil {
		return nil, err
	}
	entries, err := all.Collect()
	if err != nil {
		return nil, err
	}
	var ret []shared.PathEntry
	for _, pe := range entries {
		if pe.Path == fromPath {
			if includeRoot {
				ret = append(ret, pe)
			}
			continue
		}
		if !utils.IsInside(fromPath, pe.Path) {
			continue
		}
		if !recursive {
			if parentOf(pe.Path) != fromPath {
				continue
			}
		}
		ret = append(ret, pe)
	}
	return shared.NewSliceEntryIter(ret), nil
}

var _ shared.Tree = (*Tree)(nil)
