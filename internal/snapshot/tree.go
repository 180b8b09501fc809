// Package snapshot presents one historical commit of the foreign store as
// a read-only tree with durable identities. Directory expansion is lazy
// and memoized per tree hash.
package snapshot

import (
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"brig/internal/errors"
	"brig/internal/identity"
	"brig/internal/object"
	shared "brig/shared/types"
	"brig/shared/utils"
)

// ChangeScanner resolves which historical revision most recently altered
// the content at path, starting the search at startCommit. Consumed as a
// pure function; implemented elsewhere.
type ChangeScanner func(path, startCommit string) (pathThen, commitID string, err error)

const defaultArenaSize = 4096

// Options configures snapshot construction.
type Options struct {
	Special   func(path string) bool // hides repository-metadata paths
	Scanner   ChangeScanner
	Donors    []identity.Lookup // identity donors, consulted in order
	ArenaSize int               // memoized directory expansions
	Logger    *zap.Logger
}

// Tree is an immutable view of one commit. It owns its identity map; maps
// are never shared across trees or threads.
type Tree struct {
	store    object.Store
	commitID string
	rootTree string // "" for the null revision
	ids      *identity.Map
	special  func(string) bool
	scanner  ChangeScanner
	donors   []identity.Lookup
	arena    *lru.Cache[string, []object.TreeEntry]
	logger   *zap.Logger

	fullyMapped bool
}

// New opens the snapshot for commitID. An empty commitID yields the null
// snapshot (no root tree, no paths).
func New(store object.Store, commitID string, gen identity.Generator, opts Options) (*Tree, error) {
	if opts.Special == nil {
		opts.Special = func(string) bool { return false }
	}
	if opts.ArenaSize == 0 {
		opts.ArenaSize = defaultArenaSize
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	arena, err := lru.New[string, []object.TreeEntry](opts.ArenaSize)
	if err != nil {
		return nil, fmt.Errorf("creating expansion arena: %w", err)
	}
	t := &Tree{
		store:    store,
		commitID: commitID,
		ids:      identity.NewMap(gen),
		special:  opts.Special,
		scanner:  opts.Scanner,
		donors:   opts.Donors,
		arena:    arena,
		logger:   opts.Logger,
	}
	if commitID != "" {
		commit, err := store.GetCommit(commitID)
		if err != nil {
			return nil, err
		}
		t.rootTree = commit.Tree
	}
	return t, nil
}

// CommitID returns the commit this snapshot was opened from.
func (t *Tree) CommitID() string { return t.commitID }

// RootTree returns the root tree hash, "" for the null snapshot.
func (t *Tree) RootTree() string { return t.rootTree }

// expand returns the children of the tree object sitting at dirPath. The
// raw walk is memoized per tree hash; the special filter sees full child
// paths, so it runs per call because one tree can sit at several paths.
func (t *Tree) expand(dirPath, treeHash string) ([]object.TreeEntry, error) {
	if treeHash == "" {
		return nil, nil
	}
	entries, ok := t.arena.Get(treeHash)
	if !ok {
		var err error
		entries, err = t.store.GetTree(treeHash)
		if err != nil {
			return nil, err
		}
		t.logger.Debug("expanded tree",
			zap.String("hash", treeHash), zap.Int("entries", len(entries)))
		t.arena.Add(treeHash, entries)
	}
	children := make([]object.TreeEntry, 0, len(entries))
	for _, e := range entries {
		if t.special(utils.JoinPath(dirPath, e.Name)) {
			continue
		}
		children = append(children, e)
	}
	return children, nil
}

// lookup resolves path to its mode and object hash. The root resolves to
// (ModeDir, root tree hash).
func (t *Tree) lookup(path string) (shared.Mode, string, error) {
	// The root exists in every snapshot, the null one included.
	mode, hash := shared.ModeDir, t.rootTree
	if path == "" {
		return mode, hash, nil
	}
	if t.rootTree == "" {
		return 0, "", errors.NoSuchPath(path)
	}
	walked := ""
	for _, part := range strings.Split(path, "/") {
		if part == "" {
			continue
		}
		if mode.Kind() != shared.KindDirectory {
			return 0, "", errors.NoSuchPath(path)
		}
		children, err := t.expand(walked, hash)
		if err != nil {
			return 0, "", err
		}
		found := false
		for _, child := range children {
			if child.Name == part {
				mode, hash = child.Mode, child.Hash
				found = true
				break
			}
		}
		if !found {
			return 0, "", errors.NoSuchPath(path)
		}
		walked = utils.JoinPath(walked, part)
	}
	return mode, hash, nil
}

// HasPath reports whether path exists in this snapshot.
func (t *Tree) HasPath(path string) bool {
	_, _, err := t.lookup(path)
	return err == nil
}

func (t *Tree) Kind(path string) (shared.Kind, error) {
	mode, _, err := t.lookup(path)
	if err != nil {
		return "", err
	}
	return mode.Kind(), nil
}

func (t *Tree) IsExecutable(path string) (bool, error) {
	mode, _, err := t.lookup(path)
	if err != nil {
		return false, err
	}
	return mode.IsExecutable(), nil
}

// SymlinkTarget returns the link text for a symlink, "" for entries of any
// other kind.
func (t *Tree) SymlinkTarget(path string) (string, error) {
	mode, hash, err := t.lookup(path)
	if err != nil {
		return "", err
	}
	if mode.Kind() != shared.KindSymlink {
		return "", nil
	}
	data, err := t.store.GetBlob(hash)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// FileText returns a file's content, or empty bytes for non-files.
func (t *Tree) FileText(path string) ([]byte, error) {
	mode, hash, err := t.lookup(path)
	if err != nil {
		return nil, err
	}
	if mode.Kind() != shared.KindFile {
		return []byte{}, nil
	}
	return t.store.GetBlob(hash)
}

// FileSize returns a file's size in bytes, 0 for non-files.
func (t *Tree) FileSize(path string) (int64, error) {
	data, err := t.FileText(path)
	if err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

// ReferenceRevision returns the foreign commit id a submodule entry points
// at, "" for other kinds.
func (t *Tree) ReferenceRevision(path string) (string, error) {
	mode, hash, err := t.lookup(path)
	if err != nil {
		return "", err
	}
	if mode.Kind() != shared.KindSubmodule {
		return "", nil
	}
	return hash, nil
}

// LastChangedRevision resolves the revision that most recently altered the
// content at path, not merely the one this snapshot was opened from.
func (t *Tree) LastChangedRevision(path string) (string, error) {
	if !t.HasPath(path) {
		return "", errors.NoSuchPath(path)
	}
	if t.scanner == nil {
		return t.commitID, nil
	}
	_, commitID, err := t.scanner(path, t.commitID)
	if err != nil {
		return "", err
	}
	return commitID, nil
}

// LookupID returns the durable id for path, resolving through donors and
// binding in this tree's own map on first sight.
func (t *Tree) LookupID(path string) (shared.ID, error) {
	if t.special(path) {
		return "", errors.NoSuchPath(path)
	}
	if id, err := t.ids.LookupID(path); err == nil {
		return id, nil
	}
	if !t.HasPath(path) {
		return "", errors.NoSuchPath(path)
	}
	return t.ids.ResolveAndBind(path, nil, t.donors)
}

// LookupPath returns the live path for id in this snapshot. Ids that only
// exist in other snapshots fail with NO_SUCH_ID.
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

// Entry materializes the fully resolved entry at path.
func (t *Tree) Entry(path string) (shared.Entry, error) {
	mode, hash, err := t.lookup(path)
	if err != nil {
		return shared.Entry{}, err
	}
	return t.buildEntry(path, mode, hash)
}

func (t *Tree) buildEntry(path string, mode shared.Mode, hash string) (shared.Entry, error) {
	id, err := t.LookupID(path)
	if err != nil {
		return shared.Entry{}, err
	}
	parent, name := utils.SplitPath(path)
	entry := shared.Entry{
		ID:   id,
		Name: name,
		Kind: mode.Kind(),
	}
	if path != "" {
		parentID, err := t.LookupID(parent)
		if err != nil {
			return shared.Entry{}, err
		}
		entry.ParentID = parentID
	}
	switch entry.Kind {
	case shared.KindFile:
		data, err := t.store.GetBlob(hash)
		if err != nil {
			return shared.Entry{}, err
		}
		entry.Hash = hash
		entry.Size = int64(len(data))
		entry.Executable = mode.IsExecutable()
		rev, err := t.LastChangedRevision(path)
		if err != nil {
			return shared.Entry{}, err
		}
		entry.Revision = rev
	case shared.KindSymlink:
		data, err := t.store.GetBlob(hash)
		if err != nil {
			return shared.Entry{}, err
		}
		entry.Hash = hash
		entry.Target = string(data)
	case shared.KindSubmodule:
		entry.Reference = hash
	}
	return entry, nil
}

// ListEntries walks entries depth-first in lexicographic path order,
// starting at fromPath. The sequence is lazy; calling ListEntries again
// with the same arguments restarts it.
func (t *Tree) ListEntries(fromPath string, recursive, includeRoot bool) (*shared.EntryIter, error) {
	startMode, startHash, err := t.lookup(fromPath)
	if err != nil {
		return nil, err
	}

	type frame struct {
		path     string
		children []object.TreeEntry
		i        int
	}
	var stack []frame
	emittedRoot := false

	push := func(path, treeHash string) error {
		children, err := t.expand(path, treeHash)
		if err != nil {
			return err
		}
		stack = append(stack, frame{path: path, children: children})
		return nil
	}

	return &shared.EntryIter{Fetch: func() (shared.PathEntry, bool, error) {
		if !emittedRoot {
			emittedRoot = true
			if startMode.Kind() == shared.KindDirectory {
				if err := push(fromPath, startHash); err != nil {
					return shared.PathEntry{}, false, err
				}
			}
			if includeRoot {
				entry, err := t.buildEntry(fromPath, startMode, startHash)
				if err != nil {
					return shared.PathEntry{}, false, err
				}
				return shared.PathEntry{Path: fromPath, Entry: entry}, true, nil
			}
		}
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			if top.i >= len(top.children) {
				stack = stack[:len(stack)-1]
				continue
			}
			child := top.children[top.i]
			top.i++
			childPath := utils.JoinPath(top.path, child.Name)
			if recursive && child.Mode.Kind() == shared.KindDirectory {
				if err := push(childPath, child.Hash); err != nil {
					return shared.PathEntry{}, false, err
				}
			}
			entry, err := t.buildEntry(childPath, child.Mode, child.Hash)
			if err != nil {
				return shared.PathEntry{}, false, err
			}
			return shared.PathEntry{Path: childPath, Entry: entry}, true, nil
		}
		return shared.PathEntry{}, false, nil
	}}, nil
}

// AllPaths returns every versioned path in the snapshot, including the
// root "".
func (t *Tree) AllPaths() (map[string]struct{}, error) {
	ret := map[string]struct{}{"": {}}
	if t.rootTree == "" {
		return ret, nil
	}
	todo := []struct {
		path string
		hash string
	}{{"", t.rootTree}}
	for len(todo) > 0 {
		item := todo[len(todo)-1]
		todo = todo[:len(todo)-1]
		children, err := t.expand(item.path, item.hash)
		if err != nil {
			return nil, err
		}
		for _, child := range children {
			childPath := utils.JoinPath(item.path, child.Name)
			ret[childPath] = struct{}{}
			if child.Mode.Kind() == shared.KindDirectory {
				todo = append(todo, struct {
					path string
					hash string
				}{childPath, child.Hash})
			}
		}
	}
	return ret, nil
}

// AllIDs resolves and returns the durable id of every versioned path.
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

var _ shared.Tree = (*Tree)(nil)
