package snapshot

import (
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"brig/internal/errors"
	"brig/internal/identity"
	"brig/internal/object"
	shared "brig/shared/types"
)

func setupTestStore(t *testing.T) object.Store {
	t.Helper()
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := object.NewBadgerStore(db, object.DefaultBadgerOptions(), zap.NewNop())
	require.NoError(t, err)
	return store
}

func blob(t *testing.T, store object.Store, content string) string {
	t.Helper()
	hash, err := store.AddBlob([]byte(content))
	require.NoError(t, err)
	return hash
}

func tree(t *testing.T, store object.Store, entries ...object.TreeEntry) string {
	t.Helper()
	hash, err := store.AddTree(entries)
	require.NoError(t, err)
	return hash
}

func commit(t *testing.T, store object.Store, treeHash string, parents ...string) string {
	t.Helper()
	hash, err := store.AddCommit(&object.Commit{Tree: treeHash, Parents: parents, Message: "test"})
	require.NoError(t, err)
	return hash
}

// fixtureCommit builds a commit containing a little of everything:
//
//	dir/inner    regular file "inner content"
//	dir/sub/     directory with one file "leaf"
//	link         symlink to "dir/inner"
//	run          executable file
//	vendored     submodule reference
//	.brig        a control file, hidden by the special filter
func fixtureCommit(t *testing.T, store object.Store) string {
	t.Helper()
	sub := tree(t, store,
		object.TreeEntry{Name: "leaf", Mode: shared.ModeFile, Hash: blob(t, store, "leaf content")},
	)
	dir := tree(t, store,
		object.TreeEntry{Name: "inner", Mode: shared.ModeFile, Hash: blob(t, store, "inner content")},
		object.TreeEntry{Name: "sub", Mode: shared.ModeDir, Hash: sub},
	)
	root := tree(t, store,
		object.TreeEntry{Name: ".brig", Mode: shared.ModeFile, Hash: blob(t, store, "control")},
		object.TreeEntry{Name: "dir", Mode: shared.ModeDir, Hash: dir},
		object.TreeEntry{Name: "link", Mode: shared.ModeSymlink, Hash: blob(t, store, "dir/inner")},
		object.TreeEntry{Name: "run", Mode: shared.ModeExecutable, Hash: blob(t, store, "#!/bin/sh\n")},
		object.TreeEntry{Name: "vendored", Mode: shared.ModeSubmodule, Hash: "abcdef0123456789"},
	)
	return commit(t, store, root)
}

func openFixture(t *testing.T, store object.Store, commitID string, opts Options) *Tree {
	t.Helper()
	if opts.Special == nil {
		opts.Special = func(path string) bool { return path == ".brig" }
	}
	gen := identity.NewSaltedGenerator([]byte("test-salt"))
	tr, err := New(store, commitID, gen, opts)
	require.NoError(t, err)
	return tr
}

func TestTreeContent(t *testing.T) {
	store := setupTestStore(t)
	tr := openFixture(t, store, fixtureCommit(t, store), Options{})

	t.Run("Kind", func(t *testing.T) {
		for path, want := range map[string]shared.Kind{
			"":          shared.KindDirectory,
			"dir":       shared.KindDirectory,
			"dir/inner": shared.KindFile,
			"link":      shared.KindSymlink,
			"run":       shared.KindFile,
			"vendored":  shared.KindSubmodule,
		} {
			kind, err := tr.Kind(path)
			require.NoError(t, err, path)
			assert.Equal(t, want, kind, path)
		}
	})

	t.Run("Executable", func(t *testing.T) {
		exec, err := tr.IsExecutable("run")
		require.NoError(t, err)
		assert.True(t, exec)
		exec, err = tr.IsExecutable("dir/inner")
		require.NoError(t, err)
		assert.False(t, exec)
	})

	t.Run("FileText", func(t *testing.T) {
		data, err := tr.FileText("dir/sub/leaf")
		require.NoError(t, err)
		assert.Equal(t, "leaf content", string(data))

		size, err := tr.FileSize("dir/inner")
		require.NoError(t, err)
		assert.Equal(t, int64(len("inner content")), size)
	})

	t.Run("SymlinkTarget", func(t *testing.T) {
		target, err := tr.SymlinkTarget("link")
		require.NoError(t, err)
		assert.Equal(t, "dir/inner", target)

		target, err = tr.SymlinkTarget("dir/inner")
		require.NoError(t, err)
		assert.Empty(t, target)
	})

	t.Run("ReferenceRevision", func(t *testing.T) {
		rev, err := tr.ReferenceRevision("vendored")
		require.NoError(t, err)
		assert.Equal(t, "abcdef0123456789", rev)
	})

	t.Run("MissingPath", func(t *testing.T) {
		_, err := tr.Kind("no/such/path")
		assert.True(t, errors.IsNoSuchPath(err))
		_, err = tr.FileText("dir/absent")
		assert.True(t, errors.IsNoSuchPath(err))
	})

	t.Run("SpecialHidden", func(t *testing.T) {
		assert.False(t, tr.HasPath(".brig"))
		_, err := tr.LookupID(".brig")
		assert.True(t, errors.IsNoSuchPath(err))
	})

	t.Run("SpecialFilterSeesFullPaths", func(t *testing.T) {
		// The predicate matches a nested path, not a bare entry name.
		nested := openFixture(t, store, fixtureCommit(t, store), Options{
			Special: func(path string) bool { return path == ".brig" || path == "dir/sub" },
		})
		assert.False(t, nested.HasPath("dir/sub"))
		assert.False(t, nested.HasPath("dir/sub/leaf"))
		assert.True(t, nested.HasPath("dir/inner"))

		paths, err := nested.AllPaths()
		require.NoError(t, err)
		assert.NotContains(t, paths, "dir/sub")
		assert.NotContains(t, paths, "dir/sub/leaf")
		assert.Contains(t, paths, "dir/inner")

		iter, err := nested.ListEntries("dir", true, false)
		require.NoError(t, err)
		entries, err := iter.Collect()
		require.NoError(t, err)
		var listed []string
		for _, pe := range entries {
			listed = append(listed, pe.Path)
		}
		assert.Equal(t, []string{"dir/inner"}, listed)
	})
}

func TestNullSnapshot(t *testing.T) {
	store := setupTestStore(t)
	tr := openFixture(t, store, "", Options{})

	assert.False(t, tr.HasPath("anything"))
	paths, err := tr.AllPaths()
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{"": {}}, paths)

	it, err := tr.ListEntries("", true, false)
	require.NoError(t, err)
	entries, err := it.Collect()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestIdentity(t *testing.T) {
	store := setupTestStore(t)
	commitID := fixtureCommit(t, store)

	t.Run("RootID", func(t *testing.T) {
		tr := openFixture(t, store, commitID, Options{})
		id, err := tr.LookupID("")
		require.NoError(t, err)
		assert.Equal(t, identity.RootID, id)
	})

	t.Run("StableAcrossOpens", func(t *testing.T) {
		a := openFixture(t, store, commitID, Options{})
		b := openFixture(t, store, commitID, Options{})
		for _, path := range []string{"dir", "dir/inner", "link"} {
			idA, err := a.LookupID(path)
			require.NoError(t, err)
			idB, err := b.LookupID(path)
			require.NoError(t, err)
			assert.Equal(t, idA, idB, path)
		}
	})

	t.Run("DonorSuppliesID", func(t *testing.T) {
		donor := openFixture(t, store, commitID, Options{})
		donorID, err := donor.LookupID("dir/inner")
		require.NoError(t, err)

		tr := openFixture(t, store, commitID, Options{Donors: []identity.Lookup{donor}})
		id, err := tr.LookupID("dir/inner")
		require.NoError(t, err)
		assert.Equal(t, donorID, id)
	})

	t.Run("LookupPathRoundTrip", func(t *testing.T) {
		tr := openFixture(t, store, commitID, Options{})
		id, err := tr.LookupID("dir/sub/leaf")
		require.NoError(t, err)
		path, err := tr.LookupPath(id)
		require.NoError(t, err)
		assert.Equal(t, "dir/sub/leaf", path)
	})

	t.Run("LookupPathMaterializes", func(t *testing.T) {
		// The id points at a path never looked up in this tree yet; the
		// tree has to materialize its full map to find it.
		probe := openFixture(t, store, commitID, Options{})
		id, err := probe.LookupID("run")
		require.NoError(t, err)

		tr := openFixture(t, store, commitID, Options{})
		path, err := tr.LookupPath(id)
		require.NoError(t, err)
		assert.Equal(t, "run", path)
	})

	t.Run("UnknownID", func(t *testing.T) {
		tr := openFixture(t, store, commitID, Options{})
		_, err := tr.LookupPath("never-seen")
		assert.True(t, errors.IsNoSuchID(err))
	})
}

func TestEntry(t *testing.T) {
	store := setupTestStore(t)
	tr := openFixture(t, store, fixtureCommit(t, store), Options{})

	t.Run("File", func(t *testing.T) {
		entry, err := tr.Entry("dir/inner")
		require.NoError(t, err)
		assert.Equal(t, "inner", entry.Name)
		assert.Equal(t, shared.KindFile, entry.Kind)
		assert.Equal(t, int64(len("inner content")), entry.Size)
		assert.False(t, entry.Executable)
		assert.Equal(t, tr.CommitID(), entry.Revision)

		dirID, err := tr.LookupID("dir")
		require.NoError(t, err)
		assert.Equal(t, dirID, entry.ParentID)
	})

	t.Run("Symlink", func(t *testing.T) {
		entry, err := tr.Entry("link")
		require.NoError(t, err)
		assert.Equal(t, shared.KindSymlink, entry.Kind)
		assert.Equal(t, "dir/inner", entry.Target)
		assert.Equal(t, identity.RootID, entry.ParentID)
	})

	t.Run("Root", func(t *testing.T) {
		entry, err := tr.Entry("")
		require.NoError(t, err)
		assert.Equal(t, identity.RootID, entry.ID)
		assert.Empty(t, entry.ParentID)
		assert.Equal(t, shared.KindDirectory, entry.Kind)
	})
}

func collectPaths(t *testing.T, it *shared.EntryIter) []string {
	t.Helper()
	entries, err := it.Collect()
	require.NoError(t, err)
	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		paths = append(paths, e.Path)
	}
	return paths
}

func TestListEntries(t *testing.T) {
	store := setupTestStore(t)
	tr := openFixture(t, store, fixtureCommit(t, store), Options{})

	t.Run("RecursivePreorder", func(t *testing.T) {
		it, err := tr.ListEntries("", true, false)
		require.NoError(t, err)
		assert.Equal(t, []string{
			"dir", "dir/inner", "dir/sub", "dir/sub/leaf", "link", "run", "vendored",
		}, collectPaths(t, it))
	})

	t.Run("IncludeRoot", func(t *testing.T) {
		it, err := tr.ListEntries("", true, true)
		require.NoError(t, err)
		paths := collectPaths(t, it)
		require.NotEmpty(t, paths)
		assert.Equal(t, "", paths[0])
	})

	t.Run("NonRecursive", func(t *testing.T) {
		it, err := tr.ListEntries("", false, false)
		require.NoError(t, err)
		assert.Equal(t, []string{"dir", "link", "run", "vendored"}, collectPaths(t, it))
	})

	t.Run("Subdirectory", func(t *testing.T) {
		it, err := tr.ListEntries("dir", true, true)
		require.NoError(t, err)
		assert.Equal(t, []string{"dir", "dir/inner", "dir/sub", "dir/sub/leaf"}, collectPaths(t, it))
	})

	t.Run("FromFile", func(t *testing.T) {
		it, err := tr.ListEntries("run", true, true)
		require.NoError(t, err)
		assert.Equal(t, []string{"run"}, collectPaths(t, it))
	})

	t.Run("FromMissing", func(t *testing.T) {
		_, err := tr.ListEntries("ghost", true, false)
		assert.True(t, errors.IsNoSuchPath(err))
	})
}

func TestAllPaths(t *testing.T) {
	store := setupTestStore(t)
	tr := openFixture(t, store, fixtureCommit(t, store), Options{})

	paths, err := tr.AllPaths()
	require.NoError(t, err)
	for _, want := range []string{"", "dir", "dir/inner", "dir/sub", "dir/sub/leaf", "link", "run", "vendored"} {
		assert.Contains(t, paths, want)
	}
	assert.NotContains(t, paths, ".brig")
	assert.Len(t, paths, 8)
}

func TestLastChangedRevision(t *testing.T) {
	store := setupTestStore(t)
	commitID := fixtureCommit(t, store)

	t.Run("NoScanner", func(t *testing.T) {
		tr := openFixture(t, store, commitID, Options{})
		rev, err := tr.LastChangedRevision("dir/inner")
		require.NoError(t, err)
		assert.Equal(t, commitID, rev)
	})

	t.Run("ScannerConsulted", func(t *testing.T) {
		scanner := func(path, startCommit string) (string, string, error) {
			assert.Equal(t, "dir/inner", path)
			assert.Equal(t, commitID, startCommit)
			return path, "older-commit", nil
		}
		tr := openFixture(t, store, commitID, Options{Scanner: scanner})
		rev, err := tr.LastChangedRevision("dir/inner")
		require.NoError(t, err)
		assert.Equal(t, "older-commit", rev)
	})

	t.Run("MissingPath", func(t *testing.T) {
		tr := openFixture(t, store, commitID, Options{})
		_, err := tr.LastChangedRevision("ghost")
		assert.True(t, errors.IsNoSuchPath(err))
	})

	t.Run("FeedsFileEntries", func(t *testing.T) {
		scanner := func(path, startCommit string) (string, string, error) {
			return path, "older-commit", nil
		}
		tr := openFixture(t, store, commitID, Options{Scanner: scanner})
		entry, err := tr.Entry("dir/inner")
		require.NoError(t, err)
		assert.Equal(t, "older-commit", entry.Revision)
	})
}
