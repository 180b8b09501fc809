package repo

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"brig/internal/compare"
	"brig/internal/index"
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
	hash, err := store.AddCommit(&object.Commit{Tree: treeHash, Parents: parents})
	require.NoError(t, err)
	return hash
}

func file(t *testing.T, store object.Store, name, content string) object.TreeEntry {
	return object.TreeEntry{Name: name, Mode: shared.ModeFile, Hash: blob(t, store, content)}
}

func TestIsSpecial(t *testing.T) {
	assert.True(t, IsSpecial(".brig"))
	assert.True(t, IsSpecial(".brig/salt"))
	assert.True(t, IsSpecial("nested/.git/config"))
	assert.False(t, IsSpecial("src/main.go"))
	assert.False(t, IsSpecial(".brigx"))
}

func TestInitAndOpen(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, Init(dir))
	assert.FileExists(t, filepath.Join(dir, ControlDirName, "salt"))

	t.Run("DoubleInitRefused", func(t *testing.T) {
		assert.Error(t, Init(dir))
	})

	t.Run("FindRoot", func(t *testing.T) {
		nested := filepath.Join(dir, "deep", "inside")
		require.NoError(t, os.MkdirAll(nested, 0755))
		root, err := FindRoot(nested)
		require.NoError(t, err)
		resolved, err := filepath.EvalSymlinks(dir)
		require.NoError(t, err)
		found, err := filepath.EvalSymlinks(root)
		require.NoError(t, err)
		assert.Equal(t, resolved, found)
	})

	t.Run("FindRootOutside", func(t *testing.T) {
		_, err := FindRoot(t.TempDir())
		assert.Error(t, err)
	})

	t.Run("OpenReadsSalt", func(t *testing.T) {
		r, err := Open(dir, nil, nil)
		require.NoError(t, err)
		defer r.Close()
		assert.NotEmpty(t, r.Salt)
		assert.NotNil(t, r.Store)
	})
}

func TestPersistence(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Init(dir))
	r, err := Open(dir, nil, nil)
	require.NoError(t, err)
	defer r.Close()

	t.Run("IndexRoundTrip", func(t *testing.T) {
		rows, err := r.LoadIndex()
		require.NoError(t, err)
		assert.Nil(t, rows)

		want := []index.Row{
			{Path: "a/x", Hash: "h1", Size: 3, Mode: shared.ModeFile},
			{Path: "run", Hash: "h2", Size: 9, Mode: shared.ModeExecutable, Flags: index.FlagConflicted},
		}
		require.NoError(t, r.SaveIndex(want))
		got, err := r.LoadIndex()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("HeadRoundTrip", func(t *testing.T) {
		head, err := r.Head()
		require.NoError(t, err)
		assert.Empty(t, head)

		require.NoError(t, r.SetHead("some-commit"))
		head, err = r.Head()
		require.NoError(t, err)
		assert.Equal(t, "some-commit", head)
	})
}

func TestFindLastChange(t *testing.T) {
	store := setupTestStore(t)
	r := NewInMemory(store, []byte("salt"), "", zap.NewNop())

	// c1 introduces f and stable, c2 rewrites f, c3 changes nothing of f.
	t1 := tree(t, store, file(t, store, "f", "v1"), file(t, store, "stable", "s"))
	c1 := commit(t, store, t1)
	t2 := tree(t, store, file(t, store, "f", "v2"), file(t, store, "stable", "s"))
	c2 := commit(t, store, t2, c1)
	t3 := tree(t, store, file(t, store, "f", "v2"), file(t, store, "stable", "s"), file(t, store, "late", "l"))
	c3 := commit(t, store, t3, c2)

	t.Run("ChangedMidHistory", func(t *testing.T) {
		path, rev, err := r.FindLastChange("f", c3)
		require.NoError(t, err)
		assert.Equal(t, "f", path)
		assert.Equal(t, c2, rev)
	})

	t.Run("UnchangedSinceRoot", func(t *testing.T) {
		_, rev, err := r.FindLastChange("stable", c3)
		require.NoError(t, err)
		assert.Equal(t, c1, rev)
	})

	t.Run("AddedAtTip", func(t *testing.T) {
		_, rev, err := r.FindLastChange("late", c3)
		require.NoError(t, err)
		assert.Equal(t, c3, rev)
	})

	t.Run("NeverExisted", func(t *testing.T) {
		_, _, err := r.FindLastChange("ghost", c3)
		assert.Error(t, err)
	})
}

func TestSnapshotAndCompare(t *testing.T) {
	store := setupTestStore(t)
	r := NewInMemory(store, []byte("e2e-salt"), "", zap.NewNop())

	t1 := tree(t, store, file(t, store, "keep", "k"), file(t, store, "old", "content"))
	c1 := commit(t, store, t1)
	t2 := tree(t, store, file(t, store, "keep", "k"), file(t, store, "renamed", "content"))
	c2 := commit(t, store, t2, c1)

	snapOld, err := r.OpenSnapshot(c1)
	require.NoError(t, err)
	snapNew, err := r.OpenSnapshot(c2, snapOld)
	require.NoError(t, err)

	t.Run("Delta", func(t *testing.T) {
		delta, err := r.Compare(snapOld, snapNew, compare.Options{})
		require.NoError(t, err)
		require.Len(t, delta.Renamed, 1)
		assert.Equal(t, "old", delta.Renamed[0].OldPath)
		assert.Equal(t, "renamed", delta.Renamed[0].NewPath)
		assert.Empty(t, delta.Added)
		assert.Empty(t, delta.Removed)
	})

	t.Run("DonorKeepsIdentity", func(t *testing.T) {
		oldID, err := snapOld.LookupID("keep")
		require.NoError(t, err)
		newID, err := snapNew.LookupID("keep")
		require.NoError(t, err)
		assert.Equal(t, oldID, newID)
	})

	t.Run("LastChangedRevisionWired", func(t *testing.T) {
		rev, err := snapNew.LastChangedRevision("keep")
		require.NoError(t, err)
		assert.Equal(t, c1, rev)

		rev, err = snapNew.LastChangedRevision("renamed")
		require.NoError(t, err)
		assert.Equal(t, c2, rev)
	})

	t.Run("AttachIndexBare", func(t *testing.T) {
		idx := r.AttachIndex([]index.Row{
			{Path: "keep", Hash: blob(t, store, "k"), Size: 1, Mode: shared.ModeFile},
		}, snapNew)
		id, err := idx.LookupID("keep")
		require.NoError(t, err)

		snapID, err := snapNew.LookupID("keep")
		require.NoError(t, err)
		assert.Equal(t, snapID, id)
	})
}
