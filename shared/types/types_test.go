package shared

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModeKind(t *testing.T) {
	assert.Equal(t, KindFile, ModeFile.Kind())
	assert.Equal(t, KindFile, ModeExecutable.Kind())
	assert.Equal(t, KindDirectory, ModeDir.Kind())
	assert.Equal(t, KindSymlink, ModeSymlink.Kind())
	assert.Equal(t, KindSubmodule, ModeSubmodule.Kind())
}

func TestIsExecutable(t *testing.T) {
	assert.True(t, ModeExecutable.IsExecutable())
	assert.False(t, ModeFile.IsExecutable())
	// Execute bits on non-files never count.
	assert.False(t, ModeDir.IsExecutable())
	assert.False(t, (ModeSymlink | 0o100).IsExecutable())
}

func TestModeForKind(t *testing.T) {
	for kind, want := range map[Kind]Mode{
		KindFile:      ModeFile,
		KindDirectory: ModeDir,
		KindSymlink:   ModeSymlink,
		KindSubmodule: ModeSubmodule,
	} {
		assert.Equal(t, want, ModeForKind(kind), kind)
	}
}

func TestSliceEntryIter(t *testing.T) {
	entries := []PathEntry{
		{Path: "a", Entry: Entry{Name: "a"}},
		{Path: "b", Entry: Entry{Name: "b"}},
	}
	it := NewSliceEntryIter(entries)
	got, err := it.Collect()
	require.NoError(t, err)
	assert.Equal(t, entries, got)

	// Single-pass: a drained iterator stays empty.
	again, err := it.Collect()
	require.NoError(t, err)
	assert.Empty(t, again)
}
