package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitJoin(t *testing.T) {
	dir, name := SplitPath("a/b/c")
	assert.Equal(t, "a/b", dir)
	assert.Equal(t, "c", name)

	dir, name = SplitPath("top")
	assert.Empty(t, dir)
	assert.Equal(t, "top", name)

	dir, name = SplitPath("")
	assert.Empty(t, dir)
	assert.Empty(t, name)

	assert.Equal(t, "a/b", JoinPath("a", "b"))
	assert.Equal(t, "b", JoinPath("", "b"))
}

func TestIsInside(t *testing.T) {
	assert.True(t, IsInside("", "anything/at/all"))
	assert.True(t, IsInside("a", "a"))
	assert.True(t, IsInside("a", "a/b/c"))
	assert.False(t, IsInside("a", "ab"))
	assert.False(t, IsInside("a/b", "a"))
}

func TestIsInsideOrParentOfAny(t *testing.T) {
	dirs := []string{"src/pkg"}
	assert.True(t, IsInsideOrParentOfAny(dirs, "src/pkg/file.go"))
	assert.True(t, IsInsideOrParentOfAny(dirs, "src"))
	assert.True(t, IsInsideOrParentOfAny(dirs, "src/pkg"))
	assert.False(t, IsInsideOrParentOfAny(dirs, "src/other"))
	assert.False(t, IsInsideOrParentOfAny(nil, "src"))
}

func TestParentDirectories(t *testing.T) {
	assert.Equal(t, []string{"a/b", "a", ""}, ParentDirectories("a/b/c"))
	assert.Equal(t, []string{""}, ParentDirectories("top"))
	assert.Nil(t, ParentDirectories(""))
}
