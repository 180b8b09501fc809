package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

func HashContent(content []byte) string {
	hash := sha256.Sum256(content)
	return hex.EncodeToString(hash[:])
}

// SplitPath splits a slash-separated path into its parent directory and
// base name. The root path splits into ("", "").
func SplitPath(path string) (dir, name string) {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return "", path
	}
	return path[:i], path[i+1:]
}

// JoinPath joins two slash-separated path segments, tolerating an empty
// prefix (tree root).
func JoinPath(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

// IsInside reports whether path is dir itself or a descendant of dir.
// The empty dir contains every path.
func IsInside(dir, path string) bool {
	if dir == "" || dir == path {
		return true
	}
	return strings.HasPrefix(path, dir+"/")
}

// IsInsideOrParentOfAny reports whether path is equal to, inside, or an
// ancestor of any of the given dirs. Diff scoping uses this: a change to a
// parent directory of a requested file is still relevant to it.
func IsInsideOrParentOfAny(dirs []string, path string) bool {
	for _, dir := range dirs {
		if IsInside(dir, path) || IsInside(path, dir) {
			return true
		}
	}
	return false
}

// ParentDirectories yields every strict ancestor of path, nearest first,
// ending with the root "".
func ParentDirectories(path string) []string {
	var ret []string
	for path != "" {
		path, _ = SplitPath(path)
		ret = append(ret, path)
	}
	return ret
}
