// Package object is the foreign content-addressed store the bridge sits on
// top of: blobs, trees and commits addressed by hash, with no notion of
// durable file identity. Two implementations are provided, one badger
// backed and one adapting an existing git repository.
package object

import (
	"errors"
	"time"

	shared "brig/shared/types"
)

var ErrObjectNotFound = errors.New("object not found")

// TreeEntry is one child of a tree object: a name, git-shaped mode bits
// and the hash of the referenced object.
type TreeEntry struct {
	Name string      `json:"name"`
	Mode shared.Mode `json:"mode"`
	Hash string      `json:"hash"`
}

// Commit is the minimal commit shape the bridge needs: the root tree, the
// parent chain and enough metadata to be displayed.
type Commit struct {
	Tree    string    `json:"tree"`
	Parents []string  `json:"parents,omitempty"`
	Author  string    `json:"author,omitempty"`
	Message string    `json:"message,omitempty"`
	Time    time.Time `json:"time,omitempty"`
}

// Store is the object store contract consumed by the bridge. Hashes are
// the store's native content addresses and are treated as opaque strings.
type Store interface {
	GetBlob(hash string) ([]byte, error)
	GetTree(hash string) ([]TreeEntry, error)
	GetCommit(hash string) (*Commit, error)
	Contains(hash string) bool
	AddBlob(data []byte) (string, error)
	AddTree(entries []TreeEntry) (string, error)
	AddCommit(c *Commit) (string, error)

	// TreeChanges walks the native diff between two trees, identified by
	// their tree hashes ("" means the empty tree). The iterator is lazy,
	// single-pass and ordered by the store's own deterministic traversal.
	TreeChanges(oldTree, newTree string, wantUnchanged, includeTrees bool) *ChangeIter
}

// ChangeIter is a single-pass iterator over change tuples.
type ChangeIter struct {
	next func() (shared.Change, bool, error)
}

// Next returns the next change tuple. ok is false when the stream is
// exhausted or an error occurred; err is set in the latter case.
func (it *ChangeIter) Next() (c shared.Change, ok bool, err error) {
	return it.next()
}

// Collect drains the iterator. Mostly a test convenience.
func (it *ChangeIter) Collect() ([]shared.Change, error) {
	var ret []shared.Change
	for {
		c, ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return ret, nil
		}
		ret = append(ret, c)
	}
}
