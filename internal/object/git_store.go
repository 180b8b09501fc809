package object

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	gitobject "github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage"

	shared "brig/shared/types"
)

// GitStore adapts an existing git repository as the foreign object store,
// so snapshots and diffs can be served straight from real git history.
type GitStore struct {
	storer storage.Storer
}

// OpenGitStore opens the git repository at path and wraps its object
// database.
func OpenGitStore(path string) (*GitStore, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return nil, fmt.Errorf("opening git repository: %w", err)
	}
	return &GitStore{storer: repo.Storer}, nil
}

// NewGitStore wraps an already-open storer, e.g. an in-memory one in tests.
func NewGitStore(storer storage.Storer) *GitStore {
	return &GitStore{storer: storer}
}

func (s *GitStore) GetBlob(hash string) ([]byte, error) {
	blob, err := gitobject.GetBlob(s.storer, plumbing.NewHash(hash))
	if err != nil {
		if err == plumbing.ErrObjectNotFound {
			return nil, ErrObjectNotFound
		}
		return nil, err
	}
	r, err := blob.Reader()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (s *GitStore) AddBlob(data []byte) (string, error) {
	obj := s.storer.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	w, err := obj.Writer()
	if err != nil {
		return "", err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	h, err := s.storer.SetEncodedObject(obj)
	if err != nil {
		return "", err
	}
	return h.String(), nil
}

func (s *GitStore) GetTree(hash string) ([]TreeEntry, error) {
	tree, err := gitobject.GetTree(s.storer, plumbing.NewHash(hash))
	if err != nil {
		if err == plumbing.ErrObjectNotFound {
			return nil, ErrObjectNotFound
		}
		return nil, err
	}
	entries := make([]TreeEntry, 0, len(tree.Entries))
	for _, e := range tree.Entries {
		entries = append(entries, TreeEntry{
			Name: e.Name,
			Mode: shared.Mode(e.Mode),
			Hash: e.Hash.String(),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (s *GitStore) AddTree(entries []TreeEntry) (string, error) {
	tree := &gitobject.Tree{}
	for _, e := range entries {
		tree.Entries = append(tree.Entries, gitobject.TreeEntry{
			Name: e.Name,
			Mode: filemode.FileMode(e.Mode),
			Hash: plumbing.NewHash(e.Hash),
		})
	}
	sort.Slice(tree.Entries, func(i, j int) bool { return tree.Entries[i].Name < tree.Entries[j].Name })
	obj := s.storer.NewEncodedObject()
	if err := tree.Encode(obj); err != nil {
		return "", err
	}
	h, err := s.storer.SetEncodedObject(obj)
	if err != nil {
		return "", err
	}
	return h.String(), nil
}

func (s *GitStore) GetCommit(hash string) (*Commit, error) {
	commit, err := gitobject.GetCommit(s.storer, plumbing.NewHash(hash))
	if err != nil {
		if err == plumbing.ErrObjectNotFound {
			return nil, ErrObjectNotFound
		}
		return nil, err
	}
	parents := make([]string, 0, len(commit.ParentHashes))
	for _, p := range commit.ParentHashes {
		parents = append(parents, p.String())
	}
	return &Commit{
		Tree:    commit.TreeHash.String(),
		Parents: parents,
		Author:  commit.Author.String(),
		Message: commit.Message,
		Time:    commit.Author.When,
	}, nil
}

func (s *GitStore) AddCommit(c *Commit) (string, error) {
	when := c.Time
	if when.IsZero() {
		when = time.Now()
	}
	sig := gitobject.Signature{Name: c.Author, When: when}
	commit := &gitobject.Commit{
		TreeHash:  plumbing.NewHash(c.Tree),
		Author:    sig,
		Committer: sig,
		Message:   c.Message,
	}
	for _, p := range c.Parents {
		commit.ParentHashes = append(commit.ParentHashes, plumbing.NewHash(p))
	}
	obj := s.storer.NewEncodedObject()
	if err := commit.Encode(obj); err != nil {
		return "", err
	}
	h, err := s.storer.SetEncodedObject(obj)
	if err != nil {
		return "", err
	}
	return h.String(), nil
}

func (s *GitStore) Contains(hash string) bool {
	return s.storer.HasEncodedObject(plumbing.NewHash(hash)) == nil
}

func (s *GitStore) TreeChanges(oldTree, newTree string, wantUnchanged, includeTrees bool) *ChangeIter {
	return newTreeChanges(s, oldTree, newTree, wantUnchanged, includeTrees)
}

var _ Store = (*GitStore)(nil)
