package object

import (
	"sort"

	shared "brig/shared/types"
	"brig/shared/utils"
)

// treeSource is the slice of Store the diff walker needs. Both store
// implementations share this walker, so their traversal order is identical.
type treeSource interface {
	GetTree(hash string) ([]TreeEntry, error)
}

type entryPair struct {
	path     string
	old, new *TreeEntry
}

type diffWalker struct {
	src           treeSource
	wantUnchanged bool
	includeTrees  bool
	stack         []entryPair
	started       bool
	failed        bool
	oldRoot       string
	newRoot       string
}

// newTreeChanges builds the diff iterator between two trees. A "" tree
// hash stands for the empty tree. Kind changes where one side is a
// directory are reported as a single tuple for that path, with the
// disappearing subtree's members reported separately as removals (and
// symmetrically for additions). Exact renames (a removal and an addition
// carrying the same content hash) are paired into single tuples; content
// similarity matching is not attempted.
func newTreeChanges(src treeSource, oldTree, newTree string, wantUnchanged, includeTrees bool) *ChangeIter {
	w := &diffWalker{
		src:           src,
		wantUnchanged: wantUnchanged,
		includeTrees:  includeTrees,
		oldRoot:       oldTree,
		newRoot:       newTree,
	}
	var queue []shared.Change
	drained := false
	i := 0
	return &ChangeIter{next: func() (shared.Change, bool, error) {
		if !drained {
			// Rename pairing needs the whole walk: a removal late in the
			// traversal can pair with an addition seen early.
			for {
				c, ok, err := w.next()
				if err != nil {
					return shared.Change{}, false, err
				}
				if !ok {
					break
				}
				queue = append(queue, c)
			}
			queue = pairExactRenames(queue)
			drained = true
		}
		if i >= len(queue) {
			return shared.Change{}, false, nil
		}
		c := queue[i]
		i++
		return c, true, nil
	}}
}

// pairExactRenames merges removal/addition tuples that carry identical
// blob hashes into single rename tuples, preferring a removal with the
// same mode. The merged tuple keeps the addition's stream position.
func pairExactRenames(changes []shared.Change) []shared.Change {
	removedByHash := make(map[string][]int)
	for i, c := range changes {
		if c.OldPresent && !c.NewPresent && c.OldMode.Kind() != shared.KindDirectory &&
			c.OldMode.Kind() != shared.KindSubmodule {
			removedByHash[c.OldHash] = append(removedByHash[c.OldHash], i)
		}
	}
	consumed := make(map[int]bool)
	for i, c := range changes {
		if !c.NewPresent || c.OldPresent || c.NewMode.Kind() == shared.KindDirectory ||
			c.NewMode.Kind() == shared.KindSubmodule {
			continue
		}
		candidates := removedByHash[c.NewHash]
		match := -1
		for _, j := range candidates {
			if consumed[j] {
				continue
			}
			if changes[j].OldMode == c.NewMode {
				match = j
				break
			}
			if match < 0 {
				match = j
			}
		}
		if match < 0 {
			continue
		}
		consumed[match] = true
		old := changes[match]
		changes[i] = shared.Change{
			OldPath:    old.OldPath,
			NewPath:    c.NewPath,
			OldPresent: true,
			NewPresent: true,
			OldMode:    old.OldMode,
			NewMode:    c.NewMode,
			OldHash:    old.OldHash,
			NewHash:    c.NewHash,
		}
	}
	if len(consumed) == 0 {
		return changes
	}
	ret := changes[:0]
	for i, c := range changes {
		if consumed[i] {
			continue
		}
		ret = append(ret, c)
	}
	return ret
}

func (w *diffWalker) next() (shared.Change, bool, error) {
	if w.failed {
		return shared.Change{}, false, nil
	}
	if !w.started {
		w.started = true
		root := entryPair{path: ""}
		if w.oldRoot != "" {
			root.old = &TreeEntry{Mode: shared.ModeDir, Hash: w.oldRoot}
		}
		if w.newRoot != "" {
			root.new = &TreeEntry{Mode: shared.ModeDir, Hash: w.newRoot}
		}
		if root.old != nil || root.new != nil {
			w.stack = append(w.stack, root)
		}
	}

	for len(w.stack) > 0 {
		pair := w.stack[len(w.stack)-1]
		w.stack = w.stack[:len(w.stack)-1]

		oldIsDir := pair.old != nil && pair.old.Mode.Kind() == shared.KindDirectory
		newIsDir := pair.new != nil && pair.new.Mode.Kind() == shared.KindDirectory

		switch {
		case oldIsDir && newIsDir:
			changed := pair.old.Hash != pair.new.Hash
			if changed || w.wantUnchanged {
				if err := w.pushChildren(pair.path, pair.old.Hash, pair.new.Hash); err != nil {
					w.failed = true
					return shared.Change{}, false, err
				}
			}
			if w.includeTrees && (changed || w.wantUnchanged) {
				return changeFor(pair), true, nil
			}

		case oldIsDir:
			// Directory replaced by a non-directory, or gone entirely.
			// Report the path itself once, descendants as removals.
			if err := w.pushChildren(pair.path, pair.old.Hash, ""); err != nil {
				w.failed = true
				return shared.Change{}, false, err
			}
			if pair.new != nil || w.includeTrees {
				return changeFor(pair), true, nil
			}

		case newIsDir:
			if err := w.pushChildren(pair.path, "", pair.new.Hash); err != nil {
				w.failed = true
				return shared.Change{}, false, err
			}
			if pair.old != nil || w.includeTrees {
				return changeFor(pair), true, nil
			}

		default:
			if pair.old == nil && pair.new == nil {
				continue
			}
			if pair.old == nil || pair.new == nil {
				return changeFor(pair), true, nil
			}
			if pair.old.Hash != pair.new.Hash || pair.old.Mode != pair.new.Mode {
				return changeFor(pair), true, nil
			}
			if w.wantUnchanged {
				return changeFor(pair), true, nil
			}
		}
	}
	return shared.Change{}, false, nil
}

// pushChildren merges the children of one directory pair by name and pushes
// them onto the stack in reverse, so the walk stays depth-first in name
// order. A "" hash on either side stands for no tree there.
func (w *diffWalker) pushChildren(base, oldHash, newHash string) error {
	var oldEntries, newEntries []TreeEntry
	var err error
	if oldHash != "" {
		if oldEntries, err = w.src.GetTree(oldHash); err != nil {
			return err
		}
	}
	if newHash != "" {
		if newEntries, err = w.src.GetTree(newHash); err != nil {
			return err
		}
	}
	pairs := mergeEntries(base, oldEntries, newEntries)
	for i := len(pairs) - 1; i >= 0; i-- {
		w.stack = append(w.stack, pairs[i])
	}
	return nil
}

func mergeEntries(base string, oldEntries, newEntries []TreeEntry) []entryPair {
	byName := make(map[string]*entryPair)
	names := make([]string, 0, len(oldEntries)+len(newEntries))
	for i := range oldEntries {
		e := oldEntries[i]
		byName[e.Name] = &entryPair{path: utils.JoinPath(base, e.Name), old: &e}
		names = append(names, e.Name)
	}
	for i := range newEntries {
		e := newEntries[i]
		if p, ok := byName[e.Name]; ok {
			p.new = &e
			continue
		}
		byName[e.Name] = &entryPair{path: utils.JoinPath(base, e.Name), new: &e}
		names = append(names, e.Name)
	}
	sort.Strings(names)
	pairs := make([]entryPair, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, *byName[name])
	}
	return pairs
}

func changeFor(pair entryPair) shared.Change {
	c := shared.Change{}
	if pair.old != nil {
		c.OldPath = pair.path
		c.OldPresent = true
		c.OldMode = pair.old.Mode
		c.OldHash = pair.old.Hash
	}
	if pair.new != nil {
		c.NewPath = pair.path
		c.NewPresent = true
		c.NewMode = pair.new.Mode
		c.NewHash = pair.new.Hash
	}
	return c
}
