package index

import (
	"sort"
	"strings"

	"go.uber.org/zap"

	"brig/internal/errors"
	shared "brig/shared/types"
	"brig/shared/utils"
)

// RenameOne relocates one versioned path. With after set, the working copy
// has already been moved and only the index is updated; otherwise the
// working file is moved too. Preconditions are validated up front and a
// violation fails with RENAME_FAILED naming the offending side.
func (t *Tree) RenameOne(from, to string, after bool) error {
	from = strings.TrimSuffix(from, "/")
	if from == "" {
		return errors.RenameFailed(from, to, errors.RenameSourceProblem, "cannot rename the tree root")
	}
	to, err := normalizePath(to)
	if err != nil {
		return err
	}

	if !after {
		// Perhaps it's already moved?
		after = !t.exists(from) && t.exists(to) && !t.IsVersioned(to)
	}

	var kind shared.Kind
	if after {
		if !t.exists(to) {
			return errors.RenameFailed(from, to, errors.RenameDestinationProblem, "destination does not exist")
		}
		if t.IsVersioned(to) {
			return errors.RenameFailed(from, to, errors.RenameDestinationProblem, "destination is already versioned")
		}
		kind, err = t.fs.Kind(to)
		if err != nil {
			return err
		}
	} else {
		if t.IsVersioned(to) {
			return errors.RenameFailed(from, to, errors.RenameDestinationProblem, "destination is already versioned")
		}
		if !t.exists(from) {
			return errors.RenameFailed(from, to, errors.RenameSourceProblem, "source does not exist")
		}
		kind, err = t.fs.Kind(from)
		if err != nil {
			return err
		}
		if !t.IsVersioned(from) && kind != shared.KindDirectory {
			return errors.RenameFailed(from, to, errors.RenameSourceProblem, "source is not versioned")
		}
		if t.exists(to) {
			return errors.RenameFailed(from, to, errors.RenameDestinationProblem, "destination already exists")
		}
	}

	if !after && kind != shared.KindDirectory {
		if _, ok := t.find(from); !ok {
			return errors.RenameFailed(from, to, errors.RenameSourceProblem, "source is not versioned")
		}
	}

	if !after {
		if err := t.fs.Rename(from, to); err != nil {
			return errors.RenameFailed(from, to, errors.RenameSourceProblem, err.Error())
		}
	}

	if kind != shared.KindDirectory {
		i, ok := t.find(from)
		if !ok {
			return errors.RenameFailed(from, to, errors.RenameSourceProblem, "source is not versioned")
		}
		t.relocateRow(i, to)
	} else {
		lo, hi := t.prefixRange(from)
		relocated := make([]struct{ from, to string }, 0, hi-lo)
		for i := lo; i < hi; i++ {
			relocated = append(relocated, struct{ from, to string }{
				t.rows[i].Path,
				utils.JoinPath(to, strings.TrimPrefix(t.rows[i].Path, from+"/")),
			})
		}
		for _, r := range relocated {
			i, ok := t.find(r.from)
			if !ok {
				continue
			}
			t.relocateRow(i, r.to)
		}
		// Implied subdirectories carry bindings without rows; relocate
		// those too so identity survives for every path under the prefix.
		var bound []string
		for path := range t.ids.Paths() {
			if utils.IsInside(from, path) {
				bound = append(bound, path)
			}
		}
		sort.Strings(bound)
		for _, path := range bound {
			dest := to
			if path != from {
				dest = utils.JoinPath(to, strings.TrimPrefix(path, from+"/"))
			}
			t.moveID(path, dest)
		}
	}

	t.versionedDirs = nil
	t.logger.Debug("renamed index entry",
		zap.String("from", from), zap.String("to", to), zap.Bool("after", after))
	return nil
}

// relocateRow moves the row at index i to a new path, carrying its durable
// id along so identity survives the rename.
func (t *Tree) relocateRow(i int, to string) {
	row := t.rows[i]
	from := row.Path
	t.deleteRowAt(i)
	row.Path = to
	t.insertRow(row)
	t.moveID(from, to)
}

func (t *Tree) moveID(from, to string) {
	id, err := t.ids.LookupID(from)
	if err != nil {
		return
	}
	t.ids.Unbind(from)
	// Rebind is safe here: the id's old path was just severed.
	_ = t.ids.Bind(to, id, true)
}

// Move relocates each source into toDir, preserving base names. The
// destination must be an existing versioned directory; that is checked
// before any rename is applied, so a bad destination fails atomically.
func (t *Tree) Move(paths []string, toDir string, after bool) error {
	toDir = strings.TrimSuffix(toDir, "/")
	if t.fs == nil || !t.fs.Exists(toDir) {
		return errors.RenameFailed("", toDir, errors.RenameDestinationProblem, "destination does not exist")
	}
	if kind, err := t.fs.Kind(toDir); err != nil || kind != shared.KindDirectory {
		return errors.RenameFailed("", toDir, errors.RenameDestinationProblem, "destination is not a directory")
	}
	if !t.IsVersioned(toDir) {
		return errors.RenameFailed("", toDir, errors.RenameDestinationProblem, "destination is not versioned")
	}
	for _, from := range paths {
		_, name := utils.SplitPath(strings.TrimSuffix(from, "/"))
		if err := t.RenameOne(from, utils.JoinPath(toDir, name), after); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tree) exists(path string) bool {
	return t.fs != nil && t.fs.Exists(path)
}
