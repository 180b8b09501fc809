// Package compare turns the store's raw path-keyed tree diff into the
// host's classified delta: added, removed, renamed, kind-changed,
// modified, unchanged.
package compare

import (
	"go.uber.org/zap"

	"brig/internal/errors"
	"brig/internal/identity"
	"brig/internal/object"
	shared "brig/shared/types"
	"brig/shared/utils"
)

// Category is the classification of one change.
type Category string

const (
	CategoryAdded       Category = "added"
	CategoryRemoved     Category = "removed"
	CategoryRenamed     Category = "renamed"
	CategoryKindChanged Category = "kind-changed"
	CategoryModified    Category = "modified"
	CategoryUnchanged   Category = "unchanged"
)

// FileChange is one classified per-file change record.
type FileChange struct {
	ID             shared.ID
	OldPath        string
	NewPath        string
	OldPresent     bool
	NewPresent     bool
	OldKind        shared.Kind
	NewKind        shared.Kind
	OldExecutable  bool
	NewExecutable  bool
	ContentChanged bool
	ModeChanged    bool
}

// Delta is the bulk output of a comparison: five ordered change sequences
// plus the optional unchanged set.
type Delta struct {
	Added       []FileChange
	Removed     []FileChange
	Renamed     []FileChange
	KindChanged []FileChange
	Modified    []FileChange
	Unchanged   []FileChange
}

// Options scope and shape a comparison.
type Options struct {
	WantUnchanged bool
	IncludeRoot   bool
	// SpecificFiles keeps only changes whose old or new path is equal to,
	// inside, or an ancestor of one of these paths.
	SpecificFiles []string
}

// Stream re-expresses the store's native tree diff as the bridge's change
// stream. Single-pass; the ordering is the store's own and is never
// re-sorted here.
func Stream(store object.Store, oldTree, newTree string, wantUnchanged bool) *object.ChangeIter {
	return store.TreeChanges(oldTree, newTree, wantUnchanged, true)
}

// Comparator classifies change streams into the delta taxonomy. The
// generator resolves durable ids for changed paths; special hides
// repository-metadata paths.
type Comparator struct {
	gen     identity.Generator
	special func(path string) bool
	logger  *zap.Logger
}

func NewComparator(gen identity.Generator, special func(string) bool, logger *zap.Logger) *Comparator {
	if special == nil {
		special = func(string) bool { return false }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Comparator{gen: gen, special: special, logger: logger}
}

// Record is one streamed classification result.
type Record struct {
	Category Category
	Change   FileChange
}

// RecordIter is a lazy, single-pass sequence of classified records.
type RecordIter struct {
	next func() (Record, bool, error)
}

func (it *RecordIter) Next() (Record, bool, error) { return it.next() }

func (it *RecordIter) Collect() ([]Record, error) {
	var ret []Record
	for {
		r, ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return ret, nil
		}
		ret = append(ret, r)
	}
}

// IterChanges classifies the stream lazily, one record per change tuple.
func (c *Comparator) IterChanges(changes *object.ChangeIter, opts Options) *RecordIter {
	return &RecordIter{next: func() (Record, bool, error) {
		for {
			change, ok, err := changes.Next()
			if err != nil {
				return Record{}, false, err
			}
			if !ok {
				return Record{}, false, nil
			}
			record, keep, err := c.classify(change, opts)
			if err != nil {
				return Record{}, false, err
			}
			if keep {
				return record, true, nil
			}
		}
	}}
}

// Compare drains the stream into a bulk Delta. Both Compare and
// IterChanges apply the same classification; they differ only in shape.
func (c *Comparator) Compare(changes *object.ChangeIter, opts Options) (*Delta, error) {
	delta := &Delta{}
	it := c.IterChanges(changes, opts)
	for {
		record, ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return delta, nil
		}
		switch record.Category {
		case CategoryAdded:
			delta.Added = append(delta.Added, record.Change)
		case CategoryRemoved:
			delta.Removed = append(delta.Removed, record.Change)
		case CategoryRenamed:
			delta.Renamed = append(delta.Renamed, record.Change)
		case CategoryKindChanged:
			delta.KindChanged = append(delta.KindChanged, record.Change)
		case CategoryModified:
			delta.Modified = append(delta.Modified, record.Change)
		case CategoryUnchanged:
			delta.Unchanged = append(delta.Unchanged, record.Change)
		}
	}
}

// classify applies the delta taxonomy to one change tuple. Exactly one of
// the categories, or a drop, applies to every tuple.
func (c *Comparator) classify(change shared.Change, opts Options) (Record, bool, error) {
	if !change.OldPresent && !change.NewPresent {
		c.logger.Error("change tuple with both sides absent")
		return Record{}, false, errors.Internal("change tuple with both sides absent")
	}

	// Root changes are dropped unless explicitly requested.
	if change.NewPresent && change.NewPath == "" && !opts.IncludeRoot {
		return Record{}, false, nil
	}
	if !change.NewPresent && change.OldPath == "" && !opts.IncludeRoot {
		return Record{}, false, nil
	}

	// Scoping happens before classification.
	if opts.SpecificFiles != nil {
		inScope := (change.OldPresent && utils.IsInsideOrParentOfAny(opts.SpecificFiles, change.OldPath)) ||
			(change.NewPresent && utils.IsInsideOrParentOfAny(opts.SpecificFiles, change.NewPath))
		if !inScope {
			return Record{}, false, nil
		}
	}

	if change.OldPresent && c.special(change.OldPath) {
		c.logger.Debug("dropped special path", zap.String("path", change.OldPath))
		return Record{}, false, nil
	}
	if change.NewPresent && c.special(change.NewPath) {
		c.logger.Debug("dropped special path", zap.String("path", change.NewPath))
		return Record{}, false, nil
	}

	fc := FileChange{
		OldPath:        change.OldPath,
		NewPath:        change.NewPath,
		OldPresent:     change.OldPresent,
		NewPresent:     change.NewPresent,
		ContentChanged: change.OldHash != change.NewHash,
		ModeChanged:    change.OldMode != change.NewMode,
	}
	if change.OldPresent {
		fc.OldKind = change.OldMode.Kind()
		fc.OldExecutable = change.OldMode.IsExecutable()
	}
	if change.NewPresent {
		fc.NewKind = change.NewMode.Kind()
		fc.NewExecutable = change.NewMode.IsExecutable()
	}

	switch {
	case !change.OldPresent:
		fc.ID = c.gen.GenerateID(change.NewPath)
		return Record{Category: CategoryAdded, Change: fc}, true, nil

	case !change.NewPresent:
		fc.ID = c.gen.GenerateID(change.OldPath)
		return Record{Category: CategoryRemoved, Change: fc}, true, nil

	case change.OldPath != change.NewPath:
		fc.ID = c.gen.GenerateID(change.OldPath)
		return Record{Category: CategoryRenamed, Change: fc}, true, nil

	case fc.OldKind != fc.NewKind:
		fc.ID = c.gen.GenerateID(change.OldPath)
		return Record{Category: CategoryKindChanged, Change: fc}, true, nil

	case change.OldHash == change.NewHash && change.OldMode == change.NewMode:
		// Directory no-ops never surface, requested or not.
		if fc.OldKind == shared.KindDirectory && fc.NewKind == shared.KindDirectory {
			return Record{}, false, nil
		}
		if !opts.WantUnchanged {
			return Record{}, false, nil
		}
		fc.ID = c.gen.GenerateID(change.OldPath)
		return Record{Category: CategoryUnchanged, Change: fc}, true, nil

	default:
		// Two directories whose contents changed are not themselves a
		// modification; the members carry the changes.
		if fc.OldKind == shared.KindDirectory && fc.NewKind == shared.KindDirectory {
			return Record{}, false, nil
		}
		fc.ID = c.gen.GenerateID(change.OldPath)
		return Record{Category: CategoryModified, Change: fc}, true, nil
	}
}

// PathChecker is the minimal tree surface path mapping needs.
type PathChecker interface {
	HasPath(path string) bool
}

// FindTargetPath maps a path in the old snapshot to its path in the new
// one, following renames through the change stream. A "" result with ok
// set means the path was removed.
func (c *Comparator) FindTargetPath(store object.Store, oldTree, newTree string, source, target PathChecker, path string) (string, bool, error) {
	changes := Stream(store, oldTree, newTree, false)
	for {
		change, ok, err := changes.Next()
		if err != nil {
			return "", false, err
		}
		if !ok {
			break
		}
		if change.OldPresent && change.OldPath == path {
			if !change.NewPresent {
				return "", true, nil
			}
			return change.NewPath, true, nil
		}
	}
	if source.HasPath(path) {
		if target.HasPath(path) {
			return path, true, nil
		}
		return "", true, nil
	}
	return "", false, errors.NoSuchPath(path)
}

// FindSourcePath is the inverse of FindTargetPath.
func (c *Comparator) FindSourcePath(store object.Store, oldTree, newTree string, source, target PathChecker, path string) (string, bool, error) {
	changes := Stream(store, oldTree, newTree, false)
	for {
		change, ok, err := changes.Next()
		if err != nil {
			return "", false, err
		}
		if !ok {
			break
		}
		if change.NewPresent && change.NewPath == path {
			if !change.OldPresent {
				return "", true, nil
			}
			return change.OldPath, true, nil
		}
	}
	if target.HasPath(path) {
		if source.HasPath(path) {
			return path, true, nil
		}
		return "", true, nil
	}
	return "", false, errors.NoSuchPath(path)
}
