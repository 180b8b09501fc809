// Shared kind/mode vocabulary for the tree bridge.
package shared

// Kind is the type of a versioned entry.
type Kind string

const (
	KindFile      Kind = "file"
	KindDirectory Kind = "directory"
	KindSymlink   Kind = "symlink"
	KindSubmodule Kind = "submodule"
)

// Mode carries git-shaped mode bits for a tree entry.
type Mode uint32

const (
	ModeFile       Mode = 0o100644
	ModeExecutable Mode = 0o100755
	ModeSymlink    Mode = 0o120000
	ModeDir        Mode = 0o040000
	ModeSubmodule  Mode = 0o160000

	modeFormatMask Mode = 0o170000
)

// Kind classifies a mode into the entry kind vocabulary.
func (m Mode) Kind() Kind {
	switch m & modeFormatMask {
	case 0o040000:
		return KindDirectory
	case 0o120000:
		return KindSymlink
	case 0o160000:
		return KindSubmodule
	default:
		return KindFile
	}
}

// IsExecutable reports whether the mode carries the owner execute bit on a
// regular file.
func (m Mode) IsExecutable() bool {
	return m.Kind() == KindFile && m&0o100 != 0
}

// ModeForKind returns the canonical mode bits for a kind. Files get the
// non-executable mode; callers flip to ModeExecutable themselves.
func ModeForKind(kind Kind) Mode {
	switch kind {
	case KindDirectory:
		return ModeDir
	case KindSymlink:
		return ModeSymlink
	case KindSubmodule:
		return ModeSubmodule
	default:
		return ModeFile
	}
}

// ID is a durable identifier for a versioned item. It is opaque, unique
// within a repository and stable across renames of the same logical file.
type ID string

// Change is the unit produced by the low-level tree diff: one path slot,
// one mode and one content hash per side. A side with Present == false was
// absent in that snapshot; the path "" with Present == true is the root.
type Change struct {
	OldPath    string
	NewPath    string
	OldPresent bool
	NewPresent bool
	OldMode    Mode
	NewMode    Mode
	OldHash    string
	NewHash    string
}

// Entry is one resolved tree member. Kind is the tag: only files and
// symlinks carry content, only files carry Size/Executable, only symlinks
// carry Target, only submodules carry Reference.
type Entry struct {
	ID         ID     `json:"id"`
	Name       string `json:"name"`
	ParentID   ID     `json:"parent_id"`
	Kind       Kind   `json:"kind"`
	Hash       string `json:"hash,omitempty"`
	Size       int64  `json:"size,omitempty"`
	Executable bool   `json:"executable,omitempty"`
	Target     string `json:"target,omitempty"`
	Reference  string `json:"reference,omitempty"`
	Revision   string `json:"revision,omitempty"`
}

// PathEntry pairs an entry with its full path inside the tree.
type PathEntry struct {
	Path  string
	Entry Entry
}

// EntryIter is a lazy sequence of (path, entry) pairs. One iterator is
// single-pass; re-invoking the producing ListEntries with the same
// arguments restarts the sequence.
type EntryIter struct {
	Fetch func() (PathEntry, bool, error)
}

func (it *EntryIter) Next() (PathEntry, bool, error) {
	return it.Fetch()
}

// Collect drains the iterator.
func (it *EntryIter) Collect() ([]PathEntry, error) {
	var ret []PathEntry
	for {
		pe, ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return ret, nil
		}
		ret = append(ret, pe)
	}
}

// NewSliceEntryIter wraps an already materialized listing.
func NewSliceEntryIter(entries []PathEntry) *EntryIter {
	i := 0
	return &EntryIter{Fetch: func() (PathEntry, bool, error) {
		if i >= len(entries) {
			return PathEntry{}, false, nil
		}
		pe := entries[i]
		i++
		return pe, true, nil
	}}
}

// Tree is the read-only surface shared by historical snapshots and the
// mutable index tree. Mutation lives solely on the index tree's own type.
type Tree interface {
	Kind(path string) (Kind, error)
	IsExecutable(path string) (bool, error)
	SymlinkTarget(path string) (string, error)
	Entry(path string) (Entry, error)
	ListEntries(fromPath string, recursive, includeRoot bool) (*EntryIter, error)
	LookupID(path string) (ID, error)
	LookupPath(id ID) (string, error)
	AllIDs() (map[ID]struct{}, error)
	AllPaths() (map[string]struct{}, error)
}
