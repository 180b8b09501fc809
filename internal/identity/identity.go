// Package identity owns the durable-id side of the bridge: the bidirectional
// path/id map scoped to one tree, and the deterministic id synthesis used
// when no historical link exists for a path.
package identity

import (
	"crypto/sha256"
	"encoding/hex"

	"brig/internal/errors"
	shared "brig/shared/types"
)

// RootID is the fixed id of the tree root in every tree of a repository.
const RootID = shared.ID("tree-root")

// Generator produces a durable id for a path. Implementations must be
// deterministic: two independent walks of the same unchanged snapshot have
// to synthesize identical ids without coordination.
type Generator interface {
	GenerateID(path string) shared.ID
}

// SaltedGenerator derives ids from a per-repository salt and the path.
type SaltedGenerator struct {
	salt []byte
}

func NewSaltedGenerator(salt []byte) *SaltedGenerator {
	return &SaltedGenerator{salt: append([]byte(nil), salt...)}
}

func (g *SaltedGenerator) GenerateID(path string) shared.ID {
	if path == "" {
		return RootID
	}
	h := sha256.New()
	h.Write(g.salt)
	h.Write([]byte{0})
	h.Write([]byte(path))
	return shared.ID(hex.EncodeToString(h.Sum(nil)[:16]))
}

// Lookup is one identity source consulted during donor resolution. A tree
// exposing LookupID satisfies it.
type Lookup interface {
	LookupID(path string) (shared.ID, error)
}

// Map is an injective path/id mapping scoped to one snapshot or one
// working copy. Not safe for concurrent use; each tree owns its own Map.
type Map struct {
	gen    Generator
	byPath map[string]shared.ID
	byID   map[shared.ID]string
}

func NewMap(gen Generator) *Map {
	return &Map{
		gen:    gen,
		byPath: make(map[string]shared.ID),
		byID:   make(map[shared.ID]string),
	}
}

func (m *Map) LookupID(path string) (shared.ID, error) {
	id, ok := m.byPath[path]
	if !ok {
		return "", errors.NoSuchPath(path)
	}
	return id, nil
}

func (m *Map) LookupPath(id shared.ID) (string, error) {
	path, ok := m.byID[id]
	if !ok {
		return "", errors.NoSuchID(string(id))
	}
	return path, nil
}

// Synthesize generates a fresh deterministic id for path. It does not bind
// it; callers bind once the id is known not to collide.
func (m *Map) Synthesize(path string) shared.ID {
	return m.gen.GenerateID(path)
}

// Bind inserts or overwrites the link for path. Binding an id that already
// maps to a different path fails with IDENTITY_CONFLICT unless rebind is
// set, in which case the old link is severed first.
func (m *Map) Bind(path string, id shared.ID, rebind bool) error {
	if existing, ok := m.byID[id]; ok && existing != path {
		if !rebind {
			return errors.IdentityConflict(path, string(id), existing)
		}
		delete(m.byPath, existing)
	}
	if old, ok := m.byPath[path]; ok && old != id {
		delete(m.byID, old)
	}
	m.byPath[path] = id
	m.byID[id] = path
	return nil
}

// Unbind removes the link for path, if any.
func (m *Map) Unbind(path string) {
	if id, ok := m.byPath[path]; ok {
		delete(m.byPath, path)
		delete(m.byID, id)
	}
}

// Paths returns the bound paths. The returned map is live state; callers
// must not mutate it.
func (m *Map) Paths() map[string]shared.ID {
	return m.byPath
}

func (m *Map) Len() int {
	return len(m.byPath)
}

// Resolve finds the durable id for a path that has no link in the current
// map yet. Identity sources are consulted in priority order: the current
// map, then the target tree, then each donor in turn. The first donor whose
// id for the same path does not collide with an id already bound to a
// different path wins; otherwise a fresh id is synthesized. The result
// depends on donor order, so callers supply donors in a stable order.
func (m *Map) Resolve(path string, target Lookup, donors []Lookup) shared.ID {
	if id, err := m.LookupID(path); err == nil {
		return id
	}
	sources := make([]Lookup, 0, len(donors)+1)
	if target != nil {
		sources = append(sources, target)
	}
	sources = append(sources, donors...)
	for _, src := range sources {
		id, err := src.LookupID(path)
		if err != nil {
			continue
		}
		if bound, ok := m.byID[id]; ok && bound != path {
			continue
		}
		return id
	}
	return m.Synthesize(path)
}

// ResolveAndBind resolves the id for path and records the link.
func (m *Map) ResolveAndBind(path string, target Lookup, donors []Lookup) (shared.ID, error) {
	id := m.Resolve(path, target, donors)
	if err := m.Bind(path, id, false); err != nil {
		return "", err
	}
	return id, nil
}
