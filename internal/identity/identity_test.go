package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brig/internal/errors"
	shared "brig/shared/types"
)

type staticLookup map[string]shared.ID

func (s staticLookup) LookupID(path string) (shared.ID, error) {
	if id, ok := s[path]; ok {
		return id, nil
	}
	return "", errors.NoSuchPath(path)
}

func TestSaltedGenerator(t *testing.T) {
	gen := NewSaltedGenerator([]byte("salt-a"))

	t.Run("Deterministic", func(t *testing.T) {
		assert.Equal(t, gen.GenerateID("a/x"), gen.GenerateID("a/x"))
		other := NewSaltedGenerator([]byte("salt-a"))
		assert.Equal(t, gen.GenerateID("a/x"), other.GenerateID("a/x"))
	})

	t.Run("SaltChangesIds", func(t *testing.T) {
		other := NewSaltedGenerator([]byte("salt-b"))
		assert.NotEqual(t, gen.GenerateID("a/x"), other.GenerateID("a/x"))
	})

	t.Run("DistinctPaths", func(t *testing.T) {
		assert.NotEqual(t, gen.GenerateID("a/x"), gen.GenerateID("a/y"))
	})

	t.Run("Root", func(t *testing.T) {
		assert.Equal(t, RootID, gen.GenerateID(""))
	})
}

func TestMapBind(t *testing.T) {
	gen := NewSaltedGenerator([]byte("s"))

	t.Run("RoundTrip", func(t *testing.T) {
		m := NewMap(gen)
		id := m.Synthesize("a/x")
		require.NoError(t, m.Bind("a/x", id, false))

		got, err := m.LookupID("a/x")
		require.NoError(t, err)
		assert.Equal(t, id, got)

		path, err := m.LookupPath(id)
		require.NoError(t, err)
		assert.Equal(t, "a/x", path)
	})

	t.Run("NotFound", func(t *testing.T) {
		m := NewMap(gen)
		_, err := m.LookupID("missing")
		assert.True(t, errors.IsNoSuchPath(err))
		_, err = m.LookupPath("nope")
		assert.True(t, errors.IsNoSuchID(err))
	})

	t.Run("ConflictWithoutRebind", func(t *testing.T) {
		m := NewMap(gen)
		id := m.Synthesize("a/x")
		require.NoError(t, m.Bind("a/x", id, false))

		err := m.Bind("a/y", id, false)
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeIdentityConflict))

		// The failed bind must not have disturbed the map.
		path, err := m.LookupPath(id)
		require.NoError(t, err)
		assert.Equal(t, "a/x", path)
	})

	t.Run("Rebind", func(t *testing.T) {
		m := NewMap(gen)
		id := m.Synthesize("a/x")
		require.NoError(t, m.Bind("a/x", id, false))
		require.NoError(t, m.Bind("a/y", id, true))

		path, err := m.LookupPath(id)
		require.NoError(t, err)
		assert.Equal(t, "a/y", path)

		_, err = m.LookupID("a/x")
		assert.True(t, errors.IsNoSuchPath(err))
	})

	t.Run("Injectivity", func(t *testing.T) {
		m := NewMap(gen)
		for _, path := range []string{"a", "a/x", "a/y", "b", "b/x"} {
			require.NoError(t, m.Bind(path, m.Synthesize(path), false))
		}
		seen := make(map[shared.ID]string)
		for path, id := range m.Paths() {
			prev, dup := seen[id]
			require.False(t, dup, "id %s maps to both %s and %s", id, prev, path)
			seen[id] = path
		}
	})
}

func TestResolve(t *testing.T) {
	gen := NewSaltedGenerator([]byte("s"))

	t.Run("CurrentMapWins", func(t *testing.T) {
		m := NewMap(gen)
		require.NoError(t, m.Bind("f", "bound-id", false))
		donor := staticLookup{"f": "donor-id"}
		assert.Equal(t, shared.ID("bound-id"), m.Resolve("f", nil, []Lookup{donor}))
	})

	t.Run("TargetBeforeDonors", func(t *testing.T) {
		m := NewMap(gen)
		target := staticLookup{"f": "target-id"}
		donor := staticLookup{"f": "donor-id"}
		assert.Equal(t, shared.ID("target-id"), m.Resolve("f", target, []Lookup{donor}))
	})

	t.Run("DonorOrder", func(t *testing.T) {
		m := NewMap(gen)
		first := staticLookup{"f": "first-id"}
		second := staticLookup{"f": "second-id"}
		assert.Equal(t, shared.ID("first-id"), m.Resolve("f", nil, []Lookup{first, second}))
		assert.Equal(t, shared.ID("second-id"), m.Resolve("f", nil, []Lookup{second, first}))
	})

	t.Run("CollidingDonorSkipped", func(t *testing.T) {
		m := NewMap(gen)
		require.NoError(t, m.Bind("other", "taken-id", false))
		colliding := staticLookup{"f": "taken-id"}
		fallback := staticLookup{"f": "free-id"}
		assert.Equal(t, shared.ID("free-id"), m.Resolve("f", nil, []Lookup{colliding, fallback}))
	})

	t.Run("SynthesizeFallback", func(t *testing.T) {
		m := NewMap(gen)
		assert.Equal(t, gen.GenerateID("f"), m.Resolve("f", nil, nil))
	})
}
