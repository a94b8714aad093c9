package docent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docent-db/docent/record"
	"github.com/docent-db/docent/schema"
)

func TestResolve(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()
	saveDog(t, s, "Rex", "collie", 3)

	got, err := s.Resolve(ctx, schema.RefTo("Animal", "Rex"))
	require.NoError(t, err)
	assert.Equal(t, "Dog", got.TypeName())

	// A reference typed at the concrete subtype resolves too.
	got, err = s.Resolve(ctx, schema.RefTo("Dog", "Rex"))
	require.NoError(t, err)
	assert.Equal(t, "collie", got.Value("breed"))

	// A sibling-typed reference stays scoped to its own subtree.
	_, err = s.Resolve(ctx, schema.RefTo("Cat", "Rex"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveFailures(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()

	t.Run("dangling", func(t *testing.T) {
		ref := schema.RefTo("Animal", "Ghost")
		_, err := s.Resolve(ctx, ref)
		require.Error(t, err)

		var re *ResolutionError
		require.ErrorAs(t, err, &re)
		assert.Equal(t, ref, re.Ref)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.True(t, IsNotFound(err))
	})

	t.Run("zero reference", func(t *testing.T) {
		_, err := s.Resolve(ctx, schema.Ref{})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := s.Resolve(ctx, schema.RefTo("Ghost", "x"))
		var re *ResolutionError
		require.ErrorAs(t, err, &re)
		assert.ErrorIs(t, err, schema.ErrUnknownType)
	})

	t.Run("bad compound key", func(t *testing.T) {
		_, err := s.Resolve(ctx, schema.RefTo("Setting", "not-a-map"))
		assert.ErrorIs(t, err, schema.ErrBadKey)
	})
}

func TestResolveCompoundKey(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()
	settings := mustManager(t, s, "Setting")

	rec, err := settings.Make(map[string]any{"tenant": "acme", "key": "theme", "value": "dark"})
	require.NoError(t, err)
	require.NoError(t, settings.Save(ctx, rec))

	got, err := s.Resolve(ctx, schema.RefTo("Setting", map[string]any{"tenant": "acme", "key": "theme"}))
	require.NoError(t, err)
	assert.Equal(t, "dark", got.Value("value"))
}

func TestLoad(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()
	saveDog(t, s, "Rex", "collie", 3)
	owners := mustManager(t, s, "Owner")

	owner, err := owners.Make(map[string]any{"name": "Ann", "pet": "Rex"})
	require.NoError(t, err)
	require.NoError(t, owners.Save(ctx, owner))

	t.Run("set field", func(t *testing.T) {
		pet, err := s.Load(ctx, owner, "pet")
		require.NoError(t, err)
		assert.Equal(t, "Dog", pet.TypeName())
	})

	t.Run("after round trip", func(t *testing.T) {
		stored, err := owners.Get(ctx, "Ann")
		require.NoError(t, err)
		pet, err := s.Load(ctx, stored, "pet")
		require.NoError(t, err)
		assert.Equal(t, "collie", pet.Value("breed"))
	})

	t.Run("unset field", func(t *testing.T) {
		lone, err := owners.Make(map[string]any{"name": "Solo"})
		require.NoError(t, err)
		pet, err := s.Load(ctx, lone, "pet")
		require.NoError(t, err)
		assert.Nil(t, pet)
	})

	t.Run("dangling", func(t *testing.T) {
		bereft, err := owners.Make(map[string]any{"name": "Bea", "pet": "Ghost"})
		require.NoError(t, err)
		_, err = s.Load(ctx, bereft, "pet")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("unknown field", func(t *testing.T) {
		_, err := s.Load(ctx, owner, "familiar")
		assert.ErrorIs(t, err, schema.ErrUnknownField)
	})

	t.Run("not a reference", func(t *testing.T) {
		_, err := s.Load(ctx, owner, "name")
		assert.ErrorIs(t, err, schema.ErrTypeMismatch)
	})
}

func TestResolveBatch(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()
	saveDog(t, s, "Rex", "collie", 3)
	saveDog(t, s, "Bo", "lab", 5)

	settings := mustManager(t, s, "Setting")
	setting, err := settings.Make(map[string]any{"tenant": "acme", "key": "theme", "value": "dark"})
	require.NoError(t, err)
	require.NoError(t, settings.Save(ctx, setting))

	settingRef := schema.RefTo("Setting", map[string]any{"tenant": "acme", "key": "theme"})
	refs := []schema.Ref{
		schema.RefTo("Animal", "Rex"),
		schema.RefTo("Animal", "Bo"),
		schema.RefTo("Animal", "Ghost"),
		schema.RefTo("Animal", "Rex"), // duplicates collapse
		settingRef,
		{}, // zero references are skipped
	}

	out, err := s.ResolveBatch(ctx, refs)
	require.NoError(t, err)
	assert.Len(t, out, 3)

	rex, ok := out[schema.RefTo("Animal", "Rex").String()]
	require.True(t, ok)
	assert.Equal(t, "Dog", rex.TypeName())

	_, ok = out[schema.RefTo("Animal", "Ghost").String()]
	assert.False(t, ok, "dangling references are absent, not an error")

	theme, ok := out[settingRef.String()]
	require.True(t, ok)
	assert.Equal(t, "dark", theme.Value("value"))
}

func TestResolveBatchUnknownType(t *testing.T) {
	s := newTestSession(t)

	_, err := s.ResolveBatch(context.Background(), []schema.Ref{schema.RefTo("Ghost", "x")})
	var re *ResolutionError
	require.ErrorAs(t, err, &re)
	assert.ErrorIs(t, err, schema.ErrUnknownType)
}

func TestCollectRefs(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()
	saveDog(t, s, "Rex", "collie", 3)
	owners := mustManager(t, s, "Owner")

	var recs []*record.Record
	for _, values := range []map[string]any{
		{"name": "Ann", "pet": "Rex"},
		{"name": "Bea", "pet": "Ghost"},
		{"name": "Solo"},
	} {
		rec, err := owners.Make(values)
		require.NoError(t, err)
		recs = append(recs, rec)
	}

	refs, err := CollectRefs(recs, "pet")
	require.NoError(t, err)
	assert.Len(t, refs, 2, "unset fields are skipped")

	out, err := s.ResolveBatch(ctx, refs)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "Dog", out[schema.RefTo("Animal", "Rex").String()].TypeName())

	_, err = CollectRefs(recs, "name")
	assert.ErrorIs(t, err, schema.ErrTypeMismatch)

	_, err = CollectRefs(recs, "familiar")
	assert.ErrorIs(t, err, schema.ErrUnknownField)
}
