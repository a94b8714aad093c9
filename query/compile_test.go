package query

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docent-db/docent/schema"
	"github.com/docent-db/docent/storage"
)

func queryRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg := schema.NewRegistry()

	require.NoError(t, reg.Register(schema.NewType("Animal",
		schema.String("name").Required(),
		schema.Int("age").Default(0),
		schema.String("status"),
	).Key("name").Polymorphic()))

	require.NoError(t, reg.Register(schema.NewType("Dog",
		schema.String("breed").Stored("breed_name"),
	).Extends("Animal").Polymorphic()))

	require.NoError(t, reg.Register(schema.NewType("Puppy",
		schema.Bool("weaned"),
	).Extends("Dog")))

	require.NoError(t, reg.Register(schema.NewType("Cat",
		schema.Bool("indoor"),
	).Extends("Animal")))

	require.NoError(t, reg.Register(schema.NewType("Device",
		schema.ID("id"),
		schema.String("label"),
		schema.MapOf("meta", schema.Int("")),
		schema.Any("extra"),
	).Key("id")))

	require.NoError(t, reg.Register(schema.NewType("Reading",
		schema.String("tenant").Required(),
		schema.Int("seq").Required(),
		schema.Reference("device", "Device").Stored("device_id"),
	).Key("tenant", "seq")))

	return reg
}

func mustType(t *testing.T, reg *schema.Registry, name string) *schema.Type {
	t.Helper()
	typ, err := reg.Resolve(name)
	require.NoError(t, err)
	return typ
}

func TestCompileComparison(t *testing.T) {
	reg := queryRegistry(t)
	animal := mustType(t, reg, "Animal")

	got, err := Compile(Gte("age", 18), animal)
	require.NoError(t, err)
	assert.Equal(t, storage.Filter{"age": map[string]any{"$gte": int64(18)}}, got)
}

func TestCompileRewritesPrimaryKey(t *testing.T) {
	reg := queryRegistry(t)

	// A single-field key stores under _id, so comparisons on it compile to
	// _id too. Compound key components keep their own stored names.
	got, err := Compile(Eq("name", "Rex"), mustType(t, reg, "Animal"))
	require.NoError(t, err)
	assert.Equal(t, storage.Filter{"_id": map[string]any{"$eq": "Rex"}}, got)

	got, err = Compile(Eq("tenant", "acme"), mustType(t, reg, "Reading"))
	require.NoError(t, err)
	assert.Equal(t, storage.Filter{"tenant": map[string]any{"$eq": "acme"}}, got)
}

func TestCompileAppliesStoredAliases(t *testing.T) {
	reg := queryRegistry(t)

	got, err := Compile(Eq("breed", "collie"), mustType(t, reg, "Dog"))
	require.NoError(t, err)

	clauses, ok := got["$and"].([]any)
	require.True(t, ok, "subtype query compiles to a conjunction, got %v", got)
	require.Len(t, clauses, 2)
	assert.Equal(t, map[string]any{"breed_name": map[string]any{"$eq": "collie"}}, clauses[1])
}

func TestCompileCoercesOperands(t *testing.T) {
	reg := queryRegistry(t)
	device := mustType(t, reg, "Device")

	id := uuid.New()

	t.Run("string id to native", func(t *testing.T) {
		got, err := Compile(Eq("id", id.String()), device)
		require.NoError(t, err)
		assert.Equal(t, storage.Filter{"_id": map[string]any{"$eq": id}}, got)
	})

	t.Run("int widens", func(t *testing.T) {
		got, err := Compile(Eq("seq", int32(7)), mustType(t, reg, "Reading"))
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"$eq": int64(7)}, got["seq"])
	})

	t.Run("reference collapses to key", func(t *testing.T) {
		got, err := Compile(Eq("device", schema.RefTo("Device", id)), mustType(t, reg, "Reading"))
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"$eq": id}, got["device_id"])
	})

	t.Run("in coerces each element", func(t *testing.T) {
		got, err := Compile(In("age", 1, int8(2)), mustType(t, reg, "Animal"))
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"$in": []any{int64(1), int64(2)}}, got["age"])
	})

	t.Run("mismatched operand fails", func(t *testing.T) {
		_, err := Compile(Eq("age", "plenty"), mustType(t, reg, "Animal"))
		assert.ErrorIs(t, err, schema.ErrTypeMismatch)
	})
}

func TestCompileUnknownField(t *testing.T) {
	reg := queryRegistry(t)

	_, err := Compile(Eq("wingspan", 2), mustType(t, reg, "Animal"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownField)
	assert.Contains(t, err.Error(), "wingspan")
}

func TestCompileBooleanStructure(t *testing.T) {
	reg := queryRegistry(t)
	animal := mustType(t, reg, "Animal")

	// age >= 18 and (status == "active" or status == "pending") must stay a
	// conjunction of one comparison and one nested two-branch disjunction.
	expr := And(
		Gte("age", 18),
		Or(Eq("status", "active"), Eq("status", "pending")),
	)

	got, err := Compile(expr, animal)
	require.NoError(t, err)

	want := storage.Filter{
		"$and": []any{
			map[string]any{"age": map[string]any{"$gte": int64(18)}},
			map[string]any{"$or": []any{
				map[string]any{"status": map[string]any{"$eq": "active"}},
				map[string]any{"status": map[string]any{"$eq": "pending"}},
			}},
		},
	}
	assert.Equal(t, want, got)
}

func TestCompileEmptyBooleans(t *testing.T) {
	reg := queryRegistry(t)
	animal := mustType(t, reg, "Animal")

	t.Run("nil expression matches everything", func(t *testing.T) {
		got, err := Compile(nil, animal)
		require.NoError(t, err)
		assert.Equal(t, storage.Filter{}, got)
	})

	t.Run("empty conjunction matches everything", func(t *testing.T) {
		got, err := Compile(And(), animal)
		require.NoError(t, err)
		assert.Equal(t, storage.Filter{"$and": []any{}}, got)
		assert.True(t, storage.Matches(storage.Document{"x": int64(1)}, got))
	})

	t.Run("empty disjunction matches nothing", func(t *testing.T) {
		got, err := Compile(Or(), animal)
		require.NoError(t, err)
		assert.Equal(t, storage.Filter{"$or": []any{}}, got)
		assert.False(t, storage.Matches(storage.Document{"x": int64(1)}, got))
	})
}

func TestCompileNegation(t *testing.T) {
	reg := queryRegistry(t)

	got, err := Compile(Not(Eq("status", "banned")), mustType(t, reg, "Animal"))
	require.NoError(t, err)
	assert.Equal(t, storage.Filter{
		"$not": map[string]any{"status": map[string]any{"$eq": "banned"}},
	}, got)

	_, err = Compile(Not(nil), mustType(t, reg, "Animal"))
	assert.ErrorIs(t, err, ErrBadExpr)
}

func TestCompileScopesSubtypes(t *testing.T) {
	reg := queryRegistry(t)

	t.Run("root is unscoped", func(t *testing.T) {
		got, err := Compile(nil, mustType(t, reg, "Animal"))
		require.NoError(t, err)
		_, scoped := got[storage.KeyType]
		assert.False(t, scoped)
	})

	t.Run("subtype scopes to itself and descendants", func(t *testing.T) {
		got, err := Compile(nil, mustType(t, reg, "Dog"))
		require.NoError(t, err)
		assert.Equal(t, storage.Filter{
			"_type": map[string]any{"$in": []any{"Dog", "Puppy"}},
		}, got)
	})

	t.Run("leaf scopes by equality", func(t *testing.T) {
		got, err := Compile(nil, mustType(t, reg, "Cat"))
		require.NoError(t, err)
		assert.Equal(t, storage.Filter{
			"_type": map[string]any{"$eq": "Cat"},
		}, got)
	})

	t.Run("scope excludes siblings", func(t *testing.T) {
		filter, err := Compile(nil, mustType(t, reg, "Dog"))
		require.NoError(t, err)

		assert.True(t, storage.Matches(storage.Document{"_type": "Dog"}, filter))
		assert.True(t, storage.Matches(storage.Document{"_type": "Puppy"}, filter))
		assert.False(t, storage.Matches(storage.Document{"_type": "Cat"}, filter))
		assert.False(t, storage.Matches(storage.Document{"_type": "Animal"}, filter))
	})

	t.Run("scope conjoins with the expression", func(t *testing.T) {
		got, err := Compile(Eq("name", "Rex"), mustType(t, reg, "Dog"))
		require.NoError(t, err)
		assert.Equal(t, storage.Filter{
			"$and": []any{
				map[string]any{"_type": map[string]any{"$in": []any{"Dog", "Puppy"}}},
				map[string]any{"_id": map[string]any{"$eq": "Rex"}},
			},
		}, got)
	})
}

func TestCompileExists(t *testing.T) {
	reg := queryRegistry(t)

	got, err := Compile(Exists("status"), mustType(t, reg, "Animal"))
	require.NoError(t, err)
	assert.Equal(t, storage.Filter{"status": map[string]any{"$exists": true}}, got)

	got, err = Compile(Missing("status"), mustType(t, reg, "Animal"))
	require.NoError(t, err)
	assert.Equal(t, storage.Filter{"status": map[string]any{"$exists": false}}, got)
}

func TestCompileMatch(t *testing.T) {
	reg := queryRegistry(t)

	t.Run("string field", func(t *testing.T) {
		got, err := Compile(Match("status", "^act"), mustType(t, reg, "Animal"))
		require.NoError(t, err)
		assert.Equal(t, storage.Filter{"status": map[string]any{"$regex": "^act"}}, got)
	})

	t.Run("non-string field rejected", func(t *testing.T) {
		_, err := Compile(Match("age", "^1"), mustType(t, reg, "Animal"))
		assert.ErrorIs(t, err, ErrUnsupportedOperator)
	})

	t.Run("bad pattern rejected", func(t *testing.T) {
		_, err := Compile(Match("status", "("), mustType(t, reg, "Animal"))
		assert.ErrorIs(t, err, ErrBadPattern)
	})
}

func TestCompileDottedPaths(t *testing.T) {
	reg := queryRegistry(t)
	device := mustType(t, reg, "Device")

	t.Run("map element uses element descriptor", func(t *testing.T) {
		got, err := Compile(Eq("meta.rev", 3), device)
		require.NoError(t, err)
		assert.Equal(t, storage.Filter{"meta.rev": map[string]any{"$eq": int64(3)}}, got)
	})

	t.Run("map element coercion failure surfaces", func(t *testing.T) {
		_, err := Compile(Eq("meta.rev", "three"), device)
		assert.ErrorIs(t, err, schema.ErrTypeMismatch)
	})

	t.Run("any field descends untyped", func(t *testing.T) {
		got, err := Compile(Eq("extra.note", "hi"), device)
		require.NoError(t, err)
		assert.Equal(t, storage.Filter{"extra.note": map[string]any{"$eq": "hi"}}, got)
	})

	t.Run("scalar field does not descend", func(t *testing.T) {
		_, err := Compile(Eq("label.x", 1), device)
		assert.ErrorIs(t, err, ErrUnknownField)
	})
}

func TestCompileRequiresRegisteredType(t *testing.T) {
	_, err := Compile(nil, schema.NewType("Loose", schema.String("x")))
	assert.ErrorIs(t, err, schema.ErrNotRegistered)

	_, err = Compile(nil, nil)
	assert.Error(t, err)
}

func TestOpString(t *testing.T) {
	assert.Equal(t, ">=", OpGte.String())
	assert.Equal(t, "match", OpMatch.String())
	assert.Equal(t, "Op(99)", Op(99).String())
}
