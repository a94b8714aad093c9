package storage

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// EngineCompatibilityKit runs the engine contract against an implementation.
// Every bundled adapter's test suite calls it, so a behavior added here is
// enforced across all backends at once. The kit uses a distinct collection
// per subtest; engines may be shared across kit runs.
func EngineCompatibilityKit(t *testing.T, engine Engine) {
	t.Run("InsertMintsMissingKey", func(t *testing.T) { testInsertMintsMissingKey(t, engine) })
	t.Run("InsertKeepsProvidedKey", func(t *testing.T) { testInsertKeepsProvidedKey(t, engine) })
	t.Run("InsertRejectsDuplicateKey", func(t *testing.T) { testInsertRejectsDuplicateKey(t, engine) })
	t.Run("FindEvaluatesFilterDialect", func(t *testing.T) { testFindEvaluatesFilterDialect(t, engine) })
	t.Run("FindAbsentCollection", func(t *testing.T) { testFindAbsentCollection(t, engine) })
	t.Run("RoundTripsTypedScalars", func(t *testing.T) { testRoundTripsTypedScalars(t, engine) })
	t.Run("UpdateReplacesPreservingKey", func(t *testing.T) { testUpdateReplacesPreservingKey(t, engine) })
	t.Run("DeleteRemovesMatches", func(t *testing.T) { testDeleteRemovesMatches(t, engine) })
	t.Run("CreateIndexAccepted", func(t *testing.T) { testCreateIndexAccepted(t, engine) })
	t.Run("CursorIsSinglePass", func(t *testing.T) { testCursorIsSinglePass(t, engine) })
}

func drain(t *testing.T, cur Cursor) []Document {
	t.Helper()
	var docs []Document
	for cur.Next() {
		docs = append(docs, cur.Document())
	}
	require.NoError(t, cur.Err())
	require.NoError(t, cur.Close())
	return docs
}

// names extracts the "name" value of every document and sorts it, so results
// compare independently of engine iteration order.
func names(docs []Document) []string {
	out := make([]string, 0, len(docs))
	for _, doc := range docs {
		if s, ok := doc["name"].(string); ok {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

func testInsertMintsMissingKey(t *testing.T, engine Engine) {
	ctx := context.Background()

	key, err := engine.Insert(ctx, "tck_mint", Document{"name": "a"})
	require.NoError(t, err)
	minted, ok := key.(uuid.UUID)
	require.True(t, ok, "minted key is %T, want uuid.UUID", key)

	cur, err := engine.Find(ctx, "tck_mint", Filter{KeyID: map[string]any{OpEq: minted}})
	require.NoError(t, err)
	docs := drain(t, cur)
	require.Len(t, docs, 1)
	assert.Equal(t, minted, docs[0][KeyID])
	assert.Equal(t, "a", docs[0]["name"])
}

func testInsertKeepsProvidedKey(t *testing.T, engine Engine) {
	ctx := context.Background()

	key, err := engine.Insert(ctx, "tck_keep", Document{KeyID: "rex", "name": "b"})
	require.NoError(t, err)
	assert.Equal(t, "rex", key)

	cur, err := engine.Find(ctx, "tck_keep", Filter{KeyID: map[string]any{OpEq: "rex"}})
	require.NoError(t, err)
	docs := drain(t, cur)
	require.Len(t, docs, 1)
	assert.Equal(t, "b", docs[0]["name"])
}

func testInsertRejectsDuplicateKey(t *testing.T, engine Engine) {
	ctx := context.Background()

	_, err := engine.Insert(ctx, "tck_dup", Document{KeyID: int64(7), "name": "first"})
	require.NoError(t, err)

	_, err = engine.Insert(ctx, "tck_dup", Document{KeyID: int64(7), "name": "second"})
	assert.ErrorIs(t, err, ErrDuplicateKey)

	// A different collection is a different key space.
	_, err = engine.Insert(ctx, "tck_dup_other", Document{KeyID: int64(7), "name": "third"})
	assert.NoError(t, err)
}

func testFindEvaluatesFilterDialect(t *testing.T, engine Engine) {
	ctx := context.Background()

	seed := []Document{
		{KeyID: "a", "name": "ada", "age": int64(35), "status": "active"},
		{KeyID: "b", "name": "bob", "age": int64(17), "status": "active"},
		{KeyID: "c", "name": "cya", "age": int64(42), "status": "banned"},
	}
	for _, doc := range seed {
		_, err := engine.Insert(ctx, "tck_find", doc)
		require.NoError(t, err)
	}

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"all", Filter{}, []string{"ada", "bob", "cya"}},
		{"eq", Filter{"status": map[string]any{OpEq: "active"}}, []string{"ada", "bob"}},
		{"gte", Filter{"age": map[string]any{OpGte: int64(35)}}, []string{"ada", "cya"}},
		{"in", Filter{KeyID: map[string]any{OpIn: []any{"a", "c"}}}, []string{"ada", "cya"}},
		{"regex", Filter{"name": map[string]any{OpRegex: "a$"}}, []string{"ada", "cya"}},
		{"and or", Filter{OpAnd: []any{
			map[string]any{"age": map[string]any{OpGte: int64(18)}},
			map[string]any{OpOr: []any{
				map[string]any{"status": map[string]any{OpEq: "active"}},
				map[string]any{"status": map[string]any{OpEq: "pending"}},
			}},
		}}, []string{"ada"}},
		{"none", Filter{"status": map[string]any{OpEq: "ghost"}}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cur, err := engine.Find(ctx, "tck_find", tt.filter)
			require.NoError(t, err)
			got := names(drain(t, cur))
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func testFindAbsentCollection(t *testing.T, engine Engine) {
	ctx := context.Background()

	cur, err := engine.Find(ctx, "tck_absent", Filter{})
	require.NoError(t, err)
	assert.Empty(t, drain(t, cur))

	n, err := engine.Update(ctx, "tck_absent", Filter{}, Document{"x": int64(1)})
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = engine.Delete(ctx, "tck_absent", Filter{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testRoundTripsTypedScalars(t *testing.T, engine Engine) {
	ctx := context.Background()
	id := uuid.New()

	doc := Document{
		KeyID:   id,
		"at":    time.Date(2024, 6, 1, 8, 0, 0, 123456789, time.UTC),
		"blob":  []byte{0xde, 0xad},
		"count": int64(42),
		"ratio": 2.5,
		"flag":  true,
		"gone":  nil,
		"tags":  []any{"x", "y"},
		"meta":  map[string]any{"deep": map[string]any{"n": int64(1)}},
	}
	_, err := engine.Insert(ctx, "tck_scalars", doc)
	require.NoError(t, err)

	cur, err := engine.Find(ctx, "tck_scalars", Filter{KeyID: map[string]any{OpEq: id}})
	require.NoError(t, err)
	docs := drain(t, cur)
	require.Len(t, docs, 1)
	assert.Equal(t, doc, docs[0])

	// Typed scalars stay comparable inside filters after a round trip.
	cur, err = engine.Find(ctx, "tck_scalars", Filter{"at": map[string]any{OpLt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}})
	require.NoError(t, err)
	assert.Len(t, drain(t, cur), 1)
}

func testUpdateReplacesPreservingKey(t *testing.T, engine Engine) {
	ctx := context.Background()

	_, err := engine.Insert(ctx, "tck_update", Document{KeyID: "u1", "name": "ada", "age": int64(35)})
	require.NoError(t, err)
	_, err = engine.Insert(ctx, "tck_update", Document{KeyID: "u2", "name": "bob", "age": int64(17)})
	require.NoError(t, err)

	n, err := engine.Update(ctx, "tck_update",
		Filter{KeyID: map[string]any{OpEq: "u1"}},
		Document{"name": "ada", "age": int64(36)})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	cur, err := engine.Find(ctx, "tck_update", Filter{KeyID: map[string]any{OpEq: "u1"}})
	require.NoError(t, err)
	docs := drain(t, cur)
	require.Len(t, docs, 1)
	assert.Equal(t, "u1", docs[0][KeyID], "update keeps the engine key")
	assert.Equal(t, int64(36), docs[0]["age"])

	n, err = engine.Update(ctx, "tck_update", Filter{"name": map[string]any{OpEq: "nobody"}}, Document{"x": int64(1)})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testDeleteRemovesMatches(t *testing.T, engine Engine) {
	ctx := context.Background()

	for i, name := range []string{"ada", "bob", "cya"} {
		_, err := engine.Insert(ctx, "tck_delete", Document{KeyID: int64(i), "name": name, "tier": int64(i % 2)})
		require.NoError(t, err)
	}

	n, err := engine.Delete(ctx, "tck_delete", Filter{"tier": map[string]any{OpEq: int64(0)}})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	cur, err := engine.Find(ctx, "tck_delete", Filter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, names(drain(t, cur)))
}

func testCreateIndexAccepted(t *testing.T, engine Engine) {
	ctx := context.Background()

	spec := IndexSpec{Name: "by_name", Fields: []string{"name"}, Unique: false}
	require.NoError(t, engine.CreateIndex(ctx, "tck_index", spec))

	// Redeclaring is idempotent.
	require.NoError(t, engine.CreateIndex(ctx, "tck_index", spec))
}

func testCursorIsSinglePass(t *testing.T, engine Engine) {
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := engine.Insert(ctx, "tck_cursor", Document{KeyID: int64(i), "name": "n"})
		require.NoError(t, err)
	}

	cur, err := engine.Find(ctx, "tck_cursor", Filter{})
	require.NoError(t, err)

	count := 0
	for cur.Next() {
		require.NotNil(t, cur.Document())
		count++
	}
	assert.Equal(t, 3, count)
	assert.False(t, cur.Next(), "a drained cursor stays drained")
	require.NoError(t, cur.Err())
	require.NoError(t, cur.Close())
}
