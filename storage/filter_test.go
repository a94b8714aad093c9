package storage

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestMatchesComparisons(t *testing.T) {
	doc := Document{
		"name":  "Rex",
		"age":   int64(7),
		"score": 1.5,
		"tags":  []any{"big", "loud"},
		"nested": map[string]any{
			"city": "Lyon",
		},
	}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"eq hit", Filter{"name": map[string]any{"$eq": "Rex"}}, true},
		{"eq miss", Filter{"name": map[string]any{"$eq": "Fido"}}, false},
		{"eq shorthand", Filter{"name": "Rex"}, true},
		{"eq across numeric kinds", Filter{"age": map[string]any{"$eq": 7.0}}, true},
		{"ne hit", Filter{"name": map[string]any{"$ne": "Fido"}}, true},
		{"ne on absent field matches", Filter{"ghost": map[string]any{"$ne": 1}}, true},
		{"gt", Filter{"age": map[string]any{"$gt": int64(6)}}, true},
		{"gte boundary", Filter{"age": map[string]any{"$gte": int64(7)}}, true},
		{"lt miss", Filter{"age": map[string]any{"$lt": int64(7)}}, false},
		{"lte boundary", Filter{"age": map[string]any{"$lte": 7.0}}, true},
		{"string ordering", Filter{"name": map[string]any{"$gt": "Apollo"}}, true},
		{"in hit", Filter{"name": map[string]any{"$in": []any{"Fido", "Rex"}}}, true},
		{"in miss", Filter{"name": map[string]any{"$in": []any{"Fido"}}}, false},
		{"in on absent field", Filter{"ghost": map[string]any{"$in": []any{1}}}, false},
		{"exists true", Filter{"score": map[string]any{"$exists": true}}, true},
		{"exists false", Filter{"ghost": map[string]any{"$exists": false}}, true},
		{"exists false miss", Filter{"score": map[string]any{"$exists": false}}, false},
		{"regex hit", Filter{"name": map[string]any{"$regex": "^R"}}, true},
		{"regex miss", Filter{"name": map[string]any{"$regex": "^Z"}}, false},
		{"regex non-string", Filter{"age": map[string]any{"$regex": "7"}}, false},
		{"list equality", Filter{"tags": map[string]any{"$eq": []any{"big", "loud"}}}, true},
		{"dotted path", Filter{"nested.city": map[string]any{"$eq": "Lyon"}}, true},
		{"dotted path absent", Filter{"nested.zip": map[string]any{"$exists": false}}, true},
		{"ordering against absent field", Filter{"ghost": map[string]any{"$gt": 1}}, false},
		{"unorderable pair", Filter{"name": map[string]any{"$gt": int64(3)}}, false},
		{"empty filter", Filter{}, true},
		{"nil filter", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Matches(doc, tt.filter))
		})
	}
}

func TestMatchesBooleans(t *testing.T) {
	doc := Document{"age": int64(20), "status": "pending"}

	and := Filter{"$and": []any{
		map[string]any{"age": map[string]any{"$gte": int64(18)}},
		map[string]any{"$or": []any{
			map[string]any{"status": map[string]any{"$eq": "active"}},
			map[string]any{"status": map[string]any{"$eq": "pending"}},
		}},
	}}
	assert.True(t, Matches(doc, and))
	assert.False(t, Matches(Document{"age": int64(20), "status": "banned"}, and))
	assert.False(t, Matches(Document{"age": int64(10), "status": "pending"}, and))

	assert.True(t, Matches(doc, Filter{"$and": []any{}}), "empty conjunction matches all")
	assert.False(t, Matches(doc, Filter{"$or": []any{}}), "empty disjunction matches none")

	not := Filter{"$not": map[string]any{"status": map[string]any{"$eq": "pending"}}}
	assert.False(t, Matches(doc, not))
	assert.True(t, Matches(Document{"status": "active"}, not))
}

func TestMatchesTypedScalars(t *testing.T) {
	id := uuid.New()
	earlier := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	later := earlier.Add(48 * time.Hour)

	doc := Document{
		"id":   id,
		"at":   later,
		"blob": []byte{0x01, 0x02},
	}

	assert.True(t, Matches(doc, Filter{"id": map[string]any{"$eq": id}}))
	assert.True(t, Matches(doc, Filter{"at": map[string]any{"$gt": earlier}}))
	assert.False(t, Matches(doc, Filter{"at": map[string]any{"$lt": earlier}}))
	assert.True(t, Matches(doc, Filter{"blob": map[string]any{"$eq": []byte{0x01, 0x02}}}))
	assert.True(t, Matches(doc, Filter{"blob": map[string]any{"$gt": []byte{0x01}}}))

	// Times in different zones compare by instant.
	zoned := later.In(time.FixedZone("CET", 3600))
	assert.True(t, Matches(doc, Filter{"at": map[string]any{"$eq": zoned}}))
}
