package codec

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docent-db/docent/record"
	"github.com/docent-db/docent/schema"
)

func TestTreeRoundTrip(t *testing.T) {
	reg := codecRegistry(t)
	device := record.New(resolve(t, reg, "Device"))
	id := uuid.New()
	require.NoError(t, device.Set("id", id))
	require.NoError(t, device.Set("label", "hub"))
	require.NoError(t, device.Set("installed", time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)))
	require.NoError(t, device.Set("firmware", []byte("fw-1.2")))
	require.NoError(t, device.Set("tags", []string{"roof"}))

	tree, err := EncodeTree(device)
	require.NoError(t, err)

	// Everything in the tree is wire-safe.
	assert.Equal(t, id.String(), tree["id"])
	assert.Equal(t, "2024-06-01T08:00:00Z", tree["installed"])
	assert.Equal(t, "ZnctMS4y", tree["firmware"])

	back, err := DecodeTree(reg, resolve(t, reg, "Device"), tree)
	require.NoError(t, err)
	assert.True(t, device.Equal(back), "tree round trip differs: %s vs %s", device, back)

	// Wire payloads are input, not storage.
	assert.False(t, back.Saved())
}

func TestTreeReferenceAsIdentifier(t *testing.T) {
	reg := codecRegistry(t)
	id := uuid.New()

	reading := record.New(resolve(t, reg, "Reading"))
	require.NoError(t, reading.Set("tenant", "acme"))
	require.NoError(t, reading.Set("seq", 1))
	require.NoError(t, reading.Set("device", id))

	tree, err := EncodeTree(reading)
	require.NoError(t, err)
	assert.Equal(t, id.String(), tree["device"])

	back, err := DecodeTree(reg, resolve(t, reg, "Reading"), tree)
	require.NoError(t, err)
	got, _ := back.Get("device")
	assert.Equal(t, schema.Ref{Type: "Device", Key: id}, got)
}

func TestTreeDispatchesOnDiscriminator(t *testing.T) {
	reg := codecRegistry(t)

	tree := map[string]any{
		"_type": "Dog",
		"name":  "Rex",
		"breed": "collie",
	}
	rec, err := DecodeTree(reg, resolve(t, reg, "Animal"), tree)
	require.NoError(t, err)
	assert.Equal(t, "Dog", rec.TypeName())

	_, err = DecodeTree(reg, resolve(t, reg, "Animal"), map[string]any{"_type": "Ferret"})
	assert.ErrorIs(t, err, ErrUnknownDiscriminator)
}

func TestEncodeJSONOrdersKeys(t *testing.T) {
	reg := codecRegistry(t)
	dog := record.New(resolve(t, reg, "Dog"))
	require.NoError(t, dog.Set("name", "Rex"))
	require.NoError(t, dog.Set("age", 3))
	require.NoError(t, dog.Set("breed", "collie"))

	data, err := EncodeJSON(dog)
	require.NoError(t, err)

	s := string(data)
	order := []string{`"_type"`, `"name"`, `"age"`, `"breed"`}
	last := -1
	for _, key := range order {
		idx := strings.Index(s, key)
		require.GreaterOrEqual(t, idx, 0, "missing %s in %s", key, s)
		assert.Greater(t, idx, last, "%s out of order in %s", key, s)
		last = idx
	}

	// Still a plain JSON object.
	var parsed map[string]any
	require.NoError(t, json.Unmarshal(data, &parsed))
	assert.Equal(t, "Rex", parsed["name"])
}

func TestDecodeJSON(t *testing.T) {
	reg := codecRegistry(t)

	t.Run("round trip", func(t *testing.T) {
		dog := record.New(resolve(t, reg, "Dog"))
		require.NoError(t, dog.Set("name", "Rex"))
		require.NoError(t, dog.Set("breed", "collie"))

		data, err := EncodeJSON(dog)
		require.NoError(t, err)

		back, err := DecodeJSON(reg, resolve(t, reg, "Animal"), data)
		require.NoError(t, err)
		assert.Equal(t, "Dog", back.TypeName())
		assert.True(t, dog.Equal(back))
	})

	t.Run("large integers survive", func(t *testing.T) {
		payload := `{"name": "Methuselah", "age": 9007199254740993}`
		rec, err := DecodeJSON(reg, resolve(t, reg, "Animal"), []byte(payload))
		require.NoError(t, err)
		age, _ := rec.Get("age")
		assert.Equal(t, int64(9007199254740993), age)
	})

	t.Run("bad payload", func(t *testing.T) {
		_, err := DecodeJSON(reg, resolve(t, reg, "Animal"), []byte(`[1,2]`))
		assert.ErrorIs(t, err, ErrBadDocument)
	})
}
