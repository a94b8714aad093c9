package codec

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docent-db/docent/record"
	"github.com/docent-db/docent/schema"
	"github.com/docent-db/docent/storage"
)

func codecRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg := schema.NewRegistry()

	require.NoError(t, reg.Register(schema.NewType("Animal",
		schema.String("name").Required(),
		schema.Int("age").Default(0),
	).Key("name").Polymorphic()))

	require.NoError(t, reg.Register(schema.NewType("Dog",
		schema.String("breed").Stored("breed_name"),
	).Extends("Animal")))

	require.NoError(t, reg.Register(schema.NewType("Cat",
		schema.Bool("indoor").Default(true),
	).Extends("Animal")))

	require.NoError(t, reg.Register(schema.NewType("Device",
		schema.ID("id"),
		schema.String("label").Required(),
		schema.Time("installed"),
		schema.Binary("firmware"),
		schema.List("tags", schema.String("")),
	).Key("id")))

	require.NoError(t, reg.Register(schema.NewType("Reading",
		schema.String("tenant").Required(),
		schema.Int("seq").Required(),
		schema.Float("value"),
		schema.Reference("device", "Device").Stored("device_id"),
	).Key("tenant", "seq")))

	return reg
}

func resolve(t *testing.T, reg *schema.Registry, name string) *schema.Type {
	t.Helper()
	typ, err := reg.Resolve(name)
	require.NoError(t, err)
	return typ
}

func TestEncodeBasics(t *testing.T) {
	reg := codecRegistry(t)
	dog := record.New(resolve(t, reg, "Dog"))
	require.NoError(t, dog.Set("name", "Rex"))
	require.NoError(t, dog.Set("breed", "collie"))

	doc, err := Encode(reg, dog)
	require.NoError(t, err)

	// Single-field key stores under _id whatever its declared name.
	assert.Equal(t, "Rex", doc[storage.KeyID])
	_, hasName := doc["name"]
	assert.False(t, hasName)

	// Stored aliases apply, the default materializes, the discriminator
	// rides along.
	assert.Equal(t, "collie", doc["breed_name"])
	assert.Equal(t, int64(0), doc["age"])
	assert.Equal(t, "Dog", doc[storage.KeyType])
}

func TestEncodeRequiresFields(t *testing.T) {
	reg := codecRegistry(t)
	dog := record.New(resolve(t, reg, "Dog"))

	_, err := Encode(reg, dog)
	require.Error(t, err)
	assert.ErrorIs(t, err, schema.ErrMissingField)

	var fe *schema.FieldError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "name", fe.Field)
}

func TestEncodeMintableKeyMayBeAbsent(t *testing.T) {
	reg := codecRegistry(t)
	device := record.New(resolve(t, reg, "Device"))
	require.NoError(t, device.Set("label", "thermostat"))

	doc, err := Encode(reg, device)
	require.NoError(t, err)
	_, hasID := doc[storage.KeyID]
	assert.False(t, hasID)

	// A non-polymorphic type carries no discriminator.
	_, hasType := doc[storage.KeyType]
	assert.False(t, hasType)
}

func TestEncodeCollapsesReferences(t *testing.T) {
	reg := codecRegistry(t)

	device := record.New(resolve(t, reg, "Device"))
	id := uuid.New()
	require.NoError(t, device.Set("id", id))
	require.NoError(t, device.Set("label", "sensor"))

	reading := record.New(resolve(t, reg, "Reading"))
	require.NoError(t, reading.Set("tenant", "acme"))
	require.NoError(t, reading.Set("seq", 1))
	require.NoError(t, reading.Set("device", device))

	doc, err := Encode(reg, reading)
	require.NoError(t, err)
	assert.Equal(t, id, doc["device_id"])

	// Compound keys stay under their own stored names; no _id appears.
	assert.Equal(t, "acme", doc["tenant"])
	assert.Equal(t, int64(1), doc["seq"])
	_, hasID := doc[storage.KeyID]
	assert.False(t, hasID)
}

func TestDecodeRoundTrip(t *testing.T) {
	reg := codecRegistry(t)
	device := record.New(resolve(t, reg, "Device"))
	require.NoError(t, device.Set("id", uuid.New()))
	require.NoError(t, device.Set("label", "hub"))
	require.NoError(t, device.Set("installed", time.Date(2024, 6, 1, 8, 0, 0, 123456789, time.UTC)))
	require.NoError(t, device.Set("firmware", []byte{0xde, 0xad}))
	require.NoError(t, device.Set("tags", []string{"roof", "solar"}))

	doc, err := Encode(reg, device)
	require.NoError(t, err)

	back, err := Decode(reg, resolve(t, reg, "Device"), doc)
	require.NoError(t, err)

	assert.True(t, device.Equal(back), "decoded record differs: %s vs %s", device, back)
	assert.True(t, back.Saved())
}

func TestDecodeDispatchesOnDiscriminator(t *testing.T) {
	reg := codecRegistry(t)
	animal := resolve(t, reg, "Animal")

	doc := storage.Document{
		storage.KeyID:   "Rex",
		storage.KeyType: "Dog",
		"age":           int64(3),
		"breed_name":    "collie",
	}

	rec, err := Decode(reg, animal, doc)
	require.NoError(t, err)
	assert.Equal(t, "Dog", rec.TypeName())

	breed, _ := rec.Get("breed")
	assert.Equal(t, "collie", breed)

	name, _ := rec.Get("name")
	assert.Equal(t, "Rex", name)
}

func TestDecodeRejectsForeignDiscriminator(t *testing.T) {
	reg := codecRegistry(t)

	t.Run("unknown value", func(t *testing.T) {
		doc := storage.Document{storage.KeyID: "x", storage.KeyType: "Ferret"}
		_, err := Decode(reg, resolve(t, reg, "Animal"), doc)
		assert.ErrorIs(t, err, ErrUnknownDiscriminator)
	})

	t.Run("sibling outside subtree", func(t *testing.T) {
		doc := storage.Document{storage.KeyID: "x", storage.KeyType: "Cat"}
		_, err := Decode(reg, resolve(t, reg, "Dog"), doc)
		assert.ErrorIs(t, err, ErrUnknownDiscriminator)
	})

	t.Run("non-string value", func(t *testing.T) {
		doc := storage.Document{storage.KeyID: "x", storage.KeyType: 7}
		_, err := Decode(reg, resolve(t, reg, "Animal"), doc)
		assert.ErrorIs(t, err, ErrBadDocument)
	})
}

func TestDecodeDropsUnknownKeys(t *testing.T) {
	reg := codecRegistry(t)
	doc := storage.Document{
		storage.KeyID: "Rex",
		"age":         int64(2),
		"wingspan":    1.8,
	}

	rec, err := Decode(reg, resolve(t, reg, "Animal"), doc)
	require.NoError(t, err)
	_, ok := rec.Get("wingspan")
	assert.False(t, ok)
}

func TestDecodeAppliesDefaults(t *testing.T) {
	reg := codecRegistry(t)
	doc := storage.Document{storage.KeyID: "Whiskers", storage.KeyType: "Cat"}

	rec, err := Decode(reg, resolve(t, reg, "Animal"), doc)
	require.NoError(t, err)

	indoor, ok := rec.Get("indoor")
	require.True(t, ok)
	assert.Equal(t, true, indoor)
	age, ok := rec.Get("age")
	require.True(t, ok)
	assert.Equal(t, int64(0), age)
}

func TestDecodeBadValue(t *testing.T) {
	reg := codecRegistry(t)
	doc := storage.Document{storage.KeyID: "Rex", "age": "three"}

	_, err := Decode(reg, resolve(t, reg, "Animal"), doc)
	assert.ErrorIs(t, err, ErrBadDocument)
}

func TestDecodeRestoresReference(t *testing.T) {
	reg := codecRegistry(t)
	id := uuid.New()
	doc := storage.Document{
		"tenant":    "acme",
		"seq":       int64(4),
		"device_id": id.String(),
	}

	rec, err := Decode(reg, resolve(t, reg, "Reading"), doc)
	require.NoError(t, err)

	got, _ := rec.Get("device")
	ref, ok := got.(schema.Ref)
	require.True(t, ok)
	assert.Equal(t, "Device", ref.Type)
	assert.Equal(t, id, ref.Key, "string identifiers normalize to native ids")
}
