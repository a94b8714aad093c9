package schema

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const zooSchema = `
types:
  - name: Animal
    polymorphic: true
    key: [name]
    fields:
      - {name: name, kind: string, required: true}
      - {name: age, kind: int, default: 0, min: 0}
      - {name: tags, kind: list, elem: {kind: string}}
      - {name: seen, kind: time, default: now}
  - name: Dog
    extends: Animal
    discriminator: dog
    fields:
      - {name: owner, kind: ref, target: Person, stored: owner_id}
  - name: Person
    collection: people
    key: [email]
    fields:
      - {name: email, kind: string, required: true, pattern: "^[^@]+@[^@]+$"}
      - {name: nick, kind: string, max_length: 12}
`

func TestLoadInto(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, LoadInto(reg, []byte(zooSchema)))

	assert.Equal(t, 3, reg.Len())

	dog, err := reg.Resolve("Dog")
	require.NoError(t, err)
	assert.Equal(t, "animals", dog.CollectionName())
	assert.Equal(t, "dog", dog.DiscriminatorValue())

	owner, ok := dog.Field("owner")
	require.True(t, ok)
	assert.Equal(t, KindRef, owner.Kind())
	assert.Equal(t, "Person", owner.Target())
	assert.Equal(t, "owner_id", owner.StoredName())

	person, err := reg.Resolve("Person")
	require.NoError(t, err)
	assert.Equal(t, "people", person.CollectionName())

	email, _ := person.Field("email")
	_, err = email.Validate("not-an-email")
	assert.Error(t, err)
	_, err = email.Validate("a@b")
	assert.NoError(t, err)
}

func TestLoadTimeNowDefault(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, LoadInto(reg, []byte(zooSchema)))

	animal, _ := reg.Resolve("Animal")
	seen, _ := animal.Field("seen")

	before := time.Now().Add(-time.Minute)
	v, ok := seen.DefaultValue()
	require.True(t, ok)
	ts, isTime := v.(time.Time)
	require.True(t, isTime)
	assert.True(t, ts.After(before))
	assert.Equal(t, time.UTC, ts.Location())
}

func TestLoadErrors(t *testing.T) {
	t.Run("unknown kind", func(t *testing.T) {
		_, err := LoadTypes([]byte("types:\n  - name: T\n    key: [a]\n    fields:\n      - {name: a, kind: blob}\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "blob")
	})

	t.Run("bad pattern", func(t *testing.T) {
		_, err := LoadTypes([]byte("types:\n  - name: T\n    key: [a]\n    fields:\n      - {name: a, kind: string, pattern: \"[\"}\n"))
		assert.ErrorIs(t, err, ErrBadDeclaration)
	})

	t.Run("not yaml", func(t *testing.T) {
		_, err := LoadTypes([]byte("\t{{nope"))
		assert.Error(t, err)
	})

	t.Run("parent must precede child", func(t *testing.T) {
		reg := NewRegistry()
		err := LoadInto(reg, []byte(`
types:
  - name: Dog
    extends: Animal
    fields: [{name: breed, kind: string}]
  - name: Animal
    polymorphic: true
    key: [name]
    fields: [{name: name, kind: string}]
`))
		assert.ErrorIs(t, err, ErrUnknownType)
	})
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "zoo.yml")
	require.NoError(t, os.WriteFile(path, []byte(zooSchema), 0o644))

	reg := NewRegistry()
	require.NoError(t, LoadFile(reg, path))
	assert.True(t, reg.Exists("Animal"))

	err := LoadFile(reg, filepath.Join(dir, "missing.yml"))
	assert.Error(t, err)
}
