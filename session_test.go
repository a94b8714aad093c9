package docent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/docent-db/docent/schema"
	"github.com/docent-db/docent/storage/memory"
)

func TestRegisterStopsAtFirstError(t *testing.T) {
	s := NewSession(memory.New())

	err := s.Register(
		schema.NewType("Dog", schema.String("breed")).Extends("Animal"),
		schema.NewType("Animal", schema.String("name").Required()).Key("name").Polymorphic(),
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, schema.ErrUnknownType)

	// Nothing after the failure registered either.
	assert.False(t, s.Registry().Exists("Animal"))
}

func TestWithRegistrySharesDeclarations(t *testing.T) {
	reg := schema.NewRegistry()
	first := NewSession(memory.New(), WithRegistry(reg))
	require.NoError(t, first.Register(
		schema.NewType("Animal", schema.String("name").Required()).Key("name"),
	))

	second := NewSession(memory.New(), WithRegistry(reg))
	m, err := second.ManagerFor("Animal")
	require.NoError(t, err)
	assert.Equal(t, "Animal", m.Type().Name())
}

func TestWritesLogAtDebug(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	s := NewSession(memory.New(), WithLogger(zap.New(core)))
	require.NoError(t, s.Register(
		schema.NewType("Animal", schema.String("name").Required()).Key("name"),
	))

	m := mustManager(t, s, "Animal")
	rec, err := m.Make(map[string]any{"name": "Rex"})
	require.NoError(t, err)
	require.NoError(t, m.Save(context.Background(), rec))

	entries := logs.FilterMessage("save").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "Animal", fields["type"])
	assert.Equal(t, "animals", fields["collection"])
	assert.Equal(t, false, fields["replaced"])
}

func TestEngineAccessor(t *testing.T) {
	engine := memory.New()
	s := NewSession(engine)
	assert.Same(t, engine, s.Engine())
}
