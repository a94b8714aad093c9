// Package docent maps typed record schemas onto schemaless document stores.
// A Session binds a storage engine to a schema registry; per-type Managers
// turn records into documents through the codec, queries into filters through
// the compiler, and hand both to the engine. The mapping layer performs no
// I/O of its own.
package docent

import (
	"go.uber.org/zap"

	"github.com/docent-db/docent/schema"
	"github.com/docent-db/docent/storage"
)

// Session binds a storage engine to a schema registry and carries the pieces
// every manager shares: the logger and the lifecycle hooks. Register all
// types before concurrent use begins; after that a session is safe to share.
type Session struct {
	engine storage.Engine
	reg    *schema.Registry
	log    *zap.Logger
	hooks  *hookSet
}

// Option customizes a session.
type Option func(*Session)

// WithLogger sets the session logger. The default discards everything;
// queries and writes log at debug level, errors are never logged because
// they propagate to the caller.
func WithLogger(log *zap.Logger) Option {
	return func(s *Session) { s.log = log }
}

// WithRegistry backs the session with an existing registry instead of a
// fresh one, so several sessions can share one set of type declarations.
func WithRegistry(reg *schema.Registry) Option {
	return func(s *Session) { s.reg = reg }
}

// NewSession creates a session on the given engine.
func NewSession(engine storage.Engine, opts ...Option) *Session {
	s := &Session{
		engine: engine,
		reg:    schema.NewRegistry(),
		log:    zap.NewNop(),
		hooks:  newHookSet(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry returns the session's schema registry.
func (s *Session) Registry() *schema.Registry {
	return s.reg
}

// Engine returns the storage engine backing the session.
func (s *Session) Engine() storage.Engine {
	return s.engine
}

// Register adds type declarations to the session's registry, stopping at the
// first rejected one. Parents must come before their subtypes.
func (s *Session) Register(types ...*schema.Type) error {
	for _, t := range types {
		if err := s.reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// On registers a lifecycle hook for the named type. Hooks registered on a
// parent type fire for its subtypes too, parents first.
func (s *Session) On(typeName string, hook HookType, fn HookFunc) {
	s.hooks.add(typeName, hook, fn)
}

// Manager returns the per-type entry point for typ, which must be registered
// with the session's registry.
func (s *Session) Manager(typ *schema.Type) *Manager {
	return &Manager{session: s, typ: typ}
}

// ManagerFor resolves a type by name and returns its manager.
func (s *Session) ManagerFor(name string) (*Manager, error) {
	typ, err := s.reg.Resolve(name)
	if err != nil {
		return nil, err
	}
	return s.Manager(typ), nil
}
