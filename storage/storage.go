// Package storage defines the contract between the mapping layer and the
// document store backing it, along with the native document and filter
// representations that cross that boundary.
//
// The mapping layer (codec, query compiler, record manager) only builds
// Documents and Filters; it never talks to a store directly. Engines own all
// I/O, connection handling, and durability concerns. Several engines ship in
// subpackages (memory, boltstore, redistore, sqlstore); anything that
// implements Engine can back a session.
package storage

import (
	"context"

	"github.com/google/uuid"
)

// Reserved document keys. Declared field storage names must not collide with
// these; the schema registry rejects definitions that try.
const (
	// KeyID is the engine-assigned document key. Single-field primary keys
	// are stored under it; engines mint a value for documents inserted
	// without one.
	KeyID = "_id"

	// KeyType is the discriminator key identifying the concrete record type
	// of documents in a polymorphic collection.
	KeyType = "_type"
)

// Document is the native representation of one stored entity: a string-keyed
// tree of scalars (string, int64, float64, bool, time.Time, []byte,
// uuid.UUID, nil), []any sequences, and nested map[string]any mappings.
type Document = map[string]any

// Filter is the native query representation consumed by Engine.Find, Update
// and Delete. Its shape is defined by the operator constants in filter.go
// and given meaning by Matches; engines must implement exactly those
// semantics, whether by delegating to Matches or natively.
type Filter = map[string]any

// IndexSpec describes a secondary index over one or more fields. Index
// creation is administrative: the mapping layer never calls CreateIndex,
// surrounding tooling does.
type IndexSpec struct {
	Name   string
	Fields []string
	Unique bool
}

// Cursor is a forward-only iterator over found documents, in the style of
// sql.Rows: Next advances and reports whether a document is available,
// Document returns the current one, Err reports the first iteration error,
// and Close releases resources. A cursor is single-pass and not restartable.
type Cursor interface {
	Next() bool
	Document() Document
	Err() error
	Close() error
}

// Engine is the storage contract consumed by the mapping layer. Collections
// spring into existence on first insert; operations against absent
// collections find nothing and affect zero documents.
//
// Engines are schema-blind: they see documents and filters, never record
// types. All blocking happens inside these calls, which accept a context for
// cancellation; the mapping layer treats them as opaque synchronous
// operations and propagates their errors unchanged.
type Engine interface {
	// Insert stores a new document and returns its engine key: the value
	// already present under KeyID, or a freshly minted identifier stored
	// under KeyID when the document arrives without one.
	Insert(ctx context.Context, collection string, doc Document) (any, error)

	// Find returns a cursor over every document matching the filter.
	Find(ctx context.Context, collection string, filter Filter) (Cursor, error)

	// Update replaces the contents of every document matching the filter
	// with doc, preserving each document's engine key, and returns the
	// number of documents replaced.
	Update(ctx context.Context, collection string, filter Filter, doc Document) (int, error)

	// Delete removes every document matching the filter and returns the
	// number removed.
	Delete(ctx context.Context, collection string, filter Filter) (int, error)

	// CreateIndex declares a secondary index. Engines with no native index
	// machinery may record the spec and serve queries by scan.
	CreateIndex(ctx context.Context, collection string, spec IndexSpec) error
}

// NewKey mints an engine key for a document inserted without one. All
// bundled engines use it so generated keys are uniform across backends.
func NewKey() uuid.UUID {
	return uuid.New()
}

// EnsureKey returns doc's engine key and the document to store. When doc has
// no key, a minted one is set on a shallow copy so the caller's map stays
// untouched.
func EnsureKey(doc Document) (any, Document) {
	if key, ok := doc[KeyID]; ok {
		return key, doc
	}
	stored := make(Document, len(doc)+1)
	for k, v := range doc {
		stored[k] = v
	}
	key := NewKey()
	stored[KeyID] = key
	return key, stored
}
