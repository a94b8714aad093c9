// Package memory provides the in-process storage engine: collections are
// document slices behind one mutex, and finds evaluate the filter dialect
// directly. It needs no setup or teardown, which makes it the reference
// backend for tests and the offline stand-in for a real store.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/docent-db/docent/storage"
)

// Engine is an in-memory storage.Engine. The zero value is not usable; create
// one with New. Safe for concurrent use.
type Engine struct {
	mu          sync.RWMutex
	collections map[string][]storage.Document
	indexes     map[string]map[string]storage.IndexSpec
}

// New creates an empty in-memory engine.
func New() *Engine {
	return &Engine{
		collections: make(map[string][]storage.Document),
		indexes:     make(map[string]map[string]storage.IndexSpec),
	}
}

// Insert stores a copy of doc, minting an engine key when none is present.
func (e *Engine) Insert(ctx context.Context, collection string, doc storage.Document) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stored := storage.CopyDocument(doc)
	key, ok := stored[storage.KeyID]
	if !ok {
		key = storage.NewKey()
		stored[storage.KeyID] = key
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, existing := range e.collections[collection] {
		if storage.Matches(existing, storage.Filter{storage.KeyID: map[string]any{storage.OpEq: key}}) {
			return nil, fmt.Errorf("%w: %v in %s", storage.ErrDuplicateKey, key, collection)
		}
	}
	e.collections[collection] = append(e.collections[collection], stored)
	return key, nil
}

// Find returns a cursor over copies of every matching document, snapshotted
// at call time.
func (e *Engine) Find(ctx context.Context, collection string, filter storage.Filter) (storage.Cursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	var matched []storage.Document
	for _, doc := range e.collections[collection] {
		if storage.Matches(doc, filter) {
			matched = append(matched, storage.CopyDocument(doc))
		}
	}
	return storage.NewSliceCursor(matched), nil
}

// Update replaces the contents of every matching document with doc, keeping
// each document's engine key, and reports how many were replaced.
func (e *Engine) Update(ctx context.Context, collection string, filter storage.Filter, doc storage.Document) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	count := 0
	docs := e.collections[collection]
	for i, existing := range docs {
		if !storage.Matches(existing, filter) {
			continue
		}
		replacement := storage.CopyDocument(doc)
		replacement[storage.KeyID] = existing[storage.KeyID]
		docs[i] = replacement
		count++
	}
	return count, nil
}

// Delete removes every matching document and reports how many went away.
func (e *Engine) Delete(ctx context.Context, collection string, filter storage.Filter) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	docs := e.collections[collection]
	kept := docs[:0]
	count := 0
	for _, doc := range docs {
		if storage.Matches(doc, filter) {
			count++
			continue
		}
		kept = append(kept, doc)
	}
	e.collections[collection] = kept
	return count, nil
}

// CreateIndex records the spec. The engine serves every query by scan, so
// indexes have no effect beyond being observable through Indexes.
func (e *Engine) CreateIndex(ctx context.Context, collection string, spec storage.IndexSpec) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	byName := e.indexes[collection]
	if byName == nil {
		byName = make(map[string]storage.IndexSpec)
		e.indexes[collection] = byName
	}
	byName[spec.Name] = spec
	return nil
}

// Indexes returns the recorded index specs for a collection.
func (e *Engine) Indexes(collection string) []storage.IndexSpec {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]storage.IndexSpec, 0, len(e.indexes[collection]))
	for _, spec := range e.indexes[collection] {
		out = append(out, spec)
	}
	return out
}

// Len reports how many documents a collection holds.
func (e *Engine) Len(collection string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.collections[collection])
}
