// Package boltstore persists collections in a single bbolt file. Documents
// live in a nested bucket per collection as tagged JSON, keyed by their
// encoded engine key, so typed values survive a restart intact.
package boltstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/docent-db/docent/storage"
)

var (
	bucketData    = []byte("data")
	bucketIndexes = []byte("indexes")
)

// Engine is a storage.Engine backed by a bbolt database file.
type Engine struct {
	db *bolt.DB
}

// Open opens the database file at path, creating it when absent.
func Open(path string) (*Engine, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("boltstore: open %s: %w", path, err)
	}
	engine, err := NewWithDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return engine, nil
}

// NewWithDB wraps an already opened bbolt database, creating the top-level
// buckets if they do not exist yet.
func NewWithDB(db *bolt.DB) (*Engine, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketData, bucketIndexes} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("boltstore: init buckets: %w", err)
	}
	return &Engine{db: db}, nil
}

// Close releases the underlying database file.
func (e *Engine) Close() error {
	return e.db.Close()
}

// Insert stores doc under its engine key, minting one when absent, and
// fails with storage.ErrDuplicateKey when the key is already taken.
func (e *Engine) Insert(ctx context.Context, collection string, doc storage.Document) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key, stored := storage.EnsureKey(doc)
	id, err := storage.EncodeKey(key)
	if err != nil {
		return nil, err
	}
	data, err := storage.MarshalDocument(stored)
	if err != nil {
		return nil, err
	}

	err = e.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.Bucket(bucketData).CreateBucketIfNotExists([]byte(collection))
		if err != nil {
			return err
		}
		if bucket.Get([]byte(id)) != nil {
			return fmt.Errorf("%w: %v in %s", storage.ErrDuplicateKey, key, collection)
		}
		return bucket.Put([]byte(id), data)
	})
	if err != nil {
		return nil, err
	}
	return key, nil
}

// Find scans the collection bucket and returns a cursor over every document
// the filter admits.
func (e *Engine) Find(ctx context.Context, collection string, filter storage.Filter) (storage.Cursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var matched []storage.Document
	err := e.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketData).Bucket([]byte(collection))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(_, data []byte) error {
			doc, err := storage.UnmarshalDocument(data)
			if err != nil {
				return err
			}
			if storage.Matches(doc, filter) {
				matched = append(matched, doc)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return storage.NewSliceCursor(matched), nil
}

// Update replaces the contents of every matching document with doc, keeping
// each document's engine key. Replacements are collected during the scan and
// written afterwards, since bbolt forbids mutating a bucket mid-iteration.
func (e *Engine) Update(ctx context.Context, collection string, filter storage.Filter, doc storage.Document) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	count := 0
	err := e.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketData).Bucket([]byte(collection))
		if bucket == nil {
			return nil
		}

		replacements := make(map[string][]byte)
		err := bucket.ForEach(func(id, data []byte) error {
			existing, err := storage.UnmarshalDocument(data)
			if err != nil {
				return err
			}
			if !storage.Matches(existing, filter) {
				return nil
			}
			replaced := make(storage.Document, len(doc)+1)
			for k, v := range doc {
				replaced[k] = v
			}
			replaced[storage.KeyID] = existing[storage.KeyID]
			value, err := storage.MarshalDocument(replaced)
			if err != nil {
				return err
			}
			replacements[string(id)] = value
			return nil
		})
		if err != nil {
			return err
		}

		for id, value := range replacements {
			if err := bucket.Put([]byte(id), value); err != nil {
				return err
			}
		}
		count = len(replacements)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Delete removes every matching document and reports how many went away.
func (e *Engine) Delete(ctx context.Context, collection string, filter storage.Filter) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	count := 0
	err := e.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketData).Bucket([]byte(collection))
		if bucket == nil {
			return nil
		}

		var doomed [][]byte
		err := bucket.ForEach(func(id, data []byte) error {
			doc, err := storage.UnmarshalDocument(data)
			if err != nil {
				return err
			}
			if storage.Matches(doc, filter) {
				doomed = append(doomed, append([]byte(nil), id...))
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, id := range doomed {
			if err := bucket.Delete(id); err != nil {
				return err
			}
		}
		count = len(doomed)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// CreateIndex records the spec under the collection's index bucket. Lookups
// are served by scan, so the spec is advisory metadata.
func (e *Engine) CreateIndex(ctx context.Context, collection string, spec storage.IndexSpec) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	value, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("boltstore: marshal index %s: %w", spec.Name, err)
	}
	return e.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.Bucket(bucketIndexes).CreateBucketIfNotExists([]byte(collection))
		if err != nil {
			return err
		}
		return bucket.Put([]byte(spec.Name), value)
	})
}

// Indexes returns the specs recorded for a collection.
func (e *Engine) Indexes(collection string) ([]storage.IndexSpec, error) {
	var specs []storage.IndexSpec
	err := e.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketIndexes).Bucket([]byte(collection))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(_, value []byte) error {
			var spec storage.IndexSpec
			if err := json.Unmarshal(value, &spec); err != nil {
				return err
			}
			specs = append(specs, spec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return specs, nil
}
