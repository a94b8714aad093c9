// Package redistore keeps collections in Redis hashes. Each collection is
// one hash whose fields are encoded engine keys and whose values are tagged
// JSON documents, so a collection scan is a single HGETALL.
package redistore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/docent-db/docent/storage"
)

// Config holds Redis connection settings.
type Config struct {
	// Addr is the Redis server address (host:port)
	Addr string
	// Password is the Redis password (optional)
	Password string
	// DB is the Redis database number
	DB int
	// Prefix namespaces every key this engine touches
	Prefix string
}

// DefaultConfig returns a default Redis configuration.
func DefaultConfig() Config {
	return Config{
		Addr:     "localhost:6379",
		Password: "",
		DB:       0,
		Prefix:   "docent:",
	}
}

// Engine is a storage.Engine backed by a Redis server.
type Engine struct {
	client *redis.Client
	prefix string
}

// Open connects to Redis with the given configuration and verifies the
// connection with a ping.
func Open(config Config) (*Engine, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redistore: ping %s: %w", config.Addr, err)
	}

	return NewWithClient(client, config.Prefix), nil
}

// NewWithClient wraps an existing Redis client.
func NewWithClient(client *redis.Client, prefix string) *Engine {
	return &Engine{client: client, prefix: prefix}
}

// Close closes the Redis connection.
func (e *Engine) Close() error {
	return e.client.Close()
}

func (e *Engine) dataKey(collection string) string {
	return e.prefix + "data:" + collection
}

func (e *Engine) indexKey(collection string) string {
	return e.prefix + "indexes:" + collection
}

// Insert stores doc as a new hash field, minting an engine key when absent.
// HSETNX makes the duplicate check and the write one atomic step.
func (e *Engine) Insert(ctx context.Context, collection string, doc storage.Document) (any, error) {
	key, stored := storage.EnsureKey(doc)
	field, err := storage.EncodeKey(key)
	if err != nil {
		return nil, err
	}
	value, err := storage.MarshalDocument(stored)
	if err != nil {
		return nil, err
	}

	set, err := e.client.HSetNX(ctx, e.dataKey(collection), field, value).Result()
	if err != nil {
		return nil, err
	}
	if !set {
		return nil, fmt.Errorf("%w: %v in %s", storage.ErrDuplicateKey, key, collection)
	}
	return key, nil
}

// Find fetches the collection hash and returns a cursor over every document
// the filter admits, in encoded-key order.
func (e *Engine) Find(ctx context.Context, collection string, filter storage.Filter) (storage.Cursor, error) {
	raw, err := e.client.HGetAll(ctx, e.dataKey(collection)).Result()
	if err != nil {
		return nil, err
	}

	fields := make([]string, 0, len(raw))
	for field := range raw {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	var matched []storage.Document
	for _, field := range fields {
		doc, err := storage.UnmarshalDocument([]byte(raw[field]))
		if err != nil {
			return nil, err
		}
		if storage.Matches(doc, filter) {
			matched = append(matched, doc)
		}
	}
	return storage.NewSliceCursor(matched), nil
}

// Update replaces the contents of every matching document with doc, keeping
// each document's engine key, and reports how many were replaced.
func (e *Engine) Update(ctx context.Context, collection string, filter storage.Filter, doc storage.Document) (int, error) {
	raw, err := e.client.HGetAll(ctx, e.dataKey(collection)).Result()
	if err != nil {
		return 0, err
	}

	replacements := make(map[string]any)
	for field, data := range raw {
		existing, err := storage.UnmarshalDocument([]byte(data))
		if err != nil {
			return 0, err
		}
		if !storage.Matches(existing, filter) {
			continue
		}
		replaced := make(storage.Document, len(doc)+1)
		for k, v := range doc {
			replaced[k] = v
		}
		replaced[storage.KeyID] = existing[storage.KeyID]
		value, err := storage.MarshalDocument(replaced)
		if err != nil {
			return 0, err
		}
		replacements[field] = value
	}
	if len(replacements) == 0 {
		return 0, nil
	}

	if err := e.client.HSet(ctx, e.dataKey(collection), replacements).Err(); err != nil {
		return 0, err
	}
	return len(replacements), nil
}

// Delete removes every matching document and reports how many went away.
func (e *Engine) Delete(ctx context.Context, collection string, filter storage.Filter) (int, error) {
	raw, err := e.client.HGetAll(ctx, e.dataKey(collection)).Result()
	if err != nil {
		return 0, err
	}

	var doomed []string
	for field, data := range raw {
		doc, err := storage.UnmarshalDocument([]byte(data))
		if err != nil {
			return 0, err
		}
		if storage.Matches(doc, filter) {
			doomed = append(doomed, field)
		}
	}
	if len(doomed) == 0 {
		return 0, nil
	}

	removed, err := e.client.HDel(ctx, e.dataKey(collection), doomed...).Result()
	if err != nil {
		return 0, err
	}
	return int(removed), nil
}

// CreateIndex records the spec in the collection's index hash. Lookups are
// served by scan, so the spec is advisory metadata.
func (e *Engine) CreateIndex(ctx context.Context, collection string, spec storage.IndexSpec) error {
	value, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("redistore: marshal index %s: %w", spec.Name, err)
	}
	return e.client.HSet(ctx, e.indexKey(collection), spec.Name, value).Err()
}

// Indexes returns the specs recorded for a collection.
func (e *Engine) Indexes(ctx context.Context, collection string) ([]storage.IndexSpec, error) {
	raw, err := e.client.HGetAll(ctx, e.indexKey(collection)).Result()
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	specs := make([]storage.IndexSpec, 0, len(names))
	for _, name := range names {
		var spec storage.IndexSpec
		if err := json.Unmarshal([]byte(raw[name]), &spec); err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}
