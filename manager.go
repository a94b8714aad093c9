package docent

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/docent-db/docent/codec"
	"github.com/docent-db/docent/query"
	"github.com/docent-db/docent/record"
	"github.com/docent-db/docent/schema"
	"github.com/docent-db/docent/storage"
)

// Manager is the per-type façade over the engine. It accepts the managed
// type and its descendants, so an Animal manager saves and finds Dogs; the
// query compiler keeps subtype reads scoped to the right discriminators.
type Manager struct {
	session *Session
	typ     *schema.Type
}

// Type returns the managed record type.
func (m *Manager) Type() *schema.Type {
	return m.typ
}

// New creates an empty record of the managed type.
func (m *Manager) New() *record.Record {
	return record.New(m.typ)
}

// Make creates a record of the managed type with the given field values,
// failing on the first rejected value.
func (m *Manager) Make(values map[string]any) (*record.Record, error) {
	return record.Make(m.typ, values)
}

// Validate checks every field of rec and collects all failures into one
// schema.Errors, for form-style reporting. Save validates on its own; this
// is for checking before any write is attempted.
func (m *Manager) Validate(rec *record.Record) error {
	if err := m.compatible(rec); err != nil {
		return err
	}
	return rec.Validate()
}

// Save persists rec: a replace when its key already exists in the
// collection, an insert otherwise. A record with an unset single id-kind key
// is inserted with an engine-minted identifier, written back into the
// record. Saving a persisted record whose key no longer matches the one it
// was stored under fails with ErrKeyChanged before any I/O.
func (m *Manager) Save(ctx context.Context, rec *record.Record) error {
	if err := m.compatible(rec); err != nil {
		return err
	}
	if err := m.session.hooks.run(ctx, BeforeSave, rec); err != nil {
		return err
	}
	if err := checkKeyUnchanged(rec); err != nil {
		return err
	}

	doc, err := codec.Encode(m.session.reg, rec)
	if err != nil {
		return err
	}

	coll := m.typ.CollectionName()
	if rec.HasKey() {
		if err := m.upsert(ctx, coll, rec, doc); err != nil {
			return err
		}
	} else {
		// Encode admits a keyless record only when the key is a single
		// id-kind field, so the engine mints one here.
		key, err := m.session.engine.Insert(ctx, coll, doc)
		if err != nil {
			return err
		}
		if single, ok := rec.Type().SingleKey(); ok {
			if err := rec.Put(single.Name(), key); err != nil {
				return err
			}
		}
		m.session.log.Debug("insert",
			zap.String("type", rec.TypeName()),
			zap.String("collection", coll))
	}

	if err := rec.MarkSaved(); err != nil {
		return err
	}
	return m.session.hooks.run(ctx, AfterSave, rec)
}

// upsert replaces the document stored under rec's key, inserting when the
// key is not taken yet.
func (m *Manager) upsert(ctx context.Context, coll string, rec *record.Record, doc storage.Document) error {
	filter, err := keyFilter(rec)
	if err != nil {
		return err
	}
	n, err := m.session.engine.Update(ctx, coll, filter, doc)
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := m.session.engine.Insert(ctx, coll, doc); err != nil {
			return err
		}
	}
	m.session.log.Debug("save",
		zap.String("type", rec.TypeName()),
		zap.String("collection", coll),
		zap.Bool("replaced", n > 0))
	return nil
}

// Find compiles expr against the managed type and returns a lazy cursor
// over the matching records. A nil expr matches every record of the type.
func (m *Manager) Find(ctx context.Context, expr query.Expr) (*Cursor, error) {
	filter, err := query.Compile(expr, m.typ)
	if err != nil {
		return nil, err
	}
	coll := m.typ.CollectionName()
	cur, err := m.session.engine.Find(ctx, coll, filter)
	if err != nil {
		return nil, err
	}
	m.session.log.Debug("find",
		zap.String("type", m.typ.Name()),
		zap.String("collection", coll),
		zap.Any("filter", filter))
	return &Cursor{reg: m.session.reg, typ: m.typ, cur: cur}, nil
}

// All returns every record of the managed type.
func (m *Manager) All(ctx context.Context) ([]*record.Record, error) {
	cur, err := m.Find(ctx, nil)
	if err != nil {
		return nil, err
	}
	return cur.All()
}

// FindOne returns the first record matching expr, or ErrNotFound when
// nothing does.
func (m *Manager) FindOne(ctx context.Context, expr query.Expr) (*record.Record, error) {
	cur, err := m.Find(ctx, expr)
	if err != nil {
		return nil, err
	}
	defer cur.Close()
	if !cur.Next() {
		if err := cur.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s", ErrNotFound, m.typ.Name())
	}
	return cur.Record(), nil
}

// Get returns the record stored under the primary key. Compound keys take a
// map keyed by field name. Like any read, Get is scoped to the managed type
// and its descendants.
func (m *Manager) Get(ctx context.Context, key any) (*record.Record, error) {
	expr, err := keyExpr(m.typ, key)
	if err != nil {
		return nil, err
	}
	return m.FindOne(ctx, expr)
}

// Count reports how many documents match expr, without decoding them.
func (m *Manager) Count(ctx context.Context, expr query.Expr) (int, error) {
	filter, err := query.Compile(expr, m.typ)
	if err != nil {
		return 0, err
	}
	cur, err := m.session.engine.Find(ctx, m.typ.CollectionName(), filter)
	if err != nil {
		return 0, err
	}
	defer cur.Close()
	n := 0
	for cur.Next() {
		n++
	}
	if err := cur.Err(); err != nil {
		return 0, err
	}
	return n, nil
}

// Delete removes every record matching expr and reports how many went away.
// It is a bulk operation: lifecycle hooks do not fire, and references held
// by other records are not cleaned up. A nil expr deletes every record of
// the managed type, subtype scoping included.
func (m *Manager) Delete(ctx context.Context, expr query.Expr) (int, error) {
	filter, err := query.Compile(expr, m.typ)
	if err != nil {
		return 0, err
	}
	coll := m.typ.CollectionName()
	n, err := m.session.engine.Delete(ctx, coll, filter)
	if err != nil {
		return 0, err
	}
	m.session.log.Debug("delete",
		zap.String("type", m.typ.Name()),
		zap.String("collection", coll),
		zap.Int("count", n))
	return n, nil
}

// Remove deletes rec's document, addressed by primary key. BeforeDelete and
// AfterDelete hooks fire around the write. Removing a record whose document
// is already gone is not an error; removing a record with no key is.
func (m *Manager) Remove(ctx context.Context, rec *record.Record) error {
	if err := m.compatible(rec); err != nil {
		return err
	}
	if !rec.HasKey() {
		return fmt.Errorf("%w: %s", ErrNotSaved, rec.TypeName())
	}
	if err := m.session.hooks.run(ctx, BeforeDelete, rec); err != nil {
		return err
	}

	filter, err := keyFilter(rec)
	if err != nil {
		return err
	}
	coll := m.typ.CollectionName()
	n, err := m.session.engine.Delete(ctx, coll, filter)
	if err != nil {
		return err
	}
	m.session.log.Debug("remove",
		zap.String("type", rec.TypeName()),
		zap.String("collection", coll),
		zap.Int("count", n))

	rec.MarkRemoved()
	return m.session.hooks.run(ctx, AfterDelete, rec)
}

// compatible checks that rec's type is the managed type or one of its
// descendants.
func (m *Manager) compatible(rec *record.Record) error {
	for cur := rec.Type(); cur != nil; {
		if cur == m.typ {
			return nil
		}
		if cur.ParentName() == "" || !cur.Registered() {
			break
		}
		next, err := cur.Registry().Resolve(cur.ParentName())
		if err != nil {
			break
		}
		cur = next
	}
	return fmt.Errorf("%w: %s manager given %s", ErrWrongType, m.typ.Name(), rec.TypeName())
}

// checkKeyUnchanged enforces primary-key immutability for persisted records.
func checkKeyUnchanged(rec *record.Record) error {
	savedKey, ok := rec.SavedKey()
	if !ok {
		return nil
	}
	key, err := rec.Key()
	if err != nil {
		return fmt.Errorf("%w: %s key unset after save", ErrKeyChanged, rec.TypeName())
	}
	if !schema.RefTo(rec.TypeName(), savedKey).Equal(schema.RefTo(rec.TypeName(), key)) {
		return fmt.Errorf("%w: %s saved under %v, now %v", ErrKeyChanged, rec.TypeName(), savedKey, key)
	}
	return nil
}

// keyFilter builds the primary-key filter for upsert writes and keyed
// removes. Key uniqueness is collection-wide, so the filter carries no
// discriminator clause: a write addressed by key must hit the document
// whatever concrete subtype stored it.
func keyFilter(rec *record.Record) (storage.Filter, error) {
	typ := rec.Type()
	filter := make(storage.Filter, len(typ.KeyFields()))
	for _, f := range typ.KeyFields() {
		v := rec.Value(f.Name())
		if v == nil {
			return nil, schema.NewFieldError(f.Name(), schema.ErrMissingField)
		}
		n, err := f.ToNative(v)
		if err != nil {
			return nil, err
		}
		filter[f.StoredName()] = map[string]any{storage.OpEq: n}
	}
	return filter, nil
}

// keyExpr builds the primary-key equality expression for a type: one
// comparison for single-field keys, a conjunction with one comparison per
// component for compound keys.
func keyExpr(typ *schema.Type, key any) (query.Expr, error) {
	keyFields := typ.KeyFields()
	if len(keyFields) == 0 {
		return nil, fmt.Errorf("%w: %s", schema.ErrNoPrimaryKey, typ.Name())
	}
	if len(keyFields) == 1 {
		return query.Eq(keyFields[0].Name(), key), nil
	}
	parts, ok := key.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: compound key of %s needs a map, got %T", schema.ErrBadKey, typ.Name(), key)
	}
	if len(parts) != len(keyFields) {
		return nil, fmt.Errorf("%w: compound key of %s wants %d components, got %d", schema.ErrBadKey, typ.Name(), len(keyFields), len(parts))
	}
	children := make([]query.Expr, 0, len(keyFields))
	for _, f := range keyFields {
		v, ok := parts[f.Name()]
		if !ok {
			return nil, schema.NewFieldError(f.Name(), schema.ErrMissingField)
		}
		children = append(children, query.Eq(f.Name(), v))
	}
	return query.And(children...), nil
}
