// Package record holds typed record instances. A Record binds a registered
// type to a set of field values kept in canonical coerced form, tracks
// whether the instance has been persisted, and remembers the key it was
// persisted under so key mutation can be caught at save time.
package record

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/docent-db/docent/schema"
)

// Record is one typed instance. Values live in canonical coerced form:
// setting a field coerces and validates, so reads always see what storage
// would see. Records are not safe for concurrent mutation.
type Record struct {
	typ    *schema.Type
	values map[string]any

	saved    bool
	savedKey any
}

// New creates an empty record of the given type.
func New(t *schema.Type) *Record {
	return &Record{typ: t, values: make(map[string]any)}
}

// Make creates a record and sets the given fields, failing on the first
// rejected value.
func Make(t *schema.Type, values map[string]any) (*Record, error) {
	r := New(t)
	for _, f := range t.Fields() {
		v, ok := values[f.Name()]
		if !ok {
			continue
		}
		if err := r.Set(f.Name(), v); err != nil {
			return nil, err
		}
	}
	for name := range values {
		if _, ok := t.Field(name); !ok {
			return nil, schema.NewFieldError(name, schema.ErrUnknownField)
		}
	}
	return r, nil
}

// Type returns the record's type.
func (r *Record) Type() *schema.Type { return r.typ }

// TypeName returns the record's type name. Part of schema.Referable.
func (r *Record) TypeName() string { return r.typ.Name() }

// Set coerces and validates v and stores it under the named field. A nil
// value unsets the field.
func (r *Record) Set(name string, v any) error {
	f, ok := r.typ.Field(name)
	if !ok {
		return schema.NewFieldError(name, schema.ErrUnknownField)
	}
	if v == nil {
		delete(r.values, name)
		return nil
	}
	coerced, err := f.Validate(v)
	if err != nil {
		return err
	}
	r.values[name] = coerced
	return nil
}

// Put coerces v and stores it without running choice or validator checks.
// Decoding uses it so stored documents that predate a tightened validator
// still load.
func (r *Record) Put(name string, v any) error {
	f, ok := r.typ.Field(name)
	if !ok {
		return schema.NewFieldError(name, schema.ErrUnknownField)
	}
	if v == nil {
		delete(r.values, name)
		return nil
	}
	coerced, err := f.Coerce(v)
	if err != nil {
		return err
	}
	r.values[name] = coerced
	return nil
}

// Get returns the stored value for the field and whether one is set.
// Defaults are not applied; see Value.
func (r *Record) Get(name string) (any, bool) {
	v, ok := r.values[name]
	return v, ok
}

// Value returns the stored value, or the field's default when unset, or nil
// when the field has neither. Computed defaults are coerced best-effort;
// encoding validates them properly.
func (r *Record) Value(name string) any {
	if v, ok := r.values[name]; ok {
		return v
	}
	f, ok := r.typ.Field(name)
	if !ok {
		return nil
	}
	def, ok := f.DefaultValue()
	if !ok {
		return nil
	}
	if coerced, err := f.Coerce(def); err == nil {
		return coerced
	}
	return def
}

// Has reports whether the field has an explicitly stored value.
func (r *Record) Has(name string) bool {
	_, ok := r.values[name]
	return ok
}

// Unset removes the field's stored value.
func (r *Record) Unset(name string) {
	delete(r.values, name)
}

// Values returns a copy of the explicitly stored values by field name.
func (r *Record) Values() map[string]any {
	out := make(map[string]any, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

// Validate checks every field and collects all failures: required fields
// without a value or default, choice violations, validator failures. Key
// components count as required, except a single id-kind key, which the
// engine mints at save time.
func (r *Record) Validate() error {
	errs := schema.NewErrors()
	for _, f := range r.typ.Fields() {
		v, ok := r.values[f.Name()]
		if !ok {
			if def, has := f.DefaultValue(); has {
				v, ok = def, true
			}
		}
		if !ok {
			if f.IsRequired() || (f.IsKey() && !r.keyIsMintable()) {
				errs.Add(f.Name(), schema.ErrMissingField)
			}
			continue
		}
		if _, err := f.Validate(v); err != nil {
			errs.Add(f.Name(), unwrapForField(err, f.Name()))
		}
	}
	return errs.OrNil()
}

// keyIsMintable reports whether an unset primary key is acceptable because
// the engine can mint one: a single id-kind key field.
func (r *Record) keyIsMintable() bool {
	single, ok := r.typ.SingleKey()
	return ok && single.Kind() == schema.KindID
}

// Key returns the record's primary key: the scalar value for a single-field
// key, a map keyed by field name for a compound key. Defaults apply. It
// fails when any component is missing.
func (r *Record) Key() (any, error) {
	keyFields := r.typ.KeyFields()
	if len(keyFields) == 0 {
		return nil, fmt.Errorf("%w: %s", schema.ErrNoPrimaryKey, r.typ.Name())
	}
	if len(keyFields) == 1 {
		v := r.Value(keyFields[0].Name())
		if v == nil {
			return nil, schema.NewFieldError(keyFields[0].Name(), schema.ErrMissingField)
		}
		return v, nil
	}
	out := make(map[string]any, len(keyFields))
	for _, f := range keyFields {
		v := r.Value(f.Name())
		if v == nil {
			return nil, schema.NewFieldError(f.Name(), schema.ErrMissingField)
		}
		out[f.Name()] = v
	}
	return out, nil
}

// PrimaryKey returns the record's key. Part of schema.Referable, so a record
// can be assigned directly to a reference field.
func (r *Record) PrimaryKey() (any, error) {
	return r.Key()
}

// Ref returns a reference to this record.
func (r *Record) Ref() (schema.Ref, error) {
	key, err := r.Key()
	if err != nil {
		return schema.Ref{}, err
	}
	return schema.RefTo(r.typ.Name(), key), nil
}

// HasKey reports whether every key component has a value or default.
func (r *Record) HasKey() bool {
	_, err := r.Key()
	return err == nil
}

// Equal reports whether the two records are the same type with equal field
// values, comparing value-or-default per field so a freshly decoded record
// equals the instance it was encoded from. References compare by
// identifier; persist state does not participate.
func (r *Record) Equal(o *Record) bool {
	if r == nil || o == nil {
		return r == o
	}
	if r.typ != o.typ {
		return false
	}
	for _, f := range r.typ.Fields() {
		if !schema.ValueEqual(r.Value(f.Name()), o.Value(f.Name())) {
			return false
		}
	}
	return true
}

// MarkSaved records that the instance is persisted under its current key.
// The save path calls it after a successful write; decoding calls it for
// records loaded from storage.
func (r *Record) MarkSaved() error {
	key, err := r.Key()
	if err != nil {
		return err
	}
	r.saved = true
	r.savedKey = key
	return nil
}

// MarkRemoved clears persist tracking after the instance is deleted.
func (r *Record) MarkRemoved() {
	r.saved = false
	r.savedKey = nil
}

// Saved reports whether the instance is known to be persisted.
func (r *Record) Saved() bool { return r.saved }

// SavedKey returns the key the instance was last persisted under.
func (r *Record) SavedKey() (any, bool) {
	if !r.saved {
		return nil, false
	}
	return r.savedKey, true
}

// String renders the record compactly for logs and test failures.
func (r *Record) String() string {
	names := make([]string, 0, len(r.values))
	for name := range r.values {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	b.WriteString(r.typ.Name())
	b.WriteByte('{')
	for i, name := range names {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s: %v", name, r.values[name])
	}
	b.WriteByte('}')
	return b.String()
}

// unwrapForField strips a FieldError layer naming the same field, keeping
// aggregate messages free of repeated prefixes.
func unwrapForField(err error, name string) error {
	var fe *schema.FieldError
	if errors.As(err, &fe) && fe.Field == name {
		return fe.Err
	}
	return err
}
