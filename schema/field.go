package schema

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Field describes one named slot of a record type: its kind, storage alias,
// requiredness, default, choice set, and validators. Fields are built with
// the kind constructors (String, Int, Reference, ...) and configured by
// chaining; a field belongs to at most one registry once its type registers.
type Field struct {
	name       string
	kind       Kind
	stored     string
	required   bool
	def        any
	defFn      func() any
	hasDefault bool
	choices    []any
	validators []Validator
	elem       *Field
	target     string
	isKey      bool

	reg *Registry
}

func newField(name string, kind Kind) *Field {
	return &Field{name: name, kind: kind, stored: name}
}

// String declares a text field.
func String(name string) *Field { return newField(name, KindString) }

// Int declares a signed integer field, canonically int64.
func Int(name string) *Field { return newField(name, KindInt) }

// Float declares a floating point field, canonically float64.
func Float(name string) *Field { return newField(name, KindFloat) }

// Bool declares a boolean field.
func Bool(name string) *Field { return newField(name, KindBool) }

// Time declares an instant field, normalized to UTC.
func Time(name string) *Field { return newField(name, KindTime) }

// Binary declares an opaque byte string field.
func Binary(name string) *Field { return newField(name, KindBinary) }

// ID declares a unique identifier field. Engines mint a value for a single
// id-kind primary key left unset at save time.
func ID(name string) *Field { return newField(name, KindID) }

// List declares an ordered sequence field. elem describes the elements; its
// own name is ignored. A nil elem accepts any document-safe element.
func List(name string, elem *Field) *Field {
	f := newField(name, KindList)
	f.elem = elem
	return f
}

// MapOf declares a string-keyed map field. elem describes the values; its
// own name is ignored. A nil elem accepts any document-safe value.
func MapOf(name string, elem *Field) *Field {
	f := newField(name, KindMap)
	f.elem = elem
	return f
}

// Reference declares a lazy reference to the named target type. Values are
// carried as identifiers and resolved explicitly through a session.
func Reference(name, target string) *Field {
	f := newField(name, KindRef)
	f.target = target
	return f
}

// Any declares a dynamically shaped field accepting any document-safe value.
func Any(name string) *Field { return newField(name, KindAny) }

// Required marks the field as mandatory: encoding a record without a value
// or default for it fails.
func (f *Field) Required() *Field {
	f.required = true
	return f
}

// Default sets a static default applied when the field has no value.
func (f *Field) Default(v any) *Field {
	f.def = v
	f.hasDefault = true
	return f
}

// DefaultFunc sets a default computed at use time, for values like "now" or
// freshly minted identifiers.
func (f *Field) DefaultFunc(fn func() any) *Field {
	f.defFn = fn
	f.hasDefault = true
	return f
}

// Stored sets the document key the field is stored under, when it differs
// from the field name.
func (f *Field) Stored(name string) *Field {
	f.stored = name
	return f
}

// Choices restricts the field to the given values.
func (f *Field) Choices(vs ...any) *Field {
	f.choices = append(f.choices, vs...)
	return f
}

// Check appends validators run against every coerced value.
func (f *Field) Check(vs ...Validator) *Field {
	f.validators = append(f.validators, vs...)
	return f
}

// Name returns the declared field name.
func (f *Field) Name() string { return f.name }

// Kind returns the field's value kind.
func (f *Field) Kind() Kind { return f.kind }

// StoredName returns the document key the field is stored under. A single
// primary key field always stores under the engine key "_id".
func (f *Field) StoredName() string { return f.stored }

// IsRequired reports whether the field is mandatory.
func (f *Field) IsRequired() bool { return f.required }

// IsKey reports whether the field is a primary key component. Set during
// type registration.
func (f *Field) IsKey() bool { return f.isKey }

// Target returns the referenced type name for reference fields.
func (f *Field) Target() string { return f.target }

// Elem returns the element descriptor of a list or map field, nil when the
// elements are unconstrained.
func (f *Field) Elem() *Field { return f.elem }

// DefaultValue returns the field's default and whether one is declared.
// Computed defaults are invoked on every call.
func (f *Field) DefaultValue() (any, bool) {
	if !f.hasDefault {
		return nil, false
	}
	if f.defFn != nil {
		return f.defFn(), true
	}
	return f.def, true
}

// bind attaches the field (and element descriptors) to the registry its type
// registered with, enabling reference key normalization.
func (f *Field) bind(reg *Registry) {
	f.reg = reg
	if f.elem != nil {
		f.elem.bind(reg)
	}
}

// Coerce converts v to the field's canonical in-memory form. It is pure and
// idempotent: coercing an already-coerced value returns it unchanged. A nil
// value passes through untouched.
func (f *Field) Coerce(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch f.kind {
	case KindString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case KindInt:
		if n, ok := coerceInt(v); ok {
			return n, nil
		}
	case KindFloat:
		if n, ok := toFloat(v); ok {
			return n, nil
		}
	case KindBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case KindTime:
		switch t := v.(type) {
		case time.Time:
			return t.UTC(), nil
		case string:
			parsed, err := time.Parse(time.RFC3339Nano, t)
			if err != nil {
				return nil, f.mismatch("cannot parse %q as time", t)
			}
			return parsed.UTC(), nil
		}
	case KindBinary:
		if b, ok := v.([]byte); ok {
			return b, nil
		}
	case KindID:
		switch t := v.(type) {
		case uuid.UUID:
			return t, nil
		case string:
			id, err := uuid.Parse(t)
			if err != nil {
				return nil, f.mismatch("cannot parse %q as id", t)
			}
			return id, nil
		case [16]byte:
			return uuid.UUID(t), nil
		}
	case KindList:
		return f.coerceList(v)
	case KindMap:
		return f.coerceMap(v)
	case KindRef:
		return f.coerceRef(v)
	case KindAny:
		return coerceAny(v)
	}
	return nil, f.mismatch("cannot hold %T", v)
}

// Validate coerces v and checks it against the choice set and validators.
// Failures come back as a FieldError naming this field.
func (f *Field) Validate(v any) (any, error) {
	coerced, err := f.Coerce(v)
	if err != nil {
		return nil, err
	}
	if coerced == nil {
		return nil, nil
	}
	if len(f.choices) > 0 && !f.inChoices(coerced) {
		return nil, NewFieldError(f.name, fmt.Errorf("%w: %v", ErrBadChoice, coerced))
	}
	for _, val := range f.validators {
		if err := val.Validate(coerced); err != nil {
			return nil, NewFieldError(f.name, err)
		}
	}
	return coerced, nil
}

// ToNative converts a coerced value to its document representation:
// references collapse to their bare key, containers convert element-wise,
// scalars pass through.
func (f *Field) ToNative(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch f.kind {
	case KindRef:
		ref, ok := v.(Ref)
		if !ok {
			coerced, err := f.Coerce(v)
			if err != nil {
				return nil, err
			}
			ref = coerced.(Ref)
		}
		return ref.Key, nil
	case KindList:
		items, ok := v.([]any)
		if !ok {
			return nil, f.mismatch("cannot hold %T", v)
		}
		out := make([]any, len(items))
		for i, item := range items {
			n, err := f.elemField().ToNative(item)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case KindMap:
		m, ok := v.(map[string]any)
		if !ok {
			return nil, f.mismatch("cannot hold %T", v)
		}
		out := make(map[string]any, len(m))
		for k, item := range m {
			n, err := f.elemField().ToNative(item)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	case KindAny:
		return anyToNative(v)
	default:
		return v, nil
	}
}

// elemField returns the element descriptor, substituting a dynamic one when
// the declaration left elements unconstrained.
func (f *Field) elemField() *Field {
	if f.elem != nil {
		return f.elem
	}
	e := newField(f.name, KindAny)
	e.reg = f.reg
	return e
}

func (f *Field) coerceList(v any) (any, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, f.mismatch("cannot hold %T", v)
	}
	if _, isBytes := v.([]byte); isBytes {
		return nil, f.mismatch("cannot hold %T", v)
	}
	elem := f.elemField()
	out := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		c, err := elem.Coerce(rv.Index(i).Interface())
		if err != nil {
			return nil, NewFieldError(f.name, fmt.Errorf("element %d: %w", i, unwrapField(err)))
		}
		out[i] = c
	}
	return out, nil
}

func (f *Field) coerceMap(v any) (any, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, f.mismatch("cannot hold %T", v)
	}
	elem := f.elemField()
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		key := iter.Key().String()
		if err := checkMapKey(key); err != nil {
			return nil, NewFieldError(f.name, err)
		}
		c, err := elem.Coerce(iter.Value().Interface())
		if err != nil {
			return nil, NewFieldError(f.name, fmt.Errorf("key %q: %w", key, unwrapField(err)))
		}
		out[key] = c
	}
	return out, nil
}

func (f *Field) coerceRef(v any) (any, error) {
	var ref Ref
	switch t := v.(type) {
	case Ref:
		ref = t
		if ref.Type == "" {
			ref.Type = f.target
		}
	case Referable:
		key, err := t.PrimaryKey()
		if err != nil {
			return nil, NewFieldError(f.name, err)
		}
		ref = Ref{Type: t.TypeName(), Key: key}
	default:
		ref = Ref{Type: f.target, Key: v}
	}
	if f.reg != nil {
		normalized, err := f.reg.NormalizeRef(ref)
		if err != nil {
			return nil, NewFieldError(f.name, err)
		}
		ref = normalized
	}
	return ref, nil
}

func (f *Field) inChoices(v any) bool {
	for _, c := range f.choices {
		cc, err := f.Coerce(c)
		if err != nil {
			continue
		}
		if ValueEqual(v, cc) {
			return true
		}
	}
	return false
}

func (f *Field) mismatch(format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	return NewFieldError(f.name, fmt.Errorf("%w: %s field %s", ErrTypeMismatch, f.kind, msg))
}

// coerceAny normalizes an arbitrary value into the canonical document-safe
// forms: numbers widen to int64/float64, instants to UTC, containers recurse.
func coerceAny(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string, bool, int64, float64, []byte, uuid.UUID, Ref:
		return t, nil
	case time.Time:
		return t.UTC(), nil
	case int, int8, int16, int32, uint, uint8, uint16, uint32, uint64:
		n, ok := coerceInt(t)
		if !ok {
			return nil, fmt.Errorf("%w: integer out of range", ErrTypeMismatch)
		}
		return n, nil
	case float32:
		return float64(t), nil
	case Referable:
		key, err := t.PrimaryKey()
		if err != nil {
			return nil, err
		}
		return Ref{Type: t.TypeName(), Key: key}, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			if err := checkMapKey(k); err != nil {
				return nil, err
			}
			c, err := coerceAny(item)
			if err != nil {
				return nil, err
			}
			out[k] = c
		}
		return out, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			c, err := coerceAny(rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			out[i] = c
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %T is not document-safe", ErrTypeMismatch, v)
}

// anyToNative collapses references inside dynamically shaped values.
func anyToNative(v any) (any, error) {
	switch t := v.(type) {
	case Ref:
		return t.Key, nil
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			n, err := anyToNative(item)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			n, err := anyToNative(item)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	default:
		return v, nil
	}
}

// checkMapKey enforces the document layer's key rules on user map keys:
// no "$" prefix and no dots, so data keys never collide with operator or
// path syntax.
func checkMapKey(k string) error {
	if strings.HasPrefix(k, "$") || strings.Contains(k, ".") {
		return fmt.Errorf("%w: map key %q", ErrReservedName, k)
	}
	return nil
}

func coerceInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		if uint64(n) > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float32:
		return floatToInt(float64(n))
	case float64:
		return floatToInt(n)
	default:
		return 0, false
	}
}

func floatToInt(f float64) (int64, bool) {
	if math.Trunc(f) != f || f < math.MinInt64 || f > math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

// ValueEqual compares two canonical values, recursing into containers and
// honoring reference identity: numbers compare across int64/float64, times
// by instant, references by identifier.
func ValueEqual(a, b any) bool {
	switch av := a.(type) {
	case Ref:
		bv, ok := b.(Ref)
		return ok && av.Equal(bv)
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !ValueEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			w, ok := bv[k]
			if !ok || !ValueEqual(v, w) {
				return false
			}
		}
		return true
	default:
		return scalarEqual(a, b)
	}
}

// unwrapField strips one FieldError layer so nested container errors do not
// stack field names twice.
func unwrapField(err error) error {
	var fe *FieldError
	if errors.As(err, &fe) {
		return fe.Err
	}
	return err
}
