// Package schema declares record types: named, ordered field descriptors
// with coercion, validation, defaults, primary keys, and single inheritance
// through a discriminator value. Types are built with NewType and become
// usable once registered with a Registry; declaration errors surface at
// registration and are fatal to the declaration, never deferred to use.
package schema

import (
	"fmt"
	"strings"
	"unicode"
)

// Document keys the storage layer reserves. A single-field primary key is
// always stored under StoredID whatever its declared name; StoredType carries
// the discriminator in polymorphic collections.
const (
	StoredID   = "_id"
	StoredType = "_type"
)

// Type defines one record type: its fields in declaration order, primary
// key, collection, and place in an inheritance tree. Build it with NewType,
// chain declaration options, then register it; a Type is immutable once
// registered.
type Type struct {
	name          string
	parent        string
	collection    string
	discriminator string
	polymorphic   bool
	keyNames      []string
	own           []*Field

	reg        *Registry
	fields     []*Field
	byName     map[string]*Field
	byStored   map[string]*Field
	keyFields  []*Field
	root       string
	registered bool
}

// NewType declares a record type with the given fields in order.
func NewType(name string, fields ...*Field) *Type {
	return &Type{name: name, own: fields}
}

// Key declares the primary key as an ordered set of field names. Root types
// must declare one; subtypes inherit the root's.
func (t *Type) Key(names ...string) *Type {
	t.keyNames = append([]string(nil), names...)
	return t
}

// Collection overrides the collection name, which defaults to the snake_case
// plural of the type name. Subtypes always share the root's collection.
func (t *Type) Collection(name string) *Type {
	t.collection = name
	return t
}

// Polymorphic allows other types to extend this one. Documents of a
// polymorphic tree carry a discriminator under "_type".
func (t *Type) Polymorphic() *Type {
	t.polymorphic = true
	return t
}

// Extends declares the parent type. The parent must be registered first and
// must be polymorphic; the subtype inherits its fields, key, and collection.
func (t *Type) Extends(parent string) *Type {
	t.parent = parent
	return t
}

// Discriminator overrides the discriminator value, which defaults to the
// type name. Values must be unique within an inheritance tree.
func (t *Type) Discriminator(v string) *Type {
	t.discriminator = v
	return t
}

// Name returns the type name.
func (t *Type) Name() string { return t.name }

// ParentName returns the parent type name, empty for root types.
func (t *Type) ParentName() string { return t.parent }

// IsSubtype reports whether the type extends another.
func (t *Type) IsSubtype() bool { return t.parent != "" }

// IsPolymorphic reports whether the type participates in an inheritance
// tree, either by allowing extension or by extending.
func (t *Type) IsPolymorphic() bool { return t.polymorphic || t.parent != "" }

// RootName returns the name of the tree root, the type itself when it is
// one. Valid after registration.
func (t *Type) RootName() string {
	if t.root != "" {
		return t.root
	}
	return t.name
}

// CollectionName returns the collection documents of this type live in.
// Valid after registration.
func (t *Type) CollectionName() string { return t.collection }

// DiscriminatorValue returns the value stamped under "_type" for this type.
// Valid after registration.
func (t *Type) DiscriminatorValue() string { return t.discriminator }

// KeyNames returns the primary key field names in declared order.
func (t *Type) KeyNames() []string { return t.keyNames }

// KeyFields returns the primary key descriptors in declared order. Valid
// after registration.
func (t *Type) KeyFields() []*Field { return t.keyFields }

// SingleKey returns the sole key descriptor when the primary key is a single
// field.
func (t *Type) SingleKey() (*Field, bool) {
	if len(t.keyFields) == 1 {
		return t.keyFields[0], true
	}
	return nil, false
}

// Fields returns the field descriptors in declaration order, parent fields
// first for subtypes. Callers must not mutate the slice.
func (t *Type) Fields() []*Field {
	if t.registered {
		return t.fields
	}
	return t.own
}

// Field looks a descriptor up by field name.
func (t *Type) Field(name string) (*Field, bool) {
	if !t.registered {
		for _, f := range t.own {
			if f.name == name {
				return f, true
			}
		}
		return nil, false
	}
	f, ok := t.byName[name]
	return f, ok
}

// FieldByStored looks a descriptor up by its stored document key. A single
// primary key answers to "_id". Valid after registration.
func (t *Type) FieldByStored(stored string) (*Field, bool) {
	f, ok := t.byStored[stored]
	return f, ok
}

// Registered reports whether the type has been registered.
func (t *Type) Registered() bool { return t.registered }

// Registry returns the registry the type registered with, nil before
// registration.
func (t *Type) Registry() *Registry { return t.reg }

// compile resolves the declaration against the registry: merges inherited
// fields, claims the key, applies storage naming rules, and freezes the
// type. Called with the registry lock held.
func (t *Type) compile(reg *Registry, parent *Type) error {
	if t.name == "" {
		return fmt.Errorf("%w: type name is empty", ErrBadDeclaration)
	}
	if t.registered {
		return fmt.Errorf("%w: %s", ErrDuplicateType, t.name)
	}

	merged := make([]*Field, 0, len(t.own))
	if parent != nil {
		if root := reg.types[parent.root]; root == nil || !root.polymorphic {
			return fmt.Errorf("%w: %s", ErrNotPolymorphic, t.parent)
		}
		if len(t.keyNames) > 0 {
			return fmt.Errorf("%w: subtype %s may not declare a key", ErrBadKey, t.name)
		}
		if t.collection != "" {
			return fmt.Errorf("%w: subtype %s may not set a collection", ErrBadDeclaration, t.name)
		}
		merged = append(merged, parent.fields...)
		t.root = parent.root
		t.collection = parent.collection
		t.keyNames = append([]string(nil), parent.keyNames...)
		t.polymorphic = true
	} else {
		t.root = t.name
		if t.collection == "" {
			t.collection = defaultCollection(t.name)
		}
	}

	byName := make(map[string]*Field, len(merged)+len(t.own))
	for _, f := range merged {
		byName[f.name] = f
	}
	for _, f := range t.own {
		if f.name == "" {
			return fmt.Errorf("%w: unnamed field on type %s", ErrBadDeclaration, t.name)
		}
		if _, dup := byName[f.name]; dup {
			return fmt.Errorf("%w: %s.%s", ErrDuplicateField, t.name, f.name)
		}
		byName[f.name] = f
		merged = append(merged, f)
	}

	keyFields, err := t.claimKey(byName)
	if err != nil {
		return err
	}

	byStored := make(map[string]*Field, len(merged))
	for _, f := range merged {
		if err := t.checkStored(f); err != nil {
			return err
		}
		if _, dup := byStored[f.stored]; dup {
			return fmt.Errorf("%w: stored name %q on type %s", ErrDuplicateField, f.stored, t.name)
		}
		byStored[f.stored] = f
	}

	for _, f := range merged {
		if f.reg != nil {
			continue // inherited field, checked when its owner registered
		}
		if err := precheckField(f); err != nil {
			return err
		}
		f.bind(reg)
	}

	if t.discriminator == "" {
		t.discriminator = t.name
	}

	t.fields = merged
	t.byName = byName
	t.byStored = byStored
	t.keyFields = keyFields
	t.reg = reg
	t.registered = true
	return nil
}

// claimKey resolves the key names, restricts them to scalar kinds, and
// forces a single-field key to store under "_id".
func (t *Type) claimKey(byName map[string]*Field) ([]*Field, error) {
	if len(t.keyNames) == 0 {
		return nil, fmt.Errorf("%w: type %s", ErrNoPrimaryKey, t.name)
	}
	seen := make(map[string]bool, len(t.keyNames))
	keyFields := make([]*Field, 0, len(t.keyNames))
	for _, name := range t.keyNames {
		if seen[name] {
			return nil, fmt.Errorf("%w: duplicate component %s.%s", ErrBadKey, t.name, name)
		}
		seen[name] = true
		f, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s is not a field", ErrBadKey, t.name, name)
		}
		if !f.kind.Scalar() {
			return nil, fmt.Errorf("%w: %s.%s has non-scalar kind %s", ErrBadKey, t.name, name, f.kind)
		}
		f.isKey = true
		keyFields = append(keyFields, f)
	}
	if len(keyFields) == 1 {
		keyFields[0].stored = StoredID
	}
	return keyFields, nil
}

// checkStored applies the reserved-name rules to one field's stored key.
func (t *Type) checkStored(f *Field) error {
	switch {
	case f.stored == "":
		return fmt.Errorf("%w: field %s.%s has an empty stored name", ErrBadDeclaration, t.name, f.name)
	case f.stored == StoredType:
		return fmt.Errorf("%w: %q on field %s.%s", ErrReservedName, StoredType, t.name, f.name)
	case f.stored == StoredID && !(f.isKey && len(t.keyNames) == 1):
		return fmt.Errorf("%w: %q on non-key field %s.%s", ErrReservedName, StoredID, t.name, f.name)
	case strings.HasPrefix(f.stored, "$") || strings.Contains(f.stored, "."):
		return fmt.Errorf("%w: stored name %q on field %s.%s", ErrReservedName, f.stored, t.name, f.name)
	}
	return nil
}

// precheckField verifies declaration-time constants coerce cleanly: static
// defaults are normalized in place, choices must be representable.
func precheckField(f *Field) error {
	if f.hasDefault && f.defFn == nil && f.def != nil {
		def, err := f.Coerce(f.def)
		if err != nil {
			return fmt.Errorf("%w: default for field %q: %v", ErrBadDeclaration, f.name, err)
		}
		f.def = def
	}
	for _, c := range f.choices {
		if _, err := f.Coerce(c); err != nil {
			return fmt.Errorf("%w: choice %v for field %q: %v", ErrBadDeclaration, c, f.name, err)
		}
	}
	if f.kind == KindRef && f.target == "" {
		return fmt.Errorf("%w: reference field %q has no target", ErrBadDeclaration, f.name)
	}
	return nil
}

// defaultCollection derives a collection name: snake_case of the type name
// plus a plural s. Acronym runs stay together, so APIKey becomes api_keys.
func defaultCollection(name string) string {
	runes := []rune(name)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			prevLower := i > 0 && !unicode.IsUpper(runes[i-1])
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if i > 0 && (prevLower || nextLower) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	s := b.String()
	if strings.HasSuffix(s, "s") {
		return s
	}
	return s + "s"
}
