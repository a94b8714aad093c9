package schema

import (
	"fmt"
	"sync"
)

// Registry holds registered record types and their inheritance relations.
// Registration is append-only: types are never replaced or removed, so
// lookups stay valid for the life of the process. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	types    map[string]*Type
	order    []string
	children map[string][]string
	byDisc   map[string]map[string]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		types:    make(map[string]*Type),
		children: make(map[string][]string),
		byDisc:   make(map[string]map[string]string),
	}
}

// Register adds a type declaration. The parent of a subtype must already be
// registered. Registration fails, leaving the registry unchanged, on
// duplicate names, unknown parents, discriminator collisions, or any
// declaration error in the type itself.
func (r *Registry) Register(t *Type) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t == nil {
		return fmt.Errorf("%w: nil type", ErrBadDeclaration)
	}
	if _, dup := r.types[t.name]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateType, t.name)
	}

	var parent *Type
	if t.parent != "" {
		parent = r.types[t.parent]
		if parent == nil {
			return fmt.Errorf("%w: parent %s of %s", ErrUnknownType, t.parent, t.name)
		}
	}

	root := t.name
	if parent != nil {
		root = parent.root
	}
	disc := t.discriminator
	if disc == "" {
		disc = t.name
	}
	if other, taken := r.byDisc[root][disc]; taken {
		return fmt.Errorf("%w: %q used by both %s and %s", ErrDiscriminatorCollision, disc, other, t.name)
	}

	if err := t.compile(r, parent); err != nil {
		return err
	}

	r.types[t.name] = t
	r.order = append(r.order, t.name)
	if parent != nil {
		r.children[parent.name] = append(r.children[parent.name], t.name)
	}
	tree := r.byDisc[root]
	if tree == nil {
		tree = make(map[string]string)
		r.byDisc[root] = tree
	}
	tree[t.discriminator] = t.name
	return nil
}

// MustRegister registers the type and panics on failure. Declaration errors
// are fatal at declaration time, so package-level schema setup uses this.
func (r *Registry) MustRegister(t *Type) *Type {
	if err := r.Register(t); err != nil {
		panic(err)
	}
	return t
}

// Resolve returns the registered type with the given name.
func (r *Registry) Resolve(name string) (*Type, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, name)
	}
	return t, nil
}

// Exists reports whether a type with the given name is registered.
func (r *Registry) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.types[name]
	return ok
}

// Types returns all registered types in registration order.
func (r *Registry) Types() []*Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Type, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.types[name])
	}
	return out
}

// Len returns the number of registered types.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Descendants returns the named type followed by its transitive subtypes in
// registration order.
func (r *Registry) Descendants(name string) ([]*Type, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, name)
	}
	var out []*Type
	var walk func(*Type)
	walk = func(cur *Type) {
		out = append(out, cur)
		for _, child := range r.children[cur.name] {
			walk(r.types[child])
		}
	}
	walk(t)
	return out, nil
}

// ByDiscriminator maps a discriminator value read from a document back to a
// concrete type, restricted to base and its subtypes. Values outside that
// subtree are unknown even when another tree uses them.
func (r *Registry) ByDiscriminator(base *Type, disc string) (*Type, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if base == nil || !base.registered {
		return nil, fmt.Errorf("%w: discriminator lookup without a base type", ErrNotRegistered)
	}
	name, ok := r.byDisc[base.root][disc]
	if !ok {
		return nil, fmt.Errorf("%w: discriminator %q under %s", ErrUnknownType, disc, base.name)
	}
	t := r.types[name]
	for cur := t; cur != nil; {
		if cur.name == base.name {
			return t, nil
		}
		cur = r.types[cur.parent]
	}
	return nil, fmt.Errorf("%w: discriminator %q names %s, outside %s", ErrUnknownType, disc, t.name, base.name)
}

// NormalizeRef coerces a reference's key through the target type's key
// descriptors so identifiers compare consistently however they were
// supplied: a string UUID normalizes to the native identifier, compound
// components to their field kinds. A nil key passes through, marking a
// deliberately dangling reference.
func (r *Registry) NormalizeRef(ref Ref) (Ref, error) {
	if ref.Type == "" {
		return Ref{}, fmt.Errorf("%w: reference without a type", ErrUnknownType)
	}
	r.mu.RLock()
	t := r.types[ref.Type]
	r.mu.RUnlock()
	if t == nil {
		return Ref{}, fmt.Errorf("%w: %s", ErrUnknownType, ref.Type)
	}
	if ref.Key == nil {
		return ref, nil
	}

	keyFields := t.keyFields
	if single, ok := t.SingleKey(); ok {
		raw := ref.Key
		if m, isMap := raw.(map[string]any); isMap {
			v, ok := m[single.name]
			if !ok || len(m) != 1 {
				return Ref{}, fmt.Errorf("%w: key map for single-field key of %s", ErrTypeMismatch, t.name)
			}
			raw = v
		}
		k, err := single.Coerce(raw)
		if err != nil {
			return Ref{}, fmt.Errorf("reference key: %w", err)
		}
		ref.Key = k
		return ref, nil
	}

	m, ok := ref.Key.(map[string]any)
	if !ok {
		return Ref{}, fmt.Errorf("%w: compound key of %s requires a map, got %T", ErrTypeMismatch, t.name, ref.Key)
	}
	if len(m) != len(keyFields) {
		return Ref{}, fmt.Errorf("%w: compound key of %s wants %d components, got %d", ErrTypeMismatch, t.name, len(keyFields), len(m))
	}
	out := make(map[string]any, len(keyFields))
	for _, kf := range keyFields {
		v, ok := m[kf.name]
		if !ok {
			return Ref{}, NewFieldError(kf.name, fmt.Errorf("%w: key component", ErrMissingField))
		}
		c, err := kf.Coerce(v)
		if err != nil {
			return Ref{}, fmt.Errorf("reference key: %w", err)
		}
		out[kf.name] = c
	}
	ref.Key = out
	return ref, nil
}
