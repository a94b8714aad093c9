package query

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/docent-db/docent/schema"
	"github.com/docent-db/docent/storage"
)

// Compile translates a query expression into the storage filter dialect for
// queries against typ. Field names resolve through the type and are emitted
// under their stored document keys, so a comparison on a single-field primary
// key addresses "_id" directly. Operands are coerced through the field's
// descriptor before being embedded, so a string identifier compares correctly
// against a native one.
//
// Queries against a subtype gain a conjunctive discriminator clause scoping
// matches to the subtype and its registered descendants; queries against a
// root type need none, because the collection holds only its tree.
//
// A nil expression compiles to the match-everything filter.
func Compile(expr Expr, typ *schema.Type) (storage.Filter, error) {
	if typ == nil || !typ.Registered() {
		return nil, fmt.Errorf("%w: compile against an unregistered type", schema.ErrNotRegistered)
	}

	var body storage.Filter
	if expr != nil {
		compiled, err := compileExpr(typ, expr)
		if err != nil {
			return nil, err
		}
		body = compiled
	}

	scope := discriminatorScope(typ)
	switch {
	case scope == nil && body == nil:
		return storage.Filter{}, nil
	case scope == nil:
		return body, nil
	case body == nil:
		return scope, nil
	default:
		return storage.Filter{storage.OpAnd: []any{map[string]any(scope), map[string]any(body)}}, nil
	}
}

// discriminatorScope builds the clause restricting a subtype query to the
// subtype and its descendants. Discriminator values are collected through the
// registry the type registered with.
func discriminatorScope(typ *schema.Type) storage.Filter {
	if !typ.IsSubtype() {
		return nil
	}
	descendants, err := typ.Registry().Descendants(typ.Name())
	if err != nil {
		// The type is registered, so its name always resolves.
		return nil
	}
	if len(descendants) == 1 {
		return storage.Filter{storage.KeyType: map[string]any{storage.OpEq: descendants[0].DiscriminatorValue()}}
	}
	values := make([]any, len(descendants))
	for i, d := range descendants {
		values[i] = d.DiscriminatorValue()
	}
	return storage.Filter{storage.KeyType: map[string]any{storage.OpIn: values}}
}

func compileExpr(typ *schema.Type, expr Expr) (storage.Filter, error) {
	switch node := expr.(type) {
	case Cmp:
		return compileCmp(typ, node)
	case Conjunction:
		subs, err := compileChildren(typ, node.Children)
		if err != nil {
			return nil, err
		}
		return storage.Filter{storage.OpAnd: subs}, nil
	case Disjunction:
		subs, err := compileChildren(typ, node.Children)
		if err != nil {
			return nil, err
		}
		return storage.Filter{storage.OpOr: subs}, nil
	case Negation:
		if node.Child == nil {
			return nil, fmt.Errorf("%w: negation without a child", ErrBadExpr)
		}
		sub, err := compileExpr(typ, node.Child)
		if err != nil {
			return nil, err
		}
		return storage.Filter{storage.OpNot: map[string]any(sub)}, nil
	case nil:
		return nil, fmt.Errorf("%w: nil expression", ErrBadExpr)
	default:
		return nil, fmt.Errorf("%w: unknown node %T", ErrBadExpr, expr)
	}
}

func compileChildren(typ *schema.Type, children []Expr) ([]any, error) {
	subs := make([]any, 0, len(children))
	for _, child := range children {
		sub, err := compileExpr(typ, child)
		if err != nil {
			return nil, err
		}
		subs = append(subs, map[string]any(sub))
	}
	return subs, nil
}

func compileCmp(typ *schema.Type, node Cmp) (storage.Filter, error) {
	path, desc, err := resolveField(typ, node.Field)
	if err != nil {
		return nil, err
	}

	switch node.Op {
	case OpExists:
		want, ok := node.Value.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: exists wants a bool operand, got %T", ErrBadExpr, node.Value)
		}
		return storage.Filter{path: map[string]any{storage.OpExists: want}}, nil

	case OpMatch:
		pattern, ok := node.Value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: match wants a pattern string, got %T", ErrBadExpr, node.Value)
		}
		if desc != nil && desc.Kind() != schema.KindString {
			return nil, fmt.Errorf("%w: match on %s field %q", ErrUnsupportedOperator, desc.Kind(), node.Field)
		}
		if _, err := regexp.Compile(pattern); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadPattern, err)
		}
		return storage.Filter{path: map[string]any{storage.OpRegex: pattern}}, nil

	case OpIn:
		items, ok := node.Value.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: in wants a value list, got %T", ErrBadExpr, node.Value)
		}
		out := make([]any, len(items))
		for i, item := range items {
			v, err := coerceOperand(desc, node.Field, item)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return storage.Filter{path: map[string]any{storage.OpIn: out}}, nil

	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte:
		v, err := coerceOperand(desc, node.Field, node.Value)
		if err != nil {
			return nil, err
		}
		return storage.Filter{path: map[string]any{filterOps[node.Op]: v}}, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedOperator, node.Op)
	}
}

var filterOps = map[Op]string{
	OpEq:  storage.OpEq,
	OpNe:  storage.OpNe,
	OpGt:  storage.OpGt,
	OpGte: storage.OpGte,
	OpLt:  storage.OpLt,
	OpLte: storage.OpLte,
}

// resolveField maps a declared field path to its stored document path and the
// descriptor that governs operand coercion. The first segment must name a
// declared field; further segments descend into map or dynamically shaped
// fields, following element descriptors for as long as the declaration
// provides them. A nil descriptor comes back for untyped descent.
func resolveField(typ *schema.Type, path string) (string, *schema.Field, error) {
	if path == "" {
		return "", nil, fmt.Errorf("%w: empty field name", ErrUnknownField)
	}
	segments := strings.Split(path, ".")
	f, ok := typ.Field(segments[0])
	if !ok {
		return "", nil, fmt.Errorf("%w: %s.%s", ErrUnknownField, typ.Name(), segments[0])
	}

	stored := make([]string, 0, len(segments))
	stored = append(stored, f.StoredName())
	desc := f
	for _, seg := range segments[1:] {
		if seg == "" {
			return "", nil, fmt.Errorf("%w: empty segment in %q", ErrUnknownField, path)
		}
		if desc != nil {
			switch desc.Kind() {
			case schema.KindMap:
				desc = desc.Elem()
			case schema.KindAny:
				desc = nil
			default:
				return "", nil, fmt.Errorf("%w: %q does not descend into a %s field", ErrUnknownField, path, desc.Kind())
			}
		}
		stored = append(stored, seg)
	}
	return strings.Join(stored, "."), desc, nil
}

// coerceOperand normalizes a comparison operand to its native document form.
// With a descriptor the field's own coercion applies, collapsing references
// to their keys; untyped descent falls back to the document-safe forms.
func coerceOperand(desc *schema.Field, field string, v any) (any, error) {
	if desc == nil {
		desc = schema.Any(field)
	}
	c, err := desc.Coerce(v)
	if err != nil {
		return nil, err
	}
	return desc.ToNative(c)
}
