package docent

import (
	"context"
	"fmt"

	"github.com/docent-db/docent/query"
	"github.com/docent-db/docent/record"
	"github.com/docent-db/docent/schema"
	"github.com/docent-db/docent/storage"
)

// Resolve loads the record a reference points at. Resolution is stateless:
// every call issues a fresh primary-key lookup, so callers never see a
// record that predates a concurrent change; memoize within an operation with
// ResolveBatch when that matters. Every failure comes back as a
// *ResolutionError; a missing target wraps ErrNotFound.
func (s *Session) Resolve(ctx context.Context, ref schema.Ref) (*record.Record, error) {
	rec, err := s.resolve(ctx, ref)
	if err != nil {
		return nil, &ResolutionError{Ref: ref, Err: err}
	}
	return rec, nil
}

func (s *Session) resolve(ctx context.Context, ref schema.Ref) (*record.Record, error) {
	if ref.IsZero() || ref.Key == nil {
		return nil, ErrNotFound
	}
	typ, err := s.reg.Resolve(ref.Type)
	if err != nil {
		return nil, err
	}
	expr, err := keyExpr(typ, ref.Key)
	if err != nil {
		return nil, err
	}
	return s.Manager(typ).FindOne(ctx, expr)
}

// Load resolves rec's reference field. An unset field loads as (nil, nil);
// a dangling reference fails with a *ResolutionError wrapping ErrNotFound.
func (s *Session) Load(ctx context.Context, rec *record.Record, field string) (*record.Record, error) {
	f, ok := rec.Type().Field(field)
	if !ok {
		return nil, schema.NewFieldError(field, schema.ErrUnknownField)
	}
	if f.Kind() != schema.KindRef {
		return nil, schema.NewFieldError(field, fmt.Errorf("%w: not a reference field", schema.ErrTypeMismatch))
	}
	v, ok := rec.Get(field)
	if !ok {
		return nil, nil
	}
	ref, ok := v.(schema.Ref)
	if !ok {
		return nil, schema.NewFieldError(field, fmt.Errorf("%w: holds %T", schema.ErrTypeMismatch, v))
	}
	return s.Resolve(ctx, ref)
}

// ResolveBatch resolves many references with one query per target type, the
// way a list view loads its associations. The result maps each reference's
// String() to its record; references whose targets are gone are simply
// absent, so the caller decides whether a dangling reference is fatal.
func (s *Session) ResolveBatch(ctx context.Context, refs []schema.Ref) (map[string]*record.Record, error) {
	byType := make(map[string][]schema.Ref)
	for _, ref := range refs {
		if ref.IsZero() || ref.Key == nil {
			continue
		}
		byType[ref.Type] = append(byType[ref.Type], ref)
	}

	out := make(map[string]*record.Record)
	for typeName, group := range byType {
		typ, err := s.reg.Resolve(typeName)
		if err != nil {
			return nil, &ResolutionError{Ref: group[0], Err: err}
		}
		if err := s.resolveGroup(ctx, typ, group, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// resolveGroup loads one target type's references with a single find and
// files the hits into out under the original references' String() keys.
func (s *Session) resolveGroup(ctx context.Context, typ *schema.Type, group []schema.Ref, out map[string]*record.Record) error {
	normalized := make([]schema.Ref, len(group))
	for i, ref := range group {
		n, err := s.reg.NormalizeRef(ref)
		if err != nil {
			return &ResolutionError{Ref: ref, Err: err}
		}
		normalized[i] = n
	}

	expr, err := batchExpr(typ, normalized)
	if err != nil {
		return &ResolutionError{Ref: group[0], Err: err}
	}
	recs, err := s.Manager(typ).Find(ctx, expr)
	if err != nil {
		return &ResolutionError{Ref: group[0], Err: err}
	}
	loaded, err := recs.All()
	if err != nil {
		return &ResolutionError{Ref: group[0], Err: err}
	}

	index := make(map[string]*record.Record, len(loaded))
	for _, rec := range loaded {
		key, err := rec.Key()
		if err != nil {
			continue
		}
		enc, err := storage.EncodeKey(key)
		if err != nil {
			continue
		}
		index[enc] = rec
	}
	for i, ref := range group {
		enc, err := storage.EncodeKey(normalized[i].Key)
		if err != nil {
			continue
		}
		if rec, ok := index[enc]; ok {
			out[ref.String()] = rec
		}
	}
	return nil
}

// batchExpr matches any of the given keys: a membership test for
// single-field keys, a disjunction of per-key conjunctions for compound
// keys.
func batchExpr(typ *schema.Type, refs []schema.Ref) (query.Expr, error) {
	if single, ok := typ.SingleKey(); ok {
		keys := make([]any, 0, len(refs))
		for _, ref := range refs {
			keys = append(keys, ref.Key)
		}
		return query.In(single.Name(), keys...), nil
	}
	branches := make([]query.Expr, 0, len(refs))
	for _, ref := range refs {
		expr, err := keyExpr(typ, ref.Key)
		if err != nil {
			return nil, err
		}
		branches = append(branches, expr)
	}
	return query.Or(branches...), nil
}

// CollectRefs gathers the references held in one field across records,
// skipping records where the field is unset. Feed the result to
// ResolveBatch.
func CollectRefs(recs []*record.Record, field string) ([]schema.Ref, error) {
	var refs []schema.Ref
	for _, rec := range recs {
		f, ok := rec.Type().Field(field)
		if !ok {
			return nil, schema.NewFieldError(field, schema.ErrUnknownField)
		}
		if f.Kind() != schema.KindRef {
			return nil, schema.NewFieldError(field, fmt.Errorf("%w: not a reference field", schema.ErrTypeMismatch))
		}
		v, ok := rec.Get(field)
		if !ok {
			continue
		}
		if ref, ok := v.(schema.Ref); ok {
			refs = append(refs, ref)
		}
	}
	return refs, nil
}
