package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/docent-db/docent/record"
	"github.com/docent-db/docent/schema"
)

// EncodeTree renders a record as a wire-neutral nested structure keyed by
// field name: instants become RFC 3339 strings, byte strings base64,
// identifiers their canonical string form, references their identifier.
// Unset fields without defaults are omitted. Polymorphic records carry
// their discriminator under "_type".
func EncodeTree(rec *record.Record) (map[string]any, error) {
	t := rec.Type()
	out := make(map[string]any, len(t.Fields())+1)
	if t.IsPolymorphic() {
		out[schema.StoredType] = t.DiscriminatorValue()
	}
	for _, f := range t.Fields() {
		v := rec.Value(f.Name())
		if v == nil {
			continue
		}
		tv, err := treeValue(f, v)
		if err != nil {
			return nil, err
		}
		out[f.Name()] = tv
	}
	return out, nil
}

// DecodeTree rebuilds a record from a wire tree, dispatching on the
// discriminator like Decode. Keys are field names; unknown keys are
// dropped, missing fields take their defaults. The record is not marked
// as persisted: wire payloads are input, not storage.
func DecodeTree(reg *schema.Registry, expected *schema.Type, tree map[string]any) (*record.Record, error) {
	if expected == nil || !expected.Registered() {
		return nil, fmt.Errorf("%w: decode without a registered type", schema.ErrNotRegistered)
	}

	concrete := expected
	if raw, ok := tree[schema.StoredType]; ok {
		disc, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("%w: discriminator is %T, want string", ErrBadDocument, raw)
		}
		c, err := reg.ByDiscriminator(expected, disc)
		if err != nil {
			return nil, fmt.Errorf("%w: %q under %s", ErrUnknownDiscriminator, disc, expected.Name())
		}
		concrete = c
	}

	rec := record.New(concrete)
	for key, raw := range tree {
		if key == schema.StoredType {
			continue
		}
		f, ok := concrete.Field(key)
		if !ok {
			continue
		}
		v, err := fromTree(f, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: field %q: %v", ErrBadDocument, key, err)
		}
		if err := rec.Put(f.Name(), v); err != nil {
			return nil, fmt.Errorf("%w: field %q: %v", ErrBadDocument, key, err)
		}
	}

	if err := applyDefaults(rec, concrete); err != nil {
		return nil, err
	}
	return rec, nil
}

// EncodeJSON marshals a record to a JSON object whose keys follow field
// declaration order, discriminator first.
func EncodeJSON(rec *record.Record) ([]byte, error) {
	tree, err := EncodeTree(rec)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	wrote := false
	write := func(key string, v any) error {
		if wrote {
			buf.WriteByte(',')
		}
		wrote = true
		kb, err := json.Marshal(key)
		if err != nil {
			return err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(v)
		if err != nil {
			return err
		}
		buf.Write(vb)
		return nil
	}

	if disc, ok := tree[schema.StoredType]; ok {
		if err := write(schema.StoredType, disc); err != nil {
			return nil, err
		}
	}
	for _, f := range rec.Type().Fields() {
		v, ok := tree[f.Name()]
		if !ok {
			continue
		}
		if err := write(f.Name(), v); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// DecodeJSON unmarshals a JSON object and rebuilds a record from it.
// Numbers decode through json.Number so large integers survive intact.
func DecodeJSON(reg *schema.Registry, expected *schema.Type, data []byte) (*record.Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var tree map[string]any
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadDocument, err)
	}
	return DecodeTree(reg, expected, numbersToNative(tree).(map[string]any))
}

// treeValue converts one canonical value to its wire form.
func treeValue(f *schema.Field, v any) (any, error) {
	switch f.Kind() {
	case schema.KindTime:
		t, ok := v.(time.Time)
		if !ok {
			return nil, fmt.Errorf("%w: field %q holds %T", ErrBadDocument, f.Name(), v)
		}
		return t.Format(time.RFC3339Nano), nil
	case schema.KindBinary:
		b, ok := v.([]byte)
		if !ok {
			return nil, fmt.Errorf("%w: field %q holds %T", ErrBadDocument, f.Name(), v)
		}
		return base64.StdEncoding.EncodeToString(b), nil
	case schema.KindID:
		id, ok := v.(uuid.UUID)
		if !ok {
			return nil, fmt.Errorf("%w: field %q holds %T", ErrBadDocument, f.Name(), v)
		}
		return id.String(), nil
	case schema.KindRef:
		ref, ok := v.(schema.Ref)
		if !ok {
			return nil, fmt.Errorf("%w: field %q holds %T", ErrBadDocument, f.Name(), v)
		}
		return refTree(ref), nil
	case schema.KindList:
		items, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: field %q holds %T", ErrBadDocument, f.Name(), v)
		}
		out := make([]any, len(items))
		for i, item := range items {
			tv, err := elemTreeValue(f, item)
			if err != nil {
				return nil, err
			}
			out[i] = tv
		}
		return out, nil
	case schema.KindMap:
		m, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: field %q holds %T", ErrBadDocument, f.Name(), v)
		}
		out := make(map[string]any, len(m))
		for k, item := range m {
			tv, err := elemTreeValue(f, item)
			if err != nil {
				return nil, err
			}
			out[k] = tv
		}
		return out, nil
	case schema.KindAny:
		return treeAny(v), nil
	default:
		return v, nil
	}
}

func elemTreeValue(f *schema.Field, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if elem := f.Elem(); elem != nil {
		return treeValue(elem, v)
	}
	return treeAny(v), nil
}

// treeAny renders a dynamically shaped value. Times, byte strings, and
// identifiers degrade to strings: without a declared kind the decoder has
// no way to restore them.
func treeAny(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.Format(time.RFC3339Nano)
	case []byte:
		return base64.StdEncoding.EncodeToString(t)
	case uuid.UUID:
		return t.String()
	case schema.Ref:
		return refTree(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = treeAny(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = treeAny(item)
		}
		return out
	default:
		return v
	}
}

// refTree renders a reference as its identifier: the bare key for single
// keys, a component map for compound keys.
func refTree(ref schema.Ref) any {
	if m, ok := ref.Key.(map[string]any); ok {
		out := make(map[string]any, len(m))
		for k, v := range m {
			out[k] = treeAny(v)
		}
		return out
	}
	return treeAny(ref.Key)
}

// fromTree undoes the wire conversions the declared kind implies before the
// value goes through normal coercion.
func fromTree(f *schema.Field, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	switch f.Kind() {
	case schema.KindBinary:
		switch t := raw.(type) {
		case string:
			b, err := base64.StdEncoding.DecodeString(t)
			if err != nil {
				return nil, fmt.Errorf("bad base64: %v", err)
			}
			return b, nil
		default:
			return raw, nil
		}
	case schema.KindList:
		items, ok := raw.([]any)
		if !ok {
			return raw, nil
		}
		elem := f.Elem()
		if elem == nil {
			return raw, nil
		}
		out := make([]any, len(items))
		for i, item := range items {
			v, err := fromTree(elem, item)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case schema.KindMap:
		m, ok := raw.(map[string]any)
		if !ok {
			return raw, nil
		}
		elem := f.Elem()
		if elem == nil {
			return raw, nil
		}
		out := make(map[string]any, len(m))
		for k, item := range m {
			v, err := fromTree(elem, item)
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil
	default:
		return raw, nil
	}
}

// numbersToNative rewrites json.Number leaves into int64 when integral and
// float64 otherwise.
func numbersToNative(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case []any:
		for i, item := range t {
			t[i] = numbersToNative(item)
		}
		return t
	case map[string]any:
		for k, item := range t {
			t[k] = numbersToNative(item)
		}
		return t
	default:
		return v
	}
}
