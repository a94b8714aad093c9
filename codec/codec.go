// Package codec converts record instances to and from document form: the
// native map documents engines store, and a wire-neutral JSON tree for
// transport. Encoding injects the discriminator for polymorphic types;
// decoding dispatches on it to rebuild the concrete subtype.
package codec

import (
	"fmt"

	"github.com/docent-db/docent/record"
	"github.com/docent-db/docent/schema"
	"github.com/docent-db/docent/storage"
)

// Encode renders a record to its stored document form. Fields go under
// their stored names, a single-field primary key under "_id". Every field
// is validated on the way out: required fields must have a value or
// default, except a single id-kind key, which may stay unset for the
// engine to mint. Polymorphic records carry their discriminator under
// "_type".
func Encode(reg *schema.Registry, rec *record.Record) (storage.Document, error) {
	t := rec.Type()
	if !t.Registered() {
		return nil, fmt.Errorf("%w: %s", schema.ErrNotRegistered, t.Name())
	}

	doc := make(storage.Document, len(t.Fields())+1)
	for _, f := range t.Fields() {
		raw, ok := rec.Get(f.Name())
		if !ok {
			if def, has := f.DefaultValue(); has {
				raw, ok = def, true
			}
		}
		if !ok {
			if requiredAtEncode(t, f) {
				return nil, schema.NewFieldError(f.Name(), schema.ErrMissingField)
			}
			continue
		}
		v, err := f.Validate(raw)
		if err != nil {
			return nil, err
		}
		n, err := f.ToNative(v)
		if err != nil {
			return nil, err
		}
		doc[f.StoredName()] = n
	}

	if t.IsPolymorphic() {
		doc[storage.KeyType] = t.DiscriminatorValue()
	}
	return doc, nil
}

// requiredAtEncode reports whether an unset field blocks encoding. Key
// components are implicitly required; a single id-kind key is exempt
// because the engine mints it on first insert.
func requiredAtEncode(t *schema.Type, f *schema.Field) bool {
	if f.IsRequired() {
		return true
	}
	if !f.IsKey() {
		return false
	}
	single, ok := t.SingleKey()
	return !(ok && single.Kind() == schema.KindID)
}

// Decode rebuilds a record from a stored document. The expected type anchors
// discriminator dispatch: a "_type" value must name expected or one of its
// subtypes. Document keys the schema does not know are dropped, so documents
// written by newer schemas still load. Missing fields take their declared
// defaults; coercion runs, validators do not. The returned record is marked
// as persisted when its key is complete.
func Decode(reg *schema.Registry, expected *schema.Type, doc storage.Document) (*record.Record, error) {
	if expected == nil || !expected.Registered() {
		return nil, fmt.Errorf("%w: decode without a registered type", schema.ErrNotRegistered)
	}

	concrete := expected
	if raw, ok := doc[storage.KeyType]; ok {
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
	for key, raw := range doc {
		if key == storage.KeyType {
			continue
		}
		f, ok := concrete.FieldByStored(key)
		if !ok {
			continue
		}
		if err := rec.Put(f.Name(), raw); err != nil {
			return nil, fmt.Errorf("%w: field %q: %v", ErrBadDocument, f.Name(), err)
		}
	}

	if err := applyDefaults(rec, concrete); err != nil {
		return nil, err
	}

	if rec.HasKey() {
		if err := rec.MarkSaved(); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// applyDefaults fills declared defaults into fields the document did not
// carry, mirroring how older documents gain fields added to the schema
// later.
func applyDefaults(rec *record.Record, t *schema.Type) error {
	for _, f := range t.Fields() {
		if rec.Has(f.Name()) {
			continue
		}
		def, has := f.DefaultValue()
		if !has {
			continue
		}
		if err := rec.Put(f.Name(), def); err != nil {
			return fmt.Errorf("%w: default for field %q: %v", ErrBadDocument, f.Name(), err)
		}
	}
	return nil
}
