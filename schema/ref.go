package schema

import (
	"bytes"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Ref is a lazy reference to another record: the target type name plus the
// target's primary key. It carries no loaded state; resolution happens
// explicitly through a session. Key is a scalar for single-field keys and a
// map[string]any keyed by field name for compound keys.
type Ref struct {
	Type string
	Key  any
}

// Referable is satisfied by record instances so reference fields can accept
// them directly and strip them down to an identifier.
type Referable interface {
	// TypeName returns the concrete registered type name of the record.
	TypeName() string
	// PrimaryKey returns the record's key: a scalar for single-field keys,
	// a map[string]any for compound keys. It fails when a component is unset.
	PrimaryKey() (any, error)
}

// RefTo builds a reference to the named type with the given key.
func RefTo(typeName string, key any) Ref {
	return Ref{Type: typeName, Key: key}
}

func (r Ref) String() string {
	return fmt.Sprintf("%s(%v)", r.Type, r.Key)
}

// IsZero reports whether the reference carries no identifier.
func (r Ref) IsZero() bool {
	return r.Type == "" && r.Key == nil
}

// Equal reports identifier equality: same target type and same key. Compound
// keys compare component-wise; scalars compare with numeric widening so an
// int key equals the float it round-trips as.
func (r Ref) Equal(o Ref) bool {
	if r.Type != o.Type {
		return false
	}
	rk, rok := r.Key.(map[string]any)
	ok2, ook := o.Key.(map[string]any)
	if rok != ook {
		return false
	}
	if rok {
		if len(rk) != len(ok2) {
			return false
		}
		for name, v := range rk {
			w, ok := ok2[name]
			if !ok || !scalarEqual(v, w) {
				return false
			}
		}
		return true
	}
	return scalarEqual(r.Key, o.Key)
}

// scalarEqual compares two coerced scalar values for identity. Numbers
// compare across int64/float64, times by instant, byte strings by content.
func scalarEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
		return false
	}
	switch av := a.(type) {
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.Equal(bv)
	case []byte:
		bv, ok := b.([]byte)
		return ok && bytes.Equal(av, bv)
	case uuid.UUID:
		switch bv := b.(type) {
		case uuid.UUID:
			return av == bv
		case string:
			p, err := uuid.Parse(bv)
			return err == nil && av == p
		}
		return false
	case string:
		if bv, ok := b.(uuid.UUID); ok {
			p, err := uuid.Parse(av)
			return err == nil && p == bv
		}
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
