package schema

import "fmt"

// Kind identifies the value family a field holds. Every field descriptor has
// exactly one kind; the kind drives coercion, validation, and the native
// document representation.
type Kind int

const (
	// KindInvalid is the zero value and never valid in a declaration.
	KindInvalid Kind = iota
	// KindString holds UTF-8 text.
	KindString
	// KindInt holds signed integers, canonically int64.
	KindInt
	// KindFloat holds floating point numbers, canonically float64.
	KindFloat
	// KindBool holds booleans.
	KindBool
	// KindTime holds instants, canonically time.Time normalized to UTC.
	KindTime
	// KindBinary holds opaque byte strings.
	KindBinary
	// KindID holds engine-friendly unique identifiers (UUIDs).
	KindID
	// KindList holds ordered sequences with an optional element descriptor.
	KindList
	// KindMap holds string-keyed maps with an optional value descriptor.
	KindMap
	// KindRef holds a reference to another record, carried as an identifier.
	KindRef
	// KindAny holds any document-safe value without a declared shape.
	KindAny
)

var kindNames = map[Kind]string{
	KindInvalid: "invalid",
	KindString:  "string",
	KindInt:     "int",
	KindFloat:   "float",
	KindBool:    "bool",
	KindTime:    "time",
	KindBinary:  "binary",
	KindID:      "id",
	KindList:    "list",
	KindMap:     "map",
	KindRef:     "ref",
	KindAny:     "any",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind maps a declaration-file kind name to its Kind. It returns
// KindInvalid and an error for names it does not know.
func ParseKind(name string) (Kind, error) {
	for k, n := range kindNames {
		if n == name && k != KindInvalid {
			return k, nil
		}
	}
	return KindInvalid, fmt.Errorf("%w: unknown kind %q", ErrTypeMismatch, name)
}

// Scalar reports whether the kind is a single value rather than a container
// or reference. Only scalar kinds may serve as primary key components.
func (k Kind) Scalar() bool {
	switch k {
	case KindString, KindInt, KindFloat, KindBool, KindTime, KindBinary, KindID:
		return true
	default:
		return false
	}
}
