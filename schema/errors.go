package schema

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Sentinel errors returned by schema declaration and value validation.
// Callers match them with errors.Is after unwrapping FieldError.
var (
	// ErrDuplicateType is returned when a type name is registered twice.
	ErrDuplicateType = errors.New("type already registered")

	// ErrUnknownType is returned when a type name is not in the registry.
	ErrUnknownType = errors.New("unknown type")

	// ErrUnknownField is returned when a field name is not declared on a type.
	ErrUnknownField = errors.New("unknown field")

	// ErrDuplicateField is returned when a field name is declared twice on a
	// type, including collisions with inherited fields.
	ErrDuplicateField = errors.New("duplicate field")

	// ErrMissingField is returned when a required field has no value and no
	// default.
	ErrMissingField = errors.New("missing required field")

	// ErrTypeMismatch is returned when a value cannot be coerced to the
	// field's kind.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrBadChoice is returned when a value is outside the field's declared
	// choice set.
	ErrBadChoice = errors.New("value not in choices")

	// ErrReservedName is returned when a declaration claims a stored name or
	// map key the document layer reserves for itself.
	ErrReservedName = errors.New("reserved name")

	// ErrNoPrimaryKey is returned when a root type declares no key fields.
	ErrNoPrimaryKey = errors.New("no primary key")

	// ErrBadKey is returned when a primary key declaration is unusable:
	// unknown field, non-scalar kind, or a key declared on a subtype.
	ErrBadKey = errors.New("invalid primary key")

	// ErrNotPolymorphic is returned when a subtype names a parent that does
	// not allow inheritance.
	ErrNotPolymorphic = errors.New("parent type is not polymorphic")

	// ErrDiscriminatorCollision is returned when two types in one inheritance
	// tree share a discriminator value.
	ErrDiscriminatorCollision = errors.New("discriminator collision")

	// ErrNotRegistered is returned when an operation needs a registered type
	// but the type was never registered.
	ErrNotRegistered = errors.New("type not registered")

	// ErrBadDeclaration is returned for malformed declarations that fit no
	// more specific sentinel: empty names, bad defaults, targetless
	// references, subtype collection overrides.
	ErrBadDeclaration = errors.New("invalid declaration")
)

// FieldError attaches a field name to a validation failure so callers can
// report which field rejected the value. It unwraps to the underlying
// sentinel.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %q: %v", e.Field, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// NewFieldError wraps err with the field name it concerns.
func NewFieldError(field string, err error) *FieldError {
	return &FieldError{Field: field, Err: err}
}

// Errors aggregates validation failures across the fields of one record.
// Whole-record validation collects every failure instead of stopping at the
// first so callers can report all problems at once.
type Errors struct {
	Fields map[string][]string
}

// NewErrors creates an empty aggregate.
func NewErrors() *Errors {
	return &Errors{Fields: make(map[string][]string)}
}

// Add records a failure against a field. Nil errors are ignored.
func (e *Errors) Add(field string, err error) {
	if err == nil {
		return
	}
	e.Fields[field] = append(e.Fields[field], err.Error())
}

// HasErrors reports whether any failure was recorded.
func (e *Errors) HasErrors() bool {
	return len(e.Fields) > 0
}

// ErrorCount returns the total number of recorded failures.
func (e *Errors) ErrorCount() int {
	n := 0
	for _, msgs := range e.Fields {
		n += len(msgs)
	}
	return n
}

func (e *Errors) Error() string {
	if !e.HasErrors() {
		return "no validation errors"
	}
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %s", name, strings.Join(e.Fields[name], "; ")))
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(parts, ", "))
}

// OrNil returns the aggregate when it holds failures and nil otherwise,
// letting validators end with `return errs.OrNil()`.
func (e *Errors) OrNil() error {
	if e.HasErrors() {
		return e
	}
	return nil
}

// IsNotFoundType reports whether err is an unknown-type lookup failure.
func IsNotFoundType(err error) bool {
	return errors.Is(err, ErrUnknownType)
}
