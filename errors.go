package docent

import (
	"errors"
	"fmt"

	"github.com/docent-db/docent/schema"
)

// Sentinel errors returned by sessions and managers. Callers match them with
// errors.Is; the lower layers keep their own sentinels (schema, codec, query,
// storage) and those pass through unchanged.
var (
	// ErrNotFound is returned when a lookup matches no document.
	ErrNotFound = errors.New("record not found")

	// ErrKeyChanged is returned when a save finds that a persisted record's
	// primary key no longer matches the key it was first stored under.
	ErrKeyChanged = errors.New("primary key changed after save")

	// ErrNotSaved is returned when an operation needs a complete primary key
	// and the record has none.
	ErrNotSaved = errors.New("record has no primary key")

	// ErrWrongType is returned when a record is handed to a manager of an
	// unrelated type.
	ErrWrongType = errors.New("record type not managed here")
)

// ResolutionError reports a failed reference resolution: the reference that
// was being followed plus the underlying cause. A dangling reference wraps
// ErrNotFound; an unregistered target type wraps schema.ErrUnknownType.
type ResolutionError struct {
	Ref schema.Ref
	Err error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve %s: %v", e.Ref, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is, or wraps, ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
