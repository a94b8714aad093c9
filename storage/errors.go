package storage

import "errors"

var (
	// ErrDuplicateKey is returned by Insert when a document with the same
	// engine key already exists in the collection. Engines enforce key
	// uniqueness; callers that want update-or-insert address the existing
	// document with Update first.
	ErrDuplicateKey = errors.New("duplicate document key")

	// ErrBadValue is returned when a value cannot be represented in a
	// document: an unsupported Go type on the way in, or malformed stored
	// bytes on the way out.
	ErrBadValue = errors.New("bad document value")
)
