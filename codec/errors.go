package codec

import "errors"

var (
	// ErrUnknownDiscriminator is returned when a document's discriminator
	// names no registered type within the expected inheritance subtree.
	ErrUnknownDiscriminator = errors.New("unknown discriminator")

	// ErrBadDocument is returned when a stored document or wire payload
	// cannot be decoded against the schema.
	ErrBadDocument = errors.New("malformed document")
)
