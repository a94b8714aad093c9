package query

import "errors"

var (
	// ErrUnknownField is returned when a comparison names a field the target
	// type does not declare.
	ErrUnknownField = errors.New("unknown query field")

	// ErrUnsupportedOperator is returned when an operator cannot apply to
	// the field's kind, like a pattern match on a number.
	ErrUnsupportedOperator = errors.New("unsupported operator")

	// ErrBadPattern is returned when a Match pattern does not compile.
	ErrBadPattern = errors.New("invalid pattern")

	// ErrBadExpr is returned for malformed expression trees: nil children
	// or operands of the wrong shape.
	ErrBadExpr = errors.New("invalid expression")
)
