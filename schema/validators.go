package schema

import (
	"fmt"
	"regexp"
	"unicode/utf8"
)

// Validator checks an already-coerced value against one constraint. Field
// descriptors run their validators in declaration order and stop at the
// first failure.
type Validator interface {
	Validate(value any) error
}

// MinValidator enforces a numeric lower bound (inclusive).
type MinValidator struct {
	Min float64
}

func (v *MinValidator) Validate(value any) error {
	n, ok := toFloat(value)
	if !ok {
		return fmt.Errorf("%w: min bound on non-numeric value %T", ErrTypeMismatch, value)
	}
	if n < v.Min {
		return fmt.Errorf("value %v below minimum %v", n, v.Min)
	}
	return nil
}

// MaxValidator enforces a numeric upper bound (inclusive).
type MaxValidator struct {
	Max float64
}

func (v *MaxValidator) Validate(value any) error {
	n, ok := toFloat(value)
	if !ok {
		return fmt.Errorf("%w: max bound on non-numeric value %T", ErrTypeMismatch, value)
	}
	if n > v.Max {
		return fmt.Errorf("value %v above maximum %v", n, v.Max)
	}
	return nil
}

// LengthValidator bounds the size of a string (in runes), list, map, or byte
// string. A negative bound means unbounded on that side.
type LengthValidator struct {
	MinLen int
	MaxLen int
}

func (v *LengthValidator) Validate(value any) error {
	var n int
	switch t := value.(type) {
	case string:
		n = utf8.RuneCountInString(t)
	case []byte:
		n = len(t)
	case []any:
		n = len(t)
	case map[string]any:
		n = len(t)
	default:
		return fmt.Errorf("%w: length bound on %T", ErrTypeMismatch, value)
	}
	if v.MinLen >= 0 && n < v.MinLen {
		return fmt.Errorf("length %d below minimum %d", n, v.MinLen)
	}
	if v.MaxLen >= 0 && n > v.MaxLen {
		return fmt.Errorf("length %d above maximum %d", n, v.MaxLen)
	}
	return nil
}

// PatternValidator requires a string value to match an anchored-or-not
// regular expression. The expression is compiled at declaration time;
// declaration errors are fatal, so an invalid expression panics.
type PatternValidator struct {
	re *regexp.Regexp
}

func (v *PatternValidator) Validate(value any) error {
	s, ok := value.(string)
	if !ok {
		return fmt.Errorf("%w: pattern match on %T", ErrTypeMismatch, value)
	}
	if !v.re.MatchString(s) {
		return fmt.Errorf("value %q does not match %s", s, v.re)
	}
	return nil
}

// Min builds an inclusive numeric lower-bound validator.
func Min(min float64) Validator {
	return &MinValidator{Min: min}
}

// Max builds an inclusive numeric upper-bound validator.
func Max(max float64) Validator {
	return &MaxValidator{Max: max}
}

// MinLength builds a validator requiring at least n elements or runes.
func MinLength(n int) Validator {
	return &LengthValidator{MinLen: n, MaxLen: -1}
}

// MaxLength builds a validator requiring at most n elements or runes.
func MaxLength(n int) Validator {
	return &LengthValidator{MinLen: -1, MaxLen: n}
}

// Pattern builds a validator requiring strings to match expr. It panics when
// expr does not compile.
func Pattern(expr string) Validator {
	return &PatternValidator{re: regexp.MustCompile(expr)}
}

// ValidatorFunc adapts a plain function to the Validator interface.
type ValidatorFunc func(value any) error

func (f ValidatorFunc) Validate(value any) error {
	return f(value)
}
