package storage

import (
	"bytes"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Filter operators. A filter is a map whose keys are either one of the
// boolean operators below, carrying sub-filters, or a field path carrying a
// map of comparison operators to operands:
//
//	{"$and": [f1, f2]}                      conjunction; empty list matches all
//	{"$or":  [f1, f2]}                      disjunction; empty list matches none
//	{"$not": f}                             negation
//	{"age":  {"$gte": 18}}                  comparison on a field
//	{"status": {"$in": ["a", "b"]}}         membership
//	{"nick": {"$exists": true}}             key presence
//	{"name": {"$regex": "^R"}}              RE2 match against string values
//
// Field paths use dots to descend into nested documents ("address.city").
// A field entry that is not an operator map is shorthand for {"$eq": value}.
const (
	OpAnd = "$and"
	OpOr  = "$or"
	OpNot = "$not"

	OpEq     = "$eq"
	OpNe     = "$ne"
	OpGt     = "$gt"
	OpGte    = "$gte"
	OpLt     = "$lt"
	OpLte    = "$lte"
	OpIn     = "$in"
	OpExists = "$exists"
	OpRegex  = "$regex"
)

// Matches reports whether doc satisfies filter. It is the single definition
// of the filter dialect's semantics; every bundled engine evaluates finds
// through it. A nil or empty filter matches every document.
func Matches(doc Document, filter Filter) bool {
	for key, cond := range filter {
		switch key {
		case OpAnd:
			for _, sub := range subFilters(cond) {
				if !Matches(doc, sub) {
					return false
				}
			}
		case OpOr:
			subs := subFilters(cond)
			matched := false
			for _, sub := range subs {
				if Matches(doc, sub) {
					matched = true
					break
				}
			}
			if !matched {
				return false
			}
		case OpNot:
			if sub, ok := cond.(map[string]any); ok && Matches(doc, sub) {
				return false
			}
		default:
			value, present := lookupPath(doc, key)
			if !matchField(value, present, cond) {
				return false
			}
		}
	}
	return true
}

// subFilters normalizes the operand of $and/$or, which arrives as []Filter
// from the compiler but may be []any after a trip through serialization.
func subFilters(cond any) []Filter {
	switch list := cond.(type) {
	case []Filter:
		return list
	case []any:
		out := make([]Filter, 0, len(list))
		for _, item := range list {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

// lookupPath resolves a dotted field path against a document, reporting
// whether the final key is present.
func lookupPath(doc Document, path string) (any, bool) {
	current := any(doc)
	parts := strings.Split(path, ".")
	for i, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		value, present := m[part]
		if !present {
			return nil, false
		}
		if i == len(parts)-1 {
			return value, true
		}
		current = value
	}
	return nil, false
}

// matchField evaluates one field condition. cond is either an operator map
// or a bare operand (shorthand equality).
func matchField(value any, present bool, cond any) bool {
	ops, ok := cond.(map[string]any)
	if !ok || !isOperatorMap(ops) {
		return present && equalValues(value, cond)
	}
	for op, operand := range ops {
		if !matchOp(value, present, op, operand) {
			return false
		}
	}
	return true
}

func isOperatorMap(m map[string]any) bool {
	for k := range m {
		return strings.HasPrefix(k, "$")
	}
	return false
}

func matchOp(value any, present bool, op string, operand any) bool {
	switch op {
	case OpEq:
		return present && equalValues(value, operand)
	case OpNe:
		return !present || !equalValues(value, operand)
	case OpGt:
		c, ok := compareValues(value, operand)
		return present && ok && c > 0
	case OpGte:
		c, ok := compareValues(value, operand)
		return present && ok && c >= 0
	case OpLt:
		c, ok := compareValues(value, operand)
		return present && ok && c < 0
	case OpLte:
		c, ok := compareValues(value, operand)
		return present && ok && c <= 0
	case OpIn:
		if !present {
			return false
		}
		list, ok := operand.([]any)
		if !ok {
			return false
		}
		for _, candidate := range list {
			if equalValues(value, candidate) {
				return true
			}
		}
		return false
	case OpExists:
		want, ok := operand.(bool)
		if !ok {
			return false
		}
		return present == want
	case OpRegex:
		pattern, ok := operand.(string)
		if !ok || !present {
			return false
		}
		s, ok := value.(string)
		if !ok {
			return false
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false
		}
		return re.MatchString(s)
	}
	return false
}

// equalValues compares two document scalars for equality, unifying the
// numeric kinds and comparing times by instant rather than representation.
func equalValues(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if fa, ok := asFloat(a); ok {
		fb, ok := asFloat(b)
		return ok && fa == fb
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.Equal(bv)
	case []byte:
		bv, ok := b.([]byte)
		return ok && bytes.Equal(av, bv)
	case uuid.UUID:
		bv, ok := b.(uuid.UUID)
		return ok && av == bv
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !equalValues(av[i], bv[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			w, present := bv[k]
			if !present || !equalValues(v, w) {
				return false
			}
		}
		return true
	}
	return false
}

// compareValues orders two scalars, returning -1/0/+1 and whether the pair
// is orderable at all. Numbers, strings, times, byte slices and identifiers
// order; booleans and compounds do not.
func compareValues(a, b any) (int, bool) {
	if fa, ok := asFloat(a); ok {
		fb, ok := asFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(av, bv), true
	case time.Time:
		bv, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		switch {
		case av.Before(bv):
			return -1, true
		case av.After(bv):
			return 1, true
		}
		return 0, true
	case []byte:
		bv, ok := b.([]byte)
		if !ok {
			return 0, false
		}
		return bytes.Compare(av, bv), true
	case uuid.UUID:
		bv, ok := b.(uuid.UUID)
		if !ok {
			return 0, false
		}
		return bytes.Compare(av[:], bv[:]), true
	}
	return 0, false
}

// asFloat widens any integer or float document scalar to float64 so that
// values that crossed a JSON boundary still compare against native ones.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
