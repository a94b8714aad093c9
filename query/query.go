// Package query builds typed query expressions and compiles them into the
// storage filter dialect. Expressions are a small sealed tree: field
// comparisons combined with conjunction, disjunction, and negation.
// Compilation resolves field names against a record type, applies stored
// aliases, coerces operands, and scopes subtype queries by discriminator.
package query

import "fmt"

// Op identifies a comparison operator.
type Op int

const (
	OpEq Op = iota
	OpNe
	OpGt
	OpGte
	OpLt
	OpLte
	OpIn
	OpExists
	OpMatch
)

var opNames = map[Op]string{
	OpEq:     "==",
	OpNe:     "!=",
	OpGt:     ">",
	OpGte:    ">=",
	OpLt:     "<",
	OpLte:    "<=",
	OpIn:     "in",
	OpExists: "exists",
	OpMatch:  "match",
}

func (o Op) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return fmt.Sprintf("Op(%d)", int(o))
}

// Expr is a node in a query expression tree. The interface is sealed: the
// compiler knows every implementation.
type Expr interface {
	exprNode()
}

// Cmp compares one field against an operand.
type Cmp struct {
	Field string
	Op    Op
	Value any
}

// Conjunction matches when every child matches. Empty matches everything.
type Conjunction struct {
	Children []Expr
}

// Disjunction matches when any child matches. Empty matches nothing.
type Disjunction struct {
	Children []Expr
}

// Negation matches when its child does not.
type Negation struct {
	Child Expr
}

func (Cmp) exprNode()         {}
func (Conjunction) exprNode() {}
func (Disjunction) exprNode() {}
func (Negation) exprNode()    {}

// Eq matches records whose field equals value.
func Eq(field string, value any) Expr { return Cmp{Field: field, Op: OpEq, Value: value} }

// Ne matches records whose field does not equal value. Absent fields match.
func Ne(field string, value any) Expr { return Cmp{Field: field, Op: OpNe, Value: value} }

// Gt matches records whose field orders strictly above value.
func Gt(field string, value any) Expr { return Cmp{Field: field, Op: OpGt, Value: value} }

// Gte matches records whose field orders at or above value.
func Gte(field string, value any) Expr { return Cmp{Field: field, Op: OpGte, Value: value} }

// Lt matches records whose field orders strictly below value.
func Lt(field string, value any) Expr { return Cmp{Field: field, Op: OpLt, Value: value} }

// Lte matches records whose field orders at or below value.
func Lte(field string, value any) Expr { return Cmp{Field: field, Op: OpLte, Value: value} }

// In matches records whose field equals any of the values.
func In(field string, values ...any) Expr {
	return Cmp{Field: field, Op: OpIn, Value: append([]any(nil), values...)}
}

// Exists matches records that carry the field at all.
func Exists(field string) Expr { return Cmp{Field: field, Op: OpExists, Value: true} }

// Missing matches records that do not carry the field.
func Missing(field string) Expr { return Cmp{Field: field, Op: OpExists, Value: false} }

// Match matches string fields against a regular expression.
func Match(field, pattern string) Expr { return Cmp{Field: field, Op: OpMatch, Value: pattern} }

// And combines expressions conjunctively.
func And(children ...Expr) Expr { return Conjunction{Children: children} }

// Or combines expressions disjunctively.
func Or(children ...Expr) Expr { return Disjunction{Children: children} }

// Not negates an expression.
func Not(child Expr) Expr { return Negation{Child: child} }
