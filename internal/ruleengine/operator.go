package ruleengine

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Operator is a numeric comparison used by subtotal and quantity conditions.
type Operator string

const (
	OpNone         Operator = ""
	OpLess         Operator = "<"
	OpGreater      Operator = ">"
	OpLessEqual    Operator = "<="
	OpGreaterEqual Operator = ">="
	OpEqual        Operator = "=="
)

// ParseOperator normalises a stored operator. "=" is accepted as an alias of "==".
func ParseOperator(s string) (Operator, error) {
	switch op := Operator(strings.TrimSpace(s)); op {
	case OpNone, OpLess, OpGreater, OpLessEqual, OpGreaterEqual, OpEqual:
		return op, nil
	case "=":
		return OpEqual, nil
	default:
		return OpNone, fmt.Errorf("unknown operator %q", s)
	}
}

// Compare applies the operator as "value <op> threshold".
// Unknown operators never match. Equality is exact decimal equality.
func (op Operator) Compare(value, threshold decimal.Decimal) bool {
	switch op {
	case OpLess:
		return value.LessThan(threshold)
	case OpGreater:
		return value.GreaterThan(threshold)
	case OpLessEqual:
		return value.LessThanOrEqual(threshold)
	case OpGreaterEqual:
		return value.GreaterThanOrEqual(threshold)
	case OpEqual:
		return value.Equal(threshold)
	default:
		return false
	}
}
