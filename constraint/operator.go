package constraint

import (
	"fmt"
	"math"
	"strings"
)

// Operator represents a comparison operator for dynamic constraints.
type Operator string

const (
	// OpEqual represents the equality operator.
	OpEqual Operator = "eq"
	// OpNotEqual represents the inequality operator.
	OpNotEqual Operator = "ne"
	// OpGreaterThan represents the greater than operator.
	OpGreaterThan Operator = "gt"
	// OpGreaterEqual represents the greater than or equal operator.
	OpGreaterEqual Operator = "gte"
	// OpLessThan represents the less than operator.
	OpLessThan Operator = "lt"
	// OpLessEqual represents the less than or equal operator.
	OpLessEqual Operator = "lte"
)

var symbols = map[Operator]string{
	OpEqual:        "=",
	OpNotEqual:     "≠",
	OpGreaterThan:  ">",
	OpGreaterEqual: "≥",
	OpLessThan:     "<",
	OpLessEqual:    "≤",
}

// ParseOperator accepts the operator name ("gte") or a symbol (">=", "≥").
func ParseOperator(s string) (Operator, error) {
	switch strings.TrimSpace(s) {
	case "eq", "=", "==":
		return OpEqual, nil
	case "ne", "!=", "<>", "≠":
		return OpNotEqual, nil
	case "gt", ">":
		return OpGreaterThan, nil
	case "gte", ">=", "≥":
		return OpGreaterEqual, nil
	case "lt", "<":
		return OpLessThan, nil
	case "lte", "<=", "≤":
		return OpLessEqual, nil
	default:
		return "", fmt.Errorf("unknown operator %q", s)
	}
}

// Valid reports whether op is one of the supported operators.
func (op Operator) Valid() bool {
	_, ok := symbols[op]
	return ok
}

// Symbol returns the mathematical symbol of the operator.
func (op Operator) Symbol() string {
	if s, ok := symbols[op]; ok {
		return s
	}
	return string(op)
}

// Compare reports whether "value op threshold" holds.
// A missing (NaN) value never matches, not even for OpNotEqual.
func (op Operator) Compare(value, threshold float64) bool {
	if math.IsNaN(value) {
		return false
	}

	switch op {
	case OpEqual:
		return value == threshold
	case OpNotEqual:
		return value != threshold
	case OpGreaterThan:
		return value > threshold
	case OpGreaterEqual:
		return value >= threshold
	case OpLessThan:
		return value < threshold
	case OpLessEqual:
		return value <= threshold
	default:
		return false
	}
}
