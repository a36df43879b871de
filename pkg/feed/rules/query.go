package rules

import "strings"

// Condition is one comparison predicate inside a filter or a rule guard.
// Connector 2 opens a new OR group; consecutive conditions without it are
// ANDed within the current group.
type Condition struct {
	Connector int    `json:"c,omitempty"`
	Column    string `json:"col"`
	Operator  string `json:"op"`
	Operand   string `json:"val,omitempty"`
	Operand2  string `json:"val2,omitempty"`
}

// Operator codes understood by the evaluator.
const (
	OpIncludes       = "includes"
	OpExcludes       = "excludes"
	OpEqual          = "is_equal_to"
	OpNotEqual       = "is_not_equal_to"
	OpEmpty          = "is_empty"
	OpNotEmpty       = "is_not_empty"
	OpStartsWith     = "starts_with"
	OpNotStartsWith  = "not_starts_with"
	OpEndsWith       = "ends_with"
	OpNotEndsWith    = "not_ends_with"
	OpGreater        = "is_greater_than"
	OpGreaterOrEqual = "is_greater_or_equal"
	OpLess           = "is_less_than"
	OpLessOrEqual    = "is_less_or_equal"
	OpBetween        = "is_between"
)

// ConnectorOr starts a new OR group when set on a condition.
const ConnectorOr = 2

// Evaluate computes OR-across-groups of AND-across-conditions. An empty
// condition list is vacuously true.
func Evaluate(conds []Condition, rec Record) bool {
	if len(conds) == 0 {
		return true
	}
	groupTrue := true
	for i, c := range conds {
		if i > 0 && c.Connector == ConnectorOr {
			if groupTrue {
				return true
			}
			groupTrue = true
		}
		if groupTrue && !evalCondition(c, rec) {
			groupTrue = false
		}
	}
	return groupTrue
}

func evalCondition(c Condition, rec Record) bool {
	value := rec.String(c.Column)
	// weight is always stored dot-decimal by the catalog regardless of
	// store locale; normalize it the same way operands are.
	if c.Column == "_weight" {
		value = NormalizeDecimal(value)
	}
	v := strings.ToLower(strings.TrimSpace(value))
	op1 := strings.ToLower(strings.TrimSpace(c.Operand))

	switch c.Operator {
	case OpIncludes:
		return op1 != "" && strings.Contains(v, op1)
	case OpExcludes:
		return op1 == "" || !strings.Contains(v, op1)
	case OpEqual:
		return v == op1
	case OpNotEqual:
		return v != op1
	case OpEmpty:
		return v == ""
	case OpNotEmpty:
		return v != ""
	case OpStartsWith:
		return strings.HasPrefix(v, op1)
	case OpNotStartsWith:
		return !strings.HasPrefix(v, op1)
	case OpEndsWith:
		return strings.HasSuffix(v, op1)
	case OpNotEndsWith:
		return !strings.HasSuffix(v, op1)
	case OpGreater, OpGreaterOrEqual, OpLess, OpLessOrEqual, OpBetween:
		return evalNumeric(c, value)
	default:
		// unknown operators never exclude a product
		return true
	}
}

// evalNumeric applies a numeric operator. A non-numeric value makes the
// comparison vacuously true: a type mismatch must never filter a product
// out.
func evalNumeric(c Condition, value string) bool {
	f, ok := ParseLocaleNumber(value)
	if !ok {
		return true
	}
	a, okA := ParseLocaleNumber(c.Operand)
	if !okA {
		return true
	}
	switch c.Operator {
	case OpGreater:
		return f > a
	case OpGreaterOrEqual:
		return f >= a
	case OpLess:
		return f < a
	case OpLessOrEqual:
		return f <= a
	case OpBetween:
		b, okB := ParseLocaleNumber(c.Operand2)
		if !okB {
			return true
		}
		// bounds are exclusive
		return f > a && f < b
	}
	return true
}
