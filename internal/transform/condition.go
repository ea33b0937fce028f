package transform

import (
	"strings"

	"github.com/opencompliance/corelink/internal/domain"
)

// evaluateCondition tests one condition against a source record. Comparisons
// on missing fields are false except NOT_EQUALS and NOT_IN, which treat an
// absent field as trivially unequal.
func evaluateCondition(cond domain.TransformationCondition, data map[string]any) bool {
	value, present := getPath(data, cond.Field)

	switch cond.Operator {
	case domain.OpEquals:
		return present && looseEquals(value, cond.Value)

	case domain.OpNotEquals:
		return !present || !looseEquals(value, cond.Value)

	case domain.OpGreaterThan, domain.OpLessThan:
		if !present {
			return false
		}
		a, okA := toFloat(value)
		b, okB := toFloat(cond.Value)
		if !okA || !okB {
			return false
		}
		if cond.Operator == domain.OpGreaterThan {
			return a > b
		}
		return a < b

	case domain.OpContains:
		return present && strings.Contains(toString(value), toString(cond.Value))

	case domain.OpStartsWith:
		return present && strings.HasPrefix(toString(value), toString(cond.Value))

	case domain.OpEndsWith:
		return present && strings.HasSuffix(toString(value), toString(cond.Value))

	case domain.OpIn:
		return present && inList(value, cond.Value)

	case domain.OpNotIn:
		return !present || !inList(value, cond.Value)

	default:
		return false
	}
}

// parseCondition builds a condition from its JSON map form, as embedded in
// CONDITIONAL mapping parameters.
func parseCondition(m map[string]any) domain.TransformationCondition {
	cond := domain.TransformationCondition{
		Field: toString(m["field"]),
		Value: m["value"],
	}
	if op, ok := m["operator"].(string); ok {
		cond.Operator = domain.ConditionOperator(op)
	}
	return cond
}

// looseEquals compares values after numeric normalization, so a JSON 5 and
// the string "5" compare equal the way rule authors expect.
func looseEquals(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if fa, okA := toFloat(a); okA {
		if fb, okB := toFloat(b); okB {
			return fa == fb
		}
	}
	return toString(a) == toString(b)
}

func inList(value, list any) bool {
	items, ok := list.([]any)
	if !ok {
		return false
	}
	for _, item := range items {
		if looseEquals(value, item) {
			return true
		}
	}
	return false
}
