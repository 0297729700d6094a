package storage

import (
	"fmt"
	"regexp"
)

// Operator compares a metadata field against a value
type Operator string

// Supported filter operators
const (
	OpEqual    Operator = "=="
	OpNotEqual Operator = "!="
	OpIn       Operator = "in"
	OpNotIn    Operator = "not in"
)

// Condition is a single field comparison
type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

// Filter matches documents satisfying every condition. The zero Filter
// matches all documents.
type Filter struct {
	Conditions []Condition
}

// Where builds a filter with a single condition
func Where(field string, op Operator, value any) Filter {
	return Filter{Conditions: []Condition{{Field: field, Operator: op, Value: value}}}
}

// And combines filters into one matching documents that satisfy all of them
func And(filters ...Filter) Filter {
	var out Filter
	for _, f := range filters {
		out.Conditions = append(out.Conditions, f.Conditions...)
	}
	return out
}

// IsEmpty reports whether the filter has no conditions
func (f Filter) IsEmpty() bool {
	return len(f.Conditions) == 0
}

var fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks every condition for a usable field, operator and value
func (f Filter) Validate() error {
	for i, c := range f.Conditions {
		if !fieldPattern.MatchString(c.Field) {
			return fmt.Errorf("%w: condition %d has invalid field %q", ErrInvalidFilter, i, c.Field)
		}
		switch c.Operator {
		case OpEqual, OpNotEqual:
			if !isScalar(c.Value) {
				return fmt.Errorf("%w: %s on %q needs a scalar value, got %T", ErrInvalidFilter, c.Operator, c.Field, c.Value)
			}
		case OpIn, OpNotIn:
			if _, err := listValues(c.Value); err != nil {
				return fmt.Errorf("%w: %s on %q: %v", ErrInvalidFilter, c.Operator, c.Field, err)
			}
		default:
			return fmt.Errorf("%w: unknown operator %q", ErrInvalidFilter, c.Operator)
		}
	}
	return nil
}

func isScalar(v any) bool {
	switch v.(type) {
	case string, bool, int, int32, int64, float32, float64:
		return true
	default:
		return false
	}
}

// listValues normalizes the value of an in / not in condition
func listValues(v any) ([]any, error) {
	switch vals := v.(type) {
	case []string:
		out := make([]any, len(vals))
		for i, s := range vals {
			out[i] = s
		}
		return out, nil
	case []int:
		out := make([]any, len(vals))
		for i, n := range vals {
			out[i] = n
		}
		return out, nil
	case []any:
		for i, item := range vals {
			if !isScalar(item) {
				return nil, fmt.Errorf("element %d is %T", i, item)
			}
		}
		return vals, nil
	default:
		return nil, fmt.Errorf("needs a list value, got %T", v)
	}
}
