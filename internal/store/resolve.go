package store

import (
	"fmt"
	"reflect"
)

// ResolveOperators merges incoming fields into the current document payload,
// materializing the field operator sentinels against the provided server
// time. Plain values replace the current value wholesale.
func ResolveOperators(current, incoming Fields, nowMillis int64) (Fields, error) {
	resolved := current.Clone()
	if resolved == nil {
		resolved = Fields{}
	}
	for key, raw := range incoming {
		switch value := raw.(type) {
		case serverTimestampValue:
			resolved[key] = nowMillis
		case incrementValue:
			base, err := numericField(resolved[key], key)
			if err != nil {
				return nil, err
			}
			resolved[key] = base + value.delta
		case arrayUnionValue:
			elements := arrayField(resolved[key])
			if !arrayContains(elements, value.element) {
				elements = append(elements, value.element)
			}
			resolved[key] = elements
		case arrayRemoveValue:
			elements := arrayField(resolved[key])
			kept := make([]any, 0, len(elements))
			for _, element := range elements {
				if !operandEqual(element, value.element) {
					kept = append(kept, element)
				}
			}
			resolved[key] = kept
		default:
			resolved[key] = raw
		}
	}
	return resolved, nil
}

func numericField(raw any, key string) (int64, error) {
	switch value := raw.(type) {
	case nil:
		return 0, nil
	case int64:
		return value, nil
	case int:
		return int64(value), nil
	case float64:
		return int64(value), nil
	default:
		return 0, fmt.Errorf("%w: increment on non-numeric field %q", ErrInvalidOperation, key)
	}
}

func arrayField(raw any) []any {
	elements, ok := raw.([]any)
	if !ok {
		return []any{}
	}
	return append([]any(nil), elements...)
}

func arrayContains(elements []any, element any) bool {
	for _, candidate := range elements {
		if operandEqual(candidate, element) {
			return true
		}
	}
	return false
}

func operandEqual(left, right any) bool {
	return reflect.DeepEqual(left, right)
}
