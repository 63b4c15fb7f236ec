package sqlitestore

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/studyloop/drift/internal/store"
)

func decodeFields(raw string) (store.Fields, error) {
	if raw == "" {
		return store.Fields{}, nil
	}
	var fields store.Fields
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, fmt.Errorf("decode document fields: %w", err)
	}
	return fields, nil
}

func encodeFields(fields store.Fields) (string, error) {
	encoded, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("encode document fields: %w", err)
	}
	return string(encoded), nil
}

// canonicalize round-trips fields through JSON so that event payloads carry
// the same value types a later read would see.
func canonicalize(fields store.Fields) (store.Fields, error) {
	encoded, err := encodeFields(fields)
	if err != nil {
		return nil, err
	}
	return decodeFields(encoded)
}

func numericValue(raw any) (float64, bool) {
	switch value := raw.(type) {
	case float64:
		return value, true
	case int64:
		return float64(value), true
	case int:
		return float64(value), true
	default:
		return 0, false
	}
}

func equalValues(left, right any) bool {
	leftNum, leftOK := numericValue(left)
	rightNum, rightOK := numericValue(right)
	if leftOK && rightOK {
		return leftNum == rightNum
	}
	return reflect.DeepEqual(left, right)
}

func matchesFilter(fields store.Fields, filter store.Filter) bool {
	value, ok := fields[filter.Field]
	if !ok {
		return false
	}
	switch filter.Op {
	case store.FilterOpEqual:
		return equalValues(value, filter.Value)
	case store.FilterOpArrayContains:
		elements, ok := value.([]any)
		if !ok {
			return false
		}
		for _, element := range elements {
			if equalValues(element, filter.Value) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func compareOrderValues(left, right any) int {
	leftNum, leftOK := numericValue(left)
	rightNum, rightOK := numericValue(right)
	if leftOK && rightOK {
		switch {
		case leftNum < rightNum:
			return -1
		case leftNum > rightNum:
			return 1
		default:
			return 0
		}
	}
	leftText, leftIsText := left.(string)
	rightText, rightIsText := right.(string)
	if leftIsText && rightIsText {
		switch {
		case leftText < rightText:
			return -1
		case leftText > rightText:
			return 1
		default:
			return 0
		}
	}
	return 0
}
