package model

import (
	"fmt"
	"strconv"
)

type VariableType string

const (
	VariableTypeString  VariableType = "string"
	VariableTypeInteger VariableType = "integer"
	VariableTypeFloat   VariableType = "float"
	VariableTypeBoolean VariableType = "boolean"
	VariableTypeObject  VariableType = "object"
)

type Variable struct {
	Name string       `yaml:"name" json:"name"`
	Type VariableType `yaml:"type,omitempty" json:"type,omitempty"`
}

// Coerce converts value into the declared type of the variable.
// Values that can not be converted are returned unchanged together with an error.
func (v Variable) Coerce(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	switch v.Type {
	case VariableTypeString:
		if s, ok := value.(string); ok {
			return s, nil
		}
		return fmt.Sprint(value), nil
	case VariableTypeBoolean:
		switch val := value.(type) {
		case bool:
			return val, nil
		case string:
			b, err := strconv.ParseBool(val)
			if err != nil {
				return value, fmt.Errorf("variable %s: %w", v.Name, err)
			}
			return b, nil
		}
	case VariableTypeInteger:
		switch val := value.(type) {
		case int:
			return int64(val), nil
		case int32:
			return int64(val), nil
		case int64:
			return val, nil
		case float64:
			return int64(val), nil
		case string:
			i, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return value, fmt.Errorf("variable %s: %w", v.Name, err)
			}
			return i, nil
		}
	case VariableTypeFloat:
		switch val := value.(type) {
		case float64:
			return val, nil
		case float32:
			return float64(val), nil
		case int:
			return float64(val), nil
		case int64:
			return float64(val), nil
		case string:
			f, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return value, fmt.Errorf("variable %s: %w", v.Name, err)
			}
			return f, nil
		}
	default:
		return value, nil
	}
	return value, fmt.Errorf("variable %s: can not convert %T to %s", v.Name, value, v.Type)
}
