package feel

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/pbinitiative/feel"
	"github.com/pbinitiative/zenflow/pkg/script"
)

// FeelRuntime evaluates FEEL expressions. The interpreter keeps no state between evaluations
// so a single instance is safe for concurrent use.
type FeelRuntime struct {
}

var _ script.FeelRuntime = (*FeelRuntime)(nil)

func NewFeelRuntime() *FeelRuntime {
	return &FeelRuntime{}
}

func (r *FeelRuntime) UnaryTest(expression string, variableContext map[string]any) (bool, error) {
	result, err := r.Evaluate(expression, variableContext)
	if err != nil {
		return false, err
	}
	switch v := result.(type) {
	case bool:
		return v, nil
	case nil:
		return false, nil
	}
	return false, fmt.Errorf("expression %q evaluated to %T instead of a boolean", expression, result)
}

func (r *FeelRuntime) Evaluate(expression string, variableContext map[string]any) (any, error) {
	scope := make(map[string]interface{}, len(variableContext))
	for k, v := range variableContext {
		scope[k] = normalizeInput(v)
	}
	result, err := feel.EvalStringWithScope(expression, scope)
	if err != nil {
		return nil, err
	}
	return Normalize(result), nil
}

// Normalize converts interpreter specific values into plain go values.
// Numbers become int64 when integral, float64 otherwise.
func Normalize(value any) any {
	switch v := value.(type) {
	case nil, bool, string, int64, float64:
		return v
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case float32:
		return float64(v)
	case map[string]any:
		result := make(map[string]any, len(v))
		for k, item := range v {
			result[k] = Normalize(item)
		}
		return result
	case []any:
		result := make([]any, len(v))
		for i, item := range v {
			result[i] = Normalize(item)
		}
		return result
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Slice {
		result := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			result[i] = Normalize(rv.Index(i).Interface())
		}
		return result
	}
	if n, ok := parseNumber(fmt.Sprint(value)); ok {
		return n
	}
	return value
}

func parseNumber(s string) (any, bool) {
	s = strings.TrimSpace(s)
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, false
	}
	if f == math.Trunc(f) && math.Abs(f) < math.MaxInt64 {
		return int64(f), true
	}
	return f, true
}

func normalizeInput(value any) any {
	switch v := value.(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float32:
		return float64(v)
	case map[string]any:
		result := make(map[string]any, len(v))
		for k, item := range v {
			result[k] = normalizeInput(item)
		}
		return result
	case []any:
		result := make([]any, len(v))
		for i, item := range v {
			result[i] = normalizeInput(item)
		}
		return result
	}
	return value
}
