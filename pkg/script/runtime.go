package script

import "fmt"

type FeelRuntime interface {
	// UnaryTest evaluates expression and requires a boolean result
	UnaryTest(expression string, variableContext map[string]any) (bool, error)
	Evaluate(expression string, variableContext map[string]any) (any, error)
}

type JsRuntime interface {
	RunScript(script string, variableContext map[string]any) (Result, error)
}

// Result is the outcome of a script run.
type Result struct {
	// Value is the completion value of the script
	Value any
	// Variables holds the variables the script set through execution.setVariable
	Variables map[string]any
}

// ThrownError is returned when a script raises a business error with execution.throwError(code).
type ThrownError struct {
	Code    string
	Message string
}

func (e *ThrownError) Error() string {
	return fmt.Sprintf("script raised error %q: %s", e.Code, e.Message)
}
