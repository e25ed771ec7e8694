package helper

import (
	"fmt"
	"strconv"
)

// AssertionError is returned by see* and dontSee* methods.
type AssertionError struct {
	Expected string
	Actual   string
}

func (e *AssertionError) Error() string {
	if e.Actual == "" {
		return "expected " + e.Expected
	}
	return fmt.Sprintf("expected %s, but got %s", e.Expected, e.Actual)
}

// ArgError reports a bad argument passed to a helper method.
type ArgError struct {
	Method string
	Index  int
	Reason string
}

func (e *ArgError) Error() string {
	return fmt.Sprintf("%s: argument %d %s", e.Method, e.Index+1, e.Reason)
}

// StringArg returns args[i] as a string.
func StringArg(method string, args []any, i int) (string, error) {
	if i >= len(args) {
		return "", &ArgError{Method: method, Index: i, Reason: "is required"}
	}
	switch v := args[i].(type) {
	case string:
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	case nil:
		return "", &ArgError{Method: method, Index: i, Reason: "must not be null"}
	default:
		return fmt.Sprint(v), nil
	}
}

// OptionalString returns args[i] as a string, or "" when absent.
func OptionalString(method string, args []any, i int) (string, error) {
	if i >= len(args) || args[i] == nil {
		return "", nil
	}
	return StringArg(method, args, i)
}

// IntArg returns args[i] as an int. Numeric strings and whole floats are
// accepted since YAML and JSON scenarios produce either.
func IntArg(method string, args []any, i int) (int, error) {
	if i >= len(args) {
		return 0, &ArgError{Method: method, Index: i, Reason: "is required"}
	}
	switch v := args[i].(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v == float64(int(v)) {
			return int(v), nil
		}
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n, nil
		}
	}
	return 0, &ArgError{Method: method, Index: i, Reason: fmt.Sprintf("must be an integer, got %v", args[i])}
}

// MapArg returns args[i] as a string map, or nil when absent.
func MapArg(method string, args []any, i int) (map[string]string, error) {
	if i >= len(args) || args[i] == nil {
		return nil, nil
	}
	switch v := args[i].(type) {
	case map[string]string:
		return v, nil
	case map[string]any:
		out := make(map[string]string, len(v))
		for k, val := range v {
			out[k] = fmt.Sprint(val)
		}
		return out, nil
	}
	return nil, &ArgError{Method: method, Index: i, Reason: fmt.Sprintf("must be a map, got %T", args[i])}
}
