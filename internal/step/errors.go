package step

import "fmt"

// ExecutionError is returned when a helper method panics inside a step.
type ExecutionError struct {
	Step  string
	Value any
	Stack string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Value)
}

// Unwrap exposes the panic value when it was an error.
func (e *ExecutionError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}
