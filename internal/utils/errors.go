package utils

import "fmt"

// AppError annotates a failure with the operation that produced it, such as
// a model-store save or load. The wrapped cause stays reachable through
// errors.Is and errors.As.
type AppError struct {
	Op  string // failing operation, e.g. "modelstore.Save"
	Msg string // what was being attempted
	Err error  // underlying cause, may be nil
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error { return e.Err }

// NewAppError wraps err with the operation and attempt description.
func NewAppError(op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Err: err}
}
