package utils

import "fmt"

// AppError carries the failing operation alongside a short operator-facing
// message. The wrapped error, when present, stays reachable for errors.Is
// and errors.As.
type AppError struct {
	Op  string
	Msg string
	Err error
}

func (e *AppError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Msg)
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError wraps err with the operation and message. A nil err is
// allowed for failures that originate locally.
func NewAppError(op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Err: err}
}
