// Package errs defines the structured error type shared by the RDMA core.
// It lives in its own package so that internal packages and the public rdma
// package can use the same type without a circular import.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Code is a high-level error category surfaced on entry-point failures.
type Code string

const (
	CodeInvalidArgument Code = "invalid argument"
	CodeNoSlots         Code = "no free slots"
	CodeNotOwned        Code = "not owned by caller"
	CodeBadState        Code = "bad queue pair state"
	CodeBusy            Code = "busy"
	CodeQueueFull       Code = "queue full"
	CodeNoMemory        Code = "out of memory"
)

// Error is a structured RDMA error with operation context.
type Error struct {
	Op    string // operation that failed (e.g. "REG_MR", "POST_SEND")
	QP    int    // queue pair id (-1 if not applicable)
	MR    int    // memory region id (0 if not applicable)
	Code  Code   // high-level error category
	Msg   string // human-readable message
	Inner error  // wrapped error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.QP >= 0 {
		parts = append(parts, fmt.Sprintf("qp=%d", e.QP))
	}
	if e.MR != 0 {
		parts = append(parts, fmt.Sprintf("mr=%d", e.MR))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("rdma: %s (%s)", msg, strings.Join(parts, " "))
	}
	return fmt.Sprintf("rdma: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is matches two structured errors by code.
func (e *Error) Is(target error) bool {
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// New creates a new structured error.
func New(op string, code Code, msg string) *Error {
	return &Error{
		Op:   op,
		QP:   -1,
		Code: code,
		Msg:  msg,
	}
}

// NewQP creates a new queue-pair-scoped error.
func NewQP(op string, qp int, code Code, msg string) *Error {
	return &Error{
		Op:   op,
		QP:   qp,
		Code: code,
		Msg:  msg,
	}
}

// NewMR creates a new memory-region-scoped error.
func NewMR(op string, mr int, code Code, msg string) *Error {
	return &Error{
		Op:   op,
		QP:   -1,
		MR:   mr,
		Code: code,
		Msg:  msg,
	}
}

// Wrap wraps an existing error with operation context.
func Wrap(op string, inner error) *Error {
	if inner == nil {
		return nil
	}
	if ie, ok := inner.(*Error); ok {
		return &Error{
			Op:    op,
			QP:    ie.QP,
			MR:    ie.MR,
			Code:  ie.Code,
			Msg:   ie.Msg,
			Inner: ie.Inner,
		}
	}
	return &Error{
		Op:    op,
		QP:    -1,
		Code:  CodeInvalidArgument,
		Msg:   inner.Error(),
		Inner: inner,
	}
}

// WithCode overrides the error category and returns the same error.
func (e *Error) WithCode(code Code) *Error {
	e.Code = code
	return e
}

// IsCode checks whether an error carries a specific error code.
func IsCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
