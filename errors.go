package rdma

import (
	"github.com/ankit-raj78/xv6-RDMA/internal/errs"
)

// Error is the structured error returned by every entry point. The
// concrete type lives in an internal package so the core packages can
// return it without importing this one.
type Error = errs.Error

// Code is a high-level error category.
type Code = errs.Code

// Error categories surfaced on entry-point failures. Completion-level
// failures use Status instead.
const (
	CodeInvalidArgument = errs.CodeInvalidArgument
	CodeNoSlots         = errs.CodeNoSlots
	CodeNotOwned        = errs.CodeNotOwned
	CodeBadState        = errs.CodeBadState
	CodeBusy            = errs.CodeBusy
	CodeQueueFull       = errs.CodeQueueFull
	CodeNoMemory        = errs.CodeNoMemory
)

// NewError creates a new structured error.
func NewError(op string, code Code, msg string) *Error {
	return errs.New(op, code, msg)
}

// NewQPError creates a new queue-pair-scoped error.
func NewQPError(op string, qp int, code Code, msg string) *Error {
	return errs.NewQP(op, qp, code, msg)
}

// NewMRError creates a new memory-region-scoped error.
func NewMRError(op string, mr int, code Code, msg string) *Error {
	return errs.NewMR(op, mr, code, msg)
}

// WrapError wraps an existing error with operation context.
func WrapError(op string, inner error) *Error {
	return errs.Wrap(op, inner)
}

// IsCode checks whether an error carries a specific error code.
func IsCode(err error, code Code) bool {
	return errs.IsCode(err, code)
}
