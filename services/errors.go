package services

import (
	"errors"
	"net/http"

	"github.com/wfunc/esquisse/concepts"
	"github.com/wfunc/esquisse/persistence"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Code is the machine readable error class returned to clients.
type Code string

const (
	CodeUnauthenticated Code = "UNAUTHENTICATED"
	CodeNotFound        Code = "NOT_FOUND"
	CodeConflict        Code = "CONFLICT"
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeInternal        Code = "INTERNAL"
)

// GRPCCode maps the code onto the grpc status space.
func (c Code) GRPCCode() codes.Code {
	switch c {
	case CodeUnauthenticated:
		return codes.Unauthenticated
	case CodeNotFound:
		return codes.NotFound
	case CodeConflict:
		return codes.Aborted
	case CodeInvalidArgument:
		return codes.InvalidArgument
	default:
		return codes.Internal
	}
}

func (c Code) HTTPStatus() int {
	switch c {
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeInvalidArgument:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Error is the error type every SessionService operation returns.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// GRPCStatus lets status.FromError and status.Code understand Error.
func (e *Error) GRPCStatus() *status.Status {
	return status.New(e.Code.GRPCCode(), e.Message)
}

var (
	ErrUnauthenticated = &Error{Code: CodeUnauthenticated, Message: "caller is not authenticated"}
	ErrNotFound        = &Error{Code: CodeNotFound, Message: "not found"}
	ErrConflict        = &Error{Code: CodeConflict, Message: "concurrent modification"}
	ErrInvalidArgument = &Error{Code: CodeInvalidArgument, Message: "invalid argument"}
	ErrInternal        = &Error{Code: CodeInternal, Message: "internal error"}
)

func newError(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// translate wraps lower layer errors into the taxonomy.
func translate(op string, err error) error {
	if err == nil {
		return nil
	}
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return err
	}
	switch {
	case errors.Is(err, persistence.ErrRecordNotFound):
		return newError(CodeNotFound, op+": not found", err)
	case errors.Is(err, persistence.ErrConflict):
		return newError(CodeConflict, op+": concurrent modification", err)
	case errors.Is(err, concepts.ErrListIndexOutOfRange), errors.Is(err, concepts.ErrLimitExceeded):
		return newError(CodeInvalidArgument, op+": "+err.Error(), err)
	}
	return newError(CodeInternal, op+": internal error", err)
}

// CodeOf returns the taxonomy code of err, Internal for foreign errors.
func CodeOf(err error) Code {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr.Code
	}
	return CodeInternal
}
