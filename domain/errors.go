package domain

import (
	"errors"
	"net/http"
)

// ErrorCode classifies a failure independently of the transport that reports it.
type ErrorCode string

const (
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeInvalid      ErrorCode = "INVALID"
	ErrCodeForbidden    ErrorCode = "FORBIDDEN"
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeUnavailable  ErrorCode = "UNAVAILABLE"
	ErrCodeInternal     ErrorCode = "INTERNAL"
)

var codeStatus = map[ErrorCode]int{
	ErrCodeNotFound:     http.StatusNotFound,
	ErrCodeInvalid:      http.StatusBadRequest,
	ErrCodeForbidden:    http.StatusForbidden,
	ErrCodeUnauthorized: http.StatusUnauthorized,
	ErrCodeUnavailable:  http.StatusServiceUnavailable,
	ErrCodeInternal:     http.StatusInternalServerError,
}

// HTTPStatus maps the code onto a response status. Unknown codes are internal errors.
func (c ErrorCode) HTTPStatus() int {
	if status, ok := codeStatus[c]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// Error is a classified gateway error. Err, when set, is the underlying cause.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Err == nil:
		return e.Message
	default:
		return e.Message + ": " + e.Err.Error()
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError classifies cause under code. errors.Is still reaches cause.
func WrapError(code ErrorCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Err: cause}
}

var (
	ErrVerdictNotFound      = NewError(ErrCodeNotFound, "verdict not found")
	ErrProfileNotFound      = NewError(ErrCodeNotFound, "profile not found")
	ErrServiceNotFound      = NewError(ErrCodeNotFound, "upstream service not found")
	ErrUnauthorized         = NewError(ErrCodeUnauthorized, "unauthorized")
	ErrTokenRejected        = NewError(ErrCodeUnauthorized, "token rejected by authority")
	ErrAuthorityUnavailable = NewError(ErrCodeUnavailable, "authentication authority unavailable")
	ErrInvalidPayload       = NewError(ErrCodeInvalid, "invalid payload")
)

// CodeOf returns the code of the outermost *Error in err's chain, or ErrCodeInternal.
func CodeOf(err error) ErrorCode {
	var dErr *Error
	if errors.As(err, &dErr) && dErr != nil {
		return dErr.Code
	}
	return ErrCodeInternal
}

// IsDomainError reports whether err carries code.
func IsDomainError(err error, code ErrorCode) bool {
	var dErr *Error
	return errors.As(err, &dErr) && dErr != nil && dErr.Code == code
}
