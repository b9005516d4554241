package errors

import (
	stderrors "errors"
	"fmt"
)

// AppError 是服务层对外暴露的统一错误类型。
// Code 决定错误的种类（以及 HTTP 映射），Message 面向调用方，Err 保存底层原因。
type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is lets a bare kind sentinel (Code only) match every error of that code.
// Sentinels with a message only match themselves.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	if t.Message == "" && t.Err == nil {
		return e.Code == t.Code
	}
	return e == t
}

func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// CodeOf returns the code of the first AppError in err's chain, or "" if there is none.
func CodeOf(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code string) bool {
	return CodeOf(err) == code
}

// Common error codes
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeUpstream          = "UPSTREAM_ERROR"
	ErrCodeState             = "STATE_ERROR"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
)

// Kind sentinels, for errors.Is(err, apperrors.ErrNotFound) style checks.
var (
	ErrValidation   = &AppError{Code: ErrCodeValidation}
	ErrNotFound     = &AppError{Code: ErrCodeNotFound}
	ErrConflict     = &AppError{Code: ErrCodeConflict}
	ErrUpstream     = &AppError{Code: ErrCodeUpstream}
	ErrState        = &AppError{Code: ErrCodeState}
	ErrUnauthorized = &AppError{Code: ErrCodeUnauthorized}
)

func Validation(message string) *AppError { return New(ErrCodeValidation, message) }

func NotFound(message string) *AppError { return New(ErrCodeNotFound, message) }

func State(message string) *AppError { return New(ErrCodeState, message) }

func Upstream(err error, message string) *AppError { return Wrap(err, ErrCodeUpstream, message) }
