// Package apperr defines the coded errors shared by the pipeline and its
// collaborators, and the short messages shown to chat users for each code.
package apperr

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodeUnknown             Code = "UNKNOWN"
	CodeInvalidArgument     Code = "INVALID_ARGUMENT"
	CodeAlreadyQueued       Code = "ALREADY_QUEUED"
	CodeUnauthorized        Code = "UNAUTHORIZED"
	CodeInputTooLarge       Code = "INPUT_TOO_LARGE"
	CodeEmptyInput          Code = "EMPTY_INPUT"
	CodeUnsupportedFileType Code = "UNSUPPORTED_FILE_TYPE"
	CodeNotFound            Code = "NOT_FOUND"
	CodeStorage             Code = "STORAGE"
	CodeBackendUnavailable  Code = "BACKEND_UNAVAILABLE"
	CodeBackendError        Code = "BACKEND_ERROR"
	CodeBackendTimeout      Code = "BACKEND_TIMEOUT"
	CodeEmptyResponse       Code = "EMPTY_RESPONSE"
	CodeCanceled            Code = "CANCELED"
)

type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error carrying the same code, so wrapped instances
// compare equal to the package sentinels.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// CodeOf returns the code of the first *Error in err's chain.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

func Storage(op string, cause error) error {
	return Wrap(CodeStorage, op, cause)
}

var (
	ErrAlreadyQueued       = New(CodeAlreadyQueued, "conversation already holds a queue ticket")
	ErrUnauthorized        = New(CodeUnauthorized, "conversation is not authorized")
	ErrInputTooLarge       = New(CodeInputTooLarge, "message exceeds maximum length")
	ErrEmptyInput          = New(CodeEmptyInput, "message is empty")
	ErrUnsupportedFileType = New(CodeUnsupportedFileType, "only .txt files are supported")
	ErrNotFound            = New(CodeNotFound, "not found")
	ErrStorage             = New(CodeStorage, "storage failure")
	ErrBackendUnavailable  = New(CodeBackendUnavailable, "inference backend unreachable")
	ErrBackendError        = New(CodeBackendError, "inference backend error")
	ErrBackendTimeout      = New(CodeBackendTimeout, "inference backend timed out")
	ErrEmptyResponse       = New(CodeEmptyResponse, "inference backend returned no content")
	ErrCanceled            = New(CodeCanceled, "request canceled before it was served")
)
