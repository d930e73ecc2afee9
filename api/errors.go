// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and error handling utilities for hioload-app.

package api

import (
	"errors"
	"fmt"
)

// Common errors used across the server.
var (
	ErrConnectionClosed  = errors.New("connection is closed")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrNotSupported      = errors.New("operation not supported")
	ErrNotFound          = errors.New("resource not found")
	ErrHandlerNotFound   = errors.New("handler not found")
	ErrNoBody            = errors.New("Request has no body")
	ErrInvalidUTF8       = errors.New("invalid UTF-8")
)

// ErrorCode represents specific error conditions in the server.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeInvalidArgument
	ErrCodeMalformedRequest
	ErrCodeHandshake
	ErrCodeHandler
	ErrCodeSerialization
	ErrCodeNotFound
	ErrCodeInternal
)

// String returns a short label suitable for log fields.
func (c ErrorCode) String() string {
	switch c {
	case ErrCodeOK:
		return "ok"
	case ErrCodeInvalidArgument:
		return "invalid_argument"
	case ErrCodeMalformedRequest:
		return "malformed_request"
	case ErrCodeHandshake:
		return "handshake"
	case ErrCodeHandler:
		return "handler"
	case ErrCodeSerialization:
		return "serialization"
	case ErrCodeNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// Error represents a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if len(e.Context) == 0 {
		return msg
	}
	return fmt.Sprintf("%s (context: %+v)", msg, e.Context)
}

// Unwrap exposes the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// WrapError creates a structured error around cause.
func WrapError(code ErrorCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Err: cause}
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// CodeOf extracts the ErrorCode carried by err, or ErrCodeInternal.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}
