// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and error handling utilities for hioload-httpd.

package api

import (
	"errors"
	"fmt"
)

// Common errors used across the server.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrQueueFull       = errors.New("work queue is full")
	ErrPoolClosed      = errors.New("thread pool is closed")
	ErrServerBusy      = errors.New("server busy")
	ErrServerClosed    = errors.New("server closed")
	ErrNotOwner        = errors.New("connection not owned by caller")
	ErrNotSupported    = errors.New("operation not supported")
)

// ErrorCode represents specific error conditions in the server.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeInvalidArgument
	ErrCodeResourceExhausted
	ErrCodeNotSupported
	ErrCodeInternal
)

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
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if len(e.Context) == 0 {
		return msg
	}
	return fmt.Sprintf("%s (context: %+v)", msg, e.Context)
}

// Unwrap exposes the wrapped cause to errors.Is / errors.As.
func (e *Error) Unwrap() error { return e.Err }

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// Wrap attaches a cause to the error.
func (e *Error) Wrap(err error) *Error {
	e.Err = err
	return e
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}
