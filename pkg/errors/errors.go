// Copyright 2026 © The Telos Authors
// SPDX-License-Identifier: Apache-2.0

// Package errors provides the typed error taxonomy for telos. Recoverable
// errors are converted to tool_result payloads by the engine; fatal ones
// terminate the invocation with a single error event.
package errors

import (
	"encoding/json"
	"fmt"
)

// ErrorCode classifies telos errors for monitoring and recovery.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeInvalidInput indicates malformed tool arguments or request input.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeUnauthorized indicates an RBAC denial.
	CodeUnauthorized ErrorCode = "UNAUTHORIZED"

	// CodeTimeout indicates a tool attempt exceeded its deadline.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeToolFailure indicates a tool execution failed after retry exhaustion.
	CodeToolFailure ErrorCode = "TOOL_FAILURE"

	// CodeNotFound indicates a resource (tool, session) was not found.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeLLMError indicates a model-client failure.
	CodeLLMError ErrorCode = "LLM_ERROR"

	// CodeSchemaError indicates the skill's required output shape was violated.
	CodeSchemaError ErrorCode = "SCHEMA_ERROR"

	// CodeIterationLimit indicates the iteration budget was exhausted.
	CodeIterationLimit ErrorCode = "ITERATION_LIMIT"
)

// Error is a typed error with context for observability. It implements the
// error interface and supports errors.As/errors.Is via Unwrap.
type Error struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]any
	Recoverable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging and for
// embedding errors in tool_result payloads.
func (e *Error) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"code":        string(e.Code),
		"message":     e.Message,
		"recoverable": e.Recoverable,
	}
	if e.Err != nil {
		out["cause"] = e.Err.Error()
	}
	for k, v := range e.Context {
		out[k] = v
	}
	return json.Marshal(out)
}

// New creates a new Error with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: msg,
		Err:     cause,
		Context: make(map[string]any),
	}
}

// WithContext adds a key-value pair to the error context and returns the
// error for chaining.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
func (e *Error) WithRecoverable(recoverable bool) *Error {
	e.Recoverable = recoverable
	return e
}

// As attempts to convert err to an *Error. Unknown errors are wrapped as
// CodeInternal.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	if te, ok := err.(*Error); ok {
		return te
	}
	return New(CodeInternal, "wrapped error", err)
}

// IsRecoverable reports whether err is a recoverable telos error. Untyped
// errors are considered recoverable so that transient tool failures retry.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	if te, ok := err.(*Error); ok {
		return te.Recoverable
	}
	return true
}
