// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tools defines the side-effecting actions the care agent can invoke
// during a call, their schemas, validation, and the registry that dispatches
// them.
//
// # Description
//
// A Tool is a value: a name, a flat parameter schema, and an Executor func.
// Validation is driven entirely by the schema, so executors receive only
// arguments whose required fields, primitive types and enum values have
// already been checked. Execution is bounded by the tool's timeout and
// always produces a Result, never a panic or a bare error.
//
// # Thread Safety
//
// Tool values are immutable after registration. Registry is safe for
// concurrent use.
package tools

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// Categories and Parameter Types
// =============================================================================

// Category groups tools by purpose.
type Category string

const (
	CategoryCallManagement Category = "call_management"
	CategoryInformation    Category = "information"
	CategoryHealth         Category = "health"
	CategoryScheduling     Category = "scheduling"
	CategoryNotification   Category = "notification"
)

// ParamType is the JSON schema type of a parameter.
type ParamType string

const (
	ParamTypeString  ParamType = "string"
	ParamTypeInteger ParamType = "integer"
	ParamTypeNumber  ParamType = "number"
	ParamTypeBoolean ParamType = "boolean"
	ParamTypeArray   ParamType = "array"
	ParamTypeObject  ParamType = "object"
)

// ParamDef describes one top-level parameter of a tool.
type ParamDef struct {
	// Name is the argument key.
	Name string `json:"name"`

	// Type is the expected JSON type.
	Type ParamType `json:"type"`

	// Description is shown to the model.
	Description string `json:"description"`

	// Required marks the parameter as mandatory.
	Required bool `json:"required,omitempty"`

	// Enum restricts string values to this set when non-empty.
	Enum []string `json:"enum,omitempty"`

	// Default is advertised in the schema. It is not injected into arguments.
	Default any `json:"default,omitempty"`

	// ItemType is the element type for array parameters.
	ItemType ParamType `json:"item_type,omitempty"`
}

// Executor performs a tool's side effect. Arguments have been validated
// against the tool's schema. The returned map becomes Result.Output.
type Executor func(ctx context.Context, args map[string]any) (map[string]any, error)

// Tool is a named, schema-described, timeout-bounded action.
type Tool struct {
	Name                 string
	Description          string
	Params               []ParamDef
	Category             Category
	Tags                 []string
	RequiresConfirmation bool

	// Timeout bounds a single execution. Zero means DefaultTimeout.
	Timeout time.Duration

	// Run is the executor. Required.
	Run Executor
}

// DefaultTimeout applies to tools registered without a timeout.
const DefaultTimeout = 30 * time.Second

// Required returns the names of required parameters in declaration order.
func (t *Tool) Required() []string {
	var out []string
	for _, p := range t.Params {
		if p.Required {
			out = append(out, p.Name)
		}
	}
	return out
}

func (t *Tool) timeout() time.Duration {
	if t.Timeout <= 0 {
		return DefaultTimeout
	}
	return t.Timeout
}

func (t *Tool) hasTag(tag string) bool {
	for _, x := range t.Tags {
		if x == tag {
			return true
		}
	}
	return false
}

// =============================================================================
// Results and Errors
// =============================================================================

// Result is the outcome of one tool execution. Every execution produces one.
type Result struct {
	ToolName  string         `json:"tool_name"`
	Success   bool           `json:"success"`
	Output    map[string]any `json:"output,omitempty"`
	Error     string         `json:"error,omitempty"`
	Duration  time.Duration  `json:"duration"`
	Timestamp time.Time      `json:"timestamp"`

	// Err carries the typed failure for errors.Is checks. Not serialized.
	Err error `json:"-"`
}

var (
	// ErrValidation indicates arguments did not match the tool schema.
	ErrValidation = errors.New("tool argument validation failed")

	// ErrTimeout indicates the executor exceeded the tool timeout.
	ErrTimeout = errors.New("tool execution timed out")

	// ErrExecution indicates the executor returned an error or panicked.
	ErrExecution = errors.New("tool execution failed")

	// ErrNotFound indicates no tool is registered under the name.
	ErrNotFound = errors.New("tool not found")

	// ErrCancelled indicates the caller cancelled the execution.
	ErrCancelled = errors.New("tool execution cancelled")
)

// ValidationError describes a single schema violation.
type ValidationError struct {
	// Parameter is the argument name that failed validation.
	Parameter string `json:"parameter"`

	// Message is the user-facing description.
	Message string `json:"message"`

	// Expected describes what was expected.
	Expected string `json:"expected,omitempty"`

	// Actual describes what was received.
	Actual string `json:"actual,omitempty"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return e.Message
}

// Unwrap lets errors.Is match ErrValidation.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func failed(name string, err error, started time.Time) *Result {
	return &Result{
		ToolName:  name,
		Success:   false,
		Error:     err.Error(),
		Err:       err,
		Duration:  time.Since(started),
		Timestamp: time.Now(),
	}
}

// toolError pairs a user-facing message with a sentinel kind.
type toolError struct {
	kind error
	msg  string
}

func (e *toolError) Error() string { return e.msg }
func (e *toolError) Unwrap() error { return e.kind }

func newToolError(kind error, format string, args ...any) error {
	return &toolError{kind: kind, msg: fmt.Sprintf(format, args...)}
}

func timeoutError(d time.Duration) error {
	return newToolError(ErrTimeout, "Execution timed out after %gs", d.Seconds())
}
