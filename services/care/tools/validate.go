// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"fmt"
	"math"
	"slices"
	"strings"
)

// Validate checks args against the tool schema.
//
// Description:
//
//	Checks, in parameter declaration order: every required field is
//	present, every present field has the declared primitive type, and every
//	enum-constrained string is one of the allowed values. Unknown fields are
//	ignored. Arguments decoded from JSON carry numbers as float64, so an
//	integral float64 satisfies "integer".
//
// Outputs:
//
//	error - *ValidationError for the first violation, nil if valid.
func (t *Tool) Validate(args map[string]any) error {
	for _, p := range t.Params {
		if !p.Required {
			continue
		}
		if v, ok := args[p.Name]; !ok || v == nil {
			return &ValidationError{
				Parameter: p.Name,
				Message:   "Missing required field: " + p.Name,
			}
		}
	}

	for _, p := range t.Params {
		v, ok := args[p.Name]
		if !ok || v == nil {
			continue
		}
		if !matchesType(p.Type, v) {
			got := jsonTypeOf(v)
			return &ValidationError{
				Parameter: p.Name,
				Message:   fmt.Sprintf("Field '%s' expected type '%s', got '%s'", p.Name, p.Type, got),
				Expected:  string(p.Type),
				Actual:    got,
			}
		}
		if len(p.Enum) > 0 {
			s, _ := v.(string)
			if !slices.Contains(p.Enum, s) {
				return &ValidationError{
					Parameter: p.Name,
					Message: fmt.Sprintf("Field '%s' must be one of [%s], got '%s'",
						p.Name, strings.Join(p.Enum, ", "), s),
					Expected: strings.Join(p.Enum, "|"),
					Actual:   s,
				}
			}
		}
	}
	return nil
}

func matchesType(want ParamType, v any) bool {
	switch want {
	case ParamTypeString:
		_, ok := v.(string)
		return ok
	case ParamTypeInteger:
		return isInteger(v)
	case ParamTypeNumber:
		return isNumber(v)
	case ParamTypeBoolean:
		_, ok := v.(bool)
		return ok
	case ParamTypeArray:
		switch v.(type) {
		case []any, []string, []int, []float64, []map[string]any:
			return true
		}
		return false
	case ParamTypeObject:
		_, ok := v.(map[string]any)
		return ok
	default:
		return true
	}
}

func isInteger(v any) bool {
	switch n := v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	case float64:
		return !math.IsInf(n, 0) && n == math.Trunc(n)
	case float32:
		return float64(n) == math.Trunc(float64(n))
	default:
		return false
	}
}

func isNumber(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	default:
		return false
	}
}

// jsonTypeOf names a Go value by its JSON type for error messages.
func jsonTypeOf(v any) string {
	switch n := v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64:
		if n == math.Trunc(n) {
			return "integer"
		}
		return "number"
	case float32:
		return "number"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return "integer"
	case []any, []string, []int, []float64, []map[string]any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// IntArg reads an integer argument, accepting JSON float64 values.
func IntArg(args map[string]any, name string) (int64, bool) {
	switch n := args[name].(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), n == math.Trunc(n)
	default:
		return 0, false
	}
}

// StringArg reads a string argument, returning def when absent.
func StringArg(args map[string]any, name, def string) string {
	if s, ok := args[name].(string); ok {
		return s
	}
	return def
}

// BoolArg reads a boolean argument, returning def when absent.
func BoolArg(args map[string]any, name string, def bool) bool {
	if b, ok := args[name].(bool); ok {
		return b
	}
	return def
}

// StringsArg reads a string array argument. Non-string elements are skipped.
func StringsArg(args map[string]any, name string) []string {
	switch v := args[name].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, x := range v {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return []string{}
	}
}
