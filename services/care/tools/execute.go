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
	"context"
	"errors"
	"fmt"
	"time"
)

type runOutcome struct {
	output map[string]any
	err    error
}

// Execute validates args and runs the tool under its timeout.
//
// # Description
//
// Validation failures, executor errors, panics, timeouts and caller
// cancellation all produce a failed Result. A context that is already done
// never reaches the executor. The executor runs in its own
// goroutine so a blocked executor cannot hold the caller past the timeout;
// the executor still receives the derived context and should return when
// it is done.
//
// # Inputs
//
//   - ctx: Parent context. Cancelling it fails the execution with ErrCancelled.
//   - args: Decoded tool arguments.
//
// # Outputs
//
//   - *Result: Always non-nil. Duration is always populated.
func (t *Tool) Execute(ctx context.Context, args map[string]any) *Result {
	started := time.Now()
	if args == nil {
		args = map[string]any{}
	}

	if err := t.Validate(args); err != nil {
		return failed(t.Name, err, started)
	}
	if t.Run == nil {
		return failed(t.Name, newToolError(ErrExecution, "Tool '%s' has no executor", t.Name), started)
	}

	if ctx.Err() != nil {
		return failed(t.Name, newToolError(ErrCancelled, "Execution cancelled"), started)
	}

	timeout := t.timeout()
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan runOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- runOutcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		out, err := t.Run(runCtx, args)
		done <- runOutcome{output: out, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			if errors.Is(res.err, context.DeadlineExceeded) && ctx.Err() == nil {
				return failed(t.Name, timeoutError(timeout), started)
			}
			return failed(t.Name, &toolError{kind: ErrExecution, msg: res.err.Error()}, started)
		}
		if res.output == nil {
			res.output = map[string]any{}
		}
		return &Result{
			ToolName:  t.Name,
			Success:   true,
			Output:    res.output,
			Duration:  time.Since(started),
			Timestamp: time.Now(),
		}
	case <-runCtx.Done():
		if ctx.Err() != nil {
			return failed(t.Name, newToolError(ErrCancelled, "Execution cancelled"), started)
		}
		return failed(t.Name, timeoutError(timeout), started)
	}
}
