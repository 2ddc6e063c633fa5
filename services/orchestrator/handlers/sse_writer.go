// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Event Types
// =============================================================================

// SSE event types emitted by the turn stream.
const (
	SSEEventFragment = "fragment"
	SSEEventDone     = "done"
	SSEEventError    = "error"
)

// TurnEvent is the JSON payload of one SSE event.
type TurnEvent struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	CreatedAt       int64  `json:"created_at"`
	ResponseID      string `json:"response_id,omitempty"`
	Content         string `json:"content,omitempty"`
	CallEndDetected bool   `json:"call_end_detected,omitempty"`
	Error           string `json:"error,omitempty"`
}

// =============================================================================
// Interface Definition
// =============================================================================

// SSEWriter writes Server-Sent Events for a single reply.
//
// # Description
//
// Each write is serialized as "event: <type>\ndata: <json>\n\n" and flushed
// immediately so fragments reach the client as they are produced.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type SSEWriter interface {
	// WriteEvent fills ID and CreatedAt, then writes and flushes event.
	WriteEvent(event TurnEvent) error

	// WriteFragment writes one reply fragment.
	WriteFragment(responseID, content string) error

	// WriteDone writes the final event carrying the cleaned reply.
	WriteDone(responseID, content string, callEnd bool) error

	// WriteError writes a terminal error event.
	WriteError(responseID, message string) error

	// WriteKeepAlive writes an SSE comment that clients ignore.
	WriteKeepAlive() error
}

// =============================================================================
// Implementation
// =============================================================================

type sseWriter struct {
	mu      sync.Mutex
	writer  http.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter wraps w for event streaming.
//
// # Outputs
//
//   - SSEWriter: Ready writer.
//   - error: Non-nil if w does not implement http.Flusher.
//
// # Assumptions
//
//   - Caller has set SSE headers via SetSSEHeaders()
func NewSSEWriter(w http.ResponseWriter) (SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &sseWriter{writer: w, flusher: flusher}, nil
}

func (w *sseWriter) WriteEvent(event TurnEvent) error {
	event.ID = uuid.NewString()
	event.CreatedAt = time.Now().UnixMilli()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := fmt.Fprintf(w.writer, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	w.flusher.Flush()
	return nil
}

func (w *sseWriter) WriteFragment(responseID, content string) error {
	return w.WriteEvent(TurnEvent{Type: SSEEventFragment, ResponseID: responseID, Content: content})
}

func (w *sseWriter) WriteDone(responseID, content string, callEnd bool) error {
	return w.WriteEvent(TurnEvent{
		Type:            SSEEventDone,
		ResponseID:      responseID,
		Content:         content,
		CallEndDetected: callEnd,
	})
}

func (w *sseWriter) WriteError(responseID, message string) error {
	return w.WriteEvent(TurnEvent{Type: SSEEventError, ResponseID: responseID, Error: message})
}

func (w *sseWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := fmt.Fprint(w.writer, ": keepalive\n\n"); err != nil {
		return fmt.Errorf("failed to write keepalive: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// SetSSEHeaders sets the headers for an event stream.
//
// # Limitations
//
//   - Must be called before any writes to ResponseWriter.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

var _ SSEWriter = (*sseWriter)(nil)
