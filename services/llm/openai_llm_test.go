// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/awnumar/memguard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *OpenAIProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	p, err := NewOpenAIProvider(OpenAIConfig{
		APIKey:  memguard.NewEnclave([]byte("sk-test")),
		BaseURL: server.URL + "/v1",
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)
	return p
}

func writeSSE(w http.ResponseWriter, chunks ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, c := range chunks {
		fmt.Fprintf(w, "data: %s\n\n", c)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
}

func collect(t *testing.T, ch <-chan StreamEvent) []StreamEvent {
	t.Helper()
	var out []StreamEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("stream did not close")
		}
	}
}

func TestNewOpenAIProvider_RequiresKey(t *testing.T) {
	_, err := NewOpenAIProvider(OpenAIConfig{})
	assert.Error(t, err)
}

func TestOpenAIProvider_Complete(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"x","model":"gpt-4o-mini","choices":[{"index":0,"finish_reason":"stop",
			"message":{"role":"assistant","content":"{\"ok\":true}"}}],
			"usage":{"prompt_tokens":11,"completion_tokens":3}}`)
	})

	resp, err := p.Complete(context.Background(), &Request{
		Model:        "gpt-4o-mini",
		SystemPrompt: "평가자",
		Messages:     []Message{{Role: RoleUser, Content: "안녕하세요"}},
		MaxTokens:    1024,
		Temperature:  0.3,
	})

	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 11, resp.Usage.InputTokens)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "gpt-4o-mini", gotBody["model"])
	msgs := gotBody["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
}

func TestOpenAIProvider_Stream_TextAndToolCalls(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w,
			`{"id":"1","choices":[{"index":0,"delta":{"role":"assistant","content":"안녕"}}]}`,
			`{"id":"1","choices":[{"index":0,"delta":{"content":"하세요"}}]}`,
			`{"id":"1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"end_call","arguments":"{\"rea"}}]}}]}`,
			`{"id":"1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"son\":\"completed\"}"}}]}}]}`,
			`{"id":"1","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
		)
	})

	ch, err := p.Stream(context.Background(), &Request{
		Messages: []Message{{Role: RoleUser, Content: "이만 끊을게요"}},
		Tools:    []ToolSpec{{Name: "end_call", Parameters: map[string]any{"type": "object"}}},
	})
	require.NoError(t, err)
	events := collect(t, ch)

	var text strings.Builder
	acc := NewToolCallAccumulator()
	for _, ev := range events {
		switch ev.Type {
		case EventTextDelta:
			text.WriteString(ev.Text)
		case EventToolCallFragment:
			acc.Add(*ev.ToolCall)
		}
	}

	assert.Equal(t, "안녕하세요", text.String())
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, EventEnd, last.Type)
	assert.Equal(t, "tool_calls", last.FinishReason)

	calls := acc.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "end_call", calls[0].Name)
	assert.Equal(t, "call_1", calls[0].ID)
	assert.JSONEq(t, `{"reason":"completed"}`, calls[0].Arguments)
}

func TestOpenAIProvider_RateLimitError(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"slow down","type":"rate_limit_error"}}`)
	})

	_, err := p.Stream(context.Background(), &Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})

	require.Error(t, err)
	assert.True(t, IsRateLimit(err))
	assert.True(t, IsRetryable(err))
	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, http.StatusTooManyRequests, pe.StatusCode)
}

func TestOpenAIProvider_ServerErrorNotRateLimit(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"bad","type":"invalid_request_error"}}`)
	})

	_, err := p.Complete(context.Background(), &Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})

	require.Error(t, err)
	assert.False(t, IsRateLimit(err))
	assert.False(t, IsRetryable(err))
}

func TestOpenAIProvider_StreamCancellation(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for i := 0; i < 1000; i++ {
			select {
			case <-r.Context().Done():
				return
			case <-release:
				return
			default:
			}
			fmt.Fprintf(w, "data: %s\n\n", `{"id":"1","choices":[{"index":0,"delta":{"content":"x"}}]}`)
			w.(http.Flusher).Flush()
			time.Sleep(5 * time.Millisecond)
		}
	}))
	defer server.Close()
	defer close(release)

	p, err := NewOpenAIProvider(OpenAIConfig{
		APIKey:  memguard.NewEnclave([]byte("sk-test")),
		BaseURL: server.URL + "/v1",
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := p.Stream(ctx, &Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	require.NoError(t, err)

	<-ch
	cancel()

	done := make(chan struct{})
	go func() {
		for range ch {
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("stream producer did not stop after cancellation")
	}
}

func TestToolCallAccumulator(t *testing.T) {
	acc := NewToolCallAccumulator()
	acc.Add(ToolCallFragment{Index: 1, ID: "b", Name: "notify_caregiver", Arguments: `{"x":`})
	acc.Add(ToolCallFragment{Index: 0, ID: "a", Name: "check_health_status", Arguments: `{}`})
	acc.Add(ToolCallFragment{Index: 1, Arguments: `1}`})
	acc.Add(ToolCallFragment{Index: 2, Arguments: `orphan`})

	calls := acc.Calls()

	assert.Equal(t, 3, acc.Len())
	require.Len(t, calls, 2)
	assert.Equal(t, "check_health_status", calls[0].Name)
	assert.Equal(t, "notify_caregiver", calls[1].Name)
	assert.Equal(t, `{"x":1}`, calls[1].Arguments)
}

type countingProvider struct{ n atomic.Int32 }

func (c *countingProvider) Complete(context.Context, *Request) (*Response, error) {
	c.n.Add(1)
	return &Response{Content: "ok"}, nil
}

func (c *countingProvider) Stream(context.Context, *Request) (<-chan StreamEvent, error) {
	c.n.Add(1)
	ch := make(chan StreamEvent, 1)
	ch <- StreamEvent{Type: EventEnd}
	close(ch)
	return ch, nil
}

func TestRateLimitedProvider(t *testing.T) {
	inner := &countingProvider{}
	p := NewRateLimitedProvider(inner, 1, 1)

	_, err := p.Complete(context.Background(), &Request{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = p.Stream(ctx, &Request{})

	require.Error(t, err)
	assert.True(t, IsRateLimit(err))
	assert.Equal(t, int32(1), inner.n.Load())
}

func TestRateLimitedProvider_Unlimited(t *testing.T) {
	inner := &countingProvider{}
	p := NewRateLimitedProvider(inner, 0, 0)
	for i := 0; i < 10; i++ {
		_, err := p.Complete(context.Background(), &Request{})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(10), inner.n.Load())
}

func TestLoadAPIKey(t *testing.T) {
	t.Setenv("CARE_TEST_KEY", "")
	path := filepath.Join(t.TempDir(), "key")
	require.NoError(t, os.WriteFile(path, []byte("sk-from-file\n"), 0600))

	enclave, err := LoadAPIKey("CARE_TEST_KEY", path)
	require.NoError(t, err)
	buf, err := enclave.Open()
	require.NoError(t, err)
	assert.Equal(t, "sk-from-file", buf.String())
	buf.Destroy()

	t.Setenv("CARE_TEST_KEY", "sk-env")
	enclave, err = LoadAPIKey("CARE_TEST_KEY", path)
	require.NoError(t, err)
	buf, err = enclave.Open()
	require.NoError(t, err)
	assert.Equal(t, "sk-env", buf.String())
	buf.Destroy()

	t.Setenv("CARE_TEST_KEY", "")
	_, err = LoadAPIKey("CARE_TEST_KEY", filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, ErrNoAPIKey)
}
