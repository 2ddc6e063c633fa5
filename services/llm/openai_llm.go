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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/awnumar/memguard"
	"github.com/sashabaranov/go-openai"
)

// DefaultOpenAIModel is used when neither the config nor the request names one.
const DefaultOpenAIModel = "gpt-4o"

// OpenAIConfig configures OpenAIProvider.
type OpenAIConfig struct {
	// APIKey is the sealed key. Required.
	APIKey *memguard.Enclave

	// Model is the default model. Default: DefaultOpenAIModel.
	Model string

	// BaseURL overrides the API endpoint (proxies, tests).
	BaseURL string

	// Timeout bounds one HTTP exchange. Default: 120s.
	Timeout time.Duration

	Logger *slog.Logger
}

// OpenAIProvider implements Provider on the OpenAI chat completions API.
type OpenAIProvider struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// NewOpenAIProvider creates a provider.
//
// # Description
//
// The API key stays sealed in its enclave. It is opened only inside the HTTP
// transport for the duration of each request and the plaintext buffer is
// destroyed immediately afterwards.
//
// # Outputs
//
//   - *OpenAIProvider: Ready provider.
//   - error: Non-nil if the key is missing.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == nil {
		return nil, errors.New("openai: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	clientCfg := openai.DefaultConfig("")
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{
		Timeout:   cfg.Timeout,
		Transport: &sealedKeyTransport{key: cfg.APIKey, base: http.DefaultTransport},
	}

	cfg.Logger.Info("Initializing OpenAI provider", slog.String("model", cfg.Model))
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		logger: cfg.Logger,
	}, nil
}

// sealedKeyTransport injects the bearer token from a memguard enclave.
type sealedKeyTransport struct {
	key  *memguard.Enclave
	base http.RoundTripper
}

func (t *sealedKeyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	buf, err := t.key.Open()
	if err != nil {
		return nil, fmt.Errorf("open api key enclave: %w", err)
	}
	r := req.Clone(req.Context())
	r.Header.Set("Authorization", "Bearer "+buf.String())
	buf.Destroy()
	return t.base.RoundTrip(r)
}

func (p *OpenAIProvider) buildRequest(req *Request) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = p.model
	}
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		role := openai.ChatMessageRoleUser
		if m.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	out := openai.ChatCompletionRequest{
		Model:               model,
		Messages:            msgs,
		MaxCompletionTokens: req.MaxTokens,
		Temperature:         req.Temperature,
	}
	for _, t := range req.Tools {
		out.Tools = append(out.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

// Complete implements Provider.
func (p *OpenAIProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	oreq := p.buildRequest(req)
	p.logger.Debug("OpenAI completion", slog.String("model", oreq.Model))

	resp, err := p.client.CreateChatCompletion(ctx, oreq)
	if err != nil {
		return nil, wrapOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &ProviderError{Provider: "openai", Message: "no choices returned"}
	}

	choice := resp.Choices[0]
	out := &Response{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Model:        resp.Model,
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	for i, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			Index:     i,
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out, nil
}

// Stream implements Provider.
//
// # Description
//
// Opens a server-sent-events stream and forwards deltas on the returned
// channel. The producer goroutine selects on ctx.Done for every send, so a
// consumer that stops reading and cancels ctx never leaks the goroutine.
func (p *OpenAIProvider) Stream(ctx context.Context, req *Request) (<-chan StreamEvent, error) {
	oreq := p.buildRequest(req)
	stream, err := p.client.CreateChatCompletionStream(ctx, oreq)
	if err != nil {
		return nil, wrapOpenAIError(err)
	}

	events := make(chan StreamEvent, 16)
	go func() {
		defer close(events)
		defer stream.Close()

		send := func(ev StreamEvent) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		finish := ""
		var usage *Usage
		for {
			chunk, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				send(StreamEvent{Type: EventEnd, FinishReason: finish, Usage: usage})
				return
			}
			if err != nil {
				send(StreamEvent{Type: EventError, Err: wrapOpenAIError(err)})
				return
			}
			if chunk.Usage != nil {
				usage = &Usage{InputTokens: chunk.Usage.PromptTokens, OutputTokens: chunk.Usage.CompletionTokens}
			}
			if len(chunk.Choices) == 0 {
				continue
			}

			choice := chunk.Choices[0]
			if choice.FinishReason != "" {
				finish = string(choice.FinishReason)
			}
			if choice.Delta.Content != "" {
				if !send(StreamEvent{Type: EventTextDelta, Text: choice.Delta.Content}) {
					return
				}
			}
			for i, tc := range choice.Delta.ToolCalls {
				idx := i
				if tc.Index != nil {
					idx = *tc.Index
				}
				frag := &ToolCallFragment{
					Index:     idx,
					ID:        tc.ID,
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				}
				if !send(StreamEvent{Type: EventToolCallFragment, ToolCall: frag}) {
					return
				}
			}
		}
	}()
	return events, nil
}
