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
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimitedProvider throttles calls to an inner Provider with a token
// bucket. Waiting honors ctx; a wait that cannot complete before the
// context deadline fails with an error matching ErrRateLimited.
type RateLimitedProvider struct {
	inner   Provider
	limiter *rate.Limiter
}

// NewRateLimitedProvider wraps inner with rps requests per second and the
// given burst. rps <= 0 disables limiting.
func NewRateLimitedProvider(inner Provider, rps float64, burst int) *RateLimitedProvider {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedProvider{inner: inner, limiter: rate.NewLimiter(limit, burst)}
}

func (p *RateLimitedProvider) wait(ctx context.Context) error {
	if err := p.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	}
	return nil
}

// Complete implements Provider.
func (p *RateLimitedProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	return p.inner.Complete(ctx, req)
}

// Stream implements Provider.
func (p *RateLimitedProvider) Stream(ctx context.Context, req *Request) (<-chan StreamEvent, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	return p.inner.Stream(ctx, req)
}
