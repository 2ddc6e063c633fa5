// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package evaluator

import (
	"context"
	"fmt"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// QualityMeasurement is the InfluxDB measurement evaluations are written to.
const QualityMeasurement = "reply_evaluations"

// DefaultInfluxWriteTimeout bounds one quality point write.
const DefaultInfluxWriteTimeout = 2 * time.Second

// InfluxConfig locates the InfluxDB bucket.
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string

	// WriteTimeout bounds each write so a slow InfluxDB cannot stall
	// reflection. Default: DefaultInfluxWriteTimeout.
	WriteTimeout time.Duration
}

type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// InfluxSink writes one point per evaluation.
type InfluxSink struct {
	client influxdb2.Client
	writer  pointWriter
	now     func() time.Time
	timeout time.Duration
}

// NewInfluxSink connects a blocking writer to the configured bucket.
func NewInfluxSink(cfg InfluxConfig) (*InfluxSink, error) {
	if cfg.URL == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("influx sink requires url and bucket")
	}
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = DefaultInfluxWriteTimeout
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &InfluxSink{
		client:  client,
		writer:  client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		now:     time.Now,
		timeout: timeout,
	}, nil
}

// Record implements QualitySink. The write is bounded by the sink's write
// timeout.
func (s *InfluxSink) Record(ctx context.Context, conversationID string, r *EvaluationResult) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	if err := s.writer.WritePoint(ctx, s.point(conversationID, r)); err != nil {
		return fmt.Errorf("failed to write evaluation point: %w", err)
	}
	return nil
}

func (s *InfluxSink) point(conversationID string, r *EvaluationResult) *write.Point {
	p := influxdb2.NewPointWithMeasurement(QualityMeasurement).
		AddTag("conversation_id", conversationID).
		AddTag("fallback_used", strconv.FormatBool(r.FallbackUsed)).
		AddTag("should_retry", strconv.FormatBool(r.ShouldRetry)).
		AddField("overall_score", r.OverallScore).
		AddField("urgent_flags", len(r.UrgentFlags)).
		SetTime(s.now())
	for _, d := range Dimensions {
		p.AddField(string(d), r.Score(d).Score)
	}
	return p
}

// Close releases the client.
func (s *InfluxSink) Close() {
	if s.client != nil {
		s.client.Close()
	}
}
