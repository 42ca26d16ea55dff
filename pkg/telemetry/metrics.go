// Copyright 2026 © The Telos Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// EngineMetrics tracks invocation outcomes, tool attempts and model latency
// for production monitoring.
type EngineMetrics struct {
	invocationCounter metric.Int64Counter
	toolCounter       metric.Int64Counter
	modelLatency      metric.Float64Histogram
}

// NewEngineMetrics creates the engine meters on the global meter provider.
func NewEngineMetrics() (*EngineMetrics, error) {
	meter := otel.Meter("telos/engine")

	invocationCounter, err := meter.Int64Counter(
		"telos.invocations.total",
		metric.WithDescription("Completed invocations by skill and terminal event type"),
	)
	if err != nil {
		return nil, err
	}

	toolCounter, err := meter.Int64Counter(
		"telos.tool.attempts",
		metric.WithDescription("Tool execution attempts by tool and status"),
	)
	if err != nil {
		return nil, err
	}

	modelLatency, err := meter.Float64Histogram(
		"telos.model.latency",
		metric.WithDescription("Model call latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &EngineMetrics{
		invocationCounter: invocationCounter,
		toolCounter:       toolCounter,
		modelLatency:      modelLatency,
	}, nil
}

// RecordInvocation counts one finished invocation. Terminal is the type of
// the closing event, "final" or "error".
func (m *EngineMetrics) RecordInvocation(ctx context.Context, skill, terminal string) {
	if m == nil {
		return
	}
	m.invocationCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("skill", skill),
			attribute.String("terminal", terminal),
		),
	)
}

// RecordToolAttempt counts one tool attempt with its outcome status.
func (m *EngineMetrics) RecordToolAttempt(ctx context.Context, tool, status string) {
	if m == nil {
		return
	}
	m.toolCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordModelLatency records one model call duration.
func (m *EngineMetrics) RecordModelLatency(ctx context.Context, model string, d time.Duration) {
	if m == nil {
		return
	}
	m.modelLatency.Record(ctx, float64(d.Milliseconds()),
		metric.WithAttributes(
			attribute.String("model", model),
		),
	)
}
