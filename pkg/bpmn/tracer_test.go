// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"testing"

	"github.com/pbinitiative/zenflow/pkg/bpmn/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestTracer(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tracerprovider := trace.NewTracerProvider(
		trace.WithBatcher(
			exporter,
			trace.WithBatchTimeout(0),
		),
	)
	engine := newTestEngine(t, WithTracerProvider(tracerprovider))
	engine.load(t, "link-events.yaml")

	ctx, parent := tracerprovider.Tracer("test-tracer").Start(t.Context(), "parent-test-span")

	instance, err := engine.StartProcessInstance(ctx, "link-events", nil)
	require.NoError(t, err)
	assert.Equal(t, runtime.ProcessInstanceCompleted, instance.State)

	parent.End()

	require.NoError(t, tracerprovider.ForceFlush(ctx))
	spans := exporter.GetSpans()
	var names []string
	for _, span := range spans {
		names = append(names, span.Name)
		if span.SpanContext.TraceID() == parent.SpanContext().TraceID() && !span.Parent.IsValid() {
			continue
		}
		assert.Equal(t, parent.SpanContext().TraceID(), span.Parent.TraceID())
	}
	assert.Contains(t, names, "start-instance:link-events")
	assert.Contains(t, names, "START_EVENT:start")
	assert.Contains(t, names, "INTERMEDIATE_THROW_EVENT:jumpAway")
	assert.Contains(t, names, "END_EVENT:end")
	assert.Len(t, spans, 6)
}

func TestMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	meterProvider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	engine := newTestEngine(t, WithMeterProvider(meterProvider))
	engine.load(t, "implicit-end.yaml", "uncaught-error.yaml")

	engine.start(t, "implicit-end", nil)
	engine.start(t, "implicit-end", nil)
	engine.start(t, "uncaught-error", nil)

	var data metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(t.Context(), &data))
	totals := map[string]int64{}
	for _, scope := range data.ScopeMetrics {
		for _, m := range scope.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, point := range sum.DataPoints {
				totals[m.Name] += point.Value
			}
		}
	}
	assert.Equal(t, int64(3), totals["processes_started"])
	assert.Equal(t, int64(2), totals["processes_completed"])
	assert.Equal(t, int64(1), totals["processes_aborted"])
	assert.Equal(t, int64(1), totals["incidents"])
	assert.Equal(t, int64(0), totals["processes_running"])
}
