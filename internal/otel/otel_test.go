package otel

import (
	"testing"

	"github.com/pbinitiative/zenflow/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestSetupOtelWithoutTracing(t *testing.T) {
	o, err := SetupOtel(config.Tracing{Name: "zenflow-test"})

	require.NoError(t, err)
	assert.NotNil(t, o.meterProvider)
	assert.Nil(t, o.tracerprovider)
	require.NotNil(t, o.Requests)
	o.Stop(t.Context())
	assert.Nil(t, o.meterProvider)
}

func TestRequestMetrics(t *testing.T) {
	// given
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewRequestMetrics(provider.Meter(requestMeter))
	require.NoError(t, err)

	// when
	m.RequestTotal.Add(t.Context(), 1)
	m.RequestUriTotal.Add(t.Context(), 2, metric.WithAttributes(attribute.String("path", "/v1/signals")))

	// then
	var data metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(t.Context(), &data))
	require.Len(t, data.ScopeMetrics, 1)
	names := map[string]int64{}
	for _, m := range data.ScopeMetrics[0].Metrics {
		if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
			names[m.Name] = sum.DataPoints[0].Value
		}
	}
	assert.Equal(t, map[string]int64{"request_total": 1, "request_uri_total": 2}, names)
}
